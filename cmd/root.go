/*
Copyright © 2025 blacktop

Permission is hereby granted, free of charge, to any person obtaining a copy
of this software and associated documentation files (the "Software"), to deal
in the Software without restriction, including without limitation the rights
to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
copies of the Software, and to permit persons to whom the Software is
furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in
all copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
THE SOFTWARE.
*/
package cmd

import (
	"github.com/blacktop/pagecast/internal/config"
	"github.com/blacktop/pagecast/internal/logutil"
	"github.com/spf13/cobra"
)

var (
	configPath string
	verbose    bool
)

// Execute runs the root command.
func Execute() error {
	return newRootCommand().Execute()
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pagecast",
		Short: "Scheduled Facebook Page posting and Instagram mirroring",
		Long: "pagecast publishes queued photo posts to Facebook Pages on a schedule, " +
			"mirrors new page photos to Instagram, and serves an admin API to manage it all.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			logutil.SetVerbose(verbose)
		},
		Example: `  pagecast serve --config pagecast.yaml
  pagecast post --channel tour --image images/milford.jpg "Milford Sound at dawn"
  pagecast seen import posted.txt --channel insta`,
	}

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultConfigFile, "Path to the config file")
	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "V", false, "Enable debug logging")

	cmd.AddCommand(
		newServeCommand(),
		newPostCommand(),
		newSeenCommand(),
		newQueueCommand(),
	)

	return cmd
}
