package cmd

import (
	"fmt"
	"strconv"

	"github.com/blacktop/pagecast/internal/config"
	"github.com/blacktop/pagecast/internal/queue"
	"github.com/blacktop/pagecast/internal/scheduler"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"
)

func newQueueCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect post queues",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list <channel>",
		Short: "List a queue channel's posts",
		Args:  cobra.ExactArgs(1),
		RunE:  runQueueList,
	})
	return cmd
}

func runQueueList(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	ch, ok := cfg.Channel(args[0])
	if !ok || ch.Kind != config.KindQueue {
		return fmt.Errorf("%q is not a queue channel", args[0])
	}

	posts, err := queue.Open(ch.Queue).List()
	if err != nil {
		return err
	}
	if len(posts) == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "%s has no posts (%s)\n", ch.Name, ch.Queue)
		return nil
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("#", "IMAGE", "MESSAGE")
	for i, p := range posts {
		t.Row(strconv.Itoa(i), p.Image, scheduler.Summarize(p.Message))
	}
	fmt.Fprintln(cmd.OutOrStdout(), t)
	return nil
}
