package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/blacktop/pagecast/internal/config"
	"github.com/blacktop/pagecast/internal/seen"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"
)

var seenChannel string

func newSeenCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seen",
		Short: "Inspect and seed the mirrored item store",
	}
	cmd.PersistentFlags().StringVar(&seenChannel, "channel", "insta", "Sync channel the ids belong to")

	cmd.AddCommand(&cobra.Command{
		Use:   "import <file>",
		Short: "Mark every id in a newline separated file as already mirrored",
		Args:  cobra.ExactArgs(1),
		RunE:  runSeenImport,
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List the ids already mirrored",
		Args:  cobra.NoArgs,
		RunE:  runSeenList,
	})
	return cmd
}

func openSeen() (*seen.Store, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if ch, ok := cfg.Channel(seenChannel); !ok || ch.Kind != config.KindSync {
		return nil, fmt.Errorf("%q is not a sync channel", seenChannel)
	}
	return seen.Open(cfg.SeenDB)
}

func runSeenImport(cmd *cobra.Command, args []string) error {
	store, err := openSeen()
	if err != nil {
		return err
	}
	defer store.Close()

	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	added, err := store.Import(cmd.Context(), seenChannel, f)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "imported %d new ids into %s\n", added, seenChannel)
	return nil
}

func runSeenList(cmd *cobra.Command, _ []string) error {
	store, err := openSeen()
	if err != nil {
		return err
	}
	defer store.Close()

	entries, err := store.List(cmd.Context(), seenChannel)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "no items mirrored for %s\n", seenChannel)
		return nil
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("ITEM", "SEEN AT")
	for _, e := range entries {
		t.Row(e.ID, e.SeenAt.Local().Format(time.DateTime))
	}
	fmt.Fprintln(cmd.OutOrStdout(), t)
	return nil
}
