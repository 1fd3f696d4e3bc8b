package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"chatsync/internal/infrastructure/storage"
)

var timelinesCmd = &cobra.Command{
	Use:   "timelines",
	Short: "List conversations cached in the local timeline store",
	RunE:  runTimelines,
}

func init() {
	timelinesCmd.Flags().String("store", "", "store directory (default from CHATSYNC_STORE_PATH)")
	rootCmd.AddCommand(timelinesCmd)
}

func runTimelines(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if v, _ := cmd.Flags().GetString("store"); v != "" {
		cfg.StorePath = v
	}
	if cfg.StorePath == "" {
		return fmt.Errorf("no store path configured (--store or CHATSYNC_STORE_PATH)")
	}

	store, err := storage.NewPebbleStore(cfg.StorePath)
	if err != nil {
		return fmt.Errorf("failed to open timeline store: %w", err)
	}
	defer store.Close()

	ids, err := store.ConversationIDs()
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no cached conversations")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "CONVERSATION\tPARTICIPANTS\tMESSAGES\tUNREAD\tLAST ACTIVITY")
	for _, id := range ids {
		conv, err := store.LoadConversation(context.Background(), id)
		if err != nil {
			fmt.Fprintf(w, "%s\t-\t-\t-\t%v\n", id, err)
			continue
		}
		last := "never"
		if !conv.LastMessageAt.IsZero() {
			last = humanize.Time(conv.LastMessageAt)
		}
		fmt.Fprintf(w, "%s\t%v\t%s\t%d\t%s\n", conv.ID, conv.ParticipantIDs,
			humanize.Comma(int64(len(conv.Messages))), conv.UnreadCount, last)
	}
	return w.Flush()
}
