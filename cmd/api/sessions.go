package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var sessionOwner string

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect and delete stored chat sessions",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List an owner's sessions, most recent first",
	Args:  cobra.NoArgs,
	RunE:  listSessions,
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <session-id>",
	Short: "Delete one of an owner's sessions",
	Args:  cobra.ExactArgs(1),
	RunE:  deleteSession,
}

func init() {
	sessionsCmd.PersistentFlags().StringVar(&sessionOwner, "owner", "", "owner id the sessions belong to")
	_ = sessionsCmd.MarkPersistentFlagRequired("owner")
	sessionsCmd.AddCommand(sessionsListCmd, sessionsDeleteCmd)
}

func listSessions(cmd *cobra.Command, _ []string) error {
	store, err := openStore(cmd.Context(), cfg.Store)
	if err != nil {
		return err
	}
	defer store.Close()

	summaries, err := store.List(cmd.Context(), sessionOwner)
	if err != nil {
		return err
	}
	if len(summaries) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no sessions")
		return nil
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTITLE\tTURNS\tUPDATED")
	for _, s := range summaries {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", s.ID, s.Title, s.TurnCount, s.UpdatedAt.Local().Format(time.DateTime))
	}
	return tw.Flush()
}

func deleteSession(cmd *cobra.Command, args []string) error {
	store, err := openStore(cmd.Context(), cfg.Store)
	if err != nil {
		return err
	}
	defer store.Close()

	deleted, err := store.Delete(cmd.Context(), args[0], sessionOwner)
	if err != nil {
		return err
	}
	if !deleted {
		return fmt.Errorf("session %s not found for owner %s", args[0], sessionOwner)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
	return nil
}
