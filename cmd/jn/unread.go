package main

import (
	"context"
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newUnreadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "unread",
		Short: "Unread counter maintenance",
	}

	cmd.AddCommand(newUnreadRecountCmd())
	return cmd
}

func newUnreadRecountCmd() *cobra.Command {
	var flags configFlags

	cmd := &cobra.Command{
		Use:   "recount <conversation-id>",
		Short: "Rebuild the unread counters of a conversation",
		Long: `Recomputes every participant's unread counter from the message log and
read receipts, replacing whatever the stored counters hold.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUnreadRecount(cmd, &flags, args[0])
		},
	}

	flags.register(cmd)
	return cmd
}

func runUnreadRecount(cmd *cobra.Command, flags *configFlags, conversationID string) error {
	svc, dispatcher, err := openService(flags)
	if err != nil {
		return err
	}
	defer dispatcher.Close()

	counts, err := svc.RecountUnread(context.Background(), conversationID)
	if err != nil {
		return err
	}

	users := make([]string, 0, len(counts))
	for u := range counts {
		users = append(users, u)
	}
	sort.Strings(users)

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Recounted %d participants of %s\n", len(users), conversationID)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "USER\tUNREAD")
	for _, u := range users {
		fmt.Fprintf(w, "%s\t%d\n", u, counts[u])
	}
	w.Flush()
	return nil
}
