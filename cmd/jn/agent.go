package main

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/zulandar/junction/internal/chat"
	"github.com/zulandar/junction/internal/models"
	"github.com/zulandar/junction/internal/realtime"
)

func newAgentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Manage business support agents",
	}

	cmd.AddCommand(newAgentAddCmd())
	cmd.AddCommand(newAgentListCmd())
	cmd.AddCommand(newAgentStatusCmd())
	return cmd
}

// openService connects and wires a chat service for one-shot commands.
func openService(flags *configFlags) (*chat.Service, *realtime.Dispatcher, error) {
	cfg, gormDB, err := flags.connect()
	if err != nil {
		return nil, nil, err
	}
	return newService(serviceOpts{cfg: cfg, db: gormDB})
}

func newAgentAddCmd() *cobra.Command {
	var (
		flags    configFlags
		id       string
		business string
		maxChats int
		status   string
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register or update an agent",
		Long:  "Registers a support agent for a business. Re-running with the same --id updates the agent.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if id == "" {
				id = uuid.NewString()
			}
			return runAgentAdd(cmd, &flags, models.Agent{
				ID:                 id,
				BusinessID:         business,
				MaxConcurrentChats: maxChats,
				Status:             status,
			})
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVar(&id, "id", "", "agent id (generated when empty)")
	cmd.Flags().StringVarP(&business, "business", "b", "", "business the agent serves")
	cmd.Flags().IntVar(&maxChats, "max", 5, "maximum concurrent chats")
	cmd.Flags().StringVar(&status, "status", models.AgentAvailable, "initial status: available, busy or offline")
	cmd.MarkFlagRequired("business")
	return cmd
}

func runAgentAdd(cmd *cobra.Command, flags *configFlags, agent models.Agent) error {
	svc, dispatcher, err := openService(flags)
	if err != nil {
		return err
	}
	defer dispatcher.Close()

	saved, err := svc.RegisterAgent(context.Background(), agent)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Agent %s registered for %s (%s, max %d)\n",
		saved.ID, saved.BusinessID, saved.Status, saved.MaxConcurrentChats)
	return nil
}

func newAgentListCmd() *cobra.Command {
	var flags configFlags

	cmd := &cobra.Command{
		Use:   "list <business>",
		Short: "List the agents of a business",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAgentList(cmd, &flags, args[0])
		},
	}

	flags.register(cmd)
	return cmd
}

func runAgentList(cmd *cobra.Command, flags *configFlags, business string) error {
	svc, dispatcher, err := openService(flags)
	if err != nil {
		return err
	}
	defer dispatcher.Close()

	agents, err := svc.ListAgents(context.Background(), business)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(agents) == 0 {
		fmt.Fprintf(out, "No agents found for %s.\n", business)
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tCHATS\tMAX")
	for _, a := range agents {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\n", a.ID, a.Status, a.CurrentChatCount, a.MaxConcurrentChats)
	}
	w.Flush()
	return nil
}

func newAgentStatusCmd() *cobra.Command {
	var flags configFlags

	cmd := &cobra.Command{
		Use:   "status <agent-id> <available|busy|offline>",
		Short: "Change an agent's status",
		Long:  "Changes an agent's status. Taking an agent offline hands its open conversations to colleagues.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAgentStatus(cmd, &flags, args[0], args[1])
		},
	}

	flags.register(cmd)
	return cmd
}

func runAgentStatus(cmd *cobra.Command, flags *configFlags, agentID, status string) error {
	svc, dispatcher, err := openService(flags)
	if err != nil {
		return err
	}
	defer dispatcher.Close()

	moved, err := svc.SetAgentStatus(context.Background(), agentID, status)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Agent %s is now %s\n", agentID, status)
	if len(moved) > 0 {
		fmt.Fprintf(out, "Reassigned %d conversations: %s\n", len(moved), strings.Join(moved, ", "))
	}
	return nil
}
