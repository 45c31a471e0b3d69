package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/cuemby/burrow/pkg/paths"
	"github.com/cuemby/burrow/pkg/types"
)

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Manage agent records",
}

var agentAddCmd = &cobra.Command{
	Use:   "add AGENT_ID",
	Short: "Register an agent",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		reportsTo, _ := cmd.Flags().GetString("reports-to")
		noDelegation, _ := cmd.Flags().GetBool("no-delegation-notify")
		noCompletion, _ := cmd.Flags().GetBool("no-completion-notify")
		noDeadlock, _ := cmd.Flags().GetBool("no-deadlock-notify")

		e, err := openEngine()
		if err != nil {
			return err
		}
		defer e.Close()

		agent := &types.Agent{
			ID:          args[0],
			DisplayName: name,
			ReportingTo: reportsTo,
			CreatedAt:   types.Now(),
		}
		off := false
		if noDelegation {
			agent.Prefs.NotifyOnDelegation = &off
		}
		if noCompletion {
			agent.Prefs.NotifyOnCompletion = &off
		}
		if noDeadlock {
			agent.Prefs.NotifyOnDeadlock = &off
		}

		if err := e.store.PutAgent(context.Background(), agent); err != nil {
			return err
		}
		e.dir.InvalidatePrefs(agent.ID)

		fmt.Printf("Registered agent %s\n", agent.ID)
		fmt.Printf("  Shard: %s\n", paths.Shard(agent.ID))
		fmt.Printf("  Workspace: %s\n", e.resolver.AgentDir(agent.ID))
		return nil
	},
}

var agentListCmd = &cobra.Command{
	Use:   "list",
	Short: "List agents",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEngine()
		if err != nil {
			return err
		}
		defer e.Close()

		agents, err := e.store.ListAgents(context.Background())
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tREPORTS TO\tSHARD")
		for _, a := range agents {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", a.ID, a.DisplayName, a.ReportingTo, paths.Shard(a.ID))
		}
		return w.Flush()
	},
}

func init() {
	agentCmd.AddCommand(agentAddCmd)
	agentCmd.AddCommand(agentListCmd)

	agentAddCmd.Flags().String("name", "", "Display name")
	agentAddCmd.Flags().String("reports-to", "", "Manager agent id")
	agentAddCmd.Flags().Bool("no-delegation-notify", false, "Opt out of delegation notifications")
	agentAddCmd.Flags().Bool("no-completion-notify", false, "Opt out of completion notifications")
	agentAddCmd.Flags().Bool("no-deadlock-notify", false, "Opt out of deadlock notifications")
}
