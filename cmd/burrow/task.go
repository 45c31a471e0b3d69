package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/burrow/pkg/store"
	"github.com/cuemby/burrow/pkg/types"
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Manage tasks",
}

var taskCreateCmd = &cobra.Command{
	Use:   "create TITLE",
	Short: "Create a new task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		agentID, _ := cmd.Flags().GetString("agent")
		priority, _ := cmd.Flags().GetString("priority")
		parent, _ := cmd.Flags().GetString("parent")
		description, _ := cmd.Flags().GetString("description")
		subtasks, _ := cmd.Flags().GetStringSlice("subtask")

		p := types.TaskPriority(priority)
		if !p.Valid() {
			return fmt.Errorf("priority must be one of urgent, high, medium, low")
		}

		e, err := openEngine()
		if err != nil {
			return err
		}
		defer e.Close()

		task, err := e.coord.Create(context.Background(), store.CreateTaskInput{
			AgentID:      agentID,
			Title:        args[0],
			Priority:     p,
			ParentTaskID: parent,
			Description:  description,
			Subtasks:     subtasks,
		})
		if err != nil {
			return err
		}

		fmt.Printf("Created task %s\n", task.ID)
		fmt.Printf("  Agent: %s\n", task.AgentID)
		fmt.Printf("  Status: %s\n", task.Status)
		fmt.Printf("  Workspace: %s\n", e.resolver.ResolveTaskDir(task))
		return nil
	},
}

// withFreshVersion reads the task and applies fn with its current version,
// retrying once on an optimistic conflict
func withFreshVersion(e *engine, id string, fn func(task *types.Task) (*types.Task, error)) (*types.Task, error) {
	for attempt := 0; ; attempt++ {
		task, err := e.store.GetTask(context.Background(), id)
		if err != nil {
			return nil, err
		}
		updated, err := fn(task)
		if types.IsVersionMismatch(err) && attempt == 0 {
			continue
		}
		return updated, err
	}
}

var taskStartCmd = &cobra.Command{
	Use:   "start TASK_ID",
	Short: "Move a task into in_progress",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEngine()
		if err != nil {
			return err
		}
		defer e.Close()

		task, err := withFreshVersion(e, args[0], func(t *types.Task) (*types.Task, error) {
			return e.coord.Start(context.Background(), t.ID, t.Version)
		})
		if err != nil {
			return err
		}
		fmt.Printf("Task %s started (version %d)\n", task.ID, task.Version)
		return nil
	},
}

var taskCompleteCmd = &cobra.Command{
	Use:   "complete TASK_ID",
	Short: "Complete a task and roll progress up to its ancestors",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEngine()
		if err != nil {
			return err
		}
		defer e.Close()

		task, err := withFreshVersion(e, args[0], func(t *types.Task) (*types.Task, error) {
			return e.coord.Complete(context.Background(), t.ID, t.Version)
		})
		if err != nil {
			return err
		}
		fmt.Printf("Task %s completed at %s\n", task.ID, task.CompletedAt.Format(time.RFC3339))
		return nil
	},
}

var taskBlockCmd = &cobra.Command{
	Use:   "block TASK_ID",
	Short: "Mark a task blocked on other tasks",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		blockedBy, _ := cmd.Flags().GetStringSlice("on")
		if len(blockedBy) == 0 {
			return fmt.Errorf("--on is required: name at least one blocking task")
		}

		e, err := openEngine()
		if err != nil {
			return err
		}
		defer e.Close()

		task, err := withFreshVersion(e, args[0], func(t *types.Task) (*types.Task, error) {
			return e.coord.Block(context.Background(), t.ID, t.Version, blockedBy)
		})
		if err != nil {
			return err
		}
		fmt.Printf("Task %s blocked on %s\n", task.ID, strings.Join(task.BlockedBy, ", "))
		return nil
	},
}

var taskUnblockCmd = &cobra.Command{
	Use:   "unblock TASK_ID",
	Short: "Clear a task's wait-for set and resume it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEngine()
		if err != nil {
			return err
		}
		defer e.Close()

		_, err = withFreshVersion(e, args[0], func(t *types.Task) (*types.Task, error) {
			return e.coord.ClearBlockedBy(context.Background(), t.ID, t.Version, nil)
		})
		if err != nil {
			return err
		}
		task, err := withFreshVersion(e, args[0], func(t *types.Task) (*types.Task, error) {
			return e.coord.Unblock(context.Background(), t.ID, t.Version)
		})
		if err != nil {
			return err
		}
		fmt.Printf("Task %s resumed\n", task.ID)
		return nil
	},
}

var taskDelegateCmd = &cobra.Command{
	Use:   "delegate TASK_ID AGENT_ID",
	Short: "Delegate a task to another agent",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")

		e, err := openEngine()
		if err != nil {
			return err
		}
		defer e.Close()

		task, err := withFreshVersion(e, args[0], func(t *types.Task) (*types.Task, error) {
			return e.coord.Delegate(context.Background(), t.ID, t.Version, args[1], force)
		})
		if err != nil {
			return err
		}
		fmt.Printf("Task %s delegated to %s\n", task.ID, task.DelegatedTo)
		return nil
	},
}

var taskShowCmd = &cobra.Command{
	Use:   "show TASK_ID",
	Short: "Show a task's full state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEngine()
		if err != nil {
			return err
		}
		defer e.Close()

		task, err := e.store.GetTask(context.Background(), args[0])
		if err != nil {
			return err
		}

		fmt.Printf("Task %s\n", task.ID)
		fmt.Printf("  Title:     %s\n", task.Title)
		fmt.Printf("  Agent:     %s\n", task.AgentID)
		fmt.Printf("  Status:    %s\n", task.Status)
		fmt.Printf("  Priority:  %s\n", task.Priority)
		fmt.Printf("  Version:   %d\n", task.Version)
		fmt.Printf("  Path:      %s\n", task.TaskPath)
		fmt.Printf("  Progress:  %d%% (%d/%d subtasks)\n", task.PercentComplete, task.SubtasksCompleted, task.SubtasksTotal)
		if task.DelegatedTo != "" {
			fmt.Printf("  Delegated: %s\n", task.DelegatedTo)
		}
		if len(task.BlockedBy) > 0 {
			fmt.Printf("  Blocked by: %s\n", strings.Join(task.BlockedBy, ", "))
		}
		if task.CompletedAt != nil {
			fmt.Printf("  Completed: %s\n", task.CompletedAt.Format(time.RFC3339))
		}
		fmt.Printf("  Workspace: %s\n", e.resolver.ResolveTaskDir(task))
		return nil
	},
}

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks",
	RunE: func(cmd *cobra.Command, args []string) error {
		agentFilter, _ := cmd.Flags().GetString("agent")
		statusFilter, _ := cmd.Flags().GetString("status")

		e, err := openEngine()
		if err != nil {
			return err
		}
		defer e.Close()

		tasks, err := e.store.ListTasks(context.Background())
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tAGENT\tSTATUS\tPRIORITY\tPROGRESS\tTITLE")
		for _, t := range tasks {
			if agentFilter != "" && t.AgentID != agentFilter {
				continue
			}
			if statusFilter != "" && string(t.Status) != statusFilter {
				continue
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d%%\t%s\n",
				t.ID, t.AgentID, t.Status, t.Priority, t.PercentComplete, t.Title)
		}
		return w.Flush()
	},
}

func init() {
	taskCmd.AddCommand(taskCreateCmd)
	taskCmd.AddCommand(taskStartCmd)
	taskCmd.AddCommand(taskCompleteCmd)
	taskCmd.AddCommand(taskBlockCmd)
	taskCmd.AddCommand(taskUnblockCmd)
	taskCmd.AddCommand(taskDelegateCmd)
	taskCmd.AddCommand(taskShowCmd)
	taskCmd.AddCommand(taskListCmd)

	taskCreateCmd.Flags().String("agent", "", "Owning agent id")
	taskCreateCmd.Flags().String("priority", "medium", "Priority: urgent, high, medium, low")
	taskCreateCmd.Flags().String("parent", "", "Parent task id")
	taskCreateCmd.Flags().String("description", "", "Task description")
	taskCreateCmd.Flags().StringSlice("subtask", nil, "Subtask checklist entry (repeatable)")
	_ = taskCreateCmd.MarkFlagRequired("agent")

	taskBlockCmd.Flags().StringSlice("on", nil, "Task ids this task waits on")
	taskDelegateCmd.Flags().Bool("force", false, "Deliver the notification even if the recipient opted out")

	taskListCmd.Flags().String("agent", "", "Filter by agent id")
	taskListCmd.Flags().String("status", "", "Filter by status")
}
