package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sematica-ai/memory-engine/internal/task"
)

// newTaskCmd creates the task command group.
func newTaskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Coordinate multi-agent work with tasks and resource locks",
	}

	cmd.AddCommand(newTaskNewCmd())
	cmd.AddCommand(newTaskListCmd())
	cmd.AddCommand(newTaskShowCmd())
	cmd.AddCommand(newTaskMoveCmd())
	cmd.AddCommand(newTaskDependCmd())
	cmd.AddCommand(newTaskLockCmd())
	cmd.AddCommand(newTaskUnlockCmd())
	cmd.AddCommand(newTaskEventsCmd())

	return cmd
}

// newTaskNewCmd creates the task new subcommand.
func newTaskNewCmd() *cobra.Command {
	var (
		owner string
		actor string
	)

	cmd := &cobra.Command{
		Use:   "new [title]",
		Short: "Create a task in the todo state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			env, err := openEnv(ctx)
			if err != nil {
				return err
			}
			defer env.Close()

			t, err := env.tasks.CreateTask(ctx, args[0], owner, actor)
			if err != nil {
				return err
			}

			if outputJSON {
				return printJSON(t)
			}

			ui := NewUI(outputJSON, noColor)
			defer ui.Close()
			ui.Success("Created task %s", t.ID)
			printTaskDetail(ui, t)
			return nil
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "task owner")
	cmd.Flags().StringVar(&actor, "actor", "", "actor recorded in the event log")

	return cmd
}

// newTaskListCmd creates the task list subcommand.
func newTaskListCmd() *cobra.Command {
	var (
		status string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			var st task.State
			if status != "" {
				parsed, err := task.ParseState(status)
				if err != nil {
					return err
				}
				st = parsed
			}

			ctx := cmd.Context()
			env, err := openEnv(ctx)
			if err != nil {
				return err
			}
			defer env.Close()

			tasks, err := env.tasks.ListTasks(ctx, st, limit)
			if err != nil {
				return err
			}

			if outputJSON {
				return printJSON(map[string]interface{}{"tasks": tasks})
			}

			ui := NewUI(outputJSON, noColor)
			defer ui.Close()

			if len(tasks) == 0 {
				ui.Info("No tasks.")
				return nil
			}
			rows := make([][]string, 0, len(tasks))
			for _, t := range tasks {
				rows = append(rows, []string{
					t.ID[:8],
					string(t.Status),
					fmt.Sprintf("v%d", t.Version),
					t.Owner,
					truncateText(t.Title, 50),
					formatTime(t.UpdatedAt),
				})
			}
			ui.Table([]string{"ID", "STATUS", "VER", "OWNER", "TITLE", "UPDATED"}, rows)
			return nil
		},
	}

	cmd.Flags().StringVarP(&status, "status", "s", "", "filter by status")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum results")

	return cmd
}

// newTaskShowCmd creates the task show subcommand.
func newTaskShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show [id]",
		Short: "Show a task with its dependencies and locks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			env, err := openEnv(ctx)
			if err != nil {
				return err
			}
			defer env.Close()

			t, err := env.tasks.GetTask(ctx, args[0])
			if err != nil {
				return err
			}
			deps, err := env.tasks.ListDependencies(ctx, t.ID)
			if err != nil {
				return err
			}
			locks, err := env.tasks.ListLocks(ctx, t.ID, true)
			if err != nil {
				return err
			}

			if outputJSON {
				return printJSON(map[string]interface{}{
					"task":         t,
					"depends_on":   deps,
					"active_locks": locks,
				})
			}

			ui := NewUI(outputJSON, noColor)
			defer ui.Close()
			printTaskDetail(ui, t)
			for _, dep := range deps {
				ui.KeyValue("depends_on", dep)
			}
			for _, lock := range locks {
				ui.KeyValue("lock", lock.Resource)
			}
			return nil
		},
	}
}

// newTaskMoveCmd creates the task move subcommand.
func newTaskMoveCmd() *cobra.Command {
	var (
		from            string
		to              string
		expectedVersion int
		actor           string
		reason          string
	)

	cmd := &cobra.Command{
		Use:   "move [id]",
		Short: "Transition a task with compare-and-set semantics",
		Long: `Move performs one state transition. Both the current state and the
current version must match, so concurrent movers fail instead of
clobbering each other.

States: todo, in_progress, blocked, done, failed, canceled.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fromState, err := task.ParseState(from)
			if err != nil {
				return err
			}
			toState, err := task.ParseState(to)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			env, err := openEnv(ctx)
			if err != nil {
				return err
			}
			defer env.Close()

			t, err := env.tasks.Transition(ctx, task.TransitionRequest{
				TaskID:          args[0],
				From:            fromState,
				To:              toState,
				ExpectedVersion: expectedVersion,
				Actor:           actor,
				Reason:          reason,
			})
			if err != nil {
				return err
			}

			if outputJSON {
				return printJSON(t)
			}

			ui := NewUI(outputJSON, noColor)
			defer ui.Close()
			ui.Success("Task %s: %s -> %s (v%d)", t.ID[:8], from, to, t.Version)
			return nil
		},
	}

	cmd.Flags().StringVar(&from, "from", "", "expected current state (required)")
	cmd.Flags().StringVar(&to, "to", "", "target state (required)")
	cmd.Flags().IntVar(&expectedVersion, "version", 0, "expected current version (required)")
	cmd.Flags().StringVar(&actor, "actor", "", "actor recorded in the event log")
	cmd.Flags().StringVar(&reason, "reason", "", "reason recorded in the event log")

	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
	_ = cmd.MarkFlagRequired("version")

	return cmd
}

// newTaskDependCmd creates the task depend subcommand.
func newTaskDependCmd() *cobra.Command {
	var dependsOn []string

	cmd := &cobra.Command{
		Use:   "depend [id]",
		Short: "Add dependencies to a task",
		Long: `Depend records that a task cannot complete until the named tasks are
done. Transitions to done are rejected while any dependency is
incomplete.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			env, err := openEnv(ctx)
			if err != nil {
				return err
			}
			defer env.Close()

			if err := env.tasks.AddDependencies(ctx, args[0], dependsOn); err != nil {
				return err
			}

			if outputJSON {
				return printJSON(map[string]interface{}{"depends_on": dependsOn})
			}

			ui := NewUI(outputJSON, noColor)
			defer ui.Close()
			ui.Success("Task %s now depends on %d task(s)", args[0], len(dependsOn))
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&dependsOn, "on", nil, "task id this task depends on (repeatable)")
	_ = cmd.MarkFlagRequired("on")

	return cmd
}

// newTaskLockCmd creates the task lock subcommand.
func newTaskLockCmd() *cobra.Command {
	var (
		resources []string
		actor     string
	)

	cmd := &cobra.Command{
		Use:   "lock [id]",
		Short: "Claim resource locks for a task",
		Long: `Lock claims path-scoped resources for a task. A claim fails when any
resource equals, contains, or is contained by a path another task holds
an active lock on. The whole batch is atomic.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			env, err := openEnv(ctx)
			if err != nil {
				return err
			}
			defer env.Close()

			locks, err := env.tasks.AssignLocks(ctx, args[0], resources, actor)
			if err != nil {
				return err
			}

			if outputJSON {
				return printJSON(map[string]interface{}{"locks": locks})
			}

			ui := NewUI(outputJSON, noColor)
			defer ui.Close()
			ui.Success("Claimed %d lock(s)", len(locks))
			for _, lock := range locks {
				ui.KeyValue("resource", lock.Resource)
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&resources, "resource", "r", nil, "resource path to lock (repeatable)")
	cmd.Flags().StringVar(&actor, "actor", "", "actor recorded in the event log")
	_ = cmd.MarkFlagRequired("resource")

	return cmd
}

// newTaskUnlockCmd creates the task unlock subcommand.
func newTaskUnlockCmd() *cobra.Command {
	var (
		resources []string
		actor     string
	)

	cmd := &cobra.Command{
		Use:   "unlock [id]",
		Short: "Release a task's resource locks",
		Long: `Unlock releases the named locks, or every active lock the task holds
when no --resource is given. Released locks stay recorded for audit.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			env, err := openEnv(ctx)
			if err != nil {
				return err
			}
			defer env.Close()

			released, err := env.tasks.ReleaseLocks(ctx, args[0], resources, actor)
			if err != nil {
				return err
			}

			if outputJSON {
				return printJSON(map[string]int{"released": released})
			}

			ui := NewUI(outputJSON, noColor)
			defer ui.Close()
			ui.Success("Released %d lock(s)", released)
			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&resources, "resource", "r", nil, "resource path to release (default: all)")
	cmd.Flags().StringVar(&actor, "actor", "", "actor recorded in the event log")

	return cmd
}

// newTaskEventsCmd creates the task events subcommand.
func newTaskEventsCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "events [id]",
		Short: "Show a task's event log, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			env, err := openEnv(ctx)
			if err != nil {
				return err
			}
			defer env.Close()

			events, err := env.tasks.ListEvents(ctx, args[0], limit)
			if err != nil {
				return err
			}

			if outputJSON {
				return printJSON(map[string]interface{}{"events": events})
			}

			ui := NewUI(outputJSON, noColor)
			defer ui.Close()

			if len(events) == 0 {
				ui.Info("No events.")
				return nil
			}
			rows := make([][]string, 0, len(events))
			for _, ev := range events {
				payload := ""
				if len(ev.Payload) > 0 {
					if data, err := json.Marshal(ev.Payload); err == nil {
						payload = truncateText(string(data), 60)
					}
				}
				rows = append(rows, []string{
					formatTime(ev.CreatedAt),
					ev.Type,
					ev.Actor,
					payload,
				})
			}
			ui.Table([]string{"TIME", "EVENT", "ACTOR", "PAYLOAD"}, rows)
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum events")

	return cmd
}

func printTaskDetail(ui *UI, t *task.Task) {
	ui.KeyValue("id", t.ID)
	ui.KeyValue("title", t.Title)
	ui.KeyValue("status", t.Status)
	ui.KeyValue("version", t.Version)
	if t.Owner != "" {
		ui.KeyValue("owner", t.Owner)
	}
	if t.RetryCount > 0 {
		ui.KeyValue("retries", t.RetryCount)
	}
	ui.KeyValue("created", formatTime(t.CreatedAt))
	ui.KeyValue("updated", formatTime(t.UpdatedAt))
}
