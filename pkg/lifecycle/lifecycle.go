package lifecycle

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/burrow/pkg/events"
	"github.com/cuemby/burrow/pkg/fsops"
	"github.com/cuemby/burrow/pkg/inbox"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/org"
	"github.com/cuemby/burrow/pkg/paths"
	"github.com/cuemby/burrow/pkg/store"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/cuemby/burrow/pkg/workspace"
)

const (
	// rollupMaxAttempts bounds optimistic retries of the parent rollup
	rollupMaxAttempts = 8

	// rollupBackoffCap bounds the randomized sleep between rollup attempts
	rollupBackoffCap = 50 * time.Millisecond
)

// Coordinator composes store transitions with workspace and notification
// side effects. Every operation follows the same skeleton: store transition
// first, then filesystem move, then notification. The store is the source
// of truth; a filesystem failure after a committed transition is surfaced
// with CommitObserved set and left for Reconcile to repair.
type Coordinator struct {
	store  store.Store
	ws     *workspace.Materializer
	bus    *inbox.Bus
	dir    *org.Directory
	paths  *paths.Resolver
	broker *events.Broker
	logger zerolog.Logger
}

// NewCoordinator creates a lifecycle coordinator
func NewCoordinator(s store.Store, ws *workspace.Materializer, bus *inbox.Bus, dir *org.Directory, resolver *paths.Resolver, broker *events.Broker, logger zerolog.Logger) *Coordinator {
	return &Coordinator{
		store:  s,
		ws:     ws,
		bus:    bus,
		dir:    dir,
		paths:  resolver,
		broker: broker,
		logger: logger.With().Str("component", "lifecycle").Logger(),
	}
}

// afterCommit classifies a post-commit failure: the store transition went
// through, so the error carries CommitObserved for the caller
func afterCommit(err error, detail string) error {
	e := &types.Error{Kind: types.KindOf(err), Detail: detail, CommitObserved: true, Err: err}
	if e.Kind == "" {
		e.Kind = types.ErrFs
	}
	e.FsKind = types.FsKindOf(err)
	return e
}

// Create persists a new task and materializes its pending workspace
func (c *Coordinator) Create(ctx context.Context, in store.CreateTaskInput) (*types.Task, error) {
	task, err := c.store.CreateTask(ctx, in)
	if err != nil {
		return nil, err
	}
	if err := c.ws.Materialize(ctx, task); err != nil {
		c.logger.Error().Err(err).Str("task_id", task.ID).Msg("Workspace materialization failed after create")
		return task, afterCommit(err, fmt.Sprintf("task %s created but workspace not materialized", task.ID))
	}

	c.broker.Publish(events.TaskEvent(events.EventTaskCreated, task.ID, task.AgentID, "Task created: "+task.Title))
	c.logger.Info().
		Str("task_id", task.ID).
		Str("agent_id", task.AgentID).
		Str("priority", string(task.Priority)).
		Msg("Task created")
	return task, nil
}

// transitionAndMove runs the common skeleton for status changes
func (c *Coordinator) transitionAndMove(ctx context.Context, id string, expectedVersion int64, target types.TaskStatus, extras *store.TransitionExtras) (*types.Task, error) {
	before, err := c.store.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	from := before.Status

	task, err := c.store.Transition(ctx, id, expectedVersion, target, extras)
	if err != nil {
		if types.IsVersionMismatch(err) {
			metrics.VersionConflictsTotal.Inc()
		}
		return nil, err
	}
	metrics.TransitionsTotal.WithLabelValues(string(target)).Inc()

	// Cancellation between commit and move leaves the directory for Reconcile
	if err := ctx.Err(); err != nil {
		return task, &types.Error{Kind: types.ErrInterrupted, Detail: "cancelled after commit", CommitObserved: true, Err: err}
	}
	if err := c.ws.Move(ctx, task, from); err != nil {
		c.logger.Error().Err(err).Str("task_id", id).Str("target", string(target)).Msg("Workspace move failed after transition")
		return task, afterCommit(err, fmt.Sprintf("task %s transitioned to %s but directory not moved", id, target))
	}
	if err := c.ws.RefreshContext(ctx, task); err != nil {
		c.logger.Warn().Err(err).Str("task_id", id).Msg("Context refresh failed after move")
	}
	return task, nil
}

// Start moves a task into in_progress
func (c *Coordinator) Start(ctx context.Context, id string, expectedVersion int64) (*types.Task, error) {
	task, err := c.transitionAndMove(ctx, id, expectedVersion, types.TaskStatusInProgress, nil)
	if err != nil {
		return task, err
	}
	c.broker.Publish(events.TaskEvent(events.EventTaskStarted, task.ID, task.AgentID, "Task started"))
	c.logger.Info().Str("task_id", id).Int64("version", task.Version).Msg("Task started")
	return task, nil
}

// Block marks a task blocked on the given tasks
func (c *Coordinator) Block(ctx context.Context, id string, expectedVersion int64, blockedBy []string) (*types.Task, error) {
	task, err := c.transitionAndMove(ctx, id, expectedVersion, types.TaskStatusBlocked, &store.TransitionExtras{BlockedBy: blockedBy})
	if err != nil {
		return task, err
	}
	c.broker.Publish(events.TaskEvent(events.EventTaskBlocked, task.ID, task.AgentID, "Task blocked"))
	c.logger.Info().Str("task_id", id).Strs("blocked_by", task.BlockedBy).Msg("Task blocked")
	return task, nil
}

// Unblock resumes a blocked task. The task's blocked_by set must already be
// empty; clear it first with ClearBlockedBy.
func (c *Coordinator) Unblock(ctx context.Context, id string, expectedVersion int64) (*types.Task, error) {
	task, err := c.transitionAndMove(ctx, id, expectedVersion, types.TaskStatusInProgress, nil)
	if err != nil {
		return task, err
	}
	c.broker.Publish(events.TaskEvent(events.EventTaskUnblocked, task.ID, task.AgentID, "Task unblocked"))
	c.logger.Info().Str("task_id", id).Msg("Task unblocked")
	return task, nil
}

// ClearBlockedBy rewrites a blocked task's wait-for set without changing
// status. Clearing it to empty is the step that breaks a deadlock cycle.
func (c *Coordinator) ClearBlockedBy(ctx context.Context, id string, expectedVersion int64, blockedBy []string) (*types.Task, error) {
	task, err := c.store.SetBlockedBy(ctx, id, expectedVersion, blockedBy)
	if err != nil {
		return nil, err
	}
	if err := c.ws.RefreshContext(ctx, task); err != nil {
		c.logger.Warn().Err(err).Str("task_id", id).Msg("Context refresh failed")
	}
	return task, nil
}

// Delegate hands a task to another agent and notifies them. The owner is
// unchanged. Notification honors the recipient's preference unless force
// is set; a notification failure never fails the delegation.
func (c *Coordinator) Delegate(ctx context.Context, id string, expectedVersion int64, delegateTo string, force bool) (*types.Task, error) {
	task, err := c.store.Delegate(ctx, id, expectedVersion, delegateTo)
	if err != nil {
		return nil, err
	}
	if err := c.ws.RefreshContext(ctx, task); err != nil {
		c.logger.Warn().Err(err).Str("task_id", id).Msg("Context refresh failed after delegation")
	}

	_, err = c.bus.Send(ctx, inbox.SendInput{
		From:           task.AgentID,
		To:             delegateTo,
		Kind:           inbox.KindDelegation,
		Priority:       types.MessagePriorityForTask(task.Priority),
		Subject:        "Task delegated: " + task.Title,
		ThreadID:       "task-" + task.ID,
		ActionRequired: true,
		TaskID:         task.ID,
		TaskTitle:      task.Title,
		Instructions:   "You have been delegated this task. Review plan.md in the task workspace and begin work.",
		Force:          force,
	})
	if err != nil {
		c.logger.Error().Err(err).Str("task_id", id).Str("to", delegateTo).Msg("Delegation notification failed")
	}

	c.broker.Publish(events.TaskEvent(events.EventTaskDelegated, task.ID, task.AgentID, "Task delegated to "+delegateTo))
	c.logger.Info().Str("task_id", id).Str("delegated_to", delegateTo).Msg("Task delegated")
	return task, nil
}

// Complete finishes a task, rolls progress up the ancestry, and notifies
// each updated ancestor's owner. Rollup conflicts retry with bounded
// randomized backoff; notification failures are logged and swallowed.
func (c *Coordinator) Complete(ctx context.Context, id string, expectedVersion int64) (*types.Task, error) {
	task, err := c.transitionAndMove(ctx, id, expectedVersion, types.TaskStatusCompleted, nil)
	if err != nil {
		return task, err
	}
	c.broker.Publish(events.TaskEvent(events.EventTaskCompleted, task.ID, task.AgentID, "Task completed: "+task.Title))
	c.logger.Info().Str("task_id", id).Int64("version", task.Version).Msg("Task completed")

	if task.ParentTaskID != "" {
		if err := c.rollup(ctx, task); err != nil {
			return task, err
		}
	}
	return task, nil
}

// rollup walks the ancestry upward from the completed task, recomputing
// each ancestor's subtask counters. Runs causally after the completion
// commit; walking only upward keeps it deadlock-free.
func (c *Coordinator) rollup(ctx context.Context, completed *types.Task) error {
	parentID := completed.ParentTaskID
	for parentID != "" {
		parent, err := c.rollupOne(ctx, parentID)
		if err != nil {
			return err
		}

		if parent.SubtasksTotal > 0 {
			if err := c.ws.RefreshContext(ctx, parent); err != nil {
				c.logger.Warn().Err(err).Str("task_id", parent.ID).Msg("Context refresh failed after rollup")
			}
			c.notifyCompletion(ctx, parent, completed)
		}
		parentID = parent.ParentTaskID
	}
	return nil
}

// rollupOne applies the versioned counter recompute for one ancestor,
// retrying on optimistic conflicts
func (c *Coordinator) rollupOne(ctx context.Context, parentID string) (*types.Task, error) {
	var lastErr error
	for attempt := 0; attempt < rollupMaxAttempts; attempt++ {
		if attempt > 0 {
			metrics.RollupRetriesTotal.Inc()
			select {
			case <-time.After(time.Duration(rand.Int63n(int64(rollupBackoffCap)))):
			case <-ctx.Done():
				return nil, &types.Error{Kind: types.ErrInterrupted, Detail: "rollup cancelled", CommitObserved: true, Err: ctx.Err()}
			}
		}

		parent, err := c.store.GetTask(ctx, parentID)
		if err != nil {
			return nil, err
		}
		if parent.SubtasksTotal == 0 {
			return parent, nil
		}

		updated, err := c.store.RollupChildren(ctx, parentID, parent.Version)
		if err == nil {
			c.logger.Debug().
				Str("task_id", parentID).
				Int("completed", updated.SubtasksCompleted).
				Int("total", updated.SubtasksTotal).
				Int("percent", updated.PercentComplete).
				Msg("Parent progress rolled up")
			return updated, nil
		}
		if !types.IsVersionMismatch(err) {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("rollup for %s gave up after %d attempts: %w", parentID, rollupMaxAttempts, lastErr)
}

func (c *Coordinator) notifyCompletion(ctx context.Context, parent, completed *types.Task) {
	_, err := c.bus.Send(ctx, inbox.SendInput{
		From:         completed.AgentID,
		To:           parent.AgentID,
		Kind:         inbox.KindCompletion,
		Priority:     types.MessagePriorityForTask(completed.Priority),
		Subject:      "Subtask completed: " + completed.Title,
		ThreadID:     "task-" + parent.ID,
		TaskID:       parent.ID,
		TaskTitle:    parent.Title,
		Instructions: fmt.Sprintf("Subtask %s is done. Parent progress is now %d%% (%d of %d).", completed.ID, parent.PercentComplete, parent.SubtasksCompleted, parent.SubtasksTotal),
	})
	if err != nil {
		c.logger.Error().Err(err).Str("task_id", completed.ID).Str("to", parent.AgentID).Msg("Completion notification failed")
	}
}

// Get returns a task row
func (c *Coordinator) Get(ctx context.Context, id string) (*types.Task, error) {
	return c.store.GetTask(ctx, id)
}

// List returns every task row
func (c *Coordinator) List(ctx context.Context) ([]*types.Task, error) {
	return c.store.ListTasks(ctx)
}

// Reconcile repairs workspace drift: every task whose canonical directory
// is missing gets it relocated from a stray status folder or regenerated
// from the store row. Returns the number of directories repaired.
func (c *Coordinator) Reconcile(ctx context.Context) (int, error) {
	tasks, err := c.store.ListTasks(ctx)
	if err != nil {
		return 0, err
	}

	repaired := 0
	for _, task := range tasks {
		if err := ctx.Err(); err != nil {
			return repaired, &types.Error{Kind: types.ErrInterrupted, Detail: "reconcile cancelled", Err: err}
		}

		dir := c.paths.ResolveTaskDir(task)
		if fsops.Exists(dir) {
			continue
		}
		if task.Status == types.TaskStatusArchived && fsops.Exists(dir+".tar.gz") {
			// Compacted; nothing to regenerate
			continue
		}

		// Restore finds strays via the search fallback and recreates lost
		// directories empty; regenerate content afterwards.
		if err := c.ws.Restore(ctx, task); err != nil {
			c.logger.Error().Err(err).Str("task_id", task.ID).Msg("Reconcile restore failed")
			continue
		}
		if isEmptyDir(dir) {
			if err := c.ws.Materialize(ctx, task); err != nil {
				c.logger.Error().Err(err).Str("task_id", task.ID).Msg("Reconcile materialization failed")
				continue
			}
		} else if err := c.ws.RefreshContext(ctx, task); err != nil {
			c.logger.Warn().Err(err).Str("task_id", task.ID).Msg("Reconcile context refresh failed")
		}
		repaired++
		c.logger.Info().Str("task_id", task.ID).Str("dir", dir).Msg("Workspace directory reconciled")
	}
	return repaired, nil
}

func isEmptyDir(dir string) bool {
	entries, err := os.ReadDir(dir)
	return err == nil && len(entries) == 0
}
