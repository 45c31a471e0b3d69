package workspace

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/burrow/pkg/fsops"
	"github.com/cuemby/burrow/pkg/paths"
	"github.com/cuemby/burrow/pkg/types"
)

// Materializer projects task rows onto per-task workspace directories.
//
// The directory tree is derived state: the store row is authoritative and the
// Materializer can regenerate any task directory from it. Narrative files
// (plan.md, progress.md, subtasks.md) are rendered once at creation and then
// left to agents; only context.json is ever re-emitted.
type Materializer struct {
	paths  *paths.Resolver
	logger zerolog.Logger
}

// NewMaterializer creates a materializer over the given path resolver
func NewMaterializer(resolver *paths.Resolver, logger zerolog.Logger) *Materializer {
	return &Materializer{
		paths:  resolver,
		logger: logger.With().Str("component", "workspace").Logger(),
	}
}

// Materialize renders the four workspace files for a task into its status
// directory. All writes are atomic; a partial batch leaves no torn files.
func (m *Materializer) Materialize(ctx context.Context, task *types.Task) error {
	dir := m.paths.ResolveTaskDir(task)

	files := []struct {
		name string
		data []byte
	}{
		{"plan.md", renderPlan(task)},
		{"progress.md", renderProgress(task)},
		{"subtasks.md", renderSubtasks(task)},
	}
	for _, f := range files {
		if err := fsops.WriteAtomic(ctx, filepath.Join(dir, f.name), f.data); err != nil {
			return fmt.Errorf("materialize %s for task %s: %w", f.name, task.ID, err)
		}
	}
	if err := m.RefreshContext(ctx, task); err != nil {
		return err
	}

	m.logger.Debug().
		Str("task_id", task.ID).
		Str("agent_id", task.AgentID).
		Str("dir", dir).
		Msg("Materialized task workspace")
	return nil
}

// RefreshContext re-emits context.json from the current row. Idempotent.
func (m *Materializer) RefreshContext(ctx context.Context, task *types.Task) error {
	dir := m.paths.ResolveTaskDir(task)
	data, err := json.MarshalIndent(buildContext(task), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal context for task %s: %w", task.ID, err)
	}
	if err := fsops.WriteAtomic(ctx, filepath.Join(dir, "context.json"), data); err != nil {
		return fmt.Errorf("materialize context.json for task %s: %w", task.ID, err)
	}
	return nil
}

// Move relocates a task's directory after a committed status change. The
// source is derived from the previous status; when it has drifted, every
// sibling status directory is probed for the task id, and a missing directory
// is recreated empty at the destination rather than failing.
func (m *Materializer) Move(ctx context.Context, task *types.Task, from types.TaskStatus) error {
	src := m.paths.TaskDir(task.AgentID, task.ID, from)
	dst := m.paths.ResolveTaskDir(task)
	if src == dst {
		return nil
	}

	err := fsops.MoveDir(ctx, src, dst, fsops.MoveDirOptions{
		SearchDirs:      m.paths.SiblingStatusDirs(task.AgentID),
		CreateIfMissing: true,
	})
	if err != nil {
		return fmt.Errorf("move task %s to %s: %w", task.ID, task.Status, err)
	}

	m.logger.Debug().
		Str("task_id", task.ID).
		Str("from", string(from)).
		Str("to", string(task.Status)).
		Msg("Moved task workspace")
	return nil
}

// Restore relocates a task's directory to its canonical location when it
// has gone missing: sibling status folders are probed for a stray, and a
// directory lost entirely is recreated empty for the caller to repopulate.
func (m *Materializer) Restore(ctx context.Context, task *types.Task) error {
	dst := m.paths.ResolveTaskDir(task)
	if fsops.Exists(dst) {
		return nil
	}
	err := fsops.MoveDir(ctx, dst, dst, fsops.MoveDirOptions{
		SearchDirs:      m.paths.SiblingStatusDirs(task.AgentID),
		CreateIfMissing: true,
	})
	if err != nil {
		return fmt.Errorf("restore task %s: %w", task.ID, err)
	}
	return nil
}

// Remove deletes a task's directory. Used only on explicit purge.
func (m *Materializer) Remove(ctx context.Context, task *types.Task) error {
	return fsops.RemoveDir(ctx, m.paths.ResolveTaskDir(task))
}

// TaskContext is the stable machine-readable projection written to
// context.json. Readers must ignore unknown keys; the writer never emits
// null where an empty collection is meaningful.
type TaskContext struct {
	Task       ContextTask       `json:"task"`
	Hierarchy  ContextHierarchy  `json:"hierarchy"`
	Delegation ContextDelegation `json:"delegation"`
	Progress   ContextProgress   `json:"progress"`
	Context    ContextNarrative  `json:"context"`
	Execution  ContextExecution  `json:"execution"`
}

type ContextTask struct {
	ID          string     `json:"id"`
	AgentID     string     `json:"agent_id"`
	Title       string     `json:"title"`
	Status      string     `json:"status"`
	Priority    string     `json:"priority"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

type ContextHierarchy struct {
	ParentTaskID string `json:"parent_task_id,omitempty"`
	Depth        int    `json:"depth"`
	TaskPath     string `json:"task_path"`
}

type ContextDelegation struct {
	DelegatedTo string     `json:"delegated_to,omitempty"`
	DelegatedAt *time.Time `json:"delegated_at,omitempty"`
}

type ContextProgress struct {
	PercentComplete   int        `json:"percent_complete"`
	SubtasksCompleted int        `json:"subtasks_completed"`
	SubtasksTotal     int        `json:"subtasks_total"`
	BlockedBy         []string   `json:"blocked_by"`
	BlockedSince      *time.Time `json:"blocked_since,omitempty"`
}

type ContextNarrative struct {
	Description string   `json:"description"`
	Subtasks    []string `json:"subtasks"`
}

type ContextExecution struct {
	Version        int64      `json:"version"`
	LastUpdated    time.Time  `json:"last_updated"`
	LastExecuted   *time.Time `json:"last_executed,omitempty"`
	ExecutionCount int        `json:"execution_count"`
}

func buildContext(task *types.Task) TaskContext {
	blockedBy := task.BlockedBy
	if blockedBy == nil {
		blockedBy = []string{}
	}
	subtasks := task.Subtasks
	if subtasks == nil {
		subtasks = []string{}
	}
	return TaskContext{
		Task: ContextTask{
			ID:          task.ID,
			AgentID:     task.AgentID,
			Title:       task.Title,
			Status:      string(task.Status),
			Priority:    string(task.Priority),
			CreatedAt:   task.CreatedAt,
			StartedAt:   task.StartedAt,
			CompletedAt: task.CompletedAt,
		},
		Hierarchy: ContextHierarchy{
			ParentTaskID: task.ParentTaskID,
			Depth:        task.Depth,
			TaskPath:     task.TaskPath,
		},
		Delegation: ContextDelegation{
			DelegatedTo: task.DelegatedTo,
			DelegatedAt: task.DelegatedAt,
		},
		Progress: ContextProgress{
			PercentComplete:   task.PercentComplete,
			SubtasksCompleted: task.SubtasksCompleted,
			SubtasksTotal:     task.SubtasksTotal,
			BlockedBy:         blockedBy,
			BlockedSince:      task.BlockedSince,
		},
		Context: ContextNarrative{
			Description: task.Description,
			Subtasks:    subtasks,
		},
		Execution: ContextExecution{
			Version:        task.Version,
			LastUpdated:    task.LastUpdated,
			LastExecuted:   task.LastExecuted,
			ExecutionCount: task.ExecutionCount,
		},
	}
}

func renderPlan(task *types.Task) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "# Task Plan\n\n")
	fmt.Fprintf(&b, "- id: %s\n", task.ID)
	fmt.Fprintf(&b, "- title: %s\n", task.Title)
	fmt.Fprintf(&b, "- status: %s\n", task.Status)
	fmt.Fprintf(&b, "- priority: %s\n", task.Priority)
	fmt.Fprintf(&b, "- created: %s\n", task.CreatedAt.Format(time.RFC3339))
	b.WriteString("\n## Description\n\n")
	if task.Description != "" {
		b.WriteString(task.Description + "\n")
	} else {
		b.WriteString("_No description provided._\n")
	}
	b.WriteString("\n## Goals\n\n- \n")
	b.WriteString("\n## Approach\n\n- \n")
	b.WriteString("\n## Dependencies\n\n")
	if len(task.BlockedBy) > 0 {
		for _, dep := range task.BlockedBy {
			fmt.Fprintf(&b, "- %s\n", dep)
		}
	} else {
		b.WriteString("- None\n")
	}
	b.WriteString("\n## Notes\n")
	return []byte(b.String())
}

func renderProgress(task *types.Task) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "# Progress\n\n")
	fmt.Fprintf(&b, "- Status: %s\n", task.Status)
	fmt.Fprintf(&b, "- Current Progress: %d%%\n", task.PercentComplete)
	b.WriteString("\n## Updates\n\n")
	fmt.Fprintf(&b, "- %s: task created\n", task.CreatedAt.Format("2006-01-02"))
	b.WriteString("\n## Blockers\n\n- None\n")
	b.WriteString("\n## Next Steps\n\n- \n")
	return []byte(b.String())
}

func renderSubtasks(task *types.Task) []byte {
	var b strings.Builder
	b.WriteString("# Subtasks\n\n")
	if len(task.Subtasks) == 0 {
		b.WriteString("- [ ] Break down this task\n")
		return []byte(b.String())
	}
	for _, sub := range task.Subtasks {
		fmt.Fprintf(&b, "- [ ] %s\n", sub)
	}
	return []byte(b.String())
}
