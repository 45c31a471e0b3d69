package paths

import (
	"crypto/sha256"
	"fmt"
	"path/filepath"
	"time"

	"github.com/cuemby/burrow/pkg/types"
)

// Resolver maps agents, tasks, and messages onto the workspace directory
// layout. It is a pure value: no method performs I/O.
//
// Layout:
//
//	<root>/agents/<shard>/<agent_id>/
//	  tasks/<status>/<task_id>/
//	  tasks/archive/<YYYY-MM>/<task_id>/
//	  inbox/{unread,read}/<msg_id>.md
//	  agent.log
type Resolver struct {
	root string
}

// NewResolver creates a resolver rooted at the workspace directory
func NewResolver(root string) *Resolver {
	return &Resolver{root: root}
}

// Root returns the workspace root directory
func (r *Resolver) Root() string {
	return r.root
}

// Shard returns the fanout shard for an agent id: the high nibble of the
// first byte of sha256(agent_id), rendered as a 16-bucket range like "d0-df"
func Shard(agentID string) string {
	sum := sha256.Sum256([]byte(agentID))
	hi := sum[0] >> 4
	return fmt.Sprintf("%x0-%xf", hi, hi)
}

// AgentDir returns the sharded per-agent directory
func (r *Resolver) AgentDir(agentID string) string {
	return filepath.Join(r.root, "agents", Shard(agentID), agentID)
}

// TasksDir returns the per-agent tasks directory
func (r *Resolver) TasksDir(agentID string) string {
	return filepath.Join(r.AgentDir(agentID), "tasks")
}

// StatusDir returns the directory holding all of an agent's tasks in the
// given non-archived status
func (r *Resolver) StatusDir(agentID string, status types.TaskStatus) string {
	return filepath.Join(r.TasksDir(agentID), string(status))
}

// TaskDir returns the workspace directory for a task in a non-archived
// status. For archived tasks use ArchiveTaskDir, which needs the completion
// month.
func (r *Resolver) TaskDir(agentID, taskID string, status types.TaskStatus) string {
	return filepath.Join(r.StatusDir(agentID, status), taskID)
}

// ArchiveMonth renders the archive bucket for a completion timestamp
func ArchiveMonth(completedAt time.Time) string {
	return completedAt.UTC().Format("2006-01")
}

// ArchiveMonthDir returns the dated archive directory for an agent
func (r *Resolver) ArchiveMonthDir(agentID, month string) string {
	return filepath.Join(r.TasksDir(agentID), "archive", month)
}

// ArchiveTaskDir returns the directory an archived task lives in. The month
// is computed from completed_at, never persisted in the status field.
func (r *Resolver) ArchiveTaskDir(agentID, taskID string, completedAt time.Time) string {
	return filepath.Join(r.ArchiveMonthDir(agentID, ArchiveMonth(completedAt)), taskID)
}

// ResolveTaskDir returns the canonical directory for a task given its row:
// the archive location when archived, the status directory otherwise
func (r *Resolver) ResolveTaskDir(task *types.Task) string {
	if task.Status == types.TaskStatusArchived && task.CompletedAt != nil {
		return r.ArchiveTaskDir(task.AgentID, task.ID, *task.CompletedAt)
	}
	return r.TaskDir(task.AgentID, task.ID, task.Status)
}

// SiblingStatusDirs returns every non-archived status directory that could
// hold a task, used by the move search fallback
func (r *Resolver) SiblingStatusDirs(agentID string) []string {
	statuses := []types.TaskStatus{
		types.TaskStatusPending,
		types.TaskStatusInProgress,
		types.TaskStatusBlocked,
		types.TaskStatusCompleted,
	}
	dirs := make([]string, 0, len(statuses))
	for _, s := range statuses {
		dirs = append(dirs, r.StatusDir(agentID, s))
	}
	return dirs
}

// InboxDir returns the agent's inbox subdirectory; read selects read/unread
func (r *Resolver) InboxDir(agentID string, read bool) string {
	sub := "unread"
	if read {
		sub = "read"
	}
	return filepath.Join(r.AgentDir(agentID), "inbox", sub)
}

// MessagePath returns the on-disk body path for a message
func (r *Resolver) MessagePath(agentID, msgID string, read bool) string {
	return filepath.Join(r.InboxDir(agentID, read), msgID+".md")
}

// AgentLogPath returns the agent's append-only log file
func (r *Resolver) AgentLogPath(agentID string) string {
	return filepath.Join(r.AgentDir(agentID), "agent.log")
}

// AnalysesDir returns the agent's analyses directory. Its contents are
// opaque to the engine.
func (r *Resolver) AnalysesDir(agentID string) string {
	return filepath.Join(r.AgentDir(agentID), "analyses")
}
