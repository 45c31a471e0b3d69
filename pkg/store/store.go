package store

import (
	"context"
	"time"

	"github.com/cuemby/burrow/pkg/types"
)

// CreateTaskInput carries the caller-supplied fields for a new task
type CreateTaskInput struct {
	ID           string // generated when empty
	AgentID      string
	Title        string
	Priority     types.TaskPriority
	ParentTaskID string
	Description  string
	Subtasks     []string
}

// TransitionExtras carries status-specific fields for a transition
type TransitionExtras struct {
	// BlockedBy is required when the target status is blocked
	BlockedBy []string

	// BlockedSince overrides the blocked timestamp; defaults to now
	BlockedSince *time.Time
}

// Store is the durable record of every task, message, and agent.
//
// Each method is a single ACID transaction. Optimistic concurrency is the
// only barrier against dueling writers: mutations take the version the
// caller read and fail with version_mismatch when the row moved, and the
// caller retries. Reads are snapshot-consistent per call.
type Store interface {
	// Tasks
	CreateTask(ctx context.Context, in CreateTaskInput) (*types.Task, error)
	GetTask(ctx context.Context, id string) (*types.Task, error)
	Transition(ctx context.Context, id string, expectedVersion int64, target types.TaskStatus, extras *TransitionExtras) (*types.Task, error)
	Delegate(ctx context.Context, id string, expectedVersion int64, delegateTo string) (*types.Task, error)
	SetBlockedBy(ctx context.Context, id string, expectedVersion int64, blockedBy []string) (*types.Task, error)
	RollupChildren(ctx context.Context, parentID string, expectedVersion int64) (*types.Task, error)
	ListTasks(ctx context.Context) ([]*types.Task, error)
	ListChildren(ctx context.Context, parentID string) ([]*types.Task, error)
	ListBlocked(ctx context.Context) ([]*types.Task, error)
	ListCompletedBefore(ctx context.Context, cutoff time.Time) ([]*types.Task, error)
	ListArchivedBefore(ctx context.Context, cutoff time.Time) ([]*types.Task, error)

	// Messages
	InsertMessage(ctx context.Context, msg *types.Message) error
	GetMessage(ctx context.Context, id string) (*types.Message, error)
	ListMessagesTo(ctx context.Context, agentID string) ([]*types.Message, error)
	MarkMessageRead(ctx context.Context, id string) (*types.Message, error)

	// Agents (read-mostly reference data)
	PutAgent(ctx context.Context, agent *types.Agent) error
	GetAgent(ctx context.Context, id string) (*types.Agent, error)
	ListAgents(ctx context.Context) ([]*types.Agent, error)

	// Utility
	Close() error
}
