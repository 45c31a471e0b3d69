package types

import (
	"sort"
	"time"
)

// TaskStatus represents the lifecycle state of a task
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusBlocked    TaskStatus = "blocked"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusArchived   TaskStatus = "archived"
)

// taskTransitions encodes the legal status machine. Archived is terminal.
var taskTransitions = map[TaskStatus][]TaskStatus{
	TaskStatusPending:    {TaskStatusInProgress, TaskStatusBlocked, TaskStatusCompleted},
	TaskStatusInProgress: {TaskStatusBlocked, TaskStatusCompleted},
	TaskStatusBlocked:    {TaskStatusInProgress, TaskStatusCompleted},
	TaskStatusCompleted:  {TaskStatusArchived},
	TaskStatusArchived:   {},
}

// Valid reports whether s is one of the five known statuses
func (s TaskStatus) Valid() bool {
	_, ok := taskTransitions[s]
	return ok
}

// CanTransition reports whether from -> to is a legal status transition
func CanTransition(from, to TaskStatus) bool {
	for _, next := range taskTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// TaskPriority represents task urgency
type TaskPriority string

const (
	TaskPriorityUrgent TaskPriority = "urgent"
	TaskPriorityHigh   TaskPriority = "high"
	TaskPriorityMedium TaskPriority = "medium"
	TaskPriorityLow    TaskPriority = "low"
)

// Valid reports whether p is a known priority
func (p TaskPriority) Valid() bool {
	switch p {
	case TaskPriorityUrgent, TaskPriorityHigh, TaskPriorityMedium, TaskPriorityLow:
		return true
	}
	return false
}

// Task is the durable unit of work owned by an agent.
//
// Version implements optimistic concurrency: it starts at 1 and increments on
// every committed mutation. Writers supply the version they read; the store
// rejects the write with a version_mismatch error if the row moved underneath
// them.
type Task struct {
	ID       string       `json:"id"`
	AgentID  string       `json:"agent_id"`
	Title    string       `json:"title"`
	Status   TaskStatus   `json:"status"`
	Priority TaskPriority `json:"priority"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	ParentTaskID string `json:"parent_task_id,omitempty"`
	Depth        int    `json:"depth"`
	TaskPath     string `json:"task_path"`

	DelegatedTo string     `json:"delegated_to,omitempty"`
	DelegatedAt *time.Time `json:"delegated_at,omitempty"`

	PercentComplete   int `json:"percent_complete"`
	SubtasksCompleted int `json:"subtasks_completed"`
	SubtasksTotal     int `json:"subtasks_total"`

	BlockedBy    []string   `json:"blocked_by,omitempty"`
	BlockedSince *time.Time `json:"blocked_since,omitempty"`

	Description string   `json:"description,omitempty"`
	Subtasks    []string `json:"subtasks,omitempty"`

	Version        int64      `json:"version"`
	LastUpdated    time.Time  `json:"last_updated"`
	LastExecuted   *time.Time `json:"last_executed,omitempty"`
	ExecutionCount int        `json:"execution_count"`
}

// IsBlockedBy reports whether id is in the task's blocked_by set
func (t *Task) IsBlockedBy(id string) bool {
	for _, b := range t.BlockedBy {
		if b == id {
			return true
		}
	}
	return false
}

// NormalizeBlockedBy sorts and deduplicates the blocked_by set in place
func (t *Task) NormalizeBlockedBy() {
	if len(t.BlockedBy) == 0 {
		t.BlockedBy = nil
		return
	}
	sort.Strings(t.BlockedBy)
	out := t.BlockedBy[:1]
	for _, b := range t.BlockedBy[1:] {
		if b != out[len(out)-1] {
			out = append(out, b)
		}
	}
	t.BlockedBy = out
}

// MessagePriority represents notification urgency
type MessagePriority string

const (
	MessagePriorityUrgent MessagePriority = "urgent"
	MessagePriorityHigh   MessagePriority = "high"
	MessagePriorityNormal MessagePriority = "normal"
	MessagePriorityLow    MessagePriority = "low"
)

// MessagePriorityForTask maps a task priority onto the notification priority
// used when a message originates from a task event
func MessagePriorityForTask(p TaskPriority) MessagePriority {
	switch p {
	case TaskPriorityUrgent:
		return MessagePriorityUrgent
	case TaskPriorityHigh:
		return MessagePriorityHigh
	default:
		return MessagePriorityNormal
	}
}

// Message is an append-only notification record indexed in the store.
// The rendered body lives in the recipient's inbox at BodyPath.
type Message struct {
	ID             string          `json:"id"`
	FromAgent      string          `json:"from_agent"`
	ToAgent        string          `json:"to_agent"`
	Timestamp      time.Time       `json:"timestamp"`
	Priority       MessagePriority `json:"priority"`
	Channel        string          `json:"channel"`
	Read           bool            `json:"read"`
	ActionRequired bool            `json:"action_required"`
	Subject        string          `json:"subject"`
	ThreadID       string          `json:"thread_id"`
	BodyPath       string          `json:"body_path"`
}

// CommunicationPrefs holds an agent's notification opt-outs.
// Unset fields default to enabled.
type CommunicationPrefs struct {
	NotifyOnDelegation *bool `json:"notify_on_delegation,omitempty"`
	NotifyOnCompletion *bool `json:"notify_on_completion,omitempty"`
	NotifyOnDeadlock   *bool `json:"notify_on_deadlock,omitempty"`
}

func prefEnabled(p *bool) bool {
	return p == nil || *p
}

// DelegationEnabled reports whether delegation notifications are allowed
func (p CommunicationPrefs) DelegationEnabled() bool { return prefEnabled(p.NotifyOnDelegation) }

// CompletionEnabled reports whether completion notifications are allowed
func (p CommunicationPrefs) CompletionEnabled() bool { return prefEnabled(p.NotifyOnCompletion) }

// DeadlockEnabled reports whether deadlock notifications are allowed
func (p CommunicationPrefs) DeadlockEnabled() bool { return prefEnabled(p.NotifyOnDeadlock) }

// Agent is a named autonomous worker. The engine treats agent records as
// read-only reference data: it looks up display names, the reporting line,
// and communication preferences but never mutates them.
type Agent struct {
	ID          string             `json:"id"`
	DisplayName string             `json:"display_name"`
	ReportingTo string             `json:"reporting_to,omitempty"`
	Prefs       CommunicationPrefs `json:"communication_preferences"`
	CreatedAt   time.Time          `json:"created_at"`
}

// Now returns the current UTC time truncated to millisecond precision,
// the resolution persisted on task and message rows
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

// RoundPercent computes round(100 * completed / total). Returns 0 when
// total is 0.
func RoundPercent(completed, total int) int {
	if total <= 0 {
		return 0
	}
	return int((float64(completed)*100/float64(total)) + 0.5)
}
