/*
Package store provides the durable task store backed by BoltDB.

The store is the single source of truth for every task, message, and agent
record. Rows are JSON-marshalled into three buckets (tasks, messages,
agents) inside one embedded database file; each public method runs as a
single BoltDB transaction, so the atomic re-read the optimistic concurrency
protocol needs comes for free.

# Concurrency Model

There are no blocking locks above the database. Every mutation takes the
version the caller read:

	task, _ := s.GetTask(ctx, id)
	task, err := s.Transition(ctx, id, task.Version, types.TaskStatusInProgress, nil)
	if types.IsVersionMismatch(err) {
		// somebody else won; re-read and retry
	}

Inside the transaction the row is re-read, the version compared, the status
machine consulted, and the new row written with version+1 and a strictly
monotonic last_updated. Rejected writes leave the row untouched.

# Status-Specific Fields

Transition owns all status bookkeeping:

  - first entry to in_progress sets started_at; every entry bumps
    execution_count and last_executed
  - blocked requires a non-empty blocked_by set and stamps blocked_since
  - leaving blocked for in_progress demands blocked_by be emptied first
    (via SetBlockedBy); completing a blocked task clears the set
  - completed stamps completed_at; archived requires completed_at

CreateTask with a parent bumps the parent's subtasks_total in the same
transaction; RollupChildren recounts completed children for a parent as a
versioned write that rollup callers retry on conflict.

# See Also

  - pkg/types for the row shapes and error kinds
  - pkg/lifecycle for the coordinator that composes store transitions with
    workspace moves and notifications
*/
package store
