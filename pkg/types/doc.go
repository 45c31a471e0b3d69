/*
Package types defines the core data structures used throughout Burrow.

This package contains the fundamental types of Burrow's domain model: tasks,
their status machine and priorities, notification messages, agent records, and
the typed errors every component surfaces. All other packages depend on it;
it depends on nothing but the standard library.

# Core Types

Task:
  - The durable unit of work, owned by an agent
  - Five-state status machine: pending, in_progress, blocked, completed, archived
  - Version field for optimistic concurrency (starts at 1, bumps on every write)
  - Hierarchy fields (parent_task_id, depth, task_path) and progress rollup
    fields (percent_complete, subtasks_completed, subtasks_total)
  - blocked_by set: the wait-for edges consumed by the deadlock detector

Message:
  - Append-only notification record
  - thread_id groups related messages (e.g. "task-<id>" for delegation,
    a deterministic cycle key for deadlocks)
  - body_path points at the rendered markdown in the recipient's inbox

Agent:
  - Read-only reference record: display name, reporting line,
    communication preferences (all default to enabled when unset)

# Status Machine

	pending     -> in_progress | blocked | completed
	in_progress -> blocked | completed
	blocked     -> in_progress | completed
	completed   -> archived
	archived    -> (terminal)

CanTransition is the single source of truth; the store rejects everything
else with an invalid_transition error.

# Errors

Every surfaced error is a *types.Error carrying a machine-readable ErrorKind
(version_mismatch, invalid_transition, task_not_found, fs_error, interrupted,
...) plus a human-readable detail string. Filesystem errors additionally
carry an FsKind sub-classification. Use the Is* predicates or KindOf to
branch on error class instead of string matching.

# See Also

  - pkg/store for how these rows are persisted
  - pkg/workspace for the on-disk projection of a Task
*/
package types
