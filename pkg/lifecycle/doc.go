/*
Package lifecycle coordinates task state changes across the store, the
workspace tree, and agent inboxes.

The Coordinator is the only mutation path for tasks. Every operation runs
the same skeleton: commit the store transition first, then move or refresh
the workspace directory, then notify. The store stays the source of truth
throughout; when a filesystem step fails or a cancellation lands after the
commit, the error carries CommitObserved so the caller knows the transition
stuck, and Reconcile later repairs the directory from the row.

# Operations

	Create    persist a pending task and materialize its folder
	Start     pending/blocked -> in_progress, move the folder
	Block     record the wait-for set, move to blocked/
	Unblock   resume once blocked_by is empty
	Delegate  hand off to another agent and notify them
	Complete  finish, move to completed/, roll progress up the ancestry
	Reconcile regenerate or relocate drifted task directories

Completion drives the parent rollup: each ancestor's subtask counters are
recomputed as a versioned write, retried with bounded randomized backoff on
optimistic conflicts. Notifications never fail the operation that produced
them; delivery errors are logged and swallowed.
*/
package lifecycle
