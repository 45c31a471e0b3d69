/*
Package monitor drives the periodic maintenance sweeps.

Each tick runs three independent sub-steps in order: archive completed
tasks older than the archival window, compact archived folders older than
the compaction window, and sweep the wait-for graph for deadlocks. A
failing sub-step is logged and the remaining steps still run, so transient
failures self-heal on the next tick. RunOnce exposes a single tick for the
CLI and tests.
*/
package monitor
