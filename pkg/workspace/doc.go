/*
Package workspace mirrors task rows onto per-task directories.

Each task owns a folder under its agent's status directory holding four
files: plan.md, progress.md, subtasks.md, and context.json. The first three
are narrative scaffolding rendered once at creation for agents to edit;
context.json is a stable machine-readable projection of the row that the
Materializer re-emits on demand.

Status changes move the whole directory between status folders rather than
rewriting contents, so agent-authored edits travel with the task. The move
carries a search fallback: when the expected source folder has drifted, the
sibling status directories are probed for the task id, and a directory lost
entirely is recreated empty at the destination.
*/
package workspace
