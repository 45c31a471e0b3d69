/*
Package archive ages completed tasks out of the working tree.

Archival runs in two passes driven by the periodic monitor. The first pass
marks old completed tasks archived in the store and relocates their folders
into tasks/archive/<YYYY-MM>/, where the month comes from completed_at. The
second pass, much later, collapses each archived folder into a single
<task_id>.tar.gz preserving relative paths and file modes.

Both passes are idempotent: selection excludes what a prior run finished,
and a folder left beside its tarball by a crash is cleaned up and counted
on the rerun. Per-task failures are logged and skipped so one bad task
never stalls the sweep.
*/
package archive
