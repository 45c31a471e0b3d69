/*
Package fsops provides crash-consistent filesystem primitives for the
workspace tree.

WriteAtomic is the only way file content reaches disk: temp file in the
target directory, full write, fsync, rename. MoveDir relocates a task's
directory between status folders, with an optional search fallback that
probes sibling status directories when the expected source has drifted, and
a copy-then-remove fallback for cross-device renames.

All failures are classified into the engine's fs_error sub-kinds
(not_found, permission_denied, disk_full, cross_device, other) so callers
can branch without inspecting errno. Every operation takes a context and
returns an interrupted error instead of starting work after cancellation.
*/
package fsops
