package fsops

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/cuemby/burrow/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteAtomic(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	path := filepath.Join(dir, "nested", "deeper", "plan.md")
	require.NoError(t, WriteAtomic(ctx, path, []byte("# Plan\n")))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "# Plan\n", string(data))

	// Overwrite replaces content in full
	require.NoError(t, WriteAtomic(ctx, path, []byte("v2")))
	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "v2", string(data))

	// No temp files left behind
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestWriteAtomicCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := WriteAtomic(ctx, filepath.Join(t.TempDir(), "x"), []byte("data"))
	require.Error(t, err)
	assert.True(t, types.IsInterrupted(err))
}

func TestMoveDir(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()

	src := filepath.Join(root, "pending", "task-1")
	require.NoError(t, os.MkdirAll(src, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "plan.md"), []byte("plan"), 0644))

	dst := filepath.Join(root, "in_progress", "task-1")
	require.NoError(t, MoveDir(ctx, src, dst, MoveDirOptions{}))

	assert.False(t, Exists(src))
	data, err := os.ReadFile(filepath.Join(dst, "plan.md"))
	require.NoError(t, err)
	assert.Equal(t, "plan", string(data))
}

func TestMoveDirReplacesStaleDestination(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()

	src := filepath.Join(root, "blocked", "task-1")
	require.NoError(t, os.MkdirAll(src, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "progress.md"), []byte("fresh"), 0644))

	dst := filepath.Join(root, "completed", "task-1")
	require.NoError(t, os.MkdirAll(dst, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dst, "progress.md"), []byte("stale"), 0644))

	require.NoError(t, MoveDir(ctx, src, dst, MoveDirOptions{}))
	data, err := os.ReadFile(filepath.Join(dst, "progress.md"))
	require.NoError(t, err)
	assert.Equal(t, "fresh", string(data))
}

func TestMoveDirSearchFallback(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()

	// The task directory is under blocked/ even though the caller believes
	// it is under in_progress/
	actual := filepath.Join(root, "blocked", "task-1")
	require.NoError(t, os.MkdirAll(actual, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(actual, "plan.md"), []byte("x"), 0644))

	src := filepath.Join(root, "in_progress", "task-1")
	dst := filepath.Join(root, "completed", "task-1")

	err := MoveDir(ctx, src, dst, MoveDirOptions{
		SearchDirs: []string{
			filepath.Join(root, "pending"),
			filepath.Join(root, "in_progress"),
			filepath.Join(root, "blocked"),
		},
	})
	require.NoError(t, err)
	assert.True(t, Exists(filepath.Join(dst, "plan.md")))
	assert.False(t, Exists(actual))
}

func TestMoveDirMissingEverywhere(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()

	src := filepath.Join(root, "pending", "ghost")
	dst := filepath.Join(root, "completed", "ghost")

	// Without CreateIfMissing the move fails with a not_found fs error
	err := MoveDir(ctx, src, dst, MoveDirOptions{SearchDirs: []string{filepath.Join(root, "blocked")}})
	require.Error(t, err)
	assert.Equal(t, types.FsNotFound, types.FsKindOf(err))

	// With CreateIfMissing an empty destination is materialized
	err = MoveDir(ctx, src, dst, MoveDirOptions{CreateIfMissing: true})
	require.NoError(t, err)
	assert.True(t, Exists(dst))
}

func TestAppendLine(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "logs", "agent.log")

	require.NoError(t, AppendLine(ctx, path, "first"))
	require.NoError(t, AppendLine(ctx, path, "second"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "first\nsecond\n", string(data))
}
