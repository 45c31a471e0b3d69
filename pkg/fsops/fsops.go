package fsops

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"syscall"

	"github.com/cuemby/burrow/pkg/types"
)

// classify maps an os-level error onto the engine's filesystem error kinds
func classify(err error, op, path string) *types.Error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return types.NewFsError(types.FsNotFound, err, "%s %s", op, path)
	case errors.Is(err, fs.ErrPermission):
		return types.NewFsError(types.FsPermissionDenied, err, "%s %s", op, path)
	case errors.Is(err, syscall.ENOSPC):
		return types.NewFsError(types.FsDiskFull, err, "%s %s", op, path)
	case errors.Is(err, syscall.EXDEV):
		return types.NewFsError(types.FsCrossDevice, err, "%s %s", op, path)
	default:
		return types.NewFsError(types.FsOther, err, "%s %s", op, path)
	}
}

func checkCtx(ctx context.Context) *types.Error {
	if err := ctx.Err(); err != nil {
		return &types.Error{Kind: types.ErrInterrupted, Detail: "filesystem operation cancelled", Err: err}
	}
	return nil
}

// WriteAtomic writes data to path with crash-consistent semantics: the bytes
// land in a temp file in the target directory, are fsynced, and the temp file
// is renamed over the target. On any failure the temp file is removed and the
// target is untouched. Parent directories are created on demand.
func WriteAtomic(ctx context.Context, path string, data []byte) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return classify(err, "mkdir", dir)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return classify(err, "create temp for", path)
	}
	tmpName := tmp.Name()

	cleanup := func(cause error, op string) error {
		tmp.Close()
		os.Remove(tmpName)
		return classify(cause, op, path)
	}

	if _, err := tmp.Write(data); err != nil {
		return cleanup(err, "write")
	}
	if err := tmp.Sync(); err != nil {
		return cleanup(err, "fsync")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return classify(err, "close", path)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return classify(err, "rename over", path)
	}
	return nil
}

// MoveDirOptions controls MoveDir behavior
type MoveDirOptions struct {
	// SearchDirs are probed for a subdirectory named like the source's base
	// when the source itself does not exist. The first hit is moved instead.
	SearchDirs []string

	// CreateIfMissing materializes an empty destination directory when the
	// source is gone and the search found nothing, instead of failing.
	CreateIfMissing bool
}

// MoveDir renames the directory subtree at src to dst.
//
// The destination is derived state: if dst already exists it is removed
// first. The caller is responsible for not invoking MoveDir when dst holds
// user-authored content that must survive. Cross-device renames fall back to
// copy-then-remove.
func MoveDir(ctx context.Context, src, dst string, opts MoveDirOptions) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}

	if _, err := os.Stat(src); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return classify(err, "stat", src)
		}
		found := ""
		base := filepath.Base(src)
		for _, dir := range opts.SearchDirs {
			candidate := filepath.Join(dir, base)
			if candidate == src {
				continue
			}
			if info, err := os.Stat(candidate); err == nil && info.IsDir() {
				found = candidate
				break
			}
		}
		if found == "" {
			if opts.CreateIfMissing {
				if err := os.MkdirAll(dst, 0755); err != nil {
					return classify(err, "mkdir", dst)
				}
				return nil
			}
			return types.NewFsError(types.FsNotFound, err, "move source %s", src)
		}
		src = found
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return classify(err, "mkdir parent of", dst)
	}
	if _, err := os.Stat(dst); err == nil {
		if err := os.RemoveAll(dst); err != nil {
			return classify(err, "remove stale", dst)
		}
	}

	if err := os.Rename(src, dst); err != nil {
		if errors.Is(err, syscall.EXDEV) {
			return copyThenRemove(ctx, src, dst)
		}
		return classify(err, "rename", src)
	}
	return nil
}

// copyThenRemove is the EXDEV fallback: replicate the tree, then remove the
// source. Mode bits are preserved.
func copyThenRemove(ctx context.Context, src, dst string) error {
	err := filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		info, err := d.Info()
		if err != nil {
			return err
		}
		if d.IsDir() {
			return os.MkdirAll(target, info.Mode().Perm())
		}
		return copyFile(path, target, info.Mode().Perm())
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return &types.Error{Kind: types.ErrInterrupted, Detail: "copy cancelled", Err: err}
		}
		return classify(err, "copy", src)
	}
	if err := os.RemoveAll(src); err != nil {
		return classify(err, "remove", src)
	}
	return nil
}

func copyFile(src, dst string, perm fs.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// RemoveDir removes a directory subtree, classifying failures
func RemoveDir(ctx context.Context, path string) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}
	if err := os.RemoveAll(path); err != nil {
		return classify(err, "remove", path)
	}
	return nil
}

// Exists reports whether path exists
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// AppendLine appends a single line to path, creating parents on demand.
// Used for agent audit logs; appends are not atomic but are line-buffered.
func AppendLine(ctx context.Context, path, line string) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return classify(err, "mkdir", filepath.Dir(path))
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return classify(err, "open", path)
	}
	if _, err := f.WriteString(line + "\n"); err != nil {
		f.Close()
		return classify(err, "append", path)
	}
	return f.Close()
}
