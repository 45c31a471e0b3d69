package archive

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/rs/zerolog"

	"github.com/cuemby/burrow/pkg/events"
	"github.com/cuemby/burrow/pkg/fsops"
	"github.com/cuemby/burrow/pkg/paths"
	"github.com/cuemby/burrow/pkg/store"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/cuemby/burrow/pkg/workspace"
)

// Archiver ages completed tasks out of the working tree.
//
// ArchiveOld moves tasks completed more than N days ago into dated archive
// folders and marks them archived in the store. CompressOld later collapses
// each archived folder into a single gzipped tar. Both passes are idempotent
// and continue past per-task failures, so a crashed run finishes on the next
// tick.
type Archiver struct {
	store  store.Store
	ws     *workspace.Materializer
	paths  *paths.Resolver
	broker *events.Broker
	logger zerolog.Logger
}

// NewArchiver creates an archiver
func NewArchiver(s store.Store, ws *workspace.Materializer, resolver *paths.Resolver, broker *events.Broker, logger zerolog.Logger) *Archiver {
	return &Archiver{
		store:  s,
		ws:     ws,
		paths:  resolver,
		broker: broker,
		logger: logger.With().Str("component", "archive").Logger(),
	}
}

// ArchiveOld archives every completed task whose completed_at is older than
// olderThan. Returns the number of tasks archived.
func (a *Archiver) ArchiveOld(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := types.Now().Add(-olderThan)
	candidates, err := a.store.ListCompletedBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("list completed tasks: %w", err)
	}

	archived := 0
	for _, task := range candidates {
		if err := ctx.Err(); err != nil {
			return archived, types.NewError(types.ErrInterrupted, "archival sweep cancelled")
		}

		updated, err := a.store.Transition(ctx, task.ID, task.Version, types.TaskStatusArchived, nil)
		if err != nil {
			a.logger.Error().Err(err).Str("task_id", task.ID).Msg("Archive transition failed")
			continue
		}
		if err := a.ws.Move(ctx, updated, types.TaskStatusCompleted); err != nil {
			// Store already holds the truth; the next reconcile relocates the directory
			a.logger.Error().Err(err).Str("task_id", task.ID).Msg("Archive directory move failed")
		}
		archived++
		a.broker.Publish(events.TaskEvent(events.EventTaskArchived, task.ID, task.AgentID, "Task archived"))

		a.logger.Info().
			Str("task_id", task.ID).
			Str("agent_id", task.AgentID).
			Str("month", paths.ArchiveMonth(*updated.CompletedAt)).
			Msg("Task archived")
	}
	return archived, nil
}

// CompressOld replaces the folder of every archived task whose completed_at
// is older than olderThan with <task_id>.tar.gz. A folder left next to an
// existing tarball by a crashed prior run is removed and counted. Returns
// the number of tasks compressed.
func (a *Archiver) CompressOld(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := types.Now().Add(-olderThan)
	candidates, err := a.store.ListArchivedBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("list archived tasks: %w", err)
	}

	compressed := 0
	for _, task := range candidates {
		if err := ctx.Err(); err != nil {
			return compressed, types.NewError(types.ErrInterrupted, "compaction sweep cancelled")
		}
		if task.CompletedAt == nil {
			continue
		}

		dir := a.paths.ArchiveTaskDir(task.AgentID, task.ID, *task.CompletedAt)
		tarball := dir + ".tar.gz"

		switch {
		case !fsops.Exists(dir):
			// Nothing to do: already compressed or directory lost
		case fsops.Exists(tarball):
			// Partial prior run: the tarball is complete, drop the folder
			if err := fsops.RemoveDir(ctx, dir); err != nil {
				a.logger.Error().Err(err).Str("task_id", task.ID).Msg("Stale archive folder removal failed")
				continue
			}
			compressed++
			a.broker.Publish(events.TaskEvent(events.EventTaskCompressed, task.ID, task.AgentID, "Task archive compressed"))
		default:
			if err := compressDir(dir, tarball); err != nil {
				a.logger.Error().Err(err).Str("task_id", task.ID).Msg("Archive compression failed")
				continue
			}
			if err := fsops.RemoveDir(ctx, dir); err != nil {
				a.logger.Error().Err(err).Str("task_id", task.ID).Msg("Archive folder removal failed")
				continue
			}
			compressed++
			a.broker.Publish(events.TaskEvent(events.EventTaskCompressed, task.ID, task.AgentID, "Task archive compressed"))
			a.logger.Info().Str("task_id", task.ID).Str("tarball", tarball).Msg("Task archive compressed")
		}
	}
	return compressed, nil
}

// compressDir writes a gzipped tar of dir to tarball. Entries use paths
// relative to dir's parent so extraction recreates <task_id>/... with mode
// bits intact. The tarball appears atomically via a temp file rename.
func compressDir(dir, tarball string) error {
	tmp, err := os.CreateTemp(filepath.Dir(tarball), "."+filepath.Base(tarball)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	fail := func(cause error) error {
		tmp.Close()
		os.Remove(tmpName)
		return cause
	}

	gz := gzip.NewWriter(tmp)
	tw := tar.NewWriter(gz)
	base := filepath.Base(dir)

	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		name := base
		if rel != "." {
			name = filepath.Join(base, rel)
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(name)
		if d.IsDir() {
			hdr.Name += "/"
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
	if err != nil {
		return fail(err)
	}
	if err := tw.Close(); err != nil {
		return fail(err)
	}
	if err := gz.Close(); err != nil {
		return fail(err)
	}
	if err := tmp.Sync(); err != nil {
		return fail(err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, tarball); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
