package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/cuemby/burrow/pkg/types"
	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketTasks    = []byte("tasks")
	bucketMessages = []byte("messages")
	bucketAgents   = []byte("agents")
)

// BoltStore implements Store using BoltDB
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (or creates) the task database under dataDir
func NewBoltStore(dataDir string) (*BoltStore, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	dbPath := filepath.Join(dataDir, "burrow.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{bucketTasks, bucketMessages, bucketAgents}
		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func checkCtx(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return &types.Error{Kind: types.ErrInterrupted, Detail: "store operation cancelled", Err: err}
	}
	return nil
}

// nextTimestamp returns a millisecond timestamp strictly after prev, so the
// last_updated chain stays monotonic per task even under clock granularity
func nextTimestamp(prev time.Time) time.Time {
	now := types.Now()
	if !now.After(prev) {
		return prev.Add(time.Millisecond)
	}
	return now
}

func getTask(tx *bolt.Tx, id string) (*types.Task, error) {
	data := tx.Bucket(bucketTasks).Get([]byte(id))
	if data == nil {
		return nil, types.NewError(types.ErrTaskNotFound, "task not found: %s", id)
	}
	var task types.Task
	if err := json.Unmarshal(data, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

func putTask(tx *bolt.Tx, task *types.Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return tx.Bucket(bucketTasks).Put([]byte(task.ID), data)
}

func checkVersion(task *types.Task, expected int64) error {
	if task.Version != expected {
		return types.NewError(types.ErrVersionMismatch,
			"task %s: expected version %d, found %d", task.ID, expected, task.Version)
	}
	return nil
}

// CreateTask inserts a pending task at version 1. When a parent is named,
// the parent's subtask counters are bumped in the same transaction so the
// pair can never drift apart.
func (s *BoltStore) CreateTask(ctx context.Context, in CreateTaskInput) (*types.Task, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	if !in.Priority.Valid() {
		in.Priority = types.TaskPriorityMedium
	}
	id := in.ID
	if id == "" {
		id = "task-" + uuid.New().String()[:8]
	}

	var created *types.Task
	err := s.db.Update(func(tx *bolt.Tx) error {
		if existing := tx.Bucket(bucketTasks).Get([]byte(id)); existing != nil {
			return types.NewError(types.ErrInvariantViolated, "task id already exists: %s", id)
		}

		now := types.Now()
		task := &types.Task{
			ID:          id,
			AgentID:     in.AgentID,
			Title:       in.Title,
			Status:      types.TaskStatusPending,
			Priority:    in.Priority,
			CreatedAt:   now,
			TaskPath:    in.Title,
			Description: in.Description,
			Subtasks:    in.Subtasks,
			Version:     1,
			LastUpdated: now,
		}

		if in.ParentTaskID != "" {
			parent, err := getTask(tx, in.ParentTaskID)
			if err != nil {
				return types.NewError(types.ErrParentNotFound, "parent task not found: %s", in.ParentTaskID)
			}
			task.ParentTaskID = parent.ID
			task.Depth = parent.Depth + 1
			task.TaskPath = parent.TaskPath + " > " + in.Title

			parent.SubtasksTotal++
			parent.PercentComplete = types.RoundPercent(parent.SubtasksCompleted, parent.SubtasksTotal)
			parent.Version++
			parent.LastUpdated = nextTimestamp(parent.LastUpdated)
			if err := putTask(tx, parent); err != nil {
				return err
			}
		}

		created = task
		return putTask(tx, task)
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// GetTask retrieves a task by ID
func (s *BoltStore) GetTask(ctx context.Context, id string) (*types.Task, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	var task *types.Task
	err := s.db.View(func(tx *bolt.Tx) error {
		t, err := getTask(tx, id)
		if err != nil {
			return err
		}
		task = t
		return nil
	})
	return task, err
}

// Transition atomically re-reads the row, verifies the caller's version and
// the status machine, and writes the new row with status-specific fields:
// started_at on first entry to in_progress, completed_at on completed, the
// blocked_by set on blocked, and clearing of blocked_by when leaving blocked.
func (s *BoltStore) Transition(ctx context.Context, id string, expectedVersion int64, target types.TaskStatus, extras *TransitionExtras) (*types.Task, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	var updated *types.Task
	err := s.db.Update(func(tx *bolt.Tx) error {
		task, err := getTask(tx, id)
		if err != nil {
			return err
		}
		if err := checkVersion(task, expectedVersion); err != nil {
			return err
		}
		if !types.CanTransition(task.Status, target) {
			return types.NewError(types.ErrInvalidTransition,
				"task %s: illegal transition %s -> %s", id, task.Status, target)
		}

		from := task.Status
		now := nextTimestamp(task.LastUpdated)

		switch target {
		case types.TaskStatusInProgress:
			if from == types.TaskStatusBlocked && len(task.BlockedBy) > 0 {
				return types.NewError(types.ErrInvariantViolated,
					"task %s: cannot resume while blocked_by is non-empty (%d entries)", id, len(task.BlockedBy))
			}
			if task.StartedAt == nil {
				t := now
				task.StartedAt = &t
			}
			t := now
			task.LastExecuted = &t
			task.ExecutionCount++
			task.BlockedSince = nil

		case types.TaskStatusBlocked:
			if extras == nil || len(extras.BlockedBy) == 0 {
				return types.NewError(types.ErrInvariantViolated,
					"task %s: transition to blocked requires a non-empty blocked_by set", id)
			}
			task.BlockedBy = append([]string(nil), extras.BlockedBy...)
			task.NormalizeBlockedBy()
			if extras.BlockedSince != nil {
				t := extras.BlockedSince.UTC().Truncate(time.Millisecond)
				task.BlockedSince = &t
			} else {
				t := now
				task.BlockedSince = &t
			}

		case types.TaskStatusCompleted:
			t := now
			task.CompletedAt = &t
			task.BlockedBy = nil
			task.BlockedSince = nil

		case types.TaskStatusArchived:
			if task.CompletedAt == nil {
				return types.NewError(types.ErrInvariantViolated,
					"task %s: cannot archive without completed_at", id)
			}
		}

		task.Status = target
		task.Version++
		task.LastUpdated = now

		updated = task
		return putTask(tx, task)
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Delegate records the current executor. Ownership (agent_id) and status are
// unchanged; the row version still bumps.
func (s *BoltStore) Delegate(ctx context.Context, id string, expectedVersion int64, delegateTo string) (*types.Task, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	var updated *types.Task
	err := s.db.Update(func(tx *bolt.Tx) error {
		task, err := getTask(tx, id)
		if err != nil {
			return err
		}
		if err := checkVersion(task, expectedVersion); err != nil {
			return err
		}

		now := nextTimestamp(task.LastUpdated)
		task.DelegatedTo = delegateTo
		t := now
		task.DelegatedAt = &t
		task.Version++
		task.LastUpdated = now

		updated = task
		return putTask(tx, task)
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// SetBlockedBy replaces the wait-for set of a blocked task. Setting it to
// empty does not change status; the task stays blocked until an explicit
// unblock transition.
func (s *BoltStore) SetBlockedBy(ctx context.Context, id string, expectedVersion int64, blockedBy []string) (*types.Task, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	var updated *types.Task
	err := s.db.Update(func(tx *bolt.Tx) error {
		task, err := getTask(tx, id)
		if err != nil {
			return err
		}
		if err := checkVersion(task, expectedVersion); err != nil {
			return err
		}
		if task.Status != types.TaskStatusBlocked {
			return types.NewError(types.ErrInvariantViolated,
				"task %s: blocked_by can only change while blocked (status %s)", id, task.Status)
		}

		task.BlockedBy = append([]string(nil), blockedBy...)
		task.NormalizeBlockedBy()
		now := nextTimestamp(task.LastUpdated)
		task.Version++
		task.LastUpdated = now

		updated = task
		return putTask(tx, task)
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// RollupChildren recomputes a parent's completion counters from its
// children in a single transaction. The write is versioned like any other
// mutation; callers retry on version_mismatch.
func (s *BoltStore) RollupChildren(ctx context.Context, parentID string, expectedVersion int64) (*types.Task, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	var updated *types.Task
	err := s.db.Update(func(tx *bolt.Tx) error {
		parent, err := getTask(tx, parentID)
		if err != nil {
			return err
		}
		if err := checkVersion(parent, expectedVersion); err != nil {
			return err
		}
		if parent.SubtasksTotal == 0 {
			updated = parent
			return nil
		}

		completed := 0
		err = tx.Bucket(bucketTasks).ForEach(func(k, v []byte) error {
			var child types.Task
			if err := json.Unmarshal(v, &child); err != nil {
				return err
			}
			if child.ParentTaskID != parentID {
				return nil
			}
			if child.Status == types.TaskStatusCompleted || child.Status == types.TaskStatusArchived {
				completed++
			}
			return nil
		})
		if err != nil {
			return err
		}

		parent.SubtasksCompleted = completed
		parent.PercentComplete = types.RoundPercent(completed, parent.SubtasksTotal)
		now := nextTimestamp(parent.LastUpdated)
		parent.Version++
		parent.LastUpdated = now

		updated = parent
		return putTask(tx, parent)
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *BoltStore) listTasks(ctx context.Context, keep func(*types.Task) bool) ([]*types.Task, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	var tasks []*types.Task
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTasks).ForEach(func(k, v []byte) error {
			var task types.Task
			if err := json.Unmarshal(v, &task); err != nil {
				return err
			}
			if keep == nil || keep(&task) {
				tasks = append(tasks, &task)
			}
			return nil
		})
	})
	return tasks, err
}

// ListTasks returns all tasks
func (s *BoltStore) ListTasks(ctx context.Context) ([]*types.Task, error) {
	return s.listTasks(ctx, nil)
}

// ListChildren returns all direct children of a parent task
func (s *BoltStore) ListChildren(ctx context.Context, parentID string) ([]*types.Task, error) {
	return s.listTasks(ctx, func(t *types.Task) bool {
		return t.ParentTaskID == parentID
	})
}

// ListBlocked returns all tasks with status blocked
func (s *BoltStore) ListBlocked(ctx context.Context) ([]*types.Task, error) {
	return s.listTasks(ctx, func(t *types.Task) bool {
		return t.Status == types.TaskStatusBlocked
	})
}

// ListCompletedBefore returns completed tasks whose completed_at is strictly
// before the cutoff
func (s *BoltStore) ListCompletedBefore(ctx context.Context, cutoff time.Time) ([]*types.Task, error) {
	return s.listTasks(ctx, func(t *types.Task) bool {
		return t.Status == types.TaskStatusCompleted &&
			t.CompletedAt != nil && t.CompletedAt.Before(cutoff)
	})
}

// ListArchivedBefore returns archived tasks whose completed_at is strictly
// before the cutoff. Compaction keys off completion time, not archival time.
func (s *BoltStore) ListArchivedBefore(ctx context.Context, cutoff time.Time) ([]*types.Task, error) {
	return s.listTasks(ctx, func(t *types.Task) bool {
		return t.Status == types.TaskStatusArchived &&
			t.CompletedAt != nil && t.CompletedAt.Before(cutoff)
	})
}

// InsertMessage indexes a delivered message
func (s *BoltStore) InsertMessage(ctx context.Context, msg *types.Message) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(msg)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketMessages).Put([]byte(msg.ID), data)
	})
}

// GetMessage retrieves a message by ID
func (s *BoltStore) GetMessage(ctx context.Context, id string) (*types.Message, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	var msg types.Message
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketMessages).Get([]byte(id))
		if data == nil {
			return types.NewError(types.ErrMessageNotFound, "message not found: %s", id)
		}
		return json.Unmarshal(data, &msg)
	})
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// ListMessagesTo returns all messages addressed to an agent, in send order
func (s *BoltStore) ListMessagesTo(ctx context.Context, agentID string) ([]*types.Message, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	var msgs []*types.Message
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMessages).ForEach(func(k, v []byte) error {
			var msg types.Message
			if err := json.Unmarshal(v, &msg); err != nil {
				return err
			}
			if msg.ToAgent == agentID {
				msgs = append(msgs, &msg)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(msgs, func(i, j int) bool {
		return msgs[i].Timestamp.Before(msgs[j].Timestamp)
	})
	return msgs, nil
}

// MarkMessageRead flips the read flag. The flip is idempotent: marking an
// already-read message is a no-op that still returns the row.
func (s *BoltStore) MarkMessageRead(ctx context.Context, id string) (*types.Message, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	var msg types.Message
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketMessages)
		data := b.Get([]byte(id))
		if data == nil {
			return types.NewError(types.ErrMessageNotFound, "message not found: %s", id)
		}
		if err := json.Unmarshal(data, &msg); err != nil {
			return err
		}
		if msg.Read {
			return nil
		}
		msg.Read = true
		out, err := json.Marshal(&msg)
		if err != nil {
			return err
		}
		return b.Put([]byte(id), out)
	})
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// PutAgent upserts an agent record
func (s *BoltStore) PutAgent(ctx context.Context, agent *types.Agent) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(agent)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketAgents).Put([]byte(agent.ID), data)
	})
}

// GetAgent retrieves an agent by ID
func (s *BoltStore) GetAgent(ctx context.Context, id string) (*types.Agent, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	var agent types.Agent
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketAgents).Get([]byte(id))
		if data == nil {
			return types.NewError(types.ErrAgentNotFound, "agent not found: %s", id)
		}
		return json.Unmarshal(data, &agent)
	})
	if err != nil {
		return nil, err
	}
	return &agent, nil
}

// ListAgents returns all agent records
func (s *BoltStore) ListAgents(ctx context.Context) ([]*types.Agent, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	var agents []*types.Agent
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAgents).ForEach(func(k, v []byte) error {
			var agent types.Agent
			if err := json.Unmarshal(v, &agent); err != nil {
				return err
			}
			agents = append(agents, &agent)
			return nil
		})
	})
	return agents, err
}
