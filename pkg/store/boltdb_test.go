package store

import (
	"context"
	"testing"
	"time"

	"github.com/cuemby/burrow/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	s, err := NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateTask(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	task, err := s.CreateTask(ctx, CreateTaskInput{
		ID:       "T1",
		AgentID:  "manager-001",
		Title:    "Implement user authentication",
		Priority: types.TaskPriorityHigh,
	})
	require.NoError(t, err)

	assert.Equal(t, types.TaskStatusPending, task.Status)
	assert.Equal(t, int64(1), task.Version)
	assert.Equal(t, 0, task.PercentComplete)
	assert.Equal(t, 0, task.Depth)
	assert.Empty(t, task.ParentTaskID)
	assert.False(t, task.CreatedAt.IsZero())

	got, err := s.GetTask(ctx, "T1")
	require.NoError(t, err)
	assert.Equal(t, task.Title, got.Title)
}

func TestCreateTaskWithParent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	parent, err := s.CreateTask(ctx, CreateTaskInput{ID: "Tm", AgentID: "manager-002", Title: "Build feature"})
	require.NoError(t, err)
	assert.Equal(t, 0, parent.SubtasksTotal)

	child, err := s.CreateTask(ctx, CreateTaskInput{
		ID: "Ts", AgentID: "dev-001", Title: "Write tests", ParentTaskID: "Tm",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, child.Depth)
	assert.Equal(t, "Build feature > Write tests", child.TaskPath)

	// Parent counters bumped in the same transaction
	parent, err = s.GetTask(ctx, "Tm")
	require.NoError(t, err)
	assert.Equal(t, 1, parent.SubtasksTotal)
	assert.Equal(t, 0, parent.SubtasksCompleted)
	assert.Equal(t, int64(2), parent.Version)
}

func TestCreateTaskParentNotFound(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.CreateTask(ctx, CreateTaskInput{AgentID: "a", Title: "x", ParentTaskID: "ghost"})
	require.Error(t, err)
	assert.Equal(t, types.ErrParentNotFound, types.KindOf(err))
}

func TestTransitionLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	task, err := s.CreateTask(ctx, CreateTaskInput{ID: "T1", AgentID: "a", Title: "t"})
	require.NoError(t, err)

	task, err = s.Transition(ctx, "T1", task.Version, types.TaskStatusInProgress, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), task.Version)
	require.NotNil(t, task.StartedAt)
	assert.Equal(t, 1, task.ExecutionCount)

	task, err = s.Transition(ctx, "T1", task.Version, types.TaskStatusCompleted, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(3), task.Version)
	require.NotNil(t, task.CompletedAt)

	task, err = s.Transition(ctx, "T1", task.Version, types.TaskStatusArchived, nil)
	require.NoError(t, err)
	assert.Equal(t, types.TaskStatusArchived, task.Status)

	// Archived is terminal
	_, err = s.Transition(ctx, "T1", task.Version, types.TaskStatusInProgress, nil)
	require.Error(t, err)
	assert.True(t, types.IsInvalidTransition(err))
}

func TestTransitionInvalid(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	task, err := s.CreateTask(ctx, CreateTaskInput{ID: "T1", AgentID: "a", Title: "t"})
	require.NoError(t, err)

	_, err = s.Transition(ctx, "T1", task.Version, types.TaskStatusArchived, nil)
	require.Error(t, err)
	assert.True(t, types.IsInvalidTransition(err))

	// Row untouched on rejection
	got, err := s.GetTask(ctx, "T1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Version)
	assert.Equal(t, types.TaskStatusPending, got.Status)
}

func TestTransitionVersionMismatch(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	task, err := s.CreateTask(ctx, CreateTaskInput{ID: "T1", AgentID: "a", Title: "t"})
	require.NoError(t, err)

	// Caller A wins with the version both callers read
	_, err = s.Transition(ctx, "T1", task.Version, types.TaskStatusInProgress, nil)
	require.NoError(t, err)

	// Caller B loses with the stale version
	_, err = s.Transition(ctx, "T1", task.Version, types.TaskStatusCompleted, nil)
	require.Error(t, err)
	assert.True(t, types.IsVersionMismatch(err))

	// B re-reads and succeeds
	fresh, err := s.GetTask(ctx, "T1")
	require.NoError(t, err)
	done, err := s.Transition(ctx, "T1", fresh.Version, types.TaskStatusCompleted, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(3), done.Version)
}

func TestBlockedLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	task, err := s.CreateTask(ctx, CreateTaskInput{ID: "T1", AgentID: "a", Title: "t"})
	require.NoError(t, err)
	task, err = s.Transition(ctx, "T1", task.Version, types.TaskStatusInProgress, nil)
	require.NoError(t, err)

	// Blocking requires a non-empty wait-for set
	_, err = s.Transition(ctx, "T1", task.Version, types.TaskStatusBlocked, nil)
	require.Error(t, err)
	assert.Equal(t, types.ErrInvariantViolated, types.KindOf(err))

	task, err = s.Transition(ctx, "T1", task.Version, types.TaskStatusBlocked, &TransitionExtras{
		BlockedBy: []string{"T2", "T3", "T2"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"T2", "T3"}, task.BlockedBy)
	require.NotNil(t, task.BlockedSince)

	// Resuming with a non-empty blocked_by set is rejected
	_, err = s.Transition(ctx, "T1", task.Version, types.TaskStatusInProgress, nil)
	require.Error(t, err)
	assert.Equal(t, types.ErrInvariantViolated, types.KindOf(err))

	// Clear the set, then resume
	task, err = s.SetBlockedBy(ctx, "T1", task.Version, nil)
	require.NoError(t, err)
	assert.Empty(t, task.BlockedBy)
	assert.Equal(t, types.TaskStatusBlocked, task.Status)

	task, err = s.Transition(ctx, "T1", task.Version, types.TaskStatusInProgress, nil)
	require.NoError(t, err)
	assert.Nil(t, task.BlockedSince)
}

func TestCompleteFromBlockedClearsWaitSet(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	task, err := s.CreateTask(ctx, CreateTaskInput{ID: "T1", AgentID: "a", Title: "t"})
	require.NoError(t, err)
	task, err = s.Transition(ctx, "T1", task.Version, types.TaskStatusBlocked, &TransitionExtras{BlockedBy: []string{"T2"}})
	require.NoError(t, err)

	task, err = s.Transition(ctx, "T1", task.Version, types.TaskStatusCompleted, nil)
	require.NoError(t, err)
	assert.Empty(t, task.BlockedBy)
	assert.Nil(t, task.BlockedSince)
	require.NotNil(t, task.CompletedAt)
}

func TestVersionMonotonic(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	task, err := s.CreateTask(ctx, CreateTaskInput{ID: "T1", AgentID: "a", Title: "t"})
	require.NoError(t, err)

	versions := []int64{task.Version}
	timestamps := []time.Time{task.LastUpdated}

	steps := []struct {
		target types.TaskStatus
		extras *TransitionExtras
	}{
		{types.TaskStatusInProgress, nil},
		{types.TaskStatusBlocked, &TransitionExtras{BlockedBy: []string{"x"}}},
		{types.TaskStatusCompleted, nil},
		{types.TaskStatusArchived, nil},
	}
	for _, step := range steps {
		task, err = s.Transition(ctx, "T1", task.Version, step.target, step.extras)
		require.NoError(t, err)
		versions = append(versions, task.Version)
		timestamps = append(timestamps, task.LastUpdated)
	}

	for i := 1; i < len(versions); i++ {
		assert.Equal(t, versions[i-1]+1, versions[i], "version must increment by exactly 1")
		assert.True(t, timestamps[i].After(timestamps[i-1]), "last_updated must be strictly monotonic")
	}
}

func TestDelegate(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	task, err := s.CreateTask(ctx, CreateTaskInput{ID: "T1", AgentID: "manager-002", Title: "t"})
	require.NoError(t, err)

	task, err = s.Delegate(ctx, "T1", task.Version, "dev-001")
	require.NoError(t, err)
	assert.Equal(t, "dev-001", task.DelegatedTo)
	require.NotNil(t, task.DelegatedAt)
	assert.Equal(t, "manager-002", task.AgentID, "owner unchanged on delegation")
	assert.Equal(t, types.TaskStatusPending, task.Status, "status unchanged on delegation")
	assert.Equal(t, int64(2), task.Version)
}

func TestRollupChildren(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	parent, err := s.CreateTask(ctx, CreateTaskInput{ID: "P", AgentID: "m", Title: "parent"})
	require.NoError(t, err)

	for _, id := range []string{"C1", "C2", "C3"} {
		_, err := s.CreateTask(ctx, CreateTaskInput{ID: id, AgentID: "d", Title: id, ParentTaskID: "P"})
		require.NoError(t, err)
	}

	c1, err := s.GetTask(ctx, "C1")
	require.NoError(t, err)
	c1, err = s.Transition(ctx, "C1", c1.Version, types.TaskStatusInProgress, nil)
	require.NoError(t, err)
	_, err = s.Transition(ctx, "C1", c1.Version, types.TaskStatusCompleted, nil)
	require.NoError(t, err)

	parent, err = s.GetTask(ctx, "P")
	require.NoError(t, err)
	parent, err = s.RollupChildren(ctx, "P", parent.Version)
	require.NoError(t, err)
	assert.Equal(t, 1, parent.SubtasksCompleted)
	assert.Equal(t, 3, parent.SubtasksTotal)
	assert.Equal(t, 33, parent.PercentComplete)

	_, err = s.RollupChildren(ctx, "P", parent.Version-1)
	require.Error(t, err)
	assert.True(t, types.IsVersionMismatch(err))
}

func TestListFilters(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	t1, err := s.CreateTask(ctx, CreateTaskInput{ID: "T1", AgentID: "a", Title: "t1"})
	require.NoError(t, err)
	_, err = s.Transition(ctx, "T1", t1.Version, types.TaskStatusBlocked, &TransitionExtras{BlockedBy: []string{"T2"}})
	require.NoError(t, err)

	t2, err := s.CreateTask(ctx, CreateTaskInput{ID: "T2", AgentID: "a", Title: "t2"})
	require.NoError(t, err)
	_, err = s.Transition(ctx, "T2", t2.Version, types.TaskStatusCompleted, nil)
	require.NoError(t, err)

	blocked, err := s.ListBlocked(ctx)
	require.NoError(t, err)
	require.Len(t, blocked, 1)
	assert.Equal(t, "T1", blocked[0].ID)

	old, err := s.ListCompletedBefore(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, old, 1)
	assert.Equal(t, "T2", old[0].ID)

	none, err := s.ListCompletedBefore(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestMessages(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	msg := &types.Message{
		ID: "msg-1", FromAgent: "a", ToAgent: "b",
		Timestamp: types.Now(), Priority: types.MessagePriorityHigh,
		Channel: "internal", Subject: "Task delegated", ThreadID: "task-T1",
		ActionRequired: true, BodyPath: "/inbox/unread/msg-1.md",
	}
	require.NoError(t, s.InsertMessage(ctx, msg))

	got, err := s.GetMessage(ctx, "msg-1")
	require.NoError(t, err)
	assert.False(t, got.Read)

	// Read flip is idempotent
	got, err = s.MarkMessageRead(ctx, "msg-1")
	require.NoError(t, err)
	assert.True(t, got.Read)
	got, err = s.MarkMessageRead(ctx, "msg-1")
	require.NoError(t, err)
	assert.True(t, got.Read)

	inbox, err := s.ListMessagesTo(ctx, "b")
	require.NoError(t, err)
	assert.Len(t, inbox, 1)

	empty, err := s.ListMessagesTo(ctx, "a")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestMessageNotFoundKind(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.GetMessage(ctx, "msg-ghost")
	require.Error(t, err)
	assert.Equal(t, types.ErrMessageNotFound, types.KindOf(err))
	assert.True(t, types.IsNotFound(err))

	_, err = s.MarkMessageRead(ctx, "msg-ghost")
	require.Error(t, err)
	assert.Equal(t, types.ErrMessageNotFound, types.KindOf(err))
}

func TestAgents(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	off := false
	require.NoError(t, s.PutAgent(ctx, &types.Agent{
		ID: "dev-001", DisplayName: "Dev One", ReportingTo: "manager-001",
		Prefs: types.CommunicationPrefs{NotifyOnCompletion: &off},
	}))

	agent, err := s.GetAgent(ctx, "dev-001")
	require.NoError(t, err)
	assert.Equal(t, "Dev One", agent.DisplayName)
	assert.False(t, agent.Prefs.CompletionEnabled())
	assert.True(t, agent.Prefs.DelegationEnabled())

	_, err = s.GetAgent(ctx, "ghost")
	require.Error(t, err)
	assert.Equal(t, types.ErrAgentNotFound, types.KindOf(err))
}

func TestCancelledContext(t *testing.T) {
	s := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.CreateTask(ctx, CreateTaskInput{AgentID: "a", Title: "t"})
	require.Error(t, err)
	assert.True(t, types.IsInterrupted(err))
}
