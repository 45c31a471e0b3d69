package deadlock

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/burrow/pkg/events"
	"github.com/cuemby/burrow/pkg/inbox"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/org"
	"github.com/cuemby/burrow/pkg/paths"
	"github.com/cuemby/burrow/pkg/store"
	"github.com/cuemby/burrow/pkg/types"
)

func newTestSweeper(t *testing.T) (*Sweeper, store.Store, *inbox.Bus) {
	t.Helper()
	s, err := store.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	resolver := paths.NewResolver(t.TempDir())
	broker := events.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)
	bus := inbox.NewBus(s, org.NewDirectory(s, log.Nop()), resolver, broker, log.Nop())
	return NewSweeper(s, bus, broker, log.Nop()), s, bus
}

func makeBlockedPair(t *testing.T, s store.Store) {
	t.Helper()
	ctx := context.Background()

	a, err := s.CreateTask(ctx, store.CreateTaskInput{ID: "A", AgentID: "agent-1", Title: "a"})
	require.NoError(t, err)
	b, err := s.CreateTask(ctx, store.CreateTaskInput{ID: "B", AgentID: "agent-2", Title: "b"})
	require.NoError(t, err)

	_, err = s.Transition(ctx, "A", a.Version, types.TaskStatusBlocked, &store.TransitionExtras{BlockedBy: []string{"B"}})
	require.NoError(t, err)
	_, err = s.Transition(ctx, "B", b.Version, types.TaskStatusBlocked, &store.TransitionExtras{BlockedBy: []string{"A"}})
	require.NoError(t, err)
}

func TestSweepTwoWayDeadlock(t *testing.T) {
	ctx := context.Background()
	sweeper, s, bus := newTestSweeper(t)
	makeBlockedPair(t, s)

	report, err := sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.DeadlocksDetected)
	assert.Equal(t, 2, report.NotificationsSent)
	assert.ElementsMatch(t, []string{"A", "B"}, report.DeadlockedTaskIDs)
	require.Len(t, report.Cycles, 1)

	// Both alerts are urgent, action-required, and share the thread id
	threadID := report.Cycles[0].ThreadID()
	for _, agentID := range []string{"agent-1", "agent-2"} {
		msgs, err := bus.Unread(ctx, agentID)
		require.NoError(t, err)
		require.Len(t, msgs, 1)
		assert.Equal(t, types.MessagePriorityUrgent, msgs[0].Priority)
		assert.True(t, msgs[0].ActionRequired)
		assert.Equal(t, threadID, msgs[0].ThreadID)
	}
}

func TestSweepClearsAfterEdgeRemoved(t *testing.T) {
	ctx := context.Background()
	sweeper, s, _ := newTestSweeper(t)
	makeBlockedPair(t, s)

	report, err := sweeper.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, report.DeadlocksDetected)

	a, err := s.GetTask(ctx, "A")
	require.NoError(t, err)
	_, err = s.SetBlockedBy(ctx, "A", a.Version, nil)
	require.NoError(t, err)

	report, err = sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.DeadlocksDetected)
	assert.Equal(t, 0, report.NotificationsSent)
}

func TestSweepPublishesDeadlockEvent(t *testing.T) {
	ctx := context.Background()
	s, err := store.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	broker := events.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)
	bus := inbox.NewBus(s, org.NewDirectory(s, log.Nop()), paths.NewResolver(t.TempDir()), broker, log.Nop())
	sweeper := NewSweeper(s, bus, broker, log.Nop())

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	makeBlockedPair(t, s)
	report, err := sweeper.Sweep(ctx)
	require.NoError(t, err)
	require.Len(t, report.Cycles, 1)

	event := <-sub
	assert.Equal(t, events.EventDeadlockDetected, event.Type)
	assert.Equal(t, report.Cycles[0].ThreadID(), event.Metadata["thread_id"])
	assert.Equal(t, "A,B", event.Metadata["task_ids"])
}

func TestSweepNoBlockedTasks(t *testing.T) {
	ctx := context.Background()
	sweeper, _, _ := newTestSweeper(t)

	report, err := sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.DeadlocksDetected)
	assert.Empty(t, report.Cycles)
}

func TestSweepThreeWayCycle(t *testing.T) {
	ctx := context.Background()
	sweeper, s, bus := newTestSweeper(t)

	ids := []string{"A", "B", "C"}
	agents := []string{"agent-1", "agent-2", "agent-3"}
	for i, id := range ids {
		task, err := s.CreateTask(ctx, store.CreateTaskInput{ID: id, AgentID: agents[i], Title: "task " + id})
		require.NoError(t, err)
		next := ids[(i+1)%len(ids)]
		_, err = s.Transition(ctx, id, task.Version, types.TaskStatusBlocked, &store.TransitionExtras{BlockedBy: []string{next}})
		require.NoError(t, err)
	}

	report, err := sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.DeadlocksDetected)
	assert.Equal(t, 3, report.NotificationsSent)
	assert.ElementsMatch(t, ids, report.DeadlockedTaskIDs)
	require.Len(t, report.Cycles, 1)

	// One alert per agent, all urgent and threaded together
	threadID := report.Cycles[0].ThreadID()
	for _, agentID := range agents {
		msgs, err := bus.Unread(ctx, agentID)
		require.NoError(t, err)
		require.Len(t, msgs, 1)
		assert.Equal(t, types.MessagePriorityUrgent, msgs[0].Priority)
		assert.True(t, msgs[0].ActionRequired)
		assert.Equal(t, threadID, msgs[0].ThreadID)
	}
}

func TestSweepAlertsEveryCycle(t *testing.T) {
	ctx := context.Background()
	sweeper, s, bus := newTestSweeper(t)

	mk := func(id, agentID string, blockedBy ...string) {
		task, err := s.CreateTask(ctx, store.CreateTaskInput{ID: id, AgentID: agentID, Title: "task " + id})
		require.NoError(t, err)
		_, err = s.Transition(ctx, id, task.Version, types.TaskStatusBlocked, &store.TransitionExtras{BlockedBy: blockedBy})
		require.NoError(t, err)
	}

	// T and U form their own cycle while also waiting on the A1-A2 cycle;
	// both cycles must be reported and both sets of owners alerted
	mk("A1", "agent-a", "A2")
	mk("A2", "agent-a", "A1")
	mk("T", "agent-t", "A1", "U")
	mk("U", "agent-u", "T")

	report, err := sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.DeadlocksDetected)
	assert.Equal(t, 3, report.NotificationsSent)
	assert.ElementsMatch(t, []string{"A1", "A2", "T", "U"}, report.DeadlockedTaskIDs)

	for _, agentID := range []string{"agent-a", "agent-t", "agent-u"} {
		msgs, err := bus.Unread(ctx, agentID)
		require.NoError(t, err)
		require.Len(t, msgs, 1)
	}
}

func TestSweepSharedAgentGetsOneAlertPerCycle(t *testing.T) {
	ctx := context.Background()
	sweeper, s, bus := newTestSweeper(t)

	// Both tasks of the cycle belong to the same agent
	a, err := s.CreateTask(ctx, store.CreateTaskInput{ID: "A", AgentID: "solo", Title: "a"})
	require.NoError(t, err)
	b, err := s.CreateTask(ctx, store.CreateTaskInput{ID: "B", AgentID: "solo", Title: "b"})
	require.NoError(t, err)
	_, err = s.Transition(ctx, "A", a.Version, types.TaskStatusBlocked, &store.TransitionExtras{BlockedBy: []string{"B"}})
	require.NoError(t, err)
	_, err = s.Transition(ctx, "B", b.Version, types.TaskStatusBlocked, &store.TransitionExtras{BlockedBy: []string{"A"}})
	require.NoError(t, err)

	report, err := sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.DeadlocksDetected)
	assert.Equal(t, 1, report.NotificationsSent)

	msgs, err := bus.Unread(ctx, "solo")
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}
