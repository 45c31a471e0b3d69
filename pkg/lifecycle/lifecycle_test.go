package lifecycle

import (
	"context"
	"os"
	"path/filepath"
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
	"github.com/cuemby/burrow/pkg/workspace"
)

type fixture struct {
	coord    *Coordinator
	store    store.Store
	bus      *inbox.Bus
	resolver *paths.Resolver
	broker   *events.Broker
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s, err := store.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	resolver := paths.NewResolver(t.TempDir())
	dir := org.NewDirectory(s, log.Nop())
	broker := events.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)
	bus := inbox.NewBus(s, dir, resolver, broker, log.Nop())
	ws := workspace.NewMaterializer(resolver, log.Nop())

	return &fixture{
		coord:    NewCoordinator(s, ws, bus, dir, resolver, broker, log.Nop()),
		store:    s,
		bus:      bus,
		resolver: resolver,
		broker:   broker,
	}
}

func TestFullLifecycle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	task, err := f.coord.Create(ctx, store.CreateTaskInput{
		ID:       "T1",
		AgentID:  "manager-001",
		Title:    "Implement user authentication",
		Priority: types.TaskPriorityHigh,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), task.Version)
	assert.DirExists(t, f.resolver.TaskDir("manager-001", "T1", types.TaskStatusPending))

	task, err = f.coord.Start(ctx, "T1", task.Version)
	require.NoError(t, err)
	assert.Equal(t, int64(2), task.Version)
	assert.DirExists(t, f.resolver.TaskDir("manager-001", "T1", types.TaskStatusInProgress))
	assert.NoDirExists(t, f.resolver.TaskDir("manager-001", "T1", types.TaskStatusPending))

	task, err = f.coord.Complete(ctx, "T1", task.Version)
	require.NoError(t, err)
	assert.Equal(t, types.TaskStatusCompleted, task.Status)
	assert.Equal(t, int64(3), task.Version)
	require.NotNil(t, task.CompletedAt)

	dir := f.resolver.TaskDir("manager-001", "T1", types.TaskStatusCompleted)
	assert.DirExists(t, dir)
	plan, err := os.ReadFile(filepath.Join(dir, "plan.md"))
	require.NoError(t, err)
	assert.Contains(t, string(plan), "id: T1")
}

func TestStatusMirrorsDirectory(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	task, err := f.coord.Create(ctx, store.CreateTaskInput{ID: "T1", AgentID: "a", Title: "t"})
	require.NoError(t, err)
	task, err = f.coord.Start(ctx, "T1", task.Version)
	require.NoError(t, err)
	task, err = f.coord.Block(ctx, "T1", task.Version, []string{"T2"})
	require.NoError(t, err)

	// Exactly one status directory holds the task at any point
	holders := 0
	for _, dir := range f.resolver.SiblingStatusDirs("a") {
		if _, err := os.Stat(filepath.Join(dir, "T1")); err == nil {
			holders++
		}
	}
	assert.Equal(t, 1, holders)
	assert.DirExists(t, f.resolver.TaskDir("a", "T1", types.TaskStatusBlocked))

	task, err = f.coord.ClearBlockedBy(ctx, "T1", task.Version, nil)
	require.NoError(t, err)
	task, err = f.coord.Unblock(ctx, "T1", task.Version)
	require.NoError(t, err)
	assert.Equal(t, types.TaskStatusInProgress, task.Status)
	assert.DirExists(t, f.resolver.TaskDir("a", "T1", types.TaskStatusInProgress))
}

func TestOptimisticConflict(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	task, err := f.coord.Create(ctx, store.CreateTaskInput{ID: "T", AgentID: "a", Title: "t"})
	require.NoError(t, err)

	// Both callers read version 1; A starts, B's complete loses
	started, err := f.coord.Start(ctx, "T", task.Version)
	require.NoError(t, err)
	assert.Equal(t, int64(2), started.Version)

	_, err = f.coord.Complete(ctx, "T", task.Version)
	require.Error(t, err)
	assert.True(t, types.IsVersionMismatch(err))

	// B re-reads and succeeds
	fresh, err := f.coord.Get(ctx, "T")
	require.NoError(t, err)
	done, err := f.coord.Complete(ctx, "T", fresh.Version)
	require.NoError(t, err)
	assert.Equal(t, int64(3), done.Version)
}

func TestDelegationAndRollup(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	tm, err := f.coord.Create(ctx, store.CreateTaskInput{
		ID: "Tm", AgentID: "manager-002", Title: "Build feature", Priority: types.TaskPriorityHigh,
	})
	require.NoError(t, err)

	_, err = f.coord.Delegate(ctx, "Tm", tm.Version, "dev-001", false)
	require.NoError(t, err)

	// Delegatee inbox holds one delegation message threaded on the task
	msgs, err := f.bus.Unread(ctx, "dev-001")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "task-Tm", msgs[0].ThreadID)
	assert.Equal(t, types.MessagePriorityHigh, msgs[0].Priority)
	assert.True(t, msgs[0].ActionRequired)

	ts, err := f.coord.Create(ctx, store.CreateTaskInput{
		ID: "Ts", AgentID: "dev-001", Title: "Write handlers", ParentTaskID: "Tm",
	})
	require.NoError(t, err)

	ts, err = f.coord.Start(ctx, "Ts", ts.Version)
	require.NoError(t, err)
	_, err = f.coord.Complete(ctx, "Ts", ts.Version)
	require.NoError(t, err)

	parent, err := f.coord.Get(ctx, "Tm")
	require.NoError(t, err)
	assert.Equal(t, 1, parent.SubtasksTotal)
	assert.Equal(t, 1, parent.SubtasksCompleted)
	assert.Equal(t, 100, parent.PercentComplete)
}

func TestRollupWalksAncestry(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	root, err := f.coord.Create(ctx, store.CreateTaskInput{ID: "R", AgentID: "m", Title: "root"})
	require.NoError(t, err)
	_ = root
	mid, err := f.coord.Create(ctx, store.CreateTaskInput{ID: "M", AgentID: "m", Title: "mid", ParentTaskID: "R"})
	require.NoError(t, err)
	leaf, err := f.coord.Create(ctx, store.CreateTaskInput{ID: "L", AgentID: "d", Title: "leaf", ParentTaskID: "M"})
	require.NoError(t, err)
	assert.Equal(t, 2, leaf.Depth)
	assert.Equal(t, "root > mid > leaf", leaf.TaskPath)

	leaf, err = f.coord.Start(ctx, "L", leaf.Version)
	require.NoError(t, err)
	_, err = f.coord.Complete(ctx, "L", leaf.Version)
	require.NoError(t, err)

	mid, err = f.coord.Get(ctx, "M")
	require.NoError(t, err)
	assert.Equal(t, 100, mid.PercentComplete)

	// The grandparent counts direct children only; M is not completed
	rootAfter, err := f.coord.Get(ctx, "R")
	require.NoError(t, err)
	assert.Equal(t, 0, rootAfter.SubtasksCompleted)
	assert.Equal(t, 1, rootAfter.SubtasksTotal)
}

func TestCompleteRootNoRollup(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	task, err := f.coord.Create(ctx, store.CreateTaskInput{ID: "T1", AgentID: "a", Title: "t"})
	require.NoError(t, err)
	task, err = f.coord.Start(ctx, "T1", task.Version)
	require.NoError(t, err)
	_, err = f.coord.Complete(ctx, "T1", task.Version)
	require.NoError(t, err)
}

func TestCompletionNotificationSwallowed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	// Parent owner opted out of completion notifications; completion still works
	off := false
	require.NoError(t, f.store.PutAgent(ctx, &types.Agent{
		ID:    "manager-001",
		Prefs: types.CommunicationPrefs{NotifyOnCompletion: &off},
	}))

	tm, err := f.coord.Create(ctx, store.CreateTaskInput{ID: "Tm", AgentID: "manager-001", Title: "parent"})
	require.NoError(t, err)
	_ = tm
	ts, err := f.coord.Create(ctx, store.CreateTaskInput{ID: "Ts", AgentID: "dev-001", Title: "child", ParentTaskID: "Tm"})
	require.NoError(t, err)

	ts, err = f.coord.Start(ctx, "Ts", ts.Version)
	require.NoError(t, err)
	_, err = f.coord.Complete(ctx, "Ts", ts.Version)
	require.NoError(t, err)

	msgs, err := f.bus.Unread(ctx, "manager-001")
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestDelegationSuppressedByPreference(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	off := false
	require.NoError(t, f.store.PutAgent(ctx, &types.Agent{
		ID:    "dev-001",
		Prefs: types.CommunicationPrefs{NotifyOnDelegation: &off},
	}))

	task, err := f.coord.Create(ctx, store.CreateTaskInput{ID: "T1", AgentID: "m", Title: "t"})
	require.NoError(t, err)

	_, err = f.coord.Delegate(ctx, "T1", task.Version, "dev-001", false)
	require.NoError(t, err)
	msgs, err := f.bus.Unread(ctx, "dev-001")
	require.NoError(t, err)
	assert.Empty(t, msgs)

	// Force overrides the opt-out
	fresh, err := f.coord.Get(ctx, "T1")
	require.NoError(t, err)
	_, err = f.coord.Delegate(ctx, "T1", fresh.Version, "dev-001", true)
	require.NoError(t, err)
	msgs, err = f.bus.Unread(ctx, "dev-001")
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestReconcileRegeneratesLostDirectory(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	task, err := f.coord.Create(ctx, store.CreateTaskInput{ID: "T1", AgentID: "a", Title: "t"})
	require.NoError(t, err)

	dir := f.resolver.ResolveTaskDir(task)
	require.NoError(t, os.RemoveAll(dir))

	repaired, err := f.coord.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, repaired)
	assert.FileExists(t, filepath.Join(dir, "plan.md"))
	assert.FileExists(t, filepath.Join(dir, "context.json"))
}

func TestReconcileRelocatesStrayDirectory(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	task, err := f.coord.Create(ctx, store.CreateTaskInput{ID: "T1", AgentID: "a", Title: "t"})
	require.NoError(t, err)

	// Drift: directory sits under blocked/ while the row says pending
	src := f.resolver.ResolveTaskDir(task)
	stray := f.resolver.TaskDir("a", "T1", types.TaskStatusBlocked)
	require.NoError(t, os.MkdirAll(filepath.Dir(stray), 0755))
	require.NoError(t, os.Rename(src, stray))

	repaired, err := f.coord.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, repaired)
	assert.DirExists(t, src)
	assert.NoDirExists(t, stray)
	assert.FileExists(t, filepath.Join(src, "plan.md"))

	// Clean tree reconciles to zero
	repaired, err = f.coord.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, repaired)
}

func TestPublishesLifecycleEvents(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	sub := f.broker.Subscribe()
	defer f.broker.Unsubscribe(sub)

	task, err := f.coord.Create(ctx, store.CreateTaskInput{ID: "T1", AgentID: "a", Title: "t"})
	require.NoError(t, err)
	task, err = f.coord.Start(ctx, "T1", task.Version)
	require.NoError(t, err)
	_, err = f.coord.Complete(ctx, "T1", task.Version)
	require.NoError(t, err)

	want := []events.EventType{events.EventTaskCreated, events.EventTaskStarted, events.EventTaskCompleted}
	for _, wantType := range want {
		event := <-sub
		assert.Equal(t, wantType, event.Type)
		assert.Equal(t, "T1", event.Metadata["task_id"])
	}
}
