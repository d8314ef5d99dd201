package stores

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestStore creates an in-memory SQLite store for testing
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(Config{Path: ":memory:"})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, store.Init(ctx))
	require.NoError(t, store.Migrate(ctx))
	t.Cleanup(func() { _ = store.Close() })

	return store
}

func strPtr(s string) *string { return &s }

func TestNewSQLiteStoreRequiresPath(t *testing.T) {
	_, err := NewSQLiteStore(Config{})
	assert.ErrorContains(t, err, "database path is required")
}

func TestStoreLifecycle(t *testing.T) {
	store, err := NewSQLiteStore(Config{Path: ":memory:"})
	require.NoError(t, err)

	ctx := context.Background()
	assert.Error(t, store.HealthCheck(ctx))
	require.NoError(t, store.Init(ctx))
	require.NoError(t, store.HealthCheck(ctx))
	require.NoError(t, store.Close())
}

func TestStoreMigrations(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	for _, table := range []string{"runs", "action_events", "plan_snapshots"} {
		var count int
		err := store.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&count)
		assert.NoError(t, err, "table %s", table)
	}

	// Migrating twice is a no-op.
	require.NoError(t, store.Migrate(ctx))
}

func TestStoreOnDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	ctx := context.Background()

	store, err := NewSQLiteStore(Config{Path: path})
	require.NoError(t, err)
	require.NoError(t, store.Init(ctx))
	require.NoError(t, store.Migrate(ctx))
	require.NoError(t, store.CreateRun(ctx, &Run{ID: "r1", PlanID: "p1", Operation: "execute", Status: RunStatusRunning}))
	require.NoError(t, store.Close())

	reopened, err := NewSQLiteStore(Config{Path: path})
	require.NoError(t, err)
	require.NoError(t, reopened.Init(ctx))
	defer reopened.Close()
	require.NoError(t, reopened.Migrate(ctx))

	run, err := reopened.GetRun(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "p1", run.PlanID)
}

func TestRunCRUD(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	run := &Run{
		ID:        "run-1",
		PlanID:    "plan-1",
		Operation: "execute",
		Status:    RunStatusRunning,
		Target:    "local",
	}
	require.NoError(t, store.CreateRun(ctx, run))
	assert.False(t, run.StartedAt.IsZero())

	got, err := store.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "plan-1", got.PlanID)
	assert.Equal(t, RunStatusRunning, got.Status)
	assert.Equal(t, "local", got.Target)
	assert.Nil(t, got.CompletedAt)
	assert.Nil(t, got.Error)

	require.NoError(t, store.UpdateRunStatus(ctx, "run-1", RunStatusFailed, strPtr(`{"message":"boom"}`)))
	got, err = store.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, RunStatusFailed, got.Status)
	require.NotNil(t, got.CompletedAt)
	require.NotNil(t, got.Error)
	assert.JSONEq(t, `{"message":"boom"}`, *got.Error)

	require.NoError(t, store.DeleteRun(ctx, "run-1"))
	_, err = store.GetRun(ctx, "run-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRunNotFound(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	_, err := store.GetRun(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, store.UpdateRunStatus(ctx, "missing", RunStatusCompleted, nil), ErrNotFound)
	assert.ErrorIs(t, store.DeleteRun(ctx, "missing"), ErrNotFound)
}

func TestRunRejectsUnknownStatus(t *testing.T) {
	store := setupTestStore(t)
	err := store.CreateRun(context.Background(), &Run{ID: "r", PlanID: "p", Operation: "execute", Status: "paused"})
	assert.Error(t, err)
}

func TestListRunsNewestFirst(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, store.CreateRun(ctx, &Run{
			ID:        id,
			PlanID:    "p",
			Operation: "execute",
			Status:    RunStatusCompleted,
			StartedAt: base.Add(time.Duration(i) * time.Hour),
		}))
	}

	runs, err := store.ListRuns(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, "c", runs[0].ID)
	assert.Equal(t, "a", runs[2].ID)

	page, err := store.ListRuns(ctx, 1, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "b", page[0].ID)
}

func TestEventsAndSnapshots(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.CreateRun(ctx, &Run{ID: "r", PlanID: "p", Operation: "execute", Status: RunStatusRunning}))

	started := &ActionEvent{RunID: "r", Index: 0, Kind: "create_users_and_group", Operation: "execute", Phase: EventPhaseStarted}
	require.NoError(t, store.AppendEvent(ctx, started))
	assert.NotZero(t, started.ID)

	finished := &ActionEvent{
		RunID:      "r",
		Index:      0,
		Kind:       "create_users_and_group",
		Operation:  "execute",
		Phase:      EventPhaseFinished,
		State:      strPtr("completed"),
		DurationMs: 12,
	}
	require.NoError(t, store.AppendEvent(ctx, finished))

	events, err := store.ListEvents(ctx, "r")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, EventPhaseStarted, events[0].Phase)
	assert.Nil(t, events[0].State)
	assert.Equal(t, EventPhaseFinished, events[1].Phase)
	require.NotNil(t, events[1].State)
	assert.Equal(t, "completed", *events[1].State)
	assert.EqualValues(t, 12, events[1].DurationMs)

	_, err = store.LatestSnapshot(ctx, "r")
	assert.ErrorIs(t, err, ErrNotFound)

	seq, err := store.SaveSnapshot(ctx, "r", []byte(`{"version":1}`))
	require.NoError(t, err)
	assert.Equal(t, 1, seq)
	seq, err = store.SaveSnapshot(ctx, "r", []byte(`{"version":1,"id":"x"}`))
	require.NoError(t, err)
	assert.Equal(t, 2, seq)

	snap, err := store.LatestSnapshot(ctx, "r")
	require.NoError(t, err)
	assert.Equal(t, 2, snap.Seq)
	assert.JSONEq(t, `{"version":1,"id":"x"}`, string(snap.Document))

	// Deleting the run cascades.
	require.NoError(t, store.DeleteRun(ctx, "r"))
	events, err = store.ListEvents(ctx, "r")
	require.NoError(t, err)
	assert.Empty(t, events)
	_, err = store.LatestSnapshot(ctx, "r")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAppendEventRequiresRun(t *testing.T) {
	store := setupTestStore(t)
	err := store.AppendEvent(context.Background(), &ActionEvent{RunID: "nope", Kind: "k", Operation: "execute", Phase: EventPhaseStarted})
	assert.Error(t, err)
}
