package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c0deZ3R0/go-mutation-kit/mutkit"
)

func newTestJournal(t *testing.T) *SQLiteJournal {
	t.Helper()
	path := filepath.Join(t.TempDir(), "journal.db")
	j, err := NewWithDataSource(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func testEntry(opID mutkit.OperationID, entityID mutkit.EntityID, status mutkit.OperationStatus, at time.Time) mutkit.JournalEntry {
	return mutkit.JournalEntry{
		ID:       mutkit.NewJournalEntryID(),
		OpID:     opID,
		EntityID: entityID,
		Kind:     mutkit.KindUpdate,
		Status:   status,
		Attempt:  1,
		Patch:    mutkit.Patch{"title": "B"},
		Version:  3,
		At:       at,
	}
}

func TestSQLiteJournal_AppendAndTrail(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, j.Append(ctx, testEntry("op-1", "article-1", mutkit.StatusPending, base)))
	require.NoError(t, j.Append(ctx, testEntry("op-1", "article-1", mutkit.StatusConfirmed, base.Add(time.Second))))
	require.NoError(t, j.Append(ctx, testEntry("op-2", "article-2", mutkit.StatusPending, base.Add(2*time.Second))))

	trail, err := j.Trail(ctx, "article-1")
	require.NoError(t, err)
	require.Len(t, trail, 2)
	assert.Equal(t, mutkit.StatusPending, trail[0].Status)
	assert.Equal(t, mutkit.StatusConfirmed, trail[1].Status)
	assert.Equal(t, mutkit.Patch{"title": "B"}, trail[0].Patch)
	assert.Equal(t, int64(3), trail[0].Version)
	assert.Equal(t, base, trail[0].At)
}

func TestSQLiteJournal_ListCriteria(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, j.Append(ctx, testEntry("op-1", "a", mutkit.StatusPending, base)))
	require.NoError(t, j.Append(ctx, testEntry("op-1", "a", mutkit.StatusConflicted, base.Add(time.Minute))))
	require.NoError(t, j.Append(ctx, testEntry("op-1", "a", mutkit.StatusRolledBack, base.Add(2*time.Minute))))
	require.NoError(t, j.Append(ctx, testEntry("op-2", "a", mutkit.StatusPending, base.Add(3*time.Minute))))

	byStatus, err := j.List(ctx, mutkit.JournalCriteria{Status: mutkit.StatusConflicted})
	require.NoError(t, err)
	require.Len(t, byStatus, 1)
	assert.Equal(t, mutkit.OperationID("op-1"), byStatus[0].OpID)

	byOp, err := j.List(ctx, mutkit.JournalCriteria{OpID: "op-1"})
	require.NoError(t, err)
	assert.Len(t, byOp, 3)

	from := base.Add(30 * time.Second)
	to := base.Add(150 * time.Second)
	byTime, err := j.List(ctx, mutkit.JournalCriteria{From: &from, To: &to})
	require.NoError(t, err)
	assert.Len(t, byTime, 2)

	paged, err := j.List(ctx, mutkit.JournalCriteria{Limit: 2, Offset: 1})
	require.NoError(t, err)
	require.Len(t, paged, 2)
	assert.Equal(t, mutkit.StatusConflicted, paged[0].Status)

	offsetOnly, err := j.List(ctx, mutkit.JournalCriteria{Offset: 3})
	require.NoError(t, err)
	require.Len(t, offsetOnly, 1)
	assert.Equal(t, mutkit.OperationID("op-2"), offsetOnly[0].OpID)
}

func TestSQLiteJournal_EmptyPatchRoundTrips(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()

	entry := testEntry("op-1", "a", mutkit.StatusPending, time.Now().UTC().Truncate(time.Second))
	entry.Patch = nil
	require.NoError(t, j.Append(ctx, entry))

	trail, err := j.Trail(ctx, "a")
	require.NoError(t, err)
	require.Len(t, trail, 1)
	assert.Nil(t, trail[0].Patch)
}

func TestSQLiteJournal_AppendRequiresID(t *testing.T) {
	j := newTestJournal(t)
	entry := testEntry("op-1", "a", mutkit.StatusPending, time.Now())
	entry.ID = ""
	err := j.Append(context.Background(), entry)
	assert.Error(t, err)
}

func TestSQLiteJournal_ClosedRejectsOperations(t *testing.T) {
	j := newTestJournal(t)
	require.NoError(t, j.Close())
	require.NoError(t, j.Close(), "close is idempotent")

	err := j.Append(context.Background(), testEntry("op-1", "a", mutkit.StatusPending, time.Now()))
	assert.ErrorIs(t, err, ErrJournalClosed)

	_, err = j.List(context.Background(), mutkit.JournalCriteria{})
	assert.ErrorIs(t, err, ErrJournalClosed)
}

func TestSQLiteJournal_ConfigValidation(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)

	_, err = New(&Config{})
	assert.Error(t, err, "empty DataSourceName is rejected")
}

func TestSQLiteJournal_UsedByEngine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.db")
	j, err := NewWithDataSource(path)
	require.NoError(t, err)

	exec := mutkit.ExecutorFunc(func(ctx context.Context, op mutkit.Operation) mutkit.Outcome {
		return mutkit.Confirmed(mutkit.EntityState{Version: op.BaseVersion + 1})
	})
	e, err := mutkit.NewEngine(
		mutkit.WithExecutor(exec),
		mutkit.WithJournal(j),
	)
	require.NoError(t, err)

	_, results, err := e.Submit(context.Background(), "article-1", mutkit.KindCreate, mutkit.Patch{"title": "A"})
	require.NoError(t, err)
	res := <-results
	require.Equal(t, mutkit.StatusConfirmed, res.Status)

	trail, err := j.Trail(context.Background(), "article-1")
	require.NoError(t, err)
	require.Len(t, trail, 2)

	// The engine owns the journal and closes it.
	require.NoError(t, e.Close())
	_, err = j.List(context.Background(), mutkit.JournalCriteria{})
	assert.ErrorIs(t, err, ErrJournalClosed)
}
