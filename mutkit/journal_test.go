package mutkit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entryAt(opID OperationID, entityID EntityID, status OperationStatus, at time.Time) JournalEntry {
	return JournalEntry{
		ID:       NewJournalEntryID(),
		OpID:     opID,
		EntityID: entityID,
		Kind:     KindUpdate,
		Status:   status,
		At:       at,
	}
}

func TestMemoryJournal_AppendAndTrail(t *testing.T) {
	j := NewMemoryJournal()
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, j.Append(ctx, entryAt("op-1", "a", StatusPending, base)))
	require.NoError(t, j.Append(ctx, entryAt("op-1", "a", StatusConfirmed, base.Add(time.Second))))
	require.NoError(t, j.Append(ctx, entryAt("op-2", "b", StatusPending, base.Add(2*time.Second))))

	trail, err := j.Trail(ctx, "a")
	require.NoError(t, err)
	require.Len(t, trail, 2)
	assert.Equal(t, StatusPending, trail[0].Status)
	assert.Equal(t, StatusConfirmed, trail[1].Status)

	trail, err = j.Trail(ctx, "unknown")
	require.NoError(t, err)
	assert.Empty(t, trail)
}

func TestMemoryJournal_AppendRequiresID(t *testing.T) {
	j := NewMemoryJournal()
	err := j.Append(context.Background(), JournalEntry{OpID: "op-1"})
	assert.Error(t, err)
}

func TestMemoryJournal_ListCriteria(t *testing.T) {
	j := NewMemoryJournal()
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		status := StatusPending
		if i%2 == 1 {
			status = StatusConfirmed
		}
		require.NoError(t, j.Append(ctx, entryAt(OperationID(rune('a'+i)), "a", status, base.Add(time.Duration(i)*time.Minute))))
	}

	byStatus, err := j.List(ctx, JournalCriteria{Status: StatusConfirmed})
	require.NoError(t, err)
	assert.Len(t, byStatus, 2)

	from := base.Add(90 * time.Second)
	to := base.Add(210 * time.Second)
	byTime, err := j.List(ctx, JournalCriteria{From: &from, To: &to})
	require.NoError(t, err)
	assert.Len(t, byTime, 2)

	paged, err := j.List(ctx, JournalCriteria{Limit: 2, Offset: 1})
	require.NoError(t, err)
	require.Len(t, paged, 2)
	assert.Equal(t, base.Add(time.Minute), paged[0].At)

	past, err := j.List(ctx, JournalCriteria{Offset: 99})
	require.NoError(t, err)
	assert.Empty(t, past)
}

func TestEngine_JournalsLifecycle(t *testing.T) {
	exec := newScriptedExecutor()
	j := NewMemoryJournal()
	e := newTestEngine(t, exec, WithJournal(j))

	seedArticle(t, e, "article-1", 1, map[string]any{"title": "A"})

	_, results, err := e.Submit(context.Background(), "article-1", KindUpdate, Patch{"title": "B"})
	require.NoError(t, err)
	exec.next(t).reply <- Confirmed(EntityState{Version: 2})
	awaitResult(t, results)

	trail, err := j.Trail(context.Background(), "article-1")
	require.NoError(t, err)
	require.Len(t, trail, 2)
	assert.Equal(t, StatusPending, trail[0].Status)
	assert.Equal(t, StatusConfirmed, trail[1].Status)
	assert.Equal(t, trail[0].OpID, trail[1].OpID)
	assert.Equal(t, int64(2), trail[1].Version)
}

func TestEngine_JournalsResolutionDecision(t *testing.T) {
	exec := newScriptedExecutor()
	j := NewMemoryJournal()
	e := newTestEngine(t, exec, WithJournal(j))

	seedArticle(t, e, "article-1", 1, map[string]any{"title": "A"})

	opID, results, err := e.Submit(context.Background(), "article-1", KindUpdate, Patch{"title": "B"})
	require.NoError(t, err)
	exec.next(t).reply <- Conflicted(EntityState{Fields: map[string]any{"title": "C"}, Version: 2})

	require.Eventually(t, func() bool {
		_, ok := e.Conflict(opID)
		return ok
	}, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, e.Resolve(context.Background(), opID, KeepRemote()))
	awaitResult(t, results)

	entries, err := j.List(context.Background(), JournalCriteria{OpID: opID, Status: StatusRolledBack})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "keep_remote", entries[0].Decision)
}
