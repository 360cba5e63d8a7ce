package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/govrag/govrag/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(Config{StoragePath: t.TempDir()})
	require.NoError(t, err)
	return s
}

func TestStore_CreateAndFetch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sess, err := s.Create(ctx, "my session")
	require.NoError(t, err)
	assert.NotEmpty(t, sess.SessionID)

	fetched, err := s.Fetch(ctx, sess.SessionID)
	require.NoError(t, err)
	assert.Equal(t, sess.SessionID, fetched.SessionID)
	assert.Equal(t, "my session", fetched.Title)
}

func TestStore_AppendTurnPersists(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sess, err := s.Create(ctx, "t")
	require.NoError(t, err)

	turn := model.Turn{TurnID: "turn-1", Role: model.RoleUser, Content: "hello"}
	require.NoError(t, s.AppendTurn(ctx, sess.SessionID, turn))

	fetched, err := s.Fetch(ctx, sess.SessionID)
	require.NoError(t, err)
	require.Len(t, fetched.Turns, 1)
	assert.Equal(t, "hello", fetched.Turns[0].Content)
}

func TestStore_FreezeCitationMapOnlyOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sess, err := s.Create(ctx, "t")
	require.NoError(t, err)

	m1 := model.NewCitationMap()
	m1.Set(1, model.Locator{DocID: "doc-a", Page: 1, CharStart: 0, CharEnd: 10})
	require.NoError(t, s.FreezeCitationMap(ctx, sess.SessionID, m1, nil))

	m2 := model.NewCitationMap()
	m2.Set(1, model.Locator{DocID: "doc-b", Page: 2, CharStart: 5, CharEnd: 20})
	require.NoError(t, s.FreezeCitationMap(ctx, sess.SessionID, m2, nil))

	fetched, err := s.Fetch(ctx, sess.SessionID)
	require.NoError(t, err)
	loc, ok := fetched.FirstResponseCitationMap.Get(1)
	require.True(t, ok)
	assert.Equal(t, "doc-a", loc.DocID)
}

func TestStore_SetInFlightGuardsSingleInFlightTurn(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sess, err := s.Create(ctx, "t")
	require.NoError(t, err)

	acquired, err := s.SetInFlight(ctx, sess.SessionID, true)
	require.NoError(t, err)
	assert.True(t, acquired)

	acquired, err = s.SetInFlight(ctx, sess.SessionID, true)
	require.NoError(t, err)
	assert.False(t, acquired, "second in-flight turn must be rejected")

	acquired, err = s.SetInFlight(ctx, sess.SessionID, false)
	require.NoError(t, err)
	assert.True(t, acquired)

	acquired, err = s.SetInFlight(ctx, sess.SessionID, true)
	require.NoError(t, err)
	assert.True(t, acquired, "in-flight guard must release after clearing")
}

func TestStore_ListAndDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sess, err := s.Create(ctx, "listed")
	require.NoError(t, err)

	infos, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, sess.SessionID, infos[0].SessionID)

	require.NoError(t, s.Delete(ctx, sess.SessionID))

	infos, err = s.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, infos)
}

func TestStore_AppendRecentDocIDsDedupAndCap(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sess, err := s.Create(ctx, "t")
	require.NoError(t, err)

	require.NoError(t, s.AppendRecentDocIDs(ctx, sess.SessionID, []string{"doc-1", "doc-2"}))
	require.NoError(t, s.AppendRecentDocIDs(ctx, sess.SessionID, []string{"doc-2", "doc-3"}))

	fetched, err := s.Fetch(ctx, sess.SessionID)
	require.NoError(t, err)
	assert.Equal(t, []string{"doc-1", "doc-2", "doc-3"}, fetched.RecentSourceDocIDs)
}

func TestStore_PruneExpired(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	old, err := s.Create(ctx, "stale")
	require.NoError(t, err)
	busy, err := s.Create(ctx, "stale but in flight")
	require.NoError(t, err)
	acquired, err := s.SetInFlight(ctx, busy.SessionID, true)
	require.NoError(t, err)
	require.True(t, acquired)

	time.Sleep(20 * time.Millisecond)
	fresh, err := s.Create(ctx, "fresh")
	require.NoError(t, err)

	pruned, err := s.PruneExpired(ctx, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, []string{old.SessionID}, pruned)

	_, err = s.Fetch(ctx, old.SessionID)
	assert.Error(t, err)
	_, err = s.Fetch(ctx, busy.SessionID)
	assert.NoError(t, err)
	_, err = s.Fetch(ctx, fresh.SessionID)
	assert.NoError(t, err)
}

func TestStore_PruneExpiredZeroAgeDisabled(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Create(ctx, "kept")
	require.NoError(t, err)

	pruned, err := s.PruneExpired(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, pruned)
}
