package store_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/cockroachdb/errors"
	"github.com/effective-security/toolchat/chatmodel"
	"github.com/effective-security/toolchat/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_MemoryStore(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()

	_, err := st.GetHistory(ctx, "nonexistent")
	assert.True(t, errors.Is(err, chatmodel.ErrSessionNotFound))
	err = st.AppendTurns(ctx, "nonexistent", chatmodel.NewTextTurn(chatmodel.RoleUser, "hi"))
	assert.True(t, errors.Is(err, chatmodel.ErrSessionNotFound))
	_, err = st.GetSession(ctx, "nonexistent")
	assert.True(t, errors.Is(err, chatmodel.ErrSessionNotFound))
	_, err = st.Lock(ctx, "nonexistent")
	assert.True(t, errors.Is(err, chatmodel.ErrSessionNotFound))

	list, err := st.ListSessions(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)

	s1, err := st.CreateSession(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, s1.ID)
	assert.False(t, s1.CreatedAt.IsZero())
	assert.Equal(t, 0, s1.TurnCount)

	s2, err := st.CreateSession(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, s1.ID, s2.ID)

	history, err := st.GetHistory(ctx, s1.ID)
	require.NoError(t, err)
	assert.Empty(t, history)

	require.NoError(t, st.AppendTurns(ctx, s1.ID,
		chatmodel.NewTextTurn(chatmodel.RoleUser, "Hello"),
		chatmodel.NewTextTurn(chatmodel.RoleModel, "Hi there!"),
	))
	require.NoError(t, st.AppendTurns(ctx, s1.ID))

	history, err = st.GetHistory(ctx, s1.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, chatmodel.RoleUser, history[0].Role)
	assert.Equal(t, "Hello", history[0].Text())
	assert.Equal(t, chatmodel.RoleModel, history[1].Role)
	assert.Equal(t, "Hi there!", history[1].Text())

	// returned history is a copy
	history[0].Parts[0].Text = "modified"
	again, err := st.GetHistory(ctx, s1.ID)
	require.NoError(t, err)
	assert.Equal(t, "Hello", again[0].Text())

	info, err := st.GetSession(ctx, s1.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, info.TurnCount)

	list, err = st.ListSessions(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, s1.ID, list[0].ID)
	assert.Equal(t, 2, list[0].TurnCount)
	assert.Equal(t, s2.ID, list[1].ID)
	assert.Equal(t, 0, list[1].TurnCount)
}

func Test_MemoryStore_ReadTwice(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()

	s, err := st.CreateSession(ctx)
	require.NoError(t, err)
	for i := range 10 {
		role := chatmodel.RoleUser
		if i%2 == 1 {
			role = chatmodel.RoleModel
		}
		require.NoError(t, st.AppendTurns(ctx, s.ID, chatmodel.NewTextTurn(role, gofakeit.Sentence(5))))
	}

	h1, err := st.GetHistory(ctx, s.ID)
	require.NoError(t, err)
	h2, err := st.GetHistory(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
}

func Test_MemoryStore_ConcurrentAppends(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()

	s, err := st.CreateSession(ctx)
	require.NoError(t, err)
	other, err := st.CreateSession(ctx)
	require.NoError(t, err)

	const count = 100
	var wg sync.WaitGroup
	errs := make(chan error, 2*count)
	for i := range count {
		wg.Add(2)
		go func() {
			defer wg.Done()
			// each append is a pair that must stay adjacent
			errs <- st.AppendTurns(ctx, s.ID,
				chatmodel.NewTextTurn(chatmodel.RoleUser, fmt.Sprintf("q%d", i)),
				chatmodel.NewTextTurn(chatmodel.RoleModel, fmt.Sprintf("a%d", i)),
			)
		}()
		go func() {
			defer wg.Done()
			errs <- st.AppendTurns(ctx, other.ID, chatmodel.NewTextTurn(chatmodel.RoleUser, fmt.Sprintf("o%d", i)))
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	history, err := st.GetHistory(ctx, s.ID)
	require.NoError(t, err)
	require.Len(t, history, 2*count)

	seen := make(map[string]bool)
	for i := 0; i < len(history); i += 2 {
		q := history[i].Text()
		a := history[i+1].Text()
		assert.Equal(t, chatmodel.RoleUser, history[i].Role)
		assert.Equal(t, chatmodel.RoleModel, history[i+1].Role)
		assert.Equal(t, "a"+q[1:], a)
		assert.False(t, seen[q], "duplicate %s", q)
		seen[q] = true
	}
	assert.Len(t, seen, count)

	otherHistory, err := st.GetHistory(ctx, other.ID)
	require.NoError(t, err)
	assert.Len(t, otherHistory, count)
}

func Test_MemoryStore_Lock(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()

	s, err := st.CreateSession(ctx)
	require.NoError(t, err)
	other, err := st.CreateSession(ctx)
	require.NoError(t, err)

	unlock, err := st.Lock(ctx, s.ID)
	require.NoError(t, err)

	// other sessions are not blocked
	unlockOther, err := st.Lock(ctx, other.ID)
	require.NoError(t, err)
	unlockOther()

	// reads and appends are not blocked by the processing lock
	require.NoError(t, st.AppendTurns(ctx, s.ID, chatmodel.NewTextTurn(chatmodel.RoleUser, "hi")))
	_, err = st.GetHistory(ctx, s.ID)
	require.NoError(t, err)

	tctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = st.Lock(tctx, s.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	unlock()
	// second call is a no-op
	unlock()

	unlock2, err := st.Lock(ctx, s.ID)
	require.NoError(t, err)
	unlock2()
}
