package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// exerciseStore runs the behaviour every Store implementation must share.
func exerciseStore(t *testing.T, st Store) {
	ctx := context.Background()

	ids, err := st.GetSelection(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)

	require.NoError(t, st.SetSelection(ctx, []int{30, 3, 4}))
	ids, err = st.GetSelection(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 4, 30}, ids)

	require.NoError(t, st.SetSelection(ctx, nil))
	ids, err = st.GetSelection(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)

	tm, err := st.GetCurrTime(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, tm)
	require.NoError(t, st.SetCurrTime(ctx, 2))
	tm, err = st.GetCurrTime(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, tm)

	seen, err := st.IsHandled(ctx, "page-a", "resp_cb_id_100")
	require.NoError(t, err)
	assert.False(t, seen)
	require.NoError(t, st.MarkHandled(ctx, "page-a", "resp_cb_id_100", time.Minute))
	seen, err = st.IsHandled(ctx, "page-a", "resp_cb_id_100")
	require.NoError(t, err)
	assert.True(t, seen)

	// Another page reuses the same counter values.
	seen, err = st.IsHandled(ctx, "page-b", "resp_cb_id_100")
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, st.SetResponseStatus(ctx, "page-a", "resp_cb_id_100", "done", time.Minute))
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestMemoryStore_HandledExpires(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore()
	require.NoError(t, st.MarkHandled(ctx, "p", "id", -time.Second))
	seen, err := st.IsHandled(ctx, "p", "id")
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestMemoryStore_ResponseStatus(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore()
	_, ok := st.ResponseStatus("p", "id")
	assert.False(t, ok)

	require.NoError(t, st.SetResponseStatus(ctx, "p", "id", "done", time.Minute))
	status, ok := st.ResponseStatus("p", "id")
	assert.True(t, ok)
	assert.Equal(t, "done", status)
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	st := NewRedisStore(addr, "gdatest:"+uuid.NewString())
	defer st.Close()
	exerciseStore(t, st)
}

func TestMemoryStore_PrunesExpiredEntries(t *testing.T) {
	saved := pruneInterval
	pruneInterval = 0
	t.Cleanup(func() { pruneInterval = saved })

	ctx := context.Background()
	st := NewMemoryStore()
	for _, id := range []string{"resp_cb_id_100", "resp_cb_id_101", "resp_cb_id_102"} {
		require.NoError(t, st.MarkHandled(ctx, "page-1", id, time.Millisecond))
		require.NoError(t, st.SetResponseStatus(ctx, "page-1", id, "done", time.Millisecond))
	}
	require.Equal(t, 3, st.Len())

	time.Sleep(5 * time.Millisecond)
	require.NoError(t, st.MarkHandled(ctx, "page-1", "resp_cb_id_103", time.Hour))
	require.NoError(t, st.SetResponseStatus(ctx, "page-1", "resp_cb_id_103", "done", time.Hour))

	assert.Equal(t, 1, st.Len())
	st.mu.RLock()
	assert.Len(t, st.statuses, 1)
	st.mu.RUnlock()
}
