package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func record(thread string, seq int64, status, pending string) Record {
	return Record{
		ThreadID:  thread,
		Seq:       seq,
		Status:    status,
		Pending:   pending,
		Data:      json.RawMessage(fmt.Sprintf(`{"state":{"step":%d}}`, seq)),
		CreatedAt: time.Date(2025, 3, 1, 12, 0, int(seq), 0, time.UTC),
	}
}

// runConformance exercises the Store contract against one backend. Each
// backend test passes a constructor returning a fresh, empty store.
func runConformance(t *testing.T, open func(t *testing.T) Store) {
	t.Run("empty thread", func(t *testing.T) {
		st := open(t)
		ctx := context.Background()

		_, err := st.LoadLatest(ctx, "nobody")
		assert.ErrorIs(t, err, ErrNotFound)
		_, _, err = st.Pending(ctx, "nobody")
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = st.History(ctx, "nobody")
		assert.ErrorIs(t, err, ErrNotFound)
		ok, err := st.Exists(ctx, "nobody")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("save and load round trip", func(t *testing.T) {
		st := open(t)
		ctx := context.Background()

		require.NoError(t, st.Save(ctx, record("T", 1, "running", "")))
		want := record("T", 2, "suspended", "review")
		require.NoError(t, st.Save(ctx, want))

		got, err := st.LoadLatest(ctx, "T")
		require.NoError(t, err)
		assert.Equal(t, want.ThreadID, got.ThreadID)
		assert.Equal(t, want.Seq, got.Seq)
		assert.Equal(t, want.Status, got.Status)
		assert.Equal(t, want.Pending, got.Pending)
		assert.JSONEq(t, string(want.Data), string(got.Data))
		assert.True(t, want.CreatedAt.Equal(got.CreatedAt), "created_at %v != %v", got.CreatedAt, want.CreatedAt)

		pending, status, err := st.Pending(ctx, "T")
		require.NoError(t, err)
		assert.Equal(t, "review", pending)
		assert.Equal(t, "suspended", status)

		ok, err := st.Exists(ctx, "T")
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("history is ordered", func(t *testing.T) {
		st := open(t)
		ctx := context.Background()
		for seq := int64(1); seq <= 5; seq++ {
			require.NoError(t, st.Save(ctx, record("T", seq, "running", "")))
		}
		history, err := st.History(ctx, "T")
		require.NoError(t, err)
		require.Len(t, history, 5)
		for i, rec := range history {
			assert.Equal(t, int64(i+1), rec.Seq)
		}
	})

	t.Run("stale sequence conflicts", func(t *testing.T) {
		st := open(t)
		ctx := context.Background()
		require.NoError(t, st.Save(ctx, record("T", 1, "running", "")))
		require.NoError(t, st.Save(ctx, record("T", 2, "running", "")))

		assert.ErrorIs(t, st.Save(ctx, record("T", 2, "failed", "")), ErrConflict)
		assert.ErrorIs(t, st.Save(ctx, record("T", 1, "failed", "")), ErrConflict)

		latest, err := st.LoadLatest(ctx, "T")
		require.NoError(t, err)
		assert.Equal(t, "running", latest.Status, "a rejected save must not change the latest checkpoint")
	})

	t.Run("threads are independent", func(t *testing.T) {
		st := open(t)
		ctx := context.Background()
		require.NoError(t, st.Save(ctx, record("T", 1, "suspended", "analysis")))
		require.NoError(t, st.Save(ctx, record("T_sub", 1, "suspended", "wait")))

		p1, _, err := st.Pending(ctx, "T")
		require.NoError(t, err)
		p2, _, err := st.Pending(ctx, "T_sub")
		require.NoError(t, err)
		assert.Equal(t, "analysis", p1)
		assert.Equal(t, "wait", p2)
	})

	t.Run("delete", func(t *testing.T) {
		st := open(t)
		ctx := context.Background()
		require.NoError(t, st.Save(ctx, record("T", 1, "completed", "")))
		require.NoError(t, st.Delete(ctx, "T"))

		_, err := st.LoadLatest(ctx, "T")
		assert.ErrorIs(t, err, ErrNotFound)
		require.NoError(t, st.Save(ctx, record("T", 1, "running", "")), "a deleted thread starts over")
	})

	t.Run("concurrent writers on one thread", func(t *testing.T) {
		st := open(t)
		ctx := context.Background()
		require.NoError(t, st.Save(ctx, record("T", 1, "running", "")))

		var wg sync.WaitGroup
		results := make(chan error, 8)
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				results <- st.Save(ctx, record("T", 2, "running", ""))
			}()
		}
		wg.Wait()
		close(results)

		succeeded := 0
		for err := range results {
			if err == nil {
				succeeded++
				continue
			}
			assert.ErrorIs(t, err, ErrConflict)
		}
		assert.Equal(t, 1, succeeded, "exactly one writer must win")

		history, err := st.History(ctx, "T")
		require.NoError(t, err)
		assert.Len(t, history, 2)
	})
}
