package suspend

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeeJc02/ShopMate/pkg/schema"
	"github.com/LeeJc02/ShopMate/pkg/storage"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newClock() *clock {
	return &clock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func pending(id string, now time.Time, ttl time.Duration) *Suspension {
	return &Suspension{
		RequestID: id,
		Request:   schema.Request{ID: id, Text: "Where is my order #123?", Mode: schema.ModePassthrough},
		Decision:  schema.RouteDecision{Route: "order_query", Confidence: 0.8},
		Calls: []schema.ToolCallRequest{{
			CallID:    "c1",
			ToolName:  "lookup_order",
			Arguments: []schema.Argument{{Name: "id", Value: "123"}},
		}},
		HandlerState: json.RawMessage(`{"order_key":"123"}`),
		CreatedAt:    now,
		ExpiresAt:    now.Add(ttl),
		Status:       StatusPending,
	}
}

func exerciseStore(t *testing.T, store Store, c *clock) {
	ctx := context.Background()

	t.Run("round trip", func(t *testing.T) {
		require.NoError(t, store.Put(ctx, pending("r1", c.Now(), time.Minute)))

		got, err := store.Get(ctx, "r1")
		require.NoError(t, err)
		assert.Equal(t, "order_query", got.Decision.Route)
		assert.Equal(t, StatusPending, got.Status)
		require.Len(t, got.Calls, 1)
		assert.Equal(t, "lookup_order", got.Calls[0].ToolName)
		assert.JSONEq(t, `{"order_key":"123"}`, string(got.HandlerState))
	})

	t.Run("duplicate put", func(t *testing.T) {
		err := store.Put(ctx, pending("r1", c.Now(), time.Minute))
		assert.ErrorIs(t, err, ErrExists)
	})

	t.Run("unknown id", func(t *testing.T) {
		_, err := store.Get(ctx, "nope")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("complete once", func(t *testing.T) {
		resp := &schema.Response{RequestID: "r1", Route: "order_query", Text: "shipped"}
		require.NoError(t, store.Complete(ctx, "r1", "digest-a", resp))

		err := store.Complete(ctx, "r1", "digest-b", resp)
		assert.ErrorIs(t, err, ErrCompleted)

		got, err := store.Get(ctx, "r1")
		require.NoError(t, err)
		assert.Equal(t, StatusCompleted, got.Status)
		assert.Equal(t, "digest-a", got.ResultsDigest)
		require.NotNil(t, got.Response)
		assert.Equal(t, "shipped", got.Response.Text)
	})

	t.Run("lazy expiry", func(t *testing.T) {
		require.NoError(t, store.Put(ctx, pending("r2", c.Now(), time.Second)))
		c.Advance(time.Second)

		_, err := store.Get(ctx, "r2")
		assert.ErrorIs(t, err, ErrExpired)
		_, err = store.Get(ctx, "r2")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("expired id can be reused", func(t *testing.T) {
		require.NoError(t, store.Put(ctx, pending("r3", c.Now(), time.Second)))
		c.Advance(2 * time.Second)
		assert.NoError(t, store.Put(ctx, pending("r3", c.Now(), time.Minute)))
	})

	t.Run("sweep", func(t *testing.T) {
		require.NoError(t, store.Put(ctx, pending("s1", c.Now(), time.Second)))
		require.NoError(t, store.Put(ctx, pending("s2", c.Now(), time.Hour)))

		n, err := store.Sweep(ctx, c.Now().Add(2*time.Minute))
		require.NoError(t, err)
		// s1, r1 and r3 are past their deadline by then.
		assert.Equal(t, 3, n)

		_, err = store.Get(ctx, "s2")
		assert.NoError(t, err)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, store.Delete(ctx, "s2"))
		_, err := store.Get(ctx, "s2")
		assert.ErrorIs(t, err, ErrNotFound)
		assert.NoError(t, store.Delete(ctx, "s2"))
	})
}

func TestMemoryStore(t *testing.T) {
	c := newClock()
	exerciseStore(t, NewMemory(WithClock(c.Now)), c)
}

func TestSQLiteStore(t *testing.T) {
	db, err := storage.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	c := newClock()
	store, err := NewSQLite(context.Background(), db, c.Now)
	require.NoError(t, err)
	exerciseStore(t, store, c)
}

func TestMemoryReturnsCopies(t *testing.T) {
	ctx := context.Background()
	c := newClock()
	store := NewMemory(WithClock(c.Now))
	require.NoError(t, store.Put(ctx, pending("r1", c.Now(), time.Minute)))

	got, err := store.Get(ctx, "r1")
	require.NoError(t, err)
	got.Calls[0].ToolName = "mutated"

	again, err := store.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "lookup_order", again.Calls[0].ToolName)
}

func TestConcurrentCompleteHasOneWinner(t *testing.T) {
	ctx := context.Background()
	c := newClock()
	store := NewMemory(WithClock(c.Now))
	require.NoError(t, store.Put(ctx, pending("r1", c.Now(), time.Minute)))

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := store.Complete(ctx, "r1", "d", &schema.Response{RequestID: "r1"}); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}
