package store

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	r := NewRedis(client, zerolog.Nop())
	t.Cleanup(func() { _ = r.Close() })
	return r, mr
}

func newTestMemory(t *testing.T) *Memory {
	t.Helper()

	m := NewMemory(zerolog.Nop())
	t.Cleanup(func() { _ = m.Close() })
	return m
}

// backends runs fn against every Store implementation.
func backends(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Run("memory", func(t *testing.T) {
		fn(t, newTestMemory(t))
	})
	t.Run("redis", func(t *testing.T) {
		r, _ := newTestRedis(t)
		fn(t, r)
	})
}

func TestPushTrimBoundsList(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		for i := 0; i < 55; i++ {
			n, err := s.PushTrim(ctx, "messages:general", []byte(fmt.Sprintf("m%02d", i)), 50)
			require.NoError(t, err)
			assert.LessOrEqual(t, n, 50)
		}

		values, total, err := s.Range(ctx, "messages:general", 0, 100)
		require.NoError(t, err)
		assert.Equal(t, 50, total)
		require.Len(t, values, 50)
		assert.Equal(t, "m54", values[0], "head holds the newest entry")
		assert.Equal(t, "m05", values[49], "oldest five entries are evicted")
	})
}

func TestPushTrimRejectsInvalidBound(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		_, err := s.PushTrim(context.Background(), "messages:x", []byte("m"), 0)
		assert.Error(t, err)
	})
}

func TestRangeWindow(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		for i := 0; i < 12; i++ {
			_, err := s.PushTrim(ctx, "messages:r", []byte(fmt.Sprintf("%d", i)), 50)
			require.NoError(t, err)
		}

		tests := []struct {
			name   string
			offset int
			limit  int
			want   []string
		}{
			{name: "first page", offset: 0, limit: 3, want: []string{"11", "10", "9"}},
			{name: "middle page", offset: 3, limit: 3, want: []string{"8", "7", "6"}},
			{name: "tail is short", offset: 10, limit: 5, want: []string{"1", "0"}},
			{name: "past the end", offset: 20, limit: 5, want: nil},
			{name: "zero limit", offset: 0, limit: 0, want: nil},
			{name: "negative offset", offset: -4, limit: 1, want: []string{"11"}},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				values, total, err := s.Range(ctx, "messages:r", tt.offset, tt.limit)
				require.NoError(t, err)
				assert.Equal(t, 12, total)
				if len(tt.want) == 0 {
					assert.Empty(t, values)
					return
				}
				assert.Equal(t, tt.want, values)
			})
		}
	})
}

func TestRangeMissingKey(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		values, total, err := s.Range(context.Background(), "messages:nowhere", 0, 10)
		require.NoError(t, err)
		assert.Empty(t, values)
		assert.Zero(t, total)
	})
}

func TestSetMembership(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		added, err := s.AddMember(ctx, "rooms", "general")
		require.NoError(t, err)
		assert.True(t, added)

		added, err = s.AddMember(ctx, "rooms", "general")
		require.NoError(t, err)
		assert.False(t, added, "second add is a no-op")

		_, err = s.AddMember(ctx, "rooms", "random")
		require.NoError(t, err)

		members, err := s.Members(ctx, "rooms")
		require.NoError(t, err)
		sort.Strings(members)
		assert.Equal(t, []string{"general", "random"}, members)
	})
}

func TestPublishSubscribe(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		var (
			mu  sync.Mutex
			got []string
		)
		sub, err := s.Subscribe(ctx, "channel:general", func(payload []byte) {
			mu.Lock()
			got = append(got, string(payload))
			mu.Unlock()
		})
		require.NoError(t, err)
		defer sub.Close()
		assert.Equal(t, "channel:general", sub.Channel())

		for i := 0; i < 5; i++ {
			require.NoError(t, s.Publish(ctx, "channel:general", []byte(fmt.Sprintf("p%d", i))))
		}
		require.NoError(t, s.Publish(ctx, "channel:other", []byte("ignored")))

		require.Eventually(t, func() bool {
			mu.Lock()
			defer mu.Unlock()
			return len(got) == 5
		}, 2*time.Second, 10*time.Millisecond)

		mu.Lock()
		assert.Equal(t, []string{"p0", "p1", "p2", "p3", "p4"}, got, "publish order is preserved")
		mu.Unlock()
	})
}

func TestSubscriptionSurvivesPanickingHandler(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		calls := make(chan string, 4)
		sub, err := s.Subscribe(ctx, "channel:panicky", func(payload []byte) {
			calls <- string(payload)
			if string(payload) == "boom" {
				panic("handler failure")
			}
		})
		require.NoError(t, err)
		defer sub.Close()

		require.NoError(t, s.Publish(ctx, "channel:panicky", []byte("boom")))
		require.NoError(t, s.Publish(ctx, "channel:panicky", []byte("after")))

		for _, want := range []string{"boom", "after"} {
			select {
			case got := <-calls:
				assert.Equal(t, want, got)
			case <-time.After(2 * time.Second):
				t.Fatalf("timed out waiting for %q", want)
			}
		}
	})
}

func TestCloseStopsDelivery(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		calls := make(chan struct{}, 4)
		sub, err := s.Subscribe(ctx, "channel:closing", func([]byte) { calls <- struct{}{} })
		require.NoError(t, err)

		require.NoError(t, sub.Close())
		require.NoError(t, sub.Close(), "close is idempotent")
		require.NoError(t, s.Publish(ctx, "channel:closing", []byte("late")))

		select {
		case <-calls:
			t.Fatal("handler invoked after close")
		case <-time.After(100 * time.Millisecond):
		}
	})
}

func TestFlush(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		_, err := s.PushTrim(ctx, "messages:a", []byte("x"), 50)
		require.NoError(t, err)
		_, err = s.AddMember(ctx, "rooms", "a")
		require.NoError(t, err)

		require.NoError(t, s.Flush(ctx))

		_, total, err := s.Range(ctx, "messages:a", 0, 10)
		require.NoError(t, err)
		assert.Zero(t, total)
		members, err := s.Members(ctx, "rooms")
		require.NoError(t, err)
		assert.Empty(t, members)
	})
}

func TestRedisUnavailable(t *testing.T) {
	r, mr := newTestRedis(t)
	mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	assert.ErrorIs(t, r.Ping(ctx), ErrUnavailable)
	_, err := r.PushTrim(ctx, "messages:x", []byte("m"), 50)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestOpenRedisFailsFast(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	host, port := splitAddr(t, addr)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := OpenRedis(ctx, RedisOptions{Host: host, Port: port}, zerolog.Nop())
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestMemoryClosedRejectsOperations(t *testing.T) {
	m := NewMemory(zerolog.Nop())
	require.NoError(t, m.Close())

	assert.ErrorIs(t, m.Ping(context.Background()), ErrUnavailable)
	_, err := m.PushTrim(context.Background(), "k", []byte("v"), 1)
	assert.ErrorIs(t, err, ErrUnavailable)
	_, err = m.Subscribe(context.Background(), "c", func([]byte) {})
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestRedisOptionsAddr(t *testing.T) {
	assert.Equal(t, "localhost:6379", RedisOptions{Host: "localhost", Port: 6379}.Addr())
}

func splitAddr(t *testing.T, addr string) (string, int) {
	t.Helper()
	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return host, port
}
