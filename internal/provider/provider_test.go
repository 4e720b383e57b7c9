package provider_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guhur/plus-proche/internal/doc"
	"github.com/guhur/plus-proche/internal/domain"
	"github.com/guhur/plus-proche/internal/provider"
)

const (
	waitFor = 5 * time.Second
	tick    = 10 * time.Millisecond
)

func TestProvider_CacheReplay(t *testing.T) {
	rc := makeRedis(t)

	type (
		outputs struct {
			state  domain.GameState
			synced bool
		}
	)

	tests := map[string]struct {
		arrange func(t *testing.T)
		assert  func(t *testing.T, out outputs)
	}{
		"an empty cache does not count as synced": {
			arrange: func(t *testing.T) {},
			assert: func(t *testing.T, out outputs) {
				assert.False(t, out.synced)
				assert.False(t, out.state.Created())
			},
		},

		"a previous session is replayed and counts as synced": {
			arrange: func(t *testing.T) {
				p := newProvider(t, provider.Config{Pin: "1234", Redis: rc})
				require.NoError(t, p.Doc().Transact("test", func(tx *doc.Txn) error {
					return tx.InitGameState(domain.GameState{Pin: "1234", Phase: domain.PhaseWaiting, HostID: "p1"})
				}))
				require.NoError(t, p.Doc().Transact("test", func(tx *doc.Txn) error {
					return tx.UpdateGameState(func(s *domain.GameState) { s.Phase = domain.PhaseSettings })
				}))
				require.NoError(t, p.Close())
			},
			assert: func(t *testing.T, out outputs) {
				assert.True(t, out.synced)
				assert.Equal(t, domain.GameState{Pin: "1234", Phase: domain.PhaseSettings, HostID: "p1"}, out.state)
			},
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, rc.FlushAll(context.Background()).Err())
			tt.arrange(t)

			p := newProvider(t, provider.Config{Pin: "1234", Redis: rc})
			tt.assert(t, outputs{state: p.Doc().GameState(), synced: p.Synced()})
		})
	}
}

func TestProvider_CacheIsKeyedByPin(t *testing.T) {
	rs := miniredis.RunT(t)
	rc := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{rs.Addr()}})

	p := newProvider(t, provider.Config{Pin: "4321", Redis: rc})
	require.NoError(t, p.Doc().Transact("test", func(tx *doc.Txn) error {
		return tx.PutPlayer(domain.Player{ID: "p1", Name: "Alice", JoinedAt: time.UnixMilli(0)})
	}))

	assert.True(t, rs.Exists("plusproche-4321"))

	other := newProvider(t, provider.Config{Pin: "4322", Redis: rc})
	assert.Empty(t, other.Doc().Players())
}

func TestProvider_MalformedCacheEntryIsIgnored(t *testing.T) {
	rs := miniredis.RunT(t)
	rc := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{rs.Addr()}})

	p := newProvider(t, provider.Config{Pin: "1234", Redis: rc})
	require.NoError(t, p.Doc().Transact("test", func(tx *doc.Txn) error {
		return tx.PutPlayer(domain.Player{ID: "p1", Name: "Alice", JoinedAt: time.UnixMilli(0)})
	}))
	require.NoError(t, p.Close())

	_, err := rs.Push("plusproche-1234", "{not json")
	require.NoError(t, err)

	again := newProvider(t, provider.Config{Pin: "1234", Redis: rc})
	players := again.Doc().Players()
	require.Len(t, players, 1)
	assert.Equal(t, "Alice", players[0].Name)
}

func TestProvider_SyncFallback(t *testing.T) {
	tests := map[string]struct {
		fallback time.Duration
		synced   bool
	}{
		"connected without acknowledgment is synced after the fallback":      {fallback: 50 * time.Millisecond, synced: true},
		"connected without acknowledgment is not synced before the fallback": {fallback: time.Hour, synced: false},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			url := silentRelay(t)

			p := newProvider(t, provider.Config{Pin: "1234", RelayURL: url, SyncFallback: tt.fallback})
			require.Eventually(t, p.Connected, waitFor, tick)

			if tt.synced {
				ctx, cancel := context.WithTimeout(context.Background(), waitFor)
				defer cancel()
				require.NoError(t, p.WaitSynced(ctx))
				return
			}

			time.Sleep(200 * time.Millisecond)
			assert.False(t, p.Synced())
		})
	}
}

func TestProvider_DefaultSyncFallback(t *testing.T) {
	assert.Equal(t, 1500*time.Millisecond, provider.DefaultSyncFallback)
}

func TestProvider_UnreachableRelay(t *testing.T) {
	p := newProvider(t, provider.Config{
		Pin:            "1234",
		RelayURL:       "ws://127.0.0.1:1/ws",
		SyncFallback:   10 * time.Millisecond,
		ReconnectDelay: 10 * time.Millisecond,
	})

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, provider.Status{}, p.Status(), "a relay that cannot be reached is neither connected nor synced")

	require.NoError(t, p.Doc().Transact("test", func(tx *doc.Txn) error {
		return tx.PutPlayer(domain.Player{ID: "p1", Name: "Alice", JoinedAt: time.UnixMilli(0)})
	}), "the document stays writable offline")
}

func TestProvider_Close(t *testing.T) {
	url := silentRelay(t)
	rc := makeRedis(t)

	p, err := provider.New(context.Background(), provider.Config{Pin: "1234", RelayURL: url, Redis: rc})
	require.NoError(t, err)
	require.Eventually(t, p.Connected, waitFor, tick)

	require.NoError(t, p.Close())
	require.NoError(t, p.Close(), "closing twice is a no-op")

	assert.False(t, p.Connected())
	assert.True(t, p.Doc().Closed())
	assert.ErrorIs(t, p.Doc().Transact("test", func(tx *doc.Txn) error { return nil }), domain.ErrDocumentClosed)
}

func TestProvider_InvalidPin(t *testing.T) {
	_, err := provider.New(context.Background(), provider.Config{Pin: "12a4"})
	assert.ErrorIs(t, err, domain.ErrInvalidPin)
}

func newProvider(t *testing.T, c provider.Config) *provider.Provider {
	t.Helper()

	p, err := provider.New(context.Background(), c)
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })

	return p
}

func makeRedis(t *testing.T) redis.UniversalClient {
	rs := miniredis.RunT(t)
	return redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{rs.Addr()}})
}

// silentRelay accepts websocket connections and never answers. Cleanup
// closes the connections still open.
func silentRelay(t *testing.T) string {
	t.Helper()

	var (
		upgrader websocket.Upgrader
		mu       sync.Mutex
		conns    []*websocket.Conn
	)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}

		mu.Lock()
		conns = append(conns, conn)
		mu.Unlock()

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(func() {
		srv.Close()

		mu.Lock()
		defer mu.Unlock()
		for _, c := range conns {
			c.Close()
		}
	})

	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}
