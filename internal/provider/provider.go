// Package provider binds a game document to a relay room and to a local
// durable cache, and reports the connection and sync status of the pair.
package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/guhur/plus-proche/internal/doc"
	"github.com/guhur/plus-proche/internal/pin"
	"github.com/guhur/plus-proche/internal/protocol"
)

const (
	// DefaultSyncFallback is how long a connected provider waits for a sync
	// acknowledgment before it assumes the document is synced.
	DefaultSyncFallback = 1500 * time.Millisecond

	DefaultNamespace = "plusproche"

	defaultReconnectDelay = time.Second
	persistTimeout        = 5 * time.Second
)

type origin string

const (
	originCache origin = "cache"
	originRelay origin = "relay"
)

type Config struct {
	Pin string

	// RelayURL is the websocket endpoint rooms are served under, such as
	// ws://localhost:8080/ws. Empty keeps the provider offline.
	RelayURL string

	// Redis backs the local cache. Nil disables it.
	Redis     redis.UniversalClient
	Namespace string

	SyncFallback   time.Duration
	ReconnectDelay time.Duration
	Dialer         *websocket.Dialer

	DocOptions []doc.Option
}

type Status struct {
	Connected bool
	Synced    bool
	PeerCount int
}

type Provider struct {
	c     Config
	room  string
	url   string
	doc   *doc.Document
	cache *Cache

	unobserve func()
	cancel    context.CancelFunc
	eg        errgroup.Group

	mu        sync.Mutex
	conn      *connection
	connected bool
	synced    bool
	peers     int
	syncedCh  chan struct{}
	fallback  *time.Timer

	closeOnce sync.Once
	closeErr  error
}

// New allocates the document, replays the local cache into it and starts
// connecting to the relay. The provider runs until Close is called or ctx is done.
func New(ctx context.Context, c Config) (*Provider, error) {
	if err := pin.Validate(c.Pin); err != nil {
		return nil, err
	}

	if c.Namespace == "" {
		c.Namespace = DefaultNamespace
	}
	if c.SyncFallback <= 0 {
		c.SyncFallback = DefaultSyncFallback
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = defaultReconnectDelay
	}
	if c.Dialer == nil {
		c.Dialer = websocket.DefaultDialer
	}

	p := &Provider{
		c:        c,
		room:     pin.Room(c.Pin),
		doc:      doc.New(c.DocOptions...),
		syncedCh: make(chan struct{}),
	}

	ctx, p.cancel = context.WithCancel(ctx)

	if c.RelayURL != "" {
		u, err := url.JoinPath(c.RelayURL, p.room)
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("provider: relay url: %w", err)
		}
		p.url = u
	}

	if c.Redis != nil {
		p.cache = NewCache(c.Redis, pin.CacheName(c.Namespace, c.Pin))
		if err := p.loadCache(ctx); err != nil {
			p.Close()
			return nil, fmt.Errorf("provider: %w", err)
		}
	}

	p.unobserve = p.doc.Observe(p.onChange)

	if p.url != "" {
		p.eg.Go(func() error {
			p.run(ctx)
			return nil
		})
	}

	return p, nil
}

func (p *Provider) Doc() *doc.Document {
	return p.doc
}

func (p *Provider) Room() string {
	return p.room
}

func (p *Provider) Connected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

// Synced reports whether the document was reconciled at least once, with the
// local cache, with the relay or through the fallback timer.
func (p *Provider) Synced() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.synced
}

func (p *Provider) PeerCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.peers
}

func (p *Provider) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Status{Connected: p.connected, Synced: p.synced, PeerCount: p.peers}
}

// WaitSynced blocks until the provider is synced or ctx is done.
func (p *Provider) WaitSynced(ctx context.Context) error {
	select {
	case <-p.syncedCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close releases the relay connection, then the local cache, then the document.
func (p *Provider) Close() error {
	p.closeOnce.Do(func() {
		var errs []error

		p.cancel()
		if err := p.eg.Wait(); err != nil {
			errs = append(errs, fmt.Errorf("transport: %w", err))
		}

		p.mu.Lock()
		p.connected = false
		p.peers = 0
		if p.fallback != nil {
			p.fallback.Stop()
		}
		p.mu.Unlock()

		// No more writes reach the cache once the observer is gone.
		if p.unobserve != nil {
			p.unobserve()
		}

		p.doc.Destroy()

		p.closeErr = errors.Join(errs...)
		slog.Info("provider: closed", "room", p.room)
	})

	return p.closeErr
}

func (p *Provider) loadCache(ctx context.Context) error {
	updates, err := p.cache.Load(ctx)
	if err != nil {
		return err
	}

	for _, u := range updates {
		if err := p.doc.Apply(u, originCache); err != nil {
			return fmt.Errorf("apply cached update: %w", err)
		}
	}

	if len(updates) > 0 {
		p.markSynced(string(originCache))
	}

	return nil
}

func (p *Provider) onChange(c doc.Change) {
	if c.Local {
		p.send(protocol.UpdateMessage(c.Update))
	}

	if p.cache != nil && c.Origin != originCache {
		p.persist(c.Update)
	}
}

func (p *Provider) persist(u doc.Update) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	compact, err := p.cache.Append(ctx, u)
	if err != nil {
		slog.WarnContext(ctx, "provider: persist update failed", "room", p.room, "error", err)
		return
	}

	if compact {
		if err := p.cache.Compact(ctx, p.doc.Diff(nil)); err != nil {
			slog.WarnContext(ctx, "provider: compact cache failed", "room", p.room, "error", err)
		}
	}
}

func (p *Provider) send(m protocol.Message) {
	p.mu.Lock()
	c := p.conn
	p.mu.Unlock()

	if c == nil {
		return
	}

	b, err := protocol.Encode(m)
	if err != nil {
		slog.Error("provider: encode message failed", "error", err)
		return
	}

	c.enqueue(b)
}

func (p *Provider) markSynced(source string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.markSyncedLocked(source)
}

func (p *Provider) markSyncedLocked(source string) {
	if p.synced {
		return
	}

	p.synced = true
	close(p.syncedCh)
	slog.Info("provider: synced", "room", p.room, "source", source)
}

func (p *Provider) attach(c *connection) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.conn = c
	p.connected = true
	p.fallback = time.AfterFunc(p.c.SyncFallback, func() {
		p.mu.Lock()
		defer p.mu.Unlock()

		if p.conn == c && !p.synced {
			p.markSyncedLocked("fallback")
		}
	})
}

func (p *Provider) detach(c *connection) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn != c {
		return
	}

	p.conn = nil
	p.connected = false
	p.peers = 0
	p.fallback.Stop()
}

func (p *Provider) setPeers(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.peers = n
}
