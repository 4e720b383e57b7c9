// Package relay serves game documents to peers over websockets. Every room
// keeps a replica of its document, answers sync handshakes, forwards updates
// between the peers of the room and reports room presence.
package relay

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/guhur/plus-proche/internal/doc"
	"github.com/guhur/plus-proche/internal/errors"
	"github.com/guhur/plus-proche/internal/event"
	"github.com/guhur/plus-proche/internal/pin"
	"github.com/guhur/plus-proche/internal/telemetry"
)

const (
	defaultCompactAfter = 500
	storeTimeout        = 5 * time.Second
)

type Config struct {
	EventBus *event.Bus

	// Store persists rooms. Nil keeps them in memory.
	Store Store

	// Fanout shares updates with other relay instances. Nil runs a single instance.
	Fanout *Fanout

	InstanceID   string
	CompactAfter int64
}

type Hub struct {
	eb           *event.Bus
	store        Store
	fanout       *Fanout
	instance     string
	compactAfter int64
	upgrader     websocket.Upgrader

	mu    sync.Mutex
	rooms map[string]*Room
}

func NewHub(c Config) *Hub {
	h := &Hub{
		eb:           c.EventBus,
		store:        c.Store,
		fanout:       c.Fanout,
		instance:     c.InstanceID,
		compactAfter: c.CompactAfter,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		rooms: make(map[string]*Room),
	}

	if h.instance == "" {
		h.instance = uuid.NewString()
	}
	if h.compactAfter <= 0 {
		h.compactAfter = defaultCompactAfter
	}

	return h
}

// Room returns the loaded room name, loading it from the store on first use.
func (h *Hub) Room(ctx context.Context, name string) (*Room, error) {
	p, err := pin.FromRoom(name)
	if err != nil {
		return nil, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if r, ok := h.rooms[name]; ok {
		return r, nil
	}

	r := newRoom(h, name, p)
	if h.store != nil {
		updates, err := h.store.Load(ctx, name)
		if err != nil {
			r.close()
			return nil, errors.New(errors.CodeUnavailable,
				errors.WithMessagef("load room %s", name),
				errors.WithCause(err),
			)
		}

		for _, u := range updates {
			if err := r.doc.Apply(u, storeOrigin{}); err != nil {
				r.close()
				return nil, fmt.Errorf("relay: load room %s: %w", name, err)
			}
		}
	}

	h.rooms[name] = r
	telemetry.RelayRooms.Inc()
	slog.InfoContext(ctx, "relay: room loaded", "room", name)

	return r, nil
}

// LoadedRoom returns the room name if this instance has it in memory.
func (h *Hub) LoadedRoom(name string) (*Room, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	r, ok := h.rooms[name]
	return r, ok
}

// Deliver applies an update received from another relay instance.
func (h *Hub) Deliver(ctx context.Context, room string, u doc.Update) {
	r, ok := h.LoadedRoom(room)
	if !ok {
		return
	}

	if err := r.doc.Apply(u, fanoutOrigin{}); err != nil {
		slog.WarnContext(ctx, "relay: apply fanned out update failed", "room", room, "error", err)
		return
	}

	telemetry.RelayUpdates.WithLabelValues("fanout").Inc()
}

// Run forwards updates from other relay instances until ctx is done.
func (h *Hub) Run(ctx context.Context) error {
	if h.fanout == nil {
		<-ctx.Done()
		return nil
	}

	return h.fanout.Run(ctx, h.Deliver)
}

// Close disconnects every client and releases every room.
func (h *Hub) Close() {
	h.mu.Lock()
	rooms := h.rooms
	h.rooms = make(map[string]*Room)
	h.mu.Unlock()

	for _, r := range rooms {
		r.close()
		telemetry.RelayRooms.Dec()
	}
}
