package relay

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/guhur/plus-proche/internal/doc"
	"github.com/guhur/plus-proche/internal/domain"
	"github.com/guhur/plus-proche/internal/protocol"
	"github.com/guhur/plus-proche/internal/telemetry"
)

type (
	storeOrigin  struct{}
	fanoutOrigin struct{}
)

// Room is the relay side of one game session.
type Room struct {
	hub  *Hub
	name string
	pin  string
	doc  *doc.Document

	mu      sync.Mutex
	clients map[string]*Client

	unobserve func()
}

func newRoom(h *Hub, name, p string) *Room {
	r := &Room{
		hub:     h,
		name:    name,
		pin:     p,
		doc:     doc.New(doc.WithReplica("relay-" + h.instance)),
		clients: make(map[string]*Client),
	}

	r.unobserve = r.doc.Observe(r.onChange)
	return r
}

func (r *Room) Name() string {
	return r.name
}

func (r *Room) Doc() *doc.Document {
	return r.doc
}

// Peers returns the number of clients connected to the room on this instance.
func (r *Room) Peers() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

func (r *Room) join(c *Client) {
	r.mu.Lock()
	r.clients[c.id] = c
	r.mu.Unlock()

	telemetry.RelayPeers.Inc()

	c.sendMessage(protocol.SyncStep1(r.doc.StateVector()))
	r.broadcastAwareness()
}

func (r *Room) leave(c *Client) {
	r.mu.Lock()
	_, ok := r.clients[c.id]
	delete(r.clients, c.id)
	r.mu.Unlock()

	if !ok {
		return
	}

	telemetry.RelayPeers.Dec()
	r.broadcastAwareness()
}

func (r *Room) handle(c *Client, m protocol.Message) {
	switch m.Type {
	case protocol.TypeSyncStep1:
		c.sendMessage(protocol.SyncStep2(r.doc.Diff(m.StateVector)))

	case protocol.TypeSyncStep2, protocol.TypeUpdate:
		if err := r.doc.Apply(*m.Update, c); err != nil {
			slog.Warn("relay: apply client update failed", "room", r.name, "client", c.id, "error", err)
			return
		}
		telemetry.RelayUpdates.WithLabelValues("client").Inc()

	case protocol.TypeAwareness:
	}
}

func (r *Room) onChange(ch doc.Change) {
	switch o := ch.Origin.(type) {
	case *Client:
		r.broadcast(protocol.UpdateMessage(ch.Update), o)
		r.persist(ch.Update)
		r.publish(ch.Update)

	case fanoutOrigin:
		r.broadcast(protocol.UpdateMessage(ch.Update), nil)
	}

	if ch.Touches(doc.MapPlayers) {
		r.publishScores(ch)
	}
}

func (r *Room) persist(u doc.Update) {
	if r.hub.store == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	n, err := r.hub.store.Append(ctx, r.name, u)
	if err != nil {
		slog.ErrorContext(ctx, "relay: persist update failed", "room", r.name, "error", err)
		return
	}

	if n > r.hub.compactAfter {
		if err := r.hub.store.Compact(ctx, r.name, r.doc.Diff(nil)); err != nil {
			slog.ErrorContext(ctx, "relay: compact room failed", "room", r.name, "error", err)
		}
	}
}

func (r *Room) publish(u doc.Update) {
	if r.hub.fanout == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	if err := r.hub.fanout.Publish(ctx, r.name, u); err != nil {
		slog.ErrorContext(ctx, "relay: fan out update failed", "room", r.name, "error", err)
	}
}

// publishScores emits a score event for every player the change touched, and a
// join event for players that became present.
func (r *Room) publishScores(ch doc.Change) {
	if r.hub.eb == nil {
		return
	}

	ctx := context.Background()
	seen := make(map[string]bool)
	for _, op := range ch.Update.Ops {
		if op.Map != doc.MapPlayers || seen[op.Key] {
			continue
		}
		seen[op.Key] = true

		p, ok := r.doc.Player(op.Key)
		if !ok {
			continue
		}

		if joinedIn(ch.Update, op.Key) {
			r.hub.eb.Publish(ctx, domain.EventPlayerJoined{Pin: r.pin, Player: p})
		}

		r.hub.eb.Publish(ctx, domain.EventScoreUpdated{
			Score: domain.Score{
				Pin:        r.pin,
				PlayerID:   p.ID,
				Name:       p.Name,
				TotalScore: decimal.NewFromInt(int64(p.Score)),
				UpdateTime: time.Now(),
			},
		})
	}
}

func joinedIn(u doc.Update, playerID string) bool {
	for _, op := range u.Ops {
		if op.Map == doc.MapPlayers && op.Key == playerID && op.Field == doc.PresenceField && string(op.Value) == "true" {
			return true
		}
	}
	return false
}

func (r *Room) broadcast(m protocol.Message, except *Client) {
	b, err := protocol.Encode(m)
	if err != nil {
		slog.Error("relay: encode broadcast failed", "room", r.name, "error", err)
		return
	}

	for _, c := range r.snapshotClients() {
		if c != except {
			c.send(b)
		}
	}
}

func (r *Room) broadcastAwareness() {
	clients := r.snapshotClients()
	for _, c := range clients {
		c.sendMessage(protocol.Awareness(c.id, len(clients)))
	}
}

func (r *Room) snapshotClients() []*Client {
	r.mu.Lock()
	defer r.mu.Unlock()

	clients := make([]*Client, 0, len(r.clients))
	for _, c := range r.clients {
		clients = append(clients, c)
	}
	return clients
}

func (r *Room) close() {
	for _, c := range r.snapshotClients() {
		c.Close()
	}

	if r.unobserve != nil {
		r.unobserve()
	}
	r.doc.Destroy()
}
