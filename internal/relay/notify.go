package relay

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/guhur/plus-proche/internal/domain"
	"github.com/guhur/plus-proche/internal/event"
)

const maxConcurrent = 100

type Notification struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

type Publisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// Notifier pushes leaderboard updates to one redis channel per player, and
// arrivals to one channel per session.
type Notifier struct {
	redis  Publisher
	prefix string
}

func NewNotifier(eb *event.Bus, r Publisher, prefix string) *Notifier {
	n := &Notifier{
		redis:  r,
		prefix: prefix,
	}

	eb.Subscribe(domain.EventNameLeaderboardUpdated, func(ctx context.Context, e event.Event) error {
		return n.PublishLeaderboardUpdated(ctx, e.(domain.EventLeaderboardUpdated))
	})
	eb.Subscribe(domain.EventNamePlayerJoined, func(ctx context.Context, e event.Event) error {
		return n.PublishPlayerJoined(ctx, e.(domain.EventPlayerJoined))
	})

	return n
}

func (n *Notifier) PublishLeaderboardUpdated(ctx context.Context, e domain.EventLeaderboardUpdated) error {
	data := NewLeaderboardView(e.Leaderboard)

	var eg errgroup.Group
	eg.SetLimit(maxConcurrent)

	for _, entry := range data.Entries {
		eg.Go(func() error {
			return n.publishNotification(ctx, entry.PlayerID, e.Name(), data)
		})
	}

	return eg.Wait()
}

func (n *Notifier) PublishPlayerJoined(ctx context.Context, e domain.EventPlayerJoined) error {
	p := e.Player
	return n.publish(ctx, n.RoomChannel(e.Pin), e.Name(), PlayerView{ID: p.ID, Name: p.Name, Score: p.Score, IsHost: p.IsHost})
}

// RoomChannel is the channel arrivals in the session pin are published on.
func (n *Notifier) RoomChannel(pin string) string {
	return fmt.Sprintf("%s:room:%s", n.prefix, pin)
}

// PlayerChannel is the channel notifications for a player are published on.
func (n *Notifier) PlayerChannel(playerID string) string {
	return fmt.Sprintf("%s:player:%s", n.prefix, playerID)
}

func (n *Notifier) publishNotification(ctx context.Context, playerID, event string, data any) error {
	return n.publish(ctx, n.PlayerChannel(playerID), event, data)
}

func (n *Notifier) publish(ctx context.Context, channel, event string, data any) error {
	b, err := json.Marshal(Notification{
		Event: event,
		Data:  data,
	})
	if err != nil {
		return fmt.Errorf("notify: marshal %s: %w", event, err)
	}

	return n.redis.Publish(ctx, channel, b).Err()
}
