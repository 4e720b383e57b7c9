package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/guhur/plus-proche/internal/doc"
)

// Fanout forwards room updates between relay instances through redis pub/sub.
type Fanout struct {
	redis    redis.UniversalClient
	prefix   string
	instance string
}

type fanoutMessage struct {
	Instance string     `json:"instance"`
	Update   doc.Update `json:"update"`
}

func NewFanout(r redis.UniversalClient, prefix, instance string) *Fanout {
	return &Fanout{
		redis:    r,
		prefix:   prefix,
		instance: instance,
	}
}

func (f *Fanout) Publish(ctx context.Context, room string, u doc.Update) error {
	b, err := json.Marshal(fanoutMessage{Instance: f.instance, Update: u})
	if err != nil {
		return fmt.Errorf("fanout: marshal: %w", err)
	}

	return f.redis.Publish(ctx, f.channel(room), b).Err()
}

// Run delivers the updates published by other instances until ctx is done.
func (f *Fanout) Run(ctx context.Context, deliver func(ctx context.Context, room string, u doc.Update)) error {
	sub := f.redis.PSubscribe(ctx, f.channel("*"))
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("fanout: subscribe: %w", err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}

			var m fanoutMessage
			if err := json.Unmarshal([]byte(msg.Payload), &m); err != nil {
				slog.WarnContext(ctx, "fanout: malformed message, ignoring", "channel", msg.Channel, "error", err)
				continue
			}
			if m.Instance == f.instance {
				continue
			}
			if err := m.Update.Validate(); err != nil {
				slog.WarnContext(ctx, "fanout: invalid update, ignoring", "channel", msg.Channel, "error", err)
				continue
			}

			deliver(ctx, strings.TrimPrefix(msg.Channel, f.channel("")), m.Update)
		}
	}
}

func (f *Fanout) channel(room string) string {
	return fmt.Sprintf("%s:room:%s", f.prefix, room)
}
