package relay_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guhur/plus-proche/internal/domain"
	"github.com/guhur/plus-proche/internal/event"
	"github.com/guhur/plus-proche/internal/relay"
)

func TestNotifier_LeaderboardUpdated(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()

	rs := miniredis.RunT(t)
	r := redis.NewClient(&redis.Options{Addr: rs.Addr()})
	eb := event.NewBus()
	t.Cleanup(eb.Stop)

	n := relay.NewNotifier(eb, r, "plusproche:pubsub")
	require.Equal(t, "plusproche:pubsub:player:p2", n.PlayerChannel("p2"))

	sub := r.Subscribe(ctx, n.PlayerChannel("p1"), n.PlayerChannel("p2"))
	t.Cleanup(func() { sub.Close() })
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	eb.Publish(ctx, domain.EventLeaderboardUpdated{
		Leaderboard: domain.Leaderboard{
			Pin: "1234",
			Entries: []domain.LeaderboardEntry{
				{PlayerID: "p2", Name: "Bob", Score: 3},
				{PlayerID: "p1", Name: "Alice", Score: 1},
			},
		},
	})

	got := make(map[string]relay.LeaderboardView)
	for len(got) < 2 {
		msg, err := sub.ReceiveMessage(ctx)
		require.NoError(t, err)

		var v struct {
			Event string                `json:"event"`
			Data  relay.LeaderboardView `json:"data"`
		}
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &v))
		assert.Equal(t, domain.EventNameLeaderboardUpdated, v.Event)

		got[msg.Channel] = v.Data
	}

	want := relay.LeaderboardView{
		Pin: "1234",
		Entries: []relay.LeaderboardEntryView{
			{PlayerID: "p2", Name: "Bob", Score: 3},
			{PlayerID: "p1", Name: "Alice", Score: 1},
		},
	}
	assert.Equal(t, want, got[n.PlayerChannel("p1")])
	assert.Equal(t, want, got[n.PlayerChannel("p2")])
}

func TestNotifier_EmptyLeaderboard(t *testing.T) {
	rs := miniredis.RunT(t)
	r := redis.NewClient(&redis.Options{Addr: rs.Addr()})

	n := relay.NewNotifier(event.NewBus(), r, "plusproche:pubsub")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, n.PublishLeaderboardUpdated(ctx, domain.EventLeaderboardUpdated{
		Leaderboard: domain.Leaderboard{Pin: "1234"},
	}))
}

func TestNotifier_PlayerJoined(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()

	rs := miniredis.RunT(t)
	r := redis.NewClient(&redis.Options{Addr: rs.Addr()})
	eb := event.NewBus()
	t.Cleanup(eb.Stop)

	n := relay.NewNotifier(eb, r, "plusproche:pubsub")
	require.Equal(t, "plusproche:pubsub:room:1234", n.RoomChannel("1234"))

	sub := r.Subscribe(ctx, n.RoomChannel("1234"))
	t.Cleanup(func() { sub.Close() })
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	eb.Publish(ctx, domain.EventPlayerJoined{
		Pin:    "1234",
		Player: domain.Player{ID: "p2", Name: "Bob", Score: 1},
	})

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)

	var v struct {
		Event string           `json:"event"`
		Data  relay.PlayerView `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &v))
	assert.Equal(t, domain.EventNamePlayerJoined, v.Event)
	assert.Equal(t, relay.PlayerView{ID: "p2", Name: "Bob", Score: 1}, v.Data)
}
