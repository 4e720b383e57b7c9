package leaderboard

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/guhur/plus-proche/internal/domain"
	"github.com/guhur/plus-proche/internal/errors"
	"github.com/guhur/plus-proche/internal/event"
	"github.com/guhur/plus-proche/internal/telemetry"
)

const (
	publishInterval = 200 * time.Millisecond
	publishTimeout  = 5 * time.Second
)

type Config struct {
	EventBus *event.Bus
	Redis    redis.UniversalClient
	Prefix   string

	// PublishInterval is how long score updates of a session are collected
	// before one leaderboard event is published. Zero means 200ms.
	PublishInterval time.Duration
}

type Service struct {
	eb       *event.Bus
	redis    redis.UniversalClient
	prefix   string
	interval time.Duration

	pending sync.WaitGroup
}

func NewService(c Config) *Service {
	s := &Service{
		eb:       c.EventBus,
		redis:    c.Redis,
		prefix:   c.Prefix,
		interval: c.PublishInterval,
	}
	if s.interval <= 0 {
		s.interval = publishInterval
	}

	s.eb.Subscribe(domain.EventNameScoreUpdated, func(ctx context.Context, e event.Event) error {
		return s.UpdateLeaderboard(ctx, e.(domain.EventScoreUpdated))
	})

	return s
}

type GetLeaderboardRequest struct {
	Pin string
}

// GetLeaderboard returns the leaderboard of a session, including all players and their scores.
func (s *Service) GetLeaderboard(ctx context.Context, req GetLeaderboardRequest) (*domain.Leaderboard, error) {
	k := s.keys(req.Pin)

	res, err := s.redis.ZRevRangeWithScores(ctx, k.scores, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("get leaderboard: %w", err)
	}

	if len(res) == 0 {
		return nil, errors.New(errors.CodeNotFound, errors.WithMessagef("leaderboard not found: pin=%s", req.Pin))
	}

	ids := make([]string, 0, len(res))
	for _, z := range res {
		ids = append(ids, z.Member.(string))
	}

	names, err := s.redis.HMGet(ctx, k.names, ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("get player names: %w", err)
	}

	entries := make([]domain.LeaderboardEntry, 0, len(res))
	for i, z := range res {
		name, _ := names[i].(string)
		entries = append(entries, domain.LeaderboardEntry{
			PlayerID: ids[i],
			Name:     name,
			Score:    z.Score,
		})
	}

	return &domain.Leaderboard{
		Pin:     req.Pin,
		Entries: entries,
	}, nil
}

// UpdateLeaderboard overwrites the player's score in the leaderboard.
func (s *Service) UpdateLeaderboard(ctx context.Context, e domain.EventScoreUpdated) error {
	sc := e.Score
	k := s.keys(sc.Pin)

	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, k.scores, redis.Z{Score: sc.TotalScore.InexactFloat64(), Member: sc.PlayerID})
		pipe.HSet(ctx, k.names, sc.PlayerID, sc.Name)
		return nil
	})
	if err != nil {
		return fmt.Errorf("update leaderboard: pin=%s player=%s: %w", sc.Pin, sc.PlayerID, err)
	}

	return s.throttle(ctx, sc)
}

// throttle publishes the leaderboard of the session once s.interval after
// the first score update that finds no publish pending. Updates arriving in
// between, like the other tied winners of a round, are part of that
// publish. The gate lives in redis so that only one relay instance
// schedules it.
func (s *Service) throttle(ctx context.Context, sc domain.Score) error {
	k := s.keys(sc.Pin)

	// The TTL only matters when the instance holding the gate dies before
	// publishing.
	ok, err := s.redis.SetNX(ctx, k.published, sc.UpdateTime.UnixMilli(), 10*s.interval).Result()
	if err != nil {
		return fmt.Errorf("throttle leaderboard: pin=%s: %w", sc.Pin, err)
	}
	if !ok {
		return nil
	}

	ctx = context.WithoutCancel(ctx)
	s.pending.Add(1)
	time.AfterFunc(s.interval, func() {
		defer s.pending.Done()

		ctx, cancel := context.WithTimeout(ctx, publishTimeout)
		defer cancel()

		if err := s.publish(ctx, sc.Pin); err != nil {
			slog.ErrorContext(ctx, "leaderboard: publish failed", "pin", sc.Pin, "error", err)
		}
	})

	return nil
}

// publish releases the gate before reading, so an update landing after the
// read schedules a publish of its own.
func (s *Service) publish(ctx context.Context, p string) error {
	if err := s.redis.Del(ctx, s.keys(p).published).Err(); err != nil {
		return fmt.Errorf("release gate: %w", err)
	}

	l, err := s.GetLeaderboard(ctx, GetLeaderboardRequest{Pin: p})
	if err != nil {
		return err
	}

	s.eb.Publish(ctx, domain.EventLeaderboardUpdated{Leaderboard: *l})
	telemetry.LeaderboardPublished.Inc()

	return nil
}

// Wait blocks until the scheduled leaderboard publishes are done. Call it
// once no more score updates arrive.
func (s *Service) Wait() {
	s.pending.Wait()
}

type keys struct {
	scores, names, published string
}

func (s *Service) keys(p string) keys {
	base := fmt.Sprintf("%s:%s", s.prefix, p)
	return keys{
		scores:    base + ":leaderboard",
		names:     base + ":names",
		published: base + ":time",
	}
}
