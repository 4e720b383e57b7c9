package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/guhur/plus-proche/internal/domain"
	"github.com/guhur/plus-proche/internal/event"
	"github.com/guhur/plus-proche/internal/game"
	"github.com/guhur/plus-proche/internal/identity"
	"github.com/guhur/plus-proche/internal/pin"
	"github.com/guhur/plus-proche/internal/provider"
	"github.com/guhur/plus-proche/internal/question"
	"github.com/guhur/plus-proche/internal/telemetry"
)

// play joins, or creates, the session p and runs the command loop until the
// input ends or ctx is done.
func play(ctx context.Context, c Config, p string, create bool, t *terminal) error {
	r := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    c.Redis.Addrs,
		Password: c.Redis.Pass,
	})
	defer r.Close()

	if err := telemetry.MonitorRedis(r, "local"); err != nil {
		return fmt.Errorf("monitor redis: %w", err)
	}

	store := identity.NewStore(r, c.Profile)
	if create {
		p = pin.Generate()
		if err := store.MarkCreator(ctx, p); err != nil {
			return err
		}
	}
	if err := pin.Validate(p); err != nil {
		return err
	}
	if c.Name != "" {
		if err := store.SavePlayerName(ctx, c.Name); err != nil {
			return err
		}
	}

	prov, err := provider.New(ctx, provider.Config{
		Pin:          p,
		RelayURL:     c.Relay.URL,
		Redis:        r,
		Namespace:    c.Namespace,
		SyncFallback: c.Relay.SyncFallback,
	})
	if err != nil {
		return fmt.Errorf("open session %s: %w", p, err)
	}
	defer func() {
		if err := prov.Close(); err != nil {
			slog.ErrorContext(ctx, "player: close provider failed", "error", err)
		}
	}()

	t.printf("Connecting to session %s...\n", p)

	wctx, cancel := context.WithTimeout(ctx, c.Relay.SyncTimeout)
	err = prov.WaitSynced(wctx)
	cancel()
	if err != nil {
		return fmt.Errorf("session %s: %w", p, domain.ErrNotSynced)
	}

	id, err := identity.NewReconciler(identity.Config{
		Pin:   p,
		Doc:   prov.Doc(),
		Store: store,
	}).Reconcile(ctx)
	if err != nil {
		return err
	}

	eb := event.NewBus(event.WithPoolSize(1))
	defer eb.Stop()

	m := game.New(game.Config{
		Doc:      prov.Doc(),
		PlayerID: id.PlayerID,
		Sync:     prov,
		Generator: question.NewClient(question.ClientConfig{
			URL:     c.Generator.URL,
			Timeout: c.Generator.Timeout,
		}),
		Recent:   question.NewRecent(r, recentPrefix(c)),
		EventBus: eb,
	})
	defer m.Close()

	t.attach(m, prov)
	eb.Subscribe(domain.EventNamePhaseChanged, t.onPhaseChanged)
	eb.Subscribe(domain.EventNameRoundResolved, t.onRoundResolved)

	t.welcome(p, id)

	// The last answer may have arrived while this peer was away.
	if _, err := m.Resolve(ctx); err != nil {
		t.fail(err)
	}

	return t.loop(ctx)
}

func recentPrefix(c Config) string {
	if c.Profile == "" {
		return c.Namespace
	}
	return c.Profile + ":" + c.Namespace
}
