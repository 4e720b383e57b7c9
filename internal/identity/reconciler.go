// Package identity resolves which player a peer acts as within a session, and
// keeps that identity across reloads and reconnects of the same profile.
package identity

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/guhur/plus-proche/internal/doc"
	"github.com/guhur/plus-proche/internal/domain"
	"github.com/guhur/plus-proche/internal/pin"
)

// Outcome tells how an identity was obtained.
type Outcome string

const (
	OutcomeReconnected Outcome = "reconnected"
	OutcomeCreated     Outcome = "created"
	OutcomeJoined      Outcome = "joined"
)

type Config struct {
	Pin   string
	Doc   *doc.Document
	Store *Store

	Now   func() time.Time
	NewID func() string
}

type Reconciler struct {
	pin   string
	doc   *doc.Document
	store *Store
	now   func() time.Time
	newID func() string
}

func NewReconciler(c Config) *Reconciler {
	r := &Reconciler{
		pin:   c.Pin,
		doc:   c.Doc,
		store: c.Store,
		now:   c.Now,
		newID: c.NewID,
	}

	if r.now == nil {
		r.now = time.Now
	}
	if r.newID == nil {
		r.newID = uuid.NewString
	}

	return r
}

type Result struct {
	domain.Identity
	Name    string
	Outcome Outcome
}

// Reconcile returns the identity of this profile in the session. It must run
// once the document is synced. In order, it reuses a saved identity whose player
// is still registered, creates the game when this profile created the session
// and the game does not exist yet, and joins as a new player otherwise.
func (r *Reconciler) Reconcile(ctx context.Context) (Result, error) {
	if err := pin.Validate(r.pin); err != nil {
		return Result{}, err
	}

	saved, ok, err := r.store.Session(ctx, r.pin)
	if err != nil {
		return Result{}, err
	}

	if ok {
		if _, present := r.doc.Player(saved.PlayerID); present {
			slog.InfoContext(ctx, "identity: reconnected", "pin", r.pin, "player", saved.PlayerID)
			return Result{
				Identity: domain.Identity{PlayerID: saved.PlayerID, IsHost: saved.IsHost},
				Name:     saved.PlayerName,
				Outcome:  OutcomeReconnected,
			}, nil
		}

		slog.InfoContext(ctx, "identity: saved player is gone, joining again", "pin", r.pin, "player", saved.PlayerID)
	}

	creator, err := r.store.ConsumeCreator(ctx, r.pin)
	if err != nil {
		return Result{}, err
	}

	name, err := r.store.PlayerName(ctx, r.pin)
	if err != nil {
		return Result{}, err
	}

	res, err := r.register(creator, name)
	if err != nil {
		return Result{}, err
	}

	if err := r.store.SaveSession(ctx, r.pin, Record{
		PlayerID:   res.PlayerID,
		PlayerName: name,
		IsHost:     res.IsHost,
		JoinedAt:   r.now().UnixMilli(),
	}); err != nil {
		return Result{}, err
	}

	slog.InfoContext(ctx, "identity: "+string(res.Outcome), "pin", r.pin, "player", res.PlayerID, "host", res.IsHost)
	return res, nil
}

// register adds a new player, creating the game in the same transaction when
// this profile is the creator and nobody created it first.
func (r *Reconciler) register(creator bool, name string) (Result, error) {
	res := Result{
		Identity: domain.Identity{PlayerID: r.newID()},
		Name:     name,
		Outcome:  OutcomeJoined,
	}

	err := r.doc.Transact(r, func(tx *doc.Txn) error {
		res.IsHost = creator && !tx.GameState().Created()

		if res.IsHost {
			res.Outcome = OutcomeCreated
			if err := tx.InitGameState(domain.GameState{
				Pin:         r.pin,
				Phase:       domain.PhaseWaiting,
				HostID:      res.PlayerID,
				RoundNumber: 0,
			}); err != nil {
				return err
			}
		}

		return tx.PutPlayer(domain.Player{
			ID:       res.PlayerID,
			Name:     name,
			Score:    0,
			IsHost:   res.IsHost,
			JoinedAt: r.now(),
		})
	})
	if err != nil {
		return Result{}, fmt.Errorf("identity: register player: %w", err)
	}

	return res, nil
}
