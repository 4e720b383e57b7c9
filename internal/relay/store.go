package relay

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/guhur/plus-proche/internal/doc"
)

// Store persists the updates of every room so a room outlives its peers.
type Store interface {
	// Load returns the persisted updates of room in write order.
	Load(ctx context.Context, room string) ([]doc.Update, error)
	// Append persists u and returns how many rows this relay instance holds for room.
	Append(ctx context.Context, room string, u doc.Update) (int64, error)
	// Compact replaces the rows this relay instance holds for room with full.
	Compact(ctx context.Context, room string, full doc.Update) error
}

const schema = `
CREATE TABLE IF NOT EXISTS room_updates (
	id          BIGSERIAL PRIMARY KEY,
	room        TEXT NOT NULL,
	instance    TEXT NOT NULL,
	payload     JSONB NOT NULL,
	create_time TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS room_updates_room_idx ON room_updates (room, instance, id);`

// PostgresStore keeps an append-only log of updates per room. Every relay
// instance only compacts the rows it wrote itself, so a compaction never drops
// an update another instance has not fanned out yet.
type PostgresStore struct {
	db       *pgxpool.Pool
	instance string
}

func NewPostgresStore(db *pgxpool.Pool, instance string) *PostgresStore {
	return &PostgresStore{
		db:       db,
		instance: instance,
	}
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

func (s *PostgresStore) Load(ctx context.Context, room string) ([]doc.Update, error) {
	const stmt = `SELECT payload FROM room_updates WHERE room = $1 ORDER BY id;`

	rows, err := s.db.Query(ctx, stmt, room)
	if err != nil {
		return nil, fmt.Errorf("store: load %s: %w", room, err)
	}

	payloads, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) ([]byte, error) {
		var b []byte
		err := r.Scan(&b)
		return b, err
	})
	if err != nil {
		return nil, fmt.Errorf("store: load %s: %w", room, err)
	}

	updates := make([]doc.Update, 0, len(payloads))
	for _, b := range payloads {
		u, err := doc.DecodeUpdate(b)
		if err != nil {
			return nil, fmt.Errorf("store: load %s: %w", room, err)
		}
		updates = append(updates, u)
	}

	return updates, nil
}

func (s *PostgresStore) Append(ctx context.Context, room string, u doc.Update) (int64, error) {
	const stmt = `
WITH inserted AS (
	INSERT INTO room_updates (room, instance, payload)
	VALUES ($1, $2, $3)
)
SELECT COUNT(*) + 1 FROM room_updates WHERE room = $1 AND instance = $2;`

	b, err := u.Encode()
	if err != nil {
		return 0, err
	}

	var n int64
	if err := s.db.QueryRow(ctx, stmt, room, s.instance, b).Scan(&n); err != nil {
		return 0, fmt.Errorf("store: append %s: %w", room, err)
	}

	return n, nil
}

func (s *PostgresStore) Compact(ctx context.Context, room string, full doc.Update) (err error) {
	b, err := full.Encode()
	if err != nil {
		return err
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("store: begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			err = stderrors.Join(err, tx.Rollback(ctx))
		}
	}()

	const (
		delStmt = `DELETE FROM room_updates WHERE room = $1 AND instance = $2;`
		insStmt = `INSERT INTO room_updates (room, instance, payload) VALUES ($1, $2, $3);`
	)

	if _, err = tx.Exec(ctx, delStmt, room, s.instance); err != nil {
		return fmt.Errorf("store: delete %s: %w", room, err)
	}

	if _, err = tx.Exec(ctx, insStmt, room, s.instance, b); err != nil {
		return fmt.Errorf("store: insert snapshot %s: %w", room, err)
	}

	return tx.Commit(ctx)
}
