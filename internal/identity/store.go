package identity

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// DefaultPlayerName is used when no name was ever saved.
	DefaultPlayerName = "Joueur"

	sessionKeyPrefix = "game:"
	lastNameKey      = "lastPlayerName"
	creatorKeyPrefix = "isHost:"

	creatorTTL = 10 * time.Minute
)

// Record is the identity saved for one session.
type Record struct {
	PlayerID   string `json:"playerId"`
	PlayerName string `json:"playerName"`
	IsHost     bool   `json:"isHost"`
	JoinedAt   int64  `json:"joinedAt"`
}

// Store is the client-local key-value storage of a player profile: the
// identity per session, the last used name and the transient creator flag.
type Store struct {
	redis     redis.UniversalClient
	namespace string
}

// NewStore returns the storage of profile. Several profiles can share one redis.
func NewStore(r redis.UniversalClient, profile string) *Store {
	s := &Store{redis: r}
	if profile != "" {
		s.namespace = profile + ":"
	}
	return s
}

// Session returns the identity saved for pin. A record that cannot be decoded
// is reported as absent.
func (s *Store) Session(ctx context.Context, pin string) (Record, bool, error) {
	b, err := s.redis.Get(ctx, s.key(sessionKeyPrefix+pin)).Bytes()
	if stderrors.Is(err, redis.Nil) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("identity: get session %s: %w", pin, err)
	}

	var r Record
	if err := json.Unmarshal(b, &r); err != nil || r.PlayerID == "" {
		slog.WarnContext(ctx, "identity: malformed session, ignoring", "pin", pin, "error", err)
		return Record{}, false, nil
	}

	return r, true, nil
}

func (s *Store) SaveSession(ctx context.Context, pin string, r Record) error {
	b, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("identity: marshal session: %w", err)
	}

	if err := s.redis.Set(ctx, s.key(sessionKeyPrefix+pin), b, 0).Err(); err != nil {
		return fmt.Errorf("identity: save session %s: %w", pin, err)
	}
	return nil
}

func (s *Store) ClearSession(ctx context.Context, pin string) error {
	return s.redis.Del(ctx, s.key(sessionKeyPrefix+pin)).Err()
}

// PlayerName returns the name saved for pin, then the last used name, then
// DefaultPlayerName.
func (s *Store) PlayerName(ctx context.Context, pin string) (string, error) {
	r, ok, err := s.Session(ctx, pin)
	if err != nil {
		return "", err
	}
	if ok && r.PlayerName != "" {
		return r.PlayerName, nil
	}

	name, err := s.redis.Get(ctx, s.key(lastNameKey)).Result()
	if stderrors.Is(err, redis.Nil) || (err == nil && name == "") {
		return DefaultPlayerName, nil
	}
	if err != nil {
		return "", fmt.Errorf("identity: get last player name: %w", err)
	}

	return name, nil
}

func (s *Store) SavePlayerName(ctx context.Context, name string) error {
	return s.redis.Set(ctx, s.key(lastNameKey), name, 0).Err()
}

// MarkCreator flags this profile as the creator of pin until the flag is consumed.
func (s *Store) MarkCreator(ctx context.Context, pin string) error {
	return s.redis.Set(ctx, s.key(creatorKeyPrefix+pin), "true", creatorTTL).Err()
}

// ConsumeCreator reports whether the creator flag of pin was set and clears it.
func (s *Store) ConsumeCreator(ctx context.Context, pin string) (bool, error) {
	v, err := s.redis.GetDel(ctx, s.key(creatorKeyPrefix+pin)).Result()
	if stderrors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("identity: consume creator flag %s: %w", pin, err)
	}

	return v == "true", nil
}

func (s *Store) key(k string) string {
	return s.namespace + k
}
