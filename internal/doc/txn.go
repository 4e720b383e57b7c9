package doc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/guhur/plus-proche/internal/domain"
)

var ErrImmutable = errors.New("doc: field is immutable")

type regKey struct {
	m     MapName
	key   string
	field string
}

// Txn stages writes of one transaction. Reads through a Txn observe its own
// staged writes.
type Txn struct {
	d      *Document
	writes map[regKey]json.RawMessage
	order  []regKey
}

// GameState returns the game state including staged writes.
func (tx *Txn) GameState() domain.GameState {
	return readGameState(tx)
}

// InitGameState writes every field of the game state.
func (tx *Txn) InitGameState(s domain.GameState) error {
	r := fromGameState(s)
	if err := r.validate(); err != nil {
		return fmt.Errorf("doc: game state: %w", err)
	}

	return tx.writeRecord(MapGameState, "", r, false)
}

// UpdateGameState applies fn to the current game state and writes the fields it changed.
// Pin and host cannot change once set.
func (tx *Txn) UpdateGameState(fn func(s *domain.GameState)) error {
	cur := tx.GameState()
	next := cur
	fn(&next)

	if cur.Pin != "" && next.Pin != cur.Pin {
		return fmt.Errorf("%w: pin", ErrImmutable)
	}
	if cur.HostID != "" && next.HostID != cur.HostID {
		return fmt.Errorf("%w: hostId", ErrImmutable)
	}
	if next.RoundNumber < cur.RoundNumber {
		return fmt.Errorf("%w: roundNumber cannot decrease", ErrImmutable)
	}

	r := fromGameState(next)
	if err := r.validate(); err != nil {
		return fmt.Errorf("doc: game state: %w", err)
	}

	return tx.writeRecord(MapGameState, "", r, true)
}

func (tx *Txn) Players() []domain.Player {
	return readPlayers(tx)
}

func (tx *Txn) Player(id string) (domain.Player, bool) {
	return readPlayer(tx, id)
}

// PutPlayer adds p to the registry, replacing any previous record with the same id.
func (tx *Txn) PutPlayer(p domain.Player) error {
	if p.ID == "" {
		return fmt.Errorf("doc: put player: empty id")
	}

	r := fromPlayer(p)
	if err := r.validate(p.ID); err != nil {
		return fmt.Errorf("doc: put player: %w", err)
	}

	tx.set(MapPlayers, p.ID, PresenceField, present)
	return tx.writeRecord(MapPlayers, p.ID, r, false)
}

// UpdatePlayer applies fn to an existing player and writes the fields it changed.
// Scores never decrease.
func (tx *Txn) UpdatePlayer(id string, fn func(p *domain.Player)) error {
	cur, ok := tx.Player(id)
	if !ok {
		return fmt.Errorf("doc: update player %s: %w", id, domain.ErrPlayerNotFound)
	}

	next := cur
	fn(&next)
	next.ID = id

	if next.Score < cur.Score {
		return fmt.Errorf("%w: score of %s cannot decrease", ErrImmutable, id)
	}

	return tx.writeRecord(MapPlayers, id, fromPlayer(next), true)
}

func (tx *Txn) Answers() []domain.Answer {
	return readAnswers(tx)
}

func (tx *Txn) Answer(playerID string) (domain.Answer, bool) {
	return readAnswer(tx, playerID)
}

// PutAnswer records the answer of a player, replacing a previous one.
func (tx *Txn) PutAnswer(a domain.Answer) error {
	if a.PlayerID == "" {
		return fmt.Errorf("doc: put answer: empty player id")
	}

	tx.set(MapAnswers, a.PlayerID, PresenceField, present)
	return tx.writeRecord(MapAnswers, a.PlayerID, fromAnswer(a), false)
}

// ClearAnswers removes every answer.
func (tx *Txn) ClearAnswers() {
	for _, key := range tx.keys(MapAnswers) {
		if isPresent(tx.fields(MapAnswers, key)) {
			tx.set(MapAnswers, key, PresenceField, removed)
		}
	}
}

func (tx *Txn) set(m MapName, key, field string, v json.RawMessage) {
	k := regKey{m: m, key: key, field: field}
	if tx.writes == nil {
		tx.writes = make(map[regKey]json.RawMessage)
	}
	if _, ok := tx.writes[k]; !ok {
		tx.order = append(tx.order, k)
	}
	tx.writes[k] = v
}

func (tx *Txn) writeRecord(m MapName, key string, rec any, onlyChanged bool) error {
	fields, err := fieldsOf(rec)
	if err != nil {
		return fmt.Errorf("doc: encode %s record: %w", m, err)
	}

	cur := tx.fields(m, key)

	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		v := fields[name]
		if onlyChanged {
			if old, ok := cur[name]; ok && bytes.Equal(old, v) {
				continue
			}
		}
		tx.set(m, key, name, v)
	}

	return nil
}

func (tx *Txn) fields(m MapName, key string) map[string]json.RawMessage {
	f := tx.d.fields(m, key)
	for k, v := range tx.writes {
		if k.m == m && k.key == key {
			f[k.field] = v
		}
	}
	return f
}

func (tx *Txn) keys(m MapName) []string {
	keys := tx.d.keys(m)
	seen := make(map[string]bool, len(keys))
	for _, k := range keys {
		seen[k] = true
	}

	for k := range tx.writes {
		if k.m == m && !seen[k.key] {
			seen[k.key] = true
			keys = append(keys, k.key)
		}
	}
	return keys
}

// view is the read side shared by the document and its transactions.
type view interface {
	fields(m MapName, key string) map[string]json.RawMessage
	keys(m MapName) []string
}

func isPresent(f map[string]json.RawMessage) bool {
	var ok bool
	if err := json.Unmarshal(f[PresenceField], &ok); err != nil {
		return false
	}
	return ok
}

func readGameState(v view) domain.GameState {
	f := v.fields(MapGameState, "")
	if len(f) == 0 {
		return domain.GameState{}
	}

	var r gameStateRecord
	if err := decodeFields(f, &r); err != nil {
		slog.Warn("doc: malformed game state, ignoring", "error", err)
		return domain.GameState{}
	}
	if err := r.validate(); err != nil {
		slog.Warn("doc: invalid game state, ignoring", "error", err)
		return domain.GameState{}
	}

	return r.toDomain()
}

func readPlayer(v view, id string) (domain.Player, bool) {
	f := v.fields(MapPlayers, id)
	if !isPresent(f) {
		return domain.Player{}, false
	}

	var r playerRecord
	if err := decodeFields(f, &r); err != nil {
		slog.Warn("doc: malformed player, ignoring", "player", id, "error", err)
		return domain.Player{}, false
	}
	if err := r.validate(id); err != nil {
		slog.Warn("doc: invalid player, ignoring", "player", id, "error", err)
		return domain.Player{}, false
	}

	return r.toDomain(), true
}

func readPlayers(v view) []domain.Player {
	players := make([]domain.Player, 0)
	for _, id := range v.keys(MapPlayers) {
		if p, ok := readPlayer(v, id); ok {
			players = append(players, p)
		}
	}

	sort.Slice(players, func(i, j int) bool {
		if !players[i].JoinedAt.Equal(players[j].JoinedAt) {
			return players[i].JoinedAt.Before(players[j].JoinedAt)
		}
		return players[i].ID < players[j].ID
	})

	return players
}

func readAnswer(v view, playerID string) (domain.Answer, bool) {
	f := v.fields(MapAnswers, playerID)
	if !isPresent(f) {
		return domain.Answer{}, false
	}

	var r answerRecord
	if err := decodeFields(f, &r); err != nil {
		slog.Warn("doc: malformed answer, ignoring", "player", playerID, "error", err)
		return domain.Answer{}, false
	}
	if err := r.validate(playerID); err != nil {
		slog.Warn("doc: invalid answer, ignoring", "player", playerID, "error", err)
		return domain.Answer{}, false
	}

	return r.toDomain(), true
}

func readAnswers(v view) []domain.Answer {
	answers := make([]domain.Answer, 0)
	for _, id := range v.keys(MapAnswers) {
		if a, ok := readAnswer(v, id); ok {
			answers = append(answers, a)
		}
	}

	sort.Slice(answers, func(i, j int) bool {
		if !answers[i].SubmittedAt.Equal(answers[j].SubmittedAt) {
			return answers[i].SubmittedAt.Before(answers[j].SubmittedAt)
		}
		return answers[i].PlayerID < answers[j].PlayerID
	})

	return answers
}
