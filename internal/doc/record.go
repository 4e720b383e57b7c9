package doc

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/guhur/plus-proche/internal/domain"
)

// PresenceField is the register telling whether an entry of the players or
// answers map is currently present.
const PresenceField = "$present"

var (
	present = json.RawMessage(`true`)
	removed = json.RawMessage(`false`)
)

type gameStateRecord struct {
	Pin             string          `json:"pin"`
	Phase           domain.Phase    `json:"phase"`
	HostID          string          `json:"hostId"`
	Theme           *string         `json:"theme"`
	Difficulty      *int            `json:"difficulty"`
	CurrentQuestion *questionRecord `json:"currentQuestion"`
	RoundNumber     int             `json:"roundNumber"`
	NextPickerID    *string         `json:"nextPickerId"`
}

type questionRecord struct {
	ID            string  `json:"id"`
	Text          string  `json:"text"`
	CorrectAnswer float64 `json:"correctAnswer"`
	Theme         string  `json:"theme"`
	Difficulty    int     `json:"difficulty"`
	GeneratedAt   int64   `json:"generatedAt"`
}

type playerRecord struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Score    int    `json:"score"`
	IsHost   bool   `json:"isHost"`
	JoinedAt int64  `json:"joinedAt"`
}

type answerRecord struct {
	PlayerID    string  `json:"playerId"`
	Value       float64 `json:"value"`
	SubmittedAt int64   `json:"submittedAt"`
}

func optional[T comparable](v T) *T {
	var zero T
	if v == zero {
		return nil
	}
	return &v
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}

func fromGameState(s domain.GameState) gameStateRecord {
	r := gameStateRecord{
		Pin:          s.Pin,
		Phase:        s.Phase,
		HostID:       s.HostID,
		Theme:        optional(s.Theme),
		Difficulty:   optional(int(s.Difficulty)),
		RoundNumber:  s.RoundNumber,
		NextPickerID: optional(s.NextPickerID),
	}

	if q := s.CurrentQuestion; q != nil {
		r.CurrentQuestion = &questionRecord{
			ID:            q.ID,
			Text:          q.Text,
			CorrectAnswer: q.CorrectAnswer,
			Theme:         q.Theme,
			Difficulty:    int(q.Difficulty),
			GeneratedAt:   q.GeneratedAt.UnixMilli(),
		}
	}

	return r
}

func (r gameStateRecord) toDomain() domain.GameState {
	s := domain.GameState{
		Pin:          r.Pin,
		Phase:        r.Phase,
		HostID:       r.HostID,
		Theme:        deref(r.Theme),
		Difficulty:   domain.Difficulty(deref(r.Difficulty)),
		RoundNumber:  r.RoundNumber,
		NextPickerID: deref(r.NextPickerID),
	}

	if q := r.CurrentQuestion; q != nil {
		s.CurrentQuestion = &domain.Question{
			ID:            q.ID,
			Text:          q.Text,
			CorrectAnswer: q.CorrectAnswer,
			Theme:         q.Theme,
			Difficulty:    domain.Difficulty(q.Difficulty),
			GeneratedAt:   time.UnixMilli(q.GeneratedAt),
		}
	}

	return s
}

func (r gameStateRecord) validate() error {
	if r.Phase != "" && !r.Phase.Valid() {
		return fmt.Errorf("unknown phase %q", r.Phase)
	}
	if r.Difficulty != nil && !domain.Difficulty(*r.Difficulty).Valid() {
		return fmt.Errorf("difficulty %d out of range", *r.Difficulty)
	}
	if r.RoundNumber < 0 {
		return fmt.Errorf("negative round number %d", r.RoundNumber)
	}
	return nil
}

func fromPlayer(p domain.Player) playerRecord {
	return playerRecord{
		ID:       p.ID,
		Name:     p.Name,
		Score:    p.Score,
		IsHost:   p.IsHost,
		JoinedAt: p.JoinedAt.UnixMilli(),
	}
}

func (r playerRecord) toDomain() domain.Player {
	return domain.Player{
		ID:       r.ID,
		Name:     r.Name,
		Score:    r.Score,
		IsHost:   r.IsHost,
		JoinedAt: time.UnixMilli(r.JoinedAt),
	}
}

func (r playerRecord) validate(key string) error {
	if r.ID != key {
		return fmt.Errorf("player id %q stored under %q", r.ID, key)
	}
	if r.Score < 0 {
		return fmt.Errorf("negative score %d", r.Score)
	}
	return nil
}

func fromAnswer(a domain.Answer) answerRecord {
	return answerRecord{
		PlayerID:    a.PlayerID,
		Value:       a.Value,
		SubmittedAt: a.SubmittedAt.UnixMilli(),
	}
}

func (r answerRecord) toDomain() domain.Answer {
	return domain.Answer{
		PlayerID:    r.PlayerID,
		Value:       r.Value,
		SubmittedAt: time.UnixMilli(r.SubmittedAt),
	}
}

func (r answerRecord) validate(key string) error {
	if r.PlayerID != key {
		return fmt.Errorf("answer of %q stored under %q", r.PlayerID, key)
	}
	return nil
}

// fieldsOf splits a record into its per-field registers values.
func fieldsOf(v any) (map[string]json.RawMessage, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	fields := make(map[string]json.RawMessage)
	if err := json.Unmarshal(b, &fields); err != nil {
		return nil, err
	}

	return fields, nil
}

// decodeFields assembles per-field register values into a record.
func decodeFields(fields map[string]json.RawMessage, v any) error {
	b, err := json.Marshal(fields)
	if err != nil {
		return err
	}

	return json.Unmarshal(b, v)
}
