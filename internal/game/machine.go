// Package game drives the rounds of a session on top of the replicated
// document: Waiting, Settings, Question, Results and Finished.
//
// Every transition is one document transaction guarded by the phase and by who
// the local player is. Guards are cooperative: any peer holding the document
// could write, so each peer only offers the actions its player is allowed to
// take.
package game

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/guhur/plus-proche/internal/doc"
	"github.com/guhur/plus-proche/internal/domain"
	"github.com/guhur/plus-proche/internal/event"
	"github.com/guhur/plus-proche/internal/question"
	"github.com/guhur/plus-proche/internal/scoring"
	"github.com/guhur/plus-proche/internal/telemetry"
)

// MinPlayers is the number of players required to start a game.
const MinPlayers = 2

type (
	Syncer interface {
		Synced() bool
	}

	RecentQuestions interface {
		List(ctx context.Context, theme string) ([]string, error)
		Add(ctx context.Context, theme, q string) error
	}

	Publisher interface {
		Publish(ctx context.Context, e event.Event)
	}
)

type Config struct {
	Doc *doc.Document

	// PlayerID is the local player.
	PlayerID string

	// Sync gates writes until the document caught up. Nil means always synced.
	Sync      Syncer
	Generator question.Generator
	Recent    RecentQuestions
	EventBus  Publisher

	Pick  scoring.Picker
	Now   func() time.Time
	NewID func() string
}

type Machine struct {
	doc       *doc.Document
	playerID  string
	sync      Syncer
	generator question.Generator
	recent    RecentQuestions
	eb        Publisher
	pick      scoring.Picker
	now       func() time.Time
	newID     func() string

	mu        sync.Mutex
	phase     domain.Phase
	unobserve func()
}

func New(c Config) *Machine {
	m := &Machine{
		doc:       c.Doc,
		playerID:  c.PlayerID,
		sync:      c.Sync,
		generator: c.Generator,
		recent:    c.Recent,
		eb:        c.EventBus,
		pick:      c.Pick,
		now:       c.Now,
		newID:     c.NewID,
	}

	if m.pick == nil {
		m.pick = scoring.RandomPicker
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.newID == nil {
		m.newID = uuid.NewString
	}

	m.phase = m.doc.GameState().Phase
	m.unobserve = m.doc.Observe(m.onChange)

	return m
}

// Close stops reacting to document changes.
func (m *Machine) Close() {
	m.unobserve()
}

func (m *Machine) PlayerID() string {
	return m.playerID
}

// State returns the current game state.
func (m *Machine) State() domain.GameState {
	return m.doc.GameState()
}

// Players returns the players ordered by join time.
func (m *Machine) Players() []domain.Player {
	return m.doc.Players()
}

// IsHost reports whether the local player hosts the game.
func (m *Machine) IsHost() bool {
	return m.doc.GameState().HostID == m.playerID
}

// IsPicker reports whether the local player chooses the next round.
func (m *Machine) IsPicker() bool {
	s := m.doc.GameState()
	return s.Created() && s.PickerID() == m.playerID
}

// StartGame moves a waiting game to Settings. Only the host may start, once
// MinPlayers players joined.
func (m *Machine) StartGame(ctx context.Context) error {
	err := m.write(func(tx *doc.Txn, s domain.GameState) error {
		if s.HostID != m.playerID {
			return domain.ErrNotHost
		}
		if err := guardTransition(s.Phase, domain.PhaseSettings); err != nil {
			return err
		}
		if n := len(tx.Players()); n < MinPlayers {
			return fmt.Errorf("%w: %d of %d", domain.ErrNotEnoughPlayers, n, MinPlayers)
		}

		return tx.UpdateGameState(func(s *domain.GameState) {
			s.Phase = domain.PhaseSettings
		})
	})
	if err != nil {
		return fmt.Errorf("game: start: %w", err)
	}

	slog.InfoContext(ctx, "game: started", "pin", m.State().Pin)
	return nil
}

// ChooseSettings generates a question for theme and difficulty and opens the
// next round with it. Only the picker may choose. Nothing is written when the
// generation fails, so the picker can retry.
func (m *Machine) ChooseSettings(ctx context.Context, theme string, d domain.Difficulty) (domain.Question, error) {
	if theme == "" {
		return domain.Question{}, domain.ErrEmptyTheme
	}
	if !d.Valid() {
		return domain.Question{}, domain.ErrInvalidDifficulty
	}
	if err := m.guardSynced(); err != nil {
		return domain.Question{}, err
	}

	if err := m.guardSettings(m.doc.GameState()); err != nil {
		return domain.Question{}, fmt.Errorf("game: choose settings: %w", err)
	}

	previous := m.previousQuestions(ctx, theme)

	g, err := m.generator.Generate(ctx, question.Request{
		Theme:             theme,
		Difficulty:        int(d),
		PreviousQuestions: previous,
	})
	if err != nil {
		if !errors.Is(err, domain.ErrGenerationFailed) {
			err = fmt.Errorf("%w: %v", domain.ErrGenerationFailed, err)
		}
		slog.ErrorContext(ctx, "game: generate question failed", "theme", theme, "difficulty", int(d), "error", err)
		return domain.Question{}, fmt.Errorf("game: choose settings: %w", err)
	}
	if math.IsNaN(g.Answer) || math.IsInf(g.Answer, 0) || g.Question == "" {
		return domain.Question{}, fmt.Errorf("game: choose settings: %w: unusable question", domain.ErrGenerationFailed)
	}

	q := domain.Question{
		ID:            m.newID(),
		Text:          g.Question,
		CorrectAnswer: g.Answer,
		Theme:         theme,
		Difficulty:    d,
		GeneratedAt:   m.now(),
	}

	err = m.write(func(tx *doc.Txn, s domain.GameState) error {
		if err := m.guardSettings(s); err != nil {
			return err
		}

		tx.ClearAnswers()
		return tx.UpdateGameState(func(s *domain.GameState) {
			s.Theme = theme
			s.Difficulty = d
			s.CurrentQuestion = &q
			s.RoundNumber++
			s.Phase = domain.PhaseQuestion
		})
	})
	if err != nil {
		return domain.Question{}, fmt.Errorf("game: choose settings: %w", err)
	}

	if m.recent != nil {
		if err := m.recent.Add(ctx, theme, q.Text); err != nil {
			slog.WarnContext(ctx, "game: remember question failed", "theme", theme, "error", err)
		}
	}

	return q, nil
}

// SubmitAnswer records the answer of the local player to the current question.
// A player answers at most once per round.
func (m *Machine) SubmitAnswer(ctx context.Context, value float64) error {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return domain.ErrInvalidAnswer
	}

	err := m.write(func(tx *doc.Txn, s domain.GameState) error {
		if s.Phase != domain.PhaseQuestion {
			return fmt.Errorf("%w: %s", domain.ErrInvalidPhase, s.Phase)
		}
		if _, ok := tx.Player(m.playerID); !ok {
			return domain.ErrPlayerNotFound
		}
		if _, ok := tx.Answer(m.playerID); ok {
			return domain.ErrAlreadyAnswered
		}

		return tx.PutAnswer(domain.Answer{
			PlayerID:    m.playerID,
			Value:       value,
			SubmittedAt: m.now(),
		})
	})
	if err != nil {
		return fmt.Errorf("game: submit answer: %w", err)
	}

	return nil
}

// NextRound moves from Results back to Settings. Only the next picker may do it.
func (m *Machine) NextRound(ctx context.Context) error {
	err := m.write(func(tx *doc.Txn, s domain.GameState) error {
		if err := guardTransition(s.Phase, domain.PhaseSettings); err != nil {
			return err
		}
		if s.PickerID() != m.playerID {
			return domain.ErrNotPicker
		}

		tx.ClearAnswers()
		return tx.UpdateGameState(func(s *domain.GameState) {
			s.Phase = domain.PhaseSettings
		})
	})
	if err != nil {
		return fmt.Errorf("game: next round: %w", err)
	}

	return nil
}

// EndGame finishes the game between two rounds. Only the host may end it.
func (m *Machine) EndGame(ctx context.Context) error {
	err := m.write(func(tx *doc.Txn, s domain.GameState) error {
		if s.HostID != m.playerID {
			return domain.ErrNotHost
		}
		if err := guardTransition(s.Phase, domain.PhaseFinished); err != nil {
			return err
		}

		return tx.UpdateGameState(func(s *domain.GameState) {
			s.Phase = domain.PhaseFinished
		})
	})
	if err != nil {
		return fmt.Errorf("game: end: %w", err)
	}

	slog.InfoContext(ctx, "game: finished", "pin", m.State().Pin)
	return nil
}

// Results scores the answers of the current round for display. The next
// picker is the one written by the resolving peer.
func (m *Machine) Results() (domain.RoundResult, error) {
	snap := m.doc.Snapshot()
	if snap.State.CurrentQuestion == nil {
		return domain.RoundResult{}, fmt.Errorf("game: results: %w", domain.ErrInvalidPhase)
	}

	res, err := scoring.Score(snap.Answers, snap.State.CurrentQuestion.CorrectAnswer, m.pick)
	if err != nil {
		return domain.RoundResult{}, fmt.Errorf("game: results: %w", err)
	}
	if snap.State.Phase == domain.PhaseResults {
		res.NextPickerID = snap.State.NextPickerID
	}

	return res, nil
}

// Resolve closes the current round once every player answered. Only the peer
// of the player who set the question resolves, the others observe the result.
// It reports whether this call resolved the round.
func (m *Machine) Resolve(ctx context.Context) (bool, error) {
	if m.sync != nil && !m.sync.Synced() {
		return false, nil
	}

	var (
		resolved bool
		res      domain.RoundResult
		state    domain.GameState
	)

	err := m.doc.Transact(m, func(tx *doc.Txn) error {
		s := tx.GameState()
		if s.Phase != domain.PhaseQuestion || s.PickerID() != m.playerID || s.CurrentQuestion == nil {
			return nil
		}

		answers, players := tx.Answers(), tx.Players()
		if len(players) == 0 || len(answers) != len(players) {
			return nil
		}

		var err error
		res, err = scoring.Score(answers, s.CurrentQuestion.CorrectAnswer, m.pick)
		if err != nil {
			return err
		}

		for _, id := range res.WinnerIDs {
			err := tx.UpdatePlayer(id, func(p *domain.Player) {
				p.Score++
			})
			if err != nil {
				return err
			}
		}

		if err := tx.UpdateGameState(func(s *domain.GameState) {
			s.Phase = domain.PhaseResults
			s.NextPickerID = res.NextPickerID
		}); err != nil {
			return err
		}

		resolved, state = true, s
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("game: resolve: %w", err)
	}
	if !resolved {
		return false, nil
	}

	telemetry.RoundsResolved.Inc()
	slog.InfoContext(ctx, "game: round resolved",
		"pin", state.Pin,
		"round", state.RoundNumber,
		"winners", res.WinnerIDs,
		"next_picker", res.NextPickerID,
	)

	if m.eb != nil {
		m.eb.Publish(ctx, domain.EventRoundResolved{
			Pin:      state.Pin,
			Round:    state.RoundNumber,
			Question: *state.CurrentQuestion,
			Result:   res,
		})
	}

	return true, nil
}

func (m *Machine) onChange(c doc.Change) {
	if !c.Touches(doc.MapGameState) && !c.Touches(doc.MapAnswers) && !c.Touches(doc.MapPlayers) {
		return
	}

	ctx := context.Background()
	s := m.doc.GameState()

	m.mu.Lock()
	from := m.phase
	m.phase = s.Phase
	m.mu.Unlock()

	if from != s.Phase && m.eb != nil {
		m.eb.Publish(ctx, domain.EventPhaseChanged{
			Pin:   s.Pin,
			From:  from,
			To:    s.Phase,
			Round: s.RoundNumber,
		})
	}

	if s.Phase == domain.PhaseQuestion {
		if _, err := m.Resolve(ctx); err != nil {
			slog.ErrorContext(ctx, "game: resolve round failed", "pin", s.Pin, "error", err)
		}
	}
}

func (m *Machine) write(fn func(tx *doc.Txn, s domain.GameState) error) error {
	if err := m.guardSynced(); err != nil {
		return err
	}

	return m.doc.Transact(m, func(tx *doc.Txn) error {
		s := tx.GameState()
		if !s.Created() {
			return domain.ErrGameNotCreated
		}
		return fn(tx, s)
	})
}

func (m *Machine) guardSynced() error {
	if m.sync != nil && !m.sync.Synced() {
		return domain.ErrNotSynced
	}
	return nil
}

func (m *Machine) guardSettings(s domain.GameState) error {
	if !s.Created() {
		return domain.ErrGameNotCreated
	}
	if s.Phase != domain.PhaseSettings {
		return fmt.Errorf("%w: %s", domain.ErrInvalidPhase, s.Phase)
	}
	if s.PickerID() != m.playerID {
		return domain.ErrNotPicker
	}
	return nil
}

func (m *Machine) previousQuestions(ctx context.Context, theme string) []string {
	if m.recent == nil {
		return nil
	}

	qs, err := m.recent.List(ctx, theme)
	if err != nil {
		slog.WarnContext(ctx, "game: list recent questions failed", "theme", theme, "error", err)
		return nil
	}
	return qs
}

func guardTransition(from, to domain.Phase) error {
	if !from.CanTransitionTo(to) {
		return fmt.Errorf("%w: %s to %s", domain.ErrInvalidTransition, from, to)
	}
	return nil
}
