package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/guhur/plus-proche/internal/domain"
	apperr "github.com/guhur/plus-proche/internal/errors"
	"github.com/guhur/plus-proche/internal/event"
	"github.com/guhur/plus-proche/internal/game"
	"github.com/guhur/plus-proche/internal/identity"
	"github.com/guhur/plus-proche/internal/provider"
	"github.com/guhur/plus-proche/internal/question"
)

var errQuit = errors.New("quit")

const help = `Commands:
  status                       show the game
  players                      show the players and their scores
  start                        start the game (host)
  pick <difficulty> <theme>    choose the next question (picker), theme by name or number
  answer <number>              answer the current question
  results                      show the results of the round
  next                         go to the next round (picker)
  end                          end the game (host)
  help                         show this help
  quit                         leave the session
`

// terminal renders the session and reads commands, one per line.
type terminal struct {
	in io.Reader

	mu  sync.Mutex
	out io.Writer

	m    *game.Machine
	prov *provider.Provider
}

func newTerminal(in io.Reader, out io.Writer) *terminal {
	return &terminal{in: in, out: out}
}

func (t *terminal) attach(m *game.Machine, prov *provider.Provider) {
	t.m = m
	t.prov = prov
}

func (t *terminal) printf(format string, args ...any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.out, format, args...)
}

func (t *terminal) welcome(p string, id identity.Result) {
	role := "player"
	if id.IsHost {
		role = "host"
	}
	t.printf("Session %s: you play as %s (%s, %s).\n", p, id.Name, role, id.Outcome)
	t.printf("Type help for the commands.\n")
	t.status()
}

func (t *terminal) loop(ctx context.Context) error {
	lines := make(chan string)
	go func() {
		defer close(lines)

		s := bufio.NewScanner(t.in)
		for s.Scan() {
			select {
			case lines <- s.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}

			err := t.exec(ctx, line)
			if errors.Is(err, errQuit) {
				return nil
			}
			if err != nil {
				t.fail(err)
			}
		}
	}
}

func (t *terminal) exec(ctx context.Context, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}

	cmd, args := strings.ToLower(fields[0]), fields[1:]
	switch cmd {
	case "help":
		t.printf("%s", help)
	case "status":
		t.status()
	case "players":
		t.players()
	case "start":
		return t.m.StartGame(ctx)
	case "pick":
		return t.pick(ctx, args)
	case "answer":
		if len(args) != 1 {
			return fmt.Errorf("usage: answer <number>")
		}
		v, err := strconv.ParseFloat(strings.ReplaceAll(args[0], ",", "."), 64)
		if err != nil {
			return fmt.Errorf("%q: %w", args[0], domain.ErrInvalidAnswer)
		}
		if err := t.m.SubmitAnswer(ctx, v); err != nil {
			return err
		}
		t.printf("Answer %v recorded.\n", v)
	case "results":
		return t.results()
	case "next":
		return t.m.NextRound(ctx)
	case "end":
		return t.m.EndGame(ctx)
	case "quit", "exit":
		return errQuit
	default:
		return fmt.Errorf("unknown command %q, type help", cmd)
	}

	return nil
}

// fail reports err. Rule violations print their short message; anything
// else prints in full.
func (t *terminal) fail(err error) {
	e := apperr.Convert(err)
	if e.Code == apperr.CodeInternal {
		t.printf("error: %v\n", err)
		return
	}
	t.printf("%s: %s\n", e.Code, e.Message)
}

func (t *terminal) pick(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: pick <difficulty> <theme>")
	}

	d, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("%q: %w", args[0], domain.ErrInvalidDifficulty)
	}

	theme := strings.Join(args[1:], " ")
	if i, err := strconv.Atoi(theme); err == nil && i >= 1 && i <= len(question.Themes) {
		theme = question.Themes[i-1]
	}

	t.printf("Generating a question about %s (%s)...\n", theme, question.DifficultyName(domain.Difficulty(d)))
	_, err = t.m.ChooseSettings(ctx, theme, domain.Difficulty(d))
	return err
}

func (t *terminal) status() {
	s := t.m.State()
	st := t.prov.Status()

	t.printf("Phase %s, round %d, %d peer(s) online", s.Phase, s.RoundNumber, st.PeerCount)
	if !st.Connected {
		t.printf(", offline")
	}
	t.printf(".\n")

	switch s.Phase {
	case domain.PhaseWaiting:
		if t.m.IsHost() {
			t.printf("Type start once at least %d players joined.\n", game.MinPlayers)
		} else {
			t.printf("Waiting for the host to start.\n")
		}
	case domain.PhaseSettings:
		t.printSettings(s)
	case domain.PhaseQuestion:
		t.printQuestion(s)
	case domain.PhaseResults:
		_ = t.results()
	case domain.PhaseFinished:
		t.players()
	}
}

func (t *terminal) players() {
	for _, p := range t.m.Players() {
		mark := ""
		if p.IsHost {
			mark = " (host)"
		}
		if p.ID == t.m.PlayerID() {
			mark += " (you)"
		}
		t.printf("  %-20s %3d%s\n", p.Name, p.Score, mark)
	}
}

func (t *terminal) results() error {
	res, err := t.m.Results()
	if err != nil {
		return err
	}

	s := t.m.State()
	if s.CurrentQuestion != nil {
		t.printf("Correct answer: %v\n", s.CurrentQuestion.CorrectAnswer)
	}
	for i, r := range res.Rankings {
		t.printf("  %d. %-20s %v (off by %v)\n", i+1, t.name(r.PlayerID), r.Answer, r.Distance)
	}
	if res.NextPickerID != "" && s.Phase == domain.PhaseResults {
		t.printf("%s picks the next round.\n", t.name(res.NextPickerID))
	}
	return nil
}

func (t *terminal) printSettings(s domain.GameState) {
	if t.m.IsPicker() {
		t.printf("You pick the next question: pick <difficulty 1-5> <theme>. Themes:\n")
		for i, th := range question.Themes {
			t.printf("  %2d %s\n", i+1, th)
		}
		return
	}
	t.printf("%s is picking the next question.\n", t.name(s.PickerID()))
}

func (t *terminal) printQuestion(s domain.GameState) {
	if s.CurrentQuestion == nil {
		return
	}
	t.printf("Round %d, %s (%s):\n  %s\n", s.RoundNumber, s.Theme, question.DifficultyName(s.Difficulty), s.CurrentQuestion.Text)
	t.printf("Answer with: answer <number>\n")
}

func (t *terminal) name(playerID string) string {
	for _, p := range t.m.Players() {
		if p.ID == playerID {
			return p.Name
		}
	}
	return playerID
}

func (t *terminal) onPhaseChanged(ctx context.Context, e event.Event) error {
	ev := e.(domain.EventPhaseChanged)
	t.printf("\n%s -> %s\n", ev.From, ev.To)
	t.status()
	return nil
}

func (t *terminal) onRoundResolved(ctx context.Context, e event.Event) error {
	ev := e.(domain.EventRoundResolved)
	t.printf("Round %d resolved, %d winner(s).\n", ev.Round, len(ev.Result.WinnerIDs))
	return nil
}
