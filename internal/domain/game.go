package domain

import (
	"time"
)

// Phase is the current stage of a game round.
type Phase string

const (
	PhaseWaiting  Phase = "waiting"
	PhaseSettings Phase = "settings"
	PhaseQuestion Phase = "question"
	PhaseResults  Phase = "results"
	PhaseFinished Phase = "finished"
)

var transitions = map[Phase][]Phase{
	PhaseWaiting:  {PhaseSettings},
	PhaseSettings: {PhaseQuestion, PhaseFinished},
	PhaseQuestion: {PhaseResults},
	PhaseResults:  {PhaseSettings, PhaseFinished},
}

func (p Phase) String() string { return string(p) }

// Valid reports whether p is one of the known phases.
func (p Phase) Valid() bool {
	switch p {
	case PhaseWaiting, PhaseSettings, PhaseQuestion, PhaseResults, PhaseFinished:
		return true
	}
	return false
}

// CanTransitionTo reports whether the round lifecycle allows moving from p to target.
func (p Phase) CanTransitionTo(target Phase) bool {
	for _, t := range transitions[p] {
		if t == target {
			return true
		}
	}
	return false
}

// Difficulty is a question difficulty tier, 1 to 5. Zero means unset.
type Difficulty int

const (
	MinDifficulty     Difficulty = 1
	MaxDifficulty     Difficulty = 5
	DefaultDifficulty Difficulty = 3
)

func (d Difficulty) Valid() bool {
	return d >= MinDifficulty && d <= MaxDifficulty
}

// GameState is the singleton record of a session. Empty strings, zero difficulty
// and a nil question stand for absent values.
type GameState struct {
	Pin             string
	Phase           Phase
	HostID          string
	Theme           string
	Difficulty      Difficulty
	CurrentQuestion *Question
	RoundNumber     int
	NextPickerID    string
}

// Created reports whether the session was initialised by its host.
func (s GameState) Created() bool {
	return s.Pin != ""
}

// PickerID returns the player allowed to choose the next theme: the next picker
// when set, the host otherwise.
func (s GameState) PickerID() string {
	if s.NextPickerID != "" {
		return s.NextPickerID
	}
	return s.HostID
}

type Player struct {
	ID       string
	Name     string
	Score    int
	IsHost   bool
	JoinedAt time.Time
}

type Answer struct {
	PlayerID    string
	Value       float64
	SubmittedAt time.Time
}

type Question struct {
	ID            string
	Text          string
	CorrectAnswer float64
	Theme         string
	Difficulty    Difficulty
	GeneratedAt   time.Time
}

// Identity is the player a peer acts as within one session.
type Identity struct {
	PlayerID string
	IsHost   bool
}

// Ranking is one line of a round's result table.
type Ranking struct {
	PlayerID string
	Answer   float64
	Distance float64
}

// RoundResult is the outcome of one round.
type RoundResult struct {
	Rankings        []Ranking
	WinnerIDs       []string
	LoserIDs        []string
	PrimaryWinnerID string
	NextPickerID    string
}
