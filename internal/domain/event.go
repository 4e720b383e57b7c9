package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	EventNamePhaseChanged       = "phase.changed"
	EventNameRoundResolved      = "round.resolved"
	EventNamePlayerJoined       = "player.joined"
	EventNameScoreUpdated       = "score.updated"
	EventNameLeaderboardUpdated = "leaderboard.updated"
)

type EventPhaseChanged struct {
	Pin   string
	From  Phase
	To    Phase
	Round int
}

func (EventPhaseChanged) Name() string { return EventNamePhaseChanged }

type EventRoundResolved struct {
	Pin      string
	Round    int
	Question Question
	Result   RoundResult
}

func (EventRoundResolved) Name() string { return EventNameRoundResolved }

type EventPlayerJoined struct {
	Pin    string
	Player Player
}

func (EventPlayerJoined) Name() string { return EventNamePlayerJoined }

// Score is the total score of a player in a session.
type Score struct {
	Pin        string
	PlayerID   string
	Name       string
	TotalScore decimal.Decimal
	UpdateTime time.Time
}

type EventScoreUpdated struct {
	Score Score
}

func (EventScoreUpdated) Name() string { return EventNameScoreUpdated }

// Leaderboard is the list of players of a session sorted by score in descending order.
type Leaderboard struct {
	Pin     string
	Entries []LeaderboardEntry
}

type LeaderboardEntry struct {
	PlayerID string
	Name     string
	Score    float64
}

type EventLeaderboardUpdated struct {
	Leaderboard Leaderboard
}

func (EventLeaderboardUpdated) Name() string { return EventNameLeaderboardUpdated }
