package domain

import "errors"

// Domain errors
var (
	ErrInvalidPin        = errors.New("pin must be exactly 4 digits")
	ErrInvalidPhase      = errors.New("invalid action for current phase")
	ErrInvalidTransition = errors.New("invalid phase transition")
	ErrNotHost           = errors.New("only host can perform this action")
	ErrNotPicker         = errors.New("only the picker can choose the next round")
	ErrNotEnoughPlayers  = errors.New("not enough players to start")
	ErrAlreadyAnswered   = errors.New("already answered this round")
	ErrPlayerNotFound    = errors.New("player not found")
	ErrGameNotCreated    = errors.New("game not created")
	ErrNotSynced         = errors.New("document not synced yet")
	ErrGenerationFailed  = errors.New("question generation failed")
	ErrInvalidDifficulty = errors.New("difficulty must be between 1 and 5")
	ErrEmptyTheme        = errors.New("theme cannot be empty")
	ErrNoAnswers         = errors.New("no answers to score")
	ErrInvalidAnswer     = errors.New("answer must be a finite number")
	ErrDocumentClosed    = errors.New("document closed")
)
