// Package question talks to the question generator: the HTTP client used by
// peers, the endpoint served by the relay, and the per-theme cache of recently
// asked questions sent along so the generator does not repeat itself.
package question

import (
	"context"

	"github.com/guhur/plus-proche/internal/domain"
)

// MaxRecentPerTheme bounds the recent questions kept, and sent, per theme.
const MaxRecentPerTheme = 20

// Themes is the catalogue offered to the picker.
var Themes = []string{
	"Histoire",
	"Géographie",
	"Sciences",
	"Sport",
	"Cinéma",
	"Musique",
	"Littérature",
	"Art",
	"Nature",
	"Technologie",
	"Gastronomie",
	"Culture générale",
}

var difficultyLabels = map[domain.Difficulty]string{
	1: "tres facile (pour enfants de 8-10 ans)",
	2: "facile (niveau college)",
	3: "moyen (niveau lycee)",
	4: "difficile (culture generale avancee)",
	5: "tres difficile (expert, connaissance pointue)",
}

var difficultyNames = map[domain.Difficulty]string{
	1: "Très facile",
	2: "Facile",
	3: "Moyen",
	4: "Difficile",
	5: "Très difficile",
}

// DifficultyLabel describes a difficulty tier to the generator. Out of range
// tiers get the label of domain.DefaultDifficulty.
func DifficultyLabel(d domain.Difficulty) string {
	return lookup(difficultyLabels, d)
}

// DifficultyName is the short name players see for a tier.
func DifficultyName(d domain.Difficulty) string {
	return lookup(difficultyNames, d)
}

func lookup(m map[domain.Difficulty]string, d domain.Difficulty) string {
	if l, ok := m[d]; ok {
		return l
	}
	return m[domain.DefaultDifficulty]
}

type Request struct {
	Theme             string   `json:"theme"`
	Difficulty        int      `json:"difficulty"`
	PreviousQuestions []string `json:"previousQuestions,omitempty"`
}

type Generated struct {
	Question    string  `json:"question"`
	Answer      float64 `json:"answer"`
	Explanation string  `json:"explanation,omitempty"`
}

type Generator interface {
	Generate(ctx context.Context, req Request) (Generated, error)
}
