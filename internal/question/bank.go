package question

import (
	"context"
	"fmt"
	"math/rand"
	"sync"

	"github.com/guhur/plus-proche/internal/domain"
)

// Entry is one question of a Bank.
type Entry struct {
	Theme       string  `mapstructure:"theme"`
	Difficulty  int     `mapstructure:"difficulty"`
	Question    string  `mapstructure:"question"`
	Answer      float64 `mapstructure:"answer"`
	Explanation string  `mapstructure:"explanation"`
}

// DefaultEntries is the bank served when none is configured.
var DefaultEntries = []Entry{
	{Theme: "Culture générale", Difficulty: 1, Question: "Combien de couleurs compte un arc-en-ciel ?", Answer: 7},
	{Theme: "Culture générale", Difficulty: 1, Question: "Combien de pattes a une araignée ?", Answer: 8},
	{Theme: "Culture générale", Difficulty: 3, Question: "Combien de touches compte un piano standard ?", Answer: 88},
	{Theme: "Sciences", Difficulty: 2, Question: "À quelle température, en degrés Celsius, l'eau bout-elle au niveau de la mer ?", Answer: 100},
	{Theme: "Sciences", Difficulty: 4, Question: "Combien d'os compte le squelette d'un adulte ?", Answer: 206},
	{Theme: "Sport", Difficulty: 1, Question: "Combien de joueurs compte une équipe de football sur le terrain ?", Answer: 11},
	{Theme: "Sport", Difficulty: 3, Question: "Quelle est la longueur, en kilomètres, d'un marathon ?", Answer: 42.195},
	{Theme: "Histoire", Difficulty: 2, Question: "En quelle année a eu lieu la prise de la Bastille ?", Answer: 1789},
	{Theme: "Histoire", Difficulty: 4, Question: "En quelle année Charlemagne a-t-il été couronné empereur ?", Answer: 800},
	{Theme: "Géographie", Difficulty: 3, Question: "Quelle est l'altitude, en mètres, du mont Blanc ?", Answer: 4806},
	{Theme: "Géographie", Difficulty: 2, Question: "Combien de départements compte la France métropolitaine ?", Answer: 96},
	{Theme: "Musique", Difficulty: 3, Question: "Combien de symphonies Beethoven a-t-il composées ?", Answer: 9},
	{Theme: "Littérature", Difficulty: 3, Question: "Combien de lieues sous les mers compte le titre du roman de Jules Verne ?", Answer: 20000},
	{Theme: "Technologie", Difficulty: 2, Question: "Combien de bits compte un octet ?", Answer: 8},
	{Theme: "Nature", Difficulty: 3, Question: "Combien de cœurs a une pieuvre ?", Answer: 3},
	{Theme: "Gastronomie", Difficulty: 3, Question: "Combien de fromages AOP la France compte-t-elle environ ?", Answer: 46},
	{Theme: "Art", Difficulty: 4, Question: "En quelle année la Joconde a-t-elle été volée au Louvre ?", Answer: 1911},
	{Theme: "Cinéma", Difficulty: 3, Question: "En quelle année est sorti le film Le Fabuleux Destin d'Amélie Poulain ?", Answer: 2001},
}

// Bank generates questions from a fixed list. It prefers entries of the
// requested difficulty and never returns a previously asked question while
// others remain.
type Bank struct {
	entries map[string][]Entry

	mu   sync.Mutex
	rand *rand.Rand
}

func NewBank(entries []Entry, seed int64) *Bank {
	if len(entries) == 0 {
		entries = DefaultEntries
	}

	b := &Bank{
		entries: make(map[string][]Entry),
		rand:    rand.New(rand.NewSource(seed)),
	}
	for _, e := range entries {
		b.entries[e.Theme] = append(b.entries[e.Theme], e)
	}

	return b
}

func (b *Bank) Generate(ctx context.Context, req Request) (Generated, error) {
	if err := ctx.Err(); err != nil {
		return Generated{}, fmt.Errorf("%w: %v", domain.ErrGenerationFailed, err)
	}

	entries := b.entries[req.Theme]
	if len(entries) == 0 {
		return Generated{}, fmt.Errorf("%w: no question for theme %q", domain.ErrGenerationFailed, req.Theme)
	}

	asked := make(map[string]bool, len(req.PreviousQuestions))
	for _, q := range req.PreviousQuestions {
		asked[q] = true
	}

	d := domain.Difficulty(req.Difficulty)
	if !d.Valid() {
		d = domain.DefaultDifficulty
	}

	var fresh, exact []Entry
	for _, e := range entries {
		if asked[e.Question] {
			continue
		}
		fresh = append(fresh, e)
		if domain.Difficulty(e.Difficulty) == d {
			exact = append(exact, e)
		}
	}

	candidates := exact
	if len(candidates) == 0 {
		candidates = fresh
	}
	if len(candidates) == 0 {
		candidates = entries
	}

	b.mu.Lock()
	e := candidates[b.rand.Intn(len(candidates))]
	b.mu.Unlock()

	return Generated{
		Question:    e.Question,
		Answer:      e.Answer,
		Explanation: e.Explanation,
	}, nil
}
