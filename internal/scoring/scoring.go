// Package scoring ranks the answers of a round by their distance to the
// correct value.
package scoring

import (
	"crypto/rand"
	"fmt"
	"math"
	"math/big"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/guhur/plus-proche/internal/domain"
)

// Picker returns an index in [0, n).
type Picker func(n int) int

// RandomPicker picks uniformly at random.
func RandomPicker(n int) int {
	r, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		panic(err)
	}
	return int(r.Int64())
}

type ranked struct {
	answer   domain.Answer
	distance decimal.Decimal
}

// Score computes the result of a round. Every answer at the minimum distance wins
// and every answer at the maximum distance loses, so a single answer, or identical
// answers, both win and lose. The next picker is drawn among the losers with pick,
// which is the only non-deterministic part of the result.
func Score(answers []domain.Answer, correct float64, pick Picker) (domain.RoundResult, error) {
	if len(answers) == 0 {
		return domain.RoundResult{}, domain.ErrNoAnswers
	}
	if !finite(correct) {
		return domain.RoundResult{}, fmt.Errorf("scoring: correct answer %v: %w", correct, domain.ErrInvalidAnswer)
	}

	target := decimal.NewFromFloat(correct)
	rs := make([]ranked, 0, len(answers))
	for _, a := range answers {
		if !finite(a.Value) {
			return domain.RoundResult{}, fmt.Errorf("scoring: answer of %s: %w", a.PlayerID, domain.ErrInvalidAnswer)
		}
		rs = append(rs, ranked{
			answer:   a,
			distance: decimal.NewFromFloat(a.Value).Sub(target).Abs(),
		})
	}

	sort.SliceStable(rs, func(i, j int) bool {
		return rs[i].distance.LessThan(rs[j].distance)
	})

	lowest, highest := rs[0].distance, rs[len(rs)-1].distance

	res := domain.RoundResult{
		Rankings: make([]domain.Ranking, 0, len(rs)),
	}
	for _, r := range rs {
		res.Rankings = append(res.Rankings, domain.Ranking{
			PlayerID: r.answer.PlayerID,
			Answer:   r.answer.Value,
			Distance: r.distance.InexactFloat64(),
		})

		if r.distance.Equal(lowest) {
			res.WinnerIDs = append(res.WinnerIDs, r.answer.PlayerID)
		}
		if r.distance.Equal(highest) {
			res.LoserIDs = append(res.LoserIDs, r.answer.PlayerID)
		}
	}

	if pick == nil {
		pick = RandomPicker
	}

	res.PrimaryWinnerID = res.WinnerIDs[0]
	res.NextPickerID = res.LoserIDs[pick(len(res.LoserIDs))]

	return res, nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
