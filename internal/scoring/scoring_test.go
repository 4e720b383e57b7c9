package scoring_test

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guhur/plus-proche/internal/domain"
	"github.com/guhur/plus-proche/internal/scoring"
)

func TestScore(t *testing.T) {
	type (
		inputs struct {
			answers []domain.Answer
			correct float64
			pick    scoring.Picker
		}
	)

	tests := map[string]struct {
		arrange func() inputs
		assert  func(t *testing.T, res domain.RoundResult)
	}{
		"closest player wins and farthest player picks next": {
			arrange: func() inputs {
				return inputs{
					answers: []domain.Answer{answer("p1", 90, 1), answer("p2", 95, 2)},
					correct: 100,
				}
			},
			assert: func(t *testing.T, res domain.RoundResult) {
				assert.Equal(t, []string{"p2"}, res.WinnerIDs)
				assert.Equal(t, []string{"p1"}, res.LoserIDs)
				assert.Equal(t, "p2", res.PrimaryWinnerID)
				assert.Equal(t, "p1", res.NextPickerID)
				assert.Equal(t, []domain.Ranking{
					{PlayerID: "p2", Answer: 95, Distance: 5},
					{PlayerID: "p1", Answer: 90, Distance: 10},
				}, res.Rankings)
			},
		},

		"a single answer both wins and loses": {
			arrange: func() inputs {
				return inputs{
					answers: []domain.Answer{answer("p1", 42, 1)},
					correct: 7,
				}
			},
			assert: func(t *testing.T, res domain.RoundResult) {
				assert.Equal(t, []string{"p1"}, res.WinnerIDs)
				assert.Equal(t, []string{"p1"}, res.LoserIDs)
				assert.Equal(t, "p1", res.NextPickerID)
			},
		},

		"identical answers all win and all lose": {
			arrange: func() inputs {
				return inputs{
					answers: []domain.Answer{answer("p1", 12, 1), answer("p2", 12, 2), answer("p3", 12, 3)},
					correct: 10,
				}
			},
			assert: func(t *testing.T, res domain.RoundResult) {
				assert.ElementsMatch(t, []string{"p1", "p2", "p3"}, res.WinnerIDs)
				assert.ElementsMatch(t, []string{"p1", "p2", "p3"}, res.LoserIDs)
				assert.Equal(t, "p1", res.PrimaryWinnerID, "ties keep submission order")
			},
		},

		"answers on both sides of the correct value tie": {
			arrange: func() inputs {
				return inputs{
					answers: []domain.Answer{answer("p1", 0.1, 1), answer("p2", 0.5, 2), answer("p3", 3, 3)},
					correct: 0.3,
				}
			},
			assert: func(t *testing.T, res domain.RoundResult) {
				assert.Equal(t, []string{"p1", "p2"}, res.WinnerIDs, "0.3-0.1 and 0.5-0.3 are the same distance")
				assert.Equal(t, []string{"p3"}, res.LoserIDs)
			},
		},

		"tied losers are drawn with the picker": {
			arrange: func() inputs {
				return inputs{
					answers: []domain.Answer{answer("p1", 100, 1), answer("p2", 80, 2), answer("p3", 120, 3)},
					correct: 100,
					pick:    func(n int) int { return n - 1 },
				}
			},
			assert: func(t *testing.T, res domain.RoundResult) {
				assert.Equal(t, []string{"p1"}, res.WinnerIDs)
				assert.Equal(t, []string{"p2", "p3"}, res.LoserIDs)
				assert.Equal(t, "p3", res.NextPickerID)
			},
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			in := tt.arrange()

			res, err := scoring.Score(in.answers, in.correct, in.pick)
			require.NoError(t, err)

			tt.assert(t, res)
		})
	}
}

func TestScore_Errors(t *testing.T) {
	_, err := scoring.Score(nil, 10, nil)
	assert.ErrorIs(t, err, domain.ErrNoAnswers)

	_, err = scoring.Score([]domain.Answer{answer("p1", math.NaN(), 1)}, 10, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidAnswer)

	_, err = scoring.Score([]domain.Answer{answer("p1", 1, 1)}, math.Inf(1), nil)
	assert.ErrorIs(t, err, domain.ErrInvalidAnswer)
}

func TestScore_Properties(t *testing.T) {
	r := rand.New(rand.NewSource(1))

	for i := 0; i < 500; i++ {
		n := 1 + r.Intn(8)
		answers := make([]domain.Answer, 0, n)
		for j := 0; j < n; j++ {
			answers = append(answers, answer(string(rune('a'+j)), float64(r.Intn(21)-10), int64(j)))
		}
		correct := float64(r.Intn(11) - 5)

		res, err := scoring.Score(answers, correct, scoring.RandomPicker)
		require.NoError(t, err)

		minDist, maxDist := math.Inf(1), math.Inf(-1)
		for _, a := range answers {
			d := math.Abs(a.Value - correct)
			minDist = math.Min(minDist, d)
			maxDist = math.Max(maxDist, d)
		}

		dist := make(map[string]float64, n)
		for _, rk := range res.Rankings {
			dist[rk.PlayerID] = rk.Distance
		}

		require.NotEmpty(t, res.WinnerIDs)
		for _, id := range res.WinnerIDs {
			require.Equal(t, minDist, dist[id])
		}
		require.NotEmpty(t, res.LoserIDs)
		for _, id := range res.LoserIDs {
			require.Equal(t, maxDist, dist[id])
		}
		require.Contains(t, res.LoserIDs, res.NextPickerID, "next picker is drawn from the losers only")

		again, err := scoring.Score(answers, correct, scoring.RandomPicker)
		require.NoError(t, err)
		require.Equal(t, res.WinnerIDs, again.WinnerIDs)
		require.Equal(t, res.LoserIDs, again.LoserIDs)
		require.Equal(t, res.Rankings, again.Rankings)
	}
}

func answer(id string, v float64, ms int64) domain.Answer {
	return domain.Answer{PlayerID: id, Value: v, SubmittedAt: time.UnixMilli(ms)}
}
