package doc_test

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guhur/plus-proche/internal/doc"
	"github.com/guhur/plus-proche/internal/domain"
)

func TestDocument_GameStateRoundTrip(t *testing.T) {
	d := doc.New()

	want := domain.GameState{
		Pin:        "1234",
		Phase:      domain.PhaseQuestion,
		HostID:     "p1",
		Theme:      "Histoire",
		Difficulty: 3,
		CurrentQuestion: &domain.Question{
			ID:            "q1",
			Text:          "En quelle annee a eu lieu la prise de la Bastille ?",
			CorrectAnswer: 1789,
			Theme:         "Histoire",
			Difficulty:    3,
			GeneratedAt:   time.UnixMilli(1700000000123),
		},
		RoundNumber:  2,
		NextPickerID: "p2",
	}

	err := d.Transact("test", func(tx *doc.Txn) error {
		return tx.InitGameState(want)
	})
	require.NoError(t, err)

	assert.Equal(t, want, d.GameState())
}

func TestDocument_AbsentFields(t *testing.T) {
	d := doc.New()

	err := d.Transact("test", func(tx *doc.Txn) error {
		return tx.InitGameState(domain.GameState{Pin: "1234", Phase: domain.PhaseWaiting, HostID: "p1"})
	})
	require.NoError(t, err)

	s := d.GameState()
	assert.Empty(t, s.Theme)
	assert.Zero(t, s.Difficulty)
	assert.Nil(t, s.CurrentQuestion)
	assert.Empty(t, s.NextPickerID)
	assert.Equal(t, "p1", s.PickerID())
}

func TestDocument_Convergence(t *testing.T) {
	type (
		inputs struct {
			a, b *doc.Document
		}
	)

	tests := map[string]struct {
		arrange func(t *testing.T, in inputs)
		assert  func(t *testing.T, s doc.Snapshot)
	}{
		"writes to disjoint fields both survive": {
			arrange: func(t *testing.T, in inputs) {
				require.NoError(t, in.a.Transact("a", func(tx *doc.Txn) error {
					return tx.UpdateGameState(func(s *domain.GameState) { s.Theme = "Sport" })
				}))
				require.NoError(t, in.b.Transact("b", func(tx *doc.Txn) error {
					return tx.UpdateGameState(func(s *domain.GameState) { s.Difficulty = 4 })
				}))
			},
			assert: func(t *testing.T, s doc.Snapshot) {
				assert.Equal(t, "Sport", s.State.Theme)
				assert.Equal(t, domain.Difficulty(4), s.State.Difficulty)
			},
		},

		"concurrent writes to the same field converge": {
			arrange: func(t *testing.T, in inputs) {
				require.NoError(t, in.a.Transact("a", func(tx *doc.Txn) error {
					return tx.UpdateGameState(func(s *domain.GameState) { s.Theme = "Sport" })
				}))
				require.NoError(t, in.b.Transact("b", func(tx *doc.Txn) error {
					return tx.UpdateGameState(func(s *domain.GameState) { s.Theme = "Cinéma" })
				}))
			},
			assert: func(t *testing.T, s doc.Snapshot) {
				// same counter on both replicas, replica "b" wins the tie
				assert.Equal(t, "Cinéma", s.State.Theme)
			},
		},

		"players joining on both replicas are all registered": {
			arrange: func(t *testing.T, in inputs) {
				require.NoError(t, in.a.Transact("a", func(tx *doc.Txn) error {
					return tx.PutPlayer(domain.Player{ID: "p2", Name: "Bob", JoinedAt: time.UnixMilli(2)})
				}))
				require.NoError(t, in.b.Transact("b", func(tx *doc.Txn) error {
					return tx.PutPlayer(domain.Player{ID: "p3", Name: "Chloé", JoinedAt: time.UnixMilli(3)})
				}))
			},
			assert: func(t *testing.T, s doc.Snapshot) {
				require.Len(t, s.Players, 3)
				assert.Equal(t, []string{"p1", "p2", "p3"}, playerIDs(s.Players))
			},
		},

		"answer and score written on different replicas both survive": {
			arrange: func(t *testing.T, in inputs) {
				require.NoError(t, in.a.Transact("a", func(tx *doc.Txn) error {
					return tx.PutAnswer(domain.Answer{PlayerID: "p1", Value: 90, SubmittedAt: time.UnixMilli(10)})
				}))
				require.NoError(t, in.b.Transact("b", func(tx *doc.Txn) error {
					return tx.UpdatePlayer("p1", func(p *domain.Player) { p.Score++ })
				}))
			},
			assert: func(t *testing.T, s doc.Snapshot) {
				require.Len(t, s.Answers, 1)
				assert.Equal(t, 90.0, s.Answers[0].Value)
				assert.Equal(t, 1, s.Players[0].Score)
			},
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			in := inputs{
				a: doc.New(doc.WithReplica("a")),
				b: doc.New(doc.WithReplica("b")),
			}

			require.NoError(t, in.a.Transact("a", func(tx *doc.Txn) error {
				if err := tx.InitGameState(domain.GameState{Pin: "1234", Phase: domain.PhaseWaiting, HostID: "p1"}); err != nil {
					return err
				}
				return tx.PutPlayer(domain.Player{ID: "p1", Name: "Alice", IsHost: true, JoinedAt: time.UnixMilli(1)})
			}))
			exchange(t, in.a, in.b)

			tt.arrange(t, in)
			exchange(t, in.a, in.b)

			sa, sb := in.a.Snapshot(), in.b.Snapshot()
			require.Equal(t, sa, sb, "replicas should converge")
			tt.assert(t, sa)
		})
	}
}

func TestDocument_ApplyIsIdempotentAndCommutative(t *testing.T) {
	src := doc.New(doc.WithReplica("src"))

	var updates []doc.Update
	src.Observe(func(c doc.Change) {
		updates = append(updates, c.Update)
	})

	require.NoError(t, src.Transact("src", func(tx *doc.Txn) error {
		return tx.InitGameState(domain.GameState{Pin: "4242", Phase: domain.PhaseWaiting, HostID: "h"})
	}))
	require.NoError(t, src.Transact("src", func(tx *doc.Txn) error {
		return tx.UpdateGameState(func(s *domain.GameState) { s.Phase = domain.PhaseSettings })
	}))
	require.NoError(t, src.Transact("src", func(tx *doc.Txn) error {
		return tx.UpdateGameState(func(s *domain.GameState) { s.Theme = "Art" })
	}))
	require.Len(t, updates, 3)

	forward := doc.New()
	for _, u := range updates {
		require.NoError(t, forward.Apply(u, "test"))
		require.NoError(t, forward.Apply(u, "test"))
	}

	backward := doc.New()
	for i := len(updates) - 1; i >= 0; i-- {
		require.NoError(t, backward.Apply(updates[i], "test"))
	}

	assert.Equal(t, src.GameState(), forward.GameState())
	assert.Equal(t, src.GameState(), backward.GameState())
	assert.Equal(t, domain.PhaseSettings, backward.GameState().Phase)
}

func TestDocument_TransactionIsAtomic(t *testing.T) {
	d := doc.New()

	var changes []doc.Change
	d.Observe(func(c doc.Change) { changes = append(changes, c) })

	errBoom := errors.New("boom")
	err := d.Transact("test", func(tx *doc.Txn) error {
		if err := tx.InitGameState(domain.GameState{Pin: "1234", Phase: domain.PhaseWaiting, HostID: "p1"}); err != nil {
			return err
		}
		return errBoom
	})
	require.ErrorIs(t, err, errBoom)
	assert.False(t, d.GameState().Created(), "failed transaction should not be visible")
	assert.Empty(t, changes)

	err = d.Transact("test", func(tx *doc.Txn) error {
		if err := tx.InitGameState(domain.GameState{Pin: "1234", Phase: domain.PhaseWaiting, HostID: "p1"}); err != nil {
			return err
		}
		if err := tx.PutPlayer(domain.Player{ID: "p1", Name: "Alice", IsHost: true}); err != nil {
			return err
		}
		return tx.PutAnswer(domain.Answer{PlayerID: "p1", Value: 1})
	})
	require.NoError(t, err)

	require.Len(t, changes, 1, "one transaction should produce one change")
	c := changes[0]
	assert.True(t, c.Local)
	assert.Equal(t, "test", c.Origin)
	assert.True(t, c.Touches(doc.MapGameState))
	assert.True(t, c.Touches(doc.MapPlayers))
	assert.True(t, c.Touches(doc.MapAnswers))

	counter := c.Update.Ops[0].Clock
	for _, op := range c.Update.Ops {
		assert.Equal(t, counter, op.Clock, "all writes of a transaction share a clock")
	}
}

func TestDocument_TransactionReadsOwnWrites(t *testing.T) {
	d := doc.New()

	err := d.Transact("test", func(tx *doc.Txn) error {
		if err := tx.PutPlayer(domain.Player{ID: "p1", Name: "Alice"}); err != nil {
			return err
		}
		if _, ok := tx.Player("p1"); !ok {
			return errors.New("staged player not visible")
		}
		return tx.UpdatePlayer("p1", func(p *domain.Player) { p.Score += 2 })
	})
	require.NoError(t, err)

	p, ok := d.Player("p1")
	require.True(t, ok)
	assert.Equal(t, 2, p.Score)
}

func TestDocument_ClearAnswers(t *testing.T) {
	d := doc.New()

	require.NoError(t, d.Transact("test", func(tx *doc.Txn) error {
		if err := tx.PutAnswer(domain.Answer{PlayerID: "p1", Value: 1, SubmittedAt: time.UnixMilli(2)}); err != nil {
			return err
		}
		return tx.PutAnswer(domain.Answer{PlayerID: "p2", Value: 2, SubmittedAt: time.UnixMilli(1)})
	}))
	assert.Equal(t, []string{"p2", "p1"}, answerIDs(d.Answers()), "answers are ordered by submission time")

	require.NoError(t, d.Transact("test", func(tx *doc.Txn) error {
		tx.ClearAnswers()
		return nil
	}))
	assert.Empty(t, d.Answers())

	require.NoError(t, d.Transact("test", func(tx *doc.Txn) error {
		return tx.PutAnswer(domain.Answer{PlayerID: "p1", Value: 7, SubmittedAt: time.UnixMilli(3)})
	}))
	answers := d.Answers()
	require.Len(t, answers, 1)
	assert.Equal(t, 7.0, answers[0].Value)
}

func TestDocument_Invariants(t *testing.T) {
	d := doc.New()

	require.NoError(t, d.Transact("test", func(tx *doc.Txn) error {
		if err := tx.InitGameState(domain.GameState{Pin: "1234", Phase: domain.PhaseWaiting, HostID: "p1", RoundNumber: 3}); err != nil {
			return err
		}
		return tx.PutPlayer(domain.Player{ID: "p1", Name: "Alice", Score: 2})
	}))

	tests := map[string]func(tx *doc.Txn) error{
		"pin cannot change": func(tx *doc.Txn) error {
			return tx.UpdateGameState(func(s *domain.GameState) { s.Pin = "9999" })
		},
		"host cannot change": func(tx *doc.Txn) error {
			return tx.UpdateGameState(func(s *domain.GameState) { s.HostID = "p2" })
		},
		"round number cannot decrease": func(tx *doc.Txn) error {
			return tx.UpdateGameState(func(s *domain.GameState) { s.RoundNumber = 2 })
		},
		"score cannot decrease": func(tx *doc.Txn) error {
			return tx.UpdatePlayer("p1", func(p *domain.Player) { p.Score = 1 })
		},
	}

	for name, fn := range tests {
		t.Run(name, func(t *testing.T) {
			err := d.Transact("test", fn)
			assert.ErrorIs(t, err, doc.ErrImmutable)
		})
	}

	err := d.Transact("test", func(tx *doc.Txn) error {
		return tx.UpdatePlayer("nobody", func(p *domain.Player) { p.Score++ })
	})
	assert.ErrorIs(t, err, domain.ErrPlayerNotFound)
}

func TestDocument_ObserverCanTransact(t *testing.T) {
	d := doc.New()

	var phases []domain.Phase
	d.Observe(func(c doc.Change) {
		s := d.GameState()
		phases = append(phases, s.Phase)
		if s.Phase == domain.PhaseSettings {
			err := d.Transact("observer", func(tx *doc.Txn) error {
				return tx.UpdateGameState(func(s *domain.GameState) { s.Phase = domain.PhaseQuestion })
			})
			assert.NoError(t, err)
		}
	})

	require.NoError(t, d.Transact("test", func(tx *doc.Txn) error {
		return tx.InitGameState(domain.GameState{Pin: "1234", Phase: domain.PhaseSettings, HostID: "p1"})
	}))

	assert.Equal(t, []domain.Phase{domain.PhaseSettings, domain.PhaseQuestion}, phases,
		"nested change is delivered after the first observer call returns")
	assert.Equal(t, domain.PhaseQuestion, d.GameState().Phase)
}

func TestDocument_DiffWithStateVector(t *testing.T) {
	a := doc.New(doc.WithReplica("a"))
	b := doc.New(doc.WithReplica("b"))

	require.NoError(t, a.Transact("a", func(tx *doc.Txn) error {
		return tx.InitGameState(domain.GameState{Pin: "1234", Phase: domain.PhaseWaiting, HostID: "p1"})
	}))
	exchange(t, a, b)

	assert.Empty(t, a.Diff(b.StateVector()).Ops, "b holds everything a has")
	assert.Empty(t, b.Diff(a.StateVector()).Ops, "a holds everything b has")

	require.NoError(t, a.Transact("a", func(tx *doc.Txn) error {
		return tx.UpdateGameState(func(s *domain.GameState) { s.Phase = domain.PhaseSettings })
	}))

	diff := a.Diff(b.StateVector())
	require.Len(t, diff.Ops, 1)
	assert.Equal(t, "phase", diff.Ops[0].Field)
}

func TestDocument_MalformedRemoteRecordIsIgnored(t *testing.T) {
	d := doc.New()

	u := doc.Update{Ops: []doc.Op{
		{Map: doc.MapPlayers, Key: "p1", Field: "$present", Value: json.RawMessage(`true`), Clock: doc.Clock{Counter: 1, Replica: "x"}},
		{Map: doc.MapPlayers, Key: "p1", Field: "id", Value: json.RawMessage(`"p1"`), Clock: doc.Clock{Counter: 1, Replica: "x"}},
		{Map: doc.MapPlayers, Key: "p1", Field: "score", Value: json.RawMessage(`"lots"`), Clock: doc.Clock{Counter: 1, Replica: "x"}},
	}}
	require.NoError(t, d.Apply(u, "remote"))

	_, ok := d.Player("p1")
	assert.False(t, ok)
	assert.Empty(t, d.Players())

	err := d.Apply(doc.Update{Ops: []doc.Op{{Map: "bogus"}}}, "remote")
	assert.Error(t, err)
}

func TestDocument_UpdateCodec(t *testing.T) {
	d := doc.New()
	require.NoError(t, d.Transact("test", func(tx *doc.Txn) error {
		return tx.InitGameState(domain.GameState{Pin: "1234", Phase: domain.PhaseWaiting, HostID: "p1"})
	}))

	b, err := d.Diff(nil).Encode()
	require.NoError(t, err)

	u, err := doc.DecodeUpdate(b)
	require.NoError(t, err)

	other := doc.New()
	require.NoError(t, other.Apply(u, "test"))
	assert.Equal(t, d.GameState(), other.GameState())
	assert.Equal(t, d.StateVector(), other.StateVector())

	_, err = doc.DecodeUpdate([]byte(`{"ops":[{"m":"nope"}]}`))
	assert.Error(t, err)
}

func TestDocument_Destroy(t *testing.T) {
	d := doc.New()
	d.Destroy()

	assert.True(t, d.Closed())
	assert.ErrorIs(t, d.Transact("test", func(tx *doc.Txn) error { return nil }), domain.ErrDocumentClosed)
	assert.ErrorIs(t, d.Apply(doc.Update{}, "test"), domain.ErrDocumentClosed)
}

func exchange(t *testing.T, a, b *doc.Document) {
	t.Helper()
	require.NoError(t, b.Apply(a.Diff(b.StateVector()), "sync"))
	require.NoError(t, a.Apply(b.Diff(a.StateVector()), "sync"))
}

func playerIDs(ps []domain.Player) []string {
	ids := make([]string, 0, len(ps))
	for _, p := range ps {
		ids = append(ids, p.ID)
	}
	return ids
}

func answerIDs(as []domain.Answer) []string {
	ids := make([]string, 0, len(as))
	for _, a := range as {
		ids = append(ids, a.PlayerID)
	}
	return ids
}
