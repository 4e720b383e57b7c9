package doc

import (
	"encoding/json"
	"fmt"
)

// MapName names one of the three sub-maps of the game document.
type MapName string

const (
	MapGameState MapName = "gameState"
	MapPlayers   MapName = "players"
	MapAnswers   MapName = "answers"
)

func (m MapName) valid() bool {
	return m == MapGameState || m == MapPlayers || m == MapAnswers
}

// Clock orders writes to the same register. Counter is a Lamport counter and
// Replica breaks ties, so every replica picks the same winner.
type Clock struct {
	Counter uint64 `json:"c"`
	Replica string `json:"r"`
}

// After reports whether c wins over o.
func (c Clock) After(o Clock) bool {
	if c.Counter != o.Counter {
		return c.Counter > o.Counter
	}
	return c.Replica > o.Replica
}

// StateVector records, per replica, the highest counter whose writes (or newer
// writes to the same registers) a document is known to hold.
type StateVector map[string]uint64

func (sv StateVector) clone() StateVector {
	c := make(StateVector, len(sv))
	for r, n := range sv {
		c[r] = n
	}
	return c
}

func (sv StateVector) merge(o StateVector) {
	for r, n := range o {
		if n > sv[r] {
			sv[r] = n
		}
	}
}

// Op is a single register write.
type Op struct {
	Map   MapName         `json:"m"`
	Key   string          `json:"k,omitempty"`
	Field string          `json:"f"`
	Value json.RawMessage `json:"v"`
	Clock Clock           `json:"t"`
}

// Update is a set of register writes merged as one unit. A StateVector is only
// attached to full-state updates, where it is sound for the receiver to adopt it.
type Update struct {
	Ops         []Op        `json:"ops"`
	StateVector StateVector `json:"sv,omitempty"`
}

func (u Update) Empty() bool {
	return len(u.Ops) == 0 && len(u.StateVector) == 0
}

func (u Update) Encode() ([]byte, error) {
	b, err := json.Marshal(u)
	if err != nil {
		return nil, fmt.Errorf("doc: encode update: %w", err)
	}
	return b, nil
}

func DecodeUpdate(b []byte) (Update, error) {
	var u Update
	if err := json.Unmarshal(b, &u); err != nil {
		return Update{}, fmt.Errorf("doc: decode update: %w", err)
	}

	if err := u.Validate(); err != nil {
		return Update{}, fmt.Errorf("doc: decode update: %w", err)
	}

	return u, nil
}

// Validate checks that every op targets a known map and carries a value.
func (u Update) Validate() error {
	for _, op := range u.Ops {
		if !op.Map.valid() {
			return fmt.Errorf("unknown map %q", op.Map)
		}
		if op.Field == "" || len(op.Value) == 0 {
			return fmt.Errorf("empty op on %s/%s", op.Map, op.Key)
		}
	}
	return nil
}
