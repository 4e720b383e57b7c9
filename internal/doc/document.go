// Package doc implements the replicated game document: three maps of
// last-writer-wins registers (game state, players, answers) that merge
// deterministically on every replica without a central arbiter.
//
// Every record field is its own register, so concurrent writes to different
// fields all survive, and concurrent writes to the same field converge to the
// write with the highest Clock.
package doc

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/guhur/plus-proche/internal/domain"
)

type register struct {
	value json.RawMessage
	clock Clock
}

// entry holds the registers of one record, keyed by field name.
type entry map[string]register

// Change is delivered to observers after a transaction or a remote update
// changed the document. Update only holds the writes that won.
type Change struct {
	Origin any
	Local  bool
	Update Update
}

// Touches reports whether the change wrote into map m.
func (c Change) Touches(m MapName) bool {
	for _, op := range c.Update.Ops {
		if op.Map == m {
			return true
		}
	}
	return false
}

type Observer func(Change)

// Snapshot is a consistent typed read of the whole document.
type Snapshot struct {
	State   domain.GameState
	Players []domain.Player
	Answers []domain.Answer
}

type Option func(*Document)

// WithReplica sets the replica identifier used to stamp local writes.
func WithReplica(id string) Option {
	return func(d *Document) {
		d.replica = id
	}
}

// Document is one replica of a game document. It is safe for concurrent use.
type Document struct {
	replica string

	mu     sync.Mutex
	clock  uint64
	sv     StateVector
	maps   map[MapName]map[string]entry
	closed bool

	observers map[int]Observer
	nextObs   int
	pending   []Change
	notifying bool
}

func New(opts ...Option) *Document {
	d := &Document{
		replica: uuid.NewString(),
		sv:      make(StateVector),
		maps: map[MapName]map[string]entry{
			MapGameState: {},
			MapPlayers:   {},
			MapAnswers:   {},
		},
		observers: make(map[int]Observer),
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

func (d *Document) Replica() string {
	return d.replica
}

// Observe registers o for every future change and returns a function removing it.
// Observers run outside the document lock, in the order changes were committed,
// and may start new transactions.
func (d *Document) Observe(o Observer) func() {
	d.mu.Lock()
	defer d.mu.Unlock()

	id := d.nextObs
	d.nextObs++
	d.observers[id] = o

	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		delete(d.observers, id)
	}
}

// Transact runs fn and commits all of its writes as one update. Nothing is
// committed when fn returns an error. fn must only use tx to access the document.
func (d *Document) Transact(origin any, fn func(tx *Txn) error) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return domain.ErrDocumentClosed
	}

	tx := &Txn{d: d}
	if err := fn(tx); err != nil {
		d.mu.Unlock()
		return err
	}

	if len(tx.order) == 0 {
		d.mu.Unlock()
		return nil
	}

	d.clock++
	c := Clock{Counter: d.clock, Replica: d.replica}

	u := Update{Ops: make([]Op, 0, len(tx.order))}
	for _, k := range tx.order {
		op := Op{Map: k.m, Key: k.key, Field: k.field, Value: tx.writes[k], Clock: c}
		d.set(op)
		u.Ops = append(u.Ops, op)
	}
	d.sv[d.replica] = d.clock

	d.pending = append(d.pending, Change{Origin: origin, Local: true, Update: u})
	d.mu.Unlock()

	d.flush()
	return nil
}

// Apply merges an update produced by another replica. Applying the same update
// twice, or updates in any order, yields the same state.
func (d *Document) Apply(u Update, origin any) error {
	if err := u.Validate(); err != nil {
		return fmt.Errorf("doc: apply: %w", err)
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return domain.ErrDocumentClosed
	}

	var won Update
	for _, op := range u.Ops {
		if op.Clock.Counter > d.clock {
			d.clock = op.Clock.Counter
		}
		if d.set(op) {
			won.Ops = append(won.Ops, op)
		}
	}
	d.sv.merge(u.StateVector)

	if len(won.Ops) > 0 {
		d.pending = append(d.pending, Change{Origin: origin, Update: won})
	}
	d.mu.Unlock()

	d.flush()
	return nil
}

// StateVector returns what this replica is known to hold.
func (d *Document) StateVector() StateVector {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sv.clone()
}

// Diff returns the writes a replica with state vector remote may be missing,
// along with this replica's state vector. A nil remote yields the full state.
func (d *Document) Diff(remote StateVector) Update {
	d.mu.Lock()
	defer d.mu.Unlock()

	u := Update{StateVector: d.sv.clone()}
	for m, entries := range d.maps {
		for key, e := range entries {
			for field, r := range e {
				if remote != nil && r.clock.Counter <= remote[r.clock.Replica] {
					continue
				}
				u.Ops = append(u.Ops, Op{Map: m, Key: key, Field: field, Value: r.value, Clock: r.clock})
			}
		}
	}

	sort.Slice(u.Ops, func(i, j int) bool {
		a, b := u.Ops[i], u.Ops[j]
		if a.Clock != b.Clock {
			return b.Clock.After(a.Clock)
		}
		if a.Map != b.Map {
			return a.Map < b.Map
		}
		if a.Key != b.Key {
			return a.Key < b.Key
		}
		return a.Field < b.Field
	})

	return u
}

func (d *Document) GameState() domain.GameState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return readGameState(d)
}

// Players returns the present players ordered by join time.
func (d *Document) Players() []domain.Player {
	d.mu.Lock()
	defer d.mu.Unlock()
	return readPlayers(d)
}

func (d *Document) Player(id string) (domain.Player, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return readPlayer(d, id)
}

// Answers returns the answers of the current round ordered by submission time.
func (d *Document) Answers() []domain.Answer {
	d.mu.Lock()
	defer d.mu.Unlock()
	return readAnswers(d)
}

func (d *Document) Snapshot() Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()

	return Snapshot{
		State:   readGameState(d),
		Players: readPlayers(d),
		Answers: readAnswers(d),
	}
}

// Destroy releases the document. Later transactions and updates fail with
// domain.ErrDocumentClosed and observers are dropped.
func (d *Document) Destroy() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.closed = true
	d.observers = make(map[int]Observer)
	d.pending = nil
}

func (d *Document) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// set writes op into its register when it wins. Callers hold d.mu.
func (d *Document) set(op Op) bool {
	entries := d.maps[op.Map]
	e, ok := entries[op.Key]
	if !ok {
		e = make(entry)
		entries[op.Key] = e
	}

	if cur, ok := e[op.Field]; ok && !op.Clock.After(cur.clock) {
		return false
	}

	e[op.Field] = register{value: op.Value, clock: op.Clock}
	return true
}

func (d *Document) fields(m MapName, key string) map[string]json.RawMessage {
	e := d.maps[m][key]
	f := make(map[string]json.RawMessage, len(e))
	for name, r := range e {
		f[name] = r.value
	}
	return f
}

func (d *Document) keys(m MapName) []string {
	keys := make([]string, 0, len(d.maps[m]))
	for k := range d.maps[m] {
		keys = append(keys, k)
	}
	return keys
}

// flush delivers pending changes. Only one goroutine delivers at a time, so
// changes committed from inside an observer are delivered after it returns.
func (d *Document) flush() {
	d.mu.Lock()
	if d.notifying {
		d.mu.Unlock()
		return
	}
	d.notifying = true

	for len(d.pending) > 0 {
		c := d.pending[0]
		d.pending = d.pending[1:]

		ids := make([]int, 0, len(d.observers))
		for id := range d.observers {
			ids = append(ids, id)
		}
		sort.Ints(ids)

		obs := make([]Observer, 0, len(ids))
		for _, id := range ids {
			obs = append(obs, d.observers[id])
		}

		d.mu.Unlock()
		for _, o := range obs {
			notify(o, c)
		}
		d.mu.Lock()
	}

	d.notifying = false
	d.mu.Unlock()
}

func notify(o Observer, c Change) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("doc: observer panic",
				"error", fmt.Errorf("%v, stack: %s", r, debug.Stack()),
			)
		}
	}()

	o(c)
}
