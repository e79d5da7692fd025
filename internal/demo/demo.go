// Package demo contains small models used by the CLI and the end-to-end
// tests: a Counter and a Board holding counters.
package demo

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/codefionn/transports/internal/model"
)

var (
	// CounterType is the registered type of Counter.
	CounterType = model.NewType("Counter", func() *Counter { return &Counter{} }, nil)

	// BoardType is the registered type of Board; it declares Counter as a
	// submodel.
	BoardType = model.NewType("Board", func() *Board { return &Board{} }, func() []*model.Type {
		return []*model.Type{CounterType}
	})
)

// Registrar is what Register needs from a routing layer.
type Registrar interface {
	Hosts(t *model.Type)
}

// Register hosts every demo type.
func Register(r Registrar) {
	r.Hosts(BoardType)
}

// Counter is a named integer.
type Counter struct {
	model.Base
	Value int `json:"value"`

	mu sync.RWMutex
}

type counterJSON struct {
	model.Base
	Value int `json:"value"`
}

// NewCounter returns a counter with a fresh identity.
func NewCounter(name string, value int) *Counter {
	c := &Counter{Base: model.NewBase(), Value: value}
	if name != "" {
		c.Name = name
	}
	return c
}

func (c *Counter) TypeName() string { return CounterType.Name }

// Receive takes the value from an incoming Counter.
func (c *Counter) Receive(ctx context.Context, update *model.Update) error {
	if err := c.CheckMutable(); err != nil {
		return err
	}
	in, ok := update.Model.(*Counter)
	if !ok {
		return fmt.Errorf("counter cannot apply %s", update.Model.TypeName())
	}
	value := in.Current()

	c.mu.Lock()
	c.Value = value
	c.Touch()
	c.mu.Unlock()
	return nil
}

// Current returns the value.
func (c *Counter) Current() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Value
}

// Clone returns an unshared copy with a new id.
func (c *Counter) Clone() model.Model {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return &Counter{Base: c.CopyBase(false), Value: c.Value}
}

// MarshalJSON encodes a consistent snapshot of the counter.
func (c *Counter) MarshalJSON() ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return json.Marshal(counterJSON{Base: c.Base, Value: c.Value})
}

// Board is a titled list of counters. It applies an incoming state only when
// it differs from the last one applied, so repeated identical updates are
// no-ops.
type Board struct {
	model.Base
	Title    string     `json:"title"`
	Counters []*Counter `json:"counters"`

	// mu guards every field above, Base included, once the board is shared.
	mu     sync.RWMutex
	digest uint64
	seen   []func(*Board)
}

type boardJSON struct {
	model.Base
	Title    string     `json:"title"`
	Counters []*Counter `json:"counters"`
}

// NewBoard returns a board with a fresh identity.
func NewBoard(title string, counters ...*Counter) *Board {
	return &Board{Base: model.NewBase(), Title: title, Counters: counters}
}

func (b *Board) TypeName() string { return BoardType.Name }

// ApplyDefaults fills identity fields of the board and its counters.
func (b *Board) ApplyDefaults() {
	b.Base.ApplyDefaults()
	for _, c := range b.Counters {
		if c != nil {
			c.ApplyDefaults()
		}
	}
}

// OnChange registers fn to run after each applied update.
func (b *Board) OnChange(fn func(*Board)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seen = append(b.seen, fn)
}

// Receive applies an incoming Board state.
func (b *Board) Receive(ctx context.Context, update *model.Update) error {
	if err := b.CheckMutable(); err != nil {
		return err
	}
	in, ok := update.Model.(*Board)
	if !ok {
		return fmt.Errorf("board cannot apply %s", update.Model.TypeName())
	}

	state, err := json.Marshal(struct {
		Title    string     `json:"title"`
		Counters []*Counter `json:"counters"`
	}{in.Title, in.Counters})
	if err != nil {
		return fmt.Errorf("failed to fingerprint board update: %w", err)
	}
	sum := xxhash.Sum64(state)

	b.mu.Lock()
	if sum == b.digest {
		b.mu.Unlock()
		return nil
	}
	b.digest = sum
	b.Title = in.Title
	b.Counters = copyCounters(in.Counters)
	b.Touch()
	hooks := append([]func(*Board){}, b.seen...)
	b.mu.Unlock()

	for _, fn := range hooks {
		fn(b)
	}
	return nil
}

// Snapshot returns the title and a copy of the counter values.
func (b *Board) Snapshot() (string, map[string]int) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	values := make(map[string]int, len(b.Counters))
	for _, c := range b.Counters {
		values[c.Name] = c.Value
	}
	return b.Title, values
}

// Increment adds delta to the named counter and queues the new state for
// the peer.
func (b *Board) Increment(name string, delta int) error {
	if err := b.CheckMutable(); err != nil {
		return err
	}

	b.mu.Lock()
	var found bool
	for _, c := range b.Counters {
		if c.Name == name {
			c.Value += delta
			found = true
		}
	}
	if !found {
		b.Counters = append(b.Counters, NewCounter(name, delta))
	}
	// the local state no longer matches the last applied update
	b.digest = 0
	b.Touch()
	snapshot := b.copyLocked(true)
	b.mu.Unlock()

	return b.Update(snapshot, "")
}

// Clone returns an unshared copy with a new id.
func (b *Board) Clone() model.Model {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.copyLocked(false)
}

// MarshalJSON encodes a consistent snapshot of the board.
func (b *Board) MarshalJSON() ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return json.Marshal(boardJSON{Base: b.Base, Title: b.Title, Counters: b.Counters})
}

func (b *Board) copyLocked(clone bool) *Board {
	return &Board{Base: b.CopyBase(clone), Title: b.Title, Counters: copyCounters(b.Counters)}
}

func copyCounters(in []*Counter) []*Counter {
	out := make([]*Counter, 0, len(in))
	for _, c := range in {
		if c == nil {
			continue
		}
		c.mu.RLock()
		out = append(out, &Counter{Base: c.CopyBase(true), Value: c.Value})
		c.mu.RUnlock()
	}
	return out
}
