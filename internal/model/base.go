package model

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// DefaultQueueSize is the capacity of a Base's outbound queue.
const DefaultQueueSize = 64

// ErrQueueFull is returned by Base.Send when the outbound queue is full.
var ErrQueueFull = errors.New("outbound queue is full")

// Base carries the identity and bookkeeping fields shared by application
// models. Embed it and implement TypeName and Receive.
type Base struct {
	ModelID  string    `json:"id"`
	Name     string    `json:"name"`
	Label    string    `json:"label"`
	Created  time.Time `json:"created"`
	Modified time.Time `json:"modified"`

	state *baseState
}

type baseState struct {
	frozen atomic.Bool
	out    chan *Update
}

// stateMu guards lazy creation of baseState for values that skipped NewBase.
var stateMu sync.Mutex

// NewBase returns a Base with a fresh id and timestamps.
func NewBase() Base {
	b := Base{}
	b.ApplyDefaults()
	return b
}

// ApplyDefaults fills in any identity fields left empty by decoding.
func (b *Base) ApplyDefaults() {
	if b.ModelID == "" {
		b.ModelID = uuid.NewString()
	}
	if b.Name == "" {
		b.Name = b.ModelID
	}
	if b.Created.IsZero() {
		b.Created = time.Now().UTC()
	}
	if b.Modified.IsZero() {
		b.Modified = b.Created
	}
	b.st()
}

func (b *Base) st() *baseState {
	stateMu.Lock()
	defer stateMu.Unlock()
	if b.state == nil {
		b.state = &baseState{out: make(chan *Update, DefaultQueueSize)}
	}
	return b.state
}

// ID returns the model id.
func (b *Base) ID() string {
	return b.ModelID
}

// Touch bumps the modified timestamp. Call it under the lock that guards
// the embedding model's other fields.
func (b *Base) Touch() {
	b.Modified = time.Now().UTC()
}

// Freeze makes the model read-only. There is no way back.
func (b *Base) Freeze() {
	b.st().frozen.Store(true)
}

// Frozen reports whether Freeze was called.
func (b *Base) Frozen() bool {
	return b.st().frozen.Load()
}

// CheckMutable returns ErrFrozen for a frozen model.
func (b *Base) CheckMutable() error {
	if b.Frozen() {
		return ErrFrozen
	}
	return nil
}

// CopyBase returns a copy of the identity fields with its own queue. Unless
// clone is set the copy gets a new id and modified time.
func (b *Base) CopyBase(clone bool) Base {
	c := Base{
		ModelID:  b.ModelID,
		Name:     b.Name,
		Label:    b.Label,
		Created:  b.Created,
		Modified: b.Modified,
	}
	if !clone {
		c.ModelID = uuid.NewString()
		c.Modified = time.Now().UTC()
	}
	c.st()
	return c
}

// Send queues an outbound update without blocking.
func (b *Base) Send(update *Update) error {
	select {
	case b.st().out <- update:
		return nil
	default:
		return ErrQueueFull
	}
}

// SendContext queues an outbound update, waiting for room.
func (b *Base) SendContext(ctx context.Context, update *Update) error {
	select {
	case b.st().out <- update:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Update queues m as an outbound update addressed to target.
func (b *Base) Update(m Model, target string) error {
	return b.Send(NewUpdate(m, target))
}

// Get blocks until an outbound update is queued or ctx is done.
func (b *Base) Get(ctx context.Context) (*Update, error) {
	select {
	case u := <-b.st().out:
		return u, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// NotifyConnect is a no-op hook.
func (b *Base) NotifyConnect(string) {}

// NotifyDisconnect is a no-op hook.
func (b *Base) NotifyDisconnect(string) {}
