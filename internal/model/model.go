// Package model defines the capability contract the transports route updates
// to, the type descriptors used to construct models from wire payloads, and
// the update envelope carried between peers.
package model

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrFrozen is returned when a frozen (read-only) model is asked to change.
var ErrFrozen = errors.New("model is frozen")

// Model is an application-defined state object.
//
// The transports never look inside a model: they construct it through its
// Type, bind it to a session, pull outbound updates with Get and push
// inbound updates with Receive.
//
// A model hosted as shared is bound to every session at once: Get, Receive
// and JSON encoding of the model may then run concurrently, so
// implementations must guard their state, including the embedded Base, and
// encode from a locked snapshot in MarshalJSON.
type Model interface {
	// ID is the stable identity used as the server-model table key.
	ID() string
	// TypeName is the registered wire name of the model's type.
	TypeName() string
	// Get blocks until the model has an outbound update.
	Get(ctx context.Context) (*Update, error)
	// Receive applies an inbound update.
	Receive(ctx context.Context, update *Update) error
	// NotifyConnect is called when a client starts observing the model.
	NotifyConnect(clientID string)
	// NotifyDisconnect is called when a client stops observing the model.
	NotifyDisconnect(clientID string)
}

// Cloner is implemented by models that can be copied for unshared or
// read-only hosting.
type Cloner interface {
	Clone() Model
}

// Freezer is implemented by models that can be made read-only.
type Freezer interface {
	Freeze()
}

type defaulter interface {
	ApplyDefaults()
}

// Constructor builds a model from the raw `model` payload of an envelope.
type Constructor func(payload json.RawMessage) (Model, error)

// Type describes a model type that can be hosted: its wire name, how to
// construct it, and which nested model types it carries.
type Type struct {
	Name string
	New  Constructor

	submodels func() []*Type
}

// Submodels returns the nested model types in declaration order.
func (t *Type) Submodels() []*Type {
	if t == nil || t.submodels == nil {
		return nil
	}
	return t.submodels()
}

// NewType builds a Type whose constructor decodes the payload into a fresh
// value from newFn. submodels may be nil and may refer back to the type
// being declared.
func NewType[M Model](name string, newFn func() M, submodels func() []*Type) *Type {
	return &Type{
		Name:      name,
		submodels: submodels,
		New: func(payload json.RawMessage) (Model, error) {
			m := newFn()
			if len(payload) > 0 && string(payload) != "null" {
				if err := json.Unmarshal(payload, m); err != nil {
					return nil, fmt.Errorf("failed to construct %s: %w", name, err)
				}
			}
			if d, ok := any(m).(defaulter); ok {
				d.ApplyDefaults()
			}
			return m, nil
		},
	}
}
