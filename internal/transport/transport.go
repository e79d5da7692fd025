// Package transport routes model updates between sessions and live model
// instances. Transport is the routing context: it owns the type registry and
// the session tables. JSONTransport decorates it with the JSON wire codec.
package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/codefionn/transports/internal/logger"
	"github.com/codefionn/transports/internal/model"
	"github.com/google/uuid"
)

// InitialClientID is the session key OnInitial binds the received model
// under. Client-side routing therefore supports one live model per
// Transport; use one Transport per client session.
const InitialClientID = ""

// HostOptions controls how a model is exposed to a client.
type HostOptions struct {
	// Shared exposes the same instance to every client. When false the
	// model is copied per client.
	Shared bool
	// ReadOnly copies and freezes the model and rejects inbound updates.
	ReadOnly bool
}

// Transport holds the type registry and the session/model tables.
type Transport struct {
	mu sync.RWMutex

	// client side
	modelMap     map[string]*model.Type // type name -> type
	typeOrder    []string
	serverModels map[string]model.Model // model id -> model

	// both sides
	models map[string]model.Model // client id -> model

	// server side
	clients  map[string]string // model id -> client id
	readonly map[string]bool   // client id -> read-only

	log *logger.Component
}

// New returns an empty routing context.
func New() *Transport {
	return &Transport{
		modelMap:     make(map[string]*model.Type),
		serverModels: make(map[string]model.Model),
		models:       make(map[string]model.Model),
		clients:      make(map[string]string),
		readonly:     make(map[string]bool),
		log:          logger.Named("transport"),
	}
}

// Hosts registers t and, depth-first, every type it declares as a submodel.
// Names already registered are skipped before recursing, so repeated and
// cyclic registrations terminate and the first registration wins.
func (t *Transport) Hosts(mt *model.Type) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.hostsLocked(mt)
}

func (t *Transport) hostsLocked(mt *model.Type) {
	if mt == nil {
		return
	}
	if _, ok := t.modelMap[mt.Name]; ok {
		return
	}

	t.log.Info("Registering type: %s", mt.Name)
	t.modelMap[mt.Name] = mt
	t.typeOrder = append(t.typeOrder, mt.Name)

	for _, sub := range mt.Submodels() {
		t.hostsLocked(sub)
	}
}

// Lookup returns the registered type for name.
func (t *Transport) Lookup(name string) (*model.Type, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	mt, ok := t.modelMap[name]
	return mt, ok
}

// Types returns registered type names in registration order.
func (t *Transport) Types() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]string(nil), t.typeOrder...)
}

// Connect is called once the underlying connection is live.
func (t *Transport) Connect(ctx context.Context) error {
	t.log.Debug("connection live")
	return nil
}

// Disconnect discards the server-model table for every session and drops the
// binding made by OnInitial.
func (t *Transport) Disconnect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.serverModels = make(map[string]model.Model)
	delete(t.models, InitialClientID)
	t.log.Debug("routing state reset")
	return nil
}

// OnInitial registers the model carried by the initial update and binds it
// under InitialClientID.
func (t *Transport) OnInitial(ctx context.Context, update *model.Update) (model.Model, error) {
	if update == nil || update.Model == nil {
		return nil, &FormatError{Field: "model"}
	}
	m := update.Model

	t.mu.Lock()
	t.serverModels[m.ID()] = m
	t.models[InitialClientID] = m
	t.mu.Unlock()

	t.log.Debug("initial model %s (%s) bound", m.ID(), m.TypeName())
	return m, nil
}

// ServerModel returns a model registered by OnInitial.
func (t *Transport) ServerModel(id string) (model.Model, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	m, ok := t.serverModels[id]
	return m, ok
}

// Bound returns the model bound for clientID.
func (t *Transport) Bound(clientID string) (model.Model, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	m, ok := t.models[clientID]
	return m, ok
}

func (t *Transport) bound(clientID string) (model.Model, error) {
	m, ok := t.Bound(clientID)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotBound, clientID)
	}
	return m, nil
}

// Send blocks until the model bound for clientID produces its next outbound
// update.
func (t *Transport) Send(ctx context.Context, clientID string) (*model.Update, error) {
	m, err := t.bound(clientID)
	if err != nil {
		return nil, err
	}
	return m.Get(ctx)
}

// Receive pushes update into the model bound for clientID.
func (t *Transport) Receive(ctx context.Context, clientID string, update *model.Update) error {
	m, err := t.bound(clientID)
	if err != nil {
		return err
	}

	t.mu.RLock()
	ro := t.readonly[clientID]
	t.mu.RUnlock()
	if ro {
		return fmt.Errorf("%w: %q", ErrReadOnly, clientID)
	}

	return m.Receive(ctx, update)
}

// OnConnect returns clientID, generating one when empty.
func (t *Transport) OnConnect(ctx context.Context, clientID string) (string, error) {
	if clientID == "" {
		clientID = uuid.NewString()
	}
	t.log.Debug("client connected: %s", clientID)
	return clientID, nil
}

// Host binds m to clientID. Unshared or read-only hosting works on a copy,
// which must be possible through model.Cloner; read-only copies are frozen.
func (t *Transport) Host(ctx context.Context, m model.Model, clientID string, opts HostOptions) error {
	if !opts.Shared || opts.ReadOnly {
		cloner, ok := m.(model.Cloner)
		if !ok {
			return fmt.Errorf("cannot host %s unshared or read-only: model does not implement Clone", m.TypeName())
		}
		m = cloner.Clone()
	}
	if opts.ReadOnly {
		freezer, ok := m.(model.Freezer)
		if !ok {
			return fmt.Errorf("cannot host %s read-only: model does not implement Freeze", m.TypeName())
		}
		freezer.Freeze()
	}

	t.mu.Lock()
	t.models[clientID] = m
	t.clients[m.ID()] = clientID
	t.readonly[clientID] = opts.ReadOnly
	t.mu.Unlock()

	m.NotifyConnect(clientID)
	t.log.Debug("hosting %s (%s) for %s shared=%v readonly=%v", m.ID(), m.TypeName(), clientID, opts.Shared, opts.ReadOnly)
	return nil
}

// ClientFor returns the client a hosted model id is bound to.
func (t *Transport) ClientFor(modelID string) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	c, ok := t.clients[modelID]
	return c, ok
}

// OnDisconnect drops clientID's server-side state. fallback is notified when
// nothing was bound.
func (t *Transport) OnDisconnect(ctx context.Context, fallback model.Model, clientID string) error {
	t.mu.Lock()
	m, ok := t.models[clientID]
	if ok {
		delete(t.models, clientID)
	} else {
		m = fallback
	}
	delete(t.readonly, clientID)
	if m != nil {
		delete(t.clients, m.ID())
	}
	t.mu.Unlock()

	if m != nil {
		m.NotifyDisconnect(clientID)
	}
	t.log.Debug("client disconnected: %s", clientID)
	return nil
}

// Initial wraps the model bound for clientID in the first update to send.
func (t *Transport) Initial(clientID string) (*model.Update, error) {
	m, err := t.bound(clientID)
	if err != nil {
		return nil, err
	}
	return model.NewUpdate(m, ""), nil
}
