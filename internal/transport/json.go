package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/codefionn/transports/internal/model"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// JSONTransport speaks JSON text envelopes on the wire and delegates routing
// to the embedded Transport.
type JSONTransport struct {
	*Transport
}

// NewJSON returns a JSONTransport over a fresh routing context.
func NewJSON() *JSONTransport {
	return &JSONTransport{Transport: New()}
}

type envelope struct {
	ID          string          `json:"id"`
	Created     time.Time       `json:"created"`
	ModelTarget string          `json:"model_target"`
	Model       json.RawMessage `json:"model"`
}

// Decode turns a wire envelope into an Update holding a live model. It is
// shared by the handshake and the steady-state inbound path so both apply
// the same validation.
func (t *JSONTransport) Decode(data []byte) (*model.Update, error) {
	if !gjson.ValidBytes(data) {
		return nil, &FormatError{Err: errors.New("invalid JSON")}
	}
	doc := gjson.ParseBytes(data)
	if !doc.IsObject() {
		return nil, &FormatError{Err: errors.New("update is not a JSON object")}
	}

	typeField := doc.Get("model_type")
	if !typeField.Exists() {
		return nil, &FormatError{Field: "model_type"}
	}
	if !doc.Get("model_target").Exists() {
		return nil, &FormatError{Field: "model_target"}
	}

	typeName := typeField.String()
	mt, ok := t.Lookup(typeName)
	if !ok {
		return nil, &UnknownTypeError{Name: typeName}
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, &FormatError{Err: err}
	}

	m, err := mt.New(env.Model)
	if err != nil {
		return nil, err
	}

	u := &model.Update{
		ID:          env.ID,
		Created:     env.Created,
		ModelType:   typeName,
		ModelTarget: env.ModelTarget,
		Model:       m,
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.Created.IsZero() {
		u.Created = time.Now().UTC()
	}
	return u, nil
}

// Encode renders update as a wire envelope. model_type always reflects the
// carried model's type.
func (t *JSONTransport) Encode(update *model.Update) ([]byte, error) {
	if update == nil || update.Model == nil {
		return nil, &FormatError{Field: "model"}
	}

	data, err := json.Marshal(update)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal update: %w", err)
	}

	data, err = sjson.SetBytes(data, "model_type", update.Model.TypeName())
	if err != nil {
		return nil, fmt.Errorf("failed to set model_type: %w", err)
	}
	if update.ModelTarget == "" {
		data, err = sjson.SetBytes(data, "model_target", update.Model.ID())
		if err != nil {
			return nil, fmt.Errorf("failed to set model_target: %w", err)
		}
	}
	return data, nil
}

// OnInitial decodes the initial envelope and binds its model.
func (t *JSONTransport) OnInitial(ctx context.Context, data []byte) (model.Model, error) {
	update, err := t.Decode(data)
	if err != nil {
		return nil, err
	}
	return t.Transport.OnInitial(ctx, update)
}

// Send returns the next outbound update of clientID's model as JSON.
func (t *JSONTransport) Send(ctx context.Context, clientID string) ([]byte, error) {
	update, err := t.Transport.Send(ctx, clientID)
	if err != nil {
		return nil, err
	}
	return t.Encode(update)
}

// Receive decodes data and routes it to clientID's model.
func (t *JSONTransport) Receive(ctx context.Context, clientID string, data []byte) error {
	update, err := t.Decode(data)
	if err != nil {
		return err
	}
	return t.Transport.Receive(ctx, clientID, update)
}

// Initial returns the initial envelope for clientID as JSON.
func (t *JSONTransport) Initial(clientID string) ([]byte, error) {
	update, err := t.Transport.Initial(clientID)
	if err != nil {
		return nil, err
	}
	return t.Encode(update)
}
