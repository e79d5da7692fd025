package model

import (
	"time"

	"github.com/google/uuid"
)

// Update is the envelope carrying one model state change.
//
// On the wire `model` is the constructor-specific payload; once decoded it
// holds the live model instance.
type Update struct {
	ID          string    `json:"id"`
	Created     time.Time `json:"created"`
	ModelType   string    `json:"model_type"`
	ModelTarget string    `json:"model_target"`
	Model       Model     `json:"model"`
}

// NewUpdate wraps m in a fresh envelope. An empty target defaults to the
// model's own id.
func NewUpdate(m Model, target string) *Update {
	u := &Update{
		ID:          uuid.NewString(),
		Created:     time.Now().UTC(),
		ModelTarget: target,
		Model:       m,
	}
	if m != nil {
		u.ModelType = m.TypeName()
		if u.ModelTarget == "" {
			u.ModelTarget = m.ID()
		}
	}
	return u
}
