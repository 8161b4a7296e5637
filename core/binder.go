package core

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrEmptyPayload is returned by JSONBinder for messages without a body.
var ErrEmptyPayload = errors.New("empty payload")

// Binder decodes a message value into v.
type Binder interface {
	Bind(data []byte, v any) error
}

// BinderFunc adapts a plain function to the Binder interface.
type BinderFunc func(data []byte, v any) error

func (f BinderFunc) Bind(data []byte, v any) error { return f(data, v) }

// JSONBinder decodes JSON values. Empty values are rejected with
// ErrEmptyPayload rather than left as the zero value.
type JSONBinder struct{}

func (JSONBinder) Bind(data []byte, v any) error {
	if len(data) == 0 {
		return ErrEmptyPayload
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode json value: %w", err)
	}
	return nil
}
