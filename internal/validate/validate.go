// Package validate defines the optional application-supplied predicate a
// node consults before accepting a STORE.
package validate

import (
	"context"

	"github.com/kadhash/dht/internal/idkey"
)

// Validator decides whether a (key, value) pair is acceptable. When a node
// is constructed without one, every write is accepted unconditionally.
type Validator interface {
	Validate(ctx context.Context, key idkey.ID, value string) (bool, error)
}

// Func adapts a plain function to the Validator interface.
type Func func(ctx context.Context, key idkey.ID, value string) (bool, error)

func (f Func) Validate(ctx context.Context, key idkey.ID, value string) (bool, error) {
	return f(ctx, key, value)
}

// AcceptAll is the implicit validator used when none is configured.
var AcceptAll Validator = Func(func(ctx context.Context, key idkey.ID, value string) (bool, error) {
	return true, nil
})
