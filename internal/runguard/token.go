// Package runguard enforces stack, allocation, iteration and time budgets
// on instrumented code at run time, and binds guards to rewritten modules
// through tokens.
package runguard

import (
	"fmt"

	"github.com/google/uuid"
)

// Token identifies one rewrite. It is embedded in the instrumented module
// and resolved to a live guard when the module runs.
type Token struct {
	id uuid.UUID
}

// NewToken returns a fresh random token.
func NewToken() Token {
	return Token{id: uuid.New()}
}

// ParseToken parses the canonical string form of a token.
func ParseToken(s string) (Token, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return Token{}, fmt.Errorf("parse token %q: %w", s, err)
	}
	return Token{id: id}, nil
}

// String returns the canonical string form.
func (t Token) String() string { return t.id.String() }

// IsZero reports whether t is the zero token.
func (t Token) IsZero() bool { return t.id == uuid.Nil }
