package recipes

import (
	"fmt"
	"strings"
)

// FieldError names one offending field and what is wrong with it.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError carries every violation found in the payload at once, so
// the caller can fix them in a single round trip. Never partially applied.
type ValidationError struct {
	Fields []FieldError `json:"fields"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.Field + ": " + f.Message
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) add(field, message string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: message})
}

// ConflictError is a decision point, not a failure: a same-title recipe
// already exists for this user and the caller asked for a plain create.
type ConflictError struct {
	ExistingID int      `json:"existing_id"`
	Options    []Action `json:"options"`
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("a recipe with this title already exists (id %d)", e.ExistingID)
}

// ReferenceError reports a submitted value that does not resolve to an
// existing reference entity (recipe type, unit).
type ReferenceError struct {
	Entity string `json:"entity"`
	Value  string `json:"value"`
}

func (e *ReferenceError) Error() string {
	return fmt.Sprintf("unknown %s %q", e.Entity, e.Value)
}
