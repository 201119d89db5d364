package models

import (
	"strings"

	"github.com/mmdatafocus/finreport_backend/utils"
)

// DimensionKey identifies one tracked line inside a statement family:
// segment attribute, customer/project attribute, statement field.
//
// As a prefix, an empty component is a wildcard and every component after it
// must be empty too.
type DimensionKey struct {
	Segment  string `json:"segment"`
	Customer string `json:"customer"`
	Field    string `json:"field"`
}

func (k DimensionKey) components() [3]string {
	return [3]string{k.Segment, k.Customer, k.Field}
}

func (k DimensionKey) String() string {
	return k.Segment + "/" + k.Customer + "/" + k.Field
}

// IsComplete reports whether every component is set.
func (k DimensionKey) IsComplete() bool {
	return k.Segment != "" && k.Customer != "" && k.Field != ""
}

// ValidatePrefix rejects keys with a set component after an empty one.
func (k DimensionKey) ValidatePrefix() error {
	gap := false
	for _, c := range k.components() {
		if strings.TrimSpace(c) != c {
			return utils.NewValidationError("dimension", "%q has surrounding whitespace", c)
		}
		if c == "" {
			gap = true
			continue
		}
		if gap {
			return utils.NewValidationError("dimension", "malformed key %s: component set after a wildcard", k.String())
		}
	}
	return nil
}

// ValidateComplete requires all three components.
func (k DimensionKey) ValidateComplete() error {
	if err := k.ValidatePrefix(); err != nil {
		return err
	}
	if !k.IsComplete() {
		return utils.NewValidationError("dimension", "incomplete key %s", k.String())
	}
	return nil
}

// Matches reports whether other falls under the prefix k.
func (k DimensionKey) Matches(other DimensionKey) bool {
	a, b := k.components(), other.components()
	for i := range a {
		if a[i] == "" {
			return true
		}
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// WithField returns the key for another field of the same line.
func (k DimensionKey) WithField(field string) DimensionKey {
	k.Field = field
	return k
}

// Line drops the field, leaving the segment/customer prefix.
func (k DimensionKey) Line() DimensionKey {
	k.Field = ""
	return k
}
