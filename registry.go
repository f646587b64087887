package choropleth

import (
	"errors"
	"fmt"
)

// DefaultAttributes are the decade population change columns of the
// Minnesota county table.
var DefaultAttributes = []string{
	"1970 - 1980",
	"1980 - 1990",
	"1990 - 2000",
	"2000 - 2010",
	"2010 - 2020",
}

var (
	// ErrEmptyRegistry is returned when a registry is built without attributes.
	ErrEmptyRegistry = errors.New("attribute registry is empty")

	// ErrUnknownAttribute is returned when an attribute is not in the registry.
	ErrUnknownAttribute = errors.New("unknown attribute")
)

// Registry is the ordered list of selectable attributes.
// It is immutable after construction and safe for concurrent use.
type Registry struct {
	attrs []string
	index map[string]int
}

// NewRegistry creates a registry from attribute names in display order.
// Names must be non-empty and unique.
func NewRegistry(attrs ...string) (*Registry, error) {
	if len(attrs) == 0 {
		return nil, ErrEmptyRegistry
	}
	r := &Registry{
		attrs: make([]string, 0, len(attrs)),
		index: make(map[string]int, len(attrs)),
	}
	for _, a := range attrs {
		if a == "" {
			return nil, fmt.Errorf("attribute %d: empty name", len(r.attrs))
		}
		if _, dup := r.index[a]; dup {
			return nil, fmt.Errorf("attribute %q: duplicate name", a)
		}
		r.index[a] = len(r.attrs)
		r.attrs = append(r.attrs, a)
	}
	return r, nil
}

// Attributes returns a copy of the attribute names in order.
func (r *Registry) Attributes() []string {
	out := make([]string, len(r.attrs))
	copy(out, r.attrs)
	return out
}

// Len returns the number of attributes.
func (r *Registry) Len() int { return len(r.attrs) }

// At returns the attribute at position i.
func (r *Registry) At(i int) string { return r.attrs[i] }

// Index returns the position of attr, or -1.
func (r *Registry) Index(attr string) int {
	if i, ok := r.index[attr]; ok {
		return i
	}
	return -1
}

// Contains reports whether attr is registered.
func (r *Registry) Contains(attr string) bool {
	_, ok := r.index[attr]
	return ok
}

// Step returns the attribute delta positions away from from, wrapping at
// both ends. Step(last, 1) is the first attribute and Step(first, -1) the last.
func (r *Registry) Step(from string, delta int) (string, error) {
	i, ok := r.index[from]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownAttribute, from)
	}
	n := len(r.attrs)
	j := ((i+delta)%n + n) % n
	return r.attrs[j], nil
}

// State is the explicit selection state handed to classification, ranking
// and rendering calls.
type State struct {
	Expressed string
}
