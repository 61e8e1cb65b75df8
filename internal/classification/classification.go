// Package classification maps (entity type, field) pairs to sensitivity tags.
//
// The registry is built once at startup from the policy file and is read-only
// afterwards, so it is shared across requests without locking. Unknown pairs
// classify as Public: classification fails open, access control never does.
package classification

import (
	"fmt"
	"strings"
)

// Classification is the sensitivity tag of a field.
type Classification int

const (
	Public Classification = iota
	Personal
	Sensitive
)

func (c Classification) String() string {
	switch c {
	case Personal:
		return "personal"
	case Sensitive:
		return "sensitive"
	default:
		return "public"
	}
}

// IsClassified is true for tags whose access must be audited.
func (c Classification) IsClassified() bool {
	return c == Personal || c == Sensitive
}

// Parse reads a classification name from configuration.
func Parse(s string) (Classification, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "public":
		return Public, nil
	case "personal":
		return Personal, nil
	case "sensitive":
		return Sensitive, nil
	default:
		return Public, fmt.Errorf("unknown classification %q", s)
	}
}

type fieldKey struct {
	entityType string
	field      string
}

// Registry is an immutable lookup table.
type Registry struct {
	tags map[fieldKey]Classification
}

// Builder accumulates tags before the registry is frozen.
type Builder struct {
	tags map[fieldKey]Classification
}

func NewBuilder() *Builder {
	return &Builder{tags: make(map[fieldKey]Classification)}
}

// Set tags a field. Public tags are not stored since they equal the default.
func (b *Builder) Set(entityType, field string, c Classification) *Builder {
	k := fieldKey{entityType: entityType, field: field}
	if c == Public {
		delete(b.tags, k)
		return b
	}
	b.tags[k] = c
	return b
}

// Build freezes the accumulated tags. The builder may keep being used; the
// returned registry does not observe later changes.
func (b *Builder) Build() *Registry {
	tags := make(map[fieldKey]Classification, len(b.tags))
	for k, v := range b.tags {
		tags[k] = v
	}
	return &Registry{tags: tags}
}

// Classify returns the tag for (entityType, field), defaulting to Public.
// A nil registry classifies everything as Public.
func (r *Registry) Classify(entityType, field string) Classification {
	if r == nil {
		return Public
	}
	return r.tags[fieldKey{entityType: entityType, field: field}]
}

// Partition splits field names by classification. Names keep their input order.
func (r *Registry) Partition(entityType string, fields []string) map[Classification][]string {
	out := make(map[Classification][]string, 3)
	for _, f := range fields {
		c := r.Classify(entityType, f)
		out[c] = append(out[c], f)
	}
	return out
}
