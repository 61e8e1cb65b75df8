package models

import (
	"maps"
	"time"
)

// Record is a stored entity instance. Version increases by one on every
// successful write and backs optimistic concurrency.
type Record struct {
	Type      string
	ID        string
	Fields    map[string]any
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Clone returns a copy whose field map can be modified independently.
// Nested values are shared.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	c.Fields = maps.Clone(r.Fields)
	if c.Fields == nil {
		c.Fields = map[string]any{}
	}
	return &c
}

// Apply overlays change onto the record's fields in place.
func (r *Record) Apply(change map[string]any, now time.Time) {
	if r.Fields == nil {
		r.Fields = make(map[string]any, len(change))
	}
	for k, v := range change {
		r.Fields[k] = v
	}
	r.Version++
	r.UpdatedAt = now
}
