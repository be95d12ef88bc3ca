package models

import (
	"strings"
	"time"
)

// Kind is the category of a mapped resource.
type Kind string

const (
	KindSeries  Kind = "series"
	KindChapter Kind = "chapter"
)

// Kinds lists every accepted kind in display order.
var Kinds = []Kind{KindSeries, KindChapter}

// ParseKind normalizes s and reports whether it names a known kind.
func ParseKind(s string) (Kind, bool) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case KindSeries:
		return KindSeries, true
	case KindChapter:
		return KindChapter, true
	default:
		return "", false
	}
}

// Mapping binds a (slug, kind) pair to its opaque identifier.
// Identifier, Slug and Kind never change once persisted.
type Mapping struct {
	Identifier string    `json:"uuid"`
	Slug       string    `json:"slug"`
	Kind       Kind      `json:"type"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Ref returns the slug side of the mapping.
func (m Mapping) Ref() SlugRef {
	return SlugRef{Slug: m.Slug, Kind: m.Kind}
}

// SlugRef is what an identifier resolves back to.
type SlugRef struct {
	Slug string `json:"slug"`
	Kind Kind   `json:"type"`
}
