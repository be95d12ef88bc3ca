package mapping

import (
	"errors"

	"comicmap/pkg/models"
)

var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrDuplicate        = errors.New("mapping already exists")
)

// InputError carries a client-facing message and matches ErrInvalidInput.
type InputError struct {
	Msg string
}

func (e *InputError) Error() string { return e.Msg }
func (e *InputError) Unwrap() error { return ErrInvalidInput }

func invalid(msg string) error { return &InputError{Msg: msg} }

const (
	msgSlugAndType = "slug and type are required"
	msgBadType     = "type must be one of: series, chapter"
	msgIDRequired  = "id is required"
	msgSlugs       = "slugs must be a non-empty array of non-empty strings"
)

type Outcome string

const (
	OutcomeResolved Outcome = "resolved"
	OutcomeDegraded Outcome = "degraded"
	OutcomeInvalid  Outcome = "invalid"
	OutcomeNotFound Outcome = "not_found"
)

// Resolution is the answer to a slug lookup. A degraded answer carries the
// slug itself as Identifier.
type Resolution struct {
	Identifier string
	Outcome    Outcome
	Reason     string
}

// SlugResolution is the answer to an identifier lookup. A degraded answer
// echoes the identifier as the slug with kind series.
type SlugResolution struct {
	Ref     models.SlugRef
	Outcome Outcome
	Reason  string
}

type NotFoundPolicy string

const (
	PolicyNotFound NotFoundPolicy = "not_found"
	PolicyFallback NotFoundPolicy = "fallback"
)

type Health struct {
	Status    string `json:"status"`
	Database  string `json:"database"`
	CacheSize int    `json:"cache_size"`
	Timestamp string `json:"timestamp"`
}

type Page struct {
	Total  int              `json:"total"`
	Limit  int              `json:"limit"`
	Offset int              `json:"offset"`
	Items  []models.Mapping `json:"items"`
}

type Stats struct {
	Total     int                 `json:"total"`
	ByKind    map[models.Kind]int `json:"by_kind"`
	CacheSize int                 `json:"cache_size"`
	Database  string              `json:"database"`
}
