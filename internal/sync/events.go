package sync

import (
	"time"

	"comicmap/pkg/models"
)

const TypeMappingCreated = "mapping.created"

// MappingEvent announces a newly persisted mapping.
type MappingEvent struct {
	Type string      `json:"type"`
	UUID string      `json:"uuid"`
	Slug string      `json:"slug"`
	Kind models.Kind `json:"kind"`
	At   time.Time   `json:"at"`
}

func NewMappingCreated(m models.Mapping) MappingEvent {
	return MappingEvent{
		Type: TypeMappingCreated,
		UUID: m.Identifier,
		Slug: m.Slug,
		Kind: m.Kind,
		At:   time.Now().UTC(),
	}
}
