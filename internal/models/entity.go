// Package models defines the domain types for casefile.
package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// EntityType identifies a remote collection.
type EntityType string

const (
	EntityToken     EntityType = "token"
	EntityCharacter EntityType = "character"
	EntityTimeline  EntityType = "timeline"
	EntityPhoto     EntityType = "photo"
)

// EntityTypes lists every known collection in a stable order.
var EntityTypes = []EntityType{EntityToken, EntityCharacter, EntityTimeline, EntityPhoto}

// ParseEntityType validates s as a known entity type.
func ParseEntityType(s string) (EntityType, error) {
	for _, t := range EntityTypes {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown entity type %q", s)
}

// Entity is a cached unit of remote data.
type Entity struct {
	RemoteID     string          `json:"remote_id"`
	Type         EntityType      `json:"entity_type"`
	LastModified time.Time       `json:"last_modified"`
	Payload      json.RawMessage `json:"payload"`
	FetchedAt    time.Time       `json:"fetched_at"`
}

// Decode unmarshals the payload into v.
func (e Entity) Decode(v any) error {
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("models: decode %s %s: %w", e.Type, e.RemoteID, err)
	}
	return nil
}

// EntityStamp is the id and last-modified time of an entity, without payload.
type EntityStamp struct {
	ID           string    `json:"id"`
	LastModified time.Time `json:"last_modified"`
}
