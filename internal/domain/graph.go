package domain

import "time"

// Entity is a bi-temporal knowledge-graph node. Updates never mutate an
// existing row; they append a new version with a fresh IngestionTime,
// so history survives every update.
type Entity struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	EntityType    string         `json:"entity_type"`
	Properties    map[string]any `json:"properties"`
	EventTime     time.Time      `json:"event_time"`
	IngestionTime time.Time      `json:"ingestion_time"`
}

// Relationship is a bi-temporal edge between two entities.
type Relationship struct {
	ID               string         `json:"id"`
	FromEntity       string         `json:"from_entity"`
	ToEntity         string         `json:"to_entity"`
	RelationshipType string         `json:"relationship_type"`
	Properties       map[string]any `json:"properties"`
	EventTime        time.Time      `json:"event_time"`
	IngestionTime    time.Time      `json:"ingestion_time"`
}

// TemporalQuery filters entities by type, event-time range, ingestion-time
// range, and property predicates.
type TemporalQuery struct {
	EntityType       string
	EventTimeFrom    time.Time
	EventTimeTo      time.Time
	IngestionFrom    time.Time
	IngestionTo      time.Time
	PropertyEquals   map[string]any
}

// Matches reports whether e satisfies q. Zero-value time bounds are
// treated as unbounded.
func (q TemporalQuery) Matches(e Entity) bool {
	if q.EntityType != "" && e.EntityType != q.EntityType {
		return false
	}
	if !q.EventTimeFrom.IsZero() && e.EventTime.Before(q.EventTimeFrom) {
		return false
	}
	if !q.EventTimeTo.IsZero() && e.EventTime.After(q.EventTimeTo) {
		return false
	}
	if !q.IngestionFrom.IsZero() && e.IngestionTime.Before(q.IngestionFrom) {
		return false
	}
	if !q.IngestionTo.IsZero() && e.IngestionTime.After(q.IngestionTo) {
		return false
	}
	for k, v := range q.PropertyEquals {
		if e.Properties[k] != v {
			return false
		}
	}
	return true
}
