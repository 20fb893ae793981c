package event

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const (
	// ChangesTopic prefixes every row change subject and routing key.
	ChangesTopic = "tableorder.changes"

	EventRowInserted = "row.inserted"
	EventRowUpdated  = "row.updated"
	EventRowDeleted  = "row.deleted"
)

// ChangeEvent is a row change published by the storing instance and
// consumed by every instance serving live views.
type ChangeEvent struct {
	EventType  string         `json:"event_type"`
	OccurredAt time.Time      `json:"occurred_at"`
	Collection string         `json:"collection"`
	Kind       string         `json:"kind"`
	Record     map[string]any `json:"record"`
	Source     string         `json:"source,omitempty"`
}

// EventType maps a change kind to its event type name.
func EventType(kind string) string {
	switch kind {
	case "insert":
		return EventRowInserted
	case "delete":
		return EventRowDeleted
	default:
		return EventRowUpdated
	}
}

// Subject returns the topic a change is published on, for example
// tableorder.changes.orders.update.
func Subject(collection, kind string) string {
	return fmt.Sprintf("%s.%s.%s", ChangesTopic, collection, kind)
}

// ParseSubject is the inverse of Subject.
func ParseSubject(subject string) (collection, kind string, ok bool) {
	rest, found := strings.CutPrefix(subject, ChangesTopic+".")
	if !found {
		return "", "", false
	}
	collection, kind, found = strings.Cut(rest, ".")
	if !found || collection == "" || kind == "" || strings.Contains(kind, ".") {
		return "", "", false
	}
	return collection, kind, true
}

func (e ChangeEvent) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

func UnmarshalChange(data []byte) (ChangeEvent, error) {
	var e ChangeEvent
	if err := json.Unmarshal(data, &e); err != nil {
		return ChangeEvent{}, fmt.Errorf("cannot decode change event: %w", err)
	}
	if e.Collection == "" || e.Kind == "" || e.Record == nil {
		return ChangeEvent{}, fmt.Errorf("change event without collection, kind or record")
	}
	return e, nil
}
