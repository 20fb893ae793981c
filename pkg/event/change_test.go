package event

import (
	"testing"
	"time"
)

func TestSubjectRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		subject string
		wantCol string
		wantKnd string
		wantOK  bool
	}{
		{name: "valid", subject: Subject("orders", "update"), wantCol: "orders", wantKnd: "update", wantOK: true},
		{name: "foreignTopic", subject: "kitchen.tickets", wantOK: false},
		{name: "missingKind", subject: ChangesTopic + ".orders", wantOK: false},
		{name: "extraSegment", subject: ChangesTopic + ".orders.update.x", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			col, kind, ok := ParseSubject(tt.subject)
			if ok != tt.wantOK || col != tt.wantCol || kind != tt.wantKnd {
				t.Errorf("ParseSubject(%q) = %q, %q, %v", tt.subject, col, kind, ok)
			}
		})
	}
}

func TestUnmarshalChange(t *testing.T) {
	ev := ChangeEvent{
		EventType:  EventType("insert"),
		OccurredAt: time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
		Collection: "orders",
		Kind:       "insert",
		Record:     map[string]any{"id": "A", "status": "pending"},
	}
	data, err := ev.Marshal()
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	got, err := UnmarshalChange(data)
	if err != nil {
		t.Fatalf("UnmarshalChange() error = %v", err)
	}
	if got.EventType != EventRowInserted || got.Record["id"] != "A" {
		t.Errorf("UnmarshalChange() = %+v", got)
	}

	if _, err := UnmarshalChange([]byte(`{"collection":"orders"}`)); err == nil {
		t.Error("UnmarshalChange() accepted an event without record")
	}
}
