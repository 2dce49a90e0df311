package services

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ghuser/notifyhub/services/notification/domain/events"
	"github.com/ghuser/notifyhub/services/notification/domain/models"
)

type delivery struct {
	recipient string
	typ       models.EventType
}

func itemEvent(mutate func(*events.ItemEvent)) events.ItemEvent {
	e := events.ItemEvent{
		EventID:    uuid.MustParse("550e8400-e29b-41d4-a716-446655440001"),
		Version:    1,
		ItemID:     "42",
		Title:      "Write docs",
		CreatedBy:  "alice",
		Actor:      "alice",
		OccurredAt: time.Date(2025, 1, 15, 12, 0, 0, 500, time.UTC),
	}
	if mutate != nil {
		mutate(&e)
	}
	return e
}

func TestNotificationsFor(t *testing.T) {
	tests := []struct {
		name  string
		topic string
		evt   events.ItemEvent
		want  []delivery
	}{
		{
			name:  "created unassigned",
			topic: events.TopicItemCreated,
			evt:   itemEvent(nil),
			want:  []delivery{{"alice", models.EventItemCreated}},
		},
		{
			name:  "created for someone else",
			topic: events.TopicItemCreated,
			evt:   itemEvent(func(e *events.ItemEvent) { e.AssignedTo = "bob" }),
			want:  []delivery{{"alice", models.EventItemCreated}, {"bob", models.EventItemAssigned}},
		},
		{
			name:  "created for self",
			topic: events.TopicItemCreated,
			evt:   itemEvent(func(e *events.ItemEvent) { e.AssignedTo = "alice" }),
			want:  []delivery{{"alice", models.EventItemCreated}},
		},
		{
			name:  "updated by creator",
			topic: events.TopicItemUpdated,
			evt: itemEvent(func(e *events.ItemEvent) {
				e.AssignedTo, e.PreviousAssignee = "bob", "bob"
			}),
			want: nil,
		},
		{
			name:  "updated by assignee",
			topic: events.TopicItemUpdated,
			evt: itemEvent(func(e *events.ItemEvent) {
				e.AssignedTo, e.PreviousAssignee, e.Actor = "bob", "bob", "bob"
			}),
			want: []delivery{{"alice", models.EventItemUpdated}},
		},
		{
			name:  "status changed by creator",
			topic: events.TopicItemUpdated,
			evt: itemEvent(func(e *events.ItemEvent) {
				e.AssignedTo, e.PreviousAssignee, e.StatusChanged = "bob", "bob", true
			}),
			want: []delivery{{"bob", models.EventItemStatus}},
		},
		{
			name:  "reassigned by creator",
			topic: events.TopicItemUpdated,
			evt: itemEvent(func(e *events.ItemEvent) {
				e.AssignedTo, e.PreviousAssignee = "carol", "bob"
			}),
			want: []delivery{{"carol", models.EventItemReassigned}},
		},
		{
			name:  "reassigned by third party with status change",
			topic: events.TopicItemUpdated,
			evt: itemEvent(func(e *events.ItemEvent) {
				e.AssignedTo, e.PreviousAssignee, e.Actor, e.StatusChanged = "carol", "bob", "dave", true
			}),
			want: []delivery{
				{"alice", models.EventItemUpdated},
				{"bob", models.EventItemStatus},
				{"carol", models.EventItemReassigned},
			},
		},
		{
			name:  "reassigned to self",
			topic: events.TopicItemUpdated,
			evt: itemEvent(func(e *events.ItemEvent) {
				e.AssignedTo, e.PreviousAssignee, e.Actor = "carol", "bob", "carol"
			}),
			want: []delivery{{"alice", models.EventItemUpdated}},
		},
		{
			name:  "unassigned leaves nobody to reassign to",
			topic: events.TopicItemUpdated,
			evt: itemEvent(func(e *events.ItemEvent) {
				e.PreviousAssignee, e.Actor = "bob", "dave"
			}),
			want: []delivery{{"alice", models.EventItemUpdated}},
		},
		{
			name:  "creator is previous assignee gets one envelope",
			topic: events.TopicItemUpdated,
			evt: itemEvent(func(e *events.ItemEvent) {
				e.PreviousAssignee, e.AssignedTo, e.Actor, e.StatusChanged = "alice", "alice", "dave", true
			}),
			want: []delivery{{"alice", models.EventItemUpdated}},
		},
		{
			name:  "deleted with assignee",
			topic: events.TopicItemDeleted,
			evt:   itemEvent(func(e *events.ItemEvent) { e.AssignedTo = "bob" }),
			want:  []delivery{{"alice", models.EventItemDeleted}, {"bob", models.EventItemDeleted}},
		},
		{
			name:  "deleted own item",
			topic: events.TopicItemDeleted,
			evt:   itemEvent(func(e *events.ItemEvent) { e.AssignedTo = "alice" }),
			want:  []delivery{{"alice", models.EventItemDeleted}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NotificationsFor(tt.topic, tt.evt)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("expected %d envelopes, got %d: %+v", len(tt.want), len(got), got)
			}
			for i, w := range tt.want {
				if got[i].Recipient != w.recipient || got[i].Type != w.typ {
					t.Errorf("envelope %d: got %s/%s, want %s/%s", i, got[i].Recipient, got[i].Type, w.recipient, w.typ)
				}
				if err := got[i].Validate(); err != nil {
					t.Errorf("envelope %d invalid: %v", i, err)
				}
			}
		})
	}
}

func TestNotificationsFor_EnvelopeFields(t *testing.T) {
	evt := itemEvent(func(e *events.ItemEvent) { e.AssignedTo = "bob" })
	got, err := NotificationsFor(events.TopicItemCreated, evt)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	assigned := got[1]
	if assigned.Message != "New task assigned: Write docs" {
		t.Errorf("message: got %q", assigned.Message)
	}
	if assigned.SubjectID != "42" || assigned.SubjectLabel != "Write docs" {
		t.Errorf("subject: got %q/%q", assigned.SubjectID, assigned.SubjectLabel)
	}
	if assigned.OriginatorIdentity != "alice" || assigned.TargetIdentity != "bob" {
		t.Errorf("identities: got %q -> %q", assigned.OriginatorIdentity, assigned.TargetIdentity)
	}
	if want := time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC); !assigned.Timestamp.Equal(want) {
		t.Errorf("timestamp: got %v, want %v", assigned.Timestamp, want)
	}
}

// TestNotificationsFor_DeterministicIDs verifies a redelivered event maps to
// the same envelope ids and that recipients never share one.
func TestNotificationsFor_DeterministicIDs(t *testing.T) {
	evt := itemEvent(func(e *events.ItemEvent) { e.AssignedTo = "bob" })
	first, _ := NotificationsFor(events.TopicItemCreated, evt)
	second, _ := NotificationsFor(events.TopicItemCreated, evt)

	for i := range first {
		if first[i].ID != second[i].ID {
			t.Errorf("envelope %d: ids differ across deliveries: %s vs %s", i, first[i].ID, second[i].ID)
		}
	}
	if first[0].ID == first[1].ID {
		t.Error("recipients must get distinct envelope ids")
	}

	other := itemEvent(func(e *events.ItemEvent) {
		e.EventID = uuid.New()
		e.AssignedTo = "bob"
	})
	third, _ := NotificationsFor(events.TopicItemCreated, other)
	if third[0].ID == first[0].ID {
		t.Error("distinct events must get distinct envelope ids")
	}
}

func TestNotificationsFor_Errors(t *testing.T) {
	if _, err := NotificationsFor("item.archived", itemEvent(nil)); err == nil {
		t.Error("expected error for unknown topic")
	}
	invalid := itemEvent(func(e *events.ItemEvent) { e.CreatedBy = "" })
	if _, err := NotificationsFor(events.TopicItemCreated, invalid); err == nil {
		t.Error("expected error for invalid event")
	}
}
