// Package events defines the item lifecycle events this service consumes.
// Producers publish them on the shared EventBus; the worker turns each one
// into per-recipient notifications.
package events

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Topics published by the item lifecycle producers.
const (
	TopicItemCreated = "item.created"
	TopicItemUpdated = "item.updated"
	TopicItemDeleted = "item.deleted"
)

// Topics lists every item lifecycle topic, in subscription order.
var Topics = []string{TopicItemCreated, TopicItemUpdated, TopicItemDeleted}

// CurrentVersion is the schema version this service understands.
const CurrentVersion = 1

// ItemEvent describes one change to an item. The same shape is used for all
// three topics; fields that do not apply to a kind are left empty.
type ItemEvent struct {
	EventID    uuid.UUID `json:"event_id"` // Unique publish-time identifier for deduplication
	Version    int       `json:"version"`  // Schema version; increment on breaking changes
	ItemID     string    `json:"item_id"`
	Title      string    `json:"title"`
	CreatedBy  string    `json:"created_by"`
	AssignedTo string    `json:"assigned_to,omitempty"`
	// PreviousAssignee is the assignee before an update.
	PreviousAssignee string `json:"previous_assignee,omitempty"`
	// Actor is who made the change. Creators and deleters are the actor of
	// their own events.
	Actor         string    `json:"actor"`
	StatusChanged bool      `json:"status_changed,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// Validate checks the fields every notification rule depends on.
func (e ItemEvent) Validate() error {
	switch {
	case e.EventID == uuid.Nil:
		return fmt.Errorf("item event: missing event_id")
	case e.Version > CurrentVersion:
		return fmt.Errorf("item event: unsupported version %d", e.Version)
	case strings.TrimSpace(e.ItemID) == "":
		return fmt.Errorf("item event %s: missing item_id", e.EventID)
	case strings.TrimSpace(e.CreatedBy) == "":
		return fmt.Errorf("item event %s: missing created_by", e.EventID)
	}
	return nil
}
