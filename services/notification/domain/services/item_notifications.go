// Package services contains stateless domain services for the notification
// bounded context. They operate purely on domain types.
package services

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ghuser/notifyhub/services/notification/domain/events"
	"github.com/ghuser/notifyhub/services/notification/domain/models"
)

// envelopeNamespace seeds deterministic envelope ids, so a redelivered item
// event yields the same ids and is absorbed by the replay window.
var envelopeNamespace = uuid.MustParse("6f1c1f8e-3d0b-4c55-9a57-2f4d8e0b7a11")

// Message templates, keyed by event type.
var messages = map[models.EventType]string{
	models.EventItemCreated:    "Task created: %s",
	models.EventItemAssigned:   "New task assigned: %s",
	models.EventItemUpdated:    "Task updated: %s",
	models.EventItemStatus:     "Task status updated: %s",
	models.EventItemReassigned: "Task reassigned to you: %s",
	models.EventItemDeleted:    "Task was deleted: %s",
}

// NotificationsFor maps one item lifecycle event to the envelopes it fans
// out to. topic selects the rule set; an unknown topic yields an error.
//
// Rules:
//   - created: the creator, plus the assignee as ITEM_ASSIGNED when different
//   - updated: the creator unless they made the change; on a status change
//     the previous assignee unless they made it; on an assignee change the
//     new assignee as ITEM_REASSIGNED unless they made it
//   - deleted: the creator, plus the assignee when different
//
// Each recipient receives at most one envelope per event.
func NotificationsFor(topic string, evt events.ItemEvent) ([]models.Envelope, error) {
	if err := evt.Validate(); err != nil {
		return nil, err
	}

	b := builder{evt: evt, seen: make(map[string]bool)}
	switch topic {
	case events.TopicItemCreated:
		b.add(models.EventItemCreated, evt.CreatedBy)
		if evt.AssignedTo != evt.CreatedBy {
			b.add(models.EventItemAssigned, evt.AssignedTo)
		}
	case events.TopicItemUpdated:
		if evt.CreatedBy != evt.Actor {
			b.add(models.EventItemUpdated, evt.CreatedBy)
		}
		if evt.StatusChanged && evt.PreviousAssignee != evt.Actor {
			b.add(models.EventItemStatus, evt.PreviousAssignee)
		}
		if evt.AssignedTo != evt.PreviousAssignee && evt.AssignedTo != evt.Actor {
			b.add(models.EventItemReassigned, evt.AssignedTo)
		}
	case events.TopicItemDeleted:
		b.add(models.EventItemDeleted, evt.CreatedBy)
		if evt.AssignedTo != evt.CreatedBy {
			b.add(models.EventItemDeleted, evt.AssignedTo)
		}
	default:
		return nil, fmt.Errorf("no notification rules for topic %q", topic)
	}
	return b.out, nil
}

type builder struct {
	evt  events.ItemEvent
	seen map[string]bool
	out  []models.Envelope
}

func (b *builder) add(typ models.EventType, recipient string) {
	if strings.TrimSpace(recipient) == "" || b.seen[recipient] {
		return
	}
	b.seen[recipient] = true

	id := uuid.NewSHA1(envelopeNamespace, []byte(b.evt.EventID.String()+"/"+recipient))
	env := models.Envelope{
		ID:                 id.String(),
		Type:               typ,
		Message:            fmt.Sprintf(messages[typ], b.evt.Title),
		SubjectID:          b.evt.ItemID,
		SubjectLabel:       b.evt.Title,
		Recipient:          recipient,
		OriginatorIdentity: b.evt.CreatedBy,
		TargetIdentity:     b.evt.AssignedTo,
	}
	env.Timestamp = b.evt.OccurredAt
	if env.Timestamp.IsZero() {
		env.Timestamp = time.Now()
	}
	env.Timestamp = env.Timestamp.UTC().Truncate(time.Second)
	b.out = append(b.out, env)
}
