package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ghuser/notifyhub/services/notification/domain"
)

// EventType tags what happened to the subject of a notification. Any
// non-empty value is accepted; the constants cover the task lifecycle.
type EventType string

const (
	EventItemCreated    EventType = "ITEM_CREATED"
	EventItemAssigned   EventType = "ITEM_ASSIGNED"
	EventItemUpdated    EventType = "ITEM_UPDATED"
	EventItemStatus     EventType = "ITEM_STATUS_UPDATED"
	EventItemReassigned EventType = "ITEM_REASSIGNED"
	EventItemDeleted    EventType = "ITEM_DELETED"
)

// TimestampLayout is the wire format for Envelope.Timestamp: ISO-8601 local
// date-time with second precision, always expressed in UTC.
const TimestampLayout = "2006-01-02T15:04:05"

// Envelope is one notification event, the unit of delivery. It is treated
// as immutable once it enters the pipeline.
type Envelope struct {
	ID                 string
	Type               EventType
	Message            string
	SubjectID          string
	SubjectLabel       string
	Recipient          string
	Timestamp          time.Time
	OriginatorIdentity string
	TargetIdentity     string
}

// NewID returns a globally unique, time-ordered envelope id (UUIDv7).
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// NewEnvelope builds an envelope with a fresh id and the current time.
func NewEnvelope(typ EventType, recipient, message string) Envelope {
	return Envelope{
		ID:        NewID(),
		Type:      typ,
		Message:   message,
		Recipient: recipient,
		Timestamp: time.Now().UTC().Truncate(time.Second),
	}
}

// Validate checks the fields the pipeline depends on.
func (e Envelope) Validate() error {
	if strings.TrimSpace(e.Recipient) == "" {
		return domain.ErrMissingRecipient
	}
	if e.ID == "" {
		return domain.ErrMissingID
	}
	if e.Type == "" {
		return domain.ErrMissingType
	}
	return nil
}

// wireEnvelope is the JSON shape shared by SSE frames and broker payloads.
type wireEnvelope struct {
	ID                 string    `json:"id"`
	Type               EventType `json:"type"`
	Message            string    `json:"message,omitempty"`
	SubjectID          string    `json:"subjectId,omitempty"`
	SubjectLabel       string    `json:"subjectLabel,omitempty"`
	Recipient          string    `json:"recipient"`
	Timestamp          string    `json:"timestamp,omitempty"`
	OriginatorIdentity string    `json:"originatorIdentity,omitempty"`
	TargetIdentity     string    `json:"targetIdentity,omitempty"`
}

// MarshalJSON omits empty optional fields and writes the timestamp with
// second precision in UTC.
func (e Envelope) MarshalJSON() ([]byte, error) {
	w := wireEnvelope{
		ID:                 e.ID,
		Type:               e.Type,
		Message:            e.Message,
		SubjectID:          e.SubjectID,
		SubjectLabel:       e.SubjectLabel,
		Recipient:          e.Recipient,
		OriginatorIdentity: e.OriginatorIdentity,
		TargetIdentity:     e.TargetIdentity,
	}
	if !e.Timestamp.IsZero() {
		w.Timestamp = e.Timestamp.UTC().Format(TimestampLayout)
	}
	return json.Marshal(w)
}

// UnmarshalJSON ignores unknown fields and tolerates missing optional ones.
// Timestamps are accepted in TimestampLayout or RFC 3339.
func (e *Envelope) UnmarshalJSON(b []byte) error {
	var w wireEnvelope
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	var ts time.Time
	if w.Timestamp != "" {
		parsed, err := parseTimestamp(w.Timestamp)
		if err != nil {
			return err
		}
		ts = parsed
	}
	*e = Envelope{
		ID:                 w.ID,
		Type:               w.Type,
		Message:            w.Message,
		SubjectID:          w.SubjectID,
		SubjectLabel:       w.SubjectLabel,
		Recipient:          w.Recipient,
		Timestamp:          ts,
		OriginatorIdentity: w.OriginatorIdentity,
		TargetIdentity:     w.TargetIdentity,
	}
	return nil
}

func parseTimestamp(s string) (time.Time, error) {
	if t, err := time.ParseInLocation(TimestampLayout, s, time.UTC); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("timestamp %q: %w", s, err)
	}
	return t.UTC().Truncate(time.Second), nil
}

// Decode parses a wire payload and validates it. Any failure wraps
// domain.ErrMalformedEnvelope.
func Decode(payload []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(payload, &e); err != nil {
		return Envelope{}, fmt.Errorf("%w: %w", domain.ErrMalformedEnvelope, err)
	}
	if err := e.Validate(); err != nil {
		return Envelope{}, fmt.Errorf("%w: %w", domain.ErrMalformedEnvelope, err)
	}
	return e, nil
}
