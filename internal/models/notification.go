package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventTypeNotification is the only RelayEvent type produced by the classifier.
const EventTypeNotification = "notification"

// TimestampLayout is the ISO-8601 layout used on the wire.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// RelayEvent is a deduplicated, classified notification ready for delivery.
// It is passed by value and never mutated after construction.
type RelayEvent struct {
	ID          uuid.UUID `json:"id"`
	Type        string    `json:"type"`
	Title       string    `json:"title"`
	Message     string    `json:"message"`
	SenderLabel string    `json:"sender"`
	SourceApp   string    `json:"app"`
	Source      string    `json:"source"`
	IsPriority  bool      `json:"is_slack"`
	Timestamp   time.Time `json:"timestamp"`
}

// MarshalJSON renders the ID as a string and the timestamp in TimestampLayout.
func (e RelayEvent) MarshalJSON() ([]byte, error) {
	type Alias RelayEvent
	return json.Marshal(&struct {
		ID        string `json:"id"`
		Timestamp string `json:"timestamp"`
		*Alias
	}{
		ID:        e.ID.String(),
		Timestamp: e.Timestamp.Format(TimestampLayout),
		Alias:     (*Alias)(&e),
	})
}

// Wire converts the event to its outbound wire form.
func (e RelayEvent) Wire() NotificationMessage {
	return NotificationMessage{
		Title:     e.Title,
		Message:   e.Message,
		Sender:    e.SenderLabel,
		Source:    e.Source,
		App:       e.SourceApp,
		IsSlack:   e.IsPriority,
		Timestamp: e.Timestamp.Format(TimestampLayout),
	}
}
