package models

import (
	"time"

	"github.com/google/uuid"
)

// Delivery is one journal row: an event the remote endpoint accepted.
type Delivery struct {
	EventID     uuid.UUID `json:"event_id"`
	Title       string    `json:"title"`
	Message     string    `json:"message"`
	Sender      string    `json:"sender"`
	SourceApp   string    `json:"app"`
	IsPriority  bool      `json:"is_slack"`
	EventTime   time.Time `json:"event_time"`
	DeliveredAt time.Time `json:"delivered_at"`
}
