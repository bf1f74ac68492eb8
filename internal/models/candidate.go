package models

import "time"

// CandidateEvent is a raw observation from a capture source. It may be a
// duplicate of something already relayed, or noise.
type CandidateEvent struct {
	SourceApp  string    `json:"source_app"`
	Title      string    `json:"title"`
	Body       string    `json:"body"`
	CapturedAt time.Time `json:"captured_at"`
}
