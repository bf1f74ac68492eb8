// Package capture supplies candidate events to the relay. Platform scrapers,
// the HTTP push endpoint and the Kafka consumer all feed a Source.
package capture

import (
	"context"
	"sync"

	"notification-relay/internal/errors"
	"notification-relay/internal/models"
)

// Source returns every candidate available since the previous poll.
type Source interface {
	PollCandidates(ctx context.Context) ([]models.CandidateEvent, error)
}

// Buffer is a push-based Source. Producers call Push from any goroutine; the
// relay drains it on each poll.
type Buffer struct {
	mu      sync.Mutex
	pending []models.CandidateEvent
	limit   int
	dropped int
}

// NewBuffer returns a Buffer holding at most limit candidates between polls.
// limit <= 0 means no bound. When full the oldest candidate is dropped.
func NewBuffer(limit int) *Buffer {
	return &Buffer{limit: limit}
}

// Push adds candidates in order.
func (b *Buffer) Push(cands ...models.CandidateEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending = append(b.pending, cands...)
	if b.limit > 0 && len(b.pending) > b.limit {
		over := len(b.pending) - b.limit
		b.dropped += over
		b.pending = append(b.pending[:0:0], b.pending[over:]...)
	}
}

// PollCandidates implements Source.
func (b *Buffer) PollCandidates(ctx context.Context) ([]models.CandidateEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.NewCapture("poll buffer", err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.pending
	b.pending = nil
	return out, nil
}

// Len returns the number of buffered candidates.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Dropped returns how many candidates were discarded to honor the limit.
func (b *Buffer) Dropped() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// Multi polls several sources in order. A failing source does not hide the
// candidates of the others; its error is returned alongside them.
type Multi []Source

// PollCandidates implements Source.
func (m Multi) PollCandidates(ctx context.Context) ([]models.CandidateEvent, error) {
	var (
		out      []models.CandidateEvent
		firstErr error
	)
	for _, src := range m {
		cands, err := src.PollCandidates(ctx)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		out = append(out, cands...)
	}
	return out, firstErr
}
