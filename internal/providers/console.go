package providers

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"notification-relay/internal/models"
)

// Console renders inbound alerts as text lines. It remembers the alert on
// screen so Clear can report what it removed.
type Console struct {
	mu      sync.Mutex
	out     io.Writer
	current *models.NotificationMessage
}

// NewConsole writes to out.
func NewConsole(out io.Writer) *Console {
	return &Console{out: out}
}

// Show implements relay.Presenter.
func (c *Console) Show(_ context.Context, msg models.NotificationMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = &msg
	d := time.Duration(msg.Duration) * time.Millisecond
	_, err := fmt.Fprintf(c.out, "[ALERT] %s: %s (from %s, %s)\n", msg.Title, msg.Message, senderOrUnknown(msg.Sender), d)
	return err
}

// Clear implements relay.Presenter.
func (c *Console) Clear(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return nil
	}
	title := c.current.Title
	c.current = nil
	_, err := fmt.Fprintf(c.out, "[CLEARED] %s\n", title)
	return err
}

// Current returns the alert on screen, if any.
func (c *Console) Current() (models.NotificationMessage, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return models.NotificationMessage{}, false
	}
	return *c.current, true
}

func senderOrUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

// Presenter is the interface every provider satisfies.
type Presenter interface {
	Show(ctx context.Context, msg models.NotificationMessage) error
	Clear(ctx context.Context) error
}

// Fanout forwards to several presenters and returns the first error.
type Fanout []Presenter

// Show implements relay.Presenter.
func (f Fanout) Show(ctx context.Context, msg models.NotificationMessage) error {
	var firstErr error
	for _, p := range f {
		if err := p.Show(ctx, msg); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Clear implements relay.Presenter.
func (f Fanout) Clear(ctx context.Context) error {
	var firstErr error
	for _, p := range f {
		if err := p.Clear(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
