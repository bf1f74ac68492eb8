// Package relay drives the capture → classify → queue → send cycle and
// routes inbound control messages to the presenter.
package relay

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"notification-relay/internal/capture"
	"notification-relay/internal/classifier"
	"notification-relay/internal/dedup"
	"notification-relay/internal/logging"
	"notification-relay/internal/metrics"
	"notification-relay/internal/models"
	"notification-relay/internal/queue"
	"notification-relay/internal/transport"
)

// DefaultDisplayDuration is used for inbound notifications without a duration.
const DefaultDisplayDuration = 10000

// showBacklog bounds inbound notifications waiting for the presenter.
const showBacklog = 16

// Presenter shows inbound notifications and clears them on remote dismissal.
type Presenter interface {
	Show(ctx context.Context, msg models.NotificationMessage) error
	Clear(ctx context.Context) error
}

// Transport is the part of transport.Session the orchestrator uses.
type Transport interface {
	Send(msg models.Outbound) error
	Inbound() <-chan models.Inbound
	Status() transport.Status
}

// Journal records delivered events.
type Journal interface {
	RecordDelivery(ctx context.Context, ev models.RelayEvent) error
}

// Config controls the cycle cadence and buffers.
type Config struct {
	PollInterval time.Duration
	BatchSize    int
	QueueSize    int // 0 = unbounded
	DedupWindow  int
	ClientType   string // sent on outbound dismissals
	Platform     string // sender label of the startup notice
	Source       string
}

// Status is a snapshot for the status endpoint.
type Status struct {
	Transport       transport.Status `json:"transport"`
	QueueDepth      int              `json:"queue_depth"`
	QueueEvicted    int              `json:"queue_evicted"`
	DedupSize       int              `json:"dedup_size"`
	PendingControls int              `json:"pending_controls"`
	Cycles          int64            `json:"cycles"`
}

// CycleResult summarizes one Cycle.
type CycleResult struct {
	Polled    int
	Accepted  int
	Delivered int
	Controls  int
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithJournal records every delivered event.
func WithJournal(j Journal) Option {
	return func(o *Orchestrator) { o.journal = j }
}

// WithMetrics records cycle counters.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// Orchestrator owns the dedup window and the delivery queue. Cycle runs on a
// single goroutine; ReportDismissal and the inbound path may run concurrently.
type Orchestrator struct {
	cfg        Config
	logger     *logging.Logger
	metrics    *metrics.Metrics
	source     capture.Source
	classifier *classifier.Classifier
	transport  Transport
	presenter  Presenter
	journal    Journal

	window *dedup.Window
	queue  *queue.DeliveryQueue

	mu      sync.Mutex
	pending []models.DismissMessage

	cycle              atomic.Int64
	remoteDismissCycle atomic.Int64
	clearing           atomic.Bool

	shows      chan pendingShow
	showMu     sync.Mutex
	dismissGen uint64
	showCancel context.CancelFunc
}

// pendingShow is an inbound notification tagged with the dismiss generation
// it arrived in. A later remote dismiss makes it stale.
type pendingShow struct {
	msg models.NotificationMessage
	gen uint64
}

// New wires an Orchestrator.
func New(cfg Config, logger *logging.Logger, source capture.Source, cls *classifier.Classifier,
	tr Transport, presenter Presenter, opts ...Option) *Orchestrator {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	o := &Orchestrator{
		cfg:        cfg,
		logger:     logger,
		source:     source,
		classifier: cls,
		transport:  tr,
		presenter:  presenter,
		window:     dedup.NewWindow(cfg.DedupWindow),
		queue:      queue.New(cfg.QueueSize),
		shows:      make(chan pendingShow, showBacklog),
	}
	o.remoteDismissCycle.Store(-1)
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run cycles every PollInterval until ctx is cancelled. The cycle in progress
// finishes before Run returns.
func (o *Orchestrator) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		o.consumeInbound(ctx)
	}()

	ticker := time.NewTicker(o.cfg.PollInterval)
	defer ticker.Stop()
	o.logger.Infof("Relay loop started (poll=%s, batch=%d)", o.cfg.PollInterval, o.cfg.BatchSize)
	for {
		o.Cycle(ctx)
		select {
		case <-ctx.Done():
			wg.Wait()
			o.logger.Infof("Relay loop stopped with %d events queued", o.queue.Len())
			return nil
		case <-ticker.C:
		}
	}
}

// Cycle polls, classifies, enqueues and delivers one bounded batch.
func (o *Orchestrator) Cycle(ctx context.Context) CycleResult {
	o.cycle.Add(1)
	var res CycleResult
	if ctx.Err() == nil {
		res.Polled, res.Accepted = o.collect(ctx)
	}

	// Deliveries must not be cut short by shutdown.
	sendCtx := context.WithoutCancel(ctx)
	var ok bool
	res.Controls, ok = o.flushControls()
	if ok {
		res.Delivered = o.deliver(sendCtx)
	}
	if o.metrics != nil {
		o.metrics.QueueDepth.Set(float64(o.queue.Len()))
	}
	return res
}

// dupRecorder remembers whether the window already held the fingerprint.
type dupRecorder struct {
	window *dedup.Window
	dup    bool
}

func (d *dupRecorder) MarkSeen(fp dedup.Fingerprint) bool {
	d.dup = d.window.MarkSeen(fp)
	return d.dup
}

func (o *Orchestrator) collect(ctx context.Context) (polled, accepted int) {
	cands, err := o.source.PollCandidates(ctx)
	if err != nil {
		if o.metrics != nil {
			o.metrics.CaptureErrors.Inc()
		}
		o.logger.Warnf("Capture poll failed: %v", err)
	}

	for _, cand := range cands {
		polled++
		if o.metrics != nil {
			o.metrics.CandidatesTotal.Inc()
		}
		rec := &dupRecorder{window: o.window}
		ev, ok, err := o.classifier.Classify(cand, rec)
		if err != nil {
			if o.metrics != nil {
				o.metrics.ClassifyErrors.Inc()
			}
			o.logger.Warnf("Dropping candidate from %q: %v", cand.SourceApp, err)
			continue
		}
		if !ok {
			if rec.dup {
				if o.metrics != nil {
					o.metrics.DuplicatesTotal.Inc()
				}
				o.logger.Debugf("Duplicate candidate %q from %q", cand.Title, cand.SourceApp)
			} else {
				if o.metrics != nil {
					o.metrics.FilteredTotal.Inc()
				}
				o.logger.Debugf("Filtered candidate %q from %q", cand.Title, cand.SourceApp)
			}
			continue
		}
		o.enqueue(ev)
		accepted++
	}
	return polled, accepted
}

func (o *Orchestrator) enqueue(ev models.RelayEvent) {
	log := o.logger.WithField("event_id", ev.ID.String())
	if ev.IsPriority {
		log.Infof("Queued %s notification from %s: %s", o.classifier.Kind(ev.Title, ev.Message), ev.SourceApp, ev.Title)
	} else {
		log.Debugf("Queued notification from %s: %s", ev.SourceApp, ev.Title)
	}
	if o.queue.Enqueue(ev) {
		if o.metrics != nil {
			o.metrics.QueueEvictions.Inc()
		}
		o.logger.Warnf("Delivery queue full (%d), evicted oldest event", o.cfg.QueueSize)
	}
}

// flushControls sends pending dismissals in order. It reports false if one
// could not be sent; the rest stay pending.
func (o *Orchestrator) flushControls() (int, bool) {
	sent := 0
	for {
		o.mu.Lock()
		if len(o.pending) == 0 {
			o.mu.Unlock()
			return sent, true
		}
		msg := o.pending[0]
		o.mu.Unlock()

		if err := o.transport.Send(msg); err != nil {
			o.logSendFailure("dismissal", err)
			return sent, false
		}

		o.mu.Lock()
		o.pending = o.pending[1:]
		o.mu.Unlock()
		sent++
		if o.metrics != nil {
			o.metrics.DismissalsSent.Inc()
		}
		o.logger.Infof("Sent dismissal to remote")
	}
}

// deliver sends up to BatchSize events. An event leaves the queue only after
// a successful send; the first failure ends the batch.
func (o *Orchestrator) deliver(ctx context.Context) int {
	delivered := 0
	for delivered < o.cfg.BatchSize {
		ev, ok := o.queue.Peek()
		if !ok {
			break
		}
		if err := o.transport.Send(ev.Wire()); err != nil {
			o.logSendFailure("event", err)
			break
		}
		o.queue.Ack(ev)
		delivered++
		if o.metrics != nil {
			o.metrics.EventsDelivered.Inc()
		}
		o.logger.WithField("event_id", ev.ID.String()).Infof("Delivered notification: %s", ev.Title)

		if o.journal != nil {
			if err := o.journal.RecordDelivery(ctx, ev); err != nil {
				o.logger.Warnf("Journal write failed for %s: %v", ev.ID, err)
			}
		}
	}
	return delivered
}

func (o *Orchestrator) logSendFailure(what string, err error) {
	if o.metrics != nil {
		o.metrics.SendFailures.Inc()
	}
	if stderrors.Is(err, transport.ErrNotConnected) {
		o.logger.Debugf("Holding %s until reconnected (%d events queued)", what, o.queue.Len())
		return
	}
	o.logger.Errorf("Send %s failed, will retry: %v", what, err)
}

// consumeInbound dispatches inbound messages. Presentation runs on its own
// goroutine so a slow presenter never holds up a remote dismiss.
func (o *Orchestrator) consumeInbound(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		o.showLoop(ctx)
	}()
	defer wg.Wait()

	inbound := o.transport.Inbound()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-inbound:
			if !ok {
				return
			}
			o.handleInbound(ctx, msg)
		}
	}
}

func (o *Orchestrator) handleInbound(ctx context.Context, msg models.Inbound) {
	switch m := msg.(type) {
	case models.NotificationMessage:
		if m.Title == "" {
			m.Title = "Notification"
		}
		if m.Duration <= 0 {
			m.Duration = DefaultDisplayDuration
		}
		o.logger.Infof("Inbound notification from %q: %s", m.Sender, m.Title)
		o.queueShow(m)
	case models.DismissMessage:
		o.logger.Infof("Remote dismissal by %q", m.DismissedBy)
		o.clearFromRemote(ctx)
	case models.RegisteredMessage:
		o.logger.Infof("Registration acknowledged (client id %s)", m.ClientID)
	default:
		o.logger.Warnf("Unhandled inbound message type %q", msg.MessageType())
	}
}

func (o *Orchestrator) queueShow(m models.NotificationMessage) {
	o.showMu.Lock()
	p := pendingShow{msg: m, gen: o.dismissGen}
	o.showMu.Unlock()
	select {
	case o.shows <- p:
	default:
		o.logger.Errorf("Presenter backlog full, dropping notification %q", m.Title)
	}
}

func (o *Orchestrator) showLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case p := <-o.shows:
			o.present(ctx, p)
		}
	}
}

// present shows p unless a remote dismiss arrived after it. The show context
// is cancelled by a dismiss that lands while Show is still running.
func (o *Orchestrator) present(ctx context.Context, p pendingShow) {
	showCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	o.showMu.Lock()
	if p.gen != o.dismissGen {
		o.showMu.Unlock()
		o.logger.Debugf("Skipping notification %q dismissed before display", p.msg.Title)
		return
	}
	o.showCancel = cancel
	o.showMu.Unlock()

	err := o.presenter.Show(showCtx, p.msg)

	o.showMu.Lock()
	o.showCancel = nil
	o.showMu.Unlock()

	switch {
	case err == nil:
	case showCtx.Err() != nil && ctx.Err() == nil:
		o.logger.Debugf("Display of %q cut short by remote dismiss: %v", p.msg.Title, err)
	default:
		o.logger.Warnf("Presenter failed to show notification: %v", err)
	}
}

func (o *Orchestrator) clearFromRemote(ctx context.Context) {
	o.remoteDismissCycle.Store(o.cycle.Load())
	o.clearing.Store(true)
	defer o.clearing.Store(false)

	o.showMu.Lock()
	o.dismissGen++
	if o.showCancel != nil {
		o.showCancel()
	}
	o.showMu.Unlock()
	if err := o.presenter.Clear(ctx); err != nil {
		o.logger.Warnf("Presenter failed to clear: %v", err)
	}
}

// ReportDismissal queues an outbound dismissal for a user-initiated clear.
// Dismissals caused by a remote dismiss are dropped and it returns false.
func (o *Orchestrator) ReportDismissal() bool {
	if o.clearing.Load() || o.remoteDismissCycle.Load() == o.cycle.Load() {
		if o.metrics != nil {
			o.metrics.DismissalsSuppressed.Inc()
		}
		o.logger.Debugf("Suppressed dismissal echo of a remote dismiss")
		return false
	}
	o.mu.Lock()
	o.pending = append(o.pending, models.DismissMessage{ClientType: o.cfg.ClientType})
	o.mu.Unlock()
	o.logger.Infof("User dismissal queued")
	return true
}

// Announce queues a startup notice ahead of any captured event.
func (o *Orchestrator) Announce(now time.Time) {
	o.enqueue(models.RelayEvent{
		ID:          uuid.New(),
		Type:        models.EventTypeNotification,
		Title:       "Monitor Started",
		Message:     "Notification relay is running",
		SenderLabel: o.cfg.Platform + " (Notification Relay)",
		SourceApp:   "Notification Relay",
		Source:      o.cfg.Source,
		Timestamp:   now,
	})
}

// Status returns a snapshot of the relay.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	pending := len(o.pending)
	o.mu.Unlock()
	return Status{
		Transport:       o.transport.Status(),
		QueueDepth:      o.queue.Len(),
		QueueEvicted:    o.queue.Evicted(),
		DedupSize:       o.window.Len(),
		PendingControls: pending,
		Cycles:          o.cycle.Load(),
	}
}
