// Package notify delivers consumer notifications over email and SMS. Delivery
// is fire-and-forget: callers enqueue and move on, failures are logged.
package notify

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/negotiate-network/negotiate/internal/domain"
	"github.com/negotiate-network/negotiate/internal/infra/observability"
)

// ContactSource resolves where and whether a consumer may be reached.
type ContactSource interface {
	GetContact(ctx context.Context, consumerID string) (domain.Contact, error)
}

// Message is one rendered notification handed to a Sender.
type Message struct {
	ConsumerID string           `json:"consumer_id"`
	Event      domain.EventCode `json:"event"`
	Channel    domain.Channel   `json:"channel"`
	To         string           `json:"to"`
	FirstName  string           `json:"first_name,omitempty"`
}

// Sender delivers a message on one channel.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Config controls the dispatcher queue.
type Config struct {
	QueueSize int
}

// DefaultConfig returns the dispatcher defaults.
func DefaultConfig() Config {
	return Config{QueueSize: 256}
}

type item struct {
	consumerID string
	event      domain.EventCode
}

// Dispatcher queues notifications and delivers them on a background worker.
type Dispatcher struct {
	contacts ContactSource
	record   domain.NotificationLog
	senders  map[domain.Channel]Sender
	log      *zap.Logger
	queue    chan item

	mu      sync.Mutex
	started bool
	stopped bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewDispatcher creates a dispatcher. record may be nil.
func NewDispatcher(cfg Config, contacts ContactSource, record domain.NotificationLog, senders map[domain.Channel]Sender, log *zap.Logger) *Dispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}
	return &Dispatcher{
		contacts: contacts,
		record:   record,
		senders:  senders,
		log:      log.Named("notify"),
		queue:    make(chan item, cfg.QueueSize),
	}
}

// Start launches the delivery worker.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return
	}
	d.started = true
	ctx, d.cancel = context.WithCancel(ctx)
	d.done = make(chan struct{})
	go d.loop(ctx)
}

// Stop drains queued notifications and stops the worker.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.stopped || !d.started {
		d.stopped = true
		d.mu.Unlock()
		return
	}
	d.stopped = true
	d.mu.Unlock()

	d.cancel()
	<-d.done
}

func (d *Dispatcher) loop(ctx context.Context) {
	defer close(d.done)
	for {
		select {
		case it := <-d.queue:
			observability.NotifyQueueDepth.Set(float64(len(d.queue)))
			d.Deliver(ctx, it.consumerID, it.event)
		case <-ctx.Done():
			d.drain()
			return
		}
	}
}

// drain delivers whatever is still queued after shutdown was requested.
func (d *Dispatcher) drain() {
	ctx := context.Background()
	for {
		select {
		case it := <-d.queue:
			d.Deliver(ctx, it.consumerID, it.event)
		default:
			observability.NotifyQueueDepth.Set(0)
			return
		}
	}
}

// Notify implements domain.Notifier. It never blocks: when the queue is full
// or the dispatcher is stopped the notification is dropped and logged.
func (d *Dispatcher) Notify(_ context.Context, consumerID string, event domain.EventCode) {
	// Enqueue under mu: anything queued before stopped is set is drained.
	d.mu.Lock()
	reason := ""
	if d.stopped {
		reason = "stopped"
	} else {
		select {
		case d.queue <- item{consumerID: consumerID, event: event}:
			observability.NotifyQueueDepth.Set(float64(len(d.queue)))
		default:
			reason = "queue_full"
		}
	}
	d.mu.Unlock()
	if reason != "" {
		d.drop(reason, consumerID, event)
	}
}

// NotifyDeactivated implements domain.DeactivationNotifier.
func (d *Dispatcher) NotifyDeactivated(ctx context.Context, consumerIDs []string) {
	for _, id := range consumerIDs {
		d.Notify(ctx, id, domain.EventCreditorRemovedAccount)
	}
}

func (d *Dispatcher) drop(reason, consumerID string, event domain.EventCode) {
	observability.NotificationsDropped.WithLabelValues(reason).Inc()
	d.log.Warn("notification dropped",
		zap.String("reason", reason), zap.String("consumer_id", consumerID), zap.String("event", string(event)))
}

// Deliver sends event on every channel the consumer is eligible for and
// returns how many deliveries succeeded. Errors are logged, never returned.
func (d *Dispatcher) Deliver(ctx context.Context, consumerID string, event domain.EventCode) int {
	contact, err := d.contacts.GetContact(ctx, consumerID)
	if err != nil {
		d.log.Warn("resolve contact", zap.String("consumer_id", consumerID), zap.Error(err))
		return 0
	}
	if contact.Unsubscribed {
		d.log.Debug("consumer unsubscribed", zap.String("consumer_id", consumerID), zap.String("event", string(event)))
		return 0
	}

	sent := 0
	for _, ch := range []domain.Channel{domain.ChannelEmail, domain.ChannelSMS} {
		if !contact.Eligible(ch) {
			continue
		}
		sender, ok := d.senders[ch]
		if !ok {
			continue
		}
		msg := Message{
			ConsumerID: consumerID,
			Event:      event,
			Channel:    ch,
			To:         contact.Email,
			FirstName:  contact.FirstName,
		}
		if ch == domain.ChannelSMS {
			msg.To = contact.Mobile
		}
		if err := sender.Send(ctx, msg); err != nil {
			observability.NotificationsDropped.WithLabelValues("send_error").Inc()
			d.log.Warn("notification send failed",
				zap.String("consumer_id", consumerID), zap.String("event", string(event)),
				zap.String("channel", string(ch)), zap.Error(err))
			continue
		}
		sent++
		observability.NotificationsSent.WithLabelValues(string(ch), string(event)).Inc()
		if d.record != nil {
			if err := d.record.RecordNotification(ctx, consumerID, event, ch); err != nil {
				d.log.Warn("record notification", zap.String("consumer_id", consumerID), zap.Error(err))
			}
		}
	}
	return sent
}
