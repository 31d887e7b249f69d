package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc"
	"go.uber.org/multierr"

	"taskpulse/internal/domain"
	"taskpulse/internal/metrics"
)

const (
	DefaultQueueSize   = 256
	defaultSinkTimeout = 5 * time.Second
)

// Publisher is what the engine sees of the broadcaster. Publish must not block
// on delivery.
type Publisher interface {
	Publish(kind Kind, task domain.Task)
}

// Sink delivers messages to one transport (WebSocket hub, Slack, ...).
type Sink interface {
	Name() string
	Deliver(ctx context.Context, msg Message) error
}

// NopPublisher discards everything.
type NopPublisher struct{}

func (NopPublisher) Publish(Kind, domain.Task) {}

// Broadcaster queues planned messages and fans them out to its sinks from a
// single worker started with Run. Delivery is best effort: a full queue drops
// the batch and sink failures are only logged.
type Broadcaster struct {
	mu      sync.RWMutex
	sinks   []Sink
	queue   chan []Message
	log     *logrus.Entry
	Timeout time.Duration
}

func NewBroadcaster(queueSize int, log *logrus.Entry, sinks ...Sink) *Broadcaster {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if log == nil {
		l := logrus.New()
		l.SetLevel(logrus.PanicLevel)
		log = logrus.NewEntry(l)
	}
	return &Broadcaster{
		sinks:   sinks,
		queue:   make(chan []Message, queueSize),
		log:     log.WithField("component", "broadcaster"),
		Timeout: defaultSinkTimeout,
	}
}

func (b *Broadcaster) AddSink(s Sink) {
	b.mu.Lock()
	b.sinks = append(b.sinks, s)
	b.mu.Unlock()
}

func (b *Broadcaster) Publish(kind Kind, task domain.Task) {
	msgs := Plan(kind, task)
	if len(msgs) == 0 {
		b.log.WithField("kind", kind).Warn("unknown event kind")
		return
	}
	b.enqueue(msgs)
}

// Signal queues a standalone message such as a stats-updated tick.
func (b *Broadcaster) Signal(msg Message) {
	b.enqueue([]Message{msg})
}

func (b *Broadcaster) enqueue(msgs []Message) {
	select {
	case b.queue <- msgs:
	default:
		metrics.NotificationsDropped.Inc()
		b.log.WithField("event", msgs[0].Event).Warn("broadcast queue full, dropping")
	}
}

// Run delivers queued batches until ctx is done, then drains what is left.
func (b *Broadcaster) Run(ctx context.Context) error {
	for {
		select {
		case msgs := <-b.queue:
			b.deliver(ctx, msgs)
		case <-ctx.Done():
			b.drain()
			return nil
		}
	}
}

func (b *Broadcaster) drain() {
	for {
		select {
		case msgs := <-b.queue:
			b.deliver(context.Background(), msgs)
		default:
			return
		}
	}
}

func (b *Broadcaster) deliver(ctx context.Context, msgs []Message) {
	b.mu.RLock()
	sinks := append([]Sink(nil), b.sinks...)
	b.mu.RUnlock()
	for _, msg := range msgs {
		if err := b.deliverOne(ctx, sinks, msg); err != nil {
			b.log.WithError(err).WithFields(logrus.Fields{
				"event":   msg.Event,
				"channel": msg.Channel,
			}).Warn("notification delivery failed")
		}
	}
}

func (b *Broadcaster) deliverOne(ctx context.Context, sinks []Sink, msg Message) error {
	var (
		wg   conc.WaitGroup
		mu   sync.Mutex
		errs error
	)
	for _, s := range sinks {
		s := s
		wg.Go(func() {
			dctx, cancel := context.WithTimeout(ctx, b.Timeout)
			defer cancel()
			if err := s.Deliver(dctx, msg); err != nil {
				metrics.SinkErrors.WithLabelValues(s.Name()).Inc()
				mu.Lock()
				errs = multierr.Append(errs, fmt.Errorf("%s: %w", s.Name(), err))
				mu.Unlock()
				return
			}
			metrics.NotificationsDelivered.WithLabelValues(s.Name()).Inc()
		})
	}
	if r := wg.WaitAndRecover(); r != nil {
		metrics.SinkErrors.WithLabelValues("panic").Inc()
		errs = multierr.Append(errs, fmt.Errorf("sink panic: %v", r.Value))
	}
	return errs
}
