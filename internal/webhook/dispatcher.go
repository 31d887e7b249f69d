// Package webhook relays outbox events to configured HTTP endpoints.
package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/avast/retry-go"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"

	"taskpulse/internal/config"
	"taskpulse/internal/domain"
	"taskpulse/internal/metrics"
	"taskpulse/internal/repo"
)

const (
	defaultTimeout  = 5 * time.Second
	defaultBatch    = 100
	defaultAttempts = 3
	defaultDelay    = 200 * time.Millisecond
)

// Dispatcher tracks one outbox cursor per hook. A hook starts at the newest
// event present when it is first polled, and stops at the first event it
// fails to deliver so it is retried on the next tick.
type Dispatcher struct {
	Repo     repo.Repo
	Attempts uint
	Delay    time.Duration

	hooks   []hook
	log     *logrus.Entry
	mu      sync.Mutex
	cursors map[int]int64
	running sync.Mutex
}

type hook struct {
	cfg    config.WebhookConfig
	client *resty.Client
	filter eventFilter
}

func New(r repo.Repo, hooks []config.WebhookConfig, log *logrus.Entry) *Dispatcher {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	d := &Dispatcher{
		Repo:     r,
		Attempts: defaultAttempts,
		Delay:    defaultDelay,
		log:      log.WithField("component", "webhook"),
		cursors:  map[int]int64{},
	}
	for _, h := range hooks {
		timeout := defaultTimeout
		if h.TimeoutSeconds > 0 {
			timeout = time.Duration(h.TimeoutSeconds) * time.Second
		}
		d.hooks = append(d.hooks, hook{
			cfg:    h,
			client: resty.New().SetTimeout(timeout),
			filter: newEventFilter(h.Events),
		})
	}
	return d
}

// Enabled reports whether any hook would receive events.
func (d *Dispatcher) Enabled() bool {
	for _, h := range d.hooks {
		if h.active() {
			return true
		}
	}
	return false
}

func (h hook) active() bool {
	return (h.cfg.Enabled == nil || *h.cfg.Enabled) && strings.TrimSpace(h.cfg.URL) != ""
}

// DispatchAll delivers pending events to every active hook. Overlapping calls
// are skipped.
func (d *Dispatcher) DispatchAll(ctx context.Context) {
	if !d.running.TryLock() {
		return
	}
	defer d.running.Unlock()
	for i, h := range d.hooks {
		if !h.active() {
			continue
		}
		d.dispatch(ctx, i, h)
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, idx int, h hook) {
	log := d.log.WithField("url", h.cfg.URL)
	cursor := d.cursorFor(ctx, idx)
	evts, err := d.Repo.EventsAfter(ctx, cursor, defaultBatch)
	if err != nil {
		log.WithError(err).Warn("fetch events failed")
		return
	}
	for _, evt := range evts {
		if !h.filter.match(evt.Type) {
			d.setCursor(idx, evt.ID)
			continue
		}
		if err := d.deliver(ctx, h, evt); err != nil {
			metrics.WebhookDeliveries.WithLabelValues("failed").Inc()
			log.WithError(err).WithField("event_id", evt.ID).Warn("delivery failed")
			return
		}
		metrics.WebhookDeliveries.WithLabelValues("delivered").Inc()
		d.setCursor(idx, evt.ID)
	}
}

func (d *Dispatcher) cursorFor(ctx context.Context, idx int) int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cur, ok := d.cursors[idx]; ok {
		return cur
	}
	cur, err := d.Repo.LatestEventID(ctx)
	if err != nil {
		d.log.WithError(err).Warn("init cursor failed")
		return 0
	}
	d.cursors[idx] = cur
	return cur
}

func (d *Dispatcher) setCursor(idx int, value int64) {
	d.mu.Lock()
	d.cursors[idx] = value
	d.mu.Unlock()
}

// Cursor returns the last event id handled for hook idx.
func (d *Dispatcher) Cursor(idx int) (int64, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	cur, ok := d.cursors[idx]
	return cur, ok
}

// Body is the JSON document posted for each event.
type Body struct {
	ID         int64           `json:"id"`
	Type       string          `json:"type"`
	EntityID   string          `json:"entity_id"`
	ActorID    string          `json:"actor_id"`
	TS         string          `json:"ts"`
	Payload    json.RawMessage `json:"payload"`
	PayloadRaw string          `json:"payload_raw,omitempty"`
}

func newBody(evt domain.Event) Body {
	b := Body{ID: evt.ID, Type: evt.Type, EntityID: evt.EntityID, ActorID: evt.ActorID, TS: evt.TS, Payload: json.RawMessage("{}")}
	if evt.Payload != "" {
		if json.Valid([]byte(evt.Payload)) {
			b.Payload = json.RawMessage(evt.Payload)
		} else {
			b.PayloadRaw = evt.Payload
		}
	}
	return b
}

func (d *Dispatcher) deliver(ctx context.Context, h hook, evt domain.Event) error {
	body := newBody(evt)
	return retry.Do(func() error {
		req := h.client.R().
			SetContext(ctx).
			SetHeader("Content-Type", "application/json").
			SetHeader("X-Taskpulse-Event", evt.Type).
			SetHeader("X-Taskpulse-Delivery", strconv.FormatInt(evt.ID, 10)).
			SetBody(body)
		if s := strings.TrimSpace(h.cfg.Secret); s != "" {
			req.SetHeader("X-Taskpulse-Secret", s)
		}
		resp, err := req.Post(h.cfg.URL)
		if err != nil {
			return err
		}
		if resp.IsError() {
			return fmt.Errorf("status %d: %s", resp.StatusCode(), strings.TrimSpace(truncate(resp.String(), 4096)))
		}
		return nil
	},
		retry.Context(ctx),
		retry.Attempts(d.Attempts),
		retry.Delay(d.Delay),
		retry.LastErrorOnly(true),
	)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// eventFilter matches outbox types. No entries, or "*", match everything.
type eventFilter struct {
	all bool
	set mapset.Set[string]
}

func newEventFilter(types []string) eventFilter {
	set := mapset.NewSet[string]()
	for _, t := range types {
		if t = strings.TrimSpace(t); t != "" {
			set.Add(t)
		}
	}
	if set.Cardinality() == 0 || set.Contains("*") {
		return eventFilter{all: true}
	}
	return eventFilter{set: set}
}

func (f eventFilter) match(evt string) bool {
	return f.all || f.set.Contains(evt)
}
