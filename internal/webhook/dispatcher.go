// Package webhook delivers signed change notifications to configured endpoints.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	// queueSize is the buffer size for the event queue
	queueSize = 1000

	// maxResponseBodySize limits how much of an error response body is kept (1KB)
	maxResponseBodySize = 1024

	defaultTimeout    = 10 * time.Second
	defaultMaxRetries = 3
)

// Dispatcher queues events and delivers them from one background worker.
type Dispatcher struct {
	endpoints       []Endpoint
	client          *http.Client
	log             zerolog.Logger
	maxRetries      int
	initialInterval time.Duration
	onDelivery      func(Delivery)

	queue  chan Event
	done   chan struct{}
	closed atomic.Bool
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

func WithLogger(l zerolog.Logger) Option { return func(d *Dispatcher) { d.log = l } }

func WithHTTPClient(c *http.Client) Option { return func(d *Dispatcher) { d.client = c } }

// WithMaxRetries sets how many times a failed delivery is retried after the first attempt.
func WithMaxRetries(n int) Option { return func(d *Dispatcher) { d.maxRetries = n } }

// WithInitialInterval sets the first backoff delay; it doubles per retry.
func WithInitialInterval(iv time.Duration) Option {
	return func(d *Dispatcher) { d.initialInterval = iv }
}

// WithDeliveryHook is called once per endpoint and event with the final outcome.
func WithDeliveryHook(fn func(Delivery)) Option { return func(d *Dispatcher) { d.onDelivery = fn } }

// NewDispatcher creates a dispatcher for the given endpoints. Call Start before Dispatch.
func NewDispatcher(endpoints []Endpoint, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		endpoints:       endpoints,
		client:          &http.Client{Timeout: defaultTimeout},
		log:             zerolog.Nop(),
		maxRetries:      defaultMaxRetries,
		initialInterval: time.Second,
		queue:           make(chan Event, queueSize),
		done:            make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start begins processing events from the queue
func (d *Dispatcher) Start() {
	go d.worker()
}

// Close stops accepting events and waits for pending deliveries. Safe to call more than once.
func (d *Dispatcher) Close() error {
	if !d.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(d.queue)
	<-d.done
	return nil
}

// Dispatch queues an event without blocking. A full queue drops it.
func (d *Dispatcher) Dispatch(event Event) {
	if d.closed.Load() || len(d.endpoints) == 0 {
		return
	}
	select {
	case d.queue <- event:
		d.log.Debug().Str("event", event.Type).Str("resource", event.Resource.Key).
			Int("queue_size", len(d.queue)).Msg("webhook event queued")
	default:
		d.log.Error().Str("event", event.Type).Str("resource", event.Resource.Key).
			Msg("webhook queue full, dropping event")
	}
}

func (d *Dispatcher) worker() {
	defer close(d.done)

	for event := range d.queue {
		for _, ep := range d.endpoints {
			if !matches(ep, event) {
				continue
			}
			delivery := d.deliver(context.Background(), ep, event)
			if d.onDelivery != nil {
				d.onDelivery(delivery)
			}
		}
	}
}

// matches checks the endpoint's event and environment filters.
func matches(ep Endpoint, event Event) bool {
	if len(ep.Events) > 0 && !slices.Contains(ep.Events, event.Type) {
		return false
	}
	if len(ep.Environments) > 0 && !slices.Contains(ep.Environments, event.Environment) {
		return false
	}
	return true
}

// statusError is a non-2xx response.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("endpoint returned %d: %s", e.code, e.body)
}

// deliver posts the event, retrying transport errors, 429 and 5xx with exponential backoff.
func (d *Dispatcher) deliver(ctx context.Context, ep Endpoint, event Event) Delivery {
	delivery := Delivery{ID: uuid.NewString(), URL: ep.URL, EventType: event.Type}
	start := time.Now()

	payload, err := json.Marshal(event)
	if err != nil {
		delivery.Err = fmt.Errorf("marshal event: %w", err)
		return delivery
	}
	signature := Sign(payload, ep.Secret)

	attempt := func() (int, error) {
		delivery.Attempts++
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(payload))
		if err != nil {
			return 0, backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(HeaderSignature, signature)
		req.Header.Set(HeaderEvent, event.Type)
		req.Header.Set(HeaderDelivery, delivery.ID)

		resp, err := d.client.Do(req)
		if err != nil {
			return 0, err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			_, _ = io.Copy(io.Discard, resp.Body)
			return resp.StatusCode, nil
		}
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
		serr := &statusError{code: resp.StatusCode, body: string(body)}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return resp.StatusCode, serr
		}
		return resp.StatusCode, backoff.Permanent(serr)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = d.initialInterval
	bo.Multiplier = 2

	status, err := backoff.Retry(ctx, attempt,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(uint(d.maxRetries+1)),
		backoff.WithNotify(func(err error, next time.Duration) {
			d.log.Warn().Err(err).Str("url", ep.URL).Str("delivery_id", delivery.ID).
				Int("attempt", delivery.Attempts).Dur("retry_in", next).Msg("webhook delivery failed, retrying")
		}),
	)

	delivery.StatusCode = status
	var serr *statusError
	if errors.As(err, &serr) {
		delivery.StatusCode = serr.code
	}
	delivery.Err = err
	delivery.Duration = time.Since(start)

	logEvent := d.log.Info()
	if err != nil {
		logEvent = d.log.Error().Err(err)
	}
	logEvent.Str("url", ep.URL).Str("event", event.Type).Str("delivery_id", delivery.ID).
		Int("status", delivery.StatusCode).Int("attempts", delivery.Attempts).
		Dur("duration", delivery.Duration).Msg("webhook delivery finished")
	return delivery
}
