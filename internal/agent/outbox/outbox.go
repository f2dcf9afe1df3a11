package outbox

import (
	"context"
	"log"
	"sync"
	"time"

	"everactive/internal/model"
)

const (
	// FlushInterval paces the periodic flush
	FlushInterval = 5 * time.Second
	// BatchSize caps one flush and triggers an early flush when reached
	BatchSize = 10

	finalFlushTimeout = 10 * time.Second
)

// Sender pushes one batch to the server. The outbox retries a failed batch on
// the next flush, so duplicate delivery is possible and the server is expected
// to deduplicate by event ID.
type Sender interface {
	PushEvents(ctx context.Context, events []model.EventDTO) ([]model.Rule, error)
}

// Outbox buffers produced events until they are acknowledged by the server.
// Record and the flush timer run on different goroutines; the pending list is
// the shared structure guarded by the mutex.
type Outbox struct {
	mu      sync.Mutex
	pending []model.EventDTO

	sender      Sender
	onTriggered func([]model.Rule)

	interval time.Duration
	kick     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// New creates an outbox. onTriggered, when non-nil, receives the triggered
// rules from every successful push.
func New(sender Sender, onTriggered func([]model.Rule)) *Outbox {
	return &Outbox{
		sender:      sender,
		onTriggered: onTriggered,
		interval:    FlushInterval,
		kick:        make(chan struct{}, 1),
		done:        make(chan struct{}),
	}
}

// Start launches the flush loop
func (o *Outbox) Start() {
	go o.loop()
}

func (o *Outbox) loop() {
	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()
	for {
		select {
		case <-o.done:
			return
		case <-ticker.C:
		case <-o.kick:
		}
		if err := o.Flush(context.Background()); err != nil {
			log.Printf("[Outbox] flush failed, will retry: %v", err)
		}
	}
}

// Record appends one event. Reaching the batch size nudges the flush loop
// instead of waiting out the interval.
func (o *Outbox) Record(event model.EventDTO) {
	o.mu.Lock()
	o.pending = append(o.pending, event)
	full := len(o.pending) >= BatchSize
	o.mu.Unlock()

	if full {
		select {
		case o.kick <- struct{}{}:
		default:
		}
	}
}

// Pending returns the number of buffered events
func (o *Outbox) Pending() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.pending)
}

// Flush sends one batch. The batch is snapshotted without clearing, and on
// success exactly the sent events are removed, so events appended while the
// push was in flight survive. On failure the batch stays for the next flush.
func (o *Outbox) Flush(ctx context.Context) error {
	o.mu.Lock()
	n := len(o.pending)
	if n > BatchSize {
		n = BatchSize
	}
	if n == 0 {
		o.mu.Unlock()
		return nil
	}
	batch := make([]model.EventDTO, n)
	copy(batch, o.pending[:n])
	o.mu.Unlock()

	triggered, err := o.sender.PushEvents(ctx, batch)
	if err != nil {
		return err
	}

	sent := make(map[string]struct{}, len(batch))
	for _, ev := range batch {
		sent[ev.ID] = struct{}{}
	}
	o.mu.Lock()
	kept := o.pending[:0]
	for _, ev := range o.pending {
		if _, ok := sent[ev.ID]; !ok {
			kept = append(kept, ev)
		}
	}
	o.pending = kept
	o.mu.Unlock()

	if o.onTriggered != nil {
		o.onTriggered(triggered)
	}
	return nil
}

// Close stops the flush loop and attempts one best-effort final flush on a
// detached goroutine so the caller does not block on the network.
func (o *Outbox) Close() {
	o.stopOnce.Do(func() {
		close(o.done)
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), finalFlushTimeout)
			defer cancel()
			if err := o.Flush(ctx); err != nil {
				log.Printf("[Outbox] final flush failed: %v", err)
			}
		}()
	})
}
