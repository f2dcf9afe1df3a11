package alert

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"everactive/internal/model"
)

// Status is the alert lifecycle state
type Status int

const (
	StatusNone Status = iota
	StatusPending
	StatusSent
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "PENDING"
	case StatusSent:
		return "SENT"
	default:
		return "NONE"
	}
}

// CountdownSeconds is how long a pending alert can still be cancelled
const CountdownSeconds = 10

// EventSink receives the emitted alert event, normally the outbox
type EventSink interface {
	Record(model.EventDTO)
}

// Machine owns the alert lifecycle: NONE -> PENDING (cancellable countdown)
// -> SENT -> NONE. At most one countdown task runs at a time; triggering
// cancels any prior task before starting the new one.
type Machine struct {
	mu        sync.Mutex
	status    Status
	countdown int
	kind      model.EventType
	cancel    context.CancelFunc

	sink     EventSink
	location func() *model.Location

	tick time.Duration
}

// NewMachine creates an idle machine. location returns the last known
// position for the emitted event, nil when none is known yet.
func NewMachine(sink EventSink, location func() *model.Location) *Machine {
	if location == nil {
		location = func() *model.Location { return nil }
	}
	return &Machine{
		sink:     sink,
		location: location,
		tick:     time.Second,
	}
}

// TriggerSOS starts the countdown for a manual SOS. No-op unless idle.
func (m *Machine) TriggerSOS() bool {
	return m.trigger(model.EventTypeSOS)
}

// TriggerFall starts the countdown for a classifier fall. No-op unless idle.
func (m *Machine) TriggerFall() bool {
	return m.trigger(model.EventTypeFall)
}

func (m *Machine) trigger(kind model.EventType) bool {
	m.mu.Lock()
	if m.status != StatusNone {
		m.mu.Unlock()
		return false
	}
	if m.cancel != nil {
		m.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.status = StatusPending
	m.countdown = CountdownSeconds
	m.kind = kind
	m.mu.Unlock()

	log.Printf("[Alert] %s pending, sending in %ds", kind, CountdownSeconds)
	go m.run(ctx)
	return true
}

// CancelSOS aborts a pending alert before it is sent. Nothing is emitted.
func (m *Machine) CancelSOS() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status != StatusPending {
		return false
	}
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.status = StatusNone
	m.countdown = 0
	log.Println("[Alert] cancelled before send")
	return true
}

// CloseAlert acknowledges a sent alert and returns to idle
func (m *Machine) CloseAlert() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status != StatusSent {
		return false
	}
	m.status = StatusNone
	return true
}

// Status returns the current lifecycle state
func (m *Machine) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Countdown returns the remaining seconds of a pending alert
func (m *Machine) Countdown() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.countdown
}

func (m *Machine) run(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			// Failing the countdown must never drop the alert.
			log.Printf("[Alert] countdown recovered: %v, sending immediately", r)
			m.mu.Lock()
			if m.status == StatusPending {
				m.sendLocked()
			}
			m.mu.Unlock()
		}
	}()

	ticker := time.NewTicker(m.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if m.step() {
				return
			}
		}
	}
}

// step decrements the countdown, firing at zero. Returns true when the
// task is finished.
func (m *Machine) step() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status != StatusPending {
		return true
	}
	m.countdown--
	if m.countdown > 0 {
		return false
	}
	m.sendLocked()
	return true
}

func (m *Machine) sendLocked() {
	m.status = StatusSent
	m.countdown = 0

	event := model.EventDTO{
		ID:        uuid.NewString(),
		Type:      m.kind,
		Timestamp: time.Now().UnixMilli(),
	}
	if loc := m.location(); loc != nil {
		event.Latitude = loc.Latitude
		event.Longitude = loc.Longitude
	}
	m.sink.Record(event)
	log.Printf("[Alert] %s sent", m.kind)
}
