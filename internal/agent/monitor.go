package agent

import (
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"everactive/internal/agent/alert"
	"everactive/internal/agent/motion"
	"everactive/internal/agent/outbox"
	"everactive/internal/model"
)

// LocationInterval paces periodic location reports
const LocationInterval = 60 * time.Second

// AccelerometerSource delivers raw tri-axis samples to the given callback.
// Subscribe returns an unsubscribe function.
type AccelerometerSource interface {
	Subscribe(func(x, y, z float64)) (func(), error)
}

// StepSource delivers detected step counts
type StepSource interface {
	Subscribe(func(steps int)) (func(), error)
}

// LocationSource reports the current position; ok is false when no fix is
// available
type LocationSource interface {
	Current() (loc model.Location, ok bool)
}

// Monitor wires the sensor sources to the motion classifier, alert machine
// and outbox. A missing sensor capability degrades that capability to a
// no-op; monitoring itself keeps running.
type Monitor struct {
	box    *outbox.Outbox
	alerts *alert.Machine

	accel    AccelerometerSource
	steps    StepSource
	location LocationSource

	mu      sync.Mutex
	lastLoc *model.Location

	process func(x, y, z float64)

	unsubscribe []func()
	done        chan struct{}
	stopOnce    sync.Once
}

// NewMonitor creates a monitor. Any of the sensor sources may be nil.
func NewMonitor(box *outbox.Outbox, sensitivity motion.Sensitivity, hold motion.WakeHold,
	accel AccelerometerSource, steps StepSource, location LocationSource) *Monitor {
	m := &Monitor{
		box:      box,
		accel:    accel,
		steps:    steps,
		location: location,
		done:     make(chan struct{}),
	}
	m.alerts = alert.NewMachine(box, m.lastLocation)
	classifier := motion.NewClassifier(sensitivity, hold, func() {
		if !m.alerts.TriggerFall() {
			log.Println("[Monitor] fall intent dropped, alert already active")
		}
	})
	m.process = classifier.Process
	return m
}

// Start subscribes the sensors and records the initial ping
func (m *Monitor) Start() {
	m.box.Start()
	m.box.Record(m.newEvent(model.EventTypePing))
	log.Println("[Monitor] monitoring started")

	if m.accel != nil {
		unsub, err := m.accel.Subscribe(m.process)
		if err != nil {
			log.Printf("[Monitor] accelerometer unavailable, fall detection disabled: %v", err)
		} else {
			m.unsubscribe = append(m.unsubscribe, unsub)
		}
	} else {
		log.Println("[Monitor] no accelerometer, fall detection disabled")
	}

	if m.steps != nil {
		unsub, err := m.steps.Subscribe(m.onSteps)
		if err != nil {
			log.Printf("[Monitor] step counter unavailable, movement tracking disabled: %v", err)
		} else {
			m.unsubscribe = append(m.unsubscribe, unsub)
		}
	} else {
		log.Println("[Monitor] no step counter, movement tracking disabled")
	}

	if m.location != nil {
		go m.locationLoop()
	} else {
		log.Println("[Monitor] no location source, location reporting disabled")
	}
}

// Stop unsubscribes the sensors and flushes the outbox without blocking on
// the network
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() {
		close(m.done)
		for _, unsub := range m.unsubscribe {
			unsub()
		}
		m.box.Close()
		log.Println("[Monitor] monitoring stopped")
	})
}

// TriggerSOS starts the manual SOS countdown
func (m *Monitor) TriggerSOS() bool { return m.alerts.TriggerSOS() }

// CancelSOS aborts a pending alert
func (m *Monitor) CancelSOS() bool { return m.alerts.CancelSOS() }

// CloseAlert acknowledges a sent alert
func (m *Monitor) CloseAlert() bool { return m.alerts.CloseAlert() }

// AlertStatus exposes the alert lifecycle state
func (m *Monitor) AlertStatus() alert.Status { return m.alerts.Status() }

func (m *Monitor) onSteps(steps int) {
	event := m.newEvent(model.EventTypeMove)
	event.Steps = steps
	m.box.Record(event)
}

func (m *Monitor) locationLoop() {
	m.reportLocation()
	ticker := time.NewTicker(LocationInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.reportLocation()
		}
	}
}

func (m *Monitor) reportLocation() {
	loc, ok := m.location.Current()
	if !ok {
		return
	}
	m.mu.Lock()
	m.lastLoc = &loc
	m.mu.Unlock()

	event := m.newEvent(model.EventTypeLocation)
	event.Latitude = loc.Latitude
	event.Longitude = loc.Longitude
	m.box.Record(event)
}

func (m *Monitor) lastLocation() *model.Location {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lastLoc == nil {
		return nil
	}
	loc := *m.lastLoc
	return &loc
}

func (m *Monitor) newEvent(kind model.EventType) model.EventDTO {
	return model.EventDTO{
		ID:        uuid.NewString(),
		Type:      kind,
		Timestamp: time.Now().UnixMilli(),
	}
}
