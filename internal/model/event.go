package model

import (
	"encoding/json"
	"errors"
	"time"
)

// EventType discriminates the event payload union
type EventType string

const (
	EventTypePing              EventType = "Ping"
	EventTypeMove              EventType = "Move"
	EventTypeLocation          EventType = "Location"
	EventTypeFall              EventType = "Fall"
	EventTypeSOS               EventType = "SOS"
	EventTypeSignificantMotion EventType = "SignificantMotion"
)

// EventDTO is the wire form of a client event. The type field selects which
// of the optional fields are meaningful; timestamps are epoch milliseconds
// assigned by the client.
type EventDTO struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Timestamp int64     `json:"timestamp"`
	Steps     int       `json:"steps,omitempty"`
	Latitude  float64   `json:"latitude,omitempty"`
	Longitude float64   `json:"longitude,omitempty"`
	Cancel    bool      `json:"cancel,omitempty"`

	// TotalDelta carries the accumulated magnitude change of a
	// SignificantMotion episode
	TotalDelta float64 `json:"totalDelta,omitempty"`
}

// Time converts the client timestamp to UTC time
func (e EventDTO) Time() time.Time {
	return time.UnixMilli(e.Timestamp).UTC()
}

var validEventTypes = map[EventType]bool{
	EventTypePing:              true,
	EventTypeMove:              true,
	EventTypeLocation:          true,
	EventTypeFall:              true,
	EventTypeSOS:               true,
	EventTypeSignificantMotion: true,
}

// PushEventsRequest is the body of POST /api/v1/events
type PushEventsRequest struct {
	Events []EventDTO `json:"events"`
}

// PushEventsResponse carries the currently triggered rules back to the client
type PushEventsResponse struct {
	TriggeredRules []Rule `json:"triggeredRules"`
}

var (
	ErrNoEvents         = errors.New("at least one event is required")
	ErrEventsUnordered  = errors.New("events must be ordered by timestamp")
	ErrMissingEventID   = errors.New("every event requires an id")
	ErrUnknownEventType = errors.New("unknown event type")
)

// IsValidationError reports whether err is a batch validation rejection, as
// opposed to a persistence failure
func IsValidationError(err error) bool {
	return errors.Is(err, ErrNoEvents) ||
		errors.Is(err, ErrEventsUnordered) ||
		errors.Is(err, ErrMissingEventID) ||
		errors.Is(err, ErrUnknownEventType)
}

// Validate checks the batch invariants: non-empty, known types, client event
// IDs present, timestamps non-decreasing. Equal timestamps are allowed, the
// step detector can emit several events within one millisecond.
func (r PushEventsRequest) Validate() error {
	if len(r.Events) == 0 {
		return ErrNoEvents
	}
	for i, ev := range r.Events {
		if !validEventTypes[ev.Type] {
			return ErrUnknownEventType
		}
		if ev.ID == "" {
			return ErrMissingEventID
		}
		if i > 0 && ev.Timestamp < r.Events[i-1].Timestamp {
			return ErrEventsUnordered
		}
	}
	return nil
}

// Event is a persisted client event. Append-only; immutable once written.
// (user_id, event_id) is unique so redelivered batches insert nothing new.
type Event struct {
	ID        uint            `json:"id" gorm:"primaryKey"`
	UserID    uint            `json:"user_id" gorm:"not null;index;uniqueIndex:uidx_events_user_event,priority:1"`
	EventID   string          `json:"event_id" gorm:"size:36;not null;uniqueIndex:uidx_events_user_event,priority:2"`
	Type      EventType       `json:"type" gorm:"size:32;not null"`
	Timestamp time.Time       `json:"timestamp" gorm:"not null;index"`
	Data      json.RawMessage `json:"data" gorm:"type:jsonb;not null"`
	CreatedAt time.Time       `json:"created_at"`
}

func (Event) TableName() string {
	return "events"
}

// NewEvent builds the persisted row for a validated DTO
func NewEvent(userID uint, dto EventDTO) (Event, error) {
	data, err := json.Marshal(dto)
	if err != nil {
		return Event{}, err
	}
	return Event{
		UserID:    userID,
		EventID:   dto.ID,
		Type:      dto.Type,
		Timestamp: dto.Time(),
		Data:      data,
	}, nil
}

// DTO decodes the stored payload
func (e Event) DTO() (EventDTO, error) {
	var dto EventDTO
	if err := json.Unmarshal(e.Data, &dto); err != nil {
		return EventDTO{}, err
	}
	return dto, nil
}
