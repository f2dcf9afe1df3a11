package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"everactive/internal/model"
)

// NATS subjects for alert fan-out. Per-user alerts are published on
// "<subject>.<userID>" as well.
const (
	SubjectAlarmFall = "safety.alarm.FALL"
	SubjectAlarmSOS  = "safety.alarm.SOS"
	SubjectAlarmRule = "safety.alarm.RULE"
)

// AlertMessage is the fan-out payload for Fall/SOS alerts
type AlertMessage struct {
	Type      model.EventType `json:"type"`
	UserID    uint            `json:"user_id"`
	UserName  string          `json:"user_name"`
	Latitude  float64         `json:"latitude"`
	Longitude float64         `json:"longitude"`
	Timestamp int64           `json:"timestamp"`
}

// EventService is the server-side ingestion pipeline: it validates and
// persists incoming batches, then propagates each event to the state
// aggregator through a bounded queue so the caller never waits on state
// updates.
type EventService struct {
	db     *gorm.DB
	states *UserStateService
	nats   *nats.Conn
	redis  *redis.Client

	queue    chan model.Event
	done     chan struct{}
	drained  chan struct{}
	stopOnce sync.Once
}

// NewEventService creates the pipeline with the given queue capacity
func NewEventService(db *gorm.DB, states *UserStateService, natsConn *nats.Conn, redisClient *redis.Client, queueSize int) *EventService {
	if queueSize <= 0 {
		queueSize = 1000
	}
	return &EventService{
		db:      db,
		states:  states,
		nats:    natsConn,
		redis:   redisClient,
		queue:   make(chan model.Event, queueSize),
		done:    make(chan struct{}),
		drained: make(chan struct{}),
	}
}

// Start launches the queue consumer
func (s *EventService) Start() error {
	go s.consume()
	log.Println("[Ingest] Queue consumer started")
	return nil
}

// Stop shuts the consumer down. Queued items that were not yet applied are
// dropped; the events themselves are already durably persisted.
func (s *EventService) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		<-s.drained
		log.Println("[Ingest] Queue consumer stopped")
	})
}

// PushEvents validates and persists a batch for a user, then enqueues every
// event for state propagation. Validation failures reject the whole batch with
// nothing persisted. Redelivered events (same client event ID) are skipped by
// the insert, keeping client retries idempotent.
func (s *EventService) PushEvents(ctx context.Context, user model.User, req model.PushEventsRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}

	events := make([]model.Event, 0, len(req.Events))
	for _, dto := range req.Events {
		ev, err := model.NewEvent(user.ID, dto)
		if err != nil {
			return fmt.Errorf("encode event %s: %w", dto.ID, err)
		}
		events = append(events, ev)
	}

	if err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&events).Error; err != nil {
		return fmt.Errorf("persist events: %w", err)
	}

	for _, dto := range req.Events {
		s.publishAlert(ctx, user, dto)
	}

	// Enqueue last so the response never waits on state propagation beyond
	// queue backpressure. State updates are monotonic overwrites, so
	// re-enqueueing a redelivered event is harmless.
	for _, ev := range events {
		select {
		case s.queue <- ev:
		case <-s.done:
			return nil
		}
	}

	return nil
}

func (s *EventService) consume() {
	defer close(s.drained)
	for {
		select {
		case <-s.done:
			return
		case ev := <-s.queue:
			s.apply(ev)
		}
	}
}

// apply hands one event to the aggregator. One bad event must never stop the
// stream.
func (s *EventService) apply(ev model.Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[Ingest] Panic processing event %d: %v", ev.ID, r)
		}
	}()
	if err := s.states.Update(ev); err != nil {
		log.Printf("[Ingest] Error processing event %d: %v", ev.ID, err)
	}
}

// publishAlert fans Fall and non-cancel SOS events out to NATS and caches the
// most recent alert per user in Redis for the operator dashboard
func (s *EventService) publishAlert(ctx context.Context, user model.User, dto model.EventDTO) {
	var subject string
	switch {
	case dto.Type == model.EventTypeFall:
		subject = SubjectAlarmFall
	case dto.Type == model.EventTypeSOS && !dto.Cancel:
		subject = SubjectAlarmSOS
	default:
		return
	}

	msg := AlertMessage{
		Type:      dto.Type,
		UserID:    user.ID,
		UserName:  user.Name,
		Latitude:  dto.Latitude,
		Longitude: dto.Longitude,
		Timestamp: dto.Timestamp,
	}

	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("[Ingest] Failed to marshal alert: %v", err)
		return
	}

	if s.nats != nil {
		if err := s.nats.Publish(subject, data); err != nil {
			log.Printf("[Ingest] Failed to publish alert: %v", err)
		}
		s.nats.Publish(fmt.Sprintf("%s.%d", subject, user.ID), data)
	}

	if s.redis != nil {
		key := fmt.Sprintf("safety:alert:%d", user.ID)
		s.redis.Set(ctx, key, data, 24*time.Hour)

		listKey := "safety:alerts:recent"
		s.redis.LPush(ctx, listKey, data)
		s.redis.LTrim(ctx, listKey, 0, 99)
	}
}
