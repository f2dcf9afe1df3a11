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
	"github.com/robfig/cron/v3"
	"gorm.io/gorm"

	"everactive/internal/model"
)

// RuleTransition is the fan-out payload for an edge-triggered rule change
type RuleTransition struct {
	UserID    uint       `json:"user_id"`
	RuleID    uint       `json:"rule_id"`
	Rule      model.Rule `json:"rule"`
	IsFailed  bool       `json:"is_failed"`
	Timestamp int64      `json:"timestamp"`
}

type ruleUserKey struct {
	ruleID uint
	userID uint
}

// RuleScheduler periodically evaluates every active group's rules against its
// members' state snapshots. Transitions are appended to the rule_events audit
// log; the full currently-violated set per user is kept in memory for the
// push-events response and mirrored to Redis for operator views.
type RuleScheduler struct {
	db     *gorm.DB
	states *UserStateService
	nats   *nats.Conn
	redis  *redis.Client

	interval time.Duration
	cron     *cron.Cron
	now      func() time.Time

	// lastResults is only touched by the evaluation pass, which the cron
	// chain serializes; no lock needed
	lastResults map[ruleUserKey]bool

	mu        sync.RWMutex
	triggered map[uint][]model.Rule
}

// NewRuleScheduler creates a scheduler evaluating every interval
func NewRuleScheduler(db *gorm.DB, states *UserStateService, natsConn *nats.Conn, redisClient *redis.Client, interval time.Duration) *RuleScheduler {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &RuleScheduler{
		db:          db,
		states:      states,
		nats:        natsConn,
		redis:       redisClient,
		interval:    interval,
		now:         time.Now,
		lastResults: make(map[ruleUserKey]bool),
		triggered:   make(map[uint][]model.Rule),
	}
}

// Start schedules the evaluation pass. SkipIfStillRunning guarantees two
// passes never overlap even when one overruns the interval.
func (s *RuleScheduler) Start() error {
	s.cron = cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DefaultLogger),
		cron.Recover(cron.DefaultLogger),
	))
	if _, err := s.cron.AddFunc(fmt.Sprintf("@every %s", s.interval), s.EvaluateAll); err != nil {
		return fmt.Errorf("schedule rule evaluation: %w", err)
	}
	s.cron.Start()
	log.Printf("[Rules] Scheduler started, interval %s", s.interval)
	return nil
}

// Stop halts scheduling and waits for an in-flight pass to finish
func (s *RuleScheduler) Stop() {
	if s.cron != nil {
		ctx := s.cron.Stop()
		<-ctx.Done()
	}
	log.Println("[Rules] Scheduler stopped")
}

// EvaluateAll runs one evaluation pass over all groups
func (s *RuleScheduler) EvaluateAll() {
	now := s.now()

	var groups []model.Group
	if err := s.db.Preload("Users").Preload("Rules").Preload("TimeFrames").Find(&groups).Error; err != nil {
		log.Printf("[Rules] Failed to load groups: %v", err)
		return
	}

	var transitions []model.RuleEvent

	for i := range groups {
		group := &groups[i]
		if !s.isActive(group, now) {
			continue
		}

		for _, user := range group.Users {
			state := s.states.Snapshot(user.ID)

			violated := make([]model.Rule, 0)
			for _, rec := range group.Rules {
				result := Evaluate(rec.Rule, state, now)
				if result {
					violated = append(violated, rec.Rule)
				}
				transitions = s.handleResult(rec, user.ID, result, now, transitions)
			}

			s.setTriggered(user.ID, violated)
			s.mirrorTriggered(user.ID, violated)
		}
	}

	// One batched write per pass. The last-result map is already updated, so
	// a failed audit write never causes duplicate transition records later.
	if len(transitions) > 0 {
		if err := s.db.Create(&transitions).Error; err != nil {
			log.Printf("[Rules] Failed to save rule events: %v", err)
		}
	}
}

// isActive reports whether any of the group's time frames contain now
func (s *RuleScheduler) isActive(group *model.Group, now time.Time) bool {
	for _, frame := range group.TimeFrames {
		if frame.ContainsTime(now) {
			return true
		}
	}
	return false
}

// handleResult performs the edge detection for one (rule, user) pair. A pair
// never evaluated before counts as a transition, so the audit log records the
// initial verdict too.
func (s *RuleScheduler) handleResult(rec model.RuleRecord, userID uint, result bool, now time.Time, transitions []model.RuleEvent) []model.RuleEvent {
	key := ruleUserKey{ruleID: rec.ID, userID: userID}
	prev, seen := s.lastResults[key]
	if seen && prev == result {
		return transitions
	}

	s.lastResults[key] = result
	s.publishTransition(rec, userID, result, now)

	return append(transitions, model.RuleEvent{
		RuleID:    rec.ID,
		UserID:    userID,
		Timestamp: now,
		IsFailed:  result,
	})
}

func (s *RuleScheduler) publishTransition(rec model.RuleRecord, userID uint, result bool, now time.Time) {
	if s.nats == nil {
		return
	}
	data, err := json.Marshal(RuleTransition{
		UserID:    userID,
		RuleID:    rec.ID,
		Rule:      rec.Rule,
		IsFailed:  result,
		Timestamp: now.UnixMilli(),
	})
	if err != nil {
		return
	}
	if err := s.nats.Publish(SubjectAlarmRule, data); err != nil {
		log.Printf("[Rules] Failed to publish transition: %v", err)
	}
}

func (s *RuleScheduler) setTriggered(userID uint, rules []model.Rule) {
	s.mu.Lock()
	s.triggered[userID] = rules
	s.mu.Unlock()
}

// mirrorTriggered keeps the operator-facing Redis copy of the triggered set
func (s *RuleScheduler) mirrorTriggered(userID uint, rules []model.Rule) {
	if s.redis == nil {
		return
	}
	key := fmt.Sprintf("safety:triggered:%d", userID)
	ctx := context.Background()
	if len(rules) == 0 {
		s.redis.Del(ctx, key)
		return
	}
	data, err := json.Marshal(rules)
	if err != nil {
		return
	}
	s.redis.Set(ctx, key, data, 2*s.interval+time.Minute)
}

// TriggeredRules returns the rules that evaluated true for the user on the
// most recent pass
func (s *RuleScheduler) TriggeredRules(userID uint) []model.Rule {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rules := s.triggered[userID]
	out := make([]model.Rule, len(rules))
	copy(out, rules)
	return out
}

// Evaluate applies one rule to a state snapshot.
//
// NotMoved deliberately returns false when no movement was ever recorded: a
// freshly enrolled user is indistinguishable from one whose device just came
// up, and the never-reported case is MissingUpdates' job.
func Evaluate(rule model.Rule, state model.UserState, now time.Time) bool {
	switch rule.Type {
	case model.RuleTypeNotMoved:
		if state.LastMoveTime == nil {
			return false
		}
		return now.Sub(*state.LastMoveTime) >= time.Duration(rule.DurationMinutes)*time.Minute

	case model.RuleTypeMissingUpdates:
		last := time.Time{}
		if state.LastEventTime != nil {
			last = *state.LastEventTime
		}
		return now.Sub(last) >= time.Duration(rule.DurationMinutes)*time.Minute

	case model.RuleTypeGeofenceBox:
		loc := state.LastLocation
		if loc == nil {
			return false
		}
		return loc.Latitude < rule.MinLatitude || loc.Latitude > rule.MaxLatitude ||
			loc.Longitude < rule.MinLongitude || loc.Longitude > rule.MaxLongitude
	}
	return false
}
