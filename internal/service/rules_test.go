package service

import (
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"everactive/internal/model"
)

func TestEvaluate_NotMoved(t *testing.T) {
	now := time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC)
	rule := model.Rule{Type: model.RuleTypeNotMoved, DurationMinutes: 10}

	t.Run("never moved does not fire", func(t *testing.T) {
		assert.False(t, Evaluate(rule, model.UserState{}, now))
	})

	t.Run("recent movement does not fire", func(t *testing.T) {
		moved := now.Add(-5 * time.Minute)
		assert.False(t, Evaluate(rule, model.UserState{LastMoveTime: &moved}, now))
	})

	t.Run("stale movement fires", func(t *testing.T) {
		moved := now.Add(-11 * time.Minute)
		assert.True(t, Evaluate(rule, model.UserState{LastMoveTime: &moved}, now))
	})

	t.Run("threshold boundary fires", func(t *testing.T) {
		moved := now.Add(-10 * time.Minute)
		assert.True(t, Evaluate(rule, model.UserState{LastMoveTime: &moved}, now))
	})
}

func TestEvaluate_MissingUpdates(t *testing.T) {
	now := time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC)
	rule := model.Rule{Type: model.RuleTypeMissingUpdates, DurationMinutes: 15}

	t.Run("no event ever fires", func(t *testing.T) {
		assert.True(t, Evaluate(rule, model.UserState{}, now))
	})

	t.Run("recent event does not fire", func(t *testing.T) {
		seen := now.Add(-time.Minute)
		assert.False(t, Evaluate(rule, model.UserState{LastEventTime: &seen}, now))
	})

	t.Run("stale event fires", func(t *testing.T) {
		seen := now.Add(-16 * time.Minute)
		assert.True(t, Evaluate(rule, model.UserState{LastEventTime: &seen}, now))
	})
}

func TestEvaluate_GeofenceBox(t *testing.T) {
	now := time.Now()
	rule := model.Rule{
		Type:         model.RuleTypeGeofenceBox,
		MinLatitude:  0, MaxLatitude: 1,
		MinLongitude: 0, MaxLongitude: 1,
	}

	t.Run("no location cannot fire", func(t *testing.T) {
		assert.False(t, Evaluate(rule, model.UserState{}, now))
	})

	t.Run("inside the box does not fire", func(t *testing.T) {
		state := model.UserState{LastLocation: &model.Location{Latitude: 0.5, Longitude: 0.5}}
		assert.False(t, Evaluate(rule, state, now))
	})

	t.Run("outside the box fires", func(t *testing.T) {
		state := model.UserState{LastLocation: &model.Location{Latitude: 5, Longitude: 5}}
		assert.True(t, Evaluate(rule, state, now))
	})
}

// alwaysFrame covers the whole week
func alwaysFrame() model.TimeFrame {
	return model.TimeFrame{WeekDayStart: 0, HourStart: 0, WeekDayEnd: 6, HourEnd: 23}
}

func seedGroup(t *testing.T, db *gorm.DB, rule model.Rule, frames ...model.TimeFrame) (model.Group, model.User) {
	t.Helper()
	group := model.Group{Name: "field crew"}
	require.NoError(t, db.Create(&group).Error)

	user := model.User{Email: "ann@example.com", Name: "Ann", Password: "x", GroupID: &group.ID}
	require.NoError(t, db.Create(&user).Error)

	record := model.RuleRecord{GroupID: group.ID, Rule: rule}
	require.NoError(t, db.Create(&record).Error)

	for _, frame := range frames {
		frame.GroupID = group.ID
		require.NoError(t, db.Create(&frame).Error)
	}
	return group, user
}

func newTestScheduler(t *testing.T, db *gorm.DB, states *UserStateService) *RuleScheduler {
	t.Helper()
	return NewRuleScheduler(db, states, nil, newTestRedis(t), 5*time.Second)
}

func TestRuleScheduler_GeofenceScenario(t *testing.T) {
	db := newTestDB(t)
	states := NewUserStateService()
	scheduler := newTestScheduler(t, db, states)

	rule := model.Rule{Type: model.RuleTypeGeofenceBox, MinLatitude: 0, MaxLatitude: 1, MinLongitude: 0, MaxLongitude: 1}
	_, user := seedGroup(t, db, rule, alwaysFrame())

	require.NoError(t, states.Update(mustEvent(t, user.ID, model.EventDTO{
		Type: model.EventTypeLocation, Timestamp: time.Now().UnixMilli(),
		Latitude: 5, Longitude: 5,
	})))

	scheduler.EvaluateAll()

	triggered := scheduler.TriggeredRules(user.ID)
	require.Len(t, triggered, 1)
	assert.Equal(t, model.RuleTypeGeofenceBox, triggered[0].Type)
}

func TestRuleScheduler_EdgeTriggering(t *testing.T) {
	db := newTestDB(t)
	states := NewUserStateService()
	scheduler := newTestScheduler(t, db, states)

	now := time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC)
	scheduler.now = func() time.Time { return now }

	rule := model.Rule{Type: model.RuleTypeNotMoved, DurationMinutes: 10}
	_, user := seedGroup(t, db, rule, alwaysFrame())

	moved := now.Add(-11 * time.Minute)
	require.NoError(t, states.Update(mustEvent(t, user.ID, model.EventDTO{
		Type: model.EventTypeMove, Timestamp: moved.UnixMilli(),
	})))

	countEvents := func() int64 {
		var n int64
		require.NoError(t, db.Model(&model.RuleEvent{}).Count(&n).Error)
		return n
	}

	scheduler.EvaluateAll()
	assert.EqualValues(t, 1, countEvents(), "first violation is recorded")

	scheduler.EvaluateAll()
	scheduler.EvaluateAll()
	assert.EqualValues(t, 1, countEvents(), "an unchanged result produces no further records")

	// The user moves, clearing the rule.
	now = now.Add(time.Minute)
	cleared := now
	require.NoError(t, states.Update(mustEvent(t, user.ID, model.EventDTO{
		Type: model.EventTypeMove, Timestamp: cleared.UnixMilli(),
	})))
	scheduler.EvaluateAll()
	assert.EqualValues(t, 2, countEvents(), "clearing is a transition too")
	assert.Empty(t, scheduler.TriggeredRules(user.ID))

	// Still again past the threshold.
	now = now.Add(11 * time.Minute)
	scheduler.EvaluateAll()
	assert.EqualValues(t, 3, countEvents())

	var last model.RuleEvent
	require.NoError(t, db.Order("id DESC").First(&last).Error)
	assert.True(t, last.IsFailed)
	assert.Equal(t, user.ID, last.UserID)
}

func TestRuleScheduler_InitialPassingVerdictRecorded(t *testing.T) {
	db := newTestDB(t)
	states := NewUserStateService()
	scheduler := newTestScheduler(t, db, states)

	rule := model.Rule{Type: model.RuleTypeNotMoved, DurationMinutes: 10}
	_, user := seedGroup(t, db, rule, alwaysFrame())

	require.NoError(t, states.Update(mustEvent(t, user.ID, model.EventDTO{
		Type: model.EventTypeMove, Timestamp: time.Now().UnixMilli(),
	})))

	scheduler.EvaluateAll()

	var events []model.RuleEvent
	require.NoError(t, db.Find(&events).Error)
	require.Len(t, events, 1, "the first evaluation records the initial verdict")
	assert.False(t, events[0].IsFailed)
}

func TestRuleScheduler_InactiveGroupSkipped(t *testing.T) {
	db := newTestDB(t)
	states := NewUserStateService()
	scheduler := newTestScheduler(t, db, states)

	// Monday-only window, evaluated on a Tuesday.
	scheduler.now = func() time.Time { return time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC) }

	rule := model.Rule{Type: model.RuleTypeMissingUpdates, DurationMinutes: 1}
	frame := model.TimeFrame{WeekDayStart: 0, HourStart: 0, WeekDayEnd: 0, HourEnd: 23}
	_, user := seedGroup(t, db, rule, frame)

	scheduler.EvaluateAll()

	var count int64
	require.NoError(t, db.Model(&model.RuleEvent{}).Count(&count).Error)
	assert.EqualValues(t, 0, count)
	assert.Empty(t, scheduler.TriggeredRules(user.ID))
}

func TestRuleScheduler_MirrorsTriggeredToRedis(t *testing.T) {
	db := newTestDB(t)
	states := NewUserStateService()
	mr := miniredis.RunT(t)
	scheduler := NewRuleScheduler(db, states, nil, redis.NewClient(&redis.Options{Addr: mr.Addr()}), 5*time.Second)

	rule := model.Rule{Type: model.RuleTypeMissingUpdates, DurationMinutes: 1}
	_, user := seedGroup(t, db, rule, alwaysFrame())

	scheduler.EvaluateAll()

	key := fmt.Sprintf("safety:triggered:%d", user.ID)
	val, err := mr.Get(key)
	require.NoError(t, err)
	assert.Contains(t, val, string(model.RuleTypeMissingUpdates))

	// An event arrives, the rule clears, the mirror is removed.
	require.NoError(t, states.Update(mustEvent(t, user.ID, model.EventDTO{
		Type: model.EventTypePing, Timestamp: time.Now().UnixMilli(),
	})))
	scheduler.EvaluateAll()
	assert.False(t, mr.Exists(key))
}
