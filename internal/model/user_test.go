package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTimeFrame_Contains(t *testing.T) {
	// Monday 08:00 through Friday 18:00
	frame := TimeFrame{WeekDayStart: 0, HourStart: 8, WeekDayEnd: 4, HourEnd: 18}

	assert.True(t, frame.Contains(0, 8), "start boundary is inclusive")
	assert.True(t, frame.Contains(2, 12))
	assert.True(t, frame.Contains(4, 18), "end boundary is inclusive")
	assert.False(t, frame.Contains(0, 7))
	assert.False(t, frame.Contains(4, 19))
	assert.False(t, frame.Contains(5, 12), "Saturday is outside")
}

func TestTimeFrame_ContainsWrapped(t *testing.T) {
	// Friday 22:00 wrapping to Monday 06:00
	frame := TimeFrame{WeekDayStart: 4, HourStart: 22, WeekDayEnd: 0, HourEnd: 6}

	assert.True(t, frame.Contains(4, 22))
	assert.True(t, frame.Contains(5, 3), "Saturday night is inside")
	assert.True(t, frame.Contains(6, 23), "Sunday is inside")
	assert.True(t, frame.Contains(0, 6))
	assert.False(t, frame.Contains(0, 7))
	assert.False(t, frame.Contains(2, 12), "midweek is outside")
}

func TestTimeFrame_ContainsTime(t *testing.T) {
	// Full week, always active
	always := TimeFrame{WeekDayStart: 0, HourStart: 0, WeekDayEnd: 6, HourEnd: 23}
	assert.True(t, always.ContainsTime(time.Date(2024, 3, 3, 15, 0, 0, 0, time.UTC)))

	// Monday only. 2024-03-04 is a Monday, Go reports it as Weekday 1.
	monday := TimeFrame{WeekDayStart: 0, HourStart: 0, WeekDayEnd: 0, HourEnd: 23}
	assert.True(t, monday.ContainsTime(time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)))
	assert.False(t, monday.ContainsTime(time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)))
}

func TestUserState_FellRecently(t *testing.T) {
	now := time.Now()

	var state UserState
	assert.False(t, state.FellRecently(now))

	recent := now.Add(-10 * time.Minute)
	state.LastFallTime = &recent
	assert.True(t, state.FellRecently(now))

	old := now.Add(-FellRecentlyWindow - time.Minute)
	state.LastFallTime = &old
	assert.False(t, state.FellRecently(now))
}
