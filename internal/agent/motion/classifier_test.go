package motion

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type recordingHold struct {
	acquired int
	released int
}

func (h *recordingHold) Acquire() { h.acquired++ }
func (h *recordingHold) Release() { h.released++ }

// testClassifier returns a classifier on a manual clock. Advance the clock
// through the returned pointer between samples.
func testClassifier(sensitivity Sensitivity, hold WakeHold, onFall func()) (*Classifier, *time.Time) {
	c := NewClassifier(sensitivity, hold, onFall)
	now := time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	return c, &now
}

// feed processes vertical-axis samples of the given magnitudes, advancing the
// clock by step after each one
func feed(c *Classifier, now *time.Time, step time.Duration, magnitudes ...float64) {
	for _, m := range magnitudes {
		c.Process(0, 0, m)
		*now = now.Add(step)
	}
}

func fallSequence(c *Classifier, now *time.Time) {
	// 300ms of free fall, then the impact spike.
	feed(c, now, 50*time.Millisecond, 0.5, 0.5, 0.5, 0.5, 0.5, 0.5, 0.5)
	feed(c, now, 50*time.Millisecond, 90.0)
}

func TestClassifier_FallConfirmed(t *testing.T) {
	falls := 0
	hold := &recordingHold{}
	c, now := testClassifier(SensitivityMedium, hold, func() { falls++ })

	fallSequence(c, now)
	assert.Equal(t, 1, hold.acquired, "analysis holds the device awake")

	// A bit over 5s of resting stillness.
	for i := 0; i < 27; i++ {
		feed(c, now, 200*time.Millisecond, 9.8)
	}

	assert.Equal(t, 1, falls, "exactly one fall intent")
	assert.Equal(t, 1, hold.released, "hold released after analysis")
}

func TestClassifier_MovementDismissesFall(t *testing.T) {
	falls := 0
	hold := &recordingHold{}
	c, now := testClassifier(SensitivityMedium, hold, func() { falls++ })

	fallSequence(c, now)

	// The user is moving, magnitudes swing well past the deviation limit.
	for i := 0; i < 27; i++ {
		m := 9.8
		if i%2 == 0 {
			m = 18.0
		}
		feed(c, now, 200*time.Millisecond, m)
	}

	assert.Equal(t, 0, falls)
	assert.Equal(t, 1, hold.released, "hold released on dismissal too")
}

func TestClassifier_ImpactWithoutFreeFallIgnored(t *testing.T) {
	falls := 0
	c, now := testClassifier(SensitivityMedium, nil, func() { falls++ })

	// Spike with no preceding free fall, a door slam.
	feed(c, now, 50*time.Millisecond, 9.8, 9.8, 90.0, 9.8)
	for i := 0; i < 30; i++ {
		feed(c, now, 200*time.Millisecond, 9.8)
	}

	assert.Equal(t, 0, falls)
}

func TestClassifier_ShortFreeFallIgnored(t *testing.T) {
	falls := 0
	c, now := testClassifier(SensitivityMedium, nil, func() { falls++ })

	// Only 100ms below the threshold, not a valid episode.
	feed(c, now, 50*time.Millisecond, 0.5, 0.5)
	feed(c, now, 50*time.Millisecond, 90.0)
	for i := 0; i < 30; i++ {
		feed(c, now, 200*time.Millisecond, 9.8)
	}

	assert.Equal(t, 0, falls)
}

func TestClassifier_LateImpactIgnored(t *testing.T) {
	falls := 0
	c, now := testClassifier(SensitivityMedium, nil, func() { falls++ })

	// Valid free fall, but the spike arrives well past the impact window.
	feed(c, now, 50*time.Millisecond, 0.5, 0.5, 0.5, 0.5, 0.5, 0.5, 0.5)
	feed(c, now, 50*time.Millisecond, 9.8)
	*now = now.Add(2 * time.Second)
	feed(c, now, 50*time.Millisecond, 90.0)
	for i := 0; i < 30; i++ {
		feed(c, now, 200*time.Millisecond, 9.8)
	}

	assert.Equal(t, 0, falls)
}

func TestClassifier_SensitivityThresholds(t *testing.T) {
	assert.Equal(t, 30.0, SensitivitySoft.ImpactThreshold())
	assert.Equal(t, 80.0, SensitivityMedium.ImpactThreshold())
	assert.Equal(t, 130.0, SensitivityHard.ImpactThreshold())

	falls := 0
	c, now := testClassifier(SensitivityHard, nil, func() { falls++ })

	// A medium-grade spike does not trigger the hard profile.
	feed(c, now, 50*time.Millisecond, 0.5, 0.5, 0.5, 0.5, 0.5, 0.5, 0.5)
	feed(c, now, 50*time.Millisecond, 90.0)
	for i := 0; i < 30; i++ {
		feed(c, now, 200*time.Millisecond, 9.8)
	}
	assert.Equal(t, 0, falls)
}

func TestClassifier_PanicInCallbackDoesNotStopProcessing(t *testing.T) {
	calls := 0
	c, now := testClassifier(SensitivityMedium, nil, func() {
		calls++
		panic("sink failed")
	})

	fallSequence(c, now)
	for i := 0; i < 27; i++ {
		feed(c, now, 200*time.Millisecond, 9.8)
	}
	assert.Equal(t, 1, calls)

	// The classifier keeps working after the panic; the cooldown has long
	// expired on the manual clock.
	*now = now.Add(10 * time.Second)
	fallSequence(c, now)
	for i := 0; i < 27; i++ {
		feed(c, now, 200*time.Millisecond, 9.8)
	}
	assert.Equal(t, 2, calls)
}
