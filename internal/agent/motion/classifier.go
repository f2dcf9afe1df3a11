package motion

import (
	"log"
	"math"
	"time"
)

// Sensitivity selects the impact cutoff for fall classification
type Sensitivity int

const (
	SensitivitySoft Sensitivity = iota
	SensitivityMedium
	SensitivityHard
)

// ImpactThreshold returns the magnitude an impact spike must exceed, in m/s²
func (s Sensitivity) ImpactThreshold() float64 {
	switch s {
	case SensitivitySoft:
		return 30.0
	case SensitivityHard:
		return 130.0
	default:
		return 80.0
	}
}

func (s Sensitivity) String() string {
	switch s {
	case SensitivitySoft:
		return "soft"
	case SensitivityHard:
		return "hard"
	default:
		return "medium"
	}
}

// WakeHold keeps the host awake while the stillness analysis runs. Both
// methods must be safe to call from the sensor callback.
type WakeHold interface {
	Acquire()
	Release()
}

// NopWakeHold is used where the platform needs no wake management
type NopWakeHold struct{}

func (NopWakeHold) Acquire() {}
func (NopWakeHold) Release() {}

const (
	// freeFallThreshold is the magnitude below which the device is in free
	// fall, well under resting gravity
	freeFallThreshold = 6.0
	// minFreeFallDuration is how long the magnitude must stay low for the
	// episode to count
	minFreeFallDuration = 250 * time.Millisecond
	// impactWindow bounds how long after a valid free fall an impact spike
	// still belongs to it
	impactWindow = time.Second
	// retriggerCooldown suppresses re-classification on the ringing that
	// follows an impact
	retriggerCooldown = 3 * time.Second

	// analysisDuration is the post-impact stillness window
	analysisDuration = 5 * time.Second
	// analysisBufferSize caps the rolling magnitude buffer
	analysisBufferSize = 50
	// immobilityThreshold is the maximum deviation from the window mean for
	// the user to count as immobile
	immobilityThreshold = 3.5
)

// Classifier turns raw tri-axis acceleration samples into fall intents.
// Process is expected to be called from a single sensor callback goroutine.
type Classifier struct {
	sensitivity Sensitivity
	hold        WakeHold
	onFall      func()

	now func() time.Time

	freeFallStart time.Time
	freeFallEnd   time.Time
	lastImpact    time.Time

	analyzing   bool
	analysisEnd time.Time
	buffer      []float64
}

// NewClassifier creates a classifier that calls onFall once per confirmed fall
func NewClassifier(sensitivity Sensitivity, hold WakeHold, onFall func()) *Classifier {
	if hold == nil {
		hold = NopWakeHold{}
	}
	return &Classifier{
		sensitivity: sensitivity,
		hold:        hold,
		onFall:      onFall,
		now:         time.Now,
		buffer:      make([]float64, 0, analysisBufferSize),
	}
}

// Process consumes one acceleration sample. A panic anywhere in the handling
// of one sample is logged and swallowed so the next sample is still processed.
func (c *Classifier) Process(x, y, z float64) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[Motion] sample processing recovered: %v", r)
		}
	}()

	now := c.now()
	magnitude := math.Sqrt(x*x + y*y + z*z)

	if c.analyzing {
		c.analyze(now, magnitude)
		return
	}

	if magnitude < freeFallThreshold {
		if c.freeFallStart.IsZero() {
			c.freeFallStart = now
		}
		return
	}

	// Magnitude back above the threshold; close out any running episode.
	if !c.freeFallStart.IsZero() {
		if now.Sub(c.freeFallStart) >= minFreeFallDuration {
			c.freeFallEnd = now
		}
		c.freeFallStart = time.Time{}
	}

	if magnitude > c.sensitivity.ImpactThreshold() &&
		!c.freeFallEnd.IsZero() &&
		now.Sub(c.freeFallEnd) <= impactWindow &&
		(c.lastImpact.IsZero() || now.Sub(c.lastImpact) >= retriggerCooldown) {
		c.lastImpact = now
		c.freeFallEnd = time.Time{}
		c.beginAnalysis(now)
	}
}

func (c *Classifier) beginAnalysis(now time.Time) {
	c.hold.Acquire()
	c.analyzing = true
	c.analysisEnd = now.Add(analysisDuration)
	c.buffer = c.buffer[:0]
	log.Printf("[Motion] impact detected, analyzing stillness (%s sensitivity)", c.sensitivity)
}

func (c *Classifier) analyze(now time.Time, magnitude float64) {
	if len(c.buffer) == analysisBufferSize {
		copy(c.buffer, c.buffer[1:])
		c.buffer = c.buffer[:analysisBufferSize-1]
	}
	c.buffer = append(c.buffer, magnitude)

	if now.Before(c.analysisEnd) {
		return
	}
	defer c.hold.Release()
	c.analyzing = false

	if c.immobile() {
		log.Println("[Motion] fall confirmed")
		c.onFall()
	} else {
		log.Println("[Motion] movement during analysis, fall dismissed")
	}
	c.buffer = c.buffer[:0]
}

// immobile reports whether the buffered magnitudes stayed close to their mean.
// An empty buffer counts as still, no samples means no movement observed.
func (c *Classifier) immobile() bool {
	if len(c.buffer) == 0 {
		return true
	}
	var sum float64
	for _, m := range c.buffer {
		sum += m
	}
	mean := sum / float64(len(c.buffer))
	for _, m := range c.buffer {
		if math.Abs(m-mean) >= immobilityThreshold {
			return false
		}
	}
	return true
}
