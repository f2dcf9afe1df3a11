package outbox

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"everactive/internal/model"
)

type fakeSender struct {
	mu      sync.Mutex
	batches [][]model.EventDTO
	err     error
	rules   []model.Rule

	// onPush runs inside PushEvents, used to simulate mid-flight appends
	onPush func()
}

func (s *fakeSender) PushEvents(ctx context.Context, events []model.EventDTO) ([]model.Rule, error) {
	s.mu.Lock()
	err := s.err
	rules := s.rules
	onPush := s.onPush
	if err == nil {
		batch := make([]model.EventDTO, len(events))
		copy(batch, events)
		s.batches = append(s.batches, batch)
	}
	s.mu.Unlock()

	if onPush != nil {
		onPush()
	}
	return rules, err
}

func (s *fakeSender) sent() [][]model.EventDTO {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]model.EventDTO(nil), s.batches...)
}

func (s *fakeSender) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func ping() model.EventDTO {
	return model.EventDTO{ID: uuid.NewString(), Type: model.EventTypePing, Timestamp: time.Now().UnixMilli()}
}

func TestOutbox_FlushSendsAndRemoves(t *testing.T) {
	sender := &fakeSender{}
	box := New(sender, nil)

	box.Record(ping())
	box.Record(ping())
	box.Record(ping())
	assert.Equal(t, 3, box.Pending())

	require.NoError(t, box.Flush(context.Background()))
	assert.Equal(t, 0, box.Pending())

	batches := sender.sent()
	require.Len(t, batches, 1)
	assert.Len(t, batches[0], 3)
}

func TestOutbox_FlushEmptyIsNoOp(t *testing.T) {
	sender := &fakeSender{}
	box := New(sender, nil)

	require.NoError(t, box.Flush(context.Background()))
	assert.Empty(t, sender.sent())
}

func TestOutbox_FailureLeavesBatchInPlace(t *testing.T) {
	sender := &fakeSender{}
	sender.setErr(errors.New("server unreachable"))
	box := New(sender, nil)

	box.Record(ping())
	box.Record(ping())

	require.Error(t, box.Flush(context.Background()))
	assert.Equal(t, 2, box.Pending(), "failed events stay for the next flush")

	// The server recovers, the retry delivers the same events.
	sender.setErr(nil)
	require.NoError(t, box.Flush(context.Background()))
	assert.Equal(t, 0, box.Pending())
	require.Len(t, sender.sent(), 1)
	assert.Len(t, sender.sent()[0], 2)
}

func TestOutbox_MidFlightAppendSurvives(t *testing.T) {
	sender := &fakeSender{}
	box := New(sender, nil)
	late := ping()
	sender.onPush = func() { box.Record(late) }

	box.Record(ping())
	box.Record(ping())

	require.NoError(t, box.Flush(context.Background()))

	assert.Equal(t, 1, box.Pending(), "the event appended during the push is kept")

	require.NoError(t, box.Flush(context.Background()))
	batches := sender.sent()
	require.Len(t, batches, 2)
	assert.Equal(t, late.ID, batches[1][0].ID)
}

func TestOutbox_FlushIsCappedAtBatchSize(t *testing.T) {
	sender := &fakeSender{}
	box := New(sender, nil)

	for i := 0; i < BatchSize+5; i++ {
		box.Record(ping())
	}

	require.NoError(t, box.Flush(context.Background()))
	require.Len(t, sender.sent(), 1)
	assert.Len(t, sender.sent()[0], BatchSize)
	assert.Equal(t, 5, box.Pending())
}

func TestOutbox_TriggeredRulesSurfaced(t *testing.T) {
	sender := &fakeSender{rules: []model.Rule{{Type: model.RuleTypeNotMoved, DurationMinutes: 10}}}

	var got []model.Rule
	box := New(sender, func(rules []model.Rule) { got = rules })

	box.Record(ping())
	require.NoError(t, box.Flush(context.Background()))

	require.Len(t, got, 1)
	assert.Equal(t, model.RuleTypeNotMoved, got[0].Type)
}

func TestOutbox_CloseFlushesDetached(t *testing.T) {
	sender := &fakeSender{}
	box := New(sender, nil)
	box.Start()

	box.Record(ping())
	box.Close()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if box.Pending() == 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	assert.Equal(t, 0, box.Pending(), "close drains the outbox in the background")
}

func TestOutbox_BatchSizeTriggersEarlyFlush(t *testing.T) {
	sender := &fakeSender{}
	box := New(sender, nil)
	box.interval = time.Hour // the ticker must not be the one flushing
	box.Start()
	defer box.Close()

	for i := 0; i < BatchSize; i++ {
		box.Record(ping())
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(sender.sent()) > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.NotEmpty(t, sender.sent(), "reaching the batch size flushes without waiting for the interval")
	assert.Len(t, sender.sent()[0], BatchSize)
}
