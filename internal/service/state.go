package service

import (
	"sync"

	"everactive/internal/model"
)

// UserStateService maintains the live per-user state projection built from the
// event stream. One writer (the ingest queue consumer) and many readers (rule
// scheduler, manager projection). Records live for the process lifetime; there
// is no eviction.
type UserStateService struct {
	states sync.Map // map[uint]*stateRecord
}

type stateRecord struct {
	mu    sync.RWMutex
	state model.UserState
}

// NewUserStateService creates an empty aggregator
func NewUserStateService() *UserStateService {
	return &UserStateService{}
}

func (s *UserStateService) record(userID uint) *stateRecord {
	if rec, ok := s.states.Load(userID); ok {
		return rec.(*stateRecord)
	}
	rec, _ := s.states.LoadOrStore(userID, &stateRecord{})
	return rec.(*stateRecord)
}

// Update merges one persisted event into the user's state. Every event moves
// lastEventTime forward; the kind-specific fields are a monotonic overwrite.
func (s *UserStateService) Update(event model.Event) error {
	dto, err := event.DTO()
	if err != nil {
		return err
	}

	rec := s.record(event.UserID)
	rec.mu.Lock()
	defer rec.mu.Unlock()

	ts := event.Timestamp
	rec.state.LastEventTime = &ts

	switch dto.Type {
	case model.EventTypeLocation:
		rec.state.LastLocation = &model.Location{
			Latitude:  dto.Latitude,
			Longitude: dto.Longitude,
		}
	case model.EventTypeMove:
		rec.state.LastMoveTime = &ts
	case model.EventTypeFall:
		rec.state.LastFallTime = &ts
		if dto.Latitude != 0 || dto.Longitude != 0 {
			rec.state.LastLocation = &model.Location{
				Latitude:  dto.Latitude,
				Longitude: dto.Longitude,
			}
		}
	case model.EventTypeSOS:
		rec.state.IsSOS = !dto.Cancel
		if dto.Latitude != 0 || dto.Longitude != 0 {
			rec.state.LastLocation = &model.Location{
				Latitude:  dto.Latitude,
				Longitude: dto.Longitude,
			}
		}
	}
	return nil
}

// Snapshot returns a consistent copy of the user's state, creating an empty
// record on first access
func (s *UserStateService) Snapshot(userID uint) model.UserState {
	rec := s.record(userID)
	rec.mu.RLock()
	defer rec.mu.RUnlock()

	snap := rec.state
	if rec.state.LastLocation != nil {
		loc := *rec.state.LastLocation
		snap.LastLocation = &loc
	}
	if rec.state.LastMoveTime != nil {
		t := *rec.state.LastMoveTime
		snap.LastMoveTime = &t
	}
	if rec.state.LastEventTime != nil {
		t := *rec.state.LastEventTime
		snap.LastEventTime = &t
	}
	if rec.state.LastFallTime != nil {
		t := *rec.state.LastFallTime
		snap.LastFallTime = &t
	}
	return snap
}
