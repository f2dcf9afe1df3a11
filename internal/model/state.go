package model

import "time"

// Location is a latitude/longitude pair
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// UserState is a snapshot of a user's aggregated live state, as read by the
// rule scheduler and the manager projection. The aggregator hands out copies;
// a snapshot is never mutated after it is returned.
type UserState struct {
	LastLocation  *Location
	LastMoveTime  *time.Time
	LastEventTime *time.Time
	IsSOS         bool
	LastFallTime  *time.Time
}

// FellRecentlyWindow bounds how long a fall keeps a user flagged
const FellRecentlyWindow = 30 * time.Minute

// FellRecently reports whether the user fell within the recency window of now
func (s UserState) FellRecently(now time.Time) bool {
	return s.LastFallTime != nil && now.Sub(*s.LastFallTime) < FellRecentlyWindow
}

// StateDTO is the wire form of a state snapshot. Times are epoch millis,
// absent when never observed.
type StateDTO struct {
	LastLocation  *Location `json:"lastLocation,omitempty"`
	LastMoveTime  *int64    `json:"lastMoveTime,omitempty"`
	LastEventTime *int64    `json:"lastEventTime,omitempty"`
	IsSOS         bool      `json:"isSos"`
	FellRecently  bool      `json:"fellRecently"`
}

// ToDTO converts the snapshot for the manager projection
func (s UserState) ToDTO(now time.Time) StateDTO {
	dto := StateDTO{
		IsSOS:        s.IsSOS,
		FellRecently: s.FellRecently(now),
	}
	if s.LastLocation != nil {
		loc := *s.LastLocation
		dto.LastLocation = &loc
	}
	if s.LastMoveTime != nil {
		ms := s.LastMoveTime.UnixMilli()
		dto.LastMoveTime = &ms
	}
	if s.LastEventTime != nil {
		ms := s.LastEventTime.UnixMilli()
		dto.LastEventTime = &ms
	}
	return dto
}
