package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// RuleType discriminates the rule union
type RuleType string

const (
	RuleTypeNotMoved       RuleType = "NotMoved"
	RuleTypeMissingUpdates RuleType = "MissingUpdates"
	RuleTypeGeofenceBox    RuleType = "GeofenceBox"
)

// Rule is a safety predicate over a user's aggregated state. NotMoved and
// MissingUpdates use DurationMinutes; GeofenceBox uses the bounding box.
type Rule struct {
	Type            RuleType `json:"type"`
	DurationMinutes int      `json:"durationMinutes,omitempty"`
	MinLatitude     float64  `json:"minLatitude,omitempty"`
	MaxLatitude     float64  `json:"maxLatitude,omitempty"`
	MinLongitude    float64  `json:"minLongitude,omitempty"`
	MaxLongitude    float64  `json:"maxLongitude,omitempty"`
}

// Value implements driver.Valuer for the jsonb rule column
func (r Rule) Value() (driver.Value, error) {
	return json.Marshal(r)
}

// Scan implements sql.Scanner for the jsonb rule column
func (r *Rule) Scan(value interface{}) error {
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, r)
	case string:
		return json.Unmarshal([]byte(v), r)
	default:
		return fmt.Errorf("unsupported rule column type %T", value)
	}
}

// RuleRecord is a persisted rule owned by a group. Immutable once created.
type RuleRecord struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	GroupID   uint      `json:"group_id" gorm:"not null;index"`
	Rule      Rule      `json:"rule" gorm:"type:jsonb;not null"`
	CreatedAt time.Time `json:"created_at"`
}

func (RuleRecord) TableName() string {
	return "rules"
}

// RuleEvent is one edge-triggered transition of a rule evaluation for a user.
// Append-only audit log: IsFailed true means the rule started being violated,
// false means it cleared.
type RuleEvent struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	RuleID    uint      `json:"rule_id" gorm:"not null;index"`
	UserID    uint      `json:"user_id" gorm:"not null;index"`
	Timestamp time.Time `json:"timestamp" gorm:"not null"`
	IsFailed  bool      `json:"is_failed" gorm:"not null"`
}

func (RuleEvent) TableName() string {
	return "rule_events"
}

// RuleStatus pairs a rule with its most recent evaluation transition, for the
// manager projection
type RuleStatus struct {
	Rule       Rule  `json:"rule"`
	Timestamp  int64 `json:"timestamp"`
	IsViolated bool  `json:"isViolated"`
}
