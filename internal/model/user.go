package model

import (
	"time"
)

// Role names. Managers can read the per-user dashboard projection.
const (
	RoleUser    = "user"
	RoleManager = "manager"
)

// User represents a monitored worker or a manager account
type User struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	Email     string    `json:"email" gorm:"uniqueIndex;size:255;not null"`
	Name      string    `json:"name" gorm:"size:255;not null"`
	Password  string    `json:"-" gorm:"size:255;not null"` // bcrypt hash
	Role      string    `json:"role" gorm:"size:31;default:'user'"`
	GroupID   *uint     `json:"group_id"`
	Group     *Group    `json:"group,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (User) TableName() string {
	return "users"
}

// Group owns a set of users, the rules evaluated against them and the time
// frames during which those rules are active
type Group struct {
	ID         uint         `json:"id" gorm:"primaryKey"`
	Name       string       `json:"name" gorm:"size:255;not null"`
	Users      []User       `json:"users,omitempty" gorm:"foreignKey:GroupID"`
	Rules      []RuleRecord `json:"rules,omitempty" gorm:"foreignKey:GroupID"`
	TimeFrames []TimeFrame  `json:"time_frames,omitempty" gorm:"foreignKey:GroupID"`
	CreatedAt  time.Time    `json:"created_at"`
}

func (Group) TableName() string {
	return "groups"
}

// TimeFrame is a recurring weekly window during which a group's rules apply.
// Weekdays are 0 (Monday) to 6, hours 0 to 23, both ends inclusive. A frame
// whose start lies after its end wraps across the week boundary, e.g.
// Friday 22:00 -> Monday 06:00.
type TimeFrame struct {
	ID           uint `json:"id" gorm:"primaryKey"`
	GroupID      uint `json:"group_id" gorm:"not null;index"`
	WeekDayStart int  `json:"week_day_start" gorm:"not null"`
	HourStart    int  `json:"hour_start" gorm:"not null"`
	WeekDayEnd   int  `json:"week_day_end" gorm:"not null"`
	HourEnd      int  `json:"hour_end" gorm:"not null"`
}

func (TimeFrame) TableName() string {
	return "time_frames"
}

// Contains reports whether the given weekday (0=Monday) and hour fall inside
// the frame
func (f TimeFrame) Contains(weekday, hour int) bool {
	slot := weekday*24 + hour
	start := f.WeekDayStart*24 + f.HourStart
	end := f.WeekDayEnd*24 + f.HourEnd

	if start <= end {
		return slot >= start && slot <= end
	}
	// wrapped across the week boundary
	return slot >= start || slot <= end
}

// ContainsTime maps a wall-clock instant onto the weekly grid. Go weeks start
// on Sunday; the frames count from Monday.
func (f TimeFrame) ContainsTime(t time.Time) bool {
	weekday := (int(t.Weekday()) + 6) % 7
	return f.Contains(weekday, t.Hour())
}

// Auth DTOs

type LoginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type LoginResponse struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}

type RegisterRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
	Name     string `json:"name" binding:"required"`
}

// UserData is the manager dashboard projection of one user
type UserData struct {
	Email      string       `json:"email"`
	Name       string       `json:"name"`
	Role       string       `json:"role"`
	Group      *string      `json:"group,omitempty"`
	State      StateDTO     `json:"state"`
	RuleStatus []RuleStatus `json:"ruleStatus"`
}

type UserDataResponse struct {
	Users []UserData `json:"users"`
}
