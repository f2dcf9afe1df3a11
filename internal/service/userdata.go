package service

import (
	"context"
	"sort"
	"time"

	"gorm.io/gorm"

	"everactive/internal/model"
)

// ruleStatusLimit caps how many rule-status entries the dashboard shows per
// user
const ruleStatusLimit = 5

// UserDataService builds the manager dashboard projection: per user, the live
// state snapshot, the most recent transition of each rule, and group
// membership.
type UserDataService struct {
	db     *gorm.DB
	states *UserStateService
}

// NewUserDataService creates the projection service
func NewUserDataService(db *gorm.DB, states *UserStateService) *UserDataService {
	return &UserDataService{db: db, states: states}
}

type latestRuleEvent struct {
	model.RuleEvent
	Rule model.Rule `gorm:"column:rule"`
}

// latestRuleEvents returns, per (user, rule), the newest audit entry, joined
// with the rule definition
func (s *UserDataService) latestRuleEvents(ctx context.Context) (map[uint][]model.RuleStatus, error) {
	var rows []latestRuleEvent
	err := s.db.WithContext(ctx).Raw(`
		SELECT re1.*, r.rule AS rule
		FROM rule_events re1
		JOIN (
			SELECT user_id, rule_id, MAX(timestamp) AS max_timestamp
			FROM rule_events
			GROUP BY user_id, rule_id
		) re2 ON re1.user_id = re2.user_id AND re1.rule_id = re2.rule_id AND re1.timestamp = re2.max_timestamp
		JOIN rules r ON r.id = re1.rule_id
	`).Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	byUser := make(map[uint][]model.RuleStatus)
	for _, row := range rows {
		byUser[row.UserID] = append(byUser[row.UserID], model.RuleStatus{
			Rule:       row.Rule,
			Timestamp:  row.Timestamp.UnixMilli(),
			IsViolated: row.IsFailed,
		})
	}

	for userID, statuses := range byUser {
		sort.Slice(statuses, func(i, j int) bool {
			return statuses[i].Timestamp > statuses[j].Timestamp
		})
		if len(statuses) > ruleStatusLimit {
			statuses = statuses[:ruleStatusLimit]
		}
		byUser[userID] = statuses
	}
	return byUser, nil
}

// GetAllUserData returns the dashboard projection for every user
func (s *UserDataService) GetAllUserData(ctx context.Context) ([]model.UserData, error) {
	statusByUser, err := s.latestRuleEvents(ctx)
	if err != nil {
		return nil, err
	}

	var users []model.User
	if err := s.db.WithContext(ctx).Preload("Group").Find(&users).Error; err != nil {
		return nil, err
	}

	now := time.Now()
	out := make([]model.UserData, 0, len(users))
	for _, user := range users {
		data := model.UserData{
			Email:      user.Email,
			Name:       user.Name,
			Role:       user.Role,
			State:      s.states.Snapshot(user.ID).ToDTO(now),
			RuleStatus: statusByUser[user.ID],
		}
		if data.RuleStatus == nil {
			data.RuleStatus = []model.RuleStatus{}
		}
		if user.Group != nil {
			name := user.Group.Name
			data.Group = &name
		}
		out = append(out, data)
	}
	return out, nil
}

// ListRuleEvents returns a page of the audit log, newest first
func (s *UserDataService) ListRuleEvents(ctx context.Context, limit, offset int) ([]model.RuleEvent, int64, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	var total int64
	if err := s.db.WithContext(ctx).Model(&model.RuleEvent{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var events []model.RuleEvent
	err := s.db.WithContext(ctx).
		Order("timestamp DESC").
		Limit(limit).
		Offset(offset).
		Find(&events).Error
	return events, total, err
}
