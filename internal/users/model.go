package users

import (
	"strings"
	"time"
)

// User is a StudyHall account together with its reputation counters.
// The counters are written only by the reputation engine as a side effect of chat activity.
type User struct {
	ID               string    `gorm:"column:id;primaryKey;size:190;not null" json:"id"`
	Username         string    `gorm:"column:username;size:64;not null;uniqueIndex" json:"username"`
	Email            string    `gorm:"column:email;size:320;not null;uniqueIndex" json:"email"`
	DisplayName      string    `gorm:"column:display_name;size:320" json:"display_name"`
	IsActive         bool      `gorm:"column:is_active;not null;default:true;index:idx_users_active_reputation,priority:1" json:"is_active"`
	ReputationPoints int64     `gorm:"column:reputation_points;not null;default:0;index:idx_users_active_reputation,priority:2" json:"reputation_points"`
	TotalMessages    int64     `gorm:"column:total_messages;not null;default:0" json:"total_messages"`
	HelpfulVotes     int64     `gorm:"column:helpful_votes;not null;default:0" json:"helpful_votes"`
	CreatedAt        time.Time `gorm:"column:created_at;not null" json:"created_at"`
	UpdatedAt        time.Time `gorm:"column:updated_at;not null" json:"updated_at"`
}

// TableName exposes the table backing user accounts.
func (User) TableName() string {
	return "users"
}

// Profile is the public projection of a user attached to messages, notes and reviews.
type Profile struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
}

// Profile returns the public projection of the user.
func (u User) Profile() Profile {
	return Profile{
		ID:          u.ID,
		Username:    u.Username,
		Email:       u.Email,
		DisplayName: u.DisplayName,
	}
}

func normalize(value string) string {
	return strings.TrimSpace(value)
}
