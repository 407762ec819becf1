package reputation

import "time"

// Badge criteria types.
const (
	CriteriaReputation = "reputation"
	CriteriaMessages   = "messages"
	CriteriaUpvotes    = "upvotes"
)

// Badge is an achievement awarded once a user counter reaches CriteriaValue.
type Badge struct {
	ID            string    `gorm:"column:id;primaryKey;size:64" json:"id"`
	Name          string    `gorm:"column:name;size:120;not null;uniqueIndex" json:"name"`
	Description   string    `gorm:"column:description;size:512" json:"description"`
	Icon          string    `gorm:"column:icon;size:64" json:"icon"`
	CriteriaType  string    `gorm:"column:criteria_type;size:32;not null" json:"criteria_type"`
	CriteriaValue int64     `gorm:"column:criteria_value;not null" json:"criteria_value"`
	CreatedAt     time.Time `gorm:"column:created_at;not null" json:"created_at"`
}

func (Badge) TableName() string {
	return "badges"
}

// UserBadge records that a user earned a badge. Rows are never deleted.
type UserBadge struct {
	ID       string    `gorm:"column:id;primaryKey;size:190"`
	UserID   string    `gorm:"column:user_id;size:190;not null;uniqueIndex:idx_user_badges_user_badge,priority:1"`
	BadgeID  string    `gorm:"column:badge_id;size:64;not null;uniqueIndex:idx_user_badges_user_badge,priority:2"`
	EarnedAt time.Time `gorm:"column:earned_at;not null"`
}

func (UserBadge) TableName() string {
	return "user_badges"
}

// EarnedBadge pairs a badge with the time the user earned it.
type EarnedBadge struct {
	Badge
	EarnedAt time.Time `json:"earned_at"`
}

// LeaderboardEntry is one row of a leaderboard page. Rank is positional within the page.
type LeaderboardEntry struct {
	Rank             int    `json:"rank"`
	UserID           string `json:"user_id"`
	Username         string `json:"username"`
	DisplayName      string `json:"display_name,omitempty"`
	ReputationPoints int64  `json:"reputation_points"`
	TotalMessages    int64  `json:"total_messages"`
	HelpfulVotes     int64  `json:"helpful_votes"`
	BadgeCount       int64  `json:"badge_count"`
}

// UserRank is the global rank of a single user.
type UserRank struct {
	UserID           string `json:"user_id"`
	Rank             int64  `json:"rank"`
	ReputationPoints int64  `json:"reputation_points"`
	TotalMessages    int64  `json:"total_messages"`
	HelpfulVotes     int64  `json:"helpful_votes"`
}

// DefaultBadges is the catalogue installed by the seed migration.
func DefaultBadges() []Badge {
	return []Badge{
		{ID: "first-words", Name: "First Words", Description: "Sent your first message", Icon: "💬", CriteriaType: CriteriaMessages, CriteriaValue: 1},
		{ID: "conversationalist", Name: "Conversationalist", Description: "Sent 25 messages", Icon: "🗣️", CriteriaType: CriteriaMessages, CriteriaValue: 25},
		{ID: "chatterbox", Name: "Chatterbox", Description: "Sent 100 messages", Icon: "📣", CriteriaType: CriteriaMessages, CriteriaValue: 100},
		{ID: "helpful", Name: "Helpful", Description: "Received 10 upvotes", Icon: "👍", CriteriaType: CriteriaUpvotes, CriteriaValue: 10},
		{ID: "mentor", Name: "Mentor", Description: "Received 50 upvotes", Icon: "🎓", CriteriaType: CriteriaUpvotes, CriteriaValue: 50},
		{ID: "rising-star", Name: "Rising Star", Description: "Reached 50 reputation", Icon: "⭐", CriteriaType: CriteriaReputation, CriteriaValue: 50},
		{ID: "scholar", Name: "Scholar", Description: "Reached 500 reputation", Icon: "🏆", CriteriaType: CriteriaReputation, CriteriaValue: 500},
	}
}
