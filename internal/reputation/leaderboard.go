package reputation

import (
	"context"
	"errors"

	"github.com/MarcoPoloResearchLab/studyhall/backend/internal/apperrors"
	"github.com/MarcoPoloResearchLab/studyhall/backend/internal/users"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Leaderboard returns active users ordered by reputation. Rank is the 1-based position within the page.
func (e *Engine) Leaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	limit = clampLimit(limit)
	db := e.db.WithContext(ctx)

	var top []users.User
	err := db.Where("is_active = ?", true).
		Order("reputation_points DESC").
		Order("created_at ASC").
		Limit(limit).
		Find(&top).Error
	if err != nil {
		return nil, e.fail(opLeaderboard, "query_failed", err)
	}

	entries := make([]LeaderboardEntry, 0, len(top))
	if len(top) == 0 {
		return entries, nil
	}

	userIDs := make([]string, 0, len(top))
	for _, user := range top {
		userIDs = append(userIDs, user.ID)
	}
	var counts []struct {
		UserID string
		Total  int64
	}
	err = db.Model(&UserBadge{}).
		Select("user_id, COUNT(*) AS total").
		Where("user_id IN ?", userIDs).
		Group("user_id").
		Scan(&counts).Error
	if err != nil {
		return nil, e.fail(opLeaderboard, "badge_count_failed", err)
	}
	badgeCounts := make(map[string]int64, len(counts))
	for _, count := range counts {
		badgeCounts[count.UserID] = count.Total
	}

	for index, user := range top {
		entries = append(entries, LeaderboardEntry{
			Rank:             index + 1,
			UserID:           user.ID,
			Username:         user.Username,
			DisplayName:      user.DisplayName,
			ReputationPoints: user.ReputationPoints,
			TotalMessages:    user.TotalMessages,
			HelpfulVotes:     user.HelpfulVotes,
			BadgeCount:       badgeCounts[user.ID],
		})
	}
	return entries, nil
}

// UserRank computes 1 + the number of active users with strictly greater reputation.
// It is computed independently of Leaderboard and may disagree with a page fetched at another moment.
func (e *Engine) UserRank(ctx context.Context, userID string) (UserRank, error) {
	db := e.db.WithContext(ctx)
	var user users.User
	if err := db.Where("id = ?", userID).Take(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return UserRank{}, apperrors.New(opUserRank, "user_not_found", apperrors.ErrNotFound, "user not found", err)
		}
		return UserRank{}, e.fail(opUserRank, "load_user_failed", err, zap.String("user_id", userID))
	}
	var ahead int64
	err := db.Model(&users.User{}).
		Where("is_active = ? AND reputation_points > ?", true, user.ReputationPoints).
		Count(&ahead).Error
	if err != nil {
		return UserRank{}, e.fail(opUserRank, "count_failed", err, zap.String("user_id", userID))
	}
	return UserRank{
		UserID:           user.ID,
		Rank:             ahead + 1,
		ReputationPoints: user.ReputationPoints,
		TotalMessages:    user.TotalMessages,
		HelpfulVotes:     user.HelpfulVotes,
	}, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultLeaderboardLimit
	}
	if limit > maxLeaderboardLimit {
		return maxLeaderboardLimit
	}
	return limit
}
