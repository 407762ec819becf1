// Package reputation maintains user reputation counters and awards badges when thresholds are crossed.
package reputation

import (
	"context"
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/studyhall/backend/internal/apperrors"
	"github.com/MarcoPoloResearchLab/studyhall/backend/internal/ids"
	"github.com/MarcoPoloResearchLab/studyhall/backend/internal/users"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	opEngineNew      = "reputation.engine.new"
	opRecordMessage  = "reputation.record_message"
	opApplyVoteDelta = "reputation.apply_vote_delta"
	opEvaluateBadges = "reputation.evaluate_badges"
	opLeaderboard    = "reputation.leaderboard"
	opUserRank       = "reputation.user_rank"
	opBadges         = "reputation.badges"
	opUserBadges     = "reputation.user_badges"

	defaultLeaderboardLimit = 10
	maxLeaderboardLimit     = 100
)

var errMissingDatabase = errors.New("database handle is required")

// EngineConfig describes the dependencies of the reputation engine.
type EngineConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider ids.Provider
	Logger     *zap.Logger
}

// Engine updates reputation counters and evaluates badges.
// Mutating methods take the caller's transaction so counters commit together with the triggering write.
type Engine struct {
	db         *gorm.DB
	now        func() time.Time
	idProvider ids.Provider
	logger     *zap.Logger
}

// NewEngine constructs the reputation engine.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Database == nil {
		return nil, apperrors.Internal(opEngineNew, "missing_database", errMissingDatabase)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	idProvider := cfg.IDProvider
	if idProvider == nil {
		idProvider = ids.NewUUIDProvider()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{db: cfg.Database, now: clock, idProvider: idProvider, logger: logger}, nil
}

// RecordMessage increments the author's message counter and returns any badges newly earned.
func (e *Engine) RecordMessage(tx *gorm.DB, userID string) ([]Badge, error) {
	result := tx.Model(&users.User{}).
		Where("id = ?", userID).
		Updates(map[string]any{
			"total_messages": gorm.Expr("total_messages + 1"),
			"updated_at":     e.now().UTC(),
		})
	if result.Error != nil {
		return nil, e.fail(opRecordMessage, "update_failed", result.Error, zap.String("user_id", userID))
	}
	if result.RowsAffected == 0 {
		return nil, apperrors.New(opRecordMessage, "user_not_found", apperrors.ErrNotFound, "user not found", nil)
	}
	return e.EvaluateBadges(tx, userID)
}

// ApplyVoteDelta adjusts the author's reputation by delta, flooring the stored value at zero, and moves
// helpful_votes by one in the direction of delta. Votes cast by the author on their own message are ignored.
func (e *Engine) ApplyVoteDelta(tx *gorm.DB, authorID, voterID string, delta int64) ([]Badge, error) {
	if delta == 0 || authorID == voterID {
		return nil, nil
	}
	updates := map[string]any{
		"reputation_points": gorm.Expr("CASE WHEN reputation_points + ? < 0 THEN 0 ELSE reputation_points + ? END", delta, delta),
		"updated_at":        e.now().UTC(),
	}
	if delta > 0 {
		updates["helpful_votes"] = gorm.Expr("helpful_votes + 1")
	} else {
		updates["helpful_votes"] = gorm.Expr("CASE WHEN helpful_votes > 0 THEN helpful_votes - 1 ELSE 0 END")
	}
	result := tx.Model(&users.User{}).Where("id = ?", authorID).Updates(updates)
	if result.Error != nil {
		return nil, e.fail(opApplyVoteDelta, "update_failed", result.Error, zap.String("user_id", authorID), zap.Int64("delta", delta))
	}
	if result.RowsAffected == 0 {
		return nil, apperrors.New(opApplyVoteDelta, "user_not_found", apperrors.ErrNotFound, "user not found", nil)
	}
	return e.EvaluateBadges(tx, authorID)
}

// EvaluateBadges awards every badge the user qualifies for and has not earned yet.
// Earned badges are never revoked; a repeated call with unchanged counters awards nothing.
func (e *Engine) EvaluateBadges(tx *gorm.DB, userID string) ([]Badge, error) {
	var user users.User
	if err := tx.Where("id = ?", userID).Take(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.New(opEvaluateBadges, "user_not_found", apperrors.ErrNotFound, "user not found", err)
		}
		return nil, e.fail(opEvaluateBadges, "load_user_failed", err, zap.String("user_id", userID))
	}

	var earnedIDs []string
	if err := tx.Model(&UserBadge{}).Where("user_id = ?", userID).Pluck("badge_id", &earnedIDs).Error; err != nil {
		return nil, e.fail(opEvaluateBadges, "load_earned_failed", err, zap.String("user_id", userID))
	}
	earned := make(map[string]struct{}, len(earnedIDs))
	for _, badgeID := range earnedIDs {
		earned[badgeID] = struct{}{}
	}

	var catalogue []Badge
	if err := tx.Order("criteria_value ASC").Find(&catalogue).Error; err != nil {
		return nil, e.fail(opEvaluateBadges, "load_catalogue_failed", err)
	}

	var awarded []Badge
	for _, badge := range catalogue {
		if _, ok := earned[badge.ID]; ok {
			continue
		}
		if !qualifies(user, badge) {
			continue
		}
		awardID, err := e.idProvider.NewID()
		if err != nil {
			return nil, e.fail(opEvaluateBadges, "id_generation_failed", err)
		}
		award := UserBadge{ID: awardID, UserID: userID, BadgeID: badge.ID, EarnedAt: e.now().UTC()}
		result := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "badge_id"}},
			DoNothing: true,
		}).Create(&award)
		if result.Error != nil {
			return nil, e.fail(opEvaluateBadges, "award_failed", result.Error, zap.String("user_id", userID), zap.String("badge_id", badge.ID))
		}
		if result.RowsAffected > 0 {
			awarded = append(awarded, badge)
			e.logger.Info("badge awarded", zap.String("user_id", userID), zap.String("badge_id", badge.ID))
		}
	}
	return awarded, nil
}

func qualifies(user users.User, badge Badge) bool {
	switch badge.CriteriaType {
	case CriteriaReputation:
		return user.ReputationPoints >= badge.CriteriaValue
	case CriteriaMessages:
		return user.TotalMessages >= badge.CriteriaValue
	case CriteriaUpvotes:
		return user.HelpfulVotes >= badge.CriteriaValue
	default:
		return false
	}
}

// Badges lists the badge catalogue ordered by criteria type and threshold.
func (e *Engine) Badges(ctx context.Context) ([]Badge, error) {
	var badges []Badge
	if err := e.db.WithContext(ctx).Order("criteria_type ASC").Order("criteria_value ASC").Find(&badges).Error; err != nil {
		return nil, e.fail(opBadges, "query_failed", err)
	}
	return badges, nil
}

// UserBadges lists the badges a user has earned, most recent first.
func (e *Engine) UserBadges(ctx context.Context, userID string) ([]EarnedBadge, error) {
	var awards []UserBadge
	if err := e.db.WithContext(ctx).Where("user_id = ?", userID).Order("earned_at DESC").Find(&awards).Error; err != nil {
		return nil, e.fail(opUserBadges, "query_failed", err, zap.String("user_id", userID))
	}
	if len(awards) == 0 {
		return []EarnedBadge{}, nil
	}
	badgeIDs := make([]string, 0, len(awards))
	for _, award := range awards {
		badgeIDs = append(badgeIDs, award.BadgeID)
	}
	var badges []Badge
	if err := e.db.WithContext(ctx).Where("id IN ?", badgeIDs).Find(&badges).Error; err != nil {
		return nil, e.fail(opUserBadges, "badge_query_failed", err, zap.String("user_id", userID))
	}
	byID := make(map[string]Badge, len(badges))
	for _, badge := range badges {
		byID[badge.ID] = badge
	}
	earned := make([]EarnedBadge, 0, len(awards))
	for _, award := range awards {
		badge, ok := byID[award.BadgeID]
		if !ok {
			continue
		}
		earned = append(earned, EarnedBadge{Badge: badge, EarnedAt: award.EarnedAt})
	}
	return earned, nil
}

func (e *Engine) fail(operation, reason string, err error, fields ...zap.Field) error {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
		zap.Error(err),
	}
	attrs = append(attrs, fields...)
	e.logger.Error("reputation engine error", attrs...)
	return apperrors.Internal(operation, reason, err)
}
