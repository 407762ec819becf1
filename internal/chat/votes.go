package chat

import (
	"context"
	"errors"

	"github.com/MarcoPoloResearchLab/studyhall/backend/internal/apperrors"
	"github.com/MarcoPoloResearchLab/studyhall/backend/internal/realtime"
	"github.com/MarcoPoloResearchLab/studyhall/backend/internal/reputation"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const opCastVote = "chat.cast_vote"

// CastVote records the voter's vote on a message. A value of 0 removes the vote. The difference between the
// new and previous value is applied to the author's reputation in the same transaction, and a vote_update
// event is broadcast after commit. Badges the author earns from the vote are returned in AuthorBadges.
func (s *Service) CastVote(ctx context.Context, messageID, voterID string, value int) (VoteResult, error) {
	if value < -1 || value > 1 {
		return VoteResult{}, apperrors.New(opCastVote, "invalid_value", apperrors.ErrValidation, "vote value must be -1, 0 or 1", nil)
	}
	db := s.db.WithContext(ctx)
	message, err := s.loadMessage(db, opCastVote, messageID)
	if err != nil {
		return VoteResult{}, err
	}
	channel, err := s.channels.AuthorizeChannelID(ctx, voterID, message.ChannelID)
	if err != nil {
		return VoteResult{}, err
	}

	var score int64
	var badges []reputation.Badge
	err = db.Transaction(func(tx *gorm.DB) error {
		var existing MessageVote
		previous := 0
		lookup := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ? AND message_id = ?", voterID, message.ID).
			Take(&existing)
		switch {
		case lookup.Error == nil:
			previous = existing.Value
		case !errors.Is(lookup.Error, gorm.ErrRecordNotFound):
			return s.fail(opCastVote, "vote_lookup_failed", lookup.Error)
		}

		if value == 0 {
			if previous != 0 {
				if err := tx.Delete(&existing).Error; err != nil {
					return s.fail(opCastVote, "vote_delete_failed", err)
				}
			}
		} else if value != previous {
			if err := s.upsertVote(tx, message.ID, voterID, value); err != nil {
				return err
			}
		}

		awarded, err := s.counters.ApplyVoteDelta(tx, message.UserID, voterID, int64(value-previous))
		if err != nil {
			return err
		}
		badges = awarded

		scores, err := scoresFor(tx, []string{message.ID})
		if err != nil {
			return s.fail(opCastVote, "score_query_failed", err)
		}
		score = scores[message.ID]
		return nil
	})
	if err != nil {
		return VoteResult{}, err
	}

	s.broadcaster.Broadcast(ctx, channel.Slug, realtime.NewEvent(realtime.EventVoteUpdate, map[string]any{
		"channel":    channel.Slug,
		"message_id": message.ID,
		"score":      score,
	}))
	return VoteResult{MessageID: message.ID, Score: score, UserVote: value, AuthorBadges: badges}, nil
}

func (s *Service) upsertVote(tx *gorm.DB, messageID, voterID string, value int) error {
	voteID, err := s.idProvider.NewID()
	if err != nil {
		return s.fail(opCastVote, "id_generation_failed", err)
	}
	now := s.now().UTC()
	vote := MessageVote{
		ID:        voteID,
		UserID:    voterID,
		MessageID: messageID,
		Value:     value,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err = tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "message_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&vote).Error
	if err != nil {
		return s.fail(opCastVote, "vote_upsert_failed", err, zap.String("message_id", messageID))
	}
	return nil
}

// scoresFor sums vote values per message. Messages without votes are absent from the map.
func scoresFor(db *gorm.DB, messageIDs []string) (map[string]int64, error) {
	var rows []struct {
		MessageID string
		Score     int64
	}
	err := db.Model(&MessageVote{}).
		Select("message_id, COALESCE(SUM(value), 0) AS score").
		Where("message_id IN ?", messageIDs).
		Group("message_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	scores := make(map[string]int64, len(rows))
	for _, row := range rows {
		scores[row.MessageID] = row.Score
	}
	return scores, nil
}

// votesBy returns the viewer's vote per message.
func votesBy(db *gorm.DB, viewerID string, messageIDs []string) (map[string]int, error) {
	votes := make(map[string]int, len(messageIDs))
	if viewerID == "" {
		return votes, nil
	}
	var rows []MessageVote
	if err := db.Where("user_id = ? AND message_id IN ?", viewerID, messageIDs).Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, row := range rows {
		votes[row.MessageID] = row.Value
	}
	return votes, nil
}
