package chat

import (
	"context"
	"errors"
	"strings"

	"github.com/MarcoPoloResearchLab/studyhall/backend/internal/apperrors"
	"github.com/MarcoPoloResearchLab/studyhall/backend/internal/community"
	"github.com/MarcoPoloResearchLab/studyhall/backend/internal/realtime"
	"github.com/MarcoPoloResearchLab/studyhall/backend/internal/reputation"
	"github.com/MarcoPoloResearchLab/studyhall/backend/internal/users"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	opPostMessage     = "chat.post_message"
	opChannelMessages = "chat.channel_messages"
	opThread          = "chat.thread"
	opAnnotate        = "chat.annotate"
)

// PostInput describes a new channel message. ParentID makes it a reply.
type PostInput struct {
	ChannelSlug string
	AuthorID    string
	Content     string
	ParentID    string
}

// PostMessage stores a message, bumps the parent's reply count and the author's counters in one
// transaction, then broadcasts a message or reply event to the channel.
func (s *Service) PostMessage(ctx context.Context, input PostInput) (PostResult, error) {
	content, err := s.cleanContent(opPostMessage, input.Content)
	if err != nil {
		return PostResult{}, err
	}
	channel, err := s.channels.AuthorizeChannel(ctx, input.AuthorID, input.ChannelSlug)
	if err != nil {
		return PostResult{}, err
	}
	messageID, err := s.idProvider.NewID()
	if err != nil {
		return PostResult{}, s.fail(opPostMessage, "id_generation_failed", err)
	}

	now := s.now().UTC()
	message := Message{
		ID:        messageID,
		ChannelID: channel.ID,
		UserID:    input.AuthorID,
		Content:   content,
		CreatedAt: now,
		UpdatedAt: now,
	}
	parentID := strings.TrimSpace(input.ParentID)
	if parentID != "" {
		message.ParentID = &parentID
	}

	var badges []reputation.Badge
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if message.ParentID != nil {
			if err := s.attachToParent(tx, channel, *message.ParentID); err != nil {
				return err
			}
		}
		if err := tx.Create(&message).Error; err != nil {
			return s.fail(opPostMessage, "insert_failed", err, zap.String("channel_id", channel.ID))
		}
		awarded, err := s.counters.RecordMessage(tx, input.AuthorID)
		if err != nil {
			return err
		}
		badges = awarded
		return nil
	})
	if err != nil {
		return PostResult{}, err
	}

	profiles, err := users.LoadProfiles(s.db.WithContext(ctx), []string{input.AuthorID})
	if err != nil {
		return PostResult{}, err
	}
	view := buildView(message, channel.Slug, profiles[input.AuthorID], 0, 0)

	eventType := realtime.EventMessage
	fields := map[string]any{"channel": channel.Slug, "message": view}
	if message.ParentID != nil {
		eventType = realtime.EventReply
		fields["parent_id"] = *message.ParentID
	}
	s.broadcaster.Broadcast(ctx, channel.Slug, realtime.NewEvent(eventType, fields))

	return PostResult{Message: view, NewBadges: badges}, nil
}

// attachToParent validates the parent of a reply and increments its reply count.
func (s *Service) attachToParent(tx *gorm.DB, channel community.Channel, parentID string) error {
	var parent Message
	if err := tx.Where("id = ?", parentID).Take(&parent).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperrors.New(opPostMessage, "parent_not_found", apperrors.ErrNotFound, "parent message not found", err)
		}
		return s.fail(opPostMessage, "parent_lookup_failed", err)
	}
	if parent.ChannelID != channel.ID {
		return apperrors.New(opPostMessage, "parent_in_other_channel", apperrors.ErrValidation, "parent message belongs to another channel", nil)
	}
	if parent.ParentID != nil {
		return apperrors.New(opPostMessage, "nested_reply", apperrors.ErrValidation, "replies cannot be nested", nil)
	}
	result := tx.Model(&Message{}).
		Where("id = ?", parent.ID).
		Update("reply_count", gorm.Expr("reply_count + 1"))
	if result.Error != nil {
		return s.fail(opPostMessage, "reply_count_failed", result.Error)
	}
	return nil
}

// ChannelMessages returns the most recent top-level messages of a channel, oldest first.
func (s *Service) ChannelMessages(ctx context.Context, channelSlug, viewerID string, limit int) ([]MessageView, error) {
	channel, err := s.channels.AuthorizeChannel(ctx, viewerID, channelSlug)
	if err != nil {
		return nil, err
	}
	db := s.db.WithContext(ctx)
	var recent []Message
	err = db.Where("channel_id = ? AND parent_id IS NULL", channel.ID).
		Order("created_at DESC").
		Order("id DESC").
		Limit(s.clampLimit(limit)).
		Find(&recent).Error
	if err != nil {
		return nil, s.fail(opChannelMessages, "query_failed", err, zap.String("channel_id", channel.ID))
	}
	for left, right := 0, len(recent)-1; left < right; left, right = left+1, right-1 {
		recent[left], recent[right] = recent[right], recent[left]
	}
	return s.annotate(db, channel.Slug, viewerID, recent)
}

// Thread returns a message and its direct replies in timestamp order.
func (s *Service) Thread(ctx context.Context, messageID, viewerID string) (Thread, error) {
	db := s.db.WithContext(ctx)
	parent, err := s.loadMessage(db, opThread, messageID)
	if err != nil {
		return Thread{}, err
	}
	channel, err := s.channels.AuthorizeChannelID(ctx, viewerID, parent.ChannelID)
	if err != nil {
		return Thread{}, err
	}
	var replies []Message
	err = db.Where("parent_id = ?", parent.ID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&replies).Error
	if err != nil {
		return Thread{}, s.fail(opThread, "query_failed", err, zap.String("message_id", parent.ID))
	}

	views, err := s.annotate(db, channel.Slug, viewerID, append([]Message{parent}, replies...))
	if err != nil {
		return Thread{}, err
	}
	return Thread{
		Parent:       views[0],
		Replies:      views[1:],
		TotalReplies: len(replies),
	}, nil
}

func (s *Service) loadMessage(db *gorm.DB, operation, messageID string) (Message, error) {
	var message Message
	if err := db.Where("id = ?", messageID).Take(&message).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Message{}, apperrors.New(operation, "message_not_found", apperrors.ErrNotFound, "message not found", err)
		}
		return Message{}, s.fail(operation, "message_lookup_failed", err, zap.String("message_id", messageID))
	}
	return message, nil
}

// annotate attaches authors, scores and the viewer's votes to messages in batched queries.
func (s *Service) annotate(db *gorm.DB, channelSlug, viewerID string, messages []Message) ([]MessageView, error) {
	views := make([]MessageView, 0, len(messages))
	if len(messages) == 0 {
		return views, nil
	}
	messageIDs := make([]string, 0, len(messages))
	authorIDs := make([]string, 0, len(messages))
	for _, message := range messages {
		messageIDs = append(messageIDs, message.ID)
		authorIDs = append(authorIDs, message.UserID)
	}
	scores, err := scoresFor(db, messageIDs)
	if err != nil {
		return nil, s.fail(opAnnotate, "score_query_failed", err)
	}
	votes, err := votesBy(db, viewerID, messageIDs)
	if err != nil {
		return nil, s.fail(opAnnotate, "vote_query_failed", err)
	}
	profiles, err := users.LoadProfiles(db, authorIDs)
	if err != nil {
		return nil, err
	}
	for _, message := range messages {
		views = append(views, buildView(message, channelSlug, profiles[message.UserID], scores[message.ID], votes[message.ID]))
	}
	return views, nil
}

func buildView(message Message, channelSlug string, author users.Profile, score int64, vote int) MessageView {
	if author.ID == "" {
		author.ID = message.UserID
	}
	return MessageView{
		ID:          message.ID,
		ChannelID:   message.ChannelID,
		ChannelSlug: channelSlug,
		Content:     message.Content,
		ParentID:    message.ParentID,
		ReplyCount:  message.ReplyCount,
		Author:      author,
		Score:       score,
		UserVote:    vote,
		CreatedAt:   message.CreatedAt,
		UpdatedAt:   message.UpdatedAt,
	}
}
