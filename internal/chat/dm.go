package chat

import (
	"context"
	"errors"

	"github.com/MarcoPoloResearchLab/studyhall/backend/internal/apperrors"
	"github.com/MarcoPoloResearchLab/studyhall/backend/internal/realtime"
	"github.com/MarcoPoloResearchLab/studyhall/backend/internal/users"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	opOpenConversation  = "chat.open_conversation"
	opListConversations = "chat.list_conversations"
	opSendDirect        = "chat.send_direct_message"
	opDirectMessages    = "chat.direct_messages"
	opAuthorizeDM       = "chat.authorize_conversation"
)

// OpenConversation returns the conversation between the two users, creating it on first use.
func (s *Service) OpenConversation(ctx context.Context, userID, otherID string) (ConversationView, error) {
	if userID == otherID {
		return ConversationView{}, apperrors.New(opOpenConversation, "self_conversation", apperrors.ErrForbidden, "you cannot message yourself", nil)
	}
	db := s.db.WithContext(ctx)
	profiles, err := users.LoadProfiles(db, []string{otherID})
	if err != nil {
		return ConversationView{}, err
	}
	other, ok := profiles[otherID]
	if !ok {
		return ConversationView{}, apperrors.New(opOpenConversation, "user_not_found", apperrors.ErrNotFound, "user not found", nil)
	}

	first, second := orderedPair(userID, otherID)
	var conversation DMConversation
	err = db.Transaction(func(tx *gorm.DB) error {
		conversationID, err := s.idProvider.NewID()
		if err != nil {
			return s.fail(opOpenConversation, "id_generation_failed", err)
		}
		now := s.now().UTC()
		candidate := DMConversation{
			ID:            conversationID,
			UserOneID:     first,
			UserTwoID:     second,
			CreatedAt:     now,
			LastMessageAt: now,
		}
		err = tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_one_id"}, {Name: "user_two_id"}},
			DoNothing: true,
		}).Create(&candidate).Error
		if err != nil {
			return s.fail(opOpenConversation, "insert_failed", err)
		}
		if err := tx.Where("user_one_id = ? AND user_two_id = ?", first, second).Take(&conversation).Error; err != nil {
			return s.fail(opOpenConversation, "reload_failed", err)
		}
		return nil
	})
	if err != nil {
		return ConversationView{}, err
	}
	return conversationView(conversation, other), nil
}

// ListConversations lists the user's conversations, most recently active first.
func (s *Service) ListConversations(ctx context.Context, userID string) ([]ConversationView, error) {
	db := s.db.WithContext(ctx)
	var conversations []DMConversation
	err := db.Where("user_one_id = ? OR user_two_id = ?", userID, userID).
		Order("last_message_at DESC").
		Find(&conversations).Error
	if err != nil {
		return nil, s.fail(opListConversations, "query_failed", err)
	}
	otherIDs := make([]string, 0, len(conversations))
	for _, conversation := range conversations {
		otherIDs = append(otherIDs, conversation.Other(userID))
	}
	profiles, err := users.LoadProfiles(db, otherIDs)
	if err != nil {
		return nil, err
	}
	views := make([]ConversationView, 0, len(conversations))
	for _, conversation := range conversations {
		otherID := conversation.Other(userID)
		other, ok := profiles[otherID]
		if !ok {
			other = users.Profile{ID: otherID}
		}
		views = append(views, conversationView(conversation, other))
	}
	return views, nil
}

// AuthorizeConversation loads a conversation and checks that userID participates in it.
func (s *Service) AuthorizeConversation(ctx context.Context, conversationID, userID string) (DMConversation, error) {
	return s.participantConversation(s.db.WithContext(ctx), opAuthorizeDM, conversationID, userID)
}

func (s *Service) participantConversation(db *gorm.DB, operation, conversationID, userID string) (DMConversation, error) {
	var conversation DMConversation
	if err := db.Where("id = ?", conversationID).Take(&conversation).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return DMConversation{}, apperrors.New(operation, "conversation_not_found", apperrors.ErrNotFound, "conversation not found", err)
		}
		return DMConversation{}, s.fail(operation, "conversation_lookup_failed", err)
	}
	if !conversation.Includes(userID) {
		return DMConversation{}, apperrors.New(operation, "not_participant", apperrors.ErrForbidden, "you are not part of this conversation", nil)
	}
	return conversation, nil
}

// SendDirectMessage appends a message to a conversation and broadcasts it on the conversation topic.
func (s *Service) SendDirectMessage(ctx context.Context, conversationID, senderID, rawContent string) (DirectMessageView, error) {
	content, err := s.cleanContent(opSendDirect, rawContent)
	if err != nil {
		return DirectMessageView{}, err
	}
	db := s.db.WithContext(ctx)
	messageID, err := s.idProvider.NewID()
	if err != nil {
		return DirectMessageView{}, s.fail(opSendDirect, "id_generation_failed", err)
	}
	now := s.now().UTC()
	message := DMMessage{
		ID:             messageID,
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		CreatedAt:      now,
	}
	err = db.Transaction(func(tx *gorm.DB) error {
		if _, err := s.participantConversation(tx, opSendDirect, conversationID, senderID); err != nil {
			return err
		}
		if err := tx.Create(&message).Error; err != nil {
			return s.fail(opSendDirect, "insert_failed", err, zap.String("conversation_id", conversationID))
		}
		if err := tx.Model(&DMConversation{}).Where("id = ?", conversationID).Update("last_message_at", now).Error; err != nil {
			return s.fail(opSendDirect, "touch_failed", err, zap.String("conversation_id", conversationID))
		}
		return nil
	})
	if err != nil {
		return DirectMessageView{}, err
	}

	profiles, err := users.LoadProfiles(db, []string{senderID})
	if err != nil {
		return DirectMessageView{}, err
	}
	view := directView(message, profiles[senderID])
	s.broadcaster.Broadcast(ctx, realtime.DMTopic(conversationID), realtime.NewEvent(realtime.EventDMMessage, map[string]any{
		"conversation_id": conversationID,
		"message":         view,
	}))
	return view, nil
}

// DirectMessages returns the most recent messages of a conversation, oldest first.
func (s *Service) DirectMessages(ctx context.Context, conversationID, viewerID string, limit int) ([]DirectMessageView, error) {
	db := s.db.WithContext(ctx)
	if _, err := s.participantConversation(db, opDirectMessages, conversationID, viewerID); err != nil {
		return nil, err
	}
	var recent []DMMessage
	err := db.Where("conversation_id = ?", conversationID).
		Order("created_at DESC").
		Order("id DESC").
		Limit(s.clampLimit(limit)).
		Find(&recent).Error
	if err != nil {
		return nil, s.fail(opDirectMessages, "query_failed", err, zap.String("conversation_id", conversationID))
	}
	senderIDs := make([]string, 0, len(recent))
	for _, message := range recent {
		senderIDs = append(senderIDs, message.SenderID)
	}
	profiles, err := users.LoadProfiles(db, senderIDs)
	if err != nil {
		return nil, err
	}
	views := make([]DirectMessageView, len(recent))
	for index, message := range recent {
		views[len(recent)-1-index] = directView(message, profiles[message.SenderID])
	}
	return views, nil
}

func orderedPair(a, b string) (string, string) {
	if a < b {
		return a, b
	}
	return b, a
}

func conversationView(conversation DMConversation, other users.Profile) ConversationView {
	return ConversationView{
		ID:            conversation.ID,
		Other:         other,
		CreatedAt:     conversation.CreatedAt,
		LastMessageAt: conversation.LastMessageAt,
	}
}

func directView(message DMMessage, sender users.Profile) DirectMessageView {
	if sender.ID == "" {
		sender.ID = message.SenderID
	}
	return DirectMessageView{
		ID:             message.ID,
		ConversationID: message.ConversationID,
		Content:        message.Content,
		Sender:         sender,
		CreatedAt:      message.CreatedAt,
	}
}
