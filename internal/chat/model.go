package chat

import (
	"time"

	"github.com/MarcoPoloResearchLab/studyhall/backend/internal/reputation"
	"github.com/MarcoPoloResearchLab/studyhall/backend/internal/users"
)

// Message is a channel message. Replies reference a top-level parent; replies never nest further.
// A message's score is always derived from its votes.
type Message struct {
	ID         string    `gorm:"column:id;primaryKey;size:190"`
	ChannelID  string    `gorm:"column:channel_id;size:190;not null;index:idx_messages_channel_created,priority:1"`
	UserID     string    `gorm:"column:user_id;size:190;not null;index"`
	Content    string    `gorm:"column:content;type:text;not null"`
	ParentID   *string   `gorm:"column:parent_id;size:190;index"`
	ReplyCount int64     `gorm:"column:reply_count;not null;default:0"`
	CreatedAt  time.Time `gorm:"column:created_at;not null;index:idx_messages_channel_created,priority:2"`
	UpdatedAt  time.Time `gorm:"column:updated_at;not null"`
}

func (Message) TableName() string {
	return "messages"
}

// MessageVote is a user's vote on a message. Each (user, message) pair has at most one row.
type MessageVote struct {
	ID        string    `gorm:"column:id;primaryKey;size:190"`
	UserID    string    `gorm:"column:user_id;size:190;not null;uniqueIndex:idx_message_votes_user_message,priority:1"`
	MessageID string    `gorm:"column:message_id;size:190;not null;uniqueIndex:idx_message_votes_user_message,priority:2;index"`
	Value     int       `gorm:"column:value;not null"`
	CreatedAt time.Time `gorm:"column:created_at;not null"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null"`
}

func (MessageVote) TableName() string {
	return "message_votes"
}

// DMConversation links exactly one unordered pair of users. UserOneID sorts before UserTwoID.
type DMConversation struct {
	ID            string    `gorm:"column:id;primaryKey;size:190"`
	UserOneID     string    `gorm:"column:user_one_id;size:190;not null;uniqueIndex:idx_dm_conversations_pair,priority:1"`
	UserTwoID     string    `gorm:"column:user_two_id;size:190;not null;uniqueIndex:idx_dm_conversations_pair,priority:2;index"`
	CreatedAt     time.Time `gorm:"column:created_at;not null"`
	LastMessageAt time.Time `gorm:"column:last_message_at;not null"`
}

func (DMConversation) TableName() string {
	return "dm_conversations"
}

// Other returns the participant that is not userID.
func (c DMConversation) Other(userID string) string {
	if c.UserOneID == userID {
		return c.UserTwoID
	}
	return c.UserOneID
}

// Includes reports whether userID participates in the conversation.
func (c DMConversation) Includes(userID string) bool {
	return c.UserOneID == userID || c.UserTwoID == userID
}

// DMMessage is a message inside a direct conversation.
type DMMessage struct {
	ID             string    `gorm:"column:id;primaryKey;size:190"`
	ConversationID string    `gorm:"column:conversation_id;size:190;not null;index:idx_dm_messages_conversation_created,priority:1"`
	SenderID       string    `gorm:"column:sender_id;size:190;not null"`
	Content        string    `gorm:"column:content;type:text;not null"`
	CreatedAt      time.Time `gorm:"column:created_at;not null;index:idx_dm_messages_conversation_created,priority:2"`
}

func (DMMessage) TableName() string {
	return "dm_messages"
}

// MessageView is a message annotated with its author, score and the viewer's own vote.
type MessageView struct {
	ID          string        `json:"id"`
	ChannelID   string        `json:"channel_id"`
	ChannelSlug string        `json:"channel_slug"`
	Content     string        `json:"content"`
	ParentID    *string       `json:"parent_id,omitempty"`
	ReplyCount  int64         `json:"reply_count"`
	Author      users.Profile `json:"author"`
	Score       int64         `json:"score"`
	UserVote    int           `json:"user_vote"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// PostResult is the outcome of posting a message.
type PostResult struct {
	Message   MessageView        `json:"message"`
	NewBadges []reputation.Badge `json:"new_badges,omitempty"`
}

// Thread is a top-level message with its direct replies in timestamp order.
type Thread struct {
	Parent       MessageView   `json:"parent"`
	Replies      []MessageView `json:"replies"`
	TotalReplies int           `json:"total_replies"`
}

// VoteResult reports the message score after a vote and the caller's current vote.
type VoteResult struct {
	MessageID    string             `json:"message_id"`
	Score        int64              `json:"score"`
	UserVote     int                `json:"user_vote"`
	AuthorBadges []reputation.Badge `json:"author_badges,omitempty"`
}

// ConversationView describes a conversation from one participant's point of view.
type ConversationView struct {
	ID            string        `json:"id"`
	Other         users.Profile `json:"other_user"`
	CreatedAt     time.Time     `json:"created_at"`
	LastMessageAt time.Time     `json:"last_message_at"`
}

// DirectMessageView is a direct message annotated with its sender.
type DirectMessageView struct {
	ID             string        `json:"id"`
	ConversationID string        `json:"conversation_id"`
	Content        string        `json:"content"`
	Sender         users.Profile `json:"sender"`
	CreatedAt      time.Time     `json:"created_at"`
}
