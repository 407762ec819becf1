// Package chat stores channel messages, threads, votes and direct messages, and publishes the resulting
// realtime events once the owning transaction has committed.
package chat

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/MarcoPoloResearchLab/studyhall/backend/internal/apperrors"
	"github.com/MarcoPoloResearchLab/studyhall/backend/internal/community"
	"github.com/MarcoPoloResearchLab/studyhall/backend/internal/ids"
	"github.com/MarcoPoloResearchLab/studyhall/backend/internal/realtime"
	"github.com/MarcoPoloResearchLab/studyhall/backend/internal/reputation"
	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	opServiceNew = "chat.service.new"

	defaultMessageLimit    = 100
	defaultMaxMessageLimit = 500
	defaultMaxContentRunes = 4000
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingAuthorizer = errors.New("channel authorizer is required")
	errMissingCounters   = errors.New("reputation counters are required")
)

// ChannelAuthorizer resolves channels and enforces membership gating.
type ChannelAuthorizer interface {
	AuthorizeChannel(ctx context.Context, userID, slug string) (community.Channel, error)
	AuthorizeChannelID(ctx context.Context, userID, channelID string) (community.Channel, error)
}

// Counters applies reputation side effects inside the caller's transaction.
type Counters interface {
	RecordMessage(tx *gorm.DB, userID string) ([]reputation.Badge, error)
	ApplyVoteDelta(tx *gorm.DB, authorID, voterID string, delta int64) ([]reputation.Badge, error)
}

// Broadcaster fans events out to the subscribers of a topic.
type Broadcaster interface {
	Broadcast(ctx context.Context, topic string, event realtime.Event) int
}

// ServiceConfig describes the dependencies of the chat service.
type ServiceConfig struct {
	Database        *gorm.DB
	Channels        ChannelAuthorizer
	Counters        Counters
	Broadcaster     Broadcaster
	Clock           func() time.Time
	IDProvider      ids.Provider
	Logger          *zap.Logger
	MessageLimit    int
	MaxMessageLimit int
	MaxContentRunes int
}

// Service implements the message store, voting and direct messages.
type Service struct {
	db              *gorm.DB
	channels        ChannelAuthorizer
	counters        Counters
	broadcaster     Broadcaster
	now             func() time.Time
	idProvider      ids.Provider
	logger          *zap.Logger
	sanitizer       *bluemonday.Policy
	messageLimit    int
	maxMessageLimit int
	maxContentRunes int
}

type noopBroadcaster struct{}

func (noopBroadcaster) Broadcast(context.Context, string, realtime.Event) int {
	return 0
}

// NewService constructs the chat service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, apperrors.Internal(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.Channels == nil {
		return nil, apperrors.Internal(opServiceNew, "missing_channels", errMissingAuthorizer)
	}
	if cfg.Counters == nil {
		return nil, apperrors.Internal(opServiceNew, "missing_counters", errMissingCounters)
	}
	broadcaster := cfg.Broadcaster
	if broadcaster == nil {
		broadcaster = noopBroadcaster{}
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
	messageLimit := cfg.MessageLimit
	if messageLimit <= 0 {
		messageLimit = defaultMessageLimit
	}
	maxMessageLimit := cfg.MaxMessageLimit
	if maxMessageLimit < messageLimit {
		maxMessageLimit = max(messageLimit, defaultMaxMessageLimit)
	}
	maxContentRunes := cfg.MaxContentRunes
	if maxContentRunes <= 0 {
		maxContentRunes = defaultMaxContentRunes
	}
	return &Service{
		db:              cfg.Database,
		channels:        cfg.Channels,
		counters:        cfg.Counters,
		broadcaster:     broadcaster,
		now:             clock,
		idProvider:      idProvider,
		logger:          logger,
		sanitizer:       bluemonday.StrictPolicy(),
		messageLimit:    messageLimit,
		maxMessageLimit: maxMessageLimit,
		maxContentRunes: maxContentRunes,
	}, nil
}

// cleanContent strips markup, keeping plain text, and enforces the length bounds.
func (s *Service) cleanContent(operation, raw string) (string, error) {
	content := strings.TrimSpace(html.UnescapeString(s.sanitizer.Sanitize(raw)))
	if content == "" {
		return "", apperrors.New(operation, "empty_content", apperrors.ErrValidation, "message content is required", nil)
	}
	if utf8.RuneCountInString(content) > s.maxContentRunes {
		return "", apperrors.New(operation, "content_too_long", apperrors.ErrValidation, fmt.Sprintf("message content must not exceed %d characters", s.maxContentRunes), nil)
	}
	return content, nil
}

func (s *Service) clampLimit(limit int) int {
	if limit <= 0 {
		return s.messageLimit
	}
	if limit > s.maxMessageLimit {
		return s.maxMessageLimit
	}
	return limit
}

func (s *Service) fail(operation, reason string, err error, fields ...zap.Field) error {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
		zap.Error(err),
	}
	attrs = append(attrs, fields...)
	s.logger.Error("chat service error", attrs...)
	return apperrors.Internal(operation, reason, err)
}
