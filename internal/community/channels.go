package community

import (
	"context"
	"errors"
	"strings"

	"github.com/MarcoPoloResearchLab/studyhall/backend/internal/apperrors"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// LegacyChannels lists the global channels that belong to no community.
func (s *Service) LegacyChannels(ctx context.Context) ([]Channel, error) {
	var channels []Channel
	if err := s.db.WithContext(ctx).Where("community_id IS NULL").Order("created_at ASC").Find(&channels).Error; err != nil {
		return nil, s.fail(opLegacyChannels, "query_failed", err)
	}
	return channels, nil
}

// VisibleChannels lists the community's channels the user may see: every non-group channel plus the
// channels of groups where the user is an approved member.
func (s *Service) VisibleChannels(ctx context.Context, communityID, userID string) ([]Channel, error) {
	db := s.db.WithContext(ctx)
	if _, err := s.loadCommunity(db, opVisibleChannels, communityID); err != nil {
		return nil, err
	}
	if _, err := s.requireMember(db, opVisibleChannels, communityID, userID); err != nil {
		return nil, err
	}

	approvedGroups := db.Model(&StudyGroupMember{}).
		Select("group_id").
		Where("user_id = ? AND status = ?", userID, StatusApproved)

	var channels []Channel
	err := db.Where("community_id = ?", communityID).
		Where(db.Where("study_group_id IS NULL").Or("study_group_id IN (?)", approvedGroups)).
		Order("created_at ASC").
		Order("slug ASC").
		Find(&channels).Error
	if err != nil {
		return nil, s.fail(opVisibleChannels, "query_failed", err, zap.String("community_id", communityID))
	}
	return channels, nil
}

// ChannelBySlug resolves a channel by slug through the expiring LRU cache.
func (s *Service) ChannelBySlug(ctx context.Context, slug string) (Channel, error) {
	slug = strings.TrimSpace(slug)
	if cached, ok := s.channels.Get(slug); ok {
		return cached, nil
	}
	var channel Channel
	if err := s.db.WithContext(ctx).Where("slug = ?", slug).Take(&channel).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Channel{}, apperrors.New(opChannelBySlug, "channel_not_found", apperrors.ErrNotFound, "channel not found", err)
		}
		return Channel{}, s.fail(opChannelBySlug, "query_failed", err, zap.String("slug", slug))
	}
	s.channels.Add(slug, channel)
	return channel, nil
}

// ChannelByID resolves a channel by identifier.
func (s *Service) ChannelByID(ctx context.Context, channelID string) (Channel, error) {
	var channel Channel
	if err := s.db.WithContext(ctx).Where("id = ?", channelID).Take(&channel).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Channel{}, apperrors.New(opChannelByID, "channel_not_found", apperrors.ErrNotFound, "channel not found", err)
		}
		return Channel{}, s.fail(opChannelByID, "query_failed", err, zap.String("channel_id", channelID))
	}
	s.channels.Add(channel.Slug, channel)
	return channel, nil
}

// AuthorizeChannel resolves a channel by slug and checks that the user may read and write it.
func (s *Service) AuthorizeChannel(ctx context.Context, userID, slug string) (Channel, error) {
	channel, err := s.ChannelBySlug(ctx, slug)
	if err != nil {
		return Channel{}, err
	}
	if err := s.CheckAccess(ctx, userID, channel); err != nil {
		return Channel{}, err
	}
	return channel, nil
}

// AuthorizeChannelID resolves a channel by identifier and checks that the user may read and write it.
func (s *Service) AuthorizeChannelID(ctx context.Context, userID, channelID string) (Channel, error) {
	channel, err := s.ChannelByID(ctx, channelID)
	if err != nil {
		return Channel{}, err
	}
	if err := s.CheckAccess(ctx, userID, channel); err != nil {
		return Channel{}, err
	}
	return channel, nil
}

// CheckAccess enforces channel gating: legacy channels are open, community channels require community
// membership and group channels require approved group membership.
func (s *Service) CheckAccess(ctx context.Context, userID string, channel Channel) error {
	if channel.IsLegacy() {
		return nil
	}
	db := s.db.WithContext(ctx)
	if channel.StudyGroupID != nil {
		member, err := s.groupMembership(db, *channel.StudyGroupID, userID)
		if err != nil {
			return err
		}
		if member == nil || member.Status != StatusApproved {
			return apperrors.New(opAuthorizeChannel, "not_group_member", apperrors.ErrForbidden, "this channel is private to its study group", nil)
		}
		return nil
	}
	member, err := s.membership(db, *channel.CommunityID, userID)
	if err != nil {
		return err
	}
	if member == nil {
		return apperrors.New(opAuthorizeChannel, "not_member", apperrors.ErrForbidden, "you are not a member of this community", nil)
	}
	return nil
}
