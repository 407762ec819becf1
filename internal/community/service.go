// Package community manages communities, channels and study groups, and gates channel access by membership.
package community

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/studyhall/backend/internal/apperrors"
	"github.com/MarcoPoloResearchLab/studyhall/backend/internal/ids"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	opServiceNew       = "community.service.new"
	opCreateCommunity  = "community.create_community"
	opJoinCommunity    = "community.join_community"
	opLeaveCommunity   = "community.leave_community"
	opMyCommunities    = "community.my_communities"
	opGetCommunity     = "community.get_community"
	opCreateChannel    = "community.create_channel"
	opVisibleChannels  = "community.visible_channels"
	opLegacyChannels   = "community.legacy_channels"
	opChannelBySlug    = "community.channel_by_slug"
	opChannelByID      = "community.channel_by_id"
	opAuthorizeChannel = "community.authorize_channel"

	maxNameLength        = 120
	maxDescriptionLength = 1024
	joinCodeAttempts     = 5

	defaultCacheSize = 512
	defaultCacheTTL  = 5 * time.Minute
)

var (
	errMissingDatabase = errors.New("database handle is required")
	slugUnsafe         = regexp.MustCompile(`[^a-z0-9]+`)
)

// ServiceConfig describes the dependencies of the community service.
type ServiceConfig struct {
	Database         *gorm.DB
	Clock            func() time.Time
	IDProvider       ids.Provider
	JoinCodes        func() (string, error)
	Logger           *zap.Logger
	ChannelCacheSize int
	ChannelCacheTTL  time.Duration
}

// Service implements community, channel and study group operations.
type Service struct {
	db         *gorm.DB
	now        func() time.Time
	idProvider ids.Provider
	joinCodes  func() (string, error)
	logger     *zap.Logger
	channels   *expirable.LRU[string, Channel]
}

// NewService constructs the community service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, apperrors.Internal(opServiceNew, "missing_database", errMissingDatabase)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	idProvider := cfg.IDProvider
	if idProvider == nil {
		idProvider = ids.NewUUIDProvider()
	}
	joinCodes := cfg.JoinCodes
	if joinCodes == nil {
		joinCodes = ids.NewJoinCode
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	cacheSize := cfg.ChannelCacheSize
	if cacheSize <= 0 {
		cacheSize = defaultCacheSize
	}
	cacheTTL := cfg.ChannelCacheTTL
	if cacheTTL <= 0 {
		cacheTTL = defaultCacheTTL
	}
	return &Service{
		db:         cfg.Database,
		now:        clock,
		idProvider: idProvider,
		joinCodes:  joinCodes,
		logger:     logger,
		channels:   expirable.NewLRU[string, Channel](cacheSize, nil, cacheTTL),
	}, nil
}

// CreateCommunity creates a community owned by ownerID and provisions its default channels.
func (s *Service) CreateCommunity(ctx context.Context, ownerID string, input CommunityInput) (CommunityDetails, error) {
	name, description, err := validateNamed(opCreateCommunity, input.Name, input.Description)
	if err != nil {
		return CommunityDetails{}, err
	}

	communityID, err := s.idProvider.NewID()
	if err != nil {
		return CommunityDetails{}, s.fail(opCreateCommunity, "id_generation_failed", err)
	}
	now := s.now().UTC()
	details := CommunityDetails{Role: RoleOwner}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		joinCode, err := s.uniqueJoinCode(tx)
		if err != nil {
			return err
		}
		community := Community{
			ID:          communityID,
			Name:        name,
			Description: description,
			OwnerID:     ownerID,
			JoinCode:    joinCode,
			CreatedAt:   now,
		}
		if err := tx.Create(&community).Error; err != nil {
			return s.fail(opCreateCommunity, "insert_community_failed", err)
		}
		if err := s.enroll(tx, opCreateCommunity, communityID, ownerID, RoleOwner); err != nil {
			return err
		}

		channels := make([]Channel, 0, len(defaultChannels))
		for _, preset := range defaultChannels {
			channelID, err := s.idProvider.NewID()
			if err != nil {
				return s.fail(opCreateCommunity, "id_generation_failed", err)
			}
			channels = append(channels, Channel{
				ID:          channelID,
				Name:        preset.name,
				Slug:        namespacedSlug(preset.base, communityID),
				Description: preset.description,
				CommunityID: &community.ID,
				CreatedAt:   now,
			})
		}
		if err := tx.Create(&channels).Error; err != nil {
			return s.fail(opCreateCommunity, "insert_channels_failed", err)
		}
		details.Community = community
		details.Channels = channels
		return nil
	})
	if err != nil {
		return CommunityDetails{}, err
	}
	s.logger.Info("community created", zap.String("community_id", communityID), zap.String("owner_id", ownerID))
	return details, nil
}

func (s *Service) uniqueJoinCode(tx *gorm.DB) (string, error) {
	for attempt := 0; attempt < joinCodeAttempts; attempt++ {
		code, err := s.joinCodes()
		if err != nil {
			return "", s.fail(opCreateCommunity, "join_code_failed", err)
		}
		code = strings.ToUpper(code)
		var count int64
		if err := tx.Model(&Community{}).Where("join_code = ?", code).Count(&count).Error; err != nil {
			return "", s.fail(opCreateCommunity, "join_code_lookup_failed", err)
		}
		if count == 0 {
			return code, nil
		}
	}
	return "", s.fail(opCreateCommunity, "join_code_exhausted", errors.New("could not generate a unique join code"))
}

// JoinCommunity enrolls the user in the community identified by joinCode.
func (s *Service) JoinCommunity(ctx context.Context, joinCode, userID string) (Community, error) {
	code := strings.ToUpper(strings.TrimSpace(joinCode))
	if code == "" {
		return Community{}, apperrors.New(opJoinCommunity, "missing_join_code", apperrors.ErrValidation, "join code is required", nil)
	}
	var community Community
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("join_code = ?", code).Take(&community).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperrors.New(opJoinCommunity, "invalid_join_code", apperrors.ErrNotFound, "invalid join code", err)
			}
			return s.fail(opJoinCommunity, "lookup_failed", err)
		}
		member, err := s.membership(tx, community.ID, userID)
		if err != nil {
			return err
		}
		if member != nil {
			return apperrors.New(opJoinCommunity, "already_member", apperrors.ErrConflict, "already a member of this community", nil)
		}
		return s.enroll(tx, opJoinCommunity, community.ID, userID, RoleMember)
	})
	if err != nil {
		return Community{}, err
	}
	return community, nil
}

// LeaveCommunity removes the user from the community and from its study groups. Owners and study group
// leaders cannot leave.
func (s *Service) LeaveCommunity(ctx context.Context, communityID, userID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		member, err := s.membership(tx, communityID, userID)
		if err != nil {
			return err
		}
		if member == nil {
			return apperrors.New(opLeaveCommunity, "not_member", apperrors.ErrNotFound, "not a member of this community", nil)
		}
		if member.Role == RoleOwner {
			return apperrors.New(opLeaveCommunity, "owner_cannot_leave", apperrors.ErrForbidden, "the owner cannot leave the community", nil)
		}
		var led int64
		err = tx.Model(&StudyGroupMember{}).
			Where("user_id = ? AND role = ? AND group_id IN (?)", userID, GroupRoleLeader,
				tx.Model(&StudyGroup{}).Select("id").Where("community_id = ?", communityID)).
			Count(&led).Error
		if err != nil {
			return s.fail(opLeaveCommunity, "leader_lookup_failed", err)
		}
		if led > 0 {
			return apperrors.New(opLeaveCommunity, "group_leader", apperrors.ErrForbidden, "transfer leadership of your study groups before leaving the community", nil)
		}
		groupIDs := tx.Model(&StudyGroup{}).Select("id").Where("community_id = ?", communityID)
		if err := tx.Where("user_id = ? AND group_id IN (?)", userID, groupIDs).Delete(&StudyGroupMember{}).Error; err != nil {
			return s.fail(opLeaveCommunity, "group_cleanup_failed", err)
		}
		if err := tx.Delete(member).Error; err != nil {
			return s.fail(opLeaveCommunity, "delete_failed", err)
		}
		return nil
	})
}

// MyCommunities lists the communities the user belongs to.
func (s *Service) MyCommunities(ctx context.Context, userID string) ([]CommunitySummary, error) {
	db := s.db.WithContext(ctx)
	var memberships []CommunityMember
	if err := db.Where("user_id = ?", userID).Order("joined_at ASC").Find(&memberships).Error; err != nil {
		return nil, s.fail(opMyCommunities, "membership_query_failed", err)
	}
	summaries := make([]CommunitySummary, 0, len(memberships))
	if len(memberships) == 0 {
		return summaries, nil
	}
	communityIDs := make([]string, 0, len(memberships))
	for _, membership := range memberships {
		communityIDs = append(communityIDs, membership.CommunityID)
	}

	var communities []Community
	if err := db.Where("id IN ?", communityIDs).Find(&communities).Error; err != nil {
		return nil, s.fail(opMyCommunities, "community_query_failed", err)
	}
	byID := make(map[string]Community, len(communities))
	for _, community := range communities {
		byID[community.ID] = community
	}

	var counts []struct {
		CommunityID string
		Total       int64
	}
	err := db.Model(&CommunityMember{}).
		Select("community_id, COUNT(*) AS total").
		Where("community_id IN ?", communityIDs).
		Group("community_id").
		Scan(&counts).Error
	if err != nil {
		return nil, s.fail(opMyCommunities, "count_failed", err)
	}
	memberCounts := make(map[string]int64, len(counts))
	for _, count := range counts {
		memberCounts[count.CommunityID] = count.Total
	}

	for _, membership := range memberships {
		community, ok := byID[membership.CommunityID]
		if !ok {
			continue
		}
		summaries = append(summaries, CommunitySummary{
			Community:   community,
			Role:        membership.Role,
			MemberCount: memberCounts[community.ID],
		})
	}
	return summaries, nil
}

// Community loads a community the user belongs to.
func (s *Service) Community(ctx context.Context, communityID, userID string) (CommunitySummary, error) {
	db := s.db.WithContext(ctx)
	community, err := s.loadCommunity(db, opGetCommunity, communityID)
	if err != nil {
		return CommunitySummary{}, err
	}
	member, err := s.requireMember(db, opGetCommunity, communityID, userID)
	if err != nil {
		return CommunitySummary{}, err
	}
	var count int64
	if err := db.Model(&CommunityMember{}).Where("community_id = ?", communityID).Count(&count).Error; err != nil {
		return CommunitySummary{}, s.fail(opGetCommunity, "count_failed", err)
	}
	return CommunitySummary{Community: community, Role: member.Role, MemberCount: count}, nil
}

// CreateChannel adds a channel to a community. Only members may create channels.
func (s *Service) CreateChannel(ctx context.Context, communityID, actorID string, input ChannelInput) (Channel, error) {
	name, description, err := validateNamed(opCreateChannel, input.Name, input.Description)
	if err != nil {
		return Channel{}, err
	}
	base := slugify(name)
	if base == "" {
		return Channel{}, apperrors.New(opCreateChannel, "invalid_name", apperrors.ErrValidation, "channel name must contain letters or digits", nil)
	}

	var channel Channel
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		community, err := s.loadCommunity(tx, opCreateChannel, communityID)
		if err != nil {
			return err
		}
		if _, err := s.requireMember(tx, opCreateChannel, communityID, actorID); err != nil {
			return err
		}
		slug := namespacedSlug(base, community.ID)
		var count int64
		if err := tx.Model(&Channel{}).Where("slug = ?", slug).Count(&count).Error; err != nil {
			return s.fail(opCreateChannel, "slug_lookup_failed", err)
		}
		if count > 0 {
			return apperrors.New(opCreateChannel, "slug_taken", apperrors.ErrConflict, "a channel with this name already exists", nil)
		}
		channelID, err := s.idProvider.NewID()
		if err != nil {
			return s.fail(opCreateChannel, "id_generation_failed", err)
		}
		channel = Channel{
			ID:          channelID,
			Name:        name,
			Slug:        slug,
			Description: description,
			CommunityID: &community.ID,
			CreatedAt:   s.now().UTC(),
		}
		if err := tx.Create(&channel).Error; err != nil {
			return s.fail(opCreateChannel, "insert_failed", err)
		}
		return nil
	})
	if err != nil {
		return Channel{}, err
	}
	return channel, nil
}

func (s *Service) loadCommunity(db *gorm.DB, operation, communityID string) (Community, error) {
	var community Community
	if err := db.Where("id = ?", communityID).Take(&community).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Community{}, apperrors.New(operation, "community_not_found", apperrors.ErrNotFound, "community not found", err)
		}
		return Community{}, s.fail(operation, "community_lookup_failed", err)
	}
	return community, nil
}

func (s *Service) membership(db *gorm.DB, communityID, userID string) (*CommunityMember, error) {
	var member CommunityMember
	err := db.Where("community_id = ? AND user_id = ?", communityID, userID).Take(&member).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Internal("community.membership", "lookup_failed", err)
	}
	return &member, nil
}

func (s *Service) requireMember(db *gorm.DB, operation, communityID, userID string) (CommunityMember, error) {
	member, err := s.membership(db, communityID, userID)
	if err != nil {
		return CommunityMember{}, err
	}
	if member == nil {
		return CommunityMember{}, apperrors.New(operation, "not_member", apperrors.ErrForbidden, "you are not a member of this community", nil)
	}
	return *member, nil
}

func (s *Service) enroll(tx *gorm.DB, operation, communityID, userID, role string) error {
	memberID, err := s.idProvider.NewID()
	if err != nil {
		return s.fail(operation, "id_generation_failed", err)
	}
	member := CommunityMember{
		ID:          memberID,
		CommunityID: communityID,
		UserID:      userID,
		Role:        role,
		JoinedAt:    s.now().UTC(),
	}
	if err := tx.Create(&member).Error; err != nil {
		return s.fail(operation, "enroll_failed", err)
	}
	return nil
}

func validateNamed(operation, rawName, rawDescription string) (string, string, error) {
	name := strings.TrimSpace(rawName)
	description := strings.TrimSpace(rawDescription)
	if name == "" || len(name) > maxNameLength {
		return "", "", apperrors.New(operation, "invalid_name", apperrors.ErrValidation, fmt.Sprintf("name must be between 1 and %d characters", maxNameLength), nil)
	}
	if len(description) > maxDescriptionLength {
		return "", "", apperrors.New(operation, "invalid_description", apperrors.ErrValidation, fmt.Sprintf("description must not exceed %d characters", maxDescriptionLength), nil)
	}
	return name, description, nil
}

func slugify(value string) string {
	return strings.Trim(slugUnsafe.ReplaceAllString(strings.ToLower(value), "-"), "-")
}

func namespacedSlug(base, scopeID string) string {
	return fmt.Sprintf("%s-%s", base, scopeID)
}

func (s *Service) fail(operation, reason string, err error, fields ...zap.Field) error {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
		zap.Error(err),
	}
	attrs = append(attrs, fields...)
	s.logger.Error("community service error", attrs...)
	return apperrors.Internal(operation, reason, err)
}
