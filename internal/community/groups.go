package community

import (
	"context"
	"errors"
	"fmt"

	"github.com/MarcoPoloResearchLab/studyhall/backend/internal/apperrors"
	"github.com/MarcoPoloResearchLab/studyhall/backend/internal/users"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	opCreateStudyGroup = "community.create_study_group"
	opStudyGroups      = "community.study_groups"
	opJoinStudyGroup   = "community.join_study_group"
	opUpdateMember     = "community.update_member"
	opLeaveStudyGroup  = "community.leave_study_group"
	opRemoveMember     = "community.remove_member"
	opGroupMembers     = "community.group_members"

	defaultMaxMembers = 10
	maxGroupCapacity  = 500
)

// GroupMember is a study group membership joined with the member's public profile.
type GroupMember struct {
	StudyGroupMember
	User users.Profile `json:"user"`
}

// CreateStudyGroup creates a group inside a community, enrolls the creator as leader and provisions the
// group's private channel.
func (s *Service) CreateStudyGroup(ctx context.Context, communityID, creatorID string, input StudyGroupInput) (StudyGroupDetails, error) {
	name, description, err := validateNamed(opCreateStudyGroup, input.Name, input.Description)
	if err != nil {
		return StudyGroupDetails{}, err
	}
	maxMembers := input.MaxMembers
	if maxMembers == 0 {
		maxMembers = defaultMaxMembers
	}
	if maxMembers < 1 || maxMembers > maxGroupCapacity {
		return StudyGroupDetails{}, apperrors.New(opCreateStudyGroup, "invalid_capacity", apperrors.ErrValidation, fmt.Sprintf("max_members must be between 1 and %d", maxGroupCapacity), nil)
	}

	var details StudyGroupDetails
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		community, err := s.loadCommunity(tx, opCreateStudyGroup, communityID)
		if err != nil {
			return err
		}
		if _, err := s.requireMember(tx, opCreateStudyGroup, communityID, creatorID); err != nil {
			return err
		}

		groupID, err := s.idProvider.NewID()
		if err != nil {
			return s.fail(opCreateStudyGroup, "id_generation_failed", err)
		}
		now := s.now().UTC()
		group := StudyGroup{
			ID:          groupID,
			CommunityID: community.ID,
			Name:        name,
			Description: description,
			CreatorID:   creatorID,
			IsPublic:    input.IsPublic,
			MaxMembers:  maxMembers,
			CreatedAt:   now,
		}
		if err := tx.Create(&group).Error; err != nil {
			return s.fail(opCreateStudyGroup, "insert_group_failed", err)
		}

		channelID, err := s.idProvider.NewID()
		if err != nil {
			return s.fail(opCreateStudyGroup, "id_generation_failed", err)
		}
		channel := Channel{
			ID:           channelID,
			Name:         name,
			Slug:         namespacedSlug("group", groupID),
			Description:  fmt.Sprintf("Private channel for %s", name),
			CommunityID:  &community.ID,
			StudyGroupID: &group.ID,
			CreatedAt:    now,
		}
		if err := tx.Create(&channel).Error; err != nil {
			return s.fail(opCreateStudyGroup, "insert_channel_failed", err)
		}

		leader, err := s.addGroupMember(tx, opCreateStudyGroup, groupID, creatorID, GroupRoleLeader, StatusApproved)
		if err != nil {
			return err
		}
		details = StudyGroupDetails{
			StudyGroup:   group,
			Channel:      channel,
			MemberCount:  1,
			ViewerRole:   leader.Role,
			ViewerStatus: leader.Status,
		}
		return nil
	})
	if err != nil {
		return StudyGroupDetails{}, err
	}
	return details, nil
}

// StudyGroups lists the groups of a community annotated with the viewer's membership.
func (s *Service) StudyGroups(ctx context.Context, communityID, viewerID string) ([]StudyGroupDetails, error) {
	db := s.db.WithContext(ctx)
	if _, err := s.loadCommunity(db, opStudyGroups, communityID); err != nil {
		return nil, err
	}
	if _, err := s.requireMember(db, opStudyGroups, communityID, viewerID); err != nil {
		return nil, err
	}

	var groups []StudyGroup
	if err := db.Where("community_id = ?", communityID).Order("created_at ASC").Find(&groups).Error; err != nil {
		return nil, s.fail(opStudyGroups, "query_failed", err)
	}
	results := make([]StudyGroupDetails, 0, len(groups))
	if len(groups) == 0 {
		return results, nil
	}
	groupIDs := make([]string, 0, len(groups))
	for _, group := range groups {
		groupIDs = append(groupIDs, group.ID)
	}

	var channels []Channel
	if err := db.Where("study_group_id IN ?", groupIDs).Find(&channels).Error; err != nil {
		return nil, s.fail(opStudyGroups, "channel_query_failed", err)
	}
	channelByGroup := make(map[string]Channel, len(channels))
	for _, channel := range channels {
		if channel.StudyGroupID != nil {
			channelByGroup[*channel.StudyGroupID] = channel
		}
	}

	var members []StudyGroupMember
	if err := db.Where("group_id IN ?", groupIDs).Find(&members).Error; err != nil {
		return nil, s.fail(opStudyGroups, "member_query_failed", err)
	}
	counts := make(map[string]int64, len(groups))
	viewer := make(map[string]StudyGroupMember)
	for _, member := range members {
		counts[member.GroupID]++
		if member.UserID == viewerID {
			viewer[member.GroupID] = member
		}
	}

	for _, group := range groups {
		details := StudyGroupDetails{
			StudyGroup:  group,
			Channel:     channelByGroup[group.ID],
			MemberCount: counts[group.ID],
		}
		if membership, ok := viewer[group.ID]; ok {
			details.ViewerRole = membership.Role
			details.ViewerStatus = membership.Status
		}
		results = append(results, details)
	}
	return results, nil
}

// JoinStudyGroup adds the user to a group. Public groups approve immediately; private groups leave the
// membership pending until a leader approves it. Pending members count towards capacity.
func (s *Service) JoinStudyGroup(ctx context.Context, groupID, userID string) (StudyGroupMember, error) {
	var member StudyGroupMember
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		group, err := s.lockGroup(tx, opJoinStudyGroup, groupID)
		if err != nil {
			return err
		}
		if _, err := s.requireMember(tx, opJoinStudyGroup, group.CommunityID, userID); err != nil {
			return err
		}
		existing, err := s.groupMembership(tx, groupID, userID)
		if err != nil {
			return err
		}
		if existing != nil {
			return apperrors.New(opJoinStudyGroup, "already_member", apperrors.ErrConflict, "already a member of this group", nil)
		}
		var count int64
		if err := tx.Model(&StudyGroupMember{}).Where("group_id = ?", groupID).Count(&count).Error; err != nil {
			return s.fail(opJoinStudyGroup, "count_failed", err)
		}
		if count >= int64(group.MaxMembers) {
			return apperrors.New(opJoinStudyGroup, "group_full", apperrors.ErrConflict, "group is full", nil)
		}
		status := StatusPending
		if group.IsPublic {
			status = StatusApproved
		}
		member, err = s.addGroupMember(tx, opJoinStudyGroup, groupID, userID, GroupRoleMember, status)
		return err
	})
	if err != nil {
		return StudyGroupMember{}, err
	}
	return member, nil
}

// UpdateMember changes a member's role or status. Only leaders may update members.
func (s *Service) UpdateMember(ctx context.Context, groupID, actorID, targetID string, update MemberUpdate) (StudyGroupMember, error) {
	if update.Role == nil && update.Status == nil {
		return StudyGroupMember{}, apperrors.New(opUpdateMember, "empty_update", apperrors.ErrValidation, "role or status is required", nil)
	}
	if update.Role != nil && *update.Role != GroupRoleLeader && *update.Role != GroupRoleMember {
		return StudyGroupMember{}, apperrors.New(opUpdateMember, "invalid_role", apperrors.ErrValidation, "role must be leader or member", nil)
	}
	if update.Status != nil && *update.Status != StatusApproved && *update.Status != StatusPending {
		return StudyGroupMember{}, apperrors.New(opUpdateMember, "invalid_status", apperrors.ErrValidation, "status must be approved or pending", nil)
	}

	var target StudyGroupMember
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.lockGroup(tx, opUpdateMember, groupID); err != nil {
			return err
		}
		if err := s.requireLeader(tx, opUpdateMember, groupID, actorID); err != nil {
			return err
		}
		existing, err := s.groupMembership(tx, groupID, targetID)
		if err != nil {
			return err
		}
		if existing == nil {
			return apperrors.New(opUpdateMember, "member_not_found", apperrors.ErrNotFound, "member not found", nil)
		}
		wasLeader := existing.Role == GroupRoleLeader && existing.Status == StatusApproved
		updates := map[string]any{}
		if update.Role != nil {
			updates["role"] = *update.Role
			existing.Role = *update.Role
		}
		if update.Status != nil {
			updates["status"] = *update.Status
			existing.Status = *update.Status
		}
		if wasLeader && (existing.Role != GroupRoleLeader || existing.Status != StatusApproved) {
			if err := s.requireOtherLeader(tx, opUpdateMember, groupID, existing.ID); err != nil {
				return err
			}
		}
		if err := tx.Model(&StudyGroupMember{}).Where("id = ?", existing.ID).Updates(updates).Error; err != nil {
			return s.fail(opUpdateMember, "update_failed", err, zap.String("group_id", groupID), zap.String("user_id", targetID))
		}
		target = *existing
		return nil
	})
	if err != nil {
		return StudyGroupMember{}, err
	}
	return target, nil
}

// LeaveStudyGroup removes the user's membership. Leaders cannot leave.
func (s *Service) LeaveStudyGroup(ctx context.Context, groupID, userID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.lockGroup(tx, opLeaveStudyGroup, groupID); err != nil {
			return err
		}
		member, err := s.groupMembership(tx, groupID, userID)
		if err != nil {
			return err
		}
		if member == nil {
			return apperrors.New(opLeaveStudyGroup, "not_member", apperrors.ErrNotFound, "not a member of this group", nil)
		}
		if member.Role == GroupRoleLeader {
			return apperrors.New(opLeaveStudyGroup, "leader_cannot_leave", apperrors.ErrForbidden, "leaders cannot leave the group; transfer leadership first", nil)
		}
		if err := tx.Delete(member).Error; err != nil {
			return s.fail(opLeaveStudyGroup, "delete_failed", err)
		}
		return nil
	})
}

// RemoveMember lets a leader remove another member. Members leave through LeaveStudyGroup.
func (s *Service) RemoveMember(ctx context.Context, groupID, actorID, targetID string) error {
	if actorID == targetID {
		return apperrors.New(opRemoveMember, "self_removal", apperrors.ErrForbidden, "use leave to remove yourself", nil)
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.lockGroup(tx, opRemoveMember, groupID); err != nil {
			return err
		}
		if err := s.requireLeader(tx, opRemoveMember, groupID, actorID); err != nil {
			return err
		}
		member, err := s.groupMembership(tx, groupID, targetID)
		if err != nil {
			return err
		}
		if member == nil {
			return apperrors.New(opRemoveMember, "member_not_found", apperrors.ErrNotFound, "member not found", nil)
		}
		if err := tx.Delete(member).Error; err != nil {
			return s.fail(opRemoveMember, "delete_failed", err)
		}
		return nil
	})
}

// GroupMembers lists a group's members with their profiles. The viewer must belong to the community.
func (s *Service) GroupMembers(ctx context.Context, groupID, viewerID string) ([]GroupMember, error) {
	db := s.db.WithContext(ctx)
	group, err := s.loadGroup(db, opGroupMembers, groupID)
	if err != nil {
		return nil, err
	}
	if _, err := s.requireMember(db, opGroupMembers, group.CommunityID, viewerID); err != nil {
		return nil, err
	}
	var members []StudyGroupMember
	if err := db.Where("group_id = ?", groupID).Order("joined_at ASC").Find(&members).Error; err != nil {
		return nil, s.fail(opGroupMembers, "query_failed", err)
	}
	userIDs := make([]string, 0, len(members))
	for _, member := range members {
		userIDs = append(userIDs, member.UserID)
	}
	profiles, err := users.LoadProfiles(db, userIDs)
	if err != nil {
		return nil, err
	}
	results := make([]GroupMember, 0, len(members))
	for _, member := range members {
		results = append(results, GroupMember{StudyGroupMember: member, User: profiles[member.UserID]})
	}
	return results, nil
}

func (s *Service) loadGroup(db *gorm.DB, operation, groupID string) (StudyGroup, error) {
	var group StudyGroup
	if err := db.Where("id = ?", groupID).Take(&group).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return StudyGroup{}, apperrors.New(operation, "group_not_found", apperrors.ErrNotFound, "study group not found", err)
		}
		return StudyGroup{}, s.fail(operation, "group_lookup_failed", err)
	}
	return group, nil
}

// lockGroup loads the group row FOR UPDATE so membership changes on one group are serialised.
func (s *Service) lockGroup(tx *gorm.DB, operation, groupID string) (StudyGroup, error) {
	return s.loadGroup(tx.Clauses(clause.Locking{Strength: "UPDATE"}), operation, groupID)
}

func (s *Service) groupMembership(db *gorm.DB, groupID, userID string) (*StudyGroupMember, error) {
	var member StudyGroupMember
	err := db.Where("group_id = ? AND user_id = ?", groupID, userID).Take(&member).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Internal("community.group_membership", "lookup_failed", err)
	}
	return &member, nil
}

func (s *Service) requireLeader(db *gorm.DB, operation, groupID, userID string) error {
	member, err := s.groupMembership(db, groupID, userID)
	if err != nil {
		return err
	}
	if member == nil || member.Role != GroupRoleLeader || member.Status != StatusApproved {
		return apperrors.New(operation, "not_leader", apperrors.ErrForbidden, "only group leaders can do this", nil)
	}
	return nil
}

// requireOtherLeader fails unless an approved leader other than memberID remains in the group.
func (s *Service) requireOtherLeader(tx *gorm.DB, operation, groupID, memberID string) error {
	var leaders int64
	err := tx.Model(&StudyGroupMember{}).
		Where("group_id = ? AND role = ? AND status = ? AND id <> ?", groupID, GroupRoleLeader, StatusApproved, memberID).
		Count(&leaders).Error
	if err != nil {
		return s.fail(operation, "leader_count_failed", err, zap.String("group_id", groupID))
	}
	if leaders == 0 {
		return apperrors.New(operation, "last_leader", apperrors.ErrForbidden, "a group needs at least one approved leader; promote another member first", nil)
	}
	return nil
}

func (s *Service) addGroupMember(tx *gorm.DB, operation, groupID, userID, role, status string) (StudyGroupMember, error) {
	memberID, err := s.idProvider.NewID()
	if err != nil {
		return StudyGroupMember{}, s.fail(operation, "id_generation_failed", err)
	}
	member := StudyGroupMember{
		ID:       memberID,
		GroupID:  groupID,
		UserID:   userID,
		Role:     role,
		Status:   status,
		JoinedAt: s.now().UTC(),
	}
	if err := tx.Create(&member).Error; err != nil {
		return StudyGroupMember{}, s.fail(operation, "insert_member_failed", err)
	}
	return member, nil
}
