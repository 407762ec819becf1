package community

import (
	"context"
	"testing"

	"github.com/MarcoPoloResearchLab/studyhall/backend/internal/apperrors"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newLedGroup(t *testing.T) (*Service, *gorm.DB, CommunityDetails, StudyGroupDetails) {
	t.Helper()
	service, db := newTestService(t)
	seedUsers(t, db, "owner", "lead", "alice")
	ctx := context.Background()
	details, err := service.CreateCommunity(ctx, "owner", CommunityInput{Name: "Physics"})
	require.NoError(t, err)
	for _, userID := range []string{"lead", "alice"} {
		_, err = service.JoinCommunity(ctx, details.JoinCode, userID)
		require.NoError(t, err)
	}
	group, err := service.CreateStudyGroup(ctx, details.ID, "lead", StudyGroupInput{Name: "Exam prep", IsPublic: true})
	require.NoError(t, err)
	_, err = service.JoinStudyGroup(ctx, group.ID, "alice")
	require.NoError(t, err)
	return service, db, details, group
}

func approvedLeaders(t *testing.T, db *gorm.DB, groupID string) int64 {
	t.Helper()
	var count int64
	require.NoError(t, db.Model(&StudyGroupMember{}).
		Where("group_id = ? AND role = ? AND status = ?", groupID, GroupRoleLeader, StatusApproved).
		Count(&count).Error)
	return count
}

func TestLastLeaderCannotStepDown(t *testing.T) {
	service, db, _, group := newLedGroup(t)
	ctx := context.Background()

	member := GroupRoleMember
	_, err := service.UpdateMember(ctx, group.ID, "lead", "lead", MemberUpdate{Role: &member})
	require.ErrorIs(t, err, apperrors.ErrForbidden)
	require.Equal(t, "community.update_member.last_leader", apperrors.CodeOf(err))

	pending := StatusPending
	_, err = service.UpdateMember(ctx, group.ID, "lead", "lead", MemberUpdate{Status: &pending})
	require.ErrorIs(t, err, apperrors.ErrForbidden)
	require.Equal(t, "community.update_member.last_leader", apperrors.CodeOf(err))

	err = service.LeaveStudyGroup(ctx, group.ID, "lead")
	require.ErrorIs(t, err, apperrors.ErrForbidden)
	require.Equal(t, int64(1), approvedLeaders(t, db, group.ID))
}

func TestLeaderStepsDownAfterPromotingSuccessor(t *testing.T) {
	service, db, _, group := newLedGroup(t)
	ctx := context.Background()

	leader := GroupRoleLeader
	_, err := service.UpdateMember(ctx, group.ID, "lead", "alice", MemberUpdate{Role: &leader})
	require.NoError(t, err)

	member := GroupRoleMember
	demoted, err := service.UpdateMember(ctx, group.ID, "lead", "lead", MemberUpdate{Role: &member})
	require.NoError(t, err)
	require.Equal(t, GroupRoleMember, demoted.Role)

	require.NoError(t, service.LeaveStudyGroup(ctx, group.ID, "lead"))
	require.Equal(t, int64(1), approvedLeaders(t, db, group.ID))

	_, err = service.UpdateMember(ctx, group.ID, "alice", "alice", MemberUpdate{Role: &member})
	require.ErrorIs(t, err, apperrors.ErrForbidden)
}

func TestGroupLeaderCannotLeaveCommunity(t *testing.T) {
	service, db, details, group := newLedGroup(t)
	ctx := context.Background()

	err := service.LeaveCommunity(ctx, details.ID, "lead")
	require.ErrorIs(t, err, apperrors.ErrForbidden)
	require.Equal(t, "community.leave_community.group_leader", apperrors.CodeOf(err))
	require.Equal(t, int64(1), approvedLeaders(t, db, group.ID))

	member, err := service.membership(db, details.ID, "lead")
	require.NoError(t, err)
	require.NotNil(t, member)

	require.NoError(t, service.LeaveCommunity(ctx, details.ID, "alice"))
	var remaining int64
	require.NoError(t, db.Model(&StudyGroupMember{}).Where("group_id = ? AND user_id = ?", group.ID, "alice").Count(&remaining).Error)
	require.Zero(t, remaining)
}
