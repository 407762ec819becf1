package community

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/studyhall/backend/internal/apperrors"
	"github.com/MarcoPoloResearchLab/studyhall/backend/internal/users"
	sqlite "github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&users.User{}, &Community{}, &CommunityMember{}, &Channel{}, &StudyGroup{}, &StudyGroupMember{}))
	service, err := NewService(ServiceConfig{
		Database: db,
		Clock: func() time.Time {
			return time.Date(2024, 9, 1, 12, 0, 0, 0, time.UTC)
		},
	})
	require.NoError(t, err)
	return service, db
}

func seedUsers(t *testing.T, db *gorm.DB, ids ...string) {
	t.Helper()
	for _, id := range ids {
		require.NoError(t, db.Create(&users.User{
			ID:        id,
			Username:  id,
			Email:     id + "@example.com",
			IsActive:  true,
			CreatedAt: time.Now().UTC(),
			UpdatedAt: time.Now().UTC(),
		}).Error)
	}
}

func TestCreateCommunityProvisionsDefaultChannels(t *testing.T) {
	service, db := newTestService(t)
	seedUsers(t, db, "owner")

	details, err := service.CreateCommunity(context.Background(), "owner", CommunityInput{Name: "Physics 101", Description: "Mechanics"})
	require.NoError(t, err)
	require.Equal(t, RoleOwner, details.Role)
	require.Len(t, details.JoinCode, 8)
	require.Len(t, details.Channels, 6)

	bases := []string{"welcome", "announcements", "general", "off-topic", "homework-help", "resource-sharing"}
	for index, channel := range details.Channels {
		require.Equal(t, bases[index]+"-"+details.ID, channel.Slug)
		require.NotNil(t, channel.CommunityID)
		require.Nil(t, channel.StudyGroupID)
	}

	member, err := service.membership(db, details.ID, "owner")
	require.NoError(t, err)
	require.NotNil(t, member)
	require.Equal(t, RoleOwner, member.Role)

	second, err := service.CreateCommunity(context.Background(), "owner", CommunityInput{Name: "Chemistry"})
	require.NoError(t, err)
	require.NotEqual(t, details.Channels[2].Slug, second.Channels[2].Slug)
}

func TestCreateCommunityValidatesName(t *testing.T) {
	service, _ := newTestService(t)

	_, err := service.CreateCommunity(context.Background(), "owner", CommunityInput{Name: "   "})
	require.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestJoinCodesAreStoredUpperCase(t *testing.T) {
	service, db := newTestService(t)
	service.joinCodes = func() (string, error) { return "ab12cd34", nil }
	seedUsers(t, db, "owner", "student")

	details, err := service.CreateCommunity(context.Background(), "owner", CommunityInput{Name: "Biology"})
	require.NoError(t, err)
	require.Equal(t, "AB12CD34", details.JoinCode)

	joined, err := service.JoinCommunity(context.Background(), "ab12cd34", "student")
	require.NoError(t, err)
	require.Equal(t, details.ID, joined.ID)
}

func TestJoinCommunity(t *testing.T) {
	service, db := newTestService(t)
	seedUsers(t, db, "owner", "student")
	details, err := service.CreateCommunity(context.Background(), "owner", CommunityInput{Name: "Physics"})
	require.NoError(t, err)

	_, err = service.JoinCommunity(context.Background(), "NOPE0000", "student")
	require.ErrorIs(t, err, apperrors.ErrNotFound)

	joined, err := service.JoinCommunity(context.Background(), strings.ToLower(details.JoinCode), "student")
	require.NoError(t, err)
	require.Equal(t, details.ID, joined.ID)

	_, err = service.JoinCommunity(context.Background(), details.JoinCode, "student")
	require.ErrorIs(t, err, apperrors.ErrConflict)

	communities, err := service.MyCommunities(context.Background(), "student")
	require.NoError(t, err)
	require.Len(t, communities, 1)
	require.Equal(t, RoleMember, communities[0].Role)
	require.Equal(t, int64(2), communities[0].MemberCount)
}

func TestLeaveCommunity(t *testing.T) {
	service, db := newTestService(t)
	seedUsers(t, db, "owner", "student")
	details, err := service.CreateCommunity(context.Background(), "owner", CommunityInput{Name: "Physics"})
	require.NoError(t, err)
	_, err = service.JoinCommunity(context.Background(), details.JoinCode, "student")
	require.NoError(t, err)

	err = service.LeaveCommunity(context.Background(), details.ID, "owner")
	require.ErrorIs(t, err, apperrors.ErrForbidden)

	require.NoError(t, service.LeaveCommunity(context.Background(), details.ID, "student"))
	err = service.LeaveCommunity(context.Background(), details.ID, "student")
	require.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestCreateChannelRequiresMembership(t *testing.T) {
	service, db := newTestService(t)
	seedUsers(t, db, "owner", "outsider")
	details, err := service.CreateCommunity(context.Background(), "owner", CommunityInput{Name: "Physics"})
	require.NoError(t, err)

	_, err = service.CreateChannel(context.Background(), details.ID, "outsider", ChannelInput{Name: "Lab Reports"})
	require.ErrorIs(t, err, apperrors.ErrForbidden)

	channel, err := service.CreateChannel(context.Background(), details.ID, "owner", ChannelInput{Name: "Lab Reports"})
	require.NoError(t, err)
	require.Equal(t, "lab-reports-"+details.ID, channel.Slug)

	_, err = service.CreateChannel(context.Background(), details.ID, "owner", ChannelInput{Name: "lab reports!"})
	require.ErrorIs(t, err, apperrors.ErrConflict)
}

func TestStudyGroupCapacity(t *testing.T) {
	service, db := newTestService(t)
	seedUsers(t, db, "leader", "student")
	details, err := service.CreateCommunity(context.Background(), "leader", CommunityInput{Name: "Physics"})
	require.NoError(t, err)
	_, err = service.JoinCommunity(context.Background(), details.JoinCode, "student")
	require.NoError(t, err)

	group, err := service.CreateStudyGroup(context.Background(), details.ID, "leader", StudyGroupInput{Name: "Solo", IsPublic: true, MaxMembers: 1})
	require.NoError(t, err)
	require.Equal(t, int64(1), group.MemberCount)

	_, err = service.JoinStudyGroup(context.Background(), group.ID, "student")
	require.ErrorIs(t, err, apperrors.ErrConflict)
	require.Equal(t, "community.join_study_group.group_full", apperrors.CodeOf(err))

	var count int64
	require.NoError(t, db.Model(&StudyGroupMember{}).Where("group_id = ?", group.ID).Count(&count).Error)
	require.Equal(t, int64(1), count)
}

func TestCreateStudyGroupProvisionsPrivateChannel(t *testing.T) {
	service, db := newTestService(t)
	seedUsers(t, db, "leader", "outsider")
	details, err := service.CreateCommunity(context.Background(), "leader", CommunityInput{Name: "Physics"})
	require.NoError(t, err)

	_, err = service.CreateStudyGroup(context.Background(), details.ID, "outsider", StudyGroupInput{Name: "Crammers"})
	require.ErrorIs(t, err, apperrors.ErrForbidden)

	group, err := service.CreateStudyGroup(context.Background(), details.ID, "leader", StudyGroupInput{Name: "Crammers"})
	require.NoError(t, err)
	require.Equal(t, GroupRoleLeader, group.ViewerRole)
	require.Equal(t, StatusApproved, group.ViewerStatus)
	require.NotNil(t, group.Channel.StudyGroupID)
	require.Equal(t, group.ID, *group.Channel.StudyGroupID)

	var channels int64
	require.NoError(t, db.Model(&Channel{}).Where("study_group_id = ?", group.ID).Count(&channels).Error)
	require.Equal(t, int64(1), channels)
}

func TestPrivateGroupMembershipAndVisibility(t *testing.T) {
	service, db := newTestService(t)
	seedUsers(t, db, "leader", "student")
	ctx := context.Background()
	details, err := service.CreateCommunity(ctx, "leader", CommunityInput{Name: "Physics"})
	require.NoError(t, err)
	_, err = service.JoinCommunity(ctx, details.JoinCode, "student")
	require.NoError(t, err)
	group, err := service.CreateStudyGroup(ctx, details.ID, "leader", StudyGroupInput{Name: "Private", IsPublic: false, MaxMembers: 5})
	require.NoError(t, err)

	member, err := service.JoinStudyGroup(ctx, group.ID, "student")
	require.NoError(t, err)
	require.Equal(t, StatusPending, member.Status)

	_, err = service.JoinStudyGroup(ctx, group.ID, "student")
	require.ErrorIs(t, err, apperrors.ErrConflict)

	visible, err := service.VisibleChannels(ctx, details.ID, "student")
	require.NoError(t, err)
	require.Len(t, visible, 6)
	_, err = service.AuthorizeChannel(ctx, "student", group.Channel.Slug)
	require.ErrorIs(t, err, apperrors.ErrForbidden)

	approved := StatusApproved
	_, err = service.UpdateMember(ctx, group.ID, "student", "student", MemberUpdate{Status: &approved})
	require.ErrorIs(t, err, apperrors.ErrForbidden)

	updated, err := service.UpdateMember(ctx, group.ID, "leader", "student", MemberUpdate{Status: &approved})
	require.NoError(t, err)
	require.Equal(t, StatusApproved, updated.Status)

	visible, err = service.VisibleChannels(ctx, details.ID, "student")
	require.NoError(t, err)
	require.Len(t, visible, 7)
	_, err = service.AuthorizeChannel(ctx, "student", group.Channel.Slug)
	require.NoError(t, err)

	leaderVisible, err := service.VisibleChannels(ctx, details.ID, "leader")
	require.NoError(t, err)
	require.Len(t, leaderVisible, 7)
}

func TestLeaveAndRemoveStudyGroupMembers(t *testing.T) {
	service, db := newTestService(t)
	seedUsers(t, db, "leader", "alice", "bob")
	ctx := context.Background()
	details, err := service.CreateCommunity(ctx, "leader", CommunityInput{Name: "Physics"})
	require.NoError(t, err)
	for _, userID := range []string{"alice", "bob"} {
		_, err = service.JoinCommunity(ctx, details.JoinCode, userID)
		require.NoError(t, err)
	}
	group, err := service.CreateStudyGroup(ctx, details.ID, "leader", StudyGroupInput{Name: "Open", IsPublic: true})
	require.NoError(t, err)
	for _, userID := range []string{"alice", "bob"} {
		_, err = service.JoinStudyGroup(ctx, group.ID, userID)
		require.NoError(t, err)
	}

	err = service.LeaveStudyGroup(ctx, group.ID, "leader")
	require.ErrorIs(t, err, apperrors.ErrForbidden)

	err = service.RemoveMember(ctx, group.ID, "alice", "bob")
	require.ErrorIs(t, err, apperrors.ErrForbidden)

	err = service.RemoveMember(ctx, group.ID, "leader", "leader")
	require.ErrorIs(t, err, apperrors.ErrForbidden)

	require.NoError(t, service.RemoveMember(ctx, group.ID, "leader", "bob"))
	require.NoError(t, service.LeaveStudyGroup(ctx, group.ID, "alice"))

	members, err := service.GroupMembers(ctx, group.ID, "leader")
	require.NoError(t, err)
	require.Len(t, members, 1)
	require.Equal(t, "leader", members[0].User.Username)
}

func TestAuthorizeChannelGating(t *testing.T) {
	service, db := newTestService(t)
	seedUsers(t, db, "owner", "outsider")
	ctx := context.Background()
	legacy := Channel{ID: "legacy-general", Name: "General", Slug: "general", CreatedAt: time.Now().UTC()}
	require.NoError(t, db.Create(&legacy).Error)
	details, err := service.CreateCommunity(ctx, "owner", CommunityInput{Name: "Physics"})
	require.NoError(t, err)

	channel, err := service.AuthorizeChannel(ctx, "outsider", "general")
	require.NoError(t, err)
	require.True(t, channel.IsLegacy())

	_, err = service.AuthorizeChannel(ctx, "outsider", details.Channels[0].Slug)
	require.ErrorIs(t, err, apperrors.ErrForbidden)

	_, err = service.AuthorizeChannelID(ctx, "owner", details.Channels[0].ID)
	require.NoError(t, err)

	_, err = service.AuthorizeChannel(ctx, "owner", "does-not-exist")
	require.ErrorIs(t, err, apperrors.ErrNotFound)

	legacyChannels, err := service.LegacyChannels(ctx)
	require.NoError(t, err)
	require.Len(t, legacyChannels, 1)

	_, err = service.VisibleChannels(ctx, details.ID, "outsider")
	require.ErrorIs(t, err, apperrors.ErrForbidden)
}
