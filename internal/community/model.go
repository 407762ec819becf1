package community

import "time"

// Community membership roles.
const (
	RoleOwner  = "owner"
	RoleAdmin  = "admin"
	RoleMember = "member"
)

// Study group roles and statuses.
const (
	GroupRoleLeader = "leader"
	GroupRoleMember = "member"

	StatusApproved = "approved"
	StatusPending  = "pending"
)

// Community is a space that owns channels and study groups.
type Community struct {
	ID          string    `gorm:"column:id;primaryKey;size:190" json:"id"`
	Name        string    `gorm:"column:name;size:120;not null" json:"name"`
	Description string    `gorm:"column:description;size:1024" json:"description"`
	OwnerID     string    `gorm:"column:owner_id;size:190;not null;index" json:"owner_id"`
	JoinCode    string    `gorm:"column:join_code;size:16;not null;uniqueIndex" json:"join_code"`
	CreatedAt   time.Time `gorm:"column:created_at;not null" json:"created_at"`
}

func (Community) TableName() string {
	return "communities"
}

// CommunityMember enrolls a user in a community.
type CommunityMember struct {
	ID          string    `gorm:"column:id;primaryKey;size:190" json:"id"`
	CommunityID string    `gorm:"column:community_id;size:190;not null;uniqueIndex:idx_community_members_pair,priority:1" json:"community_id"`
	UserID      string    `gorm:"column:user_id;size:190;not null;uniqueIndex:idx_community_members_pair,priority:2;index" json:"user_id"`
	Role        string    `gorm:"column:role;size:16;not null" json:"role"`
	JoinedAt    time.Time `gorm:"column:joined_at;not null" json:"joined_at"`
}

func (CommunityMember) TableName() string {
	return "community_members"
}

// Channel is a chat room. Channels without a community are legacy global channels;
// channels with a study group are visible only to that group's approved members.
type Channel struct {
	ID           string    `gorm:"column:id;primaryKey;size:190" json:"id"`
	Name         string    `gorm:"column:name;size:120;not null" json:"name"`
	Slug         string    `gorm:"column:slug;size:255;not null;uniqueIndex" json:"slug"`
	Description  string    `gorm:"column:description;size:1024" json:"description"`
	CommunityID  *string   `gorm:"column:community_id;size:190;index" json:"community_id,omitempty"`
	StudyGroupID *string   `gorm:"column:study_group_id;size:190;uniqueIndex" json:"study_group_id,omitempty"`
	CreatedAt    time.Time `gorm:"column:created_at;not null" json:"created_at"`
}

func (Channel) TableName() string {
	return "channels"
}

// IsLegacy reports whether the channel is a global channel outside any community.
func (c Channel) IsLegacy() bool {
	return c.CommunityID == nil
}

// StudyGroup is a capacity-bounded group inside a community with one private channel.
type StudyGroup struct {
	ID          string    `gorm:"column:id;primaryKey;size:190" json:"id"`
	CommunityID string    `gorm:"column:community_id;size:190;not null;index" json:"community_id"`
	Name        string    `gorm:"column:name;size:120;not null" json:"name"`
	Description string    `gorm:"column:description;size:1024" json:"description"`
	CreatorID   string    `gorm:"column:creator_id;size:190;not null" json:"creator_id"`
	IsPublic    bool      `gorm:"column:is_public;not null" json:"is_public"`
	MaxMembers  int       `gorm:"column:max_members;not null" json:"max_members"`
	CreatedAt   time.Time `gorm:"column:created_at;not null" json:"created_at"`
}

func (StudyGroup) TableName() string {
	return "study_groups"
}

// StudyGroupMember records a user's role and approval status in a group.
type StudyGroupMember struct {
	ID       string    `gorm:"column:id;primaryKey;size:190" json:"id"`
	GroupID  string    `gorm:"column:group_id;size:190;not null;uniqueIndex:idx_study_group_members_pair,priority:1" json:"group_id"`
	UserID   string    `gorm:"column:user_id;size:190;not null;uniqueIndex:idx_study_group_members_pair,priority:2;index" json:"user_id"`
	Role     string    `gorm:"column:role;size:16;not null" json:"role"`
	Status   string    `gorm:"column:status;size:16;not null" json:"status"`
	JoinedAt time.Time `gorm:"column:joined_at;not null" json:"joined_at"`
}

func (StudyGroupMember) TableName() string {
	return "study_group_members"
}

// CommunityInput carries the fields accepted when creating a community.
type CommunityInput struct {
	Name        string
	Description string
}

// ChannelInput carries the fields accepted when creating a channel.
type ChannelInput struct {
	Name        string
	Description string
}

// StudyGroupInput carries the fields accepted when creating a study group.
type StudyGroupInput struct {
	Name        string
	Description string
	IsPublic    bool
	MaxMembers  int
}

// MemberUpdate carries the optional role and status changes applied by a leader.
type MemberUpdate struct {
	Role   *string
	Status *string
}

// CommunityDetails is a community together with its provisioned channels.
type CommunityDetails struct {
	Community
	Role     string    `json:"role"`
	Channels []Channel `json:"channels"`
}

// CommunitySummary describes a community from the point of view of one member.
type CommunitySummary struct {
	Community
	Role        string `json:"role"`
	MemberCount int64  `json:"member_count"`
}

// StudyGroupDetails is a study group with its channel and membership counts.
type StudyGroupDetails struct {
	StudyGroup
	Channel      Channel `json:"channel"`
	MemberCount  int64   `json:"member_count"`
	ViewerRole   string  `json:"viewer_role,omitempty"`
	ViewerStatus string  `json:"viewer_status,omitempty"`
}

type defaultChannel struct {
	name        string
	base        string
	description string
}

var defaultChannels = []defaultChannel{
	{name: "Welcome", base: "welcome", description: "Introduce yourself and read the rules"},
	{name: "Announcements", base: "announcements", description: "Important updates from the community owners"},
	{name: "General", base: "general", description: "General discussion"},
	{name: "Off Topic", base: "off-topic", description: "Anything not related to studying"},
	{name: "Homework Help", base: "homework-help", description: "Ask for help with assignments"},
	{name: "Resource Sharing", base: "resource-sharing", description: "Share notes, links and study material"},
}

// LegacyChannelSeed describes a global channel installed by the seed migration.
type LegacyChannelSeed struct {
	Name        string
	Slug        string
	Description string
}

// DefaultLegacyChannels lists the global channels available to every user.
func DefaultLegacyChannels() []LegacyChannelSeed {
	return []LegacyChannelSeed{
		{Name: "General", Slug: "general", Description: "Campus-wide discussion"},
		{Name: "Pomodoro Talk", Slug: "pomodoro-talk", Description: "Share focus sessions and breaks"},
		{Name: "Off Topic", Slug: "off-topic", Description: "Everything else"},
	}
}
