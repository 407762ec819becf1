package server

import (
	"net/http"

	"github.com/MarcoPoloResearchLab/studyhall/backend/internal/community"
	"github.com/gin-gonic/gin"
)

type namedPayload struct {
	Name        string `json:"name" binding:"required,max=120"`
	Description string `json:"description" binding:"max=1024"`
}

type joinCommunityPayload struct {
	JoinCode string `json:"join_code" binding:"required,alphanum,max=32"`
}

type studyGroupPayload struct {
	Name        string `json:"name" binding:"required,max=120"`
	Description string `json:"description" binding:"max=1024"`
	IsPublic    *bool  `json:"is_public"`
	MaxMembers  int    `json:"max_members" binding:"omitempty,min=1,max=500"`
}

type memberUpdatePayload struct {
	Role   *string `json:"role" binding:"omitempty,oneof=leader member"`
	Status *string `json:"status" binding:"omitempty,oneof=approved pending"`
}

func (h *httpHandler) handleCreateCommunity(c *gin.Context) {
	var payload namedPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		h.respondInvalid(c, err)
		return
	}
	details, err := h.communities.CreateCommunity(c.Request.Context(), currentUserID(c), community.CommunityInput{
		Name:        payload.Name,
		Description: payload.Description,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, details)
}

func (h *httpHandler) handleMyCommunities(c *gin.Context) {
	summaries, err := h.communities.MyCommunities(c.Request.Context(), currentUserID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, summaries)
}

func (h *httpHandler) handleJoinCommunity(c *gin.Context) {
	var payload joinCommunityPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		h.respondInvalid(c, err)
		return
	}
	joined, err := h.communities.JoinCommunity(c.Request.Context(), payload.JoinCode, currentUserID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, joined)
}

func (h *httpHandler) handleCommunity(c *gin.Context) {
	var uri communityURI
	if err := c.ShouldBindUri(&uri); err != nil {
		h.respondInvalid(c, err)
		return
	}
	summary, err := h.communities.Community(c.Request.Context(), uri.CommunityID, currentUserID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h *httpHandler) handleLeaveCommunity(c *gin.Context) {
	var uri communityURI
	if err := c.ShouldBindUri(&uri); err != nil {
		h.respondInvalid(c, err)
		return
	}
	if err := h.communities.LeaveCommunity(c.Request.Context(), uri.CommunityID, currentUserID(c)); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleVisibleChannels(c *gin.Context) {
	var uri communityURI
	if err := c.ShouldBindUri(&uri); err != nil {
		h.respondInvalid(c, err)
		return
	}
	channels, err := h.communities.VisibleChannels(c.Request.Context(), uri.CommunityID, currentUserID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, channels)
}

func (h *httpHandler) handleCreateChannel(c *gin.Context) {
	var uri communityURI
	if err := c.ShouldBindUri(&uri); err != nil {
		h.respondInvalid(c, err)
		return
	}
	var payload namedPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		h.respondInvalid(c, err)
		return
	}
	channel, err := h.communities.CreateChannel(c.Request.Context(), uri.CommunityID, currentUserID(c), community.ChannelInput{
		Name:        payload.Name,
		Description: payload.Description,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, channel)
}

func (h *httpHandler) handleStudyGroups(c *gin.Context) {
	var uri communityURI
	if err := c.ShouldBindUri(&uri); err != nil {
		h.respondInvalid(c, err)
		return
	}
	groups, err := h.communities.StudyGroups(c.Request.Context(), uri.CommunityID, currentUserID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, groups)
}

func (h *httpHandler) handleCreateStudyGroup(c *gin.Context) {
	var uri communityURI
	if err := c.ShouldBindUri(&uri); err != nil {
		h.respondInvalid(c, err)
		return
	}
	var payload studyGroupPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		h.respondInvalid(c, err)
		return
	}
	isPublic := true
	if payload.IsPublic != nil {
		isPublic = *payload.IsPublic
	}
	group, err := h.communities.CreateStudyGroup(c.Request.Context(), uri.CommunityID, currentUserID(c), community.StudyGroupInput{
		Name:        payload.Name,
		Description: payload.Description,
		IsPublic:    isPublic,
		MaxMembers:  payload.MaxMembers,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, group)
}

func (h *httpHandler) handleJoinStudyGroup(c *gin.Context) {
	var uri groupURI
	if err := c.ShouldBindUri(&uri); err != nil {
		h.respondInvalid(c, err)
		return
	}
	member, err := h.communities.JoinStudyGroup(c.Request.Context(), uri.GroupID, currentUserID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, member)
}

func (h *httpHandler) handleLeaveStudyGroup(c *gin.Context) {
	var uri groupURI
	if err := c.ShouldBindUri(&uri); err != nil {
		h.respondInvalid(c, err)
		return
	}
	if err := h.communities.LeaveStudyGroup(c.Request.Context(), uri.GroupID, currentUserID(c)); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleGroupMembers(c *gin.Context) {
	var uri groupURI
	if err := c.ShouldBindUri(&uri); err != nil {
		h.respondInvalid(c, err)
		return
	}
	members, err := h.communities.GroupMembers(c.Request.Context(), uri.GroupID, currentUserID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, members)
}

func (h *httpHandler) handleUpdateMember(c *gin.Context) {
	var uri groupMemberURI
	if err := c.ShouldBindUri(&uri); err != nil {
		h.respondInvalid(c, err)
		return
	}
	var payload memberUpdatePayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		h.respondInvalid(c, err)
		return
	}
	member, err := h.communities.UpdateMember(c.Request.Context(), uri.GroupID, currentUserID(c), uri.UserID, community.MemberUpdate{
		Role:   payload.Role,
		Status: payload.Status,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, member)
}

func (h *httpHandler) handleRemoveMember(c *gin.Context) {
	var uri groupMemberURI
	if err := c.ShouldBindUri(&uri); err != nil {
		h.respondInvalid(c, err)
		return
	}
	if err := h.communities.RemoveMember(c.Request.Context(), uri.GroupID, currentUserID(c), uri.UserID); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleLegacyChannels(c *gin.Context) {
	channels, err := h.communities.LegacyChannels(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, channels)
}
