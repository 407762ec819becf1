package server

import (
	"net/http"

	"github.com/MarcoPoloResearchLab/studyhall/backend/internal/reputation"
	"github.com/MarcoPoloResearchLab/studyhall/backend/internal/users"
	"github.com/gin-gonic/gin"
)

type profileResponse struct {
	users.User
	Rank   int64                    `json:"rank"`
	Badges []reputation.EarnedBadge `json:"badges"`
	Online bool                     `json:"online"`
}

func (h *httpHandler) profile(c *gin.Context, userID string) {
	ctx := c.Request.Context()
	user, err := h.users.GetUser(ctx, userID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	rank, err := h.reputation.UserRank(ctx, userID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	badges, err := h.reputation.UserBadges(ctx, userID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, profileResponse{
		User:   user,
		Rank:   rank.Rank,
		Badges: badges,
		Online: h.registry.IsOnline(userID),
	})
}

func (h *httpHandler) handleMe(c *gin.Context) {
	h.profile(c, currentUserID(c))
}

func (h *httpHandler) handleUser(c *gin.Context) {
	h.profile(c, c.Param("user_id"))
}

func (h *httpHandler) handleLeaderboard(c *gin.Context) {
	limit, ok := queryLimit(c)
	if !ok {
		h.respondInvalid(c, nil)
		return
	}
	entries, err := h.reputation.Leaderboard(c.Request.Context(), limit)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}

func (h *httpHandler) handleBadges(c *gin.Context) {
	badges, err := h.reputation.Badges(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, badges)
}

func (h *httpHandler) handleUserBadges(c *gin.Context) {
	badges, err := h.reputation.UserBadges(c.Request.Context(), c.Param("user_id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, badges)
}
