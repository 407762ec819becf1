package server

import (
	"net/http"
	"strconv"

	"github.com/MarcoPoloResearchLab/studyhall/backend/internal/chat"
	"github.com/gin-gonic/gin"
)

type postMessagePayload struct {
	Content  string `json:"content" binding:"required"`
	ParentID string `json:"parent_id" binding:"omitempty,max=190"`
}

type votePayload struct {
	Value *int `json:"value" binding:"required,min=-1,max=1"`
}

type openConversationPayload struct {
	UserID string `json:"user_id" binding:"required,max=190"`
}

type directMessagePayload struct {
	Content string `json:"content" binding:"required"`
}

// queryLimit reads the optional ?limit parameter. Zero lets the service apply its default.
func queryLimit(c *gin.Context) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return 0, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return 0, false
	}
	return limit, true
}

func (h *httpHandler) handleChannelMessages(c *gin.Context) {
	var uri channelURI
	if err := c.ShouldBindUri(&uri); err != nil {
		h.respondInvalid(c, err)
		return
	}
	limit, ok := queryLimit(c)
	if !ok {
		h.respondInvalid(c, nil)
		return
	}
	messages, err := h.chat.ChannelMessages(c.Request.Context(), uri.ChannelSlug, currentUserID(c), limit)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, messages)
}

func (h *httpHandler) handlePostMessage(c *gin.Context) {
	var uri channelURI
	if err := c.ShouldBindUri(&uri); err != nil {
		h.respondInvalid(c, err)
		return
	}
	var payload postMessagePayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		h.respondInvalid(c, err)
		return
	}
	result, err := h.chat.PostMessage(c.Request.Context(), chat.PostInput{
		ChannelSlug: uri.ChannelSlug,
		AuthorID:    currentUserID(c),
		Content:     payload.Content,
		ParentID:    payload.ParentID,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

func (h *httpHandler) handleThread(c *gin.Context) {
	thread, err := h.chat.Thread(c.Request.Context(), c.Param("message_id"), currentUserID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, thread)
}

func (h *httpHandler) handleVote(c *gin.Context) {
	var payload votePayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		h.respondInvalid(c, err)
		return
	}
	result, err := h.chat.CastVote(c.Request.Context(), c.Param("message_id"), currentUserID(c), *payload.Value)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *httpHandler) handleOnlineUsers(c *gin.Context) {
	online := h.registry.OnlineUsers()
	c.JSON(http.StatusOK, gin.H{"online_users": online, "count": len(online)})
}

func (h *httpHandler) handleListConversations(c *gin.Context) {
	conversations, err := h.chat.ListConversations(c.Request.Context(), currentUserID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, conversations)
}

func (h *httpHandler) handleOpenConversation(c *gin.Context) {
	var payload openConversationPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		h.respondInvalid(c, err)
		return
	}
	conversation, err := h.chat.OpenConversation(c.Request.Context(), currentUserID(c), payload.UserID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, conversation)
}

func (h *httpHandler) handleDirectMessages(c *gin.Context) {
	limit, ok := queryLimit(c)
	if !ok {
		h.respondInvalid(c, nil)
		return
	}
	messages, err := h.chat.DirectMessages(c.Request.Context(), c.Param("conversation_id"), currentUserID(c), limit)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, messages)
}

func (h *httpHandler) handleSendDirectMessage(c *gin.Context) {
	var payload directMessagePayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		h.respondInvalid(c, err)
		return
	}
	message, err := h.chat.SendDirectMessage(c.Request.Context(), c.Param("conversation_id"), currentUserID(c), payload.Content)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, message)
}
