// Package server exposes the StudyHall services over HTTP and WebSocket.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/studyhall/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/studyhall/backend/internal/chat"
	"github.com/MarcoPoloResearchLab/studyhall/backend/internal/community"
	"github.com/MarcoPoloResearchLab/studyhall/backend/internal/notes"
	"github.com/MarcoPoloResearchLab/studyhall/backend/internal/realtime"
	"github.com/MarcoPoloResearchLab/studyhall/backend/internal/reputation"
	"github.com/MarcoPoloResearchLab/studyhall/backend/internal/reviews"
	"github.com/MarcoPoloResearchLab/studyhall/backend/internal/tutor"
	"github.com/MarcoPoloResearchLab/studyhall/backend/internal/users"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const userIDContextKey = "studyhall_user_id"

var (
	errMissingTokenValidator = errors.New("token validator dependency required")
	errMissingUserResolver   = errors.New("user resolver dependency required")
	errMissingService        = errors.New("service dependency required")
	errMissingRegistry       = errors.New("connection registry dependency required")
)

// TokenValidator verifies access tokens.
type TokenValidator interface {
	ValidateToken(token string) (auth.Claims, error)
}

// UserResolver maps a verified identity to a StudyHall account.
type UserResolver interface {
	ResolveUser(ctx context.Context, identity auth.Identity) (string, error)
}

type Dependencies struct {
	Tokens         TokenValidator
	Resolver       UserResolver
	Users          *users.Service
	Communities    *community.Service
	Chat           *chat.Service
	Notes          *notes.Service
	Reviews        *reviews.Service
	Reputation     *reputation.Engine
	Tutor          *tutor.Service
	Registry       *realtime.Registry
	AllowedOrigins []string
	Gatherer       prometheus.Gatherer
	Logger         *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Tokens == nil {
		return nil, errMissingTokenValidator
	}
	if deps.Resolver == nil {
		return nil, errMissingUserResolver
	}
	if deps.Users == nil || deps.Communities == nil || deps.Chat == nil || deps.Notes == nil ||
		deps.Reviews == nil || deps.Reputation == nil || deps.Tutor == nil {
		return nil, errMissingService
	}
	if deps.Registry == nil {
		return nil, errMissingRegistry
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	if err := registerValidators(); err != nil {
		return nil, err
	}

	handler := &httpHandler{
		tokens:      deps.Tokens,
		resolver:    deps.Resolver,
		users:       deps.Users,
		communities: deps.Communities,
		chat:        deps.Chat,
		notes:       deps.Notes,
		reviews:     deps.Reviews,
		reputation:  deps.Reputation,
		tutor:       deps.Tutor,
		registry:    deps.Registry,
		upgrader:    newUpgrader(deps.AllowedOrigins),
		logger:      logger,
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(accessLog(logger))
	router.Use(corsMiddleware(deps.AllowedOrigins...))

	router.GET("/healthz", handler.handleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	router.GET("/ws/community/:channel_slug", handler.handleChannelSocket)
	router.GET("/ws/dm/:conversation_id", handler.handleConversationSocket)

	api := router.Group("/api/v1")
	api.Use(handler.authorizeRequest)

	api.GET("/me", handler.handleMe)
	api.GET("/users/:user_id", handler.handleUser)

	api.POST("/communities", handler.handleCreateCommunity)
	api.GET("/communities", handler.handleMyCommunities)
	api.POST("/communities/join", handler.handleJoinCommunity)
	api.GET("/communities/:community_id", handler.handleCommunity)
	api.DELETE("/communities/:community_id/membership", handler.handleLeaveCommunity)
	api.GET("/communities/:community_id/channels", handler.handleVisibleChannels)
	api.POST("/communities/:community_id/channels", handler.handleCreateChannel)
	api.GET("/communities/:community_id/study-groups", handler.handleStudyGroups)
	api.POST("/communities/:community_id/study-groups", handler.handleCreateStudyGroup)

	api.POST("/study-groups/:group_id/join", handler.handleJoinStudyGroup)
	api.DELETE("/study-groups/:group_id/membership", handler.handleLeaveStudyGroup)
	api.GET("/study-groups/:group_id/members", handler.handleGroupMembers)
	api.PATCH("/study-groups/:group_id/members/:user_id", handler.handleUpdateMember)
	api.DELETE("/study-groups/:group_id/members/:user_id", handler.handleRemoveMember)

	api.GET("/community/channels", handler.handleLegacyChannels)
	api.GET("/community/channels/:channel_slug/messages", handler.handleChannelMessages)
	api.POST("/community/channels/:channel_slug/messages", handler.handlePostMessage)
	api.GET("/community/channels/:channel_slug/notes", handler.handleListNotes)
	api.POST("/community/channels/:channel_slug/notes", handler.handleCreateNote)
	api.GET("/community/channels/:channel_slug/submissions", handler.handleSubmissions)
	api.POST("/community/channels/:channel_slug/submissions", handler.handleCreateSubmission)
	api.GET("/community/messages/:message_id/thread", handler.handleThread)
	api.POST("/community/messages/:message_id/vote", handler.handleVote)
	api.GET("/community/notes/:note_id", handler.handleGetNote)
	api.PUT("/community/notes/:note_id", handler.handleUpdateNote)
	api.GET("/community/notes/:note_id/history", handler.handleNoteHistory)
	api.GET("/community/submissions/:submission_id/feedback", handler.handleFeedback)
	api.POST("/community/submissions/:submission_id/feedback", handler.handleAddFeedback)
	api.GET("/community/users/online", handler.handleOnlineUsers)
	api.GET("/community/leaderboard", handler.handleLeaderboard)
	api.GET("/community/badges", handler.handleBadges)
	api.GET("/community/users/:user_id/badges", handler.handleUserBadges)

	api.GET("/dm/conversations", handler.handleListConversations)
	api.POST("/dm/conversations", handler.handleOpenConversation)
	api.GET("/dm/conversations/:conversation_id/messages", handler.handleDirectMessages)
	api.POST("/dm/conversations/:conversation_id/messages", handler.handleSendDirectMessage)

	api.POST("/tutor/ask", handler.handleTutorAsk)
	api.GET("/tutor/flashcards", handler.handleCollections)
	api.POST("/tutor/flashcards", handler.handleGenerateFlashcards)
	api.GET("/tutor/flashcards/:collection_id", handler.handleCollection)
	api.POST("/tutor/quizzes", handler.handleGenerateQuiz)

	return router, nil
}

type httpHandler struct {
	tokens      TokenValidator
	resolver    UserResolver
	users       *users.Service
	communities *community.Service
	chat        *chat.Service
	notes       *notes.Service
	reviews     *reviews.Service
	reputation  *reputation.Engine
	tutor       *tutor.Service
	registry    *realtime.Registry
	upgrader    *websocket.Upgrader
	logger      *zap.Logger
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "topics": h.registry.TopicCount()})
}

// authorizeRequest validates the bearer token and resolves the caller's account.
func (h *httpHandler) authorizeRequest(c *gin.Context) {
	token, ok := auth.BearerToken(c.GetHeader("Authorization"))
	if !ok {
		abortUnauthorized(c)
		return
	}
	userID, err := h.authenticate(c.Request.Context(), token)
	if err != nil {
		if errors.Is(err, errTokenRejected) {
			abortUnauthorized(c)
			return
		}
		h.respondError(c, err)
		c.Abort()
		return
	}
	c.Set(userIDContextKey, userID)
	c.Next()
}

var errTokenRejected = errors.New("token rejected")

func (h *httpHandler) authenticate(ctx context.Context, token string) (string, error) {
	claims, err := h.tokens.ValidateToken(token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		return "", errTokenRejected
	}
	return h.resolver.ResolveUser(ctx, claims.Identity())
}

func abortUnauthorized(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, errorPayload{
		Error:   "unauthorized",
		Code:    "auth.unauthorized",
		Message: "authorization header missing or invalid",
	})
}

func currentUserID(c *gin.Context) string {
	return c.GetString(userIDContextKey)
}

func accessLog(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		logger.Info("http request",
			zap.String("method", c.Request.Method),
			zap.String("route", route),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(started)),
		)
	}
}

func corsMiddleware(allowedOrigins ...string) gin.HandlerFunc {
	config := cors.Config{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type", "Origin", "Accept"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(allowedOrigins) == 0 {
		config.AllowOriginFunc = func(string) bool { return true }
	} else {
		config.AllowOrigins = allowedOrigins
	}
	return cors.New(config)
}
