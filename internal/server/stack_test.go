package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/studyhall/backend/internal/ai"
	"github.com/MarcoPoloResearchLab/studyhall/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/studyhall/backend/internal/chat"
	"github.com/MarcoPoloResearchLab/studyhall/backend/internal/community"
	"github.com/MarcoPoloResearchLab/studyhall/backend/internal/database"
	"github.com/MarcoPoloResearchLab/studyhall/backend/internal/notes"
	"github.com/MarcoPoloResearchLab/studyhall/backend/internal/realtime"
	"github.com/MarcoPoloResearchLab/studyhall/backend/internal/reputation"
	"github.com/MarcoPoloResearchLab/studyhall/backend/internal/reviews"
	"github.com/MarcoPoloResearchLab/studyhall/backend/internal/tutor"
	"github.com/MarcoPoloResearchLab/studyhall/backend/internal/users"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// testStack is the full service graph served over a real HTTP listener.
type testStack struct {
	server   *httptest.Server
	issuer   *auth.TokenIssuer
	registry *realtime.Registry
}

func newTestStack(t *testing.T) *testStack {
	t.Helper()
	logger := zap.NewNop()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := database.OpenAndMigrate(database.DriverSQLite, dsn, logger)
	require.NoError(t, err)

	metrics := prometheus.NewRegistry()
	registry := realtime.NewRegistry(realtime.RegistryConfig{SendTimeout: time.Second, Logger: logger, Registerer: metrics})

	userService, err := users.NewService(users.ServiceConfig{Database: db, Logger: logger})
	require.NoError(t, err)
	communityService, err := community.NewService(community.ServiceConfig{Database: db, Logger: logger})
	require.NoError(t, err)
	engine, err := reputation.NewEngine(reputation.EngineConfig{Database: db, Logger: logger})
	require.NoError(t, err)
	chatService, err := chat.NewService(chat.ServiceConfig{
		Database:    db,
		Channels:    communityService,
		Counters:    engine,
		Broadcaster: registry,
		Logger:      logger,
	})
	require.NoError(t, err)
	noteService, err := notes.NewService(notes.ServiceConfig{Database: db, Channels: communityService, Logger: logger})
	require.NoError(t, err)
	reviewService, err := reviews.NewService(reviews.ServiceConfig{Database: db, Channels: communityService, Logger: logger})
	require.NoError(t, err)
	tutorService, err := tutor.NewService(tutor.ServiceConfig{
		Database:  db,
		Completer: ai.NewClient(ai.ClientConfig{Logger: logger}),
		Logger:    logger,
	})
	require.NoError(t, err)

	issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte("test-signing-secret"),
		Issuer:        "studyhall-auth",
		Audience:      "studyhall-api",
		TokenTTL:      time.Hour,
	})
	require.NoError(t, err)

	handler, err := NewHTTPHandler(Dependencies{
		Tokens:      issuer,
		Resolver:    userService,
		Users:       userService,
		Communities: communityService,
		Chat:        chatService,
		Notes:       noteService,
		Reviews:     reviewService,
		Reputation:  engine,
		Tutor:       tutorService,
		Registry:    registry,
		Gatherer:    metrics,
		Logger:      logger,
	})
	require.NoError(t, err)

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return &testStack{server: server, issuer: issuer, registry: registry}
}

func (s *testStack) token(t *testing.T, userID string) string {
	t.Helper()
	token, _, err := s.issuer.IssueToken(context.Background(), auth.Identity{UserID: userID, Username: userID})
	require.NoError(t, err)
	return token
}

// call performs an authenticated JSON request and decodes the response body into out when out is non-nil.
func (s *testStack) call(t *testing.T, userID, method, path string, body any, out any) int {
	t.Helper()
	var reader io.Reader = http.NoBody
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(encoded)
	}
	request, err := http.NewRequest(method, s.server.URL+path, reader)
	require.NoError(t, err)
	request.Header.Set("Content-Type", "application/json")
	if userID != "" {
		request.Header.Set("Authorization", "Bearer "+s.token(t, userID))
	}
	response, err := s.server.Client().Do(request)
	require.NoError(t, err)
	defer response.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(response.Body).Decode(out))
	}
	return response.StatusCode
}

// createCommunity creates a community owned by ownerID, enrolls the members and returns its default channel.
func (s *testStack) createCommunity(t *testing.T, ownerID string, members ...string) community.CommunityDetails {
	t.Helper()
	var details community.CommunityDetails
	status := s.call(t, ownerID, http.MethodPost, "/api/v1/communities", map[string]any{"name": "Physics 101"}, &details)
	require.Equal(t, http.StatusCreated, status)
	require.NotEmpty(t, details.Channels)
	for _, member := range members {
		status = s.call(t, member, http.MethodPost, "/api/v1/communities/join", map[string]any{"join_code": details.JoinCode}, nil)
		require.Equal(t, http.StatusOK, status)
	}
	return details
}
