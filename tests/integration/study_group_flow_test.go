package integration_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/studyhall/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/studyhall/backend/internal/chat"
	"github.com/MarcoPoloResearchLab/studyhall/backend/internal/community"
	"github.com/MarcoPoloResearchLab/studyhall/backend/internal/database"
	"github.com/MarcoPoloResearchLab/studyhall/backend/internal/notes"
	"github.com/MarcoPoloResearchLab/studyhall/backend/internal/realtime"
	"github.com/MarcoPoloResearchLab/studyhall/backend/internal/reputation"
	"github.com/MarcoPoloResearchLab/studyhall/backend/internal/reviews"
	"github.com/MarcoPoloResearchLab/studyhall/backend/internal/server"
	"github.com/MarcoPoloResearchLab/studyhall/backend/internal/tutor"
	"github.com/MarcoPoloResearchLab/studyhall/backend/internal/users"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const (
	signingSecret   = "integration-secret"
	tokenIssuerName = "studyhall-auth"
	tokenAudience   = "studyhall-api"
	jsonContentType = "application/json"
)

type flowClient struct {
	testContext *testing.T
	baseURL     string
	issuer      *auth.TokenIssuer
}

func TestPrivateStudyGroupFlow(testContext *testing.T) {
	gin.SetMode(gin.TestMode)
	client := newFlowClient(testContext)

	var created community.CommunityDetails
	client.mustCall("olivia", http.MethodPost, "/api/v1/communities", map[string]any{"name": "Organic Chemistry"}, http.StatusCreated, &created)
	for _, member := range []string{"sam", "tara"} {
		client.mustCall(member, http.MethodPost, "/api/v1/communities/join", map[string]any{"join_code": created.JoinCode}, http.StatusOK, nil)
	}

	var group community.StudyGroupDetails
	client.mustCall("olivia", http.MethodPost, "/api/v1/communities/"+created.ID+"/study-groups",
		map[string]any{"name": "Exam prep", "is_public": false, "max_members": 2}, http.StatusCreated, &group)
	groupChannel := "/api/v1/community/channels/" + group.Channel.Slug + "/messages"

	var pending community.StudyGroupMember
	client.mustCall("sam", http.MethodPost, "/api/v1/study-groups/"+group.ID+"/join", nil, http.StatusOK, &pending)
	if pending.Status != community.StatusPending {
		testContext.Fatalf("expected pending membership for a private group, got %q", pending.Status)
	}

	var full struct {
		Code string `json:"code"`
	}
	client.mustCall("tara", http.MethodPost, "/api/v1/study-groups/"+group.ID+"/join", nil, http.StatusConflict, &full)
	if full.Code != "community.join_study_group.group_full" {
		testContext.Fatalf("unexpected capacity error code %q", full.Code)
	}

	client.mustCall("sam", http.MethodPost, groupChannel, map[string]any{"content": "hi"}, http.StatusForbidden, nil)
	client.mustCall("olivia", http.MethodPatch, "/api/v1/study-groups/"+group.ID+"/members/sam",
		map[string]any{"status": community.StatusApproved}, http.StatusOK, nil)
	client.mustCall("sam", http.MethodPost, groupChannel, map[string]any{"content": "hi"}, http.StatusCreated, nil)

	var messages []chat.MessageView
	client.mustCall("olivia", http.MethodGet, groupChannel, nil, http.StatusOK, &messages)
	if len(messages) != 1 || messages[0].Content != "hi" {
		testContext.Fatalf("unexpected group channel messages: %#v", messages)
	}
	client.mustCall("tara", http.MethodGet, groupChannel, nil, http.StatusForbidden, nil)

	var profile struct {
		TotalMessages int64 `json:"total_messages"`
	}
	client.mustCall("sam", http.MethodGet, "/api/v1/me", nil, http.StatusOK, &profile)
	if profile.TotalMessages != 1 {
		testContext.Fatalf("expected one counted message, got %d", profile.TotalMessages)
	}
}

func newFlowClient(testContext *testing.T) *flowClient {
	testContext.Helper()
	logger := zap.NewNop()
	db, err := database.OpenAndMigrate(database.DriverSQLite, "file:integration_flow?mode=memory&cache=shared", logger)
	if err != nil {
		testContext.Fatalf("failed to open database: %v", err)
	}

	registry := realtime.NewRegistry(realtime.RegistryConfig{Logger: logger, Registerer: prometheus.NewRegistry()})
	userService, err := users.NewService(users.ServiceConfig{Database: db, Logger: logger})
	if err != nil {
		testContext.Fatalf("failed to build users service: %v", err)
	}
	communityService, err := community.NewService(community.ServiceConfig{Database: db, Logger: logger})
	if err != nil {
		testContext.Fatalf("failed to build community service: %v", err)
	}
	engine, err := reputation.NewEngine(reputation.EngineConfig{Database: db, Logger: logger})
	if err != nil {
		testContext.Fatalf("failed to build reputation engine: %v", err)
	}
	chatService, err := chat.NewService(chat.ServiceConfig{Database: db, Channels: communityService, Counters: engine, Broadcaster: registry, Logger: logger})
	if err != nil {
		testContext.Fatalf("failed to build chat service: %v", err)
	}
	notesService, err := notes.NewService(notes.ServiceConfig{Database: db, Channels: communityService, Logger: logger})
	if err != nil {
		testContext.Fatalf("failed to build notes service: %v", err)
	}
	reviewService, err := reviews.NewService(reviews.ServiceConfig{Database: db, Channels: communityService, Logger: logger})
	if err != nil {
		testContext.Fatalf("failed to build reviews service: %v", err)
	}
	tutorService, err := tutor.NewService(tutor.ServiceConfig{Database: db, Logger: logger})
	if err != nil {
		testContext.Fatalf("failed to build tutor service: %v", err)
	}
	issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(signingSecret),
		Issuer:        tokenIssuerName,
		Audience:      tokenAudience,
		TokenTTL:      time.Hour,
	})
	if err != nil {
		testContext.Fatalf("failed to build token issuer: %v", err)
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Tokens:      issuer,
		Resolver:    userService,
		Users:       userService,
		Communities: communityService,
		Chat:        chatService,
		Notes:       notesService,
		Reviews:     reviewService,
		Reputation:  engine,
		Tutor:       tutorService,
		Registry:    registry,
		Gatherer:    prometheus.NewRegistry(),
		Logger:      logger,
	})
	if err != nil {
		testContext.Fatalf("failed to build handler: %v", err)
	}

	testServer := httptest.NewServer(handler)
	testContext.Cleanup(testServer.Close)
	return &flowClient{testContext: testContext, baseURL: testServer.URL, issuer: issuer}
}

func (c *flowClient) mustCall(userID, method, path string, body any, wantStatus int, out any) {
	c.testContext.Helper()
	token, _, err := c.issuer.IssueToken(context.Background(), auth.Identity{UserID: userID, Username: userID})
	if err != nil {
		c.testContext.Fatalf("failed to issue token: %v", err)
	}

	var reader io.Reader = http.NoBody
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			c.testContext.Fatalf("failed to encode request: %v", err)
		}
		reader = bytes.NewReader(encoded)
	}
	request, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		c.testContext.Fatalf("failed to construct request: %v", err)
	}
	request.Header.Set("Authorization", "Bearer "+token)
	request.Header.Set("Content-Type", jsonContentType)

	response, err := http.DefaultClient.Do(request)
	if err != nil {
		c.testContext.Fatalf("%s %s failed: %v", method, path, err)
	}
	defer response.Body.Close()
	if response.StatusCode != wantStatus {
		payload, _ := io.ReadAll(response.Body)
		c.testContext.Fatalf("%s %s: unexpected status %d, want %d: %s", method, path, response.StatusCode, wantStatus, payload)
	}
	if out != nil {
		if err := json.NewDecoder(response.Body).Decode(out); err != nil {
			c.testContext.Fatalf("failed to decode %s %s response: %v", method, path, err)
		}
	}
}
