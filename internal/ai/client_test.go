package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/studyhall/backend/internal/apperrors"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func completionHandler(t *testing.T, reply string) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		var request completionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&request))
		require.Equal(t, "tutor-model", request.Model)
		require.NotEmpty(t, request.Messages)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]string{"role": RoleAssistant, "content": reply}}},
		})
	}
}

func newTestClient(serverURL string, timeout time.Duration, retries int, logger *zap.Logger) *Client {
	return NewClient(ClientConfig{
		BaseURL:        serverURL + "/v1/",
		APIKey:         "test-key",
		Model:          "tutor-model",
		Timeout:        timeout,
		MaxRetries:     retries,
		InitialBackoff: time.Millisecond,
		Logger:         logger,
	})
}

func TestCompleteReturnsAssistantReply(t *testing.T) {
	server := httptest.NewServer(completionHandler(t, "Newton's second law relates force and acceleration."))
	defer server.Close()

	client := newTestClient(server.URL, time.Second, 0, nil)
	reply, err := client.Complete(context.Background(), []Message{{Role: RoleUser, Content: "What is F=ma?"}})
	require.NoError(t, err)
	require.Contains(t, reply, "second law")
}

func TestCompleteUnconfigured(t *testing.T) {
	client := NewClient(ClientConfig{Model: "tutor-model"})
	require.False(t, client.Configured())
	_, err := client.Complete(context.Background(), []Message{{Role: RoleUser, Content: "hi"}})
	require.True(t, errors.Is(err, apperrors.ErrUnavailable))
	require.Equal(t, "ai.complete.not_configured", apperrors.CodeOf(err))
}

func TestCompleteTimeoutIsUnavailable(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer server.Close()
	defer close(release)

	client := newTestClient(server.URL, 20*time.Millisecond, 1, nil)
	started := time.Now()
	_, err := client.Complete(context.Background(), []Message{{Role: RoleUser, Content: "slow"}})
	require.True(t, errors.Is(err, apperrors.ErrUnavailable))
	require.Less(t, time.Since(started), 2*time.Second)
}

func TestCompleteRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	success := completionHandler(t, "recovered")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		success(w, r)
	}))
	defer server.Close()

	core, recorded := observer.New(zap.WarnLevel)
	client := newTestClient(server.URL, time.Second, 2, zap.New(core))
	reply, err := client.Complete(context.Background(), []Message{{Role: RoleUser, Content: "retry"}})
	require.NoError(t, err)
	require.Equal(t, "recovered", reply)
	require.Equal(t, int32(3), calls.Load())
	require.Equal(t, 2, recorded.FilterMessage("ai completion attempt failed").Len())
}

func TestCompleteRetriesAreBounded(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := newTestClient(server.URL, time.Second, 2, nil)
	_, err := client.Complete(context.Background(), []Message{{Role: RoleUser, Content: "down"}})
	require.True(t, errors.Is(err, apperrors.ErrUpstream))
	require.Equal(t, int32(3), calls.Load())
}

func TestCompleteClientErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	client := newTestClient(server.URL, time.Second, 3, nil)
	_, err := client.Complete(context.Background(), []Message{{Role: RoleUser, Content: "bad key"}})
	require.True(t, errors.Is(err, apperrors.ErrUpstream))
	require.Equal(t, "ai.complete.bad_status", apperrors.CodeOf(err))
	require.Equal(t, int32(1), calls.Load())
}

func TestCompleteConnectionFailureIsUnavailable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	serverURL := server.URL
	server.Close()

	client := newTestClient(serverURL, time.Second, 0, nil)
	_, err := client.Complete(context.Background(), []Message{{Role: RoleUser, Content: "anyone?"}})
	require.True(t, errors.Is(err, apperrors.ErrUnavailable))
}

func TestCompleteJSONStripsFences(t *testing.T) {
	server := httptest.NewServer(completionHandler(t, "```json\n{\"answer\": 42}\n```"))
	defer server.Close()

	client := newTestClient(server.URL, time.Second, 0, nil)
	var decoded struct {
		Answer int `json:"answer"`
	}
	require.NoError(t, client.CompleteJSON(context.Background(), []Message{{Role: RoleUser, Content: "json"}}, &decoded))
	require.Equal(t, 42, decoded.Answer)
}

func TestCompleteJSONRejectsProse(t *testing.T) {
	server := httptest.NewServer(completionHandler(t, "I'm sorry, I cannot do that."))
	defer server.Close()

	client := newTestClient(server.URL, time.Second, 0, nil)
	var decoded map[string]any
	err := client.CompleteJSON(context.Background(), []Message{{Role: RoleUser, Content: "json"}}, &decoded)
	require.True(t, errors.Is(err, apperrors.ErrUpstream))
	require.Equal(t, "ai.complete_json.invalid_json", apperrors.CodeOf(err))
}

func TestStripCodeFence(t *testing.T) {
	cases := map[string]string{
		"plain":                "plain",
		"```\n[1,2]\n```":      "[1,2]",
		"  ```json\n{}\n```  ": "{}",
		"```{\"a\":1}```":      "{\"a\":1}",
		"text with ``` inside": "text with ``` inside",
	}
	for input, expected := range cases {
		require.Equal(t, expected, StripCodeFence(input), input)
	}
}
