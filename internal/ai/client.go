// Package ai talks to an OpenAI-compatible chat-completions endpoint.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/studyhall/backend/internal/apperrors"
	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

const (
	opComplete     = "ai.complete"
	opCompleteJSON = "ai.complete_json"

	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"

	defaultTimeout        = 60 * time.Second
	defaultInitialBackoff = 500 * time.Millisecond
	maxResponseBytes      = 4 << 20
)

// Message is one turn of a chat-completions conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ClientConfig configures the completions client. An empty BaseURL or APIKey leaves the client unconfigured;
// every call then fails with an Unavailable error.
type ClientConfig struct {
	BaseURL        string
	APIKey         string
	Model          string
	Timeout        time.Duration
	MaxRetries     int
	InitialBackoff time.Duration
	HTTPClient     *http.Client
	Logger         *zap.Logger
}

// Client issues chat-completions requests with a per-attempt timeout and bounded exponential retry.
type Client struct {
	endpoint       string
	apiKey         string
	model          string
	timeout        time.Duration
	maxRetries     int
	initialBackoff time.Duration
	httpClient     *http.Client
	logger         *zap.Logger
}

func NewClient(cfg ClientConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	initialBackoff := cfg.InitialBackoff
	if initialBackoff <= 0 {
		initialBackoff = defaultInitialBackoff
	}
	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	endpoint := ""
	if base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"); base != "" {
		endpoint = base + "/chat/completions"
	}
	return &Client{
		endpoint:       endpoint,
		apiKey:         strings.TrimSpace(cfg.APIKey),
		model:          strings.TrimSpace(cfg.Model),
		timeout:        timeout,
		maxRetries:     maxRetries,
		initialBackoff: initialBackoff,
		httpClient:     httpClient,
		logger:         logger,
	}
}

// Configured reports whether the client has an endpoint, a key and a model.
func (c *Client) Configured() bool {
	return c != nil && c.endpoint != "" && c.apiKey != "" && c.model != ""
}

type completionRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
}

type completionResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
}

// Complete sends the conversation and returns the assistant's reply.
func (c *Client) Complete(ctx context.Context, messages []Message) (string, error) {
	if !c.Configured() {
		return "", apperrors.New(opComplete, "not_configured", apperrors.ErrUnavailable, "the AI tutor is not configured", nil)
	}
	payload, err := json.Marshal(completionRequest{Model: c.model, Messages: messages})
	if err != nil {
		return "", apperrors.Internal(opComplete, "encode_failed", err)
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.initialBackoff
	policy.MaxElapsedTime = 0

	var reply string
	attempt := 0
	operation := func() error {
		attempt++
		content, err := c.attempt(ctx, payload)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		reply = content
		return nil
	}
	notify := func(err error, wait time.Duration) {
		c.logger.Warn("ai completion attempt failed",
			zap.String("operation", opComplete),
			zap.Int("attempt", attempt),
			zap.Duration("retry_in", wait),
			zap.Error(err),
		)
	}

	err = backoff.RetryNotify(operation, backoff.WithContext(backoff.WithMaxRetries(policy, uint64(c.maxRetries)), ctx), notify)
	if err != nil {
		var serviceErr *apperrors.ServiceError
		if errors.As(err, &serviceErr) {
			return "", err
		}
		return "", apperrors.New(opComplete, "request_cancelled", apperrors.ErrUnavailable, "the AI tutor did not respond in time", err)
	}
	return reply, nil
}

func (c *Client) attempt(ctx context.Context, payload []byte) (string, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	request, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", backoff.Permanent(apperrors.Internal(opComplete, "request_build_failed", err))
	}
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Authorization", "Bearer "+c.apiKey)

	response, err := c.httpClient.Do(request)
	if err != nil {
		return "", apperrors.New(opComplete, "unreachable", apperrors.ErrUnavailable, "the AI tutor is unreachable", err)
	}
	defer response.Body.Close()

	body, err := io.ReadAll(io.LimitReader(response.Body, maxResponseBytes))
	if err != nil {
		return "", apperrors.New(opComplete, "read_failed", apperrors.ErrUnavailable, "the AI tutor is unreachable", err)
	}

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		statusErr := apperrors.New(opComplete, "bad_status", apperrors.ErrUpstream,
			fmt.Sprintf("the AI tutor returned status %d", response.StatusCode),
			fmt.Errorf("status %d: %s", response.StatusCode, truncate(string(body), 200)))
		if response.StatusCode == http.StatusTooManyRequests || response.StatusCode >= 500 {
			return "", statusErr
		}
		return "", backoff.Permanent(statusErr)
	}

	var decoded completionResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return "", backoff.Permanent(apperrors.New(opComplete, "invalid_response", apperrors.ErrUpstream, "the AI tutor returned an invalid response", err))
	}
	if len(decoded.Choices) == 0 || strings.TrimSpace(decoded.Choices[0].Message.Content) == "" {
		return "", backoff.Permanent(apperrors.New(opComplete, "empty_response", apperrors.ErrUpstream, "the AI tutor returned an empty response", nil))
	}
	return decoded.Choices[0].Message.Content, nil
}

// CompleteJSON sends the conversation and decodes the reply as JSON into target. Markdown code fences around
// the reply are ignored.
func (c *Client) CompleteJSON(ctx context.Context, messages []Message, target any) error {
	reply, err := c.Complete(ctx, messages)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(StripCodeFence(reply)), target); err != nil {
		return apperrors.New(opCompleteJSON, "invalid_json", apperrors.ErrUpstream, "the AI tutor returned malformed data", err)
	}
	return nil
}

// StripCodeFence removes a surrounding ``` or ```json fence.
func StripCodeFence(reply string) string {
	trimmed := strings.TrimSpace(reply)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	if newline := strings.IndexByte(trimmed, '\n'); newline >= 0 {
		trimmed = trimmed[newline+1:]
	} else {
		trimmed = strings.TrimPrefix(trimmed, "```")
	}
	trimmed = strings.TrimSpace(trimmed)
	trimmed = strings.TrimSuffix(trimmed, "```")
	return strings.TrimSpace(trimmed)
}

func truncate(value string, limit int) string {
	if len(value) <= limit {
		return value
	}
	return value[:limit]
}
