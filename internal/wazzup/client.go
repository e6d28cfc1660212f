// Package wazzup implements the channel provider client: outbound message
// sends and webhook subscription management.
package wazzup

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/chatbridge/internal/config"
	"github.com/matheus3301/chatbridge/internal/upstream"
	"go.uber.org/zap"
)

const platform = "wazzup"

// Client talks to the Wazzup v3 API with a static long-lived token.
type Client struct {
	cfg        config.Wazzup
	httpClient *http.Client
	logger     *zap.Logger
	sem        chan struct{}
}

// New creates a Wazzup client. maxConcurrent bounds in-flight API calls.
func New(cfg config.Wazzup, timeout time.Duration, maxConcurrent int, logger *zap.Logger) *Client {
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
		sem:        make(chan struct{}, maxConcurrent),
	}
}

// SendMessage posts one outbound chat message. Wazzup signals acceptance
// with 201 specifically; anything else is a failure. Returns the provider
// message id for cross-referencing.
func (c *Client) SendMessage(ctx context.Context, channelID, chatID, chatType, text string) (string, error) {
	body, err := c.do(ctx, http.MethodPost, "/message", map[string]string{
		"channelId": channelID,
		"chatId":    chatID,
		"chatType":  chatType,
		"text":      text,
	}, http.StatusCreated)
	if err != nil {
		return "", err
	}

	var result struct {
		MessageID string `json:"messageId"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("decode send response: %w", err)
	}
	c.logger.Info("message sent",
		zap.String("chat_id", chatID),
		zap.String("chat_type", chatType),
		zap.String("message_id", result.MessageID))
	return result.MessageID, nil
}

// RegisterWebhook upserts the webhook subscription so Wazzup pushes message
// events to callbackURL. Idempotent; safe to call on every startup.
func (c *Client) RegisterWebhook(ctx context.Context, callbackURL string) error {
	_, err := c.do(ctx, http.MethodPatch, "/webhooks", map[string]any{
		"webhooksUri": callbackURL,
		"subscriptions": map[string]bool{
			"messagesAndStatuses":      true,
			"contactsAndDealsCreation": false,
			"channelsUpdates":          false,
			"templateStatus":           false,
		},
	}, http.StatusOK)
	if err != nil {
		return err
	}
	c.logger.Info("webhook registered", zap.String("url", callbackURL))
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, payload any, wantStatus int) ([]byte, error) {
	select {
	case c.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-c.sem }()

	bodyBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIToken)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-Id", uuid.NewString())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &upstream.Error{Platform: platform, Op: method + " " + path, Err: err}
	}
	respBody, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return nil, &upstream.Error{Platform: platform, Op: method + " " + path, Err: readErr}
	}

	if resp.StatusCode != wantStatus {
		return nil, &upstream.Error{
			Platform:   platform,
			Op:         method + " " + path,
			StatusCode: resp.StatusCode,
			Body:       truncate(string(respBody), 500),
		}
	}
	return respBody, nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}
