// Package podio implements the work-item platform client: OAuth password
// grant with lazy token refresh, item creation and comment read/write.
package podio

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/chatbridge/internal/config"
	"github.com/matheus3301/chatbridge/internal/upstream"
	"go.uber.org/zap"
)

// ExternalIDPrefix marks comments this system authored. The reconciliation
// loop skips them to avoid echoing forwarded chat messages back to the chat.
const ExternalIDPrefix = "wazzup_"

// tokenSkew refreshes the token slightly before Podio's reported expiry.
const tokenSkew = 60 * time.Second

const platform = "podio"

// Comment is one comment on a Podio item.
type Comment struct {
	CommentID  int64  `json:"comment_id"`
	Value      string `json:"value"`
	ExternalID string `json:"external_id"`
	CreatedOn  string `json:"created_on"`
	CreatedBy  Author `json:"created_by"`
}

// Author identifies who wrote a comment.
type Author struct {
	Type string `json:"type"`
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// OwnComment reports whether this comment was created by the bridge itself.
func (c *Comment) OwnComment() bool {
	return strings.HasPrefix(c.ExternalID, ExternalIDPrefix)
}

// Client talks to the Podio API. Token state is guarded by a mutex, so
// concurrent callers coalesce onto a single in-flight refresh.
type Client struct {
	cfg        config.Podio
	httpClient *http.Client
	logger     *zap.Logger
	sem        chan struct{}

	mu          sync.Mutex
	accessToken string
	expiresAt   time.Time
}

// New creates a Podio client. maxConcurrent bounds in-flight API calls.
func New(cfg config.Podio, timeout time.Duration, maxConcurrent int, logger *zap.Logger) *Client {
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

// Authenticate exchanges the configured credentials for a bearer token.
// On failure the previous session, if any, is left untouched.
func (c *Client) Authenticate(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authenticateLocked(ctx)
}

func (c *Client) authenticateLocked(ctx context.Context) error {
	form := url.Values{
		"grant_type":    {"password"},
		"client_id":     {c.cfg.ClientID},
		"client_secret": {c.cfg.ClientSecret},
		"username":      {c.cfg.Username},
		"password":      {c.cfg.Password},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.BaseURL+"/oauth/token", strings.NewReader(form.Encode()))
	if err != nil {
		return &upstream.AuthError{Platform: platform, Op: "authenticate", Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &upstream.AuthError{Platform: platform, Op: "authenticate", Err: err}
	}
	body, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return &upstream.AuthError{Platform: platform, Op: "authenticate", Err: readErr}
	}
	if resp.StatusCode != http.StatusOK {
		return &upstream.AuthError{
			Platform: platform,
			Op:       "authenticate",
			Err:      fmt.Errorf("status=%d body=%s", resp.StatusCode, truncate(string(body), 200)),
		}
	}

	var token struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &token); err != nil {
		return &upstream.AuthError{Platform: platform, Op: "authenticate", Err: err}
	}
	if token.ExpiresIn <= 0 {
		token.ExpiresIn = 3600
	}
	c.accessToken = token.AccessToken
	c.expiresAt = time.Now().Add(time.Duration(token.ExpiresIn) * time.Second)
	c.logger.Info("podio authenticated", zap.Time("expires_at", c.expiresAt))
	return nil
}

// ensureAuthenticated returns a valid token, refreshing only when absent or
// past expiry. Must be cheap: it is called before every outbound request.
func (c *Client) ensureAuthenticated(ctx context.Context, force bool) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if force || c.accessToken == "" || time.Now().After(c.expiresAt.Add(-tokenSkew)) {
		if err := c.authenticateLocked(ctx); err != nil {
			return "", err
		}
	}
	return c.accessToken, nil
}

// CreateItem creates a new item in the configured deals app and returns its id.
func (c *Client) CreateItem(ctx context.Context, fields map[string]any) (int64, error) {
	path := fmt.Sprintf("/item/app/%d/", c.cfg.DealsAppID)
	body, err := c.do(ctx, http.MethodPost, path, map[string]any{"fields": fields})
	if err != nil {
		return 0, err
	}
	var item struct {
		ItemID int64 `json:"item_id"`
	}
	if err := json.Unmarshal(body, &item); err != nil {
		return 0, fmt.Errorf("decode item response: %w", err)
	}
	c.logger.Info("podio item created", zap.Int64("item_id", item.ItemID))
	return item.ItemID, nil
}

// AddComment appends a comment to an item. externalID must be derived
// deterministically from the source message so retries never duplicate.
func (c *Client) AddComment(ctx context.Context, itemID int64, text, externalID string) error {
	path := fmt.Sprintf("/comment/app/%d/%d/", c.cfg.DealsAppID, itemID)
	_, err := c.do(ctx, http.MethodPost, path, map[string]any{
		"value":       text,
		"external_id": externalID,
	})
	return err
}

// Comments returns all comments on an item, oldest first.
func (c *Client) Comments(ctx context.Context, itemID int64) ([]Comment, error) {
	path := fmt.Sprintf("/comment/item/%d/", itemID)
	body, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	var comments []Comment
	if err := json.Unmarshal(body, &comments); err != nil {
		return nil, fmt.Errorf("decode comments: %w", err)
	}
	return comments, nil
}

// do performs one authenticated API call. A 401 triggers exactly one forced
// re-authentication and retry; a second rejection surfaces the AuthError.
func (c *Client) do(ctx context.Context, method, path string, payload any) ([]byte, error) {
	select {
	case c.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-c.sem }()

	var bodyBytes []byte
	if payload != nil {
		var err error
		bodyBytes, err = json.Marshal(payload)
		if err != nil {
			return nil, err
		}
	}

	reauthed := false
	correlationID := uuid.NewString()
	for {
		token, err := c.ensureAuthenticated(ctx, reauthed)
		if err != nil {
			return nil, err
		}

		var reqBody io.Reader
		if bodyBytes != nil {
			reqBody = bytes.NewReader(bodyBytes)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reqBody)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("X-Request-Id", correlationID)
		if bodyBytes != nil {
			req.Header.Set("Content-Type", "application/json")
		}

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

		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			return respBody, nil
		}

		if resp.StatusCode == http.StatusUnauthorized && !reauthed {
			c.logger.Warn("podio token rejected, re-authenticating",
				zap.String("path", path), zap.String("request_id", correlationID))
			reauthed = true
			continue
		}
		if resp.StatusCode == http.StatusUnauthorized {
			return nil, &upstream.AuthError{
				Platform: platform,
				Op:       method + " " + path,
				Err:      errors.New("token rejected after re-authentication"),
			}
		}

		return nil, &upstream.Error{
			Platform:   platform,
			Op:         method + " " + path,
			StatusCode: resp.StatusCode,
			Body:       truncate(string(respBody), 500),
		}
	}
}

// ParseCommentID converts a stored cursor position back to a comment id.
// An empty position means "no comments mirrored yet".
func ParseCommentID(position string) int64 {
	if position == "" {
		return 0
	}
	id, _ := strconv.ParseInt(position, 10, 64)
	return id
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}
