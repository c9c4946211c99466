// Package api is the REST client of the notification backend.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"vn.io.arda/pinnotify/internal/domain"
)

// TokenSource supplies the bearer token of the signed-in user.
type TokenSource interface {
	Token(ctx context.Context, minValidity time.Duration) (string, error)
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Method string
	Path   string
	Code   int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: status %d", e.Method, e.Path, e.Code)
}

// Client implements notifcache.Backend and popup.IdentityResolver.
type Client struct {
	baseURL     string
	tokens      TokenSource
	minValidity time.Duration
	httpClient  *http.Client
}

// New creates a client for the backend at baseURL (e.g. "http://localhost:8080").
func New(baseURL string, tokens TokenSource, minValidity time.Duration) *Client {
	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		tokens:      tokens,
		minValidity: minValidity,
		httpClient:  &http.Client{Timeout: 15 * time.Second},
	}
}

// StreamURL is the push stream endpoint, without credentials.
func (c *Client) StreamURL() string {
	return c.baseURL + "/api/notifications/stream"
}

type pageDTO struct {
	Content       []json.RawMessage `json:"content"`
	PageIndex     int               `json:"pageIndex"`
	IsLastPage    bool              `json:"isLastPage"`
	TotalElements int64             `json:"totalElements"`
}

// ListNotifications returns page of all notifications, newest first.
func (c *Client) ListNotifications(ctx context.Context, page, size int) (domain.Page, error) {
	q := pageQuery(page, size)
	q.Set("sort", "createdAt,desc")
	return c.listPage(ctx, "/api/notifications", q)
}

// ListUnread returns page of unread notifications.
func (c *Client) ListUnread(ctx context.Context, page, size int) (domain.Page, error) {
	return c.listPage(ctx, "/api/notifications/unread", pageQuery(page, size))
}

func pageQuery(page, size int) url.Values {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("size", strconv.Itoa(size))
	return q
}

func (c *Client) listPage(ctx context.Context, path string, q url.Values) (domain.Page, error) {
	var dto pageDTO
	if err := c.do(ctx, http.MethodGet, path, q, nil, &dto); err != nil {
		return domain.Page{}, err
	}

	page := domain.Page{
		Content:       make([]domain.Notification, 0, len(dto.Content)),
		PageIndex:     dto.PageIndex,
		IsLastPage:    dto.IsLastPage,
		TotalElements: dto.TotalElements,
	}
	for _, raw := range dto.Content {
		n, err := domain.DecodeNotification(raw)
		if err != nil {
			log.Warn().Err(err).Str("path", path).Msg("skipping malformed notification")
			continue
		}
		page.Content = append(page.Content, n)
	}
	return page, nil
}

// UnreadCount returns the server-side unread counter.
func (c *Client) UnreadCount(ctx context.Context) (int64, error) {
	var out struct {
		Count int64 `json:"count"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/notifications/unread/count", nil, nil, &out); err != nil {
		return 0, err
	}
	return out.Count, nil
}

// MarkRead marks ids as read.
func (c *Client) MarkRead(ctx context.Context, ids []string) error {
	body := struct {
		IDs []string `json:"ids"`
	}{IDs: ids}
	return c.do(ctx, http.MethodPut, "/api/notifications/read", nil, body, nil)
}

// MarkAllRead marks every notification of the user as read.
func (c *Client) MarkAllRead(ctx context.Context) error {
	return c.do(ctx, http.MethodPut, "/api/notifications/read-all", nil, nil, nil)
}

// Delete removes one notification.
func (c *Client) Delete(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/notifications/"+url.PathEscape(id), nil, nil, nil)
}

// User returns the display identity of a user.
func (c *Client) User(ctx context.Context, id string) (domain.Actor, error) {
	var a domain.Actor
	if err := c.do(ctx, http.MethodGet, "/api/users/"+url.PathEscape(id), nil, nil, &a); err != nil {
		return domain.Actor{}, err
	}
	return a, nil
}

func (c *Client) do(ctx context.Context, method, path string, q url.Values, in, out any) error {
	token, err := c.tokens.Token(ctx, c.minValidity)
	if err != nil {
		return fmt.Errorf("get access token: %w", err)
	}

	target := c.baseURL + path
	if len(q) > 0 {
		target += "?" + q.Encode()
	}

	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Method: method, Path: path, Code: resp.StatusCode}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}
