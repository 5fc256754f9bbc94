// Package client talks to the postbox HTTP API. A Client satisfies
// pagination.Source and badge.Counter, so the coordinator and the badge
// synchronizer run unchanged on the far side of the network.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.io/infrasutra/postbox/internal/auth"
	"github.io/infrasutra/postbox/internal/badge"
	"github.io/infrasutra/postbox/internal/pagination"
	"github.io/infrasutra/postbox/internal/store"
)

const defaultTimeout = 10 * time.Second

// Error is a non-2xx answer from the API.
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("postbox api: %d %s", e.StatusCode, e.Message)
}

// Unwrap lets callers match the server's sentinels with errors.Is.
func (e *Error) Unwrap() error {
	switch e.StatusCode {
	case http.StatusUnauthorized:
		return auth.ErrSignedOut
	case http.StatusNotFound:
		return store.ErrNotFound
	}
	return nil
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

type Client struct {
	baseURL *url.URL
	http    *http.Client

	mu       sync.RWMutex
	identity auth.Identity
}

func New(baseURL string, opts ...Option) (*Client, error) {
	parsed, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}
	c := &Client{
		baseURL:  parsed,
		http:     &http.Client{Timeout: defaultTimeout},
		identity: auth.Identity{},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http.Jar == nil {
		c.http.Jar = jar
	}
	return c, nil
}

// Identity is the last identity the server confirmed. It is not loaded until
// Login or Me has answered.
func (c *Client) Identity() auth.Identity {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.identity
}

func (c *Client) setIdentity(identity auth.Identity) {
	c.mu.Lock()
	c.identity = identity
	c.mu.Unlock()
}

func (c *Client) Login(ctx context.Context, email string) (string, error) {
	var out struct {
		Email string `json:"email"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/login", nil, map[string]string{"email": email}, &out); err != nil {
		return "", err
	}
	c.setIdentity(auth.SignedIn(out.Email))
	return out.Email, nil
}

func (c *Client) Logout(ctx context.Context) error {
	if err := c.do(ctx, http.MethodPost, "/api/logout", nil, nil, nil); err != nil {
		return err
	}
	c.setIdentity(auth.Identity{Loaded: true})
	return nil
}

// Me asks the server who the session belongs to and records the answer.
func (c *Client) Me(ctx context.Context) (auth.Identity, error) {
	var out struct {
		Email string `json:"email"`
	}
	err := c.do(ctx, http.MethodGet, "/api/me", nil, nil, &out)
	switch {
	case errors.Is(err, auth.ErrSignedOut):
		c.setIdentity(auth.Identity{Loaded: true})
		return c.Identity(), nil
	case err != nil:
		return auth.Identity{}, err
	}
	c.setIdentity(auth.SignedIn(out.Email))
	return c.Identity(), nil
}

type listResponse struct {
	Messages   []store.Message `json:"messages"`
	NextCursor string          `json:"nextCursor"`
	HasMore    bool            `json:"hasMore"`
}

// FetchPage reads one page after query.After. A query without a limit walks
// every page. The owner is implied by the session.
func (c *Client) FetchPage(ctx context.Context, query store.Query) ([]store.Message, error) {
	if query.Limit > 0 {
		resp, err := c.list(ctx, query.Filter, query.Limit, query.After)
		if err != nil {
			return nil, err
		}
		return resp.Messages, nil
	}

	var rows []store.Message
	after := query.After
	for {
		resp, err := c.list(ctx, query.Filter, pagination.MaxPageSize, after)
		if err != nil {
			return nil, err
		}
		rows = append(rows, resp.Messages...)
		if !resp.HasMore || len(resp.Messages) == 0 {
			return rows, nil
		}
		after = store.CursorFor(resp.Messages[len(resp.Messages)-1])
	}
}

func (c *Client) list(ctx context.Context, filter store.Filter, limit int, after *store.Cursor) (listResponse, error) {
	q := filterValues(filter)
	q.Set("limit", strconv.Itoa(limit))
	if after != nil {
		q.Set("cursor", after.Encode())
	}
	var out listResponse
	if err := c.do(ctx, http.MethodGet, "/api/messages", q, nil, &out); err != nil {
		return listResponse{}, fmt.Errorf("list messages: %w", err)
	}
	return out, nil
}

func (c *Client) FetchCount(ctx context.Context, filter store.Filter) (int, error) {
	var out struct {
		Count int `json:"count"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/messages/count", filterValues(filter), nil, &out); err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return out.Count, nil
}

// filterValues encodes a filter as list parameters. The server reads a
// missing folder as the inbox unless starred=true is set.
func filterValues(filter store.Filter) url.Values {
	q := url.Values{}
	if filter.Folder != "" {
		q.Set("folder", string(filter.Folder))
	}
	if filter.Starred != nil {
		q.Set("starred", strconv.FormatBool(*filter.Starred))
	}
	if filter.Read != nil {
		q.Set("read", strconv.FormatBool(*filter.Read))
	}
	return q
}

func (c *Client) Counts(ctx context.Context) (badge.Counts, error) {
	var out badge.Counts
	if err := c.do(ctx, http.MethodGet, "/api/counts", nil, nil, &out); err != nil {
		return badge.Counts{}, err
	}
	return out, nil
}

func (c *Client) Get(ctx context.Context, id string) (store.Message, error) {
	var out store.Message
	if err := c.do(ctx, http.MethodGet, "/api/messages/"+url.PathEscape(id), nil, nil, &out); err != nil {
		return store.Message{}, err
	}
	return out, nil
}

func (c *Client) Send(ctx context.Context, to, subject, content string) (store.Message, error) {
	payload := map[string]string{"to": to, "subject": subject, "content": content}
	var out store.Message
	if err := c.do(ctx, http.MethodPost, "/api/send", nil, payload, &out); err != nil {
		return store.Message{}, err
	}
	return out, nil
}

func (c *Client) MarkRead(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/api/messages/"+url.PathEscape(id)+"/read", nil, nil, nil)
}

func (c *Client) SetStarred(ctx context.Context, id string, starred bool) error {
	return c.do(ctx, http.MethodPut, "/api/messages/"+url.PathEscape(id)+"/star", nil, map[string]bool{"starred": starred}, nil)
}

func (c *Client) MoveToTrash(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/api/messages/"+url.PathEscape(id)+"/trash", nil, nil, nil)
}

func (c *Client) Restore(ctx context.Context, id string) (store.Folder, error) {
	var out struct {
		Folder store.Folder `json:"folder"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/messages/"+url.PathEscape(id)+"/restore", nil, nil, &out); err != nil {
		return "", err
	}
	return out.Folder, nil
}

func (c *Client) Delete(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/messages/"+url.PathEscape(id), nil, nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	target := *c.baseURL
	target.Path = strings.TrimRight(target.Path, "/") + path
	if len(query) > 0 {
		target.RawQuery = query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, target.String(), reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &Error{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		var payload struct {
			Error string `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&payload); err == nil && payload.Error != "" {
			apiErr.Message = payload.Error
		}
		if resp.StatusCode == http.StatusUnauthorized {
			c.setIdentity(auth.Identity{Loaded: true})
		}
		return apiErr
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
