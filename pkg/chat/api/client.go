package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/inbox/pkg/chat"
)

// maxErrorBody bounds how much of a failed response is read for the error message.
const maxErrorBody = 4096

// ConversationQuery maps to GET /chat/conversations query parameters.
type ConversationQuery struct {
	Status chat.ConversationStatus
	Limit  int
	Cursor string
	Phone  string
}

type ConversationPage struct {
	Items      []chat.Conversation `json:"items"`
	NextCursor string              `json:"nextCursor,omitempty"`
}

// MessageQuery maps to GET /chat/conversations/{id}/messages query parameters.
type MessageQuery struct {
	Limit  int
	Before string
}

type MessagePage struct {
	Items      []chat.Message `json:"items"`
	NextBefore string         `json:"nextBefore,omitempty"`
}

// StatusError is returned for any non-2xx response.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s %s: status %d", e.Method, e.Path, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.StatusCode, e.Message)
}

// Client talks to the chat REST backend.
type Client struct {
	baseURL  string
	http     *http.Client
	identity chat.Identity
}

type ClientOption func(*Client)

func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.http = &http.Client{Timeout: d, Transport: c.http.Transport}
		}
	}
}

func WithIdentity(id chat.Identity) ClientOption {
	return func(c *Client) {
		c.identity = id
	}
}

func NewClient(baseURL string, opts ...ClientOption) (*Client, error) {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return nil, errors.New("api client: empty base url")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, errors.Wrap(err, "api client: parse base url")
	}
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) ListConversations(ctx context.Context, q ConversationQuery) (*ConversationPage, error) {
	params := url.Values{}
	status := q.Status
	if status == "" {
		status = chat.StatusOpen
	}
	params.Set("status", string(status))
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Cursor != "" {
		params.Set("cursor", q.Cursor)
	}
	if q.Phone != "" {
		params.Set("phone", q.Phone)
	}

	var page ConversationPage
	if err := c.do(ctx, http.MethodGet, "/chat/conversations", params, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

func (c *Client) ListMessages(ctx context.Context, conversationID string, q MessageQuery) (*MessagePage, error) {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return nil, errors.New("list messages: empty conversation id")
	}
	params := url.Values{}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Before != "" {
		params.Set("before", q.Before)
	}

	var page MessagePage
	path := "/chat/conversations/" + url.PathEscape(conversationID) + "/messages"
	if err := c.do(ctx, http.MethodGet, path, params, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

func (c *Client) CloseConversation(ctx context.Context, conversationID string) error {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return errors.New("close conversation: empty conversation id")
	}
	path := "/chat/conversations/" + url.PathEscape(conversationID) + "/close"
	return c.do(ctx, http.MethodPost, path, nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, params url.Values, out any) error {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return errors.Wrapf(err, "build %s %s", method, path)
	}
	req.Header.Set("Accept", "application/json")
	c.identity.Apply(req.Header)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, path)
	}
	defer func() { _ = resp.Body.Close() }()

	log.Debug().
		Str("component", "api").
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(start)).
		Msg("rest call")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(method, path, resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrapf(err, "decode %s %s", method, path)
	}
	return nil
}

func statusError(method, path string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	se := &StatusError{Method: method, Path: path, StatusCode: resp.StatusCode}
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(body, &payload) == nil {
		se.Message = payload.Message
		if se.Message == "" {
			se.Message = payload.Error
		}
	}
	if se.Message == "" {
		se.Message = strings.TrimSpace(string(body))
	}
	return se
}
