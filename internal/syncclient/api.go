package syncclient

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

	"github.com/casacultural/livechat/internal/chat"
)

// API is the request/response side of the chat server the client talks to.
type API interface {
	List(ctx context.Context, streamID string, limit int) ([]chat.Message, error)
	Send(ctx context.Context, streamID string, author chat.Author, text string) (chat.Message, error)
	Role(ctx context.Context, streamID string, participant chat.Author) (chat.Role, error)
	Clear(ctx context.Context, streamID string, requester chat.Author) (int, error)
	Promote(ctx context.Context, streamID string, requester chat.Author, email string) error
	Demote(ctx context.Context, streamID string, requester chat.Author, email string) error
	Moderators(ctx context.Context) ([]string, error)
}

// HTTPClient calls the chat server's JSON endpoints.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPClient creates an API client for the server at baseURL
// (e.g. "http://localhost:8080").
func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type sendRequest struct {
	StreamID string      `json:"streamId"`
	Author   chat.Author `json:"author"`
	Text     string      `json:"text"`
}

type sendResponse struct {
	ID        int64     `json:"id"`
	Role      chat.Role `json:"role"`
	Timestamp string    `json:"timestamp"`
}

type clearRequest struct {
	StreamID  string       `json:"streamId"`
	Requester *chat.Author `json:"requester"`
}

type roleChangeRequest struct {
	Email     string      `json:"email"`
	StreamID  string      `json:"streamId"`
	Requester chat.Author `json:"requester"`
}

type errorResponse struct {
	Error string    `json:"error"`
	Kind  chat.Kind `json:"kind"`
}

func (c *HTTPClient) List(ctx context.Context, streamID string, limit int) ([]chat.Message, error) {
	q := url.Values{"streamId": {streamID}}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var msgs []chat.Message
	if err := c.do(ctx, http.MethodGet, "/chat/messages?"+q.Encode(), nil, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// Send posts a message. The returned record carries the server-assigned id,
// role and timestamp; CreatedAt is left to the next list.
func (c *HTTPClient) Send(ctx context.Context, streamID string, author chat.Author, text string) (chat.Message, error) {
	var resp sendResponse
	req := sendRequest{StreamID: streamID, Author: author, Text: text}
	if err := c.do(ctx, http.MethodPost, "/chat/message", req, &resp); err != nil {
		return chat.Message{}, err
	}
	return chat.Message{
		ID:        resp.ID,
		StreamID:  streamID,
		Author:    author,
		Role:      resp.Role,
		Text:      text,
		Timestamp: resp.Timestamp,
	}, nil
}

func (c *HTTPClient) Role(ctx context.Context, streamID string, participant chat.Author) (chat.Role, error) {
	q := url.Values{"streamId": {streamID}, "name": {participant.Name}, "email": {participant.Email}}
	var resp struct {
		Role chat.Role `json:"role"`
	}
	if err := c.do(ctx, http.MethodGet, "/chat/role?"+q.Encode(), nil, &resp); err != nil {
		return "", err
	}
	return resp.Role, nil
}

func (c *HTTPClient) Clear(ctx context.Context, streamID string, requester chat.Author) (int, error) {
	var resp struct {
		Deleted int `json:"deleted"`
	}
	req := clearRequest{StreamID: streamID, Requester: &requester}
	if err := c.do(ctx, http.MethodPost, "/chat/clear", req, &resp); err != nil {
		return 0, err
	}
	return resp.Deleted, nil
}

func (c *HTTPClient) Promote(ctx context.Context, streamID string, requester chat.Author, email string) error {
	req := roleChangeRequest{Email: email, StreamID: streamID, Requester: requester}
	return c.do(ctx, http.MethodPost, "/chat/promote", req, nil)
}

func (c *HTTPClient) Demote(ctx context.Context, streamID string, requester chat.Author, email string) error {
	req := roleChangeRequest{Email: email, StreamID: streamID, Requester: requester}
	return c.do(ctx, http.MethodPost, "/chat/demote", req, nil)
}

func (c *HTTPClient) Moderators(ctx context.Context) ([]string, error) {
	var resp struct {
		Moderators []string `json:"moderators"`
	}
	if err := c.do(ctx, http.MethodGet, "/chat/moderators", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Moderators, nil
}

// do performs one JSON request. Error bodies carrying a kind are turned back
// into *chat.Error so callers can classify them.
func (c *HTTPClient) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("syncclient: marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("syncclient: create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("syncclient: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var e errorResponse
		_ = json.NewDecoder(resp.Body).Decode(&e)
		if e.Kind != "" {
			return &chat.Error{Kind: e.Kind, Message: e.Error}
		}
		return fmt.Errorf("syncclient: %s %s: status %d: %s", method, path, resp.StatusCode, e.Error)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("syncclient: decode response: %w", err)
	}
	return nil
}
