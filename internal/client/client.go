// Package client talks to the docchat REST API and implements engine.Backend.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/zhouzirui/docchat/internal/engine"
	"github.com/zhouzirui/docchat/internal/model/chat"
)

const defaultTimeout = 30 * time.Second

var _ engine.Backend = (*Client)(nil)

// StatusError is a non-2xx response. A 401 is reported like any other status.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("server returned status %d: %s", e.StatusCode, e.Message)
}

// Options configures a Client.
type Options struct {
	BaseURL string
	Token   string
	// Timeout bounds buffered requests. Streamed replies are bounded by the
	// caller's context only.
	Timeout time.Duration
	Logger  *zap.Logger
}

// Client is an HTTP implementation of engine.Backend.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	stream  *http.Client
	logger  *zap.Logger
}

// New returns a client for the API at opts.BaseURL.
func New(opts Options) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid api url %q", opts.BaseURL)
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		baseURL: base.String(),
		token:   opts.Token,
		http:    &http.Client{Timeout: timeout},
		stream:  &http.Client{},
		logger:  logger.Named("client"),
	}, nil
}

type createSessionRequest struct {
	Title      string `json:"title"`
	DocumentID string `json:"documentId,omitempty"`
}

type listSessionsResponse struct {
	Sessions []chat.Summary `json:"sessions"`
}

type askRequest struct {
	Question   string `json:"question"`
	DocumentID string `json:"documentId,omitempty"`
}

// CreateSession creates a session for the document.
func (c *Client) CreateSession(ctx context.Context, title, documentID string) (chat.Session, error) {
	var session chat.Session
	err := c.do(ctx, http.MethodPost, "/api/sessions", createSessionRequest{Title: title, DocumentID: documentID}, &session)
	return session, err
}

// ListSessions returns the caller's session summaries.
func (c *Client) ListSessions(ctx context.Context) ([]chat.Summary, error) {
	var resp listSessionsResponse
	if err := c.do(ctx, http.MethodGet, "/api/sessions", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Sessions, nil
}

// GetSession fetches a session with its messages.
func (c *Client) GetSession(ctx context.Context, sessionID string) (chat.Session, error) {
	var session chat.Session
	err := c.do(ctx, http.MethodGet, "/api/sessions/"+url.PathEscape(sessionID), nil, &session)
	return session, err
}

// SendMessage posts a user message and waits for the whole reply.
func (c *Client) SendMessage(ctx context.Context, sessionID string, req chat.SendRequest) (chat.Reply, error) {
	var reply chat.Reply
	err := c.do(ctx, http.MethodPost, "/api/sessions/"+url.PathEscape(sessionID)+"/messages", req, &reply)
	return reply, err
}

// StreamMessage posts a user message and returns the event-stream body.
func (c *Client) StreamMessage(ctx context.Context, sessionID string, req chat.SendRequest) (io.ReadCloser, error) {
	return c.openStream(ctx, "/api/sessions/"+url.PathEscape(sessionID)+"/messages/stream", req)
}

// AskStream asks outside any session and returns the event-stream body.
func (c *Client) AskStream(ctx context.Context, question, documentID string) (io.ReadCloser, error) {
	return c.openStream(ctx, "/api/questions/ask/stream", askRequest{Question: question, DocumentID: documentID})
}

func (c *Client) openStream(ctx context.Context, path string, body any) (io.ReadCloser, error) {
	httpReq, err := c.newRequest(ctx, http.MethodPost, path, body)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.stream.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("stream request failed: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		return nil, statusError(resp)
	}
	return resp.Body, nil
}

// Ask puts a question to the assistant outside any session.
func (c *Client) Ask(ctx context.Context, question, documentID string) (chat.Reply, error) {
	var reply chat.Reply
	err := c.do(ctx, http.MethodPost, "/api/questions/ask", askRequest{Question: question, DocumentID: documentID}, &reply)
	return reply, err
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s failed: %w", method, path, err)
	}
	defer resp.Body.Close()

	c.logger.Debug("api call",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func statusError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var body struct {
		Error string `json:"error"`
	}
	msg := strings.TrimSpace(string(data))
	if json.Unmarshal(data, &body) == nil && body.Error != "" {
		msg = body.Error
	}
	return &StatusError{StatusCode: resp.StatusCode, Message: msg}
}
