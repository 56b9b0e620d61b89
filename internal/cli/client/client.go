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

	"judgeflow/internal/job"
	pkgerrors "judgeflow/pkg/errors"

	"github.com/gorilla/websocket"
)

// Client talks to the api process: submit over HTTP, watch over websocket.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a client for the given base URL, e.g. http://127.0.0.1:8080.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// SetBaseURL changes the target server.
func (c *Client) SetBaseURL(baseURL string) {
	c.baseURL = strings.TrimRight(baseURL, "/")
}

// BaseURL returns the current target server.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// SubmitRequest mirrors the enqueue API request body.
type SubmitRequest struct {
	SourceCode     string `json:"source_code"`
	LanguageID     int    `json:"language_id"`
	Stdin          string `json:"stdin,omitempty"`
	ExpectedOutput string `json:"expected_output,omitempty"`
	ProblemID      int64  `json:"problem_id,omitempty"`
	IsSubmission   bool   `json:"is_submission,omitempty"`
}

// SubmitResult is the enqueue API response data.
type SubmitResult struct {
	Token string `json:"token"`
	JobID string `json:"job_id"`
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// Submit enqueues one job and returns its token and job id.
func (c *Client) Submit(ctx context.Context, req SubmitRequest) (SubmitResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return SubmitResult{}, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/submit", bytes.NewReader(body))
	if err != nil {
		return SubmitResult{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	var result SubmitResult
	if err := c.do(httpReq, &result); err != nil {
		return SubmitResult{}, err
	}
	return result, nil
}

// Status fetches the latest stored status for a token.
func (c *Client) Status(ctx context.Context, token string) (job.SubmissionUpdate, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/status/"+url.PathEscape(token), nil)
	if err != nil {
		return job.SubmissionUpdate{}, err
	}
	var update job.SubmissionUpdate
	if err := c.do(httpReq, &update); err != nil {
		return job.SubmissionUpdate{}, err
	}
	return update, nil
}

func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("decode response failed (HTTP %d): %w", resp.StatusCode, err)
	}
	if env.Code != int(pkgerrors.Success) {
		return fmt.Errorf("server error %d: %s", env.Code, env.Message)
	}
	if out != nil && len(env.Data) > 0 {
		return json.Unmarshal(env.Data, out)
	}
	return nil
}

// wsFrame mirrors the gateway wire protocol.
type wsFrame struct {
	Event   string                `json:"event"`
	Token   string                `json:"token,omitempty"`
	Data    *job.SubmissionUpdate `json:"data,omitempty"`
	Message string                `json:"message,omitempty"`
}

// Watch subscribes to a token's updates and invokes onUpdate for each one.
// It returns after a terminal update (Completed or Failed) or when ctx is
// done.
func (c *Client) Watch(ctx context.Context, token string, onUpdate func(job.SubmissionUpdate)) error {
	wsURL, err := c.websocketURL()
	if err != nil {
		return err
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial websocket failed: %w", err)
	}
	defer conn.Close()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-stop:
		}
	}()

	if err := conn.WriteJSON(wsFrame{Event: "subscribe", Token: token}); err != nil {
		return fmt.Errorf("subscribe failed: %w", err)
	}

	for {
		var f wsFrame
		if err := conn.ReadJSON(&f); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read update failed: %w", err)
		}
		switch f.Event {
		case "submission-update":
			if f.Data == nil || f.Token != token {
				continue
			}
			onUpdate(*f.Data)
			if f.Data.Status == job.StatusCompleted || f.Data.Status == job.StatusFailed {
				return nil
			}
		case "error":
			return fmt.Errorf("server error: %s", f.Message)
		}
	}
}

func (c *Client) websocketURL() (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = "/ws"
	return u.String(), nil
}
