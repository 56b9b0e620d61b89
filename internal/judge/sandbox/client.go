package sandbox

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"judgeflow/internal/job"
	appErr "judgeflow/pkg/errors"
)

// Config holds settings for the external execution service client.
type Config struct {
	// BaseURL of the sandbox service, e.g. http://localhost:2358.
	BaseURL string `yaml:"baseURL"`

	// Base64 toggles base64 transport encoding for source, stdin and all
	// outputs. Required when the sandbox is configured for binary-safe
	// transport.
	Base64 bool `yaml:"base64"`

	// RunTimeout is the hard deadline for a "run" call.
	RunTimeout time.Duration `yaml:"runTimeout"`

	// SubmitTimeout is the hard deadline for a full "submit" call, which
	// executes the complete test set and may run longer.
	SubmitTimeout time.Duration `yaml:"submitTimeout"`
}

func (c *Config) applyDefaults() {
	if c.RunTimeout == 0 {
		c.RunTimeout = 30 * time.Second
	}
	if c.SubmitTimeout == 0 {
		c.SubmitTimeout = 120 * time.Second
	}
}

// Client submits one source+stdin pair to the external sandbox and waits
// for the raw result. It is stateless and safe to share across jobs.
type Client struct {
	cfg  Config
	http *http.Client
}

// NewClient creates a sandbox client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("sandbox base url is required")
	}
	cfg.applyDefaults()
	return &Client{
		cfg: cfg,
		// Per-call deadlines come from the context; the transport only
		// needs a generous ceiling.
		http: &http.Client{Timeout: cfg.SubmitTimeout + 10*time.Second},
	}, nil
}

type submitRequest struct {
	SourceCode string `json:"source_code"`
	LanguageID int    `json:"language_id"`
	Stdin      string `json:"stdin"`
}

type submitResponse struct {
	Stdout        *string     `json:"stdout"`
	Stderr        *string     `json:"stderr"`
	CompileOutput *string     `json:"compile_output"`
	Time          *string     `json:"time"`
	Memory        json.Number `json:"memory"`
	Status        struct {
		ID          int    `json:"id"`
		Description string `json:"description"`
	} `json:"status"`
}

// Execute runs one job synchronously. The deadline is RunTimeout, or
// SubmitTimeout for full submissions. Timeout and transport failures are
// reported as SandboxTimeout / SandboxUnavailable; the caller treats both
// as a job failure, never a crash.
func (c *Client) Execute(ctx context.Context, j *job.Job) (job.ExecutionResult, error) {
	timeout := c.cfg.RunTimeout
	if j.IsSubmission {
		timeout = c.cfg.SubmitTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	payload := submitRequest{
		SourceCode: j.SourceCode,
		LanguageID: j.LanguageID,
		Stdin:      j.Stdin,
	}
	if c.cfg.Base64 {
		payload.SourceCode = base64.StdEncoding.EncodeToString([]byte(j.SourceCode))
		payload.Stdin = base64.StdEncoding.EncodeToString([]byte(j.Stdin))
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return job.ExecutionResult{}, appErr.Wrapf(err, appErr.InternalServerError, "encode sandbox request failed")
	}

	url := fmt.Sprintf("%s/submissions?base64_encoded=%t&wait=true", c.cfg.BaseURL, c.cfg.Base64)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return job.ExecutionResult{}, appErr.Wrapf(err, appErr.InternalServerError, "build sandbox request failed")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return job.ExecutionResult{}, appErr.Wrapf(err, appErr.SandboxTimeout, "sandbox call exceeded %s", timeout)
		}
		return job.ExecutionResult{}, appErr.Wrapf(err, appErr.SandboxUnavailable, "sandbox call failed")
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return job.ExecutionResult{}, appErr.Newf(appErr.SandboxUnavailable, "sandbox returned status %d", resp.StatusCode)
	}

	var out submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return job.ExecutionResult{}, appErr.Wrapf(err, appErr.SandboxBadResponse, "decode sandbox response failed")
	}
	return c.toResult(out)
}

func (c *Client) toResult(resp submitResponse) (job.ExecutionResult, error) {
	res := job.ExecutionResult{
		Stdout:        deref(resp.Stdout),
		Stderr:        deref(resp.Stderr),
		CompileOutput: deref(resp.CompileOutput),
		Time:          deref(resp.Time),
	}
	if resp.Memory != "" {
		// judge0 reports memory in kilobytes, occasionally as a float.
		if f, err := resp.Memory.Float64(); err == nil {
			res.Memory = int64(f)
		}
	}
	if c.cfg.Base64 {
		var err error
		if res.Stdout, err = decode64(res.Stdout); err != nil {
			return job.ExecutionResult{}, appErr.Wrapf(err, appErr.SandboxBadResponse, "decode stdout failed")
		}
		if res.Stderr, err = decode64(res.Stderr); err != nil {
			return job.ExecutionResult{}, appErr.Wrapf(err, appErr.SandboxBadResponse, "decode stderr failed")
		}
		if res.CompileOutput, err = decode64(res.CompileOutput); err != nil {
			return job.ExecutionResult{}, appErr.Wrapf(err, appErr.SandboxBadResponse, "decode compile output failed")
		}
	}
	return res, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func decode64(s string) (string, error) {
	if s == "" {
		return "", nil
	}
	// Some sandbox builds wrap base64 output with newlines.
	raw, err := base64.StdEncoding.DecodeString(trimNewlines(s))
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func trimNewlines(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' || s[i] == '\r' {
			continue
		}
		out = append(out, s[i])
	}
	return string(out)
}
