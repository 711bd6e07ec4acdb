package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Iron-Ham/foreman/internal/errors"
	"github.com/Iron-Ham/foreman/internal/pipeline"
)

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Kind       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (HTTP %d)", e.Message, e.StatusCode)
}

// Is lets callers test remote failures against the local sentinels.
func (e *APIError) Is(target error) bool {
	switch e.Kind {
	case KindNotFound:
		return target == errors.ErrPipelineNotFound
	case KindWorkspace:
		return target == errors.ErrWorkspaceUnavailable
	case KindValidation, KindDefinition:
		return target == errors.ErrInvalidInput
	}
	return false
}

// Client talks to a foreman server.
type Client struct {
	base string
	http *http.Client
}

// NewClient creates a Client for addr, which may be host:port or a URL.
func NewClient(addr string) *Client {
	base := strings.TrimRight(addr, "/")
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return &Client{base: base, http: &http.Client{}}
}

// Launch submits a definition and returns the new pipeline's ID. raw may be
// YAML or JSON and may name a built-in template.
func (c *Client) Launch(ctx context.Context, raw []byte) (string, error) {
	var resp LaunchResponse
	if err := c.do(ctx, http.MethodPost, "/api/pipelines", bytes.NewReader(raw), &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}

// List returns pipeline summaries, optionally filtered by status.
func (c *Client) List(ctx context.Context, statuses ...pipeline.Status) ([]pipeline.Summary, error) {
	path := "/api/pipelines"
	if len(statuses) > 0 {
		parts := make([]string, len(statuses))
		for i, s := range statuses {
			parts[i] = string(s)
		}
		path += "?status=" + url.QueryEscape(strings.Join(parts, ","))
	}
	var out []pipeline.Summary
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Get returns the full snapshot of one pipeline.
func (c *Client) Get(ctx context.Context, id string) (*pipeline.Pipeline, error) {
	var p pipeline.Pipeline
	if err := c.do(ctx, http.MethodGet, "/api/pipelines/"+url.PathEscape(id), nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Abort stops a pipeline.
func (c *Client) Abort(ctx context.Context, id string) (*pipeline.Pipeline, error) {
	return c.command(ctx, id, "abort", nil)
}

// Resume applies an operator decision to an escalated pipeline.
func (c *Client) Resume(ctx context.Context, id string, d pipeline.Decision) (*pipeline.Pipeline, error) {
	return c.command(ctx, id, "resume", d)
}

// Escalate stops automated progress on a running pipeline.
func (c *Client) Escalate(ctx context.Context, id, reason string) (*pipeline.Pipeline, error) {
	return c.command(ctx, id, "escalate", EscalateRequest{Reason: reason})
}

// Delete removes a finished pipeline.
func (c *Client) Delete(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/pipelines/"+url.PathEscape(id), nil, nil)
}

// Events streams events until ctx is done, the server closes the stream or
// fn returns false. An empty id streams every pipeline.
func (c *Client) Events(ctx context.Context, id string, fn func(StreamEvent) bool) error {
	path := "/api/events"
	if id != "" {
		path = "/api/pipelines/" + url.PathEscape(id) + "/events"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		data, ok := strings.CutPrefix(scanner.Text(), "data: ")
		if !ok {
			continue
		}
		var se StreamEvent
		if err := json.Unmarshal([]byte(data), &se); err != nil {
			continue
		}
		if !fn(se) {
			return nil
		}
	}
	if ctx.Err() != nil {
		return nil
	}
	return scanner.Err()
}

func (c *Client) command(ctx context.Context, id, verb string, body any) (*pipeline.Pipeline, error) {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		r = bytes.NewReader(data)
	}
	var p pipeline.Pipeline
	if err := c.do(ctx, http.MethodPost, "/api/pipelines/"+url.PathEscape(id)+"/"+verb, r, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, out any) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("contact foreman server at %s: %w", c.base, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func decodeError(resp *http.Response) error {
	var body ErrorResponse
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err := json.Unmarshal(data, &body); err != nil || body.Error == "" {
		body.Error = strings.TrimSpace(string(data))
		if body.Error == "" {
			body.Error = resp.Status
		}
	}
	return &APIError{StatusCode: resp.StatusCode, Kind: body.Kind, Message: body.Error}
}
