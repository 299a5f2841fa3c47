// Package provider talks to the task-based generation API: create a task,
// then read its record until it finishes.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"CharacterReel-server/logging"
	"CharacterReel-server/pipeline"
)

// APIError is a non-200 code in the response envelope.
type APIError struct {
	Code int
	Msg  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("provider api error (%d): %s", e.Code, e.Msg)
}

type Options struct {
	BaseURL        string
	APIKey         string
	RequestTimeout time.Duration
	// WaitInterval and WaitTimeout bound WaitForTask.
	WaitInterval time.Duration
	WaitTimeout  time.Duration
	HTTPClient   *http.Client
	Logger       *slog.Logger
}

type Client struct {
	baseURL      string
	apiKey       string
	http         *http.Client
	waitInterval time.Duration
	waitTimeout  time.Duration
	log          *slog.Logger
}

func New(opts Options) *Client {
	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	if opts.WaitInterval <= 0 {
		opts.WaitInterval = 3 * time.Second
	}
	if opts.WaitTimeout <= 0 {
		opts.WaitTimeout = 5 * time.Minute
	}
	log := logging.WithComponent(logging.OrDefault(opts.Logger), "provider")
	log.Info("provider client configured",
		slog.String("base_url", opts.BaseURL),
		slog.String("api_key", logging.SanitizeToken(opts.APIKey)),
	)
	return &Client{
		baseURL:      strings.TrimRight(opts.BaseURL, "/"),
		apiKey:       opts.APIKey,
		http:         hc,
		waitInterval: opts.WaitInterval,
		waitTimeout:  opts.WaitTimeout,
		log:          log,
	}
}

type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request failed: %w", err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request failed: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response failed: %w", err)
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		snippet := string(raw)
		if len(snippet) > 200 {
			snippet = snippet[:200] + "..."
		}
		return fmt.Errorf("decode response failed (status %d): %v, body: %s", resp.StatusCode, err, snippet)
	}
	if env.Code != http.StatusOK {
		return &APIError{Code: env.Code, Msg: env.Msg}
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode data failed: %w", err)
	}
	return nil
}

// CreateTask submits input to model and returns the task id.
func (c *Client) CreateTask(ctx context.Context, model string, input interface{}) (string, error) {
	var data struct {
		TaskID string `json:"taskId"`
	}
	body := map[string]interface{}{
		"model": model,
		"input": input,
	}
	if err := c.do(ctx, http.MethodPost, "/jobs/createTask", body, &data); err != nil {
		return "", err
	}
	if data.TaskID == "" {
		return "", errors.New("response missing taskId")
	}
	c.log.Debug("task created", slog.String("model", model), slog.String("task_id", data.TaskID))
	return data.TaskID, nil
}

type record struct {
	TaskID     string          `json:"taskId"`
	State      string          `json:"state"`
	ResultJSON json.RawMessage `json:"resultJson"`
	FailMsg    string          `json:"failMsg"`
}

// MapState converts a provider state to a job state. Unknown states count as
// still running.
func MapState(state string) pipeline.JobState {
	switch state {
	case "waiting":
		return pipeline.JobPending
	case "generating":
		return pipeline.JobProcessing
	case "success":
		return pipeline.JobCompleted
	case "fail":
		return pipeline.JobFailed
	}
	return pipeline.JobProcessing
}

// resultURLs reads resultUrls from resultJson, which arrives either as an
// embedded JSON string or as an object.
func resultURLs(raw json.RawMessage) []string {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	body := []byte(raw)
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s == "" {
			return nil
		}
		body = []byte(s)
	}
	var parsed struct {
		ResultURLs []string `json:"resultUrls"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil
	}
	return parsed.ResultURLs
}

// RecordInfo reads the current status of taskID.
func (c *Client) RecordInfo(ctx context.Context, taskID string) (pipeline.JobStatus, error) {
	var rec record
	if err := c.do(ctx, http.MethodGet, "/jobs/recordInfo?taskId="+url.QueryEscape(taskID), nil, &rec); err != nil {
		return pipeline.JobStatus{}, err
	}
	switch rec.State {
	case "waiting", "generating", "success", "fail":
	default:
		c.log.Warn("unknown task state, treating as processing", slog.String("task_id", taskID), slog.String("state", rec.State))
	}
	status := pipeline.JobStatus{State: MapState(rec.State), Error: rec.FailMsg}
	if urls := resultURLs(rec.ResultJSON); len(urls) > 0 {
		status.ResultURL = urls[0]
	}
	return status, nil
}

// WaitForTask polls taskID until it finishes and returns its first result URL.
func (c *Client) WaitForTask(ctx context.Context, taskID string) (string, error) {
	timeout := time.NewTimer(c.waitTimeout)
	defer timeout.Stop()
	ticker := time.NewTicker(c.waitInterval)
	defer ticker.Stop()

	for {
		status, err := c.RecordInfo(ctx, taskID)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			c.log.Warn("record poll failed, retrying", slog.String("task_id", taskID), slog.Any("error", err))
		} else {
			switch status.State {
			case pipeline.JobCompleted:
				if status.ResultURL == "" {
					return "", fmt.Errorf("task %s completed without result url", taskID)
				}
				return status.ResultURL, nil
			case pipeline.JobFailed:
				msg := status.Error
				if msg == "" {
					msg = "task failed"
				}
				return "", errors.New(msg)
			}
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-timeout.C:
			return "", pipeline.TimedOut("task %s not finished after %s", taskID, c.waitTimeout)
		case <-ticker.C:
		}
	}
}
