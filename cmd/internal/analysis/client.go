// Package analysis submits document analysis jobs and long-polls for the
// result.
package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	v1 "imzo/shared/contracts/chat/v1"
)

const (
	defaultPollInterval = 4000 * time.Millisecond
	defaultPollBudget   = 30
	defaultHTTPTimeout  = 60 * time.Second
)

var (
	// ErrUnauthorized maps 401/403 responses and aborts the poll loop.
	ErrUnauthorized = errors.New("analysis: unauthorized")

	// ErrTimeout is returned when the poll budget is spent without a result.
	// The caller marks the pending turn as failed.
	ErrTimeout = errors.New("analysis: no result within poll budget")
)

// TokenSource supplies the bearer token attached to requests.
type TokenSource interface {
	Token() string
}

// Client drives the submit-then-poll analysis flow.
type Client struct {
	log   *slog.Logger
	base  string
	hc    *http.Client
	token TokenSource

	// PollInterval and PollBudget default to 4s and 30 attempts.
	PollInterval time.Duration
	PollBudget   int
}

// NewClient constructs an analysis client for the given API base URL.
func NewClient(log *slog.Logger, baseURL string, token TokenSource) *Client {
	return &Client{
		log:          log,
		base:         strings.TrimRight(baseURL, "/"),
		hc:           &http.Client{Timeout: defaultHTTPTimeout},
		token:        token,
		PollInterval: defaultPollInterval,
		PollBudget:   defaultPollBudget,
	}
}

// Submit uploads the document and question as multipart form data and
// returns the accepted job id.
func (c *Client) Submit(ctx context.Context, filename string, content io.Reader, question string) (string, error) {
	if strings.TrimSpace(filename) == "" {
		return "", errors.New("analysis: empty filename")
	}

	var buf strings.Builder
	mw := multipart.NewWriter(&buf)

	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(fw, content); err != nil {
		return "", fmt.Errorf("analysis: read document: %w", err)
	}
	if err := mw.WriteField("question", question); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/analysis", strings.NewReader(buf.String()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	c.authorize(req)

	resp, err := c.hc.Do(req)
	if err != nil {
		return "", fmt.Errorf("analysis: submit: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return "", ErrUnauthorized
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("analysis: submit: status %d", resp.StatusCode)
	}

	var out v1.AnalysisSubmitResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("analysis: decode submit response: %w", err)
	}
	if out.JobID == "" {
		return "", errors.New("analysis: submit accepted without a job id")
	}

	c.log.Info("analysis.submit", "job_id", out.JobID, "file", filename)
	return out.JobID, nil
}

// Await polls the job until a result is ready. The loop runs at most
// PollBudget polls spaced PollInterval apart; a pending job keeps the loop
// going, an auth failure aborts it, and a spent budget returns ErrTimeout.
func (c *Client) Await(ctx context.Context, jobID string) (string, error) {
	if strings.TrimSpace(jobID) == "" {
		return "", errors.New("analysis: empty job id")
	}

	interval := c.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	budget := c.PollBudget
	if budget <= 0 {
		budget = defaultPollBudget
	}

	t := time.NewTicker(interval)
	defer t.Stop()

	for attempt := 1; attempt <= budget; attempt++ {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-t.C:
		}

		status, err := c.poll(ctx, jobID)
		if err != nil {
			if errors.Is(err, ErrUnauthorized) || ctx.Err() != nil {
				return "", err
			}
			// Transient poll errors count against the budget like a pending
			// answer does.
			c.log.Warn("analysis.poll.fail", "job_id", jobID, "attempt", attempt, "err", err)
			continue
		}

		if status.Result != "" {
			c.log.Info("analysis.done", "job_id", jobID, "attempts", attempt)
			return status.Result, nil
		}
		c.log.Debug("analysis.pending", "job_id", jobID, "attempt", attempt)
	}

	c.log.Warn("analysis.timeout", "job_id", jobID, "attempts", budget)
	return "", ErrTimeout
}

func (c *Client) poll(ctx context.Context, jobID string) (v1.AnalysisStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/analysis/"+url.PathEscape(jobID), nil)
	if err != nil {
		return v1.AnalysisStatus{}, err
	}
	c.authorize(req)

	resp, err := c.hc.Do(req)
	if err != nil {
		return v1.AnalysisStatus{}, fmt.Errorf("poll: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return v1.AnalysisStatus{}, ErrUnauthorized
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return v1.AnalysisStatus{}, fmt.Errorf("poll: status %d", resp.StatusCode)
	}

	var out v1.AnalysisStatus
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return v1.AnalysisStatus{}, fmt.Errorf("poll: decode: %w", err)
	}
	return out, nil
}

func (c *Client) authorize(req *http.Request) {
	if c.token == nil {
		return
	}
	if tok := c.token.Token(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
}
