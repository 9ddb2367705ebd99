// Package client talks to the scan API: it uploads receipts, retrying
// transient failures, and polls jobs until they finish.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"splitmate-scan/internal/domain/model"
	"splitmate-scan/internal/infra/logging"
	"splitmate-scan/internal/retry"
)

// Status extends the server-side job statuses with the two states a receipt
// passes through before it has a job id.
type Status string

const (
	StatusPending   Status = "pending"
	StatusUploading Status = "uploading"
)

// ErrPollTimeout is returned by Wait when the job is still running after
// MaxWait.
var ErrPollTimeout = errors.New("scan did not finish in time")

const (
	DefaultPollInterval = 2 * time.Second
	DefaultMaxWait      = 60 * time.Second
	DefaultMaxAttempts  = 3
)

type Options struct {
	BaseURL      string
	HTTPClient   *http.Client
	MaxAttempts  int           // upload attempts
	RetryDelay   time.Duration // first upload backoff
	PollInterval time.Duration
	MaxWait      time.Duration
	// OnStatus, when set, is called on every observed status change.
	OnStatus func(jobID string, status Status)
	Logger   *zerolog.Logger
}

type Client struct {
	base *url.URL
	http *http.Client
	opts Options
	log  *zerolog.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func New(opts Options) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", opts.BaseURL)
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = time.Second
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.MaxWait <= 0 {
		opts.MaxWait = DefaultMaxWait
	}
	return &Client{
		base:  base,
		http:  opts.HTTPClient,
		opts:  opts,
		log:   logging.Component(opts.Logger, "ScanClient"),
		now:   time.Now,
		sleep: retry.SleepContext,
	}, nil
}

// APIError is a failure reported by the server, or a failed job.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Retryable  bool
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("scan api %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("scan failed %s: %s", e.Code, e.Message)
}

// IsRetryable reports whether err may succeed on a fresh attempt. Transport
// failures are retryable; server errors say so themselves.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable
	}
	return true
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code       string `json:"code"`
		Message    string `json:"message"`
		Retryable  bool   `json:"retryable"`
		RetryAfter int    `json:"retryAfter"`
	} `json:"error"`
}

func (c *Client) notify(jobID string, st Status) {
	if c.opts.OnStatus != nil {
		c.opts.OnStatus(jobID, st)
	}
}

// Upload sends one receipt and returns its job id. Retryable failures are
// retried with backoff, waiting at least the server's Retry-After.
func (c *Client) Upload(ctx context.Context, fileName, mimeType string, data []byte) (string, error) {
	c.notify("", StatusPending)
	var retryAfter time.Duration

	return retry.Do(ctx, retry.Options{
		MaxAttempts:  c.opts.MaxAttempts,
		InitialDelay: c.opts.RetryDelay,
		Jitter:       true,
		ShouldRetry:  IsRetryable,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			c.log.Warn().Err(err).Int("attempt", attempt).Dur("delay", max(delay, retryAfter)).Msg("upload failed, retrying")
		},
		Sleep: func(ctx context.Context, d time.Duration) error {
			return c.sleep(ctx, max(d, retryAfter))
		},
	}, func(ctx context.Context, attempt int) (string, error) {
		c.notify("", StatusUploading)
		id, err := c.uploadOnce(ctx, fileName, mimeType, data)
		retryAfter = 0
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			retryAfter = apiErr.RetryAfter
		}
		if err == nil {
			c.notify(id, Status(model.ScanStatusQueued))
		}
		return id, err
	})
}

func (c *Client) uploadOnce(ctx context.Context, fileName, mimeType string, data []byte) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="receipt"; filename=%q`, fileName))
	if mimeType != "" {
		h.Set("Content-Type", mimeType)
	}
	part, err := mw.CreatePart(h)
	if err != nil {
		return "", fmt.Errorf("build multipart: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("build multipart: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("build multipart: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/api/scan"), &body)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	var out struct {
		ScanJobID string `json:"scanJobId"`
	}
	if err := c.do(req, http.StatusCreated, &out); err != nil {
		return "", err
	}
	if out.ScanJobID == "" {
		return "", errors.New("scan api returned no job id")
	}
	return out.ScanJobID, nil
}

// Status fetches the current view of a job.
func (c *Client) Status(ctx context.Context, jobID string) (*model.ScanJobView, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("/api/scan/"+url.PathEscape(jobID)), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	var view model.ScanJobView
	if err := c.do(req, http.StatusOK, &view); err != nil {
		return nil, err
	}
	return &view, nil
}

// Wait polls until the job is terminal and returns its final view. Retryable
// poll failures are tolerated until MaxWait runs out.
func (c *Client) Wait(ctx context.Context, jobID string) (*model.ScanJobView, error) {
	deadline := c.now().Add(c.opts.MaxWait)
	last := Status("")
	for {
		view, err := c.Status(ctx, jobID)
		switch {
		case err == nil:
			if st := Status(view.Status); st != last {
				last = st
				c.notify(jobID, st)
			}
			if view.Status.IsTerminal() {
				return view, nil
			}
		case IsRetryable(err):
			c.log.Debug().Err(err).Str("job_id", jobID).Msg("poll failed, will retry")
		default:
			return nil, err
		}

		if !c.now().Add(c.opts.PollInterval).Before(deadline) {
			return nil, fmt.Errorf("%w: job %s after %s", ErrPollTimeout, jobID, c.opts.MaxWait)
		}
		if err := c.sleep(ctx, c.opts.PollInterval); err != nil {
			return nil, err
		}
	}
}

// Scan uploads a receipt and waits for its line items. A failed job comes
// back as an *APIError carrying the job's error code.
func (c *Client) Scan(ctx context.Context, fileName, mimeType string, data []byte) ([]model.LineItem, error) {
	id, err := c.Upload(ctx, fileName, mimeType, data)
	if err != nil {
		return nil, err
	}
	view, err := c.Wait(ctx, id)
	if err != nil {
		return nil, err
	}
	if view.Status == model.ScanStatusFailed {
		apiErr := &APIError{Code: "SERVER_ERROR", Message: "scan failed", Retryable: true}
		if view.Error != nil {
			apiErr.Code = view.Error.Code
			apiErr.Message = view.Error.Message
			apiErr.Retryable = view.Error.Retryable
		}
		return nil, apiErr
	}
	return view.Result, nil
}

func (c *Client) endpoint(path string) string {
	return c.base.String() + path
}

// do sends req and decodes the success envelope's data into out.
func (c *Client) do(req *http.Request, wantStatus int, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	var env envelope
	if jerr := json.Unmarshal(body, &env); jerr != nil {
		if resp.StatusCode != wantStatus {
			return &APIError{
				StatusCode: resp.StatusCode,
				Code:       "HTTP_" + strconv.Itoa(resp.StatusCode),
				Message:    http.StatusText(resp.StatusCode),
				Retryable:  resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests,
				RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
			}
		}
		return fmt.Errorf("failed to unmarshal response: %w", jerr)
	}

	if resp.StatusCode != wantStatus || !env.Success {
		apiErr := &APIError{StatusCode: resp.StatusCode, RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"))}
		if env.Error != nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
			apiErr.Retryable = env.Error.Retryable
			if env.Error.RetryAfter > 0 && apiErr.RetryAfter == 0 {
				apiErr.RetryAfter = time.Duration(env.Error.RetryAfter) * time.Second
			}
		} else {
			apiErr.Code = "HTTP_" + strconv.Itoa(resp.StatusCode)
			apiErr.Message = http.StatusText(resp.StatusCode)
			apiErr.Retryable = resp.StatusCode >= 500
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("failed to unmarshal data: %w", err)
	}
	return nil
}

func parseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if s, err := strconv.Atoi(v); err == nil && s > 0 {
		return time.Duration(s) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
