package debrid

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	apperrors "github.com/debridrelay/debridrelay/internal/errors"
)

const (
	DefaultBaseURL = "https://api.real-debrid.com/rest/1.0"

	userAgent      = "debridrelay/1.0"
	requestTimeout = 30 * time.Second
	listLimit      = 100
	maxBodyBytes   = 4 << 20
)

// Client is a typed Real-Debrid REST client. The bearer token is fixed for
// the lifetime of the client.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	retry      *apperrors.RetryConfig
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRetryConfig sets the backoff used by idempotent reads.
func WithRetryConfig(cfg *apperrors.RetryConfig) Option {
	return func(c *Client) { c.retry = cfg }
}

// NewClient creates a new debrid API client
func NewClient(baseURL, token string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: requestTimeout},
		retry:      apperrors.DebridRetryConfig(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// statusError is a non-transient HTTP failure; callers map it onto the
// error class of the operation.
type statusError struct {
	StatusCode int
	Message    string
	Code       int
}

func (e *statusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("debrid: HTTP %d: %s (code %d)", e.StatusCode, e.Message, e.Code)
	}
	return fmt.Sprintf("debrid: HTTP %d", e.StatusCode)
}

// do performs one request. Transport failures, 429 and 5xx come back as
// TRANSIENT_NETWORK; other non-2xx statuses as *statusError. A
// cancelled context is returned unwrapped.
func (c *Client) do(ctx context.Context, method, path string, form url.Values, out any) (int, error) {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		return 0, apperrors.TransientNetwork(fmt.Sprintf("%s %s failed", method, path)).WithCause(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return resp.StatusCode, apperrors.TransientNetwork("reading debrid response").WithCause(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		se := &statusError{StatusCode: resp.StatusCode}
		var apiErr apiErrorBody
		if json.Unmarshal(data, &apiErr) == nil {
			se.Message = apiErr.Error
			se.Code = apiErr.ErrorCode
		}
		if apperrors.HTTPRetryableStatus(resp.StatusCode) {
			return resp.StatusCode, apperrors.TransientNetwork(se.Error()).WithCause(se)
		}
		return resp.StatusCode, se
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return resp.StatusCode, fmt.Errorf("decoding %s response: %w", path, err)
		}
	}
	return resp.StatusCode, nil
}

// AddMagnet submits a magnet URI and returns the remote job id.
func (c *Client) AddMagnet(ctx context.Context, magnetURI string) (string, error) {
	magnetURI = strings.TrimSpace(magnetURI)
	if !strings.HasPrefix(strings.ToLower(magnetURI), "magnet:?") {
		return "", apperrors.Submission("not a magnet URI")
	}

	var resp addMagnetResponse
	_, err := c.do(ctx, http.MethodPost, "/torrents/addMagnet", url.Values{"magnet": {magnetURI}}, &resp)
	if err != nil {
		if isPassthrough(ctx, err) {
			return "", err
		}
		return "", apperrors.Submission("magnet rejected").WithCause(err)
	}
	if resp.ID == "" {
		return "", apperrors.Submission("service returned no job id")
	}
	return resp.ID, nil
}

// SelectAllFiles starts the download of every file in the job. Repeating the
// call is harmless; the service answers 202 when the selection is already in
// place.
func (c *Client) SelectAllFiles(ctx context.Context, jobID string) error {
	status, err := c.do(ctx, http.MethodPost, "/torrents/selectFiles/"+url.PathEscape(jobID), url.Values{"files": {"all"}}, nil)
	if err != nil {
		return err
	}
	if status != http.StatusNoContent && status != http.StatusAccepted && status != http.StatusOK {
		return fmt.Errorf("selectFiles: unexpected status %d", status)
	}
	return nil
}

// Info returns the current snapshot of a job. When the service reports an
// error-class status the snapshot is returned together with a
// REMOTE_JOB_ERROR so callers can still name the file.
func (c *Client) Info(ctx context.Context, jobID string) (*Job, error) {
	var job Job
	_, err := c.do(ctx, http.MethodGet, "/torrents/info/"+url.PathEscape(jobID), nil, &job)
	if err != nil {
		if isPassthrough(ctx, err) {
			return nil, err
		}
		return nil, apperrors.RemoteJob("job lookup failed").WithCause(err)
	}
	if IsErrorStatus(job.Status) {
		return &job, apperrors.RemoteJob(fmt.Sprintf("remote job %s", job.Status)).
			WithDetails(map[string]any{"id": job.ID, "status": job.Status})
	}
	return &job, nil
}

// Unrestrict resolves a restricted hoster link into a direct download link.
func (c *Client) Unrestrict(ctx context.Context, restrictedURI string) (*Unrestricted, error) {
	if restrictedURI == "" {
		return nil, apperrors.LinkResolution("no link to resolve")
	}

	u, err := apperrors.RetryWithResult(ctx, c.retry, func(ctx context.Context) (*Unrestricted, error) {
		var u Unrestricted
		if _, err := c.do(ctx, http.MethodPost, "/unrestrict/link", url.Values{"link": {restrictedURI}}, &u); err != nil {
			return nil, err
		}
		return &u, nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, apperrors.LinkResolution("unrestrict failed").WithCause(err)
	}
	if u.Download == "" {
		return nil, apperrors.LinkResolution("service returned no direct link")
	}
	return u, nil
}

// Delete removes a job from the account.
func (c *Client) Delete(ctx context.Context, jobID string) (bool, error) {
	status, err := c.do(ctx, http.MethodDelete, "/torrents/delete/"+url.PathEscape(jobID), nil, nil)
	if err != nil {
		return false, err
	}
	return status == http.StatusNoContent, nil
}

// ListTorrents returns the account's jobs, keeping only the given statuses
// when any are passed.
func (c *Client) ListTorrents(ctx context.Context, statuses ...string) ([]Job, error) {
	jobs, err := apperrors.RetryWithResult(ctx, c.retry, func(ctx context.Context) ([]Job, error) {
		var jobs []Job
		_, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/torrents?limit=%d", listLimit), nil, &jobs)
		return jobs, err
	})
	if err != nil {
		return nil, err
	}
	if len(statuses) == 0 {
		return jobs, nil
	}

	keep := make(map[string]bool, len(statuses))
	for _, s := range statuses {
		keep[s] = true
	}
	filtered := jobs[:0]
	for _, j := range jobs {
		if keep[j.Status] {
			filtered = append(filtered, j)
		}
	}
	return filtered, nil
}

// ListDownloads returns the unrestricted-links history.
func (c *Client) ListDownloads(ctx context.Context) ([]Download, error) {
	return apperrors.RetryWithResult(ctx, c.retry, func(ctx context.Context) ([]Download, error) {
		var downloads []Download
		_, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/downloads?limit=%d", listLimit), nil, &downloads)
		return downloads, err
	})
}

// MediaInfo returns stream details of an unrestricted download.
func (c *Client) MediaInfo(ctx context.Context, downloadID string) (*MediaInfo, error) {
	return apperrors.RetryWithResult(ctx, c.retry, func(ctx context.Context) (*MediaInfo, error) {
		var info MediaInfo
		if _, err := c.do(ctx, http.MethodGet, "/streaming/mediaInfos/"+url.PathEscape(downloadID), nil, &info); err != nil {
			return nil, err
		}
		return &info, nil
	})
}

// isPassthrough reports errors that keep their own class: cancellation and
// transient network failures.
func isPassthrough(ctx context.Context, err error) bool {
	return ctx.Err() != nil || apperrors.IsRetryable(err)
}
