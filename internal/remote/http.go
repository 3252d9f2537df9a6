package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/time/rate"

	"github.com/seantiz/examlens/internal/model"
)

// HTTPConfig configures an HTTPService.
type HTTPConfig struct {
	// Name is the provider name reported in Capabilities.
	Name    string
	BaseURL string
	// Client defaults to a client with a 30s timeout.
	Client *http.Client
	// RPS and Burst bound outgoing requests. RPS <= 0 disables limiting.
	RPS   float64
	Burst int
	// MaxTries bounds submit attempts on 5xx and network errors.
	MaxTries uint
	// RetryInterval is the initial backoff between submit attempts.
	RetryInterval  time.Duration
	MaxConcurrency int
}

// HTTPService talks JSON to a remote job queue.
type HTTPService struct {
	cfg     HTTPConfig
	client  *http.Client
	limiter *rate.Limiter
}

// NewHTTPService returns a service for the queue at cfg.BaseURL.
func NewHTTPService(cfg HTTPConfig) *HTTPService {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Name == "" {
		cfg.Name = "http"
	}
	if cfg.MaxTries == 0 {
		cfg.MaxTries = 3
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 200 * time.Millisecond
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 8
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RPS > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = int(cfg.RPS)
			if burst < 1 {
				burst = 1
			}
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RPS), burst)
	}

	return &HTTPService{cfg: cfg, client: client, limiter: limiter}
}

// Capabilities implements JobService.
func (s *HTTPService) Capabilities() Capabilities {
	return Capabilities{Name: s.cfg.Name, Batch: true, MaxConcurrency: s.cfg.MaxConcurrency}
}

type submitResponse struct {
	JobID string `json:"job_id"`
}

type handlesRequest struct {
	JobIDs []string `json:"job_ids"`
}

type batchStatusResponse struct {
	Statuses map[string]model.RemoteStatus `json:"statuses"`
}

// statusError is a non-2xx response.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.code, e.body)
}

// Submit implements Dispatcher. 4xx responses fail immediately; 5xx and
// transport errors are retried with exponential backoff.
func (s *HTTPService) Submit(ctx context.Context, p Payload) (string, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return "", &DispatchError{SubjectID: p.SubjectID, ModelLabel: p.Model.Label, Err: err}
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.cfg.RetryInterval

	op := func() (string, error) {
		var out submitResponse
		err := s.do(ctx, http.MethodPost, "/api/jobs", body, &out)
		if err != nil {
			var se *statusError
			if errors.As(err, &se) && se.code < http.StatusInternalServerError {
				return "", backoff.Permanent(err)
			}
			if ctx.Err() != nil {
				return "", backoff.Permanent(err)
			}
			return "", err
		}
		if out.JobID == "" {
			return "", backoff.Permanent(errors.New("response has no job_id"))
		}
		return out.JobID, nil
	}

	handle, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(s.cfg.MaxTries),
	)
	if err != nil {
		de := &DispatchError{SubjectID: p.SubjectID, ModelLabel: p.Model.Label, Err: err}
		var se *statusError
		if errors.As(err, &se) {
			de.StatusCode = se.code
		}
		return "", de
	}
	return handle, nil
}

// GetStatus implements StatusService.
func (s *HTTPService) GetStatus(ctx context.Context, handle string) (model.RemoteStatus, error) {
	var out model.RemoteStatus
	if err := s.do(ctx, http.MethodGet, "/api/jobs/"+url.PathEscape(handle), nil, &out); err != nil {
		return model.RemoteStatus{}, fmt.Errorf("get status %s: %w", handle, err)
	}
	return out, nil
}

// GetStatusBatch implements BatchStatusService.
func (s *HTTPService) GetStatusBatch(ctx context.Context, handles []string) (map[string]model.RemoteStatus, error) {
	body, err := json.Marshal(handlesRequest{JobIDs: handles})
	if err != nil {
		return nil, err
	}
	var out batchStatusResponse
	if err := s.do(ctx, http.MethodPost, "/api/jobs/status", body, &out); err != nil {
		return nil, fmt.Errorf("get status batch: %w", err)
	}
	if out.Statuses == nil {
		out.Statuses = make(map[string]model.RemoteStatus)
	}
	return out.Statuses, nil
}

// Stop implements Stopper.
func (s *HTTPService) Stop(ctx context.Context, handles []string) error {
	if len(handles) == 0 {
		return nil
	}
	body, err := json.Marshal(handlesRequest{JobIDs: handles})
	if err != nil {
		return err
	}
	if err := s.do(ctx, http.MethodPost, "/api/jobs/stop", body, nil); err != nil {
		return fmt.Errorf("stop %d jobs: %w", len(handles), err)
	}
	return nil
}

// do sends one rate-limited request and decodes a JSON response into out
// when out is non-nil.
func (s *HTTPService) do(ctx context.Context, method, path string, body []byte, out any) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}

	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.cfg.BaseURL+path, r)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &statusError{code: resp.StatusCode, body: strings.TrimSpace(string(msg))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
