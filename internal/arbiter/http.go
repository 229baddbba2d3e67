package arbiter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fyrsmithlabs/issueflow/internal/config"
	"github.com/fyrsmithlabs/issueflow/internal/issue"
	"github.com/fyrsmithlabs/issueflow/internal/logging"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

const (
	defaultTimeout     = 5 * time.Second
	defaultRateLimit   = 20.0
	defaultBurst       = 5
	defaultMaxRetries  = 2
	defaultBaseBackoff = 200 * time.Millisecond
	maxResponseBytes   = 1 << 20
)

// ErrDecisionService is wrapped by non-2xx answers from the decision service.
var ErrDecisionService = errors.New("decision service error")

// decideRequest is the body of POST {base}/decide.
type decideRequest struct {
	Data        *issue.Issue `json:"Data"`
	PossibleKIs []string     `json:"PossibleKIs"`
}

type decideResponse struct {
	Decision string `json:"decision"`
}

// finishRequest is the body of POST {base}/finish.
type finishRequest struct {
	Data *issue.Issue `json:"Data"`
}

// HTTP is a client for a remote decision service.
type HTTP struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	maxRetries int
	logger     *logging.Logger
}

// NewHTTP creates a decision service client from cfg.
func NewHTTP(cfg config.HTTPArbiterConfig, logger *logging.Logger) (*HTTP, error) {
	if cfg.URL == "" {
		return nil, errors.New("decision service url required")
	}
	timeout := cfg.Timeout.Duration()
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	limit := cfg.RateLimit
	if limit <= 0 {
		limit = defaultRateLimit
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = defaultBurst
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	logger.Debug(context.Background(), "decision service configured",
		zap.String("url", cfg.URL),
		logging.Secret("token", cfg.Token),
	)

	// The bearer token rides on an oauth2 transport.
	client := &http.Client{}
	if cfg.Token.IsSet() {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token.Value()})
		client = oauth2.NewClient(context.Background(), ts)
	}
	client.Timeout = timeout

	return &HTTP{
		baseURL:    strings.TrimRight(cfg.URL, "/"),
		httpClient: client,
		limiter:    rate.NewLimiter(rate.Limit(limit), burst),
		maxRetries: defaultMaxRetries,
		logger:     logger,
	}, nil
}

// Decide implements orchestrator.Arbiter.
func (h *HTTP) Decide(ctx context.Context, is *issue.Issue, labels []string) (string, error) {
	if len(labels) == 0 {
		return "", ErrNoLabels
	}
	var resp decideResponse
	if err := h.post(ctx, "/decide", decideRequest{Data: is, PossibleKIs: labels}, &resp); err != nil {
		return "", err
	}
	return resp.Decision, nil
}

// Finish implements orchestrator.Arbiter.
func (h *HTTP) Finish(ctx context.Context, is *issue.Issue) error {
	return h.post(ctx, "/finish", finishRequest{Data: is}, nil)
}

// post sends body as JSON, retrying transport failures and 5xx answers with
// exponential backoff. Every attempt takes a limiter token. A nil out
// discards the response body.
func (h *HTTP) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", path, err)
	}

	var lastErr error
	for attempt := 0; attempt <= h.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := defaultBaseBackoff * time.Duration(1<<(attempt-1))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err := h.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}

		retry, err := h.do(ctx, path, payload, out)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retry {
			return err
		}
		h.logger.Warn(ctx, "decision service call failed, retrying",
			zap.String("path", path),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
	}
	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (h *HTTP) do(ctx context.Context, path string, payload []byte, out any) (retry bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return false, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return ctx.Err() == nil, fmt.Errorf("%s request: %w", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return true, fmt.Errorf("read %s response: %w", path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode >= 500, fmt.Errorf("%w: %s returned %d: %s",
			ErrDecisionService, path, resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if out == nil {
		return false, nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("decode %s response: %w", path, err)
	}
	return false, nil
}
