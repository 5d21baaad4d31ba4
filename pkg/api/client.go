package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"chatsync/internal/constants"
	apperrors "chatsync/internal/errors"
	"chatsync/internal/metrics"
	"chatsync/internal/models"
	"chatsync/internal/retry"
	"chatsync/internal/tracing"
	"chatsync/pkg/circuitbreaker"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	endpointConversations = "/chat/conversations"
	endpointMatches       = "/matches/my-matches"
	endpointMessages      = "/chat/messages/"

	maxErrorBodyBytes = 512
)

// Client is the subset of the chat service REST API the sync engine reads
type Client interface {
	GetConversations(ctx context.Context) ([]*models.Conversation, error)
	GetMatches(ctx context.Context) ([]*models.Match, error)
	GetMessages(ctx context.Context, otherUserID string, since int64, limit int) ([]*models.Message, error)
}

// HTTPClient talks to the chat service with a bearer token. Requests are
// rate limited, retried on retryable failures and guarded by a circuit breaker.
type HTTPClient struct {
	baseURL   string
	authToken string
	client    *http.Client
	limiter   *rate.Limiter
	breaker   *circuitbreaker.CircuitBreaker
	backoff   *retry.Backoff
	metrics   *metrics.Registry
	logger    *logrus.Logger
}

// Options carries the optional collaborators of an HTTPClient
type Options struct {
	HTTPClient *http.Client
	Retry      retry.BackoffConfig
	Metrics    *metrics.Registry
	Logger     *logrus.Logger
}

// NewClient creates a REST client from the API config
func NewClient(cfg models.APIConfig, opts Options) *HTTPClient {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.WarnLevel)
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := cfg.TimeoutSec
		if timeout <= 0 {
			timeout = constants.DefaultAPITimeoutSec
		}
		httpClient = &http.Client{Timeout: time.Duration(timeout) * time.Second}
	}

	perSec := cfg.RateLimitPerSec
	if perSec <= 0 {
		perSec = constants.DefaultAPIRateLimitPerSec
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = constants.DefaultAPIRateBurst
	}

	maxFailures := cfg.BreakerMaxFailures
	if maxFailures <= 0 {
		maxFailures = constants.DefaultBreakerMaxFailures
	}
	resetTimeout := cfg.BreakerResetTimeout
	if resetTimeout <= 0 {
		resetTimeout = constants.DefaultBreakerResetTimeoutS
	}

	backoffCfg := opts.Retry
	if backoffCfg.MaxAttempts == 0 {
		backoffCfg = retry.DefaultBackoffConfig()
	}

	return &HTTPClient{
		baseURL:   strings.TrimSuffix(cfg.BaseURL, "/"),
		authToken: cfg.AuthToken,
		client:    httpClient,
		limiter:   rate.NewLimiter(rate.Limit(perSec), burst),
		breaker: circuitbreaker.New("chat-api", uint32(maxFailures), time.Duration(resetTimeout)*time.Second, logger,
			circuitbreaker.WithFailurePredicate(apperrors.IsRetryable)),
		backoff: retry.NewBackoff(backoffCfg),
		metrics: opts.Metrics,
		logger:  logger,
	}
}

// BreakerStats exposes the circuit breaker counters for /health
func (c *HTTPClient) BreakerStats() circuitbreaker.Stats {
	stats := c.breaker.GetStats()
	stats.State = c.breaker.GetState()
	return stats
}

// GetConversations fetches the conversation list. Documents without an
// other user id are dropped.
func (c *HTTPClient) GetConversations(ctx context.Context) ([]*models.Conversation, error) {
	var raw []json.RawMessage
	if err := c.getJSON(ctx, endpointConversations, nil, &raw); err != nil {
		return nil, err
	}

	convs := make([]*models.Conversation, 0, len(raw))
	dropped := 0
	for _, doc := range raw {
		var conv models.Conversation
		if err := json.Unmarshal(doc, &conv); err != nil || conv.ConversationID == "" || !conv.HasOtherUser() {
			dropped++
			continue
		}
		convs = append(convs, &conv)
	}
	c.logDropped(endpointConversations, dropped)
	return convs, nil
}

// GetMatches fetches my matches. Matches without a user id are dropped.
func (c *HTTPClient) GetMatches(ctx context.Context) ([]*models.Match, error) {
	var raw []json.RawMessage
	if err := c.getJSON(ctx, endpointMatches, nil, &raw); err != nil {
		return nil, err
	}

	matches := make([]*models.Match, 0, len(raw))
	dropped := 0
	for _, doc := range raw {
		var match models.Match
		if err := json.Unmarshal(doc, &match); err != nil || !match.Valid() {
			dropped++
			continue
		}
		matches = append(matches, &match)
	}
	c.logDropped(endpointMatches, dropped)
	return matches, nil
}

// GetMessages fetches the history shared with otherUserID. A zero since
// asks for the newest page; otherwise rows at or after since are returned.
func (c *HTTPClient) GetMessages(ctx context.Context, otherUserID string, since int64, limit int) ([]*models.Message, error) {
	if otherUserID == "" {
		return nil, apperrors.NewMalformedInputError("other_user_id", "other user id is required")
	}
	if limit <= 0 {
		limit = constants.DefaultMessagePageSize
	}

	query := url.Values{}
	query.Set("limit", strconv.Itoa(limit))
	if since > 0 {
		query.Set("since", strconv.FormatInt(since, 10))
	}

	var raw []json.RawMessage
	endpoint := endpointMessages + url.PathEscape(otherUserID)
	if err := c.getJSON(ctx, endpoint, query, &raw); err != nil {
		return nil, err
	}

	msgs := make([]*models.Message, 0, len(raw))
	dropped := 0
	for _, doc := range raw {
		var msg models.Message
		if err := json.Unmarshal(doc, &msg); err != nil || msg.ID == "" || msg.ConversationID == "" || msg.CreatedAt <= 0 {
			dropped++
			continue
		}
		msgs = append(msgs, &msg)
	}
	c.logDropped(endpointMessages, dropped)
	return msgs, nil
}

func (c *HTTPClient) getJSON(ctx context.Context, endpoint string, query url.Values, out interface{}) error {
	ctx, span := tracing.StartSpan(ctx, "api.get", tracing.AttrEndpoint.String(endpoint))
	var err error
	defer func() { tracing.EndSpan(span, err) }()

	start := time.Now()
	err = c.backoff.Retry(ctx, func() error {
		return c.breaker.Execute(ctx, func(ctx context.Context) error {
			return c.doGet(ctx, endpoint, query, out)
		})
	})

	status := "ok"
	if err != nil {
		status = "error"
	}
	c.metrics.IncrementCounter(metrics.APIRequests, map[string]string{"endpoint": metricEndpoint(endpoint), "status": status}, "Chat API requests")
	c.metrics.Time(metrics.APIRequestDuration, start, map[string]string{"endpoint": metricEndpoint(endpoint)})

	switch {
	case err == nil:
		return nil
	case circuitbreaker.IsCircuitBreakerError(err):
		appErr := apperrors.NewRemoteFetchError(endpoint, 0, err)
		appErr.Retryable = false
		err = appErr
	case ctx.Err() != nil:
		err = apperrors.FromCtxErr(err, "fetch "+endpoint)
	case apperrors.GetCode(err) == apperrors.ErrCodeInternalError:
		appErr := apperrors.NewRemoteFetchError(endpoint, 0, err)
		appErr.Retryable = false
		err = appErr
	}
	return err
}

func (c *HTTPClient) doGet(ctx context.Context, endpoint string, query url.Values, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	target := c.baseURL + endpoint
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return apperrors.NewRemoteFetchError(endpoint, 0, fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
	if requestID := tracing.GetRequestID(ctx); requestID != "" {
		req.Header.Set("X-Request-ID", requestID)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return apperrors.NewRemoteFetchError(endpoint, 0, fmt.Errorf("failed to send request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		apiErr := &APIError{StatusCode: resp.StatusCode, Endpoint: endpoint, Message: errorMessage(body)}
		c.logger.WithFields(logrus.Fields{
			"endpoint":    endpoint,
			"status_code": resp.StatusCode,
		}).Warn("Chat API returned error status")
		return apperrors.NewRemoteFetchError(endpoint, resp.StatusCode, apiErr)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperrors.NewRemoteFetchError(endpoint, resp.StatusCode, fmt.Errorf("failed to decode response: %w", err)).
			WithContext("decode", true)
	}
	return nil
}

func (c *HTTPClient) logDropped(endpoint string, dropped int) {
	if dropped == 0 {
		return
	}
	c.logger.WithFields(logrus.Fields{
		"endpoint": endpoint,
		"count":    dropped,
	}).Warn("Dropped malformed documents from chat API response")
}

// errorMessage pulls {"message": "..."} out of an error body
func errorMessage(body []byte) string {
	var payload struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Message != "" {
		return payload.Message
	}
	return strings.TrimSpace(string(body))
}

// metricEndpoint strips path parameters so labels stay low cardinality
func metricEndpoint(endpoint string) string {
	if strings.HasPrefix(endpoint, endpointMessages) {
		return endpointMessages + "{otherUserId}"
	}
	return endpoint
}
