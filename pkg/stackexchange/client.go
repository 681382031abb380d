// Package stackexchange provides the StackExchange API HTTP client with
// request pacing, quota tracking and error classification.
package stackexchange

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

	"github.com/Sternrassler/se-harvest/pkg/ratelimit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for API client operations.
var (
	seRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "se_requests_total",
		Help: "Total StackExchange requests by endpoint and status",
	}, []string{"endpoint", "status"})

	seRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "se_request_duration_seconds",
		Help:    "StackExchange request duration in seconds by endpoint",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"endpoint"})

	seErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "se_errors_total",
		Help: "Total StackExchange errors by class",
	}, []string{"class"})
)

// API limits.
const (
	// MaxPageSize is the largest page size the API accepts.
	MaxPageSize = 100

	// MaxBatchSize is the largest number of ids a vectorized request accepts.
	MaxBatchSize = 100
)

// Defaults for Config.
const (
	DefaultBaseURL = "https://api.stackexchange.com/2.3"
	DefaultFilter  = "withbody"
	DefaultTimeout = 10 * time.Second
)

// Endpoint labels used for metrics and logs.
const (
	EndpointSearch  = "search"
	EndpointAnswers = "answers"
)

// Config holds the client configuration.
type Config struct {
	// BaseURL of the API version root, without trailing slash.
	BaseURL string

	// APIKey is the registered application key. It raises the daily quota
	// but does not authenticate a user.
	APIKey string

	// Filter selects the returned fields; it must include post bodies.
	Filter string

	// PageSize for every paged request (1..MaxPageSize).
	PageSize int

	// Timeout per HTTP request.
	Timeout time.Duration

	// UserAgent header sent with every request.
	UserAgent string
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(apiKey string) Config {
	return Config{
		BaseURL:   DefaultBaseURL,
		APIKey:    apiKey,
		Filter:    DefaultFilter,
		PageSize:  MaxPageSize,
		Timeout:   DefaultTimeout,
		UserAgent: "se-harvest/0.1.0",
	}
}

// Client is the StackExchange API client. It issues one request at a time;
// every request goes through the pacing policy first and feeds the quota
// tracker afterwards.
type Client struct {
	httpClient *http.Client
	policy     *ratelimit.Policy
	quota      *ratelimit.Tracker
	config     Config
	logger     zerolog.Logger
}

// New creates a new API client. policy and quota may be nil, in which case
// defaults with the given logger are used.
func New(cfg Config, policy *ratelimit.Policy, quota *ratelimit.Tracker, logger zerolog.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if cfg.PageSize < 1 || cfg.PageSize > MaxPageSize {
		return nil, fmt.Errorf("page_size must be between 1 and %d (got %d)", MaxPageSize, cfg.PageSize)
	}
	if cfg.Filter == "" {
		cfg.Filter = DefaultFilter
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	logger = logger.With().Str("component", "se-client").Logger()
	if policy == nil {
		policy = ratelimit.NewPolicy(ratelimit.DefaultPolicyConfig(), nil, logger)
	}
	if quota == nil {
		quota = ratelimit.NewTracker(nil, logger)
	}

	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		policy:     policy,
		quota:      quota,
		config:     cfg,
		logger:     logger,
	}, nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// Quota returns the last quota state reported by the API.
func (c *Client) Quota() ratelimit.QuotaState {
	return c.quota.State()
}

// PageSize returns the configured page size.
func (c *Client) PageSize() int {
	return c.config.PageSize
}

// SearchParams selects questions from the search endpoint.
type SearchParams struct {
	Tag      string
	Site     string
	FromDate int64
	Page     int
}

// SearchQuestions fetches one page of questions tagged with Tag, created at or
// after FromDate, that have an accepted answer. Results are ordered by votes,
// highest first.
func (c *Client) SearchQuestions(ctx context.Context, p SearchParams) (*Page[Question], error) {
	if p.Tag == "" || p.Site == "" {
		return nil, fmt.Errorf("%w: tag and site are required", ErrInvalidArgument)
	}
	q := c.baseQuery(p.Site, p.Page)
	q.Set("tagged", p.Tag)
	q.Set("accepted", "True")
	if p.FromDate > 0 {
		q.Set("fromdate", strconv.FormatInt(p.FromDate, 10))
	}
	return getPage[Question](ctx, c, EndpointSearch, "/search/advanced", q)
}

// QuestionAnswers fetches one page of answers for up to MaxBatchSize questions.
func (c *Client) QuestionAnswers(ctx context.Context, site string, questionIDs []int64, page int) (*Page[Answer], error) {
	if site == "" || len(questionIDs) == 0 {
		return nil, fmt.Errorf("%w: site and at least one question id are required", ErrInvalidArgument)
	}
	if len(questionIDs) > MaxBatchSize {
		return nil, fmt.Errorf("%w: %d > %d", ErrTooManyIDs, len(questionIDs), MaxBatchSize)
	}
	ids := make([]string, len(questionIDs))
	for i, id := range questionIDs {
		ids[i] = strconv.FormatInt(id, 10)
	}
	path := "/questions/" + strings.Join(ids, ";") + "/answers"
	return getPage[Answer](ctx, c, EndpointAnswers, path, c.baseQuery(site, page))
}

func (c *Client) baseQuery(site string, page int) url.Values {
	if page < 1 {
		page = 1
	}
	q := url.Values{}
	q.Set("order", "desc")
	q.Set("sort", "votes")
	q.Set("site", site)
	q.Set("filter", c.config.Filter)
	q.Set("page", strconv.Itoa(page))
	q.Set("pagesize", strconv.Itoa(c.config.PageSize))
	if c.config.APIKey != "" {
		q.Set("key", c.config.APIKey)
	}
	return q
}

// getPage performs one paced GET and decodes the response wrapper.
func getPage[T any](ctx context.Context, c *Client, endpoint, path string, query url.Values) (*Page[T], error) {
	if err := c.policy.Wait(ctx); err != nil {
		return nil, &APIError{ErrorClass: ErrorClassNetwork, Message: "wait cancelled", Err: err}
	}

	body, status, err := c.do(ctx, endpoint, path, query)
	if err != nil {
		return nil, err
	}

	var wrapper Wrapper[T]
	decodeErr := json.Unmarshal(body, &wrapper)

	if decodeErr == nil {
		c.policy.Observe(wrapper.Backoff)
		if err := c.quota.Update(ctx, wrapper.QuotaRemaining, wrapper.QuotaMax); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to publish quota state")
		}
	}

	if status >= 400 {
		apiErr := &APIError{
			StatusCode: status,
			Message:    http.StatusText(status),
		}
		if decodeErr == nil && wrapper.ErrorMessage != "" {
			apiErr.ErrorID = wrapper.ErrorID
			apiErr.ErrorName = wrapper.ErrorName
			apiErr.Message = wrapper.ErrorMessage
		}
		apiErr.ErrorClass = classifyStatus(status, apiErr.ErrorID, apiErr.ErrorName)
		seErrorsTotal.WithLabelValues(string(apiErr.ErrorClass)).Inc()

		c.logger.Warn().
			Str("endpoint", endpoint).
			Int("status_code", status).
			Str("error_class", string(apiErr.ErrorClass)).
			Str("error_name", apiErr.ErrorName).
			Str("error_message", apiErr.Message).
			Msg("StackExchange request error")
		return nil, apiErr
	}

	if decodeErr != nil {
		seErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		return nil, &APIError{
			StatusCode: status,
			ErrorClass: ErrorClassNetwork,
			Message:    "decode response",
			Err:        decodeErr,
		}
	}

	return &Page[T]{
		Items:   wrapper.Items,
		HasMore: wrapper.HasMore,
		Quota:   wrapper.Quota(),
		Backoff: wrapper.Backoff,
	}, nil
}

// do executes the HTTP request and returns the raw body and status.
func (c *Client) do(ctx context.Context, endpoint, path string, query url.Values) ([]byte, int, error) {
	startTime := time.Now()
	defer func() {
		seRequestDuration.WithLabelValues(endpoint).Observe(time.Since(startTime).Seconds())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+path+"?"+query.Encode(), nil)
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("Accept", "application/json")

	c.logger.Debug().
		Str("endpoint", endpoint).
		Str("site", query.Get("site")).
		Str("page", query.Get("page")).
		Msg("Executing StackExchange request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error().Err(err).Str("endpoint", endpoint).Msg("HTTP request failed")
		seErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		seRequestsTotal.WithLabelValues(endpoint, "network_error").Inc()
		return nil, 0, &APIError{ErrorClass: ErrorClassNetwork, Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		seErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		seRequestsTotal.WithLabelValues(endpoint, "network_error").Inc()
		return nil, resp.StatusCode, &APIError{
			StatusCode: resp.StatusCode,
			ErrorClass: ErrorClassNetwork,
			Message:    "read response body",
			Err:        err,
		}
	}

	seRequestsTotal.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()
	return body, resp.StatusCode, nil
}
