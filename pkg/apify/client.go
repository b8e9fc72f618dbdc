package apify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	errs "socialdash/pkg/errors"
	"socialdash/pkg/logger"
	"socialdash/pkg/models"
	"socialdash/pkg/retry"
)

const (
	// DefaultBaseURL is the Apify API origin
	DefaultBaseURL = "https://api.apify.com"

	// DefaultActorID is the Instagram profile scraper actor
	DefaultActorID = "apify~instagram-scraper"

	// DefaultResultsLimit caps the number of posts scraped per profile
	DefaultResultsLimit = 100

	// DefaultTimeout is the per-request HTTP timeout
	DefaultTimeout = 30 * time.Second

	// DefaultRateLimit is the request pacing in requests per second
	DefaultRateLimit = 5
)

// TokenSource resolves the Apify API token at call time
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a TokenSource for a fixed token. An empty value means unconfigured.
type StaticToken string

// Token returns the static token or a configuration error when empty
func (t StaticToken) Token(ctx context.Context) (string, error) {
	if strings.TrimSpace(string(t)) == "" {
		return "", errs.Configuration("Apify API token is not configured")
	}
	return string(t), nil
}

// RunOptions tunes a single scrape run
type RunOptions struct {
	ResultsLimit int
}

// Client talks to the Apify REST API
type Client struct {
	baseURL    string
	actorID    string
	tokens     TokenSource
	httpClient *http.Client
	limiter    *rate.Limiter
	retry      *retry.Config
	logger     logger.Logger
}

// ClientOption configures the Client
type ClientOption func(*Client)

// WithBaseURL sets a custom API origin
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithActor overrides the scraper actor
func WithActor(actorID string) ClientOption {
	return func(c *Client) {
		if actorID != "" {
			c.actorID = actorID
		}
	}
}

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithLogger sets a logger
func WithLogger(log logger.Logger) ClientOption {
	return func(c *Client) {
		c.logger = log
	}
}

// WithRateLimit sets the request pacing
func WithRateLimit(requestsPerSecond float64) ClientOption {
	return func(c *Client) {
		burst := int(requestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), burst)
	}
}

// WithRetry sets the retry policy for transient failures
func WithRetry(cfg *retry.Config) ClientOption {
	return func(c *Client) {
		c.retry = cfg
	}
}

// NewClient creates a new Apify API client
func NewClient(tokens TokenSource, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		actorID: DefaultActorID,
		tokens:  tokens,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		limiter: rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateLimit),
		retry:   retry.DefaultConfig(),
		logger:  logger.GetLogger(),
	}

	for _, opt := range opts {
		opt(c)
	}
	if c.tokens == nil {
		c.tokens = StaticToken("")
	}
	if c.retry != nil && c.retry.Logger == nil {
		c.retry.Logger = c.logger
	}
	return c
}

// ProfileURL is the public Instagram URL handed to the scraper
func ProfileURL(username string) string {
	return "https://www.instagram.com/" + username
}

// StartRun launches a scrape of one profile and returns the run id
func (c *Client) StartRun(ctx context.Context, username string, opts RunOptions) (string, error) {
	username = strings.TrimPrefix(strings.TrimSpace(username), "@")
	if username == "" {
		return "", errs.New(errs.ErrorTypeConfiguration, 0, "profile username is required")
	}

	limit := opts.ResultsLimit
	if limit <= 0 {
		limit = DefaultResultsLimit
	}

	input := map[string]interface{}{
		"directUrls":   []string{ProfileURL(username)},
		"resultsType":  "details",
		"resultsLimit": limit,
	}

	var resp struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	path := fmt.Sprintf("/v2/acts/%s/runs", url.PathEscape(c.actorID))
	if err := c.doJSON(ctx, http.MethodPost, path, input, &resp); err != nil {
		return "", err
	}
	if resp.Data.ID == "" {
		return "", errs.New(errs.ErrorTypeParsing, 0, "run started but no run id was returned")
	}

	c.logger.InfoWithFields("scrape run started", map[string]interface{}{
		"username": username,
		"run_id":   resp.Data.ID,
		"limit":    limit,
	})
	return resp.Data.ID, nil
}

// runPayload accepts both the enveloped and the bare run object
type runPayload struct {
	Status           string     `json:"status"`
	DefaultDatasetID string     `json:"defaultDatasetId"`
	FinishedAt       *time.Time `json:"finishedAt"`
}

// CheckStatus reports the normalized state of a run
func (c *Client) CheckStatus(ctx context.Context, runID string) (models.RunStatus, error) {
	if runID == "" {
		return models.RunStatus{}, errs.New(errs.ErrorTypeConfiguration, 0, "run id is required")
	}

	var resp struct {
		runPayload
		Data *runPayload `json:"data"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/v2/actor-runs/"+url.PathEscape(runID), nil, &resp); err != nil {
		return models.RunStatus{}, err
	}

	run := resp.runPayload
	if resp.Data != nil {
		run = *resp.Data
	}

	return models.RunStatus{
		Status:     NormalizeStatus(run.Status),
		RawStatus:  run.Status,
		DatasetID:  run.DefaultDatasetID,
		FinishedAt: run.FinishedAt,
	}, nil
}

// DatasetItems returns the raw records of a dataset
func (c *Client) DatasetItems(ctx context.Context, datasetID string) ([]json.RawMessage, error) {
	if datasetID == "" {
		return nil, errs.New(errs.ErrorTypeConfiguration, 0, "dataset id is required")
	}

	var items []json.RawMessage
	path := "/v2/datasets/" + url.PathEscape(datasetID) + "/items?clean=true&format=json"
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// doJSON sends one request with pacing and retries and decodes a JSON body
func (c *Client) doJSON(ctx context.Context, method, path string, body, target interface{}) error {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return err
	}

	var payload []byte
	if body != nil {
		payload, err = json.Marshal(body)
		if err != nil {
			return errs.Wrap(err, errs.ErrorTypeParsing, "failed to encode request body")
		}
	}

	data, err := retry.DoWithResult(ctx, func(ctx context.Context) ([]byte, error) {
		return c.send(ctx, method, path, token, payload)
	}, c.retry)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(data, target); err != nil {
		preview := string(data)
		if len(preview) > 200 {
			preview = preview[:200] + "..."
		}
		c.logger.ErrorWithFields("failed to parse JSON response", map[string]interface{}{
			"path":         path,
			"error":        err.Error(),
			"body_preview": preview,
		})
		return errs.Wrap(err, errs.ErrorTypeParsing, "failed to parse JSON: %v", err)
	}
	return nil
}

func (c *Client) send(ctx context.Context, method, path, token string, payload []byte) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, errs.Wrap(err, errs.ErrorTypeUnknown, "failed to create request")
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errs.Wrap(err, errs.ErrorTypeNetwork, "network error: %v", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.Wrap(err, errs.ErrorTypeNetwork, "failed to read response body")
	}

	c.logger.DebugWithFields("apify request completed", map[string]interface{}{
		"method":   method,
		"path":     path,
		"status":   resp.StatusCode,
		"duration": time.Since(start),
	})

	if err := checkResponseStatus(resp.StatusCode, data); err != nil {
		if resp.StatusCode == http.StatusTooManyRequests {
			err.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
		}
		return nil, err
	}
	return data, nil
}

// checkResponseStatus maps a non-2xx response to a typed error
func checkResponseStatus(status int, body []byte) *errs.Error {
	if status >= 200 && status < 300 {
		return nil
	}

	msg := apiErrorMessage(body)
	if msg == "" {
		msg = http.StatusText(status)
	}
	return errs.New(errs.FromStatusCode(status), status, "apify: %s", msg)
}

// parseRetryAfter reads a Retry-After header given in seconds
func parseRetryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// apiErrorMessage extracts {"error":{"message":...}} when present
func apiErrorMessage(body []byte) string {
	var envelope struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &envelope) == nil && envelope.Error.Message != "" {
		return envelope.Error.Message
	}
	return ""
}
