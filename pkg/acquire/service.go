package acquire

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"socialdash/pkg/config"
	errs "socialdash/pkg/errors"
	"socialdash/pkg/logger"
	"socialdash/pkg/models"
	"socialdash/pkg/storage"
)

const (
	DefaultFetchTimeout  = 12 * time.Second
	DefaultUploadTimeout = 30 * time.Second
	DefaultProxyPrefix   = "/image-proxy"
	DefaultReferer       = "https://www.instagram.com/"
	DefaultMaxImageBytes = 50 * 1024 * 1024
	DefaultUserAgent     = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

const imageAccept = "image/avif,image/webp,image/apng,image/svg+xml,image/*,*/*;q=0.8"

// Service resolves remote image URLs to stored or proxied references
type Service struct {
	gateway    storage.Gateway
	delegate   Delegate
	httpClient *http.Client
	cfg        config.AcquisitionConfig
	now        func() time.Time
	logger     logger.Logger
}

// Option configures a Service
type Option func(*Service)

// WithDelegate enables the delegated-fetch strategy
func WithDelegate(d Delegate) Option {
	return func(s *Service) {
		s.delegate = d
	}
}

// WithHTTPClient sets the client used for direct fetches
func WithHTTPClient(c *http.Client) Option {
	return func(s *Service) {
		s.httpClient = c
	}
}

// WithLogger sets a logger
func WithLogger(log logger.Logger) Option {
	return func(s *Service) {
		s.logger = log
	}
}

// WithClock overrides the time source used for object keys
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// NewService creates an acquisition service. A nil gateway disables uploads.
func NewService(cfg config.AcquisitionConfig, gateway storage.Gateway, opts ...Option) *Service {
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = DefaultFetchTimeout
	}
	if cfg.UploadTimeout <= 0 {
		cfg.UploadTimeout = DefaultUploadTimeout
	}
	if cfg.ProxyPrefix == "" {
		cfg.ProxyPrefix = DefaultProxyPrefix
	}
	if cfg.Referer == "" {
		cfg.Referer = DefaultReferer
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.MaxImageBytes <= 0 {
		cfg.MaxImageBytes = DefaultMaxImageBytes
	}

	s := &Service{
		gateway:    gateway,
		httpClient: &http.Client{},
		cfg:        cfg,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logger.OrNop(s.logger).WithField("component", "acquire")
	return s
}

// Acquire returns a durable reference for sourceURL. It never fails: when
// every strategy is exhausted the proxy path is returned.
func (s *Service) Acquire(ctx context.Context, sourceURL, destinationHint string) models.AcquisitionResult {
	u, ok := absoluteHTTP(sourceURL)
	if !ok {
		return models.AcquisitionResult{FinalRef: sourceURL, Stored: false}
	}

	if s.gateway != nil && s.gateway.Owns(sourceURL) {
		logger.LogAcquisition(s.logger, sourceURL, "owned", sourceURL, true)
		return models.AcquisitionResult{FinalRef: sourceURL, Stored: true}
	}

	key := ObjectKey(destinationHint, sourceURL, s.now())
	log := s.logger.WithFields(map[string]interface{}{
		"source": sourceURL,
		"key":    key,
	})

	if s.gateway != nil {
		ref, err := s.fetchAndStore(ctx, sourceURL, key)
		if err == nil {
			logger.LogAcquisition(s.logger, sourceURL, "direct", ref, true)
			return models.AcquisitionResult{FinalRef: ref, Stored: true}
		}
		log.WithError(err).Warn("direct image fetch failed")
	}

	if s.delegate != nil {
		ref, err := s.delegate.Fetch(ctx, sourceURL, key)
		if err == nil && ref != "" {
			logger.LogAcquisition(s.logger, sourceURL, "delegated", ref, true)
			return models.AcquisitionResult{FinalRef: ref, Stored: true}
		}
		if err != nil {
			log.WithError(err).Warn("delegated image fetch failed")
		}
	}

	ref := s.ProxyRef(u)
	logger.LogAcquisition(s.logger, sourceURL, "proxy", ref, false)
	return models.AcquisitionResult{FinalRef: ref, Stored: false}
}

// ProxyRef is the same-origin proxy path serving u
func (s *Service) ProxyRef(u *url.URL) string {
	ref := strings.TrimRight(s.cfg.ProxyPrefix, "/") + u.EscapedPath()
	if u.RawQuery != "" {
		ref += "?" + u.RawQuery
	}
	return ref
}

// fetchAndStore downloads sourceURL within the fetch timeout, then uploads it
// within its own upload deadline
func (s *Service) fetchAndStore(ctx context.Context, sourceURL, key string) (string, error) {
	data, contentType, err := s.fetch(ctx, sourceURL)
	if err != nil {
		return "", err
	}

	uploadCtx, cancel := context.WithTimeout(ctx, s.cfg.UploadTimeout)
	defer cancel()
	return s.gateway.Upload(uploadCtx, key, data, contentType)
}

func (s *Service) fetch(ctx context.Context, sourceURL string) ([]byte, string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.FetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return nil, "", errs.Wrap(err, errs.ErrorTypeUnknown, "failed to create request")
	}
	req.Header.Set("User-Agent", s.cfg.UserAgent)
	req.Header.Set("Referer", s.cfg.Referer)
	req.Header.Set("Accept", imageAccept)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, "", errs.Wrap(err, errs.ErrorTypeNetwork, "image request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", errs.New(errs.FromStatusCode(resp.StatusCode), resp.StatusCode, "image request returned %s", resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, s.cfg.MaxImageBytes+1))
	if err != nil {
		return nil, "", errs.Wrap(err, errs.ErrorTypeNetwork, "failed to read image body")
	}
	if int64(len(data)) > s.cfg.MaxImageBytes {
		return nil, "", fmt.Errorf("image exceeds %d bytes", s.cfg.MaxImageBytes)
	}
	if len(data) == 0 {
		return nil, "", errs.New(errs.ErrorTypeUpstream, resp.StatusCode, "image body is empty")
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" || !strings.HasPrefix(contentType, "image/") {
		contentType = "image/jpeg"
	}

	return data, contentType, nil
}

func absoluteHTTP(raw string) (*url.URL, bool) {
	if raw == "" {
		return nil, false
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return nil, false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, false
	}
	return u, true
}
