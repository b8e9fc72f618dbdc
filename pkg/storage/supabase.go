package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	errs "socialdash/pkg/errors"
	"socialdash/pkg/logger"
	"socialdash/pkg/retry"
)

// DefaultFileSizeLimit is applied to buckets created by EnsureBucket
const DefaultFileSizeLimit = 50 * 1024 * 1024

// SupabaseConfig configures a SupabaseGateway
type SupabaseConfig struct {
	URL           string
	ServiceKey    string
	Bucket        string
	FileSizeLimit int64
	HTTPClient    *http.Client
	Retry         *retry.Config
	Logger        logger.Logger
}

// SupabaseGateway stores objects in a public Supabase storage bucket using
// the service-role key
type SupabaseGateway struct {
	baseURL       string
	serviceKey    string
	bucket        string
	fileSizeLimit int64
	httpClient    *http.Client
	retry         *retry.Config
	logger        logger.Logger
}

// NewSupabaseGateway creates a gateway. Missing URL or key surface as
// configuration errors on first use.
func NewSupabaseGateway(cfg SupabaseConfig) *SupabaseGateway {
	g := &SupabaseGateway{
		baseURL:       strings.TrimRight(cfg.URL, "/"),
		serviceKey:    cfg.ServiceKey,
		bucket:        cfg.Bucket,
		fileSizeLimit: cfg.FileSizeLimit,
		httpClient:    cfg.HTTPClient,
		retry:         cfg.Retry,
		logger:        logger.OrNop(cfg.Logger),
	}
	if g.fileSizeLimit <= 0 {
		g.fileSizeLimit = DefaultFileSizeLimit
	}
	if g.httpClient == nil {
		g.httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if g.retry == nil {
		g.retry = retry.DefaultConfig()
	}
	if g.retry.Logger == nil {
		g.retry.Logger = g.logger
	}
	return g
}

// Bucket returns the bucket name
func (g *SupabaseGateway) Bucket() string {
	return g.bucket
}

func (g *SupabaseGateway) configured() error {
	if g.baseURL == "" || g.serviceKey == "" {
		return errs.Configuration("Supabase URL and service key are required for storage")
	}
	if g.bucket == "" {
		return errs.Configuration("storage bucket name is required")
	}
	return nil
}

// EnsureBucket lists the bucket and creates it when the listing says it is
// missing. Any other listing failure reports false without creating anything.
func (g *SupabaseGateway) EnsureBucket(ctx context.Context) bool {
	log := g.logger.WithField("bucket", g.bucket)
	if err := g.configured(); err != nil {
		log.WithError(err).Warn("storage is not configured")
		return false
	}

	status, body, err := g.do(ctx, http.MethodPost, "/storage/v1/object/list/"+g.bucket, map[string]interface{}{
		"limit":  1,
		"prefix": "",
	}, nil)
	if err != nil {
		log.WithError(err).Warn("bucket check failed")
		return false
	}
	if status >= 200 && status < 300 {
		return true
	}
	if !bucketMissing(status, body) {
		log.WarnWithFields("bucket check rejected", map[string]interface{}{
			"status": status,
			"body":   truncate(body),
		})
		return false
	}

	log.Info("bucket missing, creating it")
	status, body, err = g.do(ctx, http.MethodPost, "/storage/v1/bucket", map[string]interface{}{
		"id":              g.bucket,
		"name":            g.bucket,
		"public":          true,
		"file_size_limit": g.fileSizeLimit,
	}, nil)
	if err != nil {
		log.WithError(err).Warn("bucket creation failed")
		return false
	}
	if status >= 200 && status < 300 || strings.Contains(strings.ToLower(string(body)), "already exists") {
		log.Info("bucket ready")
		return true
	}

	log.WarnWithFields("bucket creation rejected", map[string]interface{}{
		"status": status,
		"body":   truncate(body),
	})
	return false
}

// bucketMissing reports whether a failed bucket listing means the bucket does not
// exist. Storage answers a missing bucket with 404, or with 400 and a
// "not found" body; auth failures never count even when their text matches.
func bucketMissing(status int, body []byte) bool {
	switch status {
	case http.StatusNotFound:
		return true
	case http.StatusBadRequest:
		return strings.Contains(strings.ToLower(string(body)), "not found")
	default:
		return false
	}
}

// Upload stores data under key with upsert semantics
func (g *SupabaseGateway) Upload(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if err := g.configured(); err != nil {
		return "", err
	}
	key = strings.TrimLeft(key, "/")
	if key == "" {
		return "", errs.New(errs.ErrorTypeConfiguration, 0, "object key is required")
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	headers := map[string]string{
		"Content-Type":  contentType,
		"x-upsert":      "true",
		"Cache-Control": "3600",
	}
	err := retry.Do(ctx, func(ctx context.Context) error {
		status, body, err := g.do(ctx, http.MethodPost, "/storage/v1/object/"+g.bucket+"/"+key, data, headers)
		if err != nil {
			return err
		}
		if status < 200 || status >= 300 {
			return errs.New(errs.FromStatusCode(status), status, "upload of %s failed: %s", key, truncate(body))
		}
		return nil
	}, g.retry)
	if err != nil {
		return "", err
	}

	return g.PublicURL(key), nil
}

// PublicURL returns the public object URL
func (g *SupabaseGateway) PublicURL(key string) string {
	return g.publicPrefix() + strings.TrimLeft(key, "/")
}

// Owns reports whether ref points into this bucket
func (g *SupabaseGateway) Owns(ref string) bool {
	return g.baseURL != "" && strings.HasPrefix(ref, g.publicPrefix())
}

func (g *SupabaseGateway) publicPrefix() string {
	return fmt.Sprintf("%s/storage/v1/object/public/%s/", g.baseURL, g.bucket)
}

// do sends one request. A nil error means a response was received; its
// status is returned for the caller to interpret.
func (g *SupabaseGateway) do(ctx context.Context, method, path string, body interface{}, headers map[string]string) (int, []byte, error) {
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case []byte:
		reader = bytes.NewReader(b)
	default:
		payload, err := json.Marshal(b)
		if err != nil {
			return 0, nil, errs.Wrap(err, errs.ErrorTypeParsing, "failed to encode request body")
		}
		reader = bytes.NewReader(payload)
		if headers == nil {
			headers = map[string]string{"Content-Type": "application/json"}
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, reader)
	if err != nil {
		return 0, nil, errs.Wrap(err, errs.ErrorTypeUnknown, "failed to create request")
	}
	req.Header.Set("Authorization", "Bearer "+g.serviceKey)
	req.Header.Set("apikey", g.serviceKey)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return 0, nil, ctx.Err()
		}
		return 0, nil, errs.Wrap(err, errs.ErrorTypeNetwork, "storage request failed: %v", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, nil, errs.Wrap(err, errs.ErrorTypeNetwork, "failed to read storage response")
	}

	g.logger.DebugWithFields("storage request completed", map[string]interface{}{
		"method": method,
		"path":   path,
		"status": resp.StatusCode,
	})
	return resp.StatusCode, data, nil
}

func truncate(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		return s[:200] + "..."
	}
	return s
}
