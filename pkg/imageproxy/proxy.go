// Package imageproxy serves Instagram CDN images from the dashboard's own
// origin. A request for <prefix>/<path> is tried against each configured CDN
// host until one answers 2xx; bodies are cached in memory for the TTL.
package imageproxy

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"socialdash/pkg/config"
	"socialdash/pkg/logger"
	"socialdash/pkg/ratelimit"
)

const (
	DefaultPrefix          = "/image-proxy"
	DefaultCacheTTL        = time.Hour
	DefaultUpstreamTimeout = 15 * time.Second
	DefaultRateLimitMax    = 100
	DefaultRateLimitWindow = 15 * time.Minute
	DefaultMaxImageBytes   = 50 * 1024 * 1024

	userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

type entry struct {
	data        []byte
	contentType string
	storedAt    time.Time
}

// Proxy is an http.Handler for the image proxy routes
type Proxy struct {
	prefix   string
	hosts    []string
	scheme   string
	ttl      time.Duration
	timeout  time.Duration
	maxBytes int64
	trusted  []*net.IPNet
	client   *http.Client
	limiter  *ratelimit.Keyed
	janitor  *cron.Cron
	now      func() time.Time
	started  time.Time
	logger   logger.Logger
	mu       sync.RWMutex
	cache    map[string]entry
	stopOnce sync.Once
}

// Option configures a Proxy
type Option func(*Proxy)

// WithPrefix sets the path prefix the proxy is mounted under
func WithPrefix(prefix string) Option {
	return func(p *Proxy) {
		p.prefix = prefix
	}
}

// WithScheme sets the scheme used to reach the CDN hosts
func WithScheme(scheme string) Option {
	return func(p *Proxy) {
		p.scheme = scheme
	}
}

// WithHTTPClient sets the upstream client
func WithHTTPClient(c *http.Client) Option {
	return func(p *Proxy) {
		p.client = c
	}
}

// WithClock overrides the time source for cache expiry
func WithClock(now func() time.Time) Option {
	return func(p *Proxy) {
		p.now = now
	}
}

// WithLogger sets a logger
func WithLogger(log logger.Logger) Option {
	return func(p *Proxy) {
		p.logger = log
	}
}

// New creates a proxy. Zero values in cfg fall back to the defaults.
func New(cfg config.ProxyConfig, opts ...Option) *Proxy {
	if len(cfg.Hosts) == 0 {
		cfg.Hosts = config.DefaultCDNHosts
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}
	if cfg.UpstreamTimeout <= 0 {
		cfg.UpstreamTimeout = DefaultUpstreamTimeout
	}
	if cfg.RateLimitMax <= 0 {
		cfg.RateLimitMax = DefaultRateLimitMax
	}
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = DefaultRateLimitWindow
	}
	if cfg.MaxImageBytes <= 0 {
		cfg.MaxImageBytes = DefaultMaxImageBytes
	}

	p := &Proxy{
		prefix:  DefaultPrefix,
		hosts:   append([]string(nil), cfg.Hosts...),
		scheme:  "https",
		ttl:     cfg.CacheTTL,
		timeout:  cfg.UpstreamTimeout,
		maxBytes: cfg.MaxImageBytes,
		client:   &http.Client{},
		limiter: ratelimit.NewKeyed(cfg.RateLimitMax, cfg.RateLimitWindow),
		now:     time.Now,
		cache:   make(map[string]entry),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.limiter.SetClock(p.now)
	p.prefix = "/" + strings.Trim(p.prefix, "/")
	p.started = p.now()
	p.logger = logger.OrNop(p.logger).WithField("component", "imageproxy")
	p.trusted = parseTrusted(cfg.TrustedProxies, p.logger)
	return p
}

// parseTrusted accepts bare IPs and CIDR ranges; bad entries are logged and skipped
func parseTrusted(entries []string, log logger.Logger) []*net.IPNet {
	var nets []*net.IPNet
	for _, raw := range entries {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if !strings.Contains(raw, "/") {
			ip := net.ParseIP(raw)
			if ip == nil {
				log.WithField("entry", raw).Warn("Ignoring invalid trusted proxy")
				continue
			}
			bits := 8 * net.IPv6len
			if ip4 := ip.To4(); ip4 != nil {
				ip, bits = ip4, 8*net.IPv4len
			}
			nets = append(nets, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
			continue
		}
		_, n, err := net.ParseCIDR(raw)
		if err != nil {
			log.WithField("entry", raw).Warn("Ignoring invalid trusted proxy")
			continue
		}
		nets = append(nets, n)
	}
	return nets
}

// Prefix returns the mount path
func (p *Proxy) Prefix() string {
	return p.prefix
}

// Register mounts the proxy and its health endpoint on mux
func (p *Proxy) Register(mux *http.ServeMux, withHealth bool) {
	mux.Handle("GET "+p.prefix+"/", p)
	if withHealth {
		mux.HandleFunc("GET /health", p.Health)
	}
}

// Start runs the cache janitor every TTL/2
func (p *Proxy) Start() error {
	p.janitor = cron.New()
	schedule := fmt.Sprintf("@every %s", p.ttl/2)
	if _, err := p.janitor.AddFunc(schedule, func() { p.Prune() }); err != nil {
		return fmt.Errorf("failed to schedule cache janitor: %w", err)
	}
	p.janitor.Start()
	return nil
}

// Stop halts the janitor
func (p *Proxy) Stop() {
	p.stopOnce.Do(func() {
		if p.janitor != nil {
			<-p.janitor.Stop().Done()
		}
	})
}

// Prune drops expired cache entries and idle rate-limit windows
func (p *Proxy) Prune() int {
	now := p.now()
	p.mu.Lock()
	removed := 0
	for key, e := range p.cache {
		if now.Sub(e.storedAt) >= p.ttl {
			delete(p.cache, key)
			removed++
		}
	}
	p.mu.Unlock()

	p.limiter.Prune()
	if removed > 0 {
		p.logger.DebugWithFields("Pruned image cache", map[string]interface{}{"removed": removed})
	}
	return removed
}

// CacheSize returns the number of cached images
func (p *Proxy) CacheSize() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.cache)
}

// ServeHTTP answers GET <prefix>/<path>
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if ok, retryAfter := p.limiter.Allow(p.clientIP(r)); !ok {
		w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds())+1))
		writeJSON(w, http.StatusTooManyRequests, map[string]interface{}{
			"error":      "too many requests",
			"retryAfter": retryAfter.Round(time.Second).String(),
		})
		return
	}

	path := strings.TrimPrefix(r.URL.EscapedPath(), p.prefix)
	if path == "" || path == "/" {
		writeJSON(w, http.StatusNotFound, map[string]interface{}{"error": "image path is required"})
		return
	}
	key := path
	if r.URL.RawQuery != "" {
		key += "?" + r.URL.RawQuery
	}

	if e, ok := p.lookup(key); ok {
		writeImage(w, e, "HIT")
		return
	}

	e, err := p.fetch(r, key)
	if err != nil {
		p.logger.WithError(err).WithField("path", key).Warn("All CDN hosts failed")
		writeJSON(w, http.StatusNotFound, map[string]interface{}{
			"error":   "image not found",
			"path":    key,
			"message": err.Error(),
		})
		return
	}

	p.mu.Lock()
	p.cache[key] = e
	p.mu.Unlock()
	writeImage(w, e, "MISS")
}

func (p *Proxy) lookup(key string) (entry, bool) {
	p.mu.RLock()
	e, ok := p.cache[key]
	p.mu.RUnlock()
	if !ok || p.now().Sub(e.storedAt) >= p.ttl {
		return entry{}, false
	}
	return e, true
}

// fetch tries each host in order and returns the first 2xx body
func (p *Proxy) fetch(r *http.Request, key string) (entry, error) {
	var lastErr error
	for _, host := range p.hosts {
		data, contentType, err := p.fetchFrom(r, p.scheme+"://"+host+key)
		if err != nil {
			lastErr = err
			continue
		}
		return entry{data: data, contentType: contentType, storedAt: p.now()}, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no CDN hosts configured")
	}
	return entry{}, fmt.Errorf("all CDN hosts failed: %w", lastErr)
}

func (p *Proxy) fetchFrom(r *http.Request, target string) ([]byte, string, error) {
	ctx := r.Context()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "image/avif,image/webp,image/apng,image/svg+xml,image/*,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Referer", "https://www.instagram.com/")
	req.Header.Set("Sec-Fetch-Dest", "image")
	req.Header.Set("Sec-Fetch-Mode", "no-cors")
	req.Header.Set("Sec-Fetch-Site", "cross-site")

	client := *p.client
	client.Timeout = p.timeout
	resp, err := client.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", fmt.Errorf("%s: HTTP %d", target, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, p.maxBytes+1))
	if err != nil {
		return nil, "", err
	}
	if int64(len(data)) > p.maxBytes {
		return nil, "", fmt.Errorf("%s: image exceeds %d bytes", target, p.maxBytes)
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "image/jpeg"
	}
	return data, contentType, nil
}

// Health reports liveness and cache occupancy
func (p *Proxy) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"cacheSize": p.CacheSize(),
		"cacheTTL":  p.ttl.String(),
		"uptime":    p.now().Sub(p.started).Round(time.Second).String(),
	})
}

func writeImage(w http.ResponseWriter, e entry, cacheState string) {
	h := w.Header()
	h.Set("Content-Type", e.contentType)
	h.Set("Content-Length", strconv.Itoa(len(e.data)))
	h.Set("Cache-Control", "public, max-age=3600")
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("X-Cache", cacheState)
	w.WriteHeader(http.StatusOK)
	w.Write(e.data)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// clientIP keys rate limiting. X-Forwarded-For is only read when the socket
// peer is a trusted proxy; the client is then the rightmost untrusted hop.
func (p *Proxy) clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if !p.isTrusted(host) {
		return host
	}

	hops := strings.Split(r.Header.Get("X-Forwarded-For"), ",")
	for i := len(hops) - 1; i >= 0; i-- {
		hop := strings.TrimSpace(hops[i])
		if hop == "" {
			continue
		}
		if !p.isTrusted(hop) {
			return hop
		}
		host = hop
	}
	return host
}

func (p *Proxy) isTrusted(addr string) bool {
	ip := net.ParseIP(addr)
	if ip == nil {
		return false
	}
	for _, n := range p.trusted {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}
