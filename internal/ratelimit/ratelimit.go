package ratelimit

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// visitorTTL is how long an idle visitor keeps its limiter
const visitorTTL = time.Hour

// RateLimiter keeps one token bucket per client
type RateLimiter struct {
	visitors map[string]*Visitor
	mu       sync.Mutex
	rps      int
	burst    int
	now      func() time.Time
	logger   zerolog.Logger
}

// Visitor represents a visitor with rate limiting info
type Visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a limiter allowing rps requests per second per
// client, with the given burst
func NewRateLimiter(rps, burst int, logger zerolog.Logger) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		visitors: make(map[string]*Visitor),
		rps:      rps,
		burst:    burst,
		now:      time.Now,
		logger:   logger,
	}
}

// Allow reports whether the client identified by key may make a request
// now, and how many requests it has left
func (rl *RateLimiter) Allow(key string) (bool, int) {
	limiter := rl.getLimiter(key)
	ok := limiter.AllowN(rl.now(), 1)
	return ok, int(limiter.Tokens())
}

// Middleware rejects clients over their rate with 429
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if rl.check(c) {
			c.Next()
		}
	}
}

// check applies the limit to c and aborts it when the client is over its rate
func (rl *RateLimiter) check(c *gin.Context) bool {
	key := c.ClientIP()

	// Check for API key in header
	if apiKey := c.GetHeader("X-API-Key"); apiKey != "" {
		key = "api_key:" + apiKey
	}

	ok, remaining := rl.Allow(key)
	if !ok {
		rl.logger.Warn().Str("client", key).Msg("Rate limit exceeded")
		c.Header("Retry-After", "1")
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error":       "Rate limit exceeded",
			"retry_after": "1s",
		})
		return false
	}
	if remaining < 0 {
		remaining = 0
	}

	c.Header("X-RateLimit-Limit", strconv.Itoa(rl.rps))
	c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
	return true
}

// getLimiter gets or creates a limiter for a visitor
func (rl *RateLimiter) getLimiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	v, exists := rl.visitors[key]
	if !exists {
		limiter := rate.NewLimiter(rate.Limit(rl.rps), rl.burst)
		rl.visitors[key] = &Visitor{
			limiter:  limiter,
			lastSeen: rl.now(),
		}
		return limiter
	}

	v.lastSeen = rl.now()
	return v.limiter
}

// Cleanup removes visitors idle for longer than the visitor TTL and returns
// how many were removed
func (rl *RateLimiter) Cleanup() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	removed := 0
	for key, v := range rl.visitors {
		if rl.now().Sub(v.lastSeen) > visitorTTL {
			delete(rl.visitors, key)
			removed++
		}
	}
	return removed
}

// Throttler caps the number of requests served at once
type Throttler struct {
	requests chan struct{}
	logger   zerolog.Logger
}

// NewThrottler creates a new throttler
func NewThrottler(maxConcurrent int, logger zerolog.Logger) *Throttler {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Throttler{
		requests: make(chan struct{}, maxConcurrent),
		logger:   logger,
	}
}

// Acquire takes a slot and reports whether one was free
func (t *Throttler) Acquire() bool {
	select {
	case t.requests <- struct{}{}:
		return true
	default:
		return false
	}
}

// Release frees a slot taken by Acquire
func (t *Throttler) Release() {
	<-t.requests
}

// Middleware rejects requests with 503 while every slot is busy
func (t *Throttler) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !t.acquire(c) {
			return
		}
		defer t.Release()
		c.Next()
	}
}

// acquire takes a slot or aborts c with 503
func (t *Throttler) acquire(c *gin.Context) bool {
	if t.Acquire() {
		return true
	}
	t.logger.Warn().Msg("Server overloaded")
	c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
		"error": "Server overloaded, please try again later",
	})
	return false
}

// IPWhitelist represents a whitelist of IPs that bypass rate limiting
type IPWhitelist struct {
	ips map[string]bool
	mu  sync.RWMutex
}

// NewIPWhitelist creates a whitelist holding ips
func NewIPWhitelist(ips ...string) *IPWhitelist {
	w := &IPWhitelist{ips: make(map[string]bool, len(ips))}
	for _, ip := range ips {
		w.ips[ip] = true
	}
	return w
}

// Add adds an IP to the whitelist
func (w *IPWhitelist) Add(ip string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.ips[ip] = true
}

// Remove removes an IP from the whitelist
func (w *IPWhitelist) Remove(ip string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.ips, ip)
}

// Contains checks if an IP is in the whitelist
func (w *IPWhitelist) Contains(ip string) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.ips[ip]
}

// Config represents rate limiting configuration
type Config struct {
	Enabled           bool
	RequestsPerSecond int
	Burst             int
	MaxConcurrent     int
	WhitelistedIPs    []string
}

// Manager combines the per-client limiter, the concurrency cap and the
// whitelist into one middleware
type Manager struct {
	rateLimiter *RateLimiter
	throttler   *Throttler
	whitelist   *IPWhitelist
	config      Config
	logger      zerolog.Logger
	stopChan    chan struct{}
	stopOnce    sync.Once
}

// NewManager creates a new rate limiting manager
func NewManager(config Config, logger zerolog.Logger) *Manager {
	m := &Manager{
		config:    config,
		whitelist: NewIPWhitelist(config.WhitelistedIPs...),
		logger:    logger,
		stopChan:  make(chan struct{}),
	}

	if config.Enabled {
		m.rateLimiter = NewRateLimiter(config.RequestsPerSecond, config.Burst, logger)
		m.throttler = NewThrottler(config.MaxConcurrent, logger)
		go m.cleanupLoop()
	}

	return m
}

// cleanupLoop drops idle visitors until Stop is called
func (m *Manager) cleanupLoop() {
	ticker := time.NewTicker(visitorTTL)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := m.rateLimiter.Cleanup(); n > 0 {
				m.logger.Debug().Int("visitors", n).Msg("Removed idle visitors")
			}
		case <-m.stopChan:
			return
		}
	}
}

// Stop ends the background cleanup
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stopChan) })
}

// Middleware returns the appropriate middleware based on configuration
func (m *Manager) Middleware() gin.HandlerFunc {
	if !m.config.Enabled {
		return func(c *gin.Context) { c.Next() }
	}

	return func(c *gin.Context) {
		// Check whitelist first
		if m.whitelist.Contains(c.ClientIP()) {
			c.Next()
			return
		}

		if !m.rateLimiter.check(c) {
			return
		}
		if !m.throttler.acquire(c) {
			return
		}
		defer m.throttler.Release()
		c.Next()
	}
}
