package main

import (
	"fmt"
	"math"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/time/rate"

	"github.com/dreamware/pjas/internal/config"
)

const limiterIdleTTL = time.Minute

// limiterPool hands out one token bucket per client IP. Buckets expire after
// a minute so idle clients don't accumulate.
type limiterPool struct {
	cache    *ttlcache.Cache[string, *rate.Limiter]
	logger   *log.Logger
	category string
	cfg      config.RateLimiterConfig
	trusted  map[string]struct{}
}

func newLimiterPool(category string, cfg config.RateLimiterConfig, trustedProxies []string, logger *log.Logger) *limiterPool {
	cache := ttlcache.New[string, *rate.Limiter](
		ttlcache.WithTTL[string, *rate.Limiter](limiterIdleTTL),
		ttlcache.WithDisableTouchOnHit[string, *rate.Limiter](),
	)
	go cache.Start()
	trusted := make(map[string]struct{}, len(trustedProxies))
	for _, ip := range trustedProxies {
		trusted[strings.TrimSpace(ip)] = struct{}{}
	}
	return &limiterPool{cache: cache, logger: logger, category: category, cfg: cfg, trusted: trusted}
}

func (p *limiterPool) stop() {
	p.cache.Stop()
}

func (p *limiterPool) limiter(ip string) *rate.Limiter {
	item := p.cache.Get(ip)
	if item == nil {
		item = p.cache.Set(ip, rate.NewLimiter(rate.Limit(p.cfg.Limit), p.cfg.Burst), limiterIdleTTL)
	}
	return item.Value()
}

// middleware answers 429 once the client's bucket is empty. A zero limit
// disables limiting for the category.
func (p *limiterPool) middleware(next http.Handler) http.Handler {
	if p.cfg.Limit <= 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		limiter := p.limiter(p.remoteAddress(r))
		res := limiter.Reserve()
		if delay := res.Delay(); delay > 0 {
			res.Cancel()
			p.logger.Warn("rate limit exceeded", "category", p.category, "path", r.URL.Path, "remote_addr", r.RemoteAddr)
			w.Header().Set("Retry-After", fmt.Sprintf("%.0f", math.Ceil(delay.Seconds())))
			writeJSON(w, http.StatusTooManyRequests, errorBody(http.StatusText(http.StatusTooManyRequests)))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// remoteAddress keys the bucket on the socket peer. The first
// X-Forwarded-For hop is used only when that peer is a trusted proxy.
func (p *limiterPool) remoteAddress(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if _, ok := p.trusted[host]; !ok {
		return host
	}
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if ip := strings.TrimSpace(strings.Split(fwd, ",")[0]); ip != "" {
			return ip
		}
	}
	return host
}
