package rate

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitError is returned when calls are blocked.
type RateLimitError struct {
	Provider string
	Reason   string
	RetryAt  time.Time
}

func (e RateLimitError) Error() string {
	if e.RetryAt.IsZero() {
		return fmt.Sprintf("%s rate limited: %s", e.Provider, e.Reason)
	}
	return fmt.Sprintf("%s rate limited: %s (retry at %s)", e.Provider, e.Reason, e.RetryAt.UTC().Format(time.RFC3339))
}

type Decision struct {
	Allowed bool
	Reason  string
	RetryAt time.Time
}

type cacheEntry struct {
	status  int
	header  http.Header
	body    []byte
	expires time.Time
}

// Guard enforces a declaration with one token bucket per window.
type Guard struct {
	decl     Declaration
	now      func() time.Time
	windows  []Window
	limiters map[Window]*rate.Limiter

	mu         sync.Mutex
	cooldown   time.Time
	lastStatus int
	cache      map[string]cacheEntry
}

// NewGuard builds a guard. A declaration without limits allows every call.
func NewGuard(decl Declaration) *Guard {
	g := &Guard{
		decl:     decl,
		now:      time.Now,
		limiters: make(map[Window]*rate.Limiter, len(decl.Limits())),
		cache:    make(map[string]cacheEntry),
	}
	for window, limit := range decl.Limits() {
		g.windows = append(g.windows, window)
		if limit <= 0 {
			g.limiters[window] = rate.NewLimiter(0, 0)
			continue
		}
		every := window.Duration() / time.Duration(limit)
		g.limiters[window] = rate.NewLimiter(rate.Every(every), limit)
	}
	sort.Slice(g.windows, func(i, j int) bool { return g.windows[i] < g.windows[j] })
	return g
}

// WrapHTTP wraps an http.Client with rate-limit enforcement.
func WrapHTTP(decl Declaration, base *http.Client) *http.Client {
	return NewGuard(decl).Wrap(base)
}

// Wrap returns a copy of base whose transport goes through the guard.
func (g *Guard) Wrap(base *http.Client) *http.Client {
	if base == nil {
		base = &http.Client{}
	}
	client := *base
	transport := client.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	client.Transport = &roundTripper{base: transport, guard: g}
	return &client
}

type roundTripper struct {
	base  http.RoundTripper
	guard *Guard
}

func (rt *roundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	bodyBytes, err := drainBody(req)
	if err != nil {
		return nil, err
	}

	decision := rt.guard.Acquire(req.Context())
	if !decision.Allowed {
		provider := rt.guard.decl.ProviderName()
		if cached := rt.guard.cachedResponse(req, bodyBytes); cached != nil {
			cacheHitCounter.WithLabelValues(provider).Inc()
			return cached, nil
		}
		deniedCounter.WithLabelValues(provider, decision.Reason).Inc()
		return nil, RateLimitError{
			Provider: provider,
			Reason:   decision.Reason,
			RetryAt:  decision.RetryAt,
		}
	}

	resp, err := rt.base.RoundTrip(req)
	if err != nil {
		return resp, err
	}

	rt.guard.RecordResponse(resp.StatusCode, resp.Header)
	return rt.guard.maybeCacheResponse(req, bodyBytes, resp)
}

// Acquire takes a token, blocking up to the declared wait when one is set.
func (g *Guard) Acquire(ctx context.Context) Decision {
	if g.decl.MaxWait() <= 0 {
		return g.ShouldCall(g.now())
	}
	if d, blocked := g.inCooldown(g.now()); blocked {
		return d
	}

	waitCtx, cancel := context.WithTimeout(ctx, g.decl.MaxWait())
	defer cancel()
	for _, window := range g.windows {
		if err := g.limiters[window].Wait(waitCtx); err != nil {
			g.publishTokens(g.now())
			return Decision{Allowed: false, Reason: "budget"}
		}
	}
	g.publishTokens(g.now())
	return Decision{Allowed: true}
}

// ShouldCall takes a token from every window at now, or none of them.
func (g *Guard) ShouldCall(now time.Time) Decision {
	if d, blocked := g.inCooldown(now); blocked {
		return d
	}

	reservations := make([]*rate.Reservation, 0, len(g.windows))
	release := func() {
		for _, r := range reservations {
			r.CancelAt(now)
		}
	}
	for _, window := range g.windows {
		r := g.limiters[window].ReserveN(now, 1)
		if !r.OK() {
			release()
			return Decision{Allowed: false, Reason: "disabled"}
		}
		reservations = append(reservations, r)
		if delay := r.DelayFrom(now); delay > 0 {
			release()
			g.publishTokens(now)
			return Decision{Allowed: false, Reason: "budget", RetryAt: now.Add(delay)}
		}
	}
	g.publishTokens(now)
	return Decision{Allowed: true}
}

func (g *Guard) inCooldown(now time.Time) (Decision, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.cooldown.IsZero() && now.Before(g.cooldown) {
		return Decision{Allowed: false, Reason: "cooldown", RetryAt: g.cooldown}, true
	}
	return Decision{}, false
}

// RecordResponse applies a response's status and cooldown headers.
func (g *Guard) RecordResponse(status int, headers http.Header) {
	provider := g.decl.ProviderName()
	now := g.now()

	g.mu.Lock()
	defer g.mu.Unlock()

	g.lastStatus = status
	lastStatusGauge.WithLabelValues(provider).Set(float64(status))

	if secs := headerSeconds(headers, g.decl.retryAfter); secs > 0 {
		g.cooldown = now.Add(time.Duration(secs) * time.Second)
		retryAfterGauge.WithLabelValues(provider).Set(float64(secs))
	} else if status == http.StatusTooManyRequests {
		g.cooldown = now.Add(time.Minute)
		retryAfterGauge.WithLabelValues(provider).Set(60)
	}
}

// LastStatus is the most recent upstream status code.
func (g *Guard) LastStatus() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastStatus
}

func (g *Guard) publishTokens(now time.Time) {
	for _, window := range g.windows {
		tokens := g.limiters[window].TokensAt(now)
		remainingGauge.WithLabelValues(g.decl.ProviderName(), window.String()).Set(tokens)
	}
}

func (g *Guard) cachedResponse(req *http.Request, body []byte) *http.Response {
	if g.decl.CacheTTL() <= 0 {
		return nil
	}
	key := cacheKey(req, body)
	now := g.now()
	g.mu.Lock()
	defer g.mu.Unlock()
	entry, ok := g.cache[key]
	if !ok || now.After(entry.expires) {
		return nil
	}
	return cloneResponse(req, entry.status, entry.header, entry.body)
}

func (g *Guard) maybeCacheResponse(req *http.Request, body []byte, resp *http.Response) (*http.Response, error) {
	if g.decl.CacheTTL() <= 0 || resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp, nil
	}
	buf, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	resp.Body.Close()

	clone := cloneResponse(req, resp.StatusCode, resp.Header, buf)
	key := cacheKey(req, body)

	g.mu.Lock()
	g.cache[key] = cacheEntry{
		status:  resp.StatusCode,
		header:  clone.Header.Clone(),
		body:    buf,
		expires: g.now().Add(g.decl.CacheTTL()),
	}
	g.mu.Unlock()

	return clone, nil
}

func headerSeconds(h http.Header, key string) int {
	if key == "" {
		return -1
	}
	val := h.Get(key)
	if val == "" {
		return -1
	}
	out, err := strconv.Atoi(val)
	if err != nil {
		return -1
	}
	return out
}

func drainBody(req *http.Request) ([]byte, error) {
	if req.Body == nil {
		return nil, nil
	}
	data, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, err
	}
	req.Body.Close()
	req.Body = io.NopCloser(bytes.NewReader(data))
	return data, nil
}

func cacheKey(req *http.Request, body []byte) string {
	hash := sha256.Sum256(body)
	return req.Method + " " + req.URL.String() + " " + hex.EncodeToString(hash[:])
}

func cloneResponse(req *http.Request, status int, header http.Header, body []byte) *http.Response {
	return &http.Response{
		StatusCode: status,
		Status:     fmt.Sprintf("%d %s", status, http.StatusText(status)),
		Header:     header.Clone(),
		Body:       io.NopCloser(bytes.NewReader(body)),
		Request:    req,
	}
}
