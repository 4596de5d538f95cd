package rate

import "time"

// Window is the period a request budget covers.
type Window int

const (
	Minute Window = iota
	Hour
	Day
)

func (w Window) String() string {
	switch w {
	case Minute:
		return "minute"
	case Hour:
		return "hour"
	case Day:
		return "day"
	default:
		return "unknown"
	}
}

func (w Window) Duration() time.Duration {
	switch w {
	case Hour:
		return time.Hour
	case Day:
		return 24 * time.Hour
	default:
		return time.Minute
	}
}

// Declaration describes how a provider may be called.
type Declaration struct {
	provider   string
	limits     map[Window]int
	cacheTTL   time.Duration
	maxWait    time.Duration
	retryAfter string
}

// Provider starts a declaration for the named provider.
func Provider(name string) Declaration {
	return Declaration{provider: name, retryAfter: "Retry-After"}
}

func (d Declaration) ProviderName() string {
	return d.provider
}

func (d Declaration) MaxRequestsPer(window Window, limit int) Declaration {
	limits := make(map[Window]int, len(d.limits)+1)
	for w, l := range d.limits {
		limits[w] = l
	}
	limits[window] = limit
	d.limits = limits
	return d
}

// CacheFor serves the last good response for ttl while calls are blocked.
func (d Declaration) CacheFor(ttl time.Duration) Declaration {
	d.cacheTTL = ttl
	return d
}

// WaitUpTo lets a request block for a token instead of failing fast.
func (d Declaration) WaitUpTo(wait time.Duration) Declaration {
	d.maxWait = wait
	return d
}

// RetryAfterHeader overrides the cooldown header name. Empty disables it.
func (d Declaration) RetryAfterHeader(name string) Declaration {
	d.retryAfter = name
	return d
}

func (d Declaration) Limits() map[Window]int {
	return d.limits
}

func (d Declaration) CacheTTL() time.Duration {
	return d.cacheTTL
}

func (d Declaration) MaxWait() time.Duration {
	return d.maxWait
}

func (d Declaration) HasLimits() bool {
	return len(d.limits) > 0
}

// RateLimited is implemented by plugins that declare limits.
type RateLimited interface {
	RateLimits() Declaration
}
