package ratelimit

import (
	"context"
	"time"
)

const (
	DefaultMaxAttempts = 5
	DefaultWindow      = 15 * time.Minute

	// KindRateLimited 是被限流时返回/记录的错误类别。
	KindRateLimited = "RATE_LIMITED"
)

// Limiter tracks failed attempts per client identifier. State lives in a shared
// store so every server instance sees the same counters.
type Limiter interface {
	// IsLimited reports whether id has reached the attempt threshold within the
	// window. A record whose last failure is older than the window counts as zero.
	IsLimited(ctx context.Context, id string) (bool, error)
	// RecordFailure counts one failure. A failure after the window starts a fresh count of 1.
	RecordFailure(ctx context.Context, id string) error
	// Reset zeroes the counter after a successful validation or spin.
	Reset(ctx context.Context, id string) error
}

// Policy 限流阈值与窗口。
type Policy struct {
	MaxAttempts int
	Window      time.Duration
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.Window <= 0 {
		p.Window = DefaultWindow
	}
	return p
}
