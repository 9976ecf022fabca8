package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/time/rate"
)

// Pacer limits the request rate per host within one process.
type Pacer struct {
	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewPacer allows rps requests per second per host with the given burst. It
// returns nil for rps <= 0; a nil Pacer never waits.
func NewPacer(rps float64, burst int) *Pacer {
	if rps <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return &Pacer{limit: rate.Limit(rps), burst: burst, limiters: make(map[string]*rate.Limiter)}
}

func (p *Pacer) limiter(host string) *rate.Limiter {
	host = strings.ToLower(host)
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.limiters[host]
	if !ok {
		l = rate.NewLimiter(p.limit, p.burst)
		p.limiters[host] = l
	}
	return l
}

// Wait blocks until a request to host is allowed. When the next slot lies
// past the deadline of ctx it fails at once with context.DeadlineExceeded.
func (p *Pacer) Wait(ctx context.Context, host string) error {
	if p == nil {
		return nil
	}
	if err := p.limiter(host).Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("pace %s: %w", host, context.DeadlineExceeded)
	}
	return nil
}
