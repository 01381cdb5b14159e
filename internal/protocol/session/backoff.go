package session

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"net"
	"time"

	"github.com/rs/zerolog/log"
)

// NextBackoffDelay returns the retry delay for attempt N (1-based).
func NextBackoffDelay(cfg BackoffConfig, attempt int, rng *rand.Rand) time.Duration {
	if attempt <= 1 {
		return cfg.InitialDelay
	}
	if cfg.InitialDelay <= 0 {
		return 0
	}
	if cfg.Multiplier < 1.0 {
		cfg.Multiplier = 1.0
	}
	delay := float64(cfg.InitialDelay) * math.Pow(cfg.Multiplier, float64(attempt-1))
	if cfg.MaxDelay > 0 && delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}
	if cfg.Jitter {
		f := 0.5
		if rng != nil {
			f = 0.5 + rng.Float64()
		}
		delay = delay * f
	}
	return time.Duration(delay)
}

// Dial connects to addr, retrying with backoff until attempts are used up
// or ctx ends. attempts <= 0 retries until ctx ends.
func Dial(ctx context.Context, network, addr string, cfg Config, attempts int) (net.Conn, error) {
	cfg = cfg.WithDefaults()
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	dialer := net.Dialer{Timeout: cfg.ConnectTimeout}
	var lastErr error
	for attempt := 1; attempts <= 0 || attempt <= attempts; attempt++ {
		conn, err := dialer.DialContext(ctx, network, addr)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		if attempts > 0 && attempt == attempts {
			break
		}
		delay := NextBackoffDelay(cfg.Backoff, attempt, rng)
		log.Debug().
			Str("addr", addr).
			Int("attempt", attempt).
			Dur("retry_in", delay).
			Err(err).
			Msg("session.Dial failed")
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	return nil, fmt.Errorf("session: dial %s: %w", addr, lastErr)
}
