package dnszone

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"
	"time"

	"github.com/LightHostingFree/sslgen/internal/certerr"
	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// Defaults for the provider retry policy.
const (
	DefaultRetryAttempts = 3
	DefaultRetryBase     = time.Second
)

// HTTPError is a non-2xx response from a DNS provider API.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

// RetryNotifyFunc observes each scheduled retry.
type RetryNotifyFunc func(op string, attempt int, delay time.Duration, err error)

// Retrier runs provider calls with bounded exponential backoff. Only
// timeouts, refused or reset connections and HTTP 502/503/504 are retried;
// anything else is classified immediately.
type Retrier struct {
	attempts int
	base     time.Duration
	notify   RetryNotifyFunc
	logger   *zap.Logger
}

// NewRetrier creates a Retrier making at most attempts calls, waiting base,
// 2*base, 4*base, ... between them.
func NewRetrier(attempts int, base time.Duration, logger *zap.Logger) *Retrier {
	if attempts < 1 {
		attempts = DefaultRetryAttempts
	}
	if base <= 0 {
		base = DefaultRetryBase
	}
	return &Retrier{attempts: attempts, base: base, logger: logger}
}

// SetNotify configures a callback invoked before every retry sleep.
func (r *Retrier) SetNotify(fn RetryNotifyFunc) {
	r.notify = fn
}

// Do calls fn until it succeeds, fails permanently, or attempts run out.
// The returned error is always a *certerr.Error.
func (r *Retrier) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.base
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = r.base << uint(r.attempts)
	b.MaxElapsedTime = 0

	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(r.attempts-1)), ctx)

	attempt := 0
	err := backoff.RetryNotify(func() error {
		attempt++
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !isRetryable(err) {
			return backoff.Permanent(classify(op, err))
		}
		return err
	}, policy, func(err error, delay time.Duration) {
		r.logger.Warn("dns provider call failed, retrying",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		if r.notify != nil {
			r.notify(op, attempt, delay, err)
		}
	})
	if err == nil {
		return nil
	}

	var tagged *certerr.Error
	if errors.As(err, &tagged) {
		return err
	}
	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
		return certerr.Wrap(certerr.KindTransient, op+" cancelled", err)
	}
	return certerr.Wrap(certerr.KindTransient,
		fmt.Sprintf("%s failed after %d attempts; the DNS provider is unreachable", op, attempt), err)
}

// isRetryable reports whether err is a timeout, a refused or reset
// connection, or a gateway-class HTTP status.
func isRetryable(err error) bool {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		switch httpErr.StatusCode {
		case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return true
		}
		return false
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	// A connection dropped mid-response surfaces as EOF.
	return errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}

// classify turns a non-retryable failure into a tagged error.
func classify(op string, err error) error {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
		return certerr.Wrap(certerr.KindConfig,
			fmt.Sprintf("DNS provider host %s not found: check the configured API URL", dnsErr.Name), err)
	}
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		return certerr.Wrap(certerr.KindInternal, op+" failed", err)
	}
	switch httpErr.StatusCode {
	case http.StatusUnauthorized:
		return certerr.Wrap(certerr.KindAuth,
			"DNS provider authentication failed: check the configured API token or credentials", err)
	case http.StatusForbidden:
		return certerr.Wrap(certerr.KindAuth,
			"DNS provider denied the request: the credentials lack permission to edit the validation zone", err)
	default:
		return certerr.Wrap(certerr.KindConfig,
			fmt.Sprintf("DNS provider rejected %s (HTTP %d)", op, httpErr.StatusCode), err)
	}
}
