package retry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/zgpcy/azure-billing-collector/internal/fetch"
	"github.com/zgpcy/azure-billing-collector/internal/logger"
	"github.com/zgpcy/azure-billing-collector/internal/provider"
)

// Retry controller defaults
const (
	// DefaultMinBackoff is the floor applied to every wait between attempts
	DefaultMinBackoff = 30 * time.Second

	// Padding is added on top of the chosen wait
	Padding = time.Second
)

// State names logged on every transition
const (
	StateAttempting   = "Attempting"
	StateBackoff      = "Backoff"
	StateSucceeded    = "Succeeded"
	StateFatalFailure = "FatalFailure"
)

// Controller re-issues a failed page fetch a bounded number of times
type Controller struct {
	// MaxRetries is the number of attempts after the first one
	MaxRetries int

	// MinBackoff is the floor for the wait between attempts (zero means DefaultMinBackoff)
	MinBackoff time.Duration

	// Timer drives the waits. Nil uses a real timer.
	Timer backoff.Timer

	// OnRetry is called before every wait, if set
	OnRetry func(attempt int, wait time.Duration)

	Logger *logger.Logger
}

// New creates a Controller with the given retry budget and backoff floor
func New(maxRetries int, minBackoff time.Duration, log *logger.Logger) *Controller {
	return &Controller{
		MaxRetries: maxRetries,
		MinBackoff: minBackoff,
		Logger:     log,
	}
}

// SleepFor returns the longest integer number of seconds found in any header
// whose name contains "retry" (case-insensitive). Unparsable values are ignored.
func SleepFor(header http.Header) time.Duration {
	longest := 0
	for name, values := range header {
		if !strings.Contains(strings.ToLower(name), "retry") {
			continue
		}
		for _, v := range values {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				continue
			}
			if n > longest {
				longest = n
			}
		}
	}
	return time.Duration(longest) * time.Second
}

// Interval computes the wait before the next attempt
func (c *Controller) Interval(header http.Header) time.Duration {
	wait := c.minBackoff()
	if fromHeader := SleepFor(header); fromHeader > wait {
		wait = fromHeader
	}
	return wait + Padding
}

func (c *Controller) minBackoff() time.Duration {
	if c.MinBackoff <= 0 {
		return DefaultMinBackoff
	}
	return c.MinBackoff
}

// headerBackOff waits according to the headers of the last failed response
type headerBackOff struct {
	c      *Controller
	header http.Header
}

func (b *headerBackOff) NextBackOff() time.Duration { return b.c.Interval(b.header) }

func (b *headerBackOff) Reset() { b.header = nil }

// Do issues fn, then retries retryable failures until it succeeds, hits a
// fatal outcome, or exhausts MaxRetries. Attempts are strictly sequential.
func (c *Controller) Do(ctx context.Context, fn fetch.Func) (*fetch.Response, error) {
	log := c.Logger
	if log == nil {
		log = logger.Discard()
	}

	maxRetries := c.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}

	var (
		result  *fetch.Response
		attempt int
		hb      = &headerBackOff{c: c}
	)

	operation := func() error {
		attempt++
		log.Debug(StateAttempting, "attempt", attempt, "max_retries", maxRetries)

		resp, err := fn(ctx)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return backoff.Permanent(ctxErr)
		}

		switch fetch.Classify(resp, err) {
		case fetch.Success:
			result = resp
			log.Debug(StateSucceeded, "attempt", attempt, "status", resp.StatusCode)
			return nil
		case fetch.Fatal:
			log.Error(StateFatalFailure,
				"attempt", attempt,
				"status", resp.StatusCode,
				"headers", headerMap(resp.Header),
				"reason", fetch.Describe(resp, err))
			return backoff.Permanent(callFailed(resp, err))
		default:
			if resp != nil {
				hb.header = resp.Header
			} else {
				hb.header = nil
			}
			return callFailed(resp, err)
		}
	}

	notify := func(err error, wait time.Duration) {
		log.Warn(StateBackoff,
			"attempt", attempt,
			"wait", wait.String(),
			"headers", headerMap(hb.header),
			"error", err)
		if c.OnRetry != nil {
			c.OnRetry(attempt, wait)
		}
	}

	b := backoff.WithContext(backoff.WithMaxRetries(hb, uint64(maxRetries)), ctx)
	err := backoff.RetryNotifyWithTimer(operation, b, notify, c.Timer)
	if err == nil {
		return result, nil
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil, err
	}
	if errors.Is(err, provider.ErrCollectorCallFailed) && attempt > maxRetries {
		log.Error(StateFatalFailure, "attempt", attempt, "reason", "retries exhausted", "error", err)
	}
	return nil, fmt.Errorf("%w after %d attempt(s): %w", provider.ErrCollectionFailed, attempt, err)
}

func callFailed(resp *fetch.Response, err error) error {
	return fmt.Errorf("%w: %s", provider.ErrCollectorCallFailed, fetch.Describe(resp, err))
}

// headerMap flattens headers for structured logs
func headerMap(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = strings.Join(v, ",")
	}
	return out
}
