package worker

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"sync"
	"time"

	"github.com/palantir/lead-enrichment-pipeline/pkg/pipeline/core"
	"github.com/panjf2000/ants/v2"
	"golang.org/x/time/rate"
)

type Options struct {
	Workers        int
	MaxRetries     int
	RequestTimeout time.Duration

	// RateLimitRPS is a global limit across all workers. Set to <=0 to disable.
	RateLimitRPS float64

	// BackoffInitial is the initial sleep before retrying a transient failure.
	BackoffInitial time.Duration
	// BackoffMax caps exponential backoff.
	BackoffMax time.Duration
	// BackoffJitterFrac applies +/- jitter to backoff sleeps (0.2 = +/-20%).
	BackoffJitterFrac float64
}

// Result holds the output for one input item.
//
// Attempted is false when the run was cancelled before the item was handed to
// the processor; Output and Err are zero in that case. Interrupted is set when
// the item stopped because ctx ended (or a rate-limit wait could not finish
// before its deadline) rather than because of its own outcome.
type Result[In any, Out any] struct {
	Input       In
	Output      Out
	Err         error
	Attempted   bool
	Attempts    int
	Interrupted bool
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = 10
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = 30 * time.Second
	}
	if o.BackoffInitial <= 0 {
		o.BackoffInitial = 200 * time.Millisecond
	}
	if o.BackoffMax <= 0 {
		o.BackoffMax = 2 * time.Second
	}
	if o.BackoffJitterFrac < 0 {
		o.BackoffJitterFrac = 0
	}
	return o
}

// ProcessAll runs the processor over all input items.
func ProcessAll[In any, Out any](
	ctx context.Context,
	items []In,
	processor func(context.Context, In) (Out, error),
	opts Options,
) ([]Result[In, Out], error) {
	return ProcessAllWithCallback(ctx, items, processor, nil, opts)
}

// ProcessAllWithCallback runs the processor over all input items and invokes onResult
// as each item completes. The callback receives completion-order results and is
// never called concurrently with itself.
//
// The returned slice is always index-aligned with items. Item failures are
// reported on their Result, never as the returned error. A cancelled ctx yields
// the results gathered so far together with ctx.Err(); items that never started
// have Attempted == false.
func ProcessAllWithCallback[In any, Out any](
	ctx context.Context,
	items []In,
	processor func(context.Context, In) (Out, error),
	onResult func(Result[In, Out]) error,
	opts Options,
) ([]Result[In, Out], error) {
	opts = opts.withDefaults()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	pool, err := ants.NewPool(opts.Workers)
	if err != nil {
		return nil, fmt.Errorf("worker pool: %w", err)
	}
	defer pool.Release()

	var limiter *rate.Limiter
	if opts.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimitRPS), 1)
	}

	out := make([]Result[In, Out], len(items))
	for i, item := range items {
		out[i].Input = item
	}

	var wg sync.WaitGroup

	var mu sync.Mutex
	var firstErr error
	fail := func(err error) {
		if err == nil {
			return
		}
		mu.Lock()
		if firstErr == nil {
			firstErr = err
			cancel()
		}
		mu.Unlock()
	}

	var cbMu sync.Mutex
	for i, item := range items {
		if runCtx.Err() != nil {
			break
		}
		idx := i
		in := item
		wg.Add(1)
		submitErr := pool.Submit(func() {
			defer wg.Done()
			if runCtx.Err() != nil {
				return
			}
			res := processOne(runCtx, in, processor, limiter, opts)
			out[idx] = res
			if onResult != nil {
				cbMu.Lock()
				cbErr := onResult(res)
				cbMu.Unlock()
				if cbErr != nil {
					fail(cbErr)
					return
				}
			}
		})
		if submitErr != nil {
			wg.Done()
			fail(fmt.Errorf("worker pool: submit: %w", submitErr))
			break
		}
	}
	wg.Wait()

	mu.Lock()
	err = firstErr
	mu.Unlock()
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return out, err
	}
	return out, nil
}

func processOne[In any, Out any](
	ctx context.Context,
	item In,
	processor func(context.Context, In) (Out, error),
	limiter *rate.Limiter,
	opts Options,
) Result[In, Out] {
	res, attempts, interrupted, err := processWithRetry(ctx, item, processor, limiter, opts)
	return Result[In, Out]{
		Input:       item,
		Output:      res,
		Err:         err,
		Attempted:   true,
		Attempts:    attempts,
		Interrupted: interrupted,
	}
}

type attemptKey struct{}

// AttemptFromContext returns the 1-based attempt number of the item the
// processor was called for.
func AttemptFromContext(ctx context.Context) (int, bool) {
	n, ok := ctx.Value(attemptKey{}).(int)
	return n, ok
}

func processWithRetry[In any, Out any](
	ctx context.Context,
	item In,
	processor func(context.Context, In) (Out, error),
	limiter *rate.Limiter,
	opts Options,
) (Out, int, bool, error) {
	var lastOut Out
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return lastOut, attempt, true, err
		}

		if limiter != nil {
			// Wait fails early when the next token would arrive after the
			// ctx deadline, so the item is cut off by the run either way.
			if err := limiter.Wait(ctx); err != nil {
				if ctx.Err() != nil {
					return lastOut, attempt, true, ctx.Err()
				}
				return lastOut, attempt, true, err
			}
		}

		reqCtx := context.WithValue(ctx, attemptKey{}, attempt+1)
		var cancel context.CancelFunc
		if opts.RequestTimeout > 0 {
			reqCtx, cancel = context.WithTimeout(reqCtx, opts.RequestTimeout)
		}
		result, err := processor(reqCtx, item)
		lastOut = result
		if cancel != nil {
			cancel()
		}
		if err == nil {
			return result, attempt + 1, false, nil
		}
		// The caller's context ended; whatever the processor reported is a
		// consequence of that, not a property of the item.
		if ctx.Err() != nil {
			return lastOut, attempt + 1, true, ctx.Err()
		}
		maxRetries := maxExtraRetries(opts.MaxRetries, err)
		if !isTransient(err) || attempt >= maxRetries {
			return lastOut, attempt + 1, false, err
		}

		sleep := backoffSleep(opts.BackoffInitial, opts.BackoffMax, opts.BackoffJitterFrac, attempt)
		t := time.NewTimer(sleep)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return lastOut, attempt + 1, true, ctx.Err()
		}
	}
}

type retryCap interface {
	MaxExtraRetries() int
}

func maxExtraRetries(defaultRetries int, err error) int {
	if defaultRetries < 0 {
		defaultRetries = 0
	}
	var capErr retryCap
	if errors.As(err, &capErr) {
		limited := capErr.MaxExtraRetries()
		if limited < 0 {
			limited = 0
		}
		if limited < defaultRetries {
			return limited
		}
	}
	return defaultRetries
}

// IsTransient reports whether err is worth another attempt.
func IsTransient(err error) bool {
	return isTransient(err)
}

func isTransient(err error) bool {
	if err == nil {
		return false
	}
	var te *core.TransientError
	if errors.As(err, &te) {
		return true
	}
	var lte *core.LimitedTransientError
	if errors.As(err, &lte) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return ne.Timeout()
	}
	return false
}

func backoffSleep(initial, max time.Duration, jitterFrac float64, attempt int) time.Duration {
	sleep := initial
	for i := 0; i < attempt && sleep < max; i++ {
		sleep *= 2
		if sleep > max {
			sleep = max
			break
		}
	}
	if jitterFrac <= 0 {
		return sleep
	}
	// Apply +/- jitterFrac.
	j := 1 + (rand.Float64()*2-1)*jitterFrac
	return time.Duration(float64(sleep) * j)
}
