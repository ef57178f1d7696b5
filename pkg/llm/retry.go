package llm

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/integrail/persona-lab/pkg/llm"

// Sleeper waits for d or until ctx ends, whichever comes first.
type Sleeper func(ctx context.Context, d time.Duration) error

type options struct {
	sleep      Sleeper
	httpClient *http.Client
	tracer     trace.Tracer
}

type Option func(o *options)

// WithSleeper replaces the backoff sleep, mostly to observe delays in tests.
func WithSleeper(sleep Sleeper) Option {
	return func(o *options) {
		o.sleep = sleep
	}
}

// WithHTTPClient replaces the HTTP client used for attempts. Its Timeout should be zero: the
// per-attempt timeout is applied through the request context.
func WithHTTPClient(client *http.Client) Option {
	return func(o *options) {
		o.httpClient = client
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(o *options) {
		o.tracer = tracer
	}
}

func applyOptions(opts []Option) options {
	o := options{
		sleep:  SleepContext,
		tracer: otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// SleepContext is the default Sleeper.
func SleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// attemptFunc performs one network attempt under a context carrying the per-attempt timeout.
type attemptFunc func(ctx context.Context) (string, error)

type runner struct {
	log     *slog.Logger
	policy  RetryPolicy
	timeout time.Duration
	sleep   Sleeper
	tracer  trace.Tracer
}

func newRunner(log *slog.Logger, policy RetryPolicy, timeout time.Duration, o options) *runner {
	return &runner{
		log:     log,
		policy:  policy,
		timeout: timeout,
		sleep:   o.sleep,
		tracer:  o.tracer,
	}
}

func (r *runner) run(ctx context.Context, model string, attempt attemptFunc) (*GenerateResponse, error) {
	ctx, span := r.tracer.Start(ctx, "llm.generate", trace.WithAttributes(
		attribute.String("llm.model", model),
		attribute.Int("llm.max_attempts", r.policy.MaxAttempts),
	))
	defer span.End()

	log := r.log.With("model", model)
	start := time.Now()
	var last *attemptError
	for n := 1; n <= r.policy.MaxAttempts; n++ {
		if ctx.Err() != nil {
			return nil, r.fail(span, log, r.cancelled(ctx, n-1, last))
		}

		log.Debug("generation attempt", "attempt", n, "maxAttempts", r.policy.MaxAttempts)
		text, err := r.attempt(ctx, n, attempt)
		if err == nil {
			span.SetAttributes(attribute.Int("llm.attempts", n))
			return &GenerateResponse{
				Response: text,
				Model:    model,
				Latency:  time.Since(start),
				Attempts: n,
			}, nil
		}

		// the caller gave up while the attempt was in flight
		if ctx.Err() != nil {
			return nil, r.fail(span, log, r.cancelled(ctx, n, asAttemptError(err)))
		}
		ae := asAttemptError(err)
		if !ae.retryable {
			return nil, r.fail(span, log, ae.failure(n))
		}
		last = ae
		if n == r.policy.MaxAttempts {
			break
		}

		delay := r.policy.Delay(n)
		log.Warn("generation attempt failed, retrying", "attempt", n, "delay", delay, "error", err)
		if err := r.sleep(ctx, delay); err != nil {
			return nil, r.fail(span, log, r.cancelled(ctx, n, last))
		}
	}
	return nil, r.fail(span, log, last.failure(r.policy.MaxAttempts))
}

func (r *runner) attempt(ctx context.Context, n int, fn attemptFunc) (string, error) {
	ctx, span := r.tracer.Start(ctx, "llm.attempt", trace.WithAttributes(attribute.Int("llm.attempt", n)))
	defer span.End()
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	text, err := fn(ctx)
	if err != nil {
		ae := asAttemptError(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, string(ae.kind))
		if ae.statusCode != 0 {
			span.SetAttributes(attribute.Int("http.response.status_code", ae.statusCode))
		}
	}
	return text, err
}

func (r *runner) cancelled(ctx context.Context, attempts int, last *attemptError) *Failure {
	f := &Failure{
		Kind:     ErrorCancelled,
		Message:  failureMessage(ErrorCancelled),
		Attempts: attempts,
		Cause:    context.Cause(ctx),
	}
	if last != nil {
		f.StatusCode = last.statusCode
		f.Message += " (last attempt: " + last.Error() + ")"
	}
	return f
}

func (r *runner) fail(span trace.Span, log *slog.Logger, f *Failure) *Failure {
	span.SetAttributes(
		attribute.Int("llm.attempts", f.Attempts),
		attribute.String("llm.error_kind", string(f.Kind)),
	)
	span.SetStatus(codes.Error, f.Message)
	log.Error("generation failed", "kind", f.Kind, "attempts", f.Attempts, "status", f.StatusCode, "error", f.Cause)
	return f
}
