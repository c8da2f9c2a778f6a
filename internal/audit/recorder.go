package audit

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/roach88/finrules/internal/ir"
)

// Sink durably appends one application log and bumps the rule counters.
// Both effects must happen together or not at all.
type Sink interface {
	AppendLog(ctx context.Context, log ir.ApplicationLog) error
}

// ErrPermanent marks a sink failure that retrying cannot fix.
var ErrPermanent = errors.New("permanent sink failure")

// Recorder defaults.
const (
	DefaultMaxTries        = 3
	DefaultInitialInterval = 50 * time.Millisecond
)

// Recorder writes logs to a Sink with retry.
//
// Thread-safety: Recorder is safe for concurrent use if its Sink is.
type Recorder struct {
	sink     Sink
	maxTries uint
	initial  time.Duration
	logger   *slog.Logger
}

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithMaxTries sets the total number of attempts per log (minimum 1).
func WithMaxTries(n uint) RecorderOption {
	return func(r *Recorder) {
		if n > 0 {
			r.maxTries = n
		}
	}
}

// WithInitialInterval sets the first retry delay. Later delays double.
func WithInitialInterval(d time.Duration) RecorderOption {
	return func(r *Recorder) { r.initial = d }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) RecorderOption {
	return func(r *Recorder) { r.logger = l }
}

// NewRecorder creates a Recorder for sink.
func NewRecorder(sink Sink, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		sink:     sink,
		maxTries: DefaultMaxTries,
		initial:  DefaultInitialInterval,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record appends log through the sink, retrying transient failures.
// It returns a persistence RuleError when every attempt fails, when the
// sink reports ErrPermanent, or when ctx ends first.
func (r *Recorder) Record(ctx context.Context, log ir.ApplicationLog) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.initial
	b.Multiplier = 2
	b.RandomizationFactor = 0

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := r.sink.AppendLog(ctx, log)
		if errors.Is(err, ErrPermanent) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(r.maxTries),
		backoff.WithNotify(func(err error, next time.Duration) {
			r.logger.Warn("application log write failed, retrying",
				"error", err,
				"log_id", log.ID,
				"rule_id", log.RuleID,
				"retry_in", next,
			)
		}),
	)
	if err != nil {
		return ir.NewPersistenceError(log.RuleID, ir.CodeLogWrite, err)
	}
	return nil
}
