// Package synthesis drives the remote speech worker: it retries failed
// and near-silent results and stitches a segment's chunks together.
package synthesis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/narrasi/domain/entities"
	"github.com/satriahrh/narrasi/domain/repositories"
	"github.com/satriahrh/narrasi/internal/retry"
	"github.com/satriahrh/narrasi/internal/telemetry"
	"github.com/satriahrh/narrasi/internal/textproc"
	"github.com/satriahrh/narrasi/internal/wavfile"
)

const (
	defaultMaxAttempts      = 3
	defaultBaseDelay        = time.Second
	defaultMaxDelay         = 8 * time.Second
	defaultJobTimeout       = 5 * time.Minute
	defaultSilenceWindow    = 50 * time.Millisecond
	defaultSilenceThreshold = 0.01
	defaultMaxSilentRatio   = 0.5
)

// Config controls retries and anomaly detection. Zero values take defaults.
type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	JobTimeout  time.Duration

	// A result is anomalous when more than MaxSilentRatio of its
	// SilenceWindow windows have an RMS below SilenceThreshold.
	SilenceWindow    time.Duration
	SilenceThreshold float64
	MaxSilentRatio   float64

	ChunkLimits textproc.Limits
}

// DefaultConfig returns the configuration used in production
func DefaultConfig() Config {
	return Config{
		MaxAttempts:      defaultMaxAttempts,
		BaseDelay:        defaultBaseDelay,
		MaxDelay:         defaultMaxDelay,
		JobTimeout:       defaultJobTimeout,
		SilenceWindow:    defaultSilenceWindow,
		SilenceThreshold: defaultSilenceThreshold,
		MaxSilentRatio:   defaultMaxSilentRatio,
		ChunkLimits:      textproc.DefaultLimits(),
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = d.BaseDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = d.MaxDelay
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = d.JobTimeout
	}
	if c.SilenceWindow <= 0 {
		c.SilenceWindow = d.SilenceWindow
	}
	if c.SilenceThreshold <= 0 {
		c.SilenceThreshold = d.SilenceThreshold
	}
	if c.MaxSilentRatio <= 0 {
		c.MaxSilentRatio = d.MaxSilentRatio
	}
	if c.ChunkLimits.MaxLength <= 0 {
		c.ChunkLimits.MaxLength = d.ChunkLimits.MaxLength
	}
	if c.ChunkLimits.MinLength <= 0 {
		c.ChunkLimits.MinLength = d.ChunkLimits.MinLength
	}
	return c
}

var errAnomalous = errors.New("result is mostly silent")

// Dispatcher submits chunks to a SpeechSynthesizer
type Dispatcher struct {
	synth   repositories.SpeechSynthesizer
	config  Config
	metrics *telemetry.Metrics
	logger  *zap.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

// NewDispatcher creates a dispatcher. metrics may be nil.
func NewDispatcher(synth repositories.SpeechSynthesizer, config Config, metrics *telemetry.Metrics, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		synth:   synth,
		config:  config.withDefaults(),
		metrics: metrics,
		logger:  logger,
		sleep:   retry.Sleep,
	}
}

// Config returns the effective configuration
func (d *Dispatcher) Config() Config {
	return d.config
}

// Synthesize returns a WAV container for one chunk. Errors after the
// last attempt are *entities.SynthesisError, except malformed audio which
// is reported as *entities.FormatError without retrying.
func (d *Dispatcher) Synthesize(ctx context.Context, text string, reference []byte) ([]byte, error) {
	policy := retry.Policy{
		MaxAttempts: d.config.MaxAttempts,
		BaseDelay:   d.config.BaseDelay,
		MaxDelay:    d.config.MaxDelay,
		Sleep:       d.sleep,
		OnRetry: func(attempt int, delay time.Duration, err error) {
			d.metrics.SynthesisRetried(ctx)
			d.logger.Warn("Synthesis attempt failed",
				zap.Int("attempt", attempt),
				zap.Duration("retryIn", delay),
				zap.Int("textLength", len(text)),
				zap.Error(err))
		},
	}

	audio, err := retry.Do(ctx, policy, func(ctx context.Context, attempt int) ([]byte, error) {
		return d.attempt(ctx, text, reference, attempt == policy.MaxAttempts)
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if entities.IsFormatError(err) || entities.IsSynthesisError(err) {
			return nil, err
		}
		return nil, &entities.SynthesisError{Err: err}
	}

	d.metrics.ChunkSynthesized(ctx)
	return audio, nil
}

func (d *Dispatcher) attempt(ctx context.Context, text string, reference []byte, final bool) ([]byte, error) {
	jobCtx, cancel := context.WithTimeout(ctx, d.config.JobTimeout)
	defer cancel()

	audio, err := d.synth.Synthesize(jobCtx, repositories.SynthesisRequest{
		Text:           text,
		ReferenceAudio: reference,
	})
	if err != nil {
		if ctx.Err() == nil && errors.Is(jobCtx.Err(), context.DeadlineExceeded) {
			return nil, &entities.SynthesisError{Err: fmt.Errorf("job exceeded %s: %w", d.config.JobTimeout, entities.ErrTimeout)}
		}
		if entities.IsFormatError(err) {
			return nil, retry.Permanent(err)
		}
		return nil, err
	}

	ratio, err := wavfile.SilentWindowRatio(audio, d.config.SilenceWindow, d.config.SilenceThreshold)
	if err != nil {
		return nil, retry.Permanent(err)
	}
	if ratio > d.config.MaxSilentRatio {
		d.metrics.AnomalyDetected(ctx)
		if !final {
			return nil, fmt.Errorf("%w: %.0f%% of windows below threshold", errAnomalous, ratio*100)
		}
		d.logger.Warn("Accepting mostly silent result on final attempt",
			zap.Float64("silentRatio", ratio),
			zap.Int("textLength", len(text)))
	}
	return audio, nil
}
