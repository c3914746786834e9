// Package speed time-stretches finished voice-overs.
package speed

import (
	"context"
	"math"

	"go.uber.org/zap"

	"github.com/satriahrh/narrasi/domain/entities"
	"github.com/satriahrh/narrasi/domain/repositories"
	"github.com/satriahrh/narrasi/internal/wavfile"
)

// Supported tempo range
const (
	MinFactor = 0.5
	MaxFactor = 2.0
)

// Result is the adjusted audio with the factor actually applied
type Result struct {
	Audio           []byte
	Factor          float64
	DurationSeconds float64
}

// Adjuster applies tempo changes through an audio filter
type Adjuster struct {
	filter repositories.AudioFilter
	logger *zap.Logger
}

// NewAdjuster creates a speed adjuster
func NewAdjuster(filter repositories.AudioFilter, logger *zap.Logger) *Adjuster {
	return &Adjuster{filter: filter, logger: logger}
}

// Clamp limits factor to the supported range
func Clamp(factor float64) float64 {
	return math.Max(MinFactor, math.Min(MaxFactor, factor))
}

// Adjust stretches wav by factor. A factor of exactly 1 returns the
// input slice itself. The reported duration is the original duration
// divided by the applied factor.
func (a *Adjuster) Adjust(ctx context.Context, wav []byte, factor float64) (*Result, error) {
	if math.IsNaN(factor) || factor <= 0 {
		return nil, entities.NewValidationError("speed must be positive, got %v", factor)
	}

	original, err := wavfile.Duration(wav)
	if err != nil {
		return nil, err
	}
	if factor == 1 {
		return &Result{Audio: wav, Factor: 1, DurationSeconds: original}, nil
	}

	applied := Clamp(factor)
	if applied != factor {
		a.logger.Warn("Speed factor clamped",
			zap.Float64("requested", factor),
			zap.Float64("applied", applied))
	}

	out, err := a.filter.Tempo(ctx, wav, applied)
	if err != nil {
		return nil, err
	}

	a.logger.Info("Adjusted speed",
		zap.Float64("factor", applied),
		zap.Float64("originalDuration", original),
		zap.Float64("duration", original/applied))
	return &Result{Audio: out, Factor: applied, DurationSeconds: original / applied}, nil
}
