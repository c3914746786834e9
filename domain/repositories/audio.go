package repositories

import (
	"context"

	"github.com/satriahrh/narrasi/domain/entities"
)

// TimeRange is a [Start, End) interval in seconds
type TimeRange struct {
	Start float64
	End   float64
}

// AudioFilter applies sample-accurate edits to a WAV container
type AudioFilter interface {
	// KeepRanges returns a WAV containing only the given ranges, in order
	KeepRanges(ctx context.Context, wav []byte, keep []TimeRange) ([]byte, error)
	// Tempo time-stretches the audio by factor without changing pitch
	Tempo(ctx context.Context, wav []byte, factor float64) ([]byte, error)
}

// RepetitionRemover removes looping speech from assembled audio
type RepetitionRemover interface {
	Remove(ctx context.Context, wav []byte) ([]byte, []entities.RepetitionRange, error)
}
