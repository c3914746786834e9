package synthesis

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/satriahrh/narrasi/domain/entities"
	"github.com/satriahrh/narrasi/internal/textproc"
	"github.com/satriahrh/narrasi/internal/wavfile"
)

// ErrNoAudio reports a segment where every chunk failed
var ErrNoAudio = errors.New("no chunk produced audio")

// SegmentResult is the stitched audio of one segment
type SegmentResult struct {
	Audio           []byte
	DurationSeconds float64
	ChunksTotal     int
	ChunksFailed    int
}

// ChunkFunc is called after each chunk with the number finished so far
type ChunkFunc func(done, total int)

// SynthesizeSegment chunks text, drops chunks the worker cannot
// pronounce, synthesizes the rest one after another and concatenates the
// results in order. A chunk that still fails after its retries is skipped.
// The segment fails when no chunk survives or a result is malformed.
func (d *Dispatcher) SynthesizeSegment(ctx context.Context, text string, reference []byte, onChunk ChunkFunc) (*SegmentResult, error) {
	var chunks []string
	for _, c := range textproc.ChunkText(text, d.config.ChunkLimits.MaxLength) {
		if err := textproc.Validate(c, d.config.ChunkLimits); err != nil {
			d.metrics.ChunkDropped(ctx, "invalid")
			d.logger.Warn("Dropping chunk", zap.String("chunk", c), zap.Error(err))
			continue
		}
		chunks = append(chunks, c)
	}
	if len(chunks) == 0 {
		return &SegmentResult{}, entities.NewValidationError("segment has no valid chunks")
	}

	result := &SegmentResult{ChunksTotal: len(chunks)}
	var builder wavfile.Builder
	for i, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		audio, err := d.Synthesize(ctx, chunk, reference)
		switch {
		case err == nil:
			if err := builder.Append(audio); err != nil {
				return result, err
			}
			d.logger.Debug("Chunk synthesized",
				zap.Int("chunk", i+1),
				zap.Int("chunks", len(chunks)),
				zap.Int("bytes", len(audio)))
		case ctx.Err() != nil:
			return result, ctx.Err()
		case entities.IsFormatError(err):
			return result, err
		default:
			result.ChunksFailed++
			d.metrics.ChunkDropped(ctx, "failed")
			d.logger.Warn("Dropping chunk after retries",
				zap.Int("chunk", i+1),
				zap.Int("chunks", len(chunks)),
				zap.Error(err))
		}

		if onChunk != nil {
			onChunk(i+1, len(chunks))
		}
	}

	if builder.Count() == 0 {
		return result, &entities.SynthesisError{Err: ErrNoAudio}
	}
	result.Audio = builder.Bytes()
	result.DurationSeconds = builder.Duration()
	return result, nil
}
