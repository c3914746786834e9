package repetition

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/satriahrh/narrasi/domain/entities"
	"github.com/satriahrh/narrasi/domain/repositories"
	"github.com/satriahrh/narrasi/internal/telemetry"
	"github.com/satriahrh/narrasi/internal/wavfile"
)

// Remover transcribes assembled audio and cuts repeated speech. Any
// transcription or filter failure leaves the audio untouched.
type Remover struct {
	transcriber repositories.Transcriber
	filter      repositories.AudioFilter
	config      Config
	metrics     *telemetry.Metrics
	logger      *zap.Logger
}

// Ensure Remover implements the RepetitionRemover interface
var _ repositories.RepetitionRemover = (*Remover)(nil)

// NewRemover creates a remover. A nil transcriber disables the pass.
func NewRemover(transcriber repositories.Transcriber, filter repositories.AudioFilter, config Config, metrics *telemetry.Metrics, logger *zap.Logger) *Remover {
	return &Remover{
		transcriber: transcriber,
		filter:      filter,
		config:      config.withDefaults(),
		metrics:     metrics,
		logger:      logger,
	}
}

// Remove implements repositories.RepetitionRemover. Only context
// cancellation is reported as an error.
func (r *Remover) Remove(ctx context.Context, wav []byte) ([]byte, []entities.RepetitionRange, error) {
	if r.transcriber == nil || r.filter == nil {
		r.logger.Debug("Repetition removal disabled")
		return wav, nil, nil
	}

	a, err := wavfile.Parse(wav)
	if err != nil {
		r.logger.Warn("Skipping repetition removal, audio not parseable", zap.Error(err))
		return wav, nil, nil
	}
	total := a.Duration()

	segments, err := r.transcribe(ctx, wav)
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
		r.logger.Warn("Skipping repetition removal, transcription failed", zap.Error(err))
		return wav, nil, nil
	}

	ranges := Detect(segments, r.config)
	if len(ranges) == 0 {
		r.logger.Debug("No repetitions detected", zap.Int("transcriptSegments", len(segments)))
		return wav, nil, nil
	}

	out, err := r.filter.KeepRanges(ctx, wav, KeepRanges(ranges, total))
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
		r.logger.Warn("Skipping repetition removal, audio filter failed", zap.Error(err))
		return wav, nil, nil
	}
	after, err := wavfile.Duration(out)
	if err != nil || after > total {
		r.logger.Warn("Discarding repetition removal output",
			zap.Float64("before", total),
			zap.Float64("after", after),
			zap.Error(err))
		return wav, nil, nil
	}

	r.metrics.RangesRemoved(ctx, len(ranges))
	r.logger.Info("Removed repeated speech",
		zap.Int("ranges", len(ranges)),
		zap.Float64("before", total),
		zap.Float64("after", after))
	return out, ranges, nil
}

// transcribe splits the audio to fit the service limits and shifts each
// piece's timestamps by its start offset. Each call gets its own deadline.
func (r *Remover) transcribe(ctx context.Context, wav []byte) ([]repositories.TranscriptSegment, error) {
	limits := r.transcriber.Limits()
	pieces, err := wavfile.Split(wav, limits.MaxBytes, limits.MaxSeconds)
	if err != nil {
		return nil, err
	}

	var all []repositories.TranscriptSegment
	for i, piece := range pieces {
		callCtx, cancel := context.WithTimeout(ctx, r.config.Timeout)
		segments, err := r.transcriber.Transcribe(callCtx, piece.Data)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("piece %d of %d: %w", i+1, len(pieces), err)
		}
		for _, seg := range segments {
			all = append(all, shift(seg, piece.Start))
		}
	}
	return all, nil
}

func shift(seg repositories.TranscriptSegment, offset float64) repositories.TranscriptSegment {
	seg.Start += offset
	seg.End += offset
	if len(seg.Words) > 0 {
		words := make([]repositories.TranscriptWord, len(seg.Words))
		for i, w := range seg.Words {
			words[i] = repositories.TranscriptWord{Text: w.Text, Start: w.Start + offset, End: w.End + offset}
		}
		seg.Words = words
	}
	return seg
}
