package usecase

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/satriahrh/narrasi/domain/entities"
	"github.com/satriahrh/narrasi/domain/repositories"
	"github.com/satriahrh/narrasi/internal/progress"
	"github.com/satriahrh/narrasi/internal/scheduler"
	"github.com/satriahrh/narrasi/internal/speed"
	"github.com/satriahrh/narrasi/internal/synthesis"
	"github.com/satriahrh/narrasi/internal/telemetry"
	"github.com/satriahrh/narrasi/internal/textproc"
	"github.com/satriahrh/narrasi/internal/wavfile"
)

const wavContentType = "audio/wav"

// VoiceSampleFetcher downloads a reference voice recording
type VoiceSampleFetcher interface {
	Fetch(ctx context.Context, rawURL string) ([]byte, error)
}

// VoiceoverConfig sizes the pipeline
type VoiceoverConfig struct {
	Segments    int // Target number of segments per script
	Concurrency int // Segments in flight at once
}

// GenerateRequest asks for a full voice-over of a script
type GenerateRequest struct {
	Script            string
	ReferenceVoiceURL string
	Speed             float64
}

// RegenerateRequest asks for one segment of an asset group to be redone
type RegenerateRequest struct {
	AssetGroupID      string
	SegmentIndex      int
	SegmentText       string
	ReferenceVoiceURL string
}

// RecombineRequest asks for an asset group to be stitched again from its
// persisted segments
type RecombineRequest struct {
	AssetGroupID string
	Speed        float64
}

// VoiceoverService orchestrates segmentation, synthesis, assembly and
// the post-processing passes of a voice-over request
type VoiceoverService struct {
	dispatcher *synthesis.Dispatcher
	storage    repositories.ObjectStorage
	groups     repositories.AssetGroupRepository
	remover    repositories.RepetitionRemover
	adjuster   *speed.Adjuster
	voices     VoiceSampleFetcher
	config     VoiceoverConfig
	metrics    *telemetry.Metrics
	logger     *zap.Logger
}

// NewVoiceoverService creates a new voice-over service. voices may be nil
// when reference voices are not supported.
func NewVoiceoverService(
	dispatcher *synthesis.Dispatcher,
	storage repositories.ObjectStorage,
	groups repositories.AssetGroupRepository,
	remover repositories.RepetitionRemover,
	adjuster *speed.Adjuster,
	voices VoiceSampleFetcher,
	config VoiceoverConfig,
	metrics *telemetry.Metrics,
	logger *zap.Logger,
) *VoiceoverService {
	if config.Segments <= 0 {
		config.Segments = 10
	}
	if config.Concurrency <= 0 {
		config.Concurrency = config.Segments
	}
	return &VoiceoverService{
		dispatcher: dispatcher,
		storage:    storage,
		groups:     groups,
		remover:    remover,
		adjuster:   adjuster,
		voices:     voices,
		config:     config,
		metrics:    metrics,
		logger:     logger,
	}
}

// Generate runs the whole pipeline for a script. Segments that fail are
// recorded and skipped; the request fails only when none succeed.
func (s *VoiceoverService) Generate(ctx context.Context, req GenerateRequest, emitter progress.Emitter) (result *entities.VoiceoverResult, err error) {
	started := time.Now()
	tracker := progress.NewTracker(emitter)
	defer func() { s.finish(ctx, "generate", started, tracker, err) }()

	factor, err := requestedSpeed(req.Speed)
	if err != nil {
		return nil, err
	}
	script := textproc.CleanScript(req.Script)
	segments := textproc.Segment(script, s.config.Segments)
	if len(segments) == 0 {
		return nil, entities.NewValidationError("script has no speakable text")
	}
	reference, err := s.reference(ctx, req.ReferenceVoiceURL)
	if err != nil {
		return nil, err
	}

	group := &entities.AssetGroup{
		ID:                uuid.NewString(),
		Speed:             1,
		ReferenceVoiceURL: req.ReferenceVoiceURL,
	}
	for _, seg := range segments {
		group.Segments = append(group.Segments, entities.SegmentRecord{
			Index:  seg.Index,
			Text:   seg.Text,
			Status: entities.SegmentStatusPending,
		})
	}
	if err := s.groups.Save(ctx, group); err != nil {
		return nil, fmt.Errorf("failed to save asset group: %w", err)
	}

	logger := s.logger.With(zap.String("assetGroupId", group.ID))
	logger.Info("Starting voice-over",
		zap.Int("segments", len(segments)),
		zap.Int("words", textproc.CountWords(script)),
		zap.Bool("referenceVoice", reference != nil))

	tracker.StartSynthesis(len(segments))
	invalid := scheduler.NewResults[bool]()
	err = scheduler.Run(ctx, s.config.Concurrency, len(segments), func(ctx context.Context, i int) error {
		seg := segments[i]
		record, err := s.synthesizeSegment(ctx, group.ID, seg.Index, seg.Text, reference, tracker)
		if err != nil {
			return err
		}
		if record.Status == entities.SegmentStatusFailed {
			invalid.Set(i, record.Error == errInvalidSegment)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	group, err = s.groups.Get(ctx, group.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load asset group: %w", err)
	}
	if len(group.CompletedSegments()) == 0 {
		if allTrue(invalid.Ordered(), len(segments)) {
			return nil, entities.NewValidationError("script has no speakable text")
		}
		return nil, &entities.SynthesisError{Err: errors.New("every segment failed")}
	}

	return s.assemble(ctx, group, factor, true, tracker, logger)
}

// RegenerateSegment synthesizes one segment again and replaces its
// persisted asset. The combined asset is left alone until Recombine.
func (s *VoiceoverService) RegenerateSegment(ctx context.Context, req RegenerateRequest, emitter progress.Emitter) (result *entities.VoiceoverResult, err error) {
	started := time.Now()
	tracker := progress.NewTracker(emitter)
	defer func() { s.finish(ctx, "regenerate", started, tracker, err) }()

	if req.SegmentIndex < 1 {
		return nil, entities.NewValidationError("segment index must be at least 1")
	}
	text := textproc.CleanScript(req.SegmentText)
	if text == "" {
		return nil, entities.NewValidationError("segment text has no speakable text")
	}
	group, err := s.groups.Get(ctx, req.AssetGroupID)
	if err != nil {
		return nil, err
	}
	voiceURL := req.ReferenceVoiceURL
	if voiceURL == "" {
		voiceURL = group.ReferenceVoiceURL
	}
	reference, err := s.reference(ctx, voiceURL)
	if err != nil {
		return nil, err
	}

	tracker.StartSynthesis(1)
	record, err := s.synthesizeSegment(ctx, group.ID, req.SegmentIndex, text, reference, tracker)
	if err != nil {
		return nil, err
	}
	if record.Status != entities.SegmentStatusCompleted {
		if record.Error == errInvalidSegment {
			return nil, entities.NewValidationError("segment text has no speakable text")
		}
		return nil, &entities.SynthesisError{Err: errors.New(record.Error)}
	}

	group, err = s.groups.Get(ctx, group.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load asset group: %w", err)
	}
	result = &entities.VoiceoverResult{
		AssetGroupID:    group.ID,
		URL:             record.URL,
		Path:            record.Path,
		DurationSeconds: record.DurationSeconds,
		ByteSize:        record.ByteSize,
		Speed:           1,
		Segments:        group.Segments,
		FailedSegments:  group.FailedIndices(),
	}
	tracker.Complete(result)
	return result, nil
}

// Recombine stitches the completed segments of an asset group again
// without synthesizing anything
func (s *VoiceoverService) Recombine(ctx context.Context, req RecombineRequest, emitter progress.Emitter) (result *entities.VoiceoverResult, err error) {
	started := time.Now()
	tracker := progress.NewTracker(emitter)
	defer func() { s.finish(ctx, "recombine", started, tracker, err) }()

	factor, err := requestedSpeed(req.Speed)
	if err != nil {
		return nil, err
	}
	group, err := s.groups.Get(ctx, req.AssetGroupID)
	if err != nil {
		return nil, err
	}
	if len(group.CompletedSegments()) == 0 {
		return nil, entities.NewValidationError("asset group has no completed segments")
	}

	tracker.Update(progress.SynthesisEnd, "Recombining persisted segments")
	return s.assemble(ctx, group, factor, false, tracker, s.logger.With(zap.String("assetGroupId", group.ID)))
}

// AssetGroup returns the persisted record of an asset group
func (s *VoiceoverService) AssetGroup(ctx context.Context, id string) (*entities.AssetGroup, error) {
	return s.groups.Get(ctx, id)
}

func (s *VoiceoverService) finish(ctx context.Context, operation string, started time.Time, tracker *progress.Tracker, err error) {
	s.metrics.RequestFinished(ctx, operation, time.Since(started).Seconds(), err == nil)
	if err != nil {
		s.logger.Warn("Voice-over request failed", zap.String("operation", operation), zap.Error(err))
		tracker.Fail(PublicMessage(err))
	}
}

// reference fetches the reference voice, if one was requested
func (s *VoiceoverService) reference(ctx context.Context, rawURL string) ([]byte, error) {
	if rawURL == "" {
		return nil, nil
	}
	if s.voices == nil {
		return nil, entities.NewValidationError("reference voices are not supported")
	}
	return s.voices.Fetch(ctx, rawURL)
}

const errInvalidSegment = "segment has no valid text"

// synthesizeSegment synthesizes, uploads and records one segment. Only
// storage failures and cancellation are returned as errors; any other
// failure is recorded on the segment.
func (s *VoiceoverService) synthesizeSegment(ctx context.Context, groupID string, index int, text string, reference []byte, tracker *progress.Tracker) (entities.SegmentRecord, error) {
	record := entities.SegmentRecord{Index: index, Text: text, Status: entities.SegmentStatusFailed}

	res, err := s.dispatcher.SynthesizeSegment(ctx, text, reference, func(done, total int) {
		tracker.ChunkDone(index, done, total)
	})
	if res != nil {
		record.ChunksTotal = res.ChunksTotal
		record.ChunksFailed = res.ChunksFailed
	}
	if err != nil {
		if ctx.Err() != nil {
			return record, ctx.Err()
		}
		record.Error = "speech synthesis failed"
		if entities.IsValidationError(err) {
			record.Error = errInvalidSegment
		}
		s.metrics.SegmentFailed(ctx)
		s.logger.Warn("Segment failed",
			zap.String("assetGroupId", groupID),
			zap.Int("segmentIndex", index),
			zap.Error(err))
		if err := s.groups.UpdateSegment(ctx, groupID, record); err != nil {
			return record, fmt.Errorf("failed to record segment %d: %w", index, err)
		}
		tracker.SegmentDone(index, fmt.Sprintf("Segment %d failed", index))
		return record, nil
	}

	path := entities.SegmentPath(groupID, index)
	if err := s.storage.Upload(ctx, path, res.Audio, wavContentType); err != nil {
		return record, err
	}
	record.Status = entities.SegmentStatusCompleted
	record.Path = path
	record.URL = s.storage.PublicURL(path)
	record.DurationSeconds = res.DurationSeconds
	record.ByteSize = int64(len(res.Audio))
	if err := s.groups.UpdateSegment(ctx, groupID, record); err != nil {
		return record, fmt.Errorf("failed to record segment %d: %w", index, err)
	}

	s.logger.Info("Segment completed",
		zap.String("assetGroupId", groupID),
		zap.Int("segmentIndex", index),
		zap.Float64("duration", res.DurationSeconds),
		zap.Int("chunksFailed", res.ChunksFailed))
	tracker.SegmentDone(index, fmt.Sprintf("Segment %d completed", index))
	return record, nil
}

// assemble streams the completed segments into one asset, runs the
// quality and speed passes, uploads the result and records it
func (s *VoiceoverService) assemble(ctx context.Context, group *entities.AssetGroup, factor float64, removeRepetitions bool, tracker *progress.Tracker, logger *zap.Logger) (*entities.VoiceoverResult, error) {
	completed := group.CompletedSegments()
	sources := make([]wavfile.Source, len(completed))
	for i, rec := range completed {
		sources[i] = wavfile.Source{Path: rec.Path, Size: rec.ByteSize}
	}

	asset, err := wavfile.AssembleStream(ctx, sources, s.storage.Download)
	if err != nil {
		return nil, err
	}
	audio := asset.Data
	duration := asset.Duration()
	tracker.Update(progress.AssemblyEnd, fmt.Sprintf("Assembled %d segments", len(completed)))

	var removed []entities.RepetitionRange
	if removeRepetitions && s.remover != nil {
		cleaned, ranges, err := s.remover.Remove(ctx, audio)
		if err != nil {
			return nil, err
		}
		if len(ranges) > 0 {
			if d, err := wavfile.Duration(cleaned); err == nil {
				audio, duration, removed = cleaned, d, ranges
			}
		}
		tracker.Update(progress.RepetitionEnd, fmt.Sprintf("Removed %d repeated passages", len(removed)))
	}

	applied := 1.0
	if factor != 1 && s.adjuster != nil {
		res, err := s.adjuster.Adjust(ctx, audio, factor)
		switch {
		case err == nil:
			audio, duration, applied = res.Audio, res.DurationSeconds, res.Factor
		case ctx.Err() != nil:
			return nil, ctx.Err()
		default:
			logger.Warn("Speed adjustment failed, keeping original tempo", zap.Float64("speed", factor), zap.Error(err))
		}
	}

	path := entities.VoiceoverPath(group.ID)
	if err := s.storage.Upload(ctx, path, audio, wavContentType); err != nil {
		return nil, err
	}

	group.Combined = &entities.CombinedAsset{
		Path:            path,
		URL:             s.storage.PublicURL(path),
		DurationSeconds: duration,
		ByteSize:        int64(len(audio)),
	}
	group.Speed = applied
	group.RepetitionsRemoved = removed
	if err := s.groups.Save(ctx, group); err != nil {
		return nil, fmt.Errorf("failed to save asset group: %w", err)
	}

	result := &entities.VoiceoverResult{
		AssetGroupID:    group.ID,
		URL:             group.Combined.URL,
		Path:            path,
		DurationSeconds: duration,
		ByteSize:        group.Combined.ByteSize,
		Speed:           applied,
		Segments:        group.Segments,
		FailedSegments:  group.FailedIndices(),
		RemovedRanges:   removed,
	}
	logger.Info("Voice-over completed",
		zap.Float64("duration", duration),
		zap.Int64("size", result.ByteSize),
		zap.Ints("failedSegments", result.FailedSegments))
	tracker.Complete(result)
	return result, nil
}

// requestedSpeed maps an unset speed to 1 and rejects invalid values
func requestedSpeed(v float64) (float64, error) {
	if v == 0 {
		return 1, nil
	}
	if v < 0 || math.IsNaN(v) {
		return 0, entities.NewValidationError("speed must be positive")
	}
	return v, nil
}

func allTrue(values []bool, want int) bool {
	if len(values) != want {
		return false
	}
	for _, v := range values {
		if !v {
			return false
		}
	}
	return true
}

// PublicMessage turns an error into text safe to show a caller
func PublicMessage(err error) string {
	var validation *entities.ValidationError
	switch {
	case errors.As(err, &validation):
		return validation.Reason
	case errors.Is(err, entities.ErrNotFound):
		return "asset group not found"
	case entities.IsStorageError(err):
		return "storage is unavailable, please retry"
	case entities.IsSynthesisError(err):
		return "speech synthesis failed"
	case entities.IsFormatError(err):
		return "synthesized audio was malformed"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "request cancelled"
	default:
		return "internal error"
	}
}
