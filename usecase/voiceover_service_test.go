package usecase

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/satriahrh/narrasi/adapters"
	"github.com/satriahrh/narrasi/adapters/ffmpeg"
	"github.com/satriahrh/narrasi/adapters/storage"
	"github.com/satriahrh/narrasi/adapters/tts"
	"github.com/satriahrh/narrasi/domain/entities"
	"github.com/satriahrh/narrasi/domain/repositories"
	"github.com/satriahrh/narrasi/internal/progress"
	"github.com/satriahrh/narrasi/internal/repetition"
	"github.com/satriahrh/narrasi/internal/speed"
	"github.com/satriahrh/narrasi/internal/synthesis"
	"github.com/satriahrh/narrasi/internal/telemetry"
	"github.com/satriahrh/narrasi/internal/wavfile"
)

const tenSentences = "The morning fog rolled over hills. " +
	"A lone rider crossed the valley. " +
	"Villagers watched from their wooden porches. " +
	"Quasar lights flickered above the tower. " +
	"The blacksmith hammered glowing iron bars. " +
	"Children chased geese along the river. " +
	"Merchants argued loudly over silk prices. " +
	"An old bell rang at noon. " +
	"Rain began falling on dusty roads. " +
	"Everyone hurried home before the storm."

// flakySynthesizer always rejects text containing marker
type flakySynthesizer struct {
	inner  repositories.SpeechSynthesizer
	marker string

	mu    sync.Mutex
	calls int
}

func (f *flakySynthesizer) Synthesize(ctx context.Context, req repositories.SynthesisRequest) ([]byte, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.marker != "" && strings.Contains(req.Text, f.marker) {
		return nil, errors.New("worker rejected job")
	}
	return f.inner.Synthesize(ctx, req)
}

type failingStorage struct {
	repositories.ObjectStorage
}

func (failingStorage) Upload(ctx context.Context, path string, data []byte, contentType string) error {
	return &entities.StorageError{Op: "upload", Path: path, Err: errors.New("bucket unavailable")}
}

type recorder struct {
	mu     sync.Mutex
	events []progress.Event
}

func (r *recorder) Emit(e progress.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) all() []progress.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]progress.Event(nil), r.events...)
}

type fixture struct {
	service *VoiceoverService
	synth   *flakySynthesizer
	store   *storage.FileStore
	groups  *adapters.MemoryAssetGroupRepository
}

func newFixture(t *testing.T, marker string) *fixture {
	t.Helper()
	logger := zaptest.NewLogger(t)

	store, err := storage.NewFileStore(t.TempDir(), "http://localhost:8080/files", logger)
	if err != nil {
		t.Fatalf("Failed to create file store: %v", err)
	}
	filter, err := ffmpeg.NewFilter(ffmpeg.Config{}, logger)
	if err != nil {
		t.Fatalf("Failed to create filter: %v", err)
	}

	synth := &flakySynthesizer{inner: tts.NewMockTTS(zap.NewNop()), marker: marker}
	dispatcher := synthesis.NewDispatcher(synth, synthesis.Config{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		MaxDelay:    time.Millisecond,
	}, telemetry.Noop(), logger)
	groups := adapters.NewMemoryAssetGroupRepository()

	service := NewVoiceoverService(
		dispatcher,
		store,
		groups,
		repetition.NewRemover(nil, nil, repetition.DefaultConfig(), telemetry.Noop(), logger),
		speed.NewAdjuster(filter, logger),
		nil,
		VoiceoverConfig{Segments: 10, Concurrency: 4},
		telemetry.Noop(),
		logger,
	)
	return &fixture{service: service, synth: synth, store: store, groups: groups}
}

func assertMonotonic(t *testing.T, events []progress.Event) {
	t.Helper()
	last := 0.0
	for _, e := range events {
		if e.Type == progress.EventError {
			continue
		}
		if e.Percent < last {
			t.Fatalf("Progress went backwards: %v after %v", e.Percent, last)
		}
		last = e.Percent
	}
}

func TestGenerate_SkipsFailedSegment(t *testing.T) {
	f := newFixture(t, "Quasar")
	rec := &recorder{}
	ctx := context.Background()

	result, err := f.service.Generate(ctx, GenerateRequest{Script: tenSentences}, rec)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	if len(result.Segments) != 10 {
		t.Fatalf("Expected 10 segment records, got %d", len(result.Segments))
	}
	if len(result.FailedSegments) != 1 || result.FailedSegments[0] != 4 {
		t.Errorf("Expected segment 4 flagged as failed, got %v", result.FailedSegments)
	}

	want := 0.0
	for _, s := range result.Segments {
		if s.Index == 4 {
			if s.Status != entities.SegmentStatusFailed || s.Error == "" {
				t.Errorf("Expected failed record for segment 4, got %+v", s)
			}
			continue
		}
		if s.Status != entities.SegmentStatusCompleted {
			t.Errorf("Expected segment %d completed, got %s", s.Index, s.Status)
		}
		want += s.DurationSeconds
	}
	if math.Abs(result.DurationSeconds-want) > 1e-6 {
		t.Errorf("Expected combined duration %f, got %f", want, result.DurationSeconds)
	}

	combined, err := f.store.Download(ctx, result.Path)
	if err != nil {
		t.Fatalf("Combined asset not stored: %v", err)
	}
	d, err := wavfile.Duration(combined)
	if err != nil || math.Abs(d-want) > 1e-6 {
		t.Errorf("Stored asset lasts %f (err %v), want %f", d, err, want)
	}
	if result.URL != "http://localhost:8080/files/"+result.AssetGroupID+"/voiceover.wav" {
		t.Errorf("Unexpected URL %s", result.URL)
	}

	events := rec.all()
	assertMonotonic(t, events)
	lastEvent := events[len(events)-1]
	if lastEvent.Type != progress.EventComplete || lastEvent.Result == nil {
		t.Errorf("Expected complete event last, got %+v", lastEvent)
	}
	for _, e := range events[:len(events)-1] {
		if e.Terminal() {
			t.Errorf("Unexpected terminal event before the end: %+v", e)
		}
	}
}

func TestGenerate_AllSegmentsFail(t *testing.T) {
	f := newFixture(t, "Quasar")
	rec := &recorder{}

	_, err := f.service.Generate(context.Background(), GenerateRequest{Script: "Quasar beams lit the sky tonight."}, rec)
	if !entities.IsSynthesisError(err) {
		t.Fatalf("Expected SynthesisError, got %v", err)
	}

	events := rec.all()
	lastEvent := events[len(events)-1]
	if lastEvent.Type != progress.EventError || lastEvent.Message != "speech synthesis failed" {
		t.Errorf("Expected sanitized error event, got %+v", lastEvent)
	}
	f.synth.mu.Lock()
	calls := f.synth.calls
	f.synth.mu.Unlock()
	if calls != 3 {
		t.Errorf("Expected 3 attempts, got %d", calls)
	}
}

func TestGenerate_Validation(t *testing.T) {
	f := newFixture(t, "")
	rec := &recorder{}

	_, err := f.service.Generate(context.Background(), GenerateRequest{Script: "  \n\t "}, rec)
	if !entities.IsValidationError(err) {
		t.Fatalf("Expected ValidationError, got %v", err)
	}
	events := rec.all()
	if len(events) != 1 || events[0].Type != progress.EventError {
		t.Errorf("Expected a single error event, got %+v", events)
	}

	if _, err := f.service.Generate(context.Background(), GenerateRequest{Script: tenSentences, Speed: -1}, nil); !entities.IsValidationError(err) {
		t.Errorf("Expected ValidationError for negative speed, got %v", err)
	}
	if _, err := f.service.Generate(context.Background(), GenerateRequest{Script: tenSentences, ReferenceVoiceURL: "https://voices.example.com/a.wav"}, nil); !entities.IsValidationError(err) {
		t.Errorf("Expected ValidationError without a voice fetcher, got %v", err)
	}
	if f.synth.calls != 0 {
		t.Errorf("Expected no synthesis for invalid requests, got %d calls", f.synth.calls)
	}
}

func TestGenerate_StorageFailureIsFatal(t *testing.T) {
	f := newFixture(t, "")
	f.service.storage = failingStorage{ObjectStorage: f.store}

	_, err := f.service.Generate(context.Background(), GenerateRequest{Script: tenSentences}, nil)
	if !entities.IsStorageError(err) {
		t.Fatalf("Expected StorageError, got %v", err)
	}
	if PublicMessage(err) != "storage is unavailable, please retry" {
		t.Errorf("Unexpected public message %q", PublicMessage(err))
	}
}

func TestRegenerateAndRecombine(t *testing.T) {
	f := newFixture(t, "Quasar")
	ctx := context.Background()

	first, err := f.service.Generate(ctx, GenerateRequest{Script: tenSentences}, nil)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	regenerated, err := f.service.RegenerateSegment(ctx, RegenerateRequest{
		AssetGroupID: first.AssetGroupID,
		SegmentIndex: 4,
		SegmentText:  "Bright lights flickered above the tower.",
	}, nil)
	if err != nil {
		t.Fatalf("RegenerateSegment failed: %v", err)
	}
	if regenerated.Path != entities.SegmentPath(first.AssetGroupID, 4) {
		t.Errorf("Unexpected segment path %s", regenerated.Path)
	}
	if len(regenerated.FailedSegments) != 0 {
		t.Errorf("Expected no failed segments after regeneration, got %v", regenerated.FailedSegments)
	}

	rec := &recorder{}
	recombined, err := f.service.Recombine(ctx, RecombineRequest{AssetGroupID: first.AssetGroupID}, rec)
	if err != nil {
		t.Fatalf("Recombine failed: %v", err)
	}
	want := first.DurationSeconds + regenerated.DurationSeconds
	if math.Abs(recombined.DurationSeconds-want) > 1e-6 {
		t.Errorf("Expected %f after recombining, got %f", want, recombined.DurationSeconds)
	}
	assertMonotonic(t, rec.all())

	faster, err := f.service.Recombine(ctx, RecombineRequest{AssetGroupID: first.AssetGroupID, Speed: 2}, nil)
	if err != nil {
		t.Fatalf("Recombine at speed 2 failed: %v", err)
	}
	if faster.Speed != 2 || math.Abs(faster.DurationSeconds-want/2) > 1e-6 {
		t.Errorf("Expected %fs at speed 2, got %fs at %v", want/2, faster.DurationSeconds, faster.Speed)
	}

	group, err := f.service.AssetGroup(ctx, first.AssetGroupID)
	if err != nil {
		t.Fatalf("AssetGroup failed: %v", err)
	}
	if group.Speed != 2 || group.Combined == nil || group.Combined.ByteSize != faster.ByteSize {
		t.Errorf("Asset group not updated: %+v", group)
	}
}

func TestRecombine_Errors(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()

	if _, err := f.service.Recombine(ctx, RecombineRequest{AssetGroupID: "missing"}, nil); !errors.Is(err, entities.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}

	if err := f.groups.Save(ctx, &entities.AssetGroup{ID: "empty"}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if _, err := f.service.Recombine(ctx, RecombineRequest{AssetGroupID: "empty"}, nil); !entities.IsValidationError(err) {
		t.Errorf("Expected ValidationError, got %v", err)
	}

	if _, err := f.service.RegenerateSegment(ctx, RegenerateRequest{AssetGroupID: "empty", SegmentIndex: 0, SegmentText: "Hello there."}, nil); !entities.IsValidationError(err) {
		t.Errorf("Expected ValidationError for index 0, got %v", err)
	}
}
