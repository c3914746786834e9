package synthesis

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/satriahrh/narrasi/domain/entities"
	"github.com/satriahrh/narrasi/domain/repositories"
	"github.com/satriahrh/narrasi/internal/textproc"
	"github.com/satriahrh/narrasi/internal/wavfile"
)

const testRate = 8000

func tonePCM(seconds float64) []byte {
	n := int(seconds * testRate)
	pcm := make([]byte, n*2)
	for i := 0; i < n; i++ {
		v := int16(0.5 * 32767 * math.Sin(2*math.Pi*440*float64(i)/testRate))
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(v))
	}
	return pcm
}

func silentWAV(seconds float64) []byte {
	return wavfile.Build(wavfile.PCM16Mono(testRate), make([]byte, int(seconds*testRate)*2))
}

type fakeSynth struct {
	mu      sync.Mutex
	calls   map[string]int
	respond func(ctx context.Context, text string, call int) ([]byte, error)
}

func newFakeSynth(respond func(ctx context.Context, text string, call int) ([]byte, error)) *fakeSynth {
	return &fakeSynth{calls: make(map[string]int), respond: respond}
}

func (f *fakeSynth) Synthesize(ctx context.Context, req repositories.SynthesisRequest) ([]byte, error) {
	f.mu.Lock()
	f.calls[req.Text]++
	call := f.calls[req.Text]
	f.mu.Unlock()
	return f.respond(ctx, req.Text, call)
}

func (f *fakeSynth) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

func newTestDispatcher(t *testing.T, synth repositories.SpeechSynthesizer, config Config) (*Dispatcher, *[]time.Duration) {
	if config.ChunkLimits.MaxLength == 0 {
		config.ChunkLimits = textproc.Limits{MinLength: 3, MaxLength: 40}
	}
	d := NewDispatcher(synth, config, nil, zaptest.NewLogger(t))
	var delays []time.Duration
	d.sleep = func(ctx context.Context, delay time.Duration) error {
		delays = append(delays, delay)
		return nil
	}
	return d, &delays
}

var fiveChunks = []string{
	"Chunk one is spoken right here.",
	"Chunk two is spoken right here.",
	"Chunk three is spoken right here.",
	"Chunk four is spoken right here.",
	"Chunk five is spoken right here.",
}

func TestSynthesizeSegment_RetriesThenSucceeds(t *testing.T) {
	pcm := make(map[string][]byte)
	for i, text := range fiveChunks {
		pcm[text] = tonePCM(0.1 * float64(i+1))
	}
	synth := newFakeSynth(func(ctx context.Context, text string, call int) ([]byte, error) {
		if strings.Contains(text, "three") && call <= 2 {
			return nil, errors.New("worker returned 503")
		}
		return wavfile.Build(wavfile.PCM16Mono(testRate), pcm[text]), nil
	})
	d, delays := newTestDispatcher(t, synth, Config{})

	var progress []int
	result, err := d.SynthesizeSegment(context.Background(), strings.Join(fiveChunks, " "), nil, func(done, total int) {
		if total != 5 {
			t.Errorf("Expected 5 chunks, got %d", total)
		}
		progress = append(progress, done)
	})
	if err != nil {
		t.Fatalf("SynthesizeSegment failed: %v", err)
	}
	if result.ChunksTotal != 5 || result.ChunksFailed != 0 {
		t.Errorf("Unexpected counts: %+v", result)
	}
	if len(*delays) != 2 || (*delays)[0] != time.Second || (*delays)[1] != 2*time.Second {
		t.Errorf("Expected two backoff delays, got %v", *delays)
	}
	if len(progress) != 5 || progress[4] != 5 {
		t.Errorf("Expected a callback per chunk, got %v", progress)
	}

	var want []byte
	for _, text := range fiveChunks {
		want = append(want, pcm[text]...)
	}
	a, err := wavfile.Parse(result.Audio)
	if err != nil {
		t.Fatalf("Result is not a valid container: %v", err)
	}
	if !bytes.Equal(a.PCM(), want) {
		t.Error("Chunks are missing or out of order")
	}
	if math.Abs(result.DurationSeconds-1.5) > 1e-9 {
		t.Errorf("Expected 1.5s, got %f", result.DurationSeconds)
	}
}

func TestSynthesize_AnomalousResultRetried(t *testing.T) {
	synth := newFakeSynth(func(ctx context.Context, text string, call int) ([]byte, error) {
		if call == 1 {
			return silentWAV(0.5), nil
		}
		return wavfile.Build(wavfile.PCM16Mono(testRate), tonePCM(0.5)), nil
	})
	d, delays := newTestDispatcher(t, synth, Config{})

	audio, err := d.Synthesize(context.Background(), "Hello there.", nil)
	if err != nil {
		t.Fatalf("Synthesize failed: %v", err)
	}
	if synth.total() != 2 || len(*delays) != 1 {
		t.Errorf("Expected one retry, got %d calls and delays %v", synth.total(), *delays)
	}
	ratio, _ := wavfile.SilentWindowRatio(audio, 50*time.Millisecond, 0.01)
	if ratio > 0.5 {
		t.Error("Expected the audible result")
	}
}

func TestSynthesize_AnomalyAcceptedOnFinalAttempt(t *testing.T) {
	synth := newFakeSynth(func(ctx context.Context, text string, call int) ([]byte, error) {
		return silentWAV(0.5), nil
	})
	d, _ := newTestDispatcher(t, synth, Config{})

	audio, err := d.Synthesize(context.Background(), "Hello there.", nil)
	if err != nil {
		t.Fatalf("Expected the final anomalous result to be accepted, got %v", err)
	}
	if audio == nil {
		t.Fatal("Expected audio")
	}
	if synth.total() != 3 {
		t.Errorf("Expected 3 attempts, got %d", synth.total())
	}
}

func TestSynthesize_JobTimeout(t *testing.T) {
	synth := newFakeSynth(func(ctx context.Context, text string, call int) ([]byte, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	d, _ := newTestDispatcher(t, synth, Config{MaxAttempts: 1, JobTimeout: 10 * time.Millisecond})

	_, err := d.Synthesize(context.Background(), "Hello there.", nil)
	if !entities.IsSynthesisError(err) {
		t.Fatalf("Expected SynthesisError, got %v", err)
	}
	if !errors.Is(err, entities.ErrTimeout) {
		t.Errorf("Expected ErrTimeout, got %v", err)
	}
}

func TestSynthesize_MalformedAudioNotRetried(t *testing.T) {
	synth := newFakeSynth(func(ctx context.Context, text string, call int) ([]byte, error) {
		return []byte("garbage"), nil
	})
	d, delays := newTestDispatcher(t, synth, Config{})

	_, err := d.Synthesize(context.Background(), "Hello there.", nil)
	if !entities.IsFormatError(err) {
		t.Fatalf("Expected FormatError, got %v", err)
	}
	if synth.total() != 1 || len(*delays) != 0 {
		t.Errorf("Expected a single attempt, got %d", synth.total())
	}
}

func TestSynthesizeSegment_AllChunksFail(t *testing.T) {
	synth := newFakeSynth(func(ctx context.Context, text string, call int) ([]byte, error) {
		return nil, errors.New("worker down")
	})
	d, _ := newTestDispatcher(t, synth, Config{})

	result, err := d.SynthesizeSegment(context.Background(), strings.Join(fiveChunks[:2], " "), nil, nil)
	if !entities.IsSynthesisError(err) || !errors.Is(err, ErrNoAudio) {
		t.Fatalf("Expected SynthesisError wrapping ErrNoAudio, got %v", err)
	}
	if result.ChunksFailed != 2 || result.ChunksTotal != 2 {
		t.Errorf("Unexpected counts: %+v", result)
	}
	if synth.total() != 6 {
		t.Errorf("Expected 3 attempts per chunk, got %d calls", synth.total())
	}
}

func TestSynthesizeSegment_PartialChunkFailure(t *testing.T) {
	synth := newFakeSynth(func(ctx context.Context, text string, call int) ([]byte, error) {
		if strings.Contains(text, "two") {
			return nil, errors.New("always fails")
		}
		return wavfile.Build(wavfile.PCM16Mono(testRate), tonePCM(0.2)), nil
	})
	d, _ := newTestDispatcher(t, synth, Config{})

	result, err := d.SynthesizeSegment(context.Background(), strings.Join(fiveChunks[:3], " "), nil, nil)
	if err != nil {
		t.Fatalf("Expected partial success, got %v", err)
	}
	if result.ChunksFailed != 1 {
		t.Errorf("Expected 1 failed chunk, got %d", result.ChunksFailed)
	}
	if math.Abs(result.DurationSeconds-0.4) > 1e-9 {
		t.Errorf("Expected 0.4s from two chunks, got %f", result.DurationSeconds)
	}
}

func TestSynthesizeSegment_NoValidChunks(t *testing.T) {
	synth := newFakeSynth(func(ctx context.Context, text string, call int) ([]byte, error) {
		t.Fatal("Synthesizer must not be called")
		return nil, nil
	})
	d, _ := newTestDispatcher(t, synth, Config{})

	_, err := d.SynthesizeSegment(context.Background(), "!!! ???", nil, nil)
	if !entities.IsValidationError(err) {
		t.Errorf("Expected ValidationError, got %v", err)
	}
}
