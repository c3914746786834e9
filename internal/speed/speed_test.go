package speed

import (
	"context"
	"errors"
	"math"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/satriahrh/narrasi/domain/entities"
	"github.com/satriahrh/narrasi/domain/repositories"
	"github.com/satriahrh/narrasi/internal/wavfile"
)

type recordingFilter struct {
	factors []float64
	err     error
}

func (f *recordingFilter) KeepRanges(ctx context.Context, wav []byte, keep []repositories.TimeRange) ([]byte, error) {
	return wavfile.KeepRanges(wav, keep)
}

func (f *recordingFilter) Tempo(ctx context.Context, wav []byte, factor float64) ([]byte, error) {
	f.factors = append(f.factors, factor)
	if f.err != nil {
		return nil, f.err
	}
	return wavfile.Stretch(wav, factor)
}

func audio(seconds float64) []byte {
	return wavfile.Build(wavfile.PCM16Mono(8000), make([]byte, int(seconds*8000)*2))
}

func TestAdjust_IdentityAtOne(t *testing.T) {
	filter := &recordingFilter{}
	a := NewAdjuster(filter, zaptest.NewLogger(t))
	in := audio(1)

	res, err := a.Adjust(context.Background(), in, 1)
	if err != nil {
		t.Fatalf("Adjust failed: %v", err)
	}
	if &res.Audio[0] != &in[0] || len(res.Audio) != len(in) {
		t.Error("Expected the input slice to be returned unchanged")
	}
	if len(filter.factors) != 0 {
		t.Error("Expected no filter call at factor 1")
	}
}

func TestAdjust_Duration(t *testing.T) {
	tests := []struct {
		requested float64
		applied   float64
		duration  float64
	}{
		{1.25, 1.25, 3.2},
		{0.8, 0.8, 5},
		{4, 2, 2},
		{0.1, 0.5, 8},
	}
	for _, tt := range tests {
		filter := &recordingFilter{}
		a := NewAdjuster(filter, zaptest.NewLogger(t))
		res, err := a.Adjust(context.Background(), audio(4), tt.requested)
		if err != nil {
			t.Fatalf("factor %v: %v", tt.requested, err)
		}
		if res.Factor != tt.applied || filter.factors[0] != tt.applied {
			t.Errorf("factor %v: expected %v applied, got %v", tt.requested, tt.applied, res.Factor)
		}
		if math.Abs(res.DurationSeconds-tt.duration) > 1e-9 {
			t.Errorf("factor %v: expected duration %v, got %v", tt.requested, tt.duration, res.DurationSeconds)
		}
	}
}

func TestAdjust_Errors(t *testing.T) {
	a := NewAdjuster(&recordingFilter{}, zaptest.NewLogger(t))
	if _, err := a.Adjust(context.Background(), audio(1), 0); !entities.IsValidationError(err) {
		t.Errorf("Expected validation error, got %v", err)
	}
	if _, err := a.Adjust(context.Background(), []byte("nope"), 1.5); !entities.IsFormatError(err) {
		t.Errorf("Expected format error, got %v", err)
	}

	boom := errors.New("ffmpeg missing")
	a = NewAdjuster(&recordingFilter{err: boom}, zaptest.NewLogger(t))
	if _, err := a.Adjust(context.Background(), audio(1), 1.5); !errors.Is(err, boom) {
		t.Errorf("Expected filter error, got %v", err)
	}
}
