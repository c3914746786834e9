package tts

import (
	"bytes"
	"context"
	"math"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/narrasi/domain/repositories"
	"github.com/satriahrh/narrasi/internal/wavfile"
)

func TestMockTTS_Synthesize(t *testing.T) {
	m := NewMockTTS(zap.NewNop())
	ctx := context.Background()

	a, err := m.Synthesize(ctx, repositories.SynthesisRequest{Text: "Hello there, world."})
	if err != nil {
		t.Fatalf("Synthesize failed: %v", err)
	}
	b, _ := m.Synthesize(ctx, repositories.SynthesisRequest{Text: "Hello there, world."})
	if !bytes.Equal(a, b) {
		t.Error("Expected identical audio for identical text")
	}

	d, err := wavfile.Duration(a)
	if err != nil {
		t.Fatalf("Output is not a wav container: %v", err)
	}
	want := float64(len("Hello there, world.")) * mockSecondsPerChar
	if math.Abs(d-want) > 0.001 {
		t.Errorf("Expected %fs, got %fs", want, d)
	}

	ratio, err := wavfile.SilentWindowRatio(a, 50*time.Millisecond, 0.01)
	if err != nil || ratio > 0 {
		t.Errorf("Expected audible output, got ratio %f err %v", ratio, err)
	}

	if _, err := m.Synthesize(ctx, repositories.SynthesisRequest{Text: " "}); err == nil {
		t.Error("Expected error for empty text")
	}
}
