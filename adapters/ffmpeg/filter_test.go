package ffmpeg

import (
	"context"
	"errors"
	"math"
	"os"
	"strings"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/satriahrh/narrasi/domain/repositories"
	"github.com/satriahrh/narrasi/internal/wavfile"
)

func silence(seconds float64) []byte {
	return wavfile.Build(wavfile.PCM16Mono(8000), make([]byte, int(seconds*8000)*2))
}

func TestTrimGraph(t *testing.T) {
	single := trimGraph([]repositories.TimeRange{{Start: 0, End: 1.5}})
	if single != "[0:a]atrim=start=0.000000:end=1.500000,asetpts=PTS-STARTPTS[out]" {
		t.Errorf("Unexpected single range graph: %s", single)
	}

	multi := trimGraph([]repositories.TimeRange{{Start: 0, End: 1}, {Start: 2, End: 3.25}})
	want := "[0:a]atrim=start=0.000000:end=1.000000,asetpts=PTS-STARTPTS[a0];" +
		"[0:a]atrim=start=2.000000:end=3.250000,asetpts=PTS-STARTPTS[a1];" +
		"[a0][a1]concat=n=2:v=0:a=1[out]"
	if multi != want {
		t.Errorf("Unexpected graph:\n got %s\nwant %s", multi, want)
	}
}

func TestAtempoChain(t *testing.T) {
	tests := []struct {
		factor float64
		want   string
	}{
		{1.25, "atempo=1.250000"},
		{0.5, "atempo=0.500000"},
		{3, "atempo=2.000000,atempo=1.500000"},
		{0.25, "atempo=0.500000,atempo=0.500000"},
	}
	for _, tt := range tests {
		if got := atempoChain(tt.factor); got != tt.want {
			t.Errorf("atempoChain(%v) = %s, want %s", tt.factor, got, tt.want)
		}
	}
}

func TestFilter_Native(t *testing.T) {
	f, err := NewFilter(Config{}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewFilter failed: %v", err)
	}
	if !f.Native() {
		t.Fatal("Expected native filter without a command")
	}

	ctx := context.Background()
	out, err := f.KeepRanges(ctx, silence(3), []repositories.TimeRange{{Start: 0, End: 1}, {Start: 2, End: 3}})
	if err != nil {
		t.Fatalf("KeepRanges failed: %v", err)
	}
	if d, _ := wavfile.Duration(out); math.Abs(d-2) > 0.001 {
		t.Errorf("Expected 2s after trimming, got %fs", d)
	}

	out, err = f.Tempo(ctx, silence(2), 2)
	if err != nil {
		t.Fatalf("Tempo failed: %v", err)
	}
	if d, _ := wavfile.Duration(out); math.Abs(d-1) > 0.01 {
		t.Errorf("Expected 1s after tempo, got %fs", d)
	}
}

func TestFilter_Command(t *testing.T) {
	f, err := NewFilter(Config{Command: DefaultCommand, TempDir: t.TempDir()}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewFilter failed: %v", err)
	}

	var gotName string
	var gotArgs []string
	f.run = func(ctx context.Context, name string, args ...string) ([]byte, error) {
		gotName, gotArgs = name, args
		return nil, os.WriteFile(args[len(args)-1], silence(0.5), 0o600)
	}

	out, err := f.Tempo(context.Background(), silence(1), 2)
	if err != nil {
		t.Fatalf("Tempo failed: %v", err)
	}
	if d, _ := wavfile.Duration(out); math.Abs(d-0.5) > 0.001 {
		t.Errorf("Expected command output to be returned, got %fs", d)
	}
	if gotName != "ffmpeg" {
		t.Errorf("Expected ffmpeg binary, got %s", gotName)
	}
	joined := strings.Join(gotArgs, " ")
	for _, want := range []string{"-hide_banner", "-loglevel error", "-filter:a atempo=2.000000", "-ar 8000", "-ac 1"} {
		if !strings.Contains(joined, want) {
			t.Errorf("Expected args to contain %q, got %s", want, joined)
		}
	}

	f.run = func(ctx context.Context, name string, args ...string) ([]byte, error) {
		return []byte("Invalid filter"), errors.New("exit status 1")
	}
	if _, err := f.KeepRanges(context.Background(), silence(1), []repositories.TimeRange{{Start: 0, End: 0.5}}); err == nil || !strings.Contains(err.Error(), "Invalid filter") {
		t.Errorf("Expected ffmpeg output in error, got %v", err)
	}
}

func TestNewFilter_BadCommand(t *testing.T) {
	if _, err := NewFilter(Config{Command: `ffmpeg "unterminated`}, zaptest.NewLogger(t)); err == nil {
		t.Error("Expected parse error")
	}
}
