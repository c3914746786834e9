package stt

import (
	"context"
	"os"
	"testing"
	"time"

	"cloud.google.com/go/speech/apiv1/speechpb"
	"go.uber.org/zap/zaptest"
	"google.golang.org/protobuf/types/known/durationpb"

	"github.com/satriahrh/narrasi/internal/wavfile"
)

func seconds(s float64) *durationpb.Duration {
	return durationpb.New(time.Duration(s * float64(time.Second)))
}

func TestSegmentsFromResults(t *testing.T) {
	results := []*speechpb.SpeechRecognitionResult{
		{
			Alternatives: []*speechpb.SpeechRecognitionAlternative{{
				Transcript: "The castle stood.",
				Words: []*speechpb.WordInfo{
					{Word: "The", StartTime: seconds(0.2), EndTime: seconds(0.4)},
					{Word: "castle", StartTime: seconds(0.4), EndTime: seconds(0.9)},
					{Word: "stood.", StartTime: seconds(0.9), EndTime: seconds(1.3)},
				},
			}},
		},
		{Alternatives: nil},
		{
			Alternatives:  []*speechpb.SpeechRecognitionAlternative{{Transcript: " No words here "}},
			ResultEndTime: seconds(2.5),
		},
	}

	segments := segmentsFromResults(results)
	if len(segments) != 2 {
		t.Fatalf("Expected 2 segments, got %d", len(segments))
	}
	if segments[0].Start != 0.2 || segments[0].End != 1.3 || len(segments[0].Words) != 3 {
		t.Errorf("Unexpected first segment: %+v", segments[0])
	}
	if segments[1].Text != "No words here" || segments[1].Start != 1.3 || segments[1].End != 2.5 {
		t.Errorf("Unexpected second segment: %+v", segments[1])
	}
}

func TestGoogleSpeechToText_Integration(t *testing.T) {
	if os.Getenv("GOOGLE_APPLICATION_CREDENTIALS") == "" {
		t.Skip("GOOGLE_APPLICATION_CREDENTIALS not set, skipping integration test")
	}

	ctx := context.Background()
	g, err := NewGoogleSpeechToText(ctx, GoogleConfig{}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	defer g.Close()

	silence := wavfile.Build(wavfile.PCM16Mono(16000), make([]byte, 32000))
	if _, err := g.Transcribe(ctx, silence); err != nil {
		t.Errorf("Transcribe failed: %v", err)
	}
	if g.Limits().MaxBytes != defaultGoogleMaxBytes {
		t.Errorf("Expected default byte limit, got %d", g.Limits().MaxBytes)
	}
}
