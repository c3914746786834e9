package repositories

import "context"

// TranscriptWord is a single recognized word with its timing in seconds
type TranscriptWord struct {
	Text  string  `json:"word"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// TranscriptSegment is a timestamped span of recognized speech
type TranscriptSegment struct {
	Text  string           `json:"text"`
	Start float64          `json:"start"`
	End   float64          `json:"end"`
	Words []TranscriptWord `json:"words,omitempty"`
}

// TranscriptionLimits describes the largest payload a transcriber accepts
type TranscriptionLimits struct {
	MaxBytes   int
	MaxSeconds float64
}

// Transcriber abstracts a speech-to-text service with timestamps
type Transcriber interface {
	// Transcribe converts a WAV payload into timestamped segments
	Transcribe(ctx context.Context, wav []byte) ([]TranscriptSegment, error)
	// Limits reports the payload limits of the service
	Limits() TranscriptionLimits
}
