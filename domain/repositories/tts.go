package repositories

import "context"

// SynthesisRequest is a single chunk of text to be spoken
type SynthesisRequest struct {
	Text string
	// ReferenceAudio is an optional WAV sample of the voice to clone
	ReferenceAudio []byte
}

// SpeechSynthesizer abstracts a remote text-to-speech worker. Synthesize
// returns a complete WAV container for the request.
type SpeechSynthesizer interface {
	Synthesize(ctx context.Context, req SynthesisRequest) ([]byte, error)
}
