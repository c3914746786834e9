package tts

import (
	"context"
	"encoding/binary"
	"hash/fnv"
	"math"
	"strings"

	"go.uber.org/zap"

	"github.com/satriahrh/narrasi/domain/entities"
	"github.com/satriahrh/narrasi/domain/repositories"
	"github.com/satriahrh/narrasi/internal/wavfile"
)

const (
	mockSampleRate     = 16000
	mockSecondsPerChar = 0.06
)

// MockTTS is a placeholder implementation for text-to-speech. It returns a
// tone whose length follows the text length and whose pitch follows its
// content, so identical text gives identical audio.
type MockTTS struct {
	logger *zap.Logger
}

// Ensure MockTTS implements the SpeechSynthesizer interface
var _ repositories.SpeechSynthesizer = (*MockTTS)(nil)

// NewMockTTS creates a new mock text-to-speech service
func NewMockTTS(logger *zap.Logger) *MockTTS {
	return &MockTTS{logger: logger}
}

// Synthesize implements repositories.SpeechSynthesizer
func (m *MockTTS) Synthesize(ctx context.Context, req repositories.SynthesisRequest) ([]byte, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, entities.NewValidationError("text cannot be empty")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.logger.Debug("Processing mock text-to-speech",
		zap.Int("textLength", len(req.Text)),
		zap.Bool("referenceVoice", len(req.ReferenceAudio) > 0))

	h := fnv.New32a()
	h.Write([]byte(req.Text))
	freq := 180 + float64(h.Sum32()%200)

	samples := int(float64(len(req.Text)) * mockSecondsPerChar * mockSampleRate)
	pcm := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		v := int16(0.3 * 32767 * math.Sin(2*math.Pi*freq*float64(i)/mockSampleRate))
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(v))
	}
	return wavfile.Build(wavfile.PCM16Mono(mockSampleRate), pcm), nil
}
