package stt

import (
	"context"
	"fmt"
	"strings"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"go.uber.org/zap"

	"github.com/satriahrh/narrasi/domain/entities"
	"github.com/satriahrh/narrasi/domain/repositories"
	"github.com/satriahrh/narrasi/internal/wavfile"
)

const (
	defaultGoogleLanguage   = "en-US"
	defaultGoogleMaxBytes   = 10 * 1024 * 1024 // Synchronous Recognize content limit
	defaultGoogleMaxSeconds = 55               // Synchronous Recognize allows about one minute
)

// GoogleConfig holds configuration for the Google transcriber. Credentials
// come from GOOGLE_APPLICATION_CREDENTIALS.
type GoogleConfig struct {
	LanguageCode string  // Optional: BCP-47 language (default: "en-US")
	Model        string  // Optional: Recognition model, e.g. "video"
	MaxBytes     int     // Optional: Request size limit
	MaxSeconds   float64 // Optional: Request duration limit
}

// GoogleSpeechToText implements Transcriber with synchronous Recognize and
// word time offsets
type GoogleSpeechToText struct {
	client   *speech.Client
	language string
	model    string
	limits   repositories.TranscriptionLimits
	logger   *zap.Logger
}

// Ensure GoogleSpeechToText implements the Transcriber interface
var _ repositories.Transcriber = (*GoogleSpeechToText)(nil)

// NewGoogleSpeechToText creates a Google Cloud Speech client
func NewGoogleSpeechToText(ctx context.Context, config GoogleConfig, logger *zap.Logger) (*GoogleSpeechToText, error) {
	client, err := speech.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create speech client: %w", err)
	}

	language := config.LanguageCode
	if language == "" {
		language = defaultGoogleLanguage
		logger.Info("Using default language", zap.String("languageCode", language))
	}

	limits := repositories.TranscriptionLimits{MaxBytes: config.MaxBytes, MaxSeconds: config.MaxSeconds}
	if limits.MaxBytes <= 0 {
		limits.MaxBytes = defaultGoogleMaxBytes
	}
	if limits.MaxSeconds <= 0 {
		limits.MaxSeconds = defaultGoogleMaxSeconds
	}

	return &GoogleSpeechToText{
		client:   client,
		language: language,
		model:    config.Model,
		limits:   limits,
		logger:   logger,
	}, nil
}

// Limits implements repositories.Transcriber
func (g *GoogleSpeechToText) Limits() repositories.TranscriptionLimits {
	return g.limits
}

// Transcribe implements repositories.Transcriber
func (g *GoogleSpeechToText) Transcribe(ctx context.Context, wav []byte) ([]repositories.TranscriptSegment, error) {
	a, err := wavfile.Parse(wav)
	if err != nil {
		return nil, err
	}
	if a.Format.BitsPerSample != 16 {
		return nil, &entities.TranscriptionError{Err: fmt.Errorf("LINEAR16 requires 16-bit samples, got %d", a.Format.BitsPerSample)}
	}

	g.logger.Debug("Transcribing audio",
		zap.Int("audioSize", len(wav)),
		zap.Int("sampleRate", a.Format.SampleRate),
		zap.Float64("duration", a.Duration()))

	resp, err := g.client.Recognize(ctx, &speechpb.RecognizeRequest{
		Config: &speechpb.RecognitionConfig{
			Encoding:                   speechpb.RecognitionConfig_LINEAR16,
			SampleRateHertz:            int32(a.Format.SampleRate),
			AudioChannelCount:          int32(a.Format.Channels),
			LanguageCode:               g.language,
			Model:                      g.model,
			EnableWordTimeOffsets:      true,
			EnableAutomaticPunctuation: true,
		},
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: wav},
		},
	})
	if err != nil {
		return nil, &entities.TranscriptionError{Err: fmt.Errorf("recognize failed: %w", err)}
	}

	return segmentsFromResults(resp.GetResults()), nil
}

// segmentsFromResults maps each final result to a segment timed by its
// first and last word
func segmentsFromResults(results []*speechpb.SpeechRecognitionResult) []repositories.TranscriptSegment {
	segments := make([]repositories.TranscriptSegment, 0, len(results))
	previousEnd := 0.0
	for _, result := range results {
		if len(result.GetAlternatives()) == 0 {
			continue
		}
		alt := result.GetAlternatives()[0]
		text := strings.TrimSpace(alt.GetTranscript())
		if text == "" {
			continue
		}

		seg := repositories.TranscriptSegment{Text: text, Start: previousEnd}
		for _, w := range alt.GetWords() {
			seg.Words = append(seg.Words, repositories.TranscriptWord{
				Text:  w.GetWord(),
				Start: w.GetStartTime().AsDuration().Seconds(),
				End:   w.GetEndTime().AsDuration().Seconds(),
			})
		}
		if len(seg.Words) > 0 {
			seg.Start = seg.Words[0].Start
			seg.End = seg.Words[len(seg.Words)-1].End
		} else {
			seg.End = result.GetResultEndTime().AsDuration().Seconds()
		}
		if seg.End < seg.Start {
			seg.End = seg.Start
		}
		previousEnd = seg.End
		segments = append(segments, seg)
	}
	return segments
}

// Close releases the underlying client
func (g *GoogleSpeechToText) Close() error {
	return g.client.Close()
}
