package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/narrasi/domain/entities"
	"github.com/satriahrh/narrasi/domain/repositories"
)

const (
	defaultHTTPModel    = "whisper-1"
	defaultHTTPMaxBytes = 25 * 1024 * 1024
	defaultHTTPTimeout  = 2 * time.Minute
)

// HTTPConfig holds configuration for an OpenAI compatible transcription
// service (POST {base}/audio/transcriptions)
type HTTPConfig struct {
	BaseURL    string        // Required: e.g. "https://api.openai.com/v1"
	APIKey     string        // Optional: Bearer token
	Model      string        // Optional: default "whisper-1"
	Language   string        // Optional: ISO-639-1 hint
	MaxBytes   int           // Optional: Upload limit (default: 25MB)
	Timeout    time.Duration // Optional: Per request timeout (default: 2m)
	HTTPClient *http.Client  // Optional: Custom HTTP client
}

// HTTPSpeechToText implements Transcriber over multipart upload with a
// verbose JSON response
type HTTPSpeechToText struct {
	baseURL  string
	apiKey   string
	model    string
	language string
	limits   repositories.TranscriptionLimits
	client   *http.Client
	logger   *zap.Logger
}

// Ensure HTTPSpeechToText implements the Transcriber interface
var _ repositories.Transcriber = (*HTTPSpeechToText)(nil)

type verboseTranscription struct {
	Text     string `json:"text"`
	Segments []struct {
		Text  string  `json:"text"`
		Start float64 `json:"start"`
		End   float64 `json:"end"`
	} `json:"segments"`
	Words []repositories.TranscriptWord `json:"words"`
}

// NewHTTPSpeechToText creates a transcription client
func NewHTTPSpeechToText(config HTTPConfig, logger *zap.Logger) (*HTTPSpeechToText, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("transcription base URL is required")
	}

	model := config.Model
	if model == "" {
		model = defaultHTTPModel
		logger.Info("Using default transcription model", zap.String("model", model))
	}

	maxBytes := config.MaxBytes
	if maxBytes <= 0 {
		maxBytes = defaultHTTPMaxBytes
	}

	client := config.HTTPClient
	if client == nil {
		timeout := config.Timeout
		if timeout <= 0 {
			timeout = defaultHTTPTimeout
		}
		client = &http.Client{Timeout: timeout}
	}

	return &HTTPSpeechToText{
		baseURL:  strings.TrimRight(config.BaseURL, "/"),
		apiKey:   config.APIKey,
		model:    model,
		language: config.Language,
		limits:   repositories.TranscriptionLimits{MaxBytes: maxBytes},
		client:   client,
		logger:   logger,
	}, nil
}

// Limits implements repositories.Transcriber
func (h *HTTPSpeechToText) Limits() repositories.TranscriptionLimits {
	return h.limits
}

// Transcribe implements repositories.Transcriber
func (h *HTTPSpeechToText) Transcribe(ctx context.Context, wav []byte) ([]repositories.TranscriptSegment, error) {
	body := &bytes.Buffer{}
	form := multipart.NewWriter(body)
	part, err := form.CreateFormFile("file", "audio.wav")
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(wav); err != nil {
		return nil, fmt.Errorf("failed to write audio: %w", err)
	}
	fields := [][2]string{
		{"model", h.model},
		{"response_format", "verbose_json"},
		{"timestamp_granularities[]", "segment"},
		{"timestamp_granularities[]", "word"},
	}
	if h.language != "" {
		fields = append(fields, [2]string{"language", h.language})
	}
	for _, f := range fields {
		if err := form.WriteField(f[0], f[1]); err != nil {
			return nil, fmt.Errorf("failed to write field %s: %w", f[0], err)
		}
	}
	if err := form.Close(); err != nil {
		return nil, fmt.Errorf("failed to close form: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+"/audio/transcriptions", body)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", form.FormDataContentType())
	if h.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+h.apiKey)
	}

	h.logger.Debug("Sending transcription request", zap.Int("audioSize", len(wav)))

	resp, err := h.client.Do(httpReq)
	if err != nil {
		return nil, &entities.TranscriptionError{Err: fmt.Errorf("failed to execute HTTP request: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errorBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &entities.TranscriptionError{Err: fmt.Errorf("API returned error %d: %s", resp.StatusCode, strings.TrimSpace(string(errorBody)))}
	}

	var result verboseTranscription
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, &entities.TranscriptionError{Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	return result.toSegments(), nil
}

// toSegments attaches each word to the segment whose span holds the
// word's midpoint
func (v verboseTranscription) toSegments() []repositories.TranscriptSegment {
	segments := make([]repositories.TranscriptSegment, 0, len(v.Segments))
	for _, s := range v.Segments {
		text := strings.TrimSpace(s.Text)
		if text == "" {
			continue
		}
		segments = append(segments, repositories.TranscriptSegment{Text: text, Start: s.Start, End: s.End})
	}

	next := 0
	for _, w := range v.Words {
		mid := (w.Start + w.End) / 2
		for next < len(segments) && mid >= segments[next].End && next < len(segments)-1 {
			next++
		}
		if next < len(segments) && mid >= segments[next].Start {
			segments[next].Words = append(segments[next].Words, w)
		}
	}
	return segments
}
