package tts

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/narrasi/domain/entities"
	"github.com/satriahrh/narrasi/domain/repositories"
	"github.com/satriahrh/narrasi/internal/wavfile"
)

const (
	defaultPollInitial    = 250 * time.Millisecond // First status check
	defaultPollMax        = 3 * time.Second        // Poll interval cap
	defaultPollFactor     = 1.5                    // Geometric growth per poll
	defaultJobTimeout     = 5 * time.Minute        // Hard wall clock limit per job
	defaultSampleRate     = 24000                  // Used when the worker omits sample_rate
	defaultRequestTimeout = 30 * time.Second       // Per HTTP call
	maxPollErrors         = 3                      // Consecutive status failures tolerated
)

// WorkerConfig holds configuration for the WorkerTTS adapter
// Required fields:
// - BaseURL: The worker pool endpoint, e.g. "https://api.runpod.ai/v2/<endpoint>"
// Optional fields with defaults:
// - APIKey: Sent as a bearer token when set
// - PollInitial: First poll interval (default: 250ms)
// - PollMax: Largest poll interval (default: 3s)
// - PollFactor: Interval growth per poll (default: 1.5)
// - JobTimeout: Hard limit for one job including queueing (default: 5m)
// - SampleRate: Sample rate of raw PCM output (default: 24000)
type WorkerConfig struct {
	BaseURL     string        // Required: Worker pool base URL
	APIKey      string        // Optional: Bearer token
	PollInitial time.Duration // Optional: First poll interval
	PollMax     time.Duration // Optional: Poll interval cap
	PollFactor  float64       // Optional: Poll interval growth
	JobTimeout  time.Duration // Optional: Hard job timeout
	SampleRate  int           // Optional: Sample rate for raw PCM output
	HTTPClient  *http.Client  // Optional: Custom HTTP client
}

// WorkerTTS implements SpeechSynthesizer against an asynchronous job API:
// POST {base}/run submits a job, GET {base}/status/{id} reports it.
type WorkerTTS struct {
	baseURL     string
	apiKey      string
	pollInitial time.Duration
	pollMax     time.Duration
	pollFactor  float64
	jobTimeout  time.Duration
	sampleRate  int
	client      *http.Client
	logger      *zap.Logger
}

// Ensure WorkerTTS implements the SpeechSynthesizer interface
var _ repositories.SpeechSynthesizer = (*WorkerTTS)(nil)

type workerRunRequest struct {
	Input workerInput `json:"input"`
}

type workerInput struct {
	Text                 string `json:"text"`
	ReferenceAudioBase64 string `json:"reference_audio_base64,omitempty"`
}

type workerRunResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type workerStatusResponse struct {
	ID        string        `json:"id"`
	Status    string        `json:"status"`
	DelayTime float64       `json:"delayTime,omitempty"` // milliseconds
	Output    *workerOutput `json:"output,omitempty"`
	Error     string        `json:"error,omitempty"`
}

type workerOutput struct {
	AudioBase64 string `json:"audio_base64"`
	SampleRate  int    `json:"sample_rate"`
}

type jobState int

const (
	jobUnknown jobState = iota
	jobQueued
	jobRunning
	jobCompleted
	jobFailed
)

func parseJobState(status string) jobState {
	switch strings.ToUpper(strings.TrimSpace(status)) {
	case "IN_QUEUE", "QUEUED", "PENDING":
		return jobQueued
	case "IN_PROGRESS", "RUNNING", "PROCESSING":
		return jobRunning
	case "COMPLETED", "SUCCEEDED", "SUCCESS", "DONE":
		return jobCompleted
	case "FAILED", "CANCELLED", "CANCELED", "TIMED_OUT", "ERROR":
		return jobFailed
	default:
		return jobUnknown
	}
}

// ValidateWorkerConfig validates the WorkerConfig
func ValidateWorkerConfig(config WorkerConfig) error {
	if config.BaseURL == "" {
		return fmt.Errorf("worker base URL is required")
	}
	if !strings.HasPrefix(config.BaseURL, "http://") && !strings.HasPrefix(config.BaseURL, "https://") {
		return fmt.Errorf("worker base URL must be http or https, got %q", config.BaseURL)
	}
	if config.PollFactor != 0 && config.PollFactor < 1 {
		return fmt.Errorf("poll factor must be at least 1, got %f", config.PollFactor)
	}
	if config.PollInitial < 0 || config.PollMax < 0 || config.JobTimeout < 0 {
		return fmt.Errorf("durations must not be negative")
	}
	if config.SampleRate < 0 {
		return fmt.Errorf("sample rate must be positive, got %d", config.SampleRate)
	}
	return nil
}

// NewWorkerTTS creates a new worker pool client
func NewWorkerTTS(config WorkerConfig, logger *zap.Logger) (*WorkerTTS, error) {
	if err := ValidateWorkerConfig(config); err != nil {
		return nil, err
	}

	pollInitial := config.PollInitial
	if pollInitial == 0 {
		pollInitial = defaultPollInitial
		logger.Info("Using default poll interval", zap.Duration("pollInitial", pollInitial))
	}

	pollMax := config.PollMax
	if pollMax == 0 {
		pollMax = defaultPollMax
		logger.Info("Using default poll interval cap", zap.Duration("pollMax", pollMax))
	}
	if pollMax < pollInitial {
		pollMax = pollInitial
	}

	pollFactor := config.PollFactor
	if pollFactor == 0 {
		pollFactor = defaultPollFactor
	}

	jobTimeout := config.JobTimeout
	if jobTimeout == 0 {
		jobTimeout = defaultJobTimeout
		logger.Info("Using default job timeout", zap.Duration("jobTimeout", jobTimeout))
	}

	sampleRate := config.SampleRate
	if sampleRate == 0 {
		sampleRate = defaultSampleRate
	}

	client := config.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultRequestTimeout}
	}

	return &WorkerTTS{
		baseURL:     strings.TrimRight(config.BaseURL, "/"),
		apiKey:      config.APIKey,
		pollInitial: pollInitial,
		pollMax:     pollMax,
		pollFactor:  pollFactor,
		jobTimeout:  jobTimeout,
		sampleRate:  sampleRate,
		client:      client,
		logger:      logger,
	}, nil
}

// Synthesize submits a job and polls until it completes, fails or times
// out. Abandoning the poll loop does not cancel the job on the worker.
func (w *WorkerTTS) Synthesize(ctx context.Context, req repositories.SynthesisRequest) ([]byte, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, entities.NewValidationError("text cannot be empty")
	}

	jobCtx, cancel := context.WithTimeout(ctx, w.jobTimeout)
	defer cancel()

	jobID, err := w.submit(jobCtx, req)
	if err != nil {
		return nil, w.jobError(ctx, jobCtx, "", err)
	}

	w.logger.Debug("Synthesis job submitted",
		zap.String("jobID", jobID),
		zap.Int("textLength", len(req.Text)))

	output, err := w.poll(jobCtx, jobID)
	if err != nil {
		return nil, w.jobError(ctx, jobCtx, jobID, err)
	}
	return w.decodeOutput(jobID, output)
}

// jobError turns an expired job context into ErrTimeout while leaving
// cancellation by the caller untouched
func (w *WorkerTTS) jobError(parent, jobCtx context.Context, jobID string, err error) error {
	if parent.Err() != nil {
		return parent.Err()
	}
	if errors.Is(jobCtx.Err(), context.DeadlineExceeded) {
		w.logger.Warn("Synthesis job timed out",
			zap.String("jobID", jobID),
			zap.Duration("jobTimeout", w.jobTimeout))
		return &entities.SynthesisError{JobID: jobID, Err: entities.ErrTimeout}
	}
	if entities.IsSynthesisError(err) || entities.IsFormatError(err) {
		return err
	}
	return &entities.SynthesisError{JobID: jobID, Err: err}
}

func (w *WorkerTTS) submit(ctx context.Context, req repositories.SynthesisRequest) (string, error) {
	payload := workerRunRequest{Input: workerInput{Text: req.Text}}
	if len(req.ReferenceAudio) > 0 {
		payload.Input.ReferenceAudioBase64 = base64.StdEncoding.EncodeToString(req.ReferenceAudio)
	}

	requestBody, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	var resp workerRunResponse
	if err := w.do(ctx, http.MethodPost, w.baseURL+"/run", requestBody, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", fmt.Errorf("worker returned no job id")
	}
	return resp.ID, nil
}

func (w *WorkerTTS) poll(ctx context.Context, jobID string) (*workerOutput, error) {
	interval := w.pollInitial
	pollErrors := 0

	for {
		var status workerStatusResponse
		err := w.do(ctx, http.MethodGet, w.baseURL+"/status/"+jobID, nil, &status)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			pollErrors++
			if pollErrors >= maxPollErrors {
				return nil, fmt.Errorf("status check failed %d times: %w", pollErrors, err)
			}
			w.logger.Warn("Status check failed", zap.String("jobID", jobID), zap.Error(err))
		} else {
			pollErrors = 0
			switch parseJobState(status.Status) {
			case jobCompleted:
				if status.Output == nil {
					return nil, fmt.Errorf("job completed without output")
				}
				return status.Output, nil
			case jobFailed:
				reason := status.Error
				if reason == "" {
					reason = "worker reported " + strings.ToLower(status.Status)
				}
				return nil, &entities.SynthesisError{JobID: jobID, Err: errors.New(reason)}
			case jobUnknown:
				w.logger.Debug("Unrecognized job status", zap.String("jobID", jobID), zap.String("status", status.Status))
			}
		}

		wait := interval
		if hint := time.Duration(status.DelayTime * float64(time.Millisecond)); hint > wait {
			wait = hint
		}
		if wait > w.pollMax {
			wait = w.pollMax
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}

		interval = time.Duration(float64(interval) * w.pollFactor)
		if interval > w.pollMax {
			interval = w.pollMax
		}
	}
}

func (w *WorkerTTS) decodeOutput(jobID string, output *workerOutput) ([]byte, error) {
	audio, err := base64.StdEncoding.DecodeString(output.AudioBase64)
	if err != nil {
		return nil, &entities.FormatError{Reason: fmt.Sprintf("job %s: audio is not base64: %v", jobID, err)}
	}
	if len(audio) == 0 {
		return nil, &entities.SynthesisError{JobID: jobID, Err: errors.New("worker returned empty audio")}
	}
	if bytes.HasPrefix(audio, []byte("RIFF")) {
		return audio, nil
	}

	// Raw 16-bit mono PCM
	sampleRate := output.SampleRate
	if sampleRate <= 0 {
		sampleRate = w.sampleRate
	}
	return wavfile.Build(wavfile.PCM16Mono(sampleRate), audio), nil
}

func (w *WorkerTTS) do(ctx context.Context, method, url string, body []byte, out interface{}) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("Accept", "application/json")
	if w.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+w.apiKey)
	}

	resp, err := w.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to execute HTTP request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errorBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("worker returned error %d: %s", resp.StatusCode, strings.TrimSpace(string(errorBody)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
