package tts

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/satriahrh/narrasi/domain/entities"
	"github.com/satriahrh/narrasi/domain/repositories"
	"github.com/satriahrh/narrasi/internal/wavfile"
)

// fakeWorker serves /run and /status/{id}, walking each job through the
// given statuses, one per poll
type fakeWorker struct {
	t        *testing.T
	mu       sync.Mutex
	statuses []string
	polls    int
	output   *workerOutput
	errMsg   string
	received workerRunRequest
	auth     string
}

func (f *fakeWorker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.auth = r.Header.Get("Authorization")

	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/run":
		if err := json.NewDecoder(r.Body).Decode(&f.received); err != nil {
			f.t.Errorf("Failed to decode run request: %v", err)
		}
		json.NewEncoder(w).Encode(workerRunResponse{ID: "job-1", Status: "IN_QUEUE"})
	case r.Method == http.MethodGet && r.URL.Path == "/status/job-1":
		status := f.statuses[len(f.statuses)-1]
		if f.polls < len(f.statuses) {
			status = f.statuses[f.polls]
		}
		f.polls++
		resp := workerStatusResponse{ID: "job-1", Status: status, Error: f.errMsg}
		if parseJobState(status) == jobCompleted {
			resp.Output = f.output
		}
		json.NewEncoder(w).Encode(resp)
	default:
		http.NotFound(w, r)
	}
}

func newTestWorker(t *testing.T, url string, timeout time.Duration) *WorkerTTS {
	w, err := NewWorkerTTS(WorkerConfig{
		BaseURL:     url,
		APIKey:      "secret",
		PollInitial: time.Millisecond,
		PollMax:     5 * time.Millisecond,
		JobTimeout:  timeout,
		SampleRate:  16000,
	}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("Failed to create WorkerTTS: %v", err)
	}
	return w
}

func TestNewWorkerTTS(t *testing.T) {
	logger := zaptest.NewLogger(t)

	if _, err := NewWorkerTTS(WorkerConfig{}, logger); err == nil {
		t.Error("Expected error when base URL is not set")
	}
	if _, err := NewWorkerTTS(WorkerConfig{BaseURL: "ftp://worker"}, logger); err == nil {
		t.Error("Expected error for non-http base URL")
	}

	w, err := NewWorkerTTS(WorkerConfig{BaseURL: "https://worker.example/v2/abc/"}, logger)
	if err != nil {
		t.Fatalf("Failed to create WorkerTTS: %v", err)
	}
	if w.baseURL != "https://worker.example/v2/abc" {
		t.Errorf("Expected trailing slash trimmed, got '%s'", w.baseURL)
	}
	if w.pollInitial != defaultPollInitial || w.pollMax != defaultPollMax || w.jobTimeout != defaultJobTimeout {
		t.Errorf("Expected defaults, got %v %v %v", w.pollInitial, w.pollMax, w.jobTimeout)
	}
}

func TestWorkerTTS_Synthesize_RawPCM(t *testing.T) {
	pcm := make([]byte, 3200)
	for i := range pcm {
		pcm[i] = byte(i)
	}
	fake := &fakeWorker{
		t:        t,
		statuses: []string{"IN_QUEUE", "in_progress", "COMPLETED"},
		output:   &workerOutput{AudioBase64: base64.StdEncoding.EncodeToString(pcm), SampleRate: 8000},
	}
	server := httptest.NewServer(fake)
	defer server.Close()

	w := newTestWorker(t, server.URL, time.Second)
	audio, err := w.Synthesize(context.Background(), repositories.SynthesisRequest{
		Text:           "Hello there.",
		ReferenceAudio: []byte("voice"),
	})
	if err != nil {
		t.Fatalf("Synthesize failed: %v", err)
	}

	a, err := wavfile.Parse(audio)
	if err != nil {
		t.Fatalf("Output is not a wav container: %v", err)
	}
	if a.Format.SampleRate != 8000 || a.DataSize != len(pcm) {
		t.Errorf("Unexpected format %+v with %d bytes", a.Format, a.DataSize)
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()
	if fake.polls != 3 {
		t.Errorf("Expected 3 polls, got %d", fake.polls)
	}
	if fake.auth != "Bearer secret" {
		t.Errorf("Expected bearer auth, got '%s'", fake.auth)
	}
	if fake.received.Input.Text != "Hello there." {
		t.Errorf("Unexpected text '%s'", fake.received.Input.Text)
	}
	if fake.received.Input.ReferenceAudioBase64 != base64.StdEncoding.EncodeToString([]byte("voice")) {
		t.Error("Reference audio was not sent")
	}
}

func TestWorkerTTS_Synthesize_WAVPassthrough(t *testing.T) {
	container := wavfile.Build(wavfile.PCM16Mono(22050), make([]byte, 100))
	fake := &fakeWorker{
		t:        t,
		statuses: []string{"COMPLETED"},
		output:   &workerOutput{AudioBase64: base64.StdEncoding.EncodeToString(container)},
	}
	server := httptest.NewServer(fake)
	defer server.Close()

	audio, err := newTestWorker(t, server.URL, time.Second).Synthesize(context.Background(), repositories.SynthesisRequest{Text: "Hi."})
	if err != nil {
		t.Fatalf("Synthesize failed: %v", err)
	}
	if string(audio) != string(container) {
		t.Error("Expected the container unchanged")
	}
}

func TestWorkerTTS_Synthesize_Failed(t *testing.T) {
	fake := &fakeWorker{t: t, statuses: []string{"IN_PROGRESS", "FAILED"}, errMsg: "CUDA out of memory"}
	server := httptest.NewServer(fake)
	defer server.Close()

	_, err := newTestWorker(t, server.URL, time.Second).Synthesize(context.Background(), repositories.SynthesisRequest{Text: "Hi."})
	var synthErr *entities.SynthesisError
	if !errors.As(err, &synthErr) {
		t.Fatalf("Expected SynthesisError, got %v", err)
	}
	if synthErr.JobID != "job-1" || !strings.Contains(err.Error(), "CUDA") {
		t.Errorf("Unexpected error: %v", err)
	}
}

func TestWorkerTTS_Synthesize_Timeout(t *testing.T) {
	fake := &fakeWorker{t: t, statuses: []string{"IN_QUEUE"}}
	server := httptest.NewServer(fake)
	defer server.Close()

	_, err := newTestWorker(t, server.URL, 30*time.Millisecond).Synthesize(context.Background(), repositories.SynthesisRequest{Text: "Hi."})
	if !errors.Is(err, entities.ErrTimeout) {
		t.Fatalf("Expected ErrTimeout, got %v", err)
	}
}

func TestWorkerTTS_Synthesize_SubmitRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer server.Close()

	_, err := newTestWorker(t, server.URL, time.Second).Synthesize(context.Background(), repositories.SynthesisRequest{Text: "Hi."})
	if !entities.IsSynthesisError(err) || !strings.Contains(err.Error(), "401") {
		t.Errorf("Expected SynthesisError with status, got %v", err)
	}
}

func TestWorkerTTS_Synthesize_EmptyText(t *testing.T) {
	w := newTestWorker(t, "http://unused", time.Second)
	_, err := w.Synthesize(context.Background(), repositories.SynthesisRequest{Text: "  "})
	if !entities.IsValidationError(err) {
		t.Errorf("Expected ValidationError, got %v", err)
	}
}

func TestParseJobState(t *testing.T) {
	cases := map[string]jobState{
		"IN_QUEUE":    jobQueued,
		"in_progress": jobRunning,
		"Completed":   jobCompleted,
		"TIMED_OUT":   jobFailed,
		"cancelled":   jobFailed,
		"whatever":    jobUnknown,
	}
	for in, want := range cases {
		if got := parseJobState(in); got != want {
			t.Errorf("parseJobState(%q) = %d, want %d", in, got, want)
		}
	}
}
