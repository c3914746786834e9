package cmd

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/satriahrh/narrasi/internal/auth"
	"github.com/satriahrh/narrasi/internal/config"
	"github.com/satriahrh/narrasi/internal/progress"
	"github.com/satriahrh/narrasi/internal/wavfile"
	"github.com/satriahrh/narrasi/usecase"
)

const script = "The lighthouse keeper climbed the stairs. " +
	"Waves crashed against the rocks below. " +
	"A ship appeared on the horizon at dawn."

func testConfig(t *testing.T) config.Config {
	cfg := config.Default()
	cfg.Storage.Root = t.TempDir()
	cfg.Telemetry.Enabled = false
	cfg.Audio.FFmpegCommand = ""
	cfg.Synthesis.Segments = 3
	return cfg
}

func TestBuildApp_LocalMock(t *testing.T) {
	a, err := buildApp(context.Background(), testConfig(t), zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("buildApp failed: %v", err)
	}
	defer a.close(context.Background())

	if a.metricsHandler != nil {
		t.Error("Expected no metrics handler with telemetry disabled")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	result, err := a.service.Generate(ctx, usecase.GenerateRequest{Script: script}, progress.Discard)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if len(result.FailedSegments) != 0 {
		t.Errorf("Expected no failed segments, got %v", result.FailedSegments)
	}
	if len(result.Segments) == 0 || len(result.Segments) > 3 {
		t.Errorf("Expected between 1 and 3 segments, got %d", len(result.Segments))
	}
	if !strings.HasPrefix(result.URL, "http://localhost:8080/files/") {
		t.Errorf("Unexpected URL %q", result.URL)
	}

	data, err := a.storage.Download(ctx, result.Path)
	if err != nil {
		t.Fatalf("Download failed: %v", err)
	}
	asset, err := wavfile.Parse(data)
	if err != nil {
		t.Fatalf("Stored voice-over is not a WAV: %v", err)
	}
	if asset.Duration() <= 0 {
		t.Error("Expected a positive duration")
	}
}

func TestBuildApp_InvalidWorker(t *testing.T) {
	cfg := testConfig(t)
	cfg.Worker.Mode = "http"
	cfg.Worker.BaseURL = "ftp://worker"

	if _, err := buildApp(context.Background(), cfg, zaptest.NewLogger(t)); err == nil {
		t.Fatal("Expected an error for a non-HTTP worker URL")
	}
}

func TestLanguageHint(t *testing.T) {
	tests := map[string]string{
		"en-US": "en",
		"id":    "id",
		"PT-br": "pt",
		"":      "",
	}
	for tag, want := range tests {
		if got := languageHint(tag); got != want {
			t.Errorf("languageHint(%q) = %q, want %q", tag, got, want)
		}
	}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})
	err := rootCmd.Execute()
	return out.String(), err
}

func TestTokenCommand(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("NARRASI_AUTH_JWT_SECRET", "test-secret")

	out, err := execute(t, "token", "--subject", "studio", "--role", "editor")
	if err != nil {
		t.Fatalf("token failed: %v", err)
	}

	issuer, err := auth.NewIssuer("test-secret", "narrasi", time.Hour)
	if err != nil {
		t.Fatalf("NewIssuer failed: %v", err)
	}
	claims, err := issuer.ValidateToken(strings.TrimSpace(out))
	if err != nil {
		t.Fatalf("Issued token is invalid: %v", err)
	}
	if claims.Subject != "studio" || claims.Role != "editor" {
		t.Errorf("Unexpected claims: subject %q, role %q", claims.Subject, claims.Role)
	}
}

func TestTokenCommand_RequiresSecret(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("NARRASI_AUTH_JWT_SECRET", "")

	if _, err := execute(t, "token", "--subject", "studio"); err == nil {
		t.Fatal("Expected an error without a JWT secret")
	}
}

func TestSynthesizeCommand(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("NARRASI_STORAGE_ROOT", filepath.Join(dir, "assets"))
	t.Setenv("NARRASI_AUDIO_FFMPEG_COMMAND", "")

	scriptFile := filepath.Join(dir, "story.txt")
	if err := os.WriteFile(scriptFile, []byte(script), 0o644); err != nil {
		t.Fatal(err)
	}
	outFile := filepath.Join(dir, "story.wav")

	out, err := execute(t, "synthesize", "--script", scriptFile, "--out", outFile, "--speed", "1", "--mock")
	if err != nil {
		t.Fatalf("synthesize failed: %v", err)
	}
	if !strings.Contains(out, "story.wav") {
		t.Errorf("Expected a summary line, got %q", out)
	}

	data, err := os.ReadFile(outFile)
	if err != nil {
		t.Fatalf("Output not written: %v", err)
	}
	if _, err := wavfile.Parse(data); err != nil {
		t.Errorf("Output is not a WAV: %v", err)
	}
}
