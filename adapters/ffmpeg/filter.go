package ffmpeg

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/mattn/go-shellwords"
	"go.uber.org/zap"

	"github.com/satriahrh/narrasi/domain/repositories"
	"github.com/satriahrh/narrasi/internal/wavfile"
)

// DefaultCommand is used when the configuration leaves the command unset
const DefaultCommand = "ffmpeg -hide_banner -loglevel error"

// atempo accepts factors in [0.5, 2.0] per instance
const (
	minAtempo = 0.5
	maxAtempo = 2.0
)

// Config holds configuration for the ffmpeg filter
type Config struct {
	Command string // Optional: ffmpeg invocation; empty uses the native fallback
	TempDir string // Optional: Directory for intermediate files
}

// runFunc executes a command and returns its combined output
type runFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

// Filter implements AudioFilter by running ffmpeg on temporary files.
// Without a command it edits the container natively.
type Filter struct {
	cmd     []string
	tempDir string
	run     runFunc
	logger  *zap.Logger
}

// Ensure Filter implements the AudioFilter interface
var _ repositories.AudioFilter = (*Filter)(nil)

// NewFilter parses the configured command line
func NewFilter(config Config, logger *zap.Logger) (*Filter, error) {
	f := &Filter{tempDir: config.TempDir, run: runCommand, logger: logger}
	if strings.TrimSpace(config.Command) == "" {
		logger.Info("No ffmpeg command configured, using native audio editing")
		return f, nil
	}

	parser := shellwords.NewParser()
	args, err := parser.Parse(config.Command)
	if err != nil {
		return nil, fmt.Errorf("parse ffmpeg command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("ffmpeg command is empty")
	}
	f.cmd = args
	return f, nil
}

// Native reports whether edits bypass ffmpeg
func (f *Filter) Native() bool {
	return len(f.cmd) == 0
}

// KeepRanges implements repositories.AudioFilter
func (f *Filter) KeepRanges(ctx context.Context, wav []byte, keep []repositories.TimeRange) ([]byte, error) {
	if f.Native() || len(keep) == 0 {
		return wavfile.KeepRanges(wav, keep)
	}
	return f.process(ctx, wav, "-filter_complex", trimGraph(keep), "-map", "[out]")
}

// Tempo implements repositories.AudioFilter
func (f *Filter) Tempo(ctx context.Context, wav []byte, factor float64) ([]byte, error) {
	if factor <= 0 {
		return nil, fmt.Errorf("tempo factor %v must be positive", factor)
	}
	if f.Native() {
		return wavfile.Stretch(wav, factor)
	}
	return f.process(ctx, wav, "-filter:a", atempoChain(factor))
}

func (f *Filter) process(ctx context.Context, wav []byte, filterArgs ...string) ([]byte, error) {
	a, err := wavfile.Parse(wav)
	if err != nil {
		return nil, err
	}

	dir, err := os.MkdirTemp(f.tempDir, "narrasi-ffmpeg-")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	in := filepath.Join(dir, "in.wav")
	out := filepath.Join(dir, "out.wav")
	if err := os.WriteFile(in, wav, 0o600); err != nil {
		return nil, fmt.Errorf("failed to write input: %w", err)
	}

	args := append([]string{}, f.cmd[1:]...)
	args = append(args, "-y", "-i", in)
	args = append(args, filterArgs...)
	args = append(args,
		"-c:a", "pcm_s16le",
		"-ar", strconv.Itoa(a.Format.SampleRate),
		"-ac", strconv.Itoa(a.Format.Channels),
		out)

	f.logger.Debug("Running ffmpeg", zap.Strings("args", args))
	if output, err := f.run(ctx, f.cmd[0], args...); err != nil {
		return nil, fmt.Errorf("ffmpeg failed: %w: %s", err, strings.TrimSpace(string(output)))
	}

	result, err := os.ReadFile(out)
	if err != nil {
		return nil, fmt.Errorf("failed to read ffmpeg output: %w", err)
	}
	if _, err := wavfile.Parse(result); err != nil {
		return nil, err
	}
	return result, nil
}

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output
	err := cmd.Run()
	return output.Bytes(), err
}

// trimGraph cuts every range out of input 0 and joins them in order
func trimGraph(keep []repositories.TimeRange) string {
	if len(keep) == 1 {
		return fmt.Sprintf("[0:a]%s[out]", trimFilter(keep[0]))
	}
	var b strings.Builder
	for i, r := range keep {
		fmt.Fprintf(&b, "[0:a]%s[a%d];", trimFilter(r), i)
	}
	for i := range keep {
		fmt.Fprintf(&b, "[a%d]", i)
	}
	fmt.Fprintf(&b, "concat=n=%d:v=0:a=1[out]", len(keep))
	return b.String()
}

func trimFilter(r repositories.TimeRange) string {
	return fmt.Sprintf("atrim=start=%s:end=%s,asetpts=PTS-STARTPTS", seconds(r.Start), seconds(r.End))
}

// atempoChain splits factors outside atempo's range into a chain whose
// product equals factor
func atempoChain(factor float64) string {
	var parts []string
	for factor > maxAtempo {
		parts = append(parts, "atempo="+seconds(maxAtempo))
		factor /= maxAtempo
	}
	for factor < minAtempo {
		parts = append(parts, "atempo="+seconds(minAtempo))
		factor /= minAtempo
	}
	parts = append(parts, "atempo="+seconds(factor))
	return strings.Join(parts, ",")
}

func seconds(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}
