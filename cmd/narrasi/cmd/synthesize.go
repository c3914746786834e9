package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/satriahrh/narrasi/internal/progress"
	"github.com/satriahrh/narrasi/usecase"
)

var (
	scriptPath string
	outPath    string
	voiceURL   string
	speedValue float64
	useMock    bool
)

var synthesizeCmd = &cobra.Command{
	Use:   "synthesize",
	Short: "Generate a voice-over from a script file",
	Long: `Generate a voice-over without running the server. Assets are written to
the local store and the combined WAV is copied to --out.`,
	Example: `  narrasi synthesize --script story.txt --out story.wav
  cat story.txt | narrasi synthesize --script - --out story.wav --speed 1.25 --mock`,
	RunE: runSynthesize,
}

func init() {
	synthesizeCmd.Flags().StringVarP(&scriptPath, "script", "s", "", `Script file, "-" reads stdin`)
	synthesizeCmd.Flags().StringVarP(&outPath, "out", "o", "voiceover.wav", "Output WAV file")
	synthesizeCmd.Flags().StringVar(&voiceURL, "voice", "", "Reference voice sample URL")
	synthesizeCmd.Flags().Float64Var(&speedValue, "speed", 1, "Playback speed factor")
	synthesizeCmd.Flags().BoolVar(&useMock, "mock", false, "Use the built-in mock synthesizer")
	synthesizeCmd.MarkFlagRequired("script")
	rootCmd.AddCommand(synthesizeCmd)
}

func readScript(path string) (string, error) {
	if path == "-" {
		data, err := io.ReadAll(os.Stdin)
		return string(data), err
	}
	data, err := os.ReadFile(path)
	return string(data), err
}

func runSynthesize(cmd *cobra.Command, args []string) error {
	script, err := readScript(scriptPath)
	if err != nil {
		return fmt.Errorf("failed to read script: %w", err)
	}
	if strings.TrimSpace(script) == "" {
		return errors.New("script is empty")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cfg.Storage.Backend = "local"
	cfg.Storage.Records = "memory"
	cfg.Telemetry.Enabled = false
	if useMock {
		cfg.Worker.Mode = "mock"
	}

	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	stderr := cmd.ErrOrStderr()
	printer := progress.EmitterFunc(func(e progress.Event) {
		if e.Type == progress.EventProgress {
			fmt.Fprintf(stderr, "[%3.0f%%] %s\n", e.Percent, e.Message)
		}
	})

	result, err := a.service.Generate(ctx, usecase.GenerateRequest{
		Script:            script,
		ReferenceVoiceURL: voiceURL,
		Speed:             speedValue,
	}, printer)
	if err != nil {
		printError("synthesis failed", err)
		return err
	}

	data, err := a.storage.Download(ctx, result.Path)
	if err != nil {
		return fmt.Errorf("failed to read voice-over: %w", err)
	}
	if err := os.WriteFile(outPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", outPath, err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s: %.2fs, %d bytes, asset group %s\n",
		outPath, result.DurationSeconds, result.ByteSize, result.AssetGroupID)
	if len(result.FailedSegments) > 0 {
		fmt.Fprintf(stderr, "segments skipped: %v\n", result.FailedSegments)
	}
	return nil
}
