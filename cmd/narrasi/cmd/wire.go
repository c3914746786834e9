package cmd

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"

	"github.com/satriahrh/narrasi/adapters"
	"github.com/satriahrh/narrasi/adapters/ffmpeg"
	mongoadapter "github.com/satriahrh/narrasi/adapters/mongo"
	"github.com/satriahrh/narrasi/adapters/storage"
	"github.com/satriahrh/narrasi/adapters/stt"
	"github.com/satriahrh/narrasi/adapters/tts"
	"github.com/satriahrh/narrasi/domain/repositories"
	"github.com/satriahrh/narrasi/internal/config"
	"github.com/satriahrh/narrasi/internal/repetition"
	"github.com/satriahrh/narrasi/internal/speed"
	"github.com/satriahrh/narrasi/internal/synthesis"
	"github.com/satriahrh/narrasi/internal/telemetry"
	"github.com/satriahrh/narrasi/internal/textproc"
	"github.com/satriahrh/narrasi/internal/voicesample"
	"github.com/satriahrh/narrasi/usecase"
)

// app holds the wired pipeline and what must be released on exit
type app struct {
	service        *usecase.VoiceoverService
	storage        repositories.ObjectStorage
	metricsHandler http.Handler
	closers        []func(context.Context) error
	logger         *zap.Logger
}

// buildApp wires config into adapters and the voice-over service
func buildApp(ctx context.Context, cfg config.Config, logger *zap.Logger) (_ *app, err error) {
	a := &app{logger: logger}
	defer func() {
		if err != nil {
			a.close(context.Background())
		}
	}()

	metrics := telemetry.Noop()
	if cfg.Telemetry.Enabled {
		m, handler, shutdown, err := telemetry.Setup(cfg.ServiceName, cfg.Environment, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to set up telemetry: %w", err)
		}
		metrics, a.metricsHandler = m, handler
		a.closers = append(a.closers, shutdown)
	}

	var db *mongo.Database
	if cfg.Storage.Backend == "gridfs" || cfg.Storage.Records == "mongo" {
		client, err := mongoadapter.NewClient(ctx, mongoadapter.Config{URI: cfg.Mongo.URI, Database: cfg.Mongo.Database}, logger)
		if err != nil {
			return nil, err
		}
		db = client.Database
		a.closers = append(a.closers, client.Close)
	}

	filesURL := strings.TrimRight(cfg.Server.PublicBaseURL, "/") + "/files"
	switch cfg.Storage.Backend {
	case "gridfs":
		a.storage = mongoadapter.NewGridFSStore(db, cfg.Storage.Bucket, filesURL, logger)
	default:
		store, err := storage.NewFileStore(cfg.Storage.Root, filesURL, logger)
		if err != nil {
			return nil, err
		}
		a.storage = store
	}

	var groups repositories.AssetGroupRepository
	switch cfg.Storage.Records {
	case "mongo":
		groups = mongoadapter.NewAssetGroupRepository(db, logger)
	default:
		groups = adapters.NewMemoryAssetGroupRepository()
	}

	var synth repositories.SpeechSynthesizer
	switch cfg.Worker.Mode {
	case "http":
		worker, err := tts.NewWorkerTTS(tts.WorkerConfig{
			BaseURL:     cfg.Worker.BaseURL,
			APIKey:      cfg.Worker.APIKey,
			PollInitial: cfg.Worker.PollInitial(),
			PollMax:     cfg.Worker.PollMax(),
			PollFactor:  cfg.Worker.PollFactor,
			JobTimeout:  cfg.Worker.JobTimeout(),
			SampleRate:  cfg.Worker.SampleRate,
		}, logger)
		if err != nil {
			return nil, err
		}
		synth = worker
	default:
		logger.Warn("Using mock speech synthesizer")
		synth = tts.NewMockTTS(logger)
	}

	dispatcher := synthesis.NewDispatcher(synth, synthesis.Config{
		MaxAttempts:      cfg.Synthesis.MaxAttempts,
		BaseDelay:        cfg.Synthesis.BaseDelay(),
		MaxDelay:         cfg.Synthesis.MaxDelay(),
		JobTimeout:       cfg.Worker.JobTimeout(),
		SilenceWindow:    cfg.Synthesis.SilenceWindow(),
		SilenceThreshold: cfg.Synthesis.SilenceThreshold,
		MaxSilentRatio:   cfg.Synthesis.MaxSilentRatio,
		ChunkLimits: textproc.Limits{
			MinLength: cfg.Synthesis.MinChunkLength,
			MaxLength: cfg.Synthesis.MaxChunkLength,
		},
	}, metrics, logger)

	filter, err := ffmpeg.NewFilter(ffmpeg.Config{Command: cfg.Audio.FFmpegCommand, TempDir: cfg.Audio.TempDir}, logger)
	if err != nil {
		return nil, err
	}

	var transcriber repositories.Transcriber
	switch cfg.Transcription.Provider {
	case "google":
		google, err := stt.NewGoogleSpeechToText(ctx, stt.GoogleConfig{
			LanguageCode: cfg.Transcription.LanguageCode,
			Model:        cfg.Transcription.Model,
			MaxBytes:     cfg.Transcription.MaxBytes,
			MaxSeconds:   cfg.Transcription.MaxSeconds,
		}, logger)
		if err != nil {
			// The repetition pass is optional; run without it.
			logger.Warn("Transcription unavailable, repetition removal disabled", zap.Error(err))
			break
		}
		transcriber = google
		a.closers = append(a.closers, func(context.Context) error { return google.Close() })
	case "http":
		httpSTT, err := stt.NewHTTPSpeechToText(stt.HTTPConfig{
			BaseURL:  cfg.Transcription.BaseURL,
			APIKey:   cfg.Transcription.APIKey,
			Model:    cfg.Transcription.Model,
			Language: languageHint(cfg.Transcription.LanguageCode),
			MaxBytes: cfg.Transcription.MaxBytes,
			Timeout:  cfg.Transcription.Timeout(),
		}, logger)
		if err != nil {
			return nil, err
		}
		transcriber = httpSTT
	}

	remover := repetition.NewRemover(transcriber, filter, repetition.Config{
		Lookahead:            cfg.Repetition.Lookahead,
		SimilarityThreshold:  cfg.Repetition.SimilarityThreshold,
		ContainmentThreshold: cfg.Repetition.ContainmentThreshold,
		MinWords:             cfg.Repetition.MinWords,
		MinPhraseWords:       cfg.Repetition.MinPhraseWords,
		MaxPhraseWords:       cfg.Repetition.MaxPhraseWords,
		MergeGap:             cfg.Repetition.MergeGapSeconds(),
		Timeout:              cfg.Transcription.Timeout(),
	}, metrics, logger)

	fetcher := voicesample.NewFetcher(voicesample.Config{
		AllowedHosts: cfg.VoiceSample.AllowedHosts,
		MaxBytes:     int64(cfg.VoiceSample.MaxBytes),
		Timeout:      cfg.VoiceSample.Timeout(),
	}, logger)

	a.service = usecase.NewVoiceoverService(
		dispatcher,
		a.storage,
		groups,
		remover,
		speed.NewAdjuster(filter, logger),
		fetcher,
		usecase.VoiceoverConfig{
			Segments:    cfg.Synthesis.Segments,
			Concurrency: cfg.Synthesis.Concurrency,
		},
		metrics,
		logger,
	)
	return a, nil
}

// languageHint reduces a BCP-47 tag such as "en-US" to its ISO-639-1
// language
func languageHint(tag string) string {
	lang, _, _ := strings.Cut(tag, "-")
	return strings.ToLower(lang)
}

// close releases resources in reverse order of acquisition
func (a *app) close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			a.logger.Warn("Failed to release resource", zap.Error(err))
		}
	}
	a.closers = nil
}
