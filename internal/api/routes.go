package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/satriahrh/narrasi/domain/entities"
	"github.com/satriahrh/narrasi/domain/repositories"
	"github.com/satriahrh/narrasi/internal/auth"
	"github.com/satriahrh/narrasi/internal/jobs"
	"github.com/satriahrh/narrasi/internal/progress"
	"github.com/satriahrh/narrasi/internal/websocket"
	"github.com/satriahrh/narrasi/usecase"
)

const (
	defaultHeartbeat = 15 * time.Second
	defaultBuffer    = 64
)

// VoiceoverService is the pipeline behind the HTTP surface
type VoiceoverService interface {
	websocket.VoiceoverRunner
	AssetGroup(ctx context.Context, id string) (*entities.AssetGroup, error)
}

// RouteConfig holds everything the routes need
type RouteConfig struct {
	Service   VoiceoverService           // Required
	Jobs      *jobs.Manager              // Required
	Hub       *websocket.Hub             // Required
	Storage   repositories.ObjectStorage // Optional: serves /files/*
	Metrics   http.Handler               // Optional: serves /metrics
	Auth      *auth.Issuer               // Optional: guards /api/v1
	Heartbeat time.Duration              // Optional: SSE heartbeat interval (default: 15s)
	Buffer    int                        // Optional: Events buffered per request (default: 64)
}

type handler struct {
	RouteConfig
	logger *zap.Logger
}

// runFunc runs one pipeline operation against emitter
type runFunc func(ctx context.Context, emitter progress.Emitter) (*entities.VoiceoverResult, error)

// InitRoutes initializes all API routes
func InitRoutes(e *echo.Echo, config RouteConfig, logger *zap.Logger) {
	if config.Heartbeat <= 0 {
		config.Heartbeat = defaultHeartbeat
	}
	if config.Buffer <= 0 {
		config.Buffer = defaultBuffer
	}
	h := &handler{RouteConfig: config, logger: logger}

	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"service": "narrasi",
		})
	})
	if config.Metrics != nil {
		e.GET("/metrics", echo.WrapHandler(config.Metrics))
	}
	if config.Storage != nil {
		e.GET("/files/*", h.serveFile)
	}

	// API v1 routes
	v1 := e.Group("/api/v1")
	if config.Auth != nil {
		v1.Use(config.Auth.Middleware())
	} else {
		logger.Warn("API authentication disabled")
	}

	v1.POST("/voiceover", h.generate)
	v1.GET("/voiceover/ws", h.openSocket)
	v1.POST("/voiceover/segments/regenerate", h.regenerate)
	v1.POST("/voiceover/:assetGroupId/recombine", h.recombine)
	v1.GET("/voiceover/:assetGroupId", h.getAssetGroup)
	v1.GET("/jobs/:id", h.getJob)
}

func (h *handler) generate(c echo.Context) error {
	var req VoiceoverRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "Invalid request format")
	}
	if strings.TrimSpace(req.Script) == "" {
		return badRequest(c, "script is required")
	}

	in := usecase.GenerateRequest{
		Script:            req.Script,
		ReferenceVoiceURL: req.ReferenceVoiceURL,
		Speed:             req.Speed,
	}
	return h.run(c, jobs.KindGenerate, req.Delivery, func(ctx context.Context, emitter progress.Emitter) (*entities.VoiceoverResult, error) {
		return h.Service.Generate(ctx, in, emitter)
	})
}

func (h *handler) regenerate(c echo.Context) error {
	var req RegenerateRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "Invalid request format")
	}
	if req.AssetGroupID == "" || req.SegmentIndex < 1 || strings.TrimSpace(req.SegmentText) == "" {
		return badRequest(c, "assetGroupId, segmentIndex and segmentText are required")
	}

	in := usecase.RegenerateRequest{
		AssetGroupID:      req.AssetGroupID,
		SegmentIndex:      req.SegmentIndex,
		SegmentText:       req.SegmentText,
		ReferenceVoiceURL: req.ReferenceVoiceURL,
	}
	return h.run(c, jobs.KindRegenerate, req.Delivery, func(ctx context.Context, emitter progress.Emitter) (*entities.VoiceoverResult, error) {
		return h.Service.RegenerateSegment(ctx, in, emitter)
	})
}

func (h *handler) recombine(c echo.Context) error {
	var req RecombineRequest
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&req); err != nil {
			return badRequest(c, "Invalid request format")
		}
	}

	in := usecase.RecombineRequest{AssetGroupID: c.Param("assetGroupId"), Speed: req.Speed}
	return h.run(c, jobs.KindRecombine, req.Delivery, func(ctx context.Context, emitter progress.Emitter) (*entities.VoiceoverResult, error) {
		return h.Service.Recombine(ctx, in, emitter)
	})
}

// run executes fn the way the caller asked: as a server-sent event
// stream, as a background job, or synchronously
func (h *handler) run(c echo.Context, kind jobs.Kind, delivery Delivery, fn runFunc) error {
	ctx := c.Request().Context()

	if delivery.Async && !delivery.Streaming {
		job, err := h.Jobs.Submit(ctx, kind, func(ctx context.Context, emitter progress.Emitter) {
			fn(ctx, emitter)
		})
		if err != nil {
			return h.writeError(c, err)
		}
		return c.JSON(http.StatusAccepted, JobResponse{
			Job:       job,
			StatusURL: "/api/v1/jobs/" + job.ID,
		})
	}

	var recorder progress.Emitter = progress.Discard
	if h.Jobs != nil {
		job, emitter, err := h.Jobs.Create(ctx, kind)
		if err != nil {
			return h.writeError(c, err)
		}
		recorder = emitter
		c.Response().Header().Set("X-Job-Id", job.ID)
	}

	if delivery.Streaming {
		return h.stream(c, recorder, fn)
	}

	result, err := fn(ctx, recorder)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

// stream writes the progress channel as server-sent events. Each event's
// name is its type and its data is the JSON encoded event.
func (h *handler) stream(c echo.Context, recorder progress.Emitter, fn runFunc) error {
	ctx := c.Request().Context()
	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set(echo.HeaderCacheControl, "no-cache")
	res.Header().Set(echo.HeaderConnection, "keep-alive")
	res.Header().Set("X-Accel-Buffering", "no")
	res.WriteHeader(http.StatusOK)
	res.Flush()

	events := progress.Pipe(ctx, h.Buffer, h.Heartbeat, func(out progress.Emitter) {
		fn(ctx, progress.Tee{recorder, out})
	})
	for e := range events {
		if err := writeEvent(res, e); err != nil {
			h.logger.Warn("Stopped streaming progress", zap.Error(err))
			return nil
		}
		res.Flush()
	}
	return nil
}

func writeEvent(res *echo.Response, e progress.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(res, "event: %s\ndata: %s\n\n", e.Type, data)
	return err
}

func (h *handler) openSocket(c echo.Context) error {
	subject := "anonymous"
	if claims, ok := c.Get(auth.ClaimsContextKey).(*auth.JWTClaims); ok && claims.Subject != "" {
		subject = claims.Subject
	}
	return websocket.HandleWebSocket(h.Hub, c, subject)
}

func (h *handler) getAssetGroup(c echo.Context) error {
	group, err := h.Service.AssetGroup(c.Request().Context(), c.Param("assetGroupId"))
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, group)
}

func (h *handler) getJob(c echo.Context) error {
	job, err := h.Jobs.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, entities.ErrNotFound) {
			return c.JSON(http.StatusNotFound, ErrorResponse{
				Error:   "not_found",
				Message: "job not found",
			})
		}
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, job)
}

func (h *handler) serveFile(c echo.Context) error {
	path := c.Param("*")
	data, err := h.Storage.Download(c.Request().Context(), path)
	if err != nil {
		if errors.Is(err, entities.ErrNotFound) || entities.IsValidationError(err) {
			return c.JSON(http.StatusNotFound, ErrorResponse{
				Error:   "not_found",
				Message: "file not found",
			})
		}
		return h.writeError(c, err)
	}

	contentType := echo.MIMEOctetStream
	if strings.HasSuffix(path, ".wav") {
		contentType = "audio/wav"
	}
	return c.Blob(http.StatusOK, contentType, data)
}

func badRequest(c echo.Context, message string) error {
	return c.JSON(http.StatusBadRequest, ErrorResponse{
		Error:   "invalid_request",
		Message: message,
	})
}

// writeError maps pipeline errors onto status codes. Messages never
// carry internal detail.
func (h *handler) writeError(c echo.Context, err error) error {
	status, code := http.StatusInternalServerError, "internal_error"
	switch {
	case entities.IsValidationError(err):
		status, code = http.StatusBadRequest, "invalid_request"
	case errors.Is(err, entities.ErrNotFound):
		status, code = http.StatusNotFound, "not_found"
	case entities.IsStorageError(err):
		status, code = http.StatusBadGateway, "storage_unavailable"
	case entities.IsSynthesisError(err):
		status, code = http.StatusBadGateway, "synthesis_failed"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status, code = http.StatusServiceUnavailable, "cancelled"
	}

	if status >= http.StatusInternalServerError {
		h.logger.Error("Request failed", zap.String("path", c.Path()), zap.Error(err))
	}
	return c.JSON(status, ErrorResponse{
		Error:   code,
		Message: usecase.PublicMessage(err),
	})
}
