// Package server exposes allocation over HTTP.
//
// Routes:
//
//	POST /v1/allocations   allocate one or more designators
//	GET  /v1/series        read a series counter (?prefix=)
//	GET  /healthz          liveness
//	GET  /metrics          Prometheus metrics
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roach88/numbering/internal/publish"
	"github.com/roach88/numbering/numbering"
)

// MaxCount bounds the designators one request may allocate.
const MaxCount = 1000

// Config configures a Server.
type Config struct {
	// RequestTimeout bounds each request's allocations. Zero means 10s.
	RequestTimeout time.Duration

	// Registry serves /metrics and receives HTTP metrics. Nil disables both.
	Registry *prometheus.Registry

	// Publisher receives an event per issued designator. Nil publishes
	// nothing.
	Publisher publish.Publisher

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Server is the HTTP front end of one Allocator.
type Server struct {
	app       *fiber.App
	alloc     *numbering.Allocator
	publisher publish.Publisher
	logger    *slog.Logger
	timeout   time.Duration
	validator *validator.Validate
}

// APIResponse is the envelope of every JSON response.
type APIResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
	Error   any    `json:"error,omitempty"`
}

// ErrorDetail names a failure.
type ErrorDetail struct {
	Code    string `json:"code"`
	Details any    `json:"details,omitempty"`
}

// AllocateRequest is the body of POST /v1/allocations.
type AllocateRequest struct {
	Prefix    string `json:"prefix" validate:"max=256"`
	InitialID *int64 `json:"initial_id"`
	Count     int    `json:"count" validate:"omitempty,min=1"`
}

// AllocationDTO is one issued designator.
type AllocationDTO struct {
	Prefix     string    `json:"prefix"`
	ID         int64     `json:"id"`
	Designator string    `json:"designator"`
	IssuedAt   time.Time `json:"issued_at"`
	Attempts   int       `json:"attempts"`
}

// SeriesDTO is a series counter.
type SeriesDTO struct {
	Prefix    string    `json:"prefix"`
	LastID    int64     `json:"last_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// New creates a server for alloc and registers its routes.
func New(alloc *numbering.Allocator, cfg Config) *Server {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	if cfg.Publisher == nil {
		cfg.Publisher = publish.Nop{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	s := &Server{
		alloc:     alloc,
		publisher: cfg.Publisher,
		logger:    cfg.Logger,
		timeout:   cfg.RequestTimeout,
		validator: validator.New(),
	}
	s.app = fiber.New(fiber.Config{
		AppName:      "numbering",
		ErrorHandler: s.errorHandler,
		BodyLimit:    64 * 1024,
		ReadTimeout:  cfg.RequestTimeout,
		WriteTimeout: cfg.RequestTimeout,
		IdleTimeout:  60 * time.Second,
		JSONEncoder:  json.Marshal,
		JSONDecoder:  json.Unmarshal,
	})

	if cfg.Registry != nil {
		s.app.Use(requestMetrics(cfg.Registry))
		s.app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(cfg.Registry, promhttp.HandlerOpts{})))
	}
	s.app.Get("/healthz", s.health)

	v1 := s.app.Group("/v1")
	v1.Post("/allocations", s.allocate)
	v1.Get("/series", s.series)
	return s
}

// App returns the fiber application, e.g. for app.Test.
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen serves on addr until Shutdown.
func (s *Server) Listen(addr string) error {
	return s.app.Listen(addr, fiber.ListenConfig{DisableStartupMessage: true})
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) health(c fiber.Ctx) error {
	return c.JSON(APIResponse{Success: true, Message: "ok"})
}

func (s *Server) allocate(c fiber.Ctx) error {
	var req AllocateRequest
	if err := c.Bind().JSON(&req); err != nil {
		return errorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}
	if err := s.validator.Struct(&req); err != nil {
		var details []string
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, e := range verrs {
				details = append(details, e.Error())
			}
		}
		return errorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", details)
	}
	count := req.Count
	if count == 0 {
		count = 1
	}
	if count > MaxCount {
		return errorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR",
			[]string{"count " + strconv.Itoa(count) + " exceeds the limit of " + strconv.Itoa(MaxCount)})
	}
	initialID := numbering.DefaultInitialID
	if req.InitialID != nil {
		initialID = *req.InitialID
	}

	ctx, cancel := context.WithTimeout(c.Context(), s.timeout)
	defer cancel()

	issued := make([]AllocationDTO, 0, count)
	events := make([]publish.Event, 0, count)
	var allocErr error
	for i := 0; i < count; i++ {
		al, err := s.alloc.Allocate(ctx, req.Prefix, initialID)
		if err != nil {
			allocErr = err
			break
		}
		issued = append(issued, toAllocationDTO(al))
		events = append(events, publish.FromAllocation(al))
	}

	if len(events) > 0 {
		if err := s.publisher.Publish(ctx, events...); err != nil {
			s.logger.Warn("publishing issuance events failed",
				"prefix", req.Prefix,
				"count", len(events),
				"error", err,
			)
		}
	}

	if allocErr != nil {
		status, code := statusFor(allocErr)
		if status == fiber.StatusInternalServerError {
			s.logger.Error("allocation failed", "prefix", req.Prefix, "error", allocErr)
		}
		return errorResponse(c, status, allocErr.Error(), code, fiber.Map{"issued": issued})
	}
	return c.Status(fiber.StatusCreated).JSON(APIResponse{
		Success: true,
		Message: strconv.Itoa(len(issued)) + " designator(s) issued",
		Data:    issued,
	})
}

func (s *Server) series(c fiber.Ctx) error {
	prefix := c.Query("prefix")

	ctx, cancel := context.WithTimeout(c.Context(), s.timeout)
	defer cancel()

	series, err := s.alloc.Series(ctx, prefix)
	if errors.Is(err, numbering.ErrSeriesNotFound) {
		return errorResponse(c, fiber.StatusNotFound, "Series not found", "SERIES_NOT_FOUND", nil)
	}
	if err != nil {
		status, code := statusFor(err)
		return errorResponse(c, status, err.Error(), code, nil)
	}
	return c.JSON(APIResponse{
		Success: true,
		Message: "Series retrieved",
		Data: SeriesDTO{
			Prefix:    series.Prefix,
			LastID:    series.LastID,
			CreatedAt: series.CreatedAt,
			UpdatedAt: series.UpdatedAt,
		},
	})
}

func (s *Server) errorHandler(c fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}
	if code >= fiber.StatusInternalServerError {
		s.logger.Error("request failed", "path", c.Path(), "status", code, "error", err)
	}
	return errorResponse(c, code, err.Error(), "HTTP_"+strconv.Itoa(code), nil)
}

// statusFor maps allocation errors onto HTTP.
func statusFor(err error) (int, string) {
	switch {
	case numbering.IsConfiguration(err):
		return fiber.StatusBadRequest, string(numbering.ErrCodeConfiguration)
	case numbering.IsOverflow(err):
		return fiber.StatusConflict, string(numbering.ErrCodeOverflow)
	case numbering.IsExhausted(err):
		return fiber.StatusServiceUnavailable, string(numbering.ErrCodeExhausted)
	default:
		return fiber.StatusInternalServerError, "INTERNAL_ERROR"
	}
}

func errorResponse(c fiber.Ctx, status int, message, code string, details any) error {
	return c.Status(status).JSON(APIResponse{
		Success: false,
		Message: message,
		Error:   ErrorDetail{Code: code, Details: details},
	})
}

func toAllocationDTO(al numbering.Allocation) AllocationDTO {
	return AllocationDTO{
		Prefix:     al.Prefix,
		ID:         al.ID,
		Designator: al.Designator,
		IssuedAt:   al.IssuedAt,
		Attempts:   al.Attempts,
	}
}

// requestMetrics records request counts and latency by matched route.
func requestMetrics(reg prometheus.Registerer) fiber.Handler {
	f := promauto.With(reg)
	requests := f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed",
		},
		[]string{"method", "route", "status"},
	)
	duration := f.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)

	return func(c fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		route := c.Path()
		if r := c.Route(); r != nil && r.Path != "" {
			route = r.Path
		}
		labels := prometheus.Labels{
			"method": c.Method(),
			"route":  route,
			"status": strconv.Itoa(c.Response().StatusCode()),
		}
		requests.With(labels).Inc()
		duration.With(labels).Observe(time.Since(start).Seconds())
		return err
	}
}
