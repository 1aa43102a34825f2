// Package server exposes detection over HTTP: uploads, detection history,
// a live WebSocket feed, health, status and metrics.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"layering-detector/internal/alerting"
	"layering-detector/internal/domain"
	"layering-detector/internal/ingestion"
	"layering-detector/internal/observability"
	"layering-detector/internal/pipeline"
	"layering-detector/internal/storage"
)

// DefaultMaxUploadBytes caps POST /api/v1/detect bodies.
const DefaultMaxUploadBytes = 32 << 20

// Server holds the HTTP router and run status.
type Server struct {
	router     *gin.Engine
	runner     *pipeline.Runner
	detections storage.DetectionStore
	hub        *alerting.Hub
	metrics    *observability.Metrics
	logger     *zap.Logger
	maxUpload  int64
	now        func() time.Time

	scheduled atomic.Bool // a scheduled run is in progress

	// State
	mu         sync.Mutex
	started    time.Time
	lastRun    time.Time
	lastRunID  string
	lastError  string
	runs       int
	active     int
	lastCounts runCounts
}

type runCounts struct {
	Events     int `json:"events"`
	Groups     int `json:"groups"`
	Detections int `json:"detections"`
}

// Options for creating a Server. Runner is required.
type Options struct {
	Runner     *pipeline.Runner
	Detections storage.DetectionStore // serves /api/v1/detections when set
	Hub        *alerting.Hub          // serves /ws/detections when set
	Metrics    *observability.Metrics
	Gatherer   prometheus.Gatherer // defaults to prometheus.DefaultGatherer
	Logger     *zap.Logger
	MaxUpload  int64
	Clock      func() time.Time
}

// New creates a Server and registers its routes.
func New(opts Options) (*Server, error) {
	if opts.Runner == nil {
		return nil, errors.New("server: runner is required")
	}
	s := &Server{
		runner:     opts.Runner,
		detections: opts.Detections,
		hub:        opts.Hub,
		metrics:    opts.Metrics,
		logger:     opts.Logger,
		maxUpload:  opts.MaxUpload,
		now:        opts.Clock,
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.maxUpload <= 0 {
		s.maxUpload = DefaultMaxUploadBytes
	}
	if s.now == nil {
		s.now = time.Now
	}
	s.started = s.now()

	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	r := gin.New()
	r.Use(gin.Recovery(), s.observe())

	r.GET("/health", s.health)
	r.GET("/metrics", gin.WrapH(observability.HandlerFor(gatherer)))
	r.GET("/status", s.status)

	api := r.Group("/api/v1")
	{
		api.POST("/detect", s.detect)
		api.GET("/detections", s.listDetections)
		api.GET("/detections/:id", s.getDetection)
	}

	if s.hub != nil {
		r.GET("/ws/detections", gin.WrapH(s.hub))
	}

	s.router = r
	return s, nil
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// observe logs every request and counts it by route and status code.
func (s *Server) observe() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		code := c.Writer.Status()
		if s.metrics != nil {
			s.metrics.RecordHTTPRequest(route, code)
		}
		s.logger.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("route", route),
			zap.Int("status", code),
			zap.Duration("latency", time.Since(start)),
		)
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// StatusResponse is the JSON response for /status endpoint.
type StatusResponse struct {
	Status    string    `json:"status"`
	Uptime    string    `json:"uptime"`
	Started   time.Time `json:"started"`
	LastRun   time.Time `json:"last_run,omitempty"`
	LastRunID string    `json:"last_run_id,omitempty"`
	LastError string    `json:"last_error,omitempty"`
	Runs      int       `json:"runs"`
	Running   bool      `json:"running"`
	LastCount runCounts `json:"last_counts"`
	Clients   int       `json:"websocket_clients"`
}

func (s *Server) status(c *gin.Context) {
	s.mu.Lock()
	resp := StatusResponse{
		Status:    "running",
		Uptime:    s.now().Sub(s.started).String(),
		Started:   s.started,
		LastRun:   s.lastRun,
		LastRunID: s.lastRunID,
		LastError: s.lastError,
		Runs:      s.runs,
		Running:   s.active > 0,
		LastCount: s.lastCounts,
	}
	s.mu.Unlock()

	if s.hub != nil {
		resp.Clients = s.hub.Clients()
	}
	c.JSON(http.StatusOK, resp)
}

// DetectionJSON is the API form of a detection record.
type DetectionJSON struct {
	DetectionID        string `json:"detection_id"`
	AccountID          string `json:"account_id"`
	ProductID          string `json:"product_id"`
	TotalBuyQty        int64  `json:"total_buy_qty"`
	TotalSellQty       int64  `json:"total_sell_qty"`
	NumCancelledOrders int    `json:"num_cancelled_orders"`
	DetectedTimestamp  string `json:"detected_timestamp"`
}

func toJSON(records []*domain.SuspiciousAccount) []DetectionJSON {
	out := make([]DetectionJSON, 0, len(records))
	for _, r := range records {
		out = append(out, DetectionJSON{
			DetectionID:        r.DetectionID,
			AccountID:          r.AccountID,
			ProductID:          r.ProductID,
			TotalBuyQty:        r.TotalBuyQty,
			TotalSellQty:       r.TotalSellQty,
			NumCancelledOrders: r.NumCancelledOrders,
			DetectedTimestamp:  r.DetectedTimestamp(),
		})
	}
	return out
}

// DetectResponse is the JSON response for POST /api/v1/detect.
type DetectResponse struct {
	RunID      string          `json:"run_id"`
	EventCount int             `json:"event_count"`
	GroupCount int             `json:"group_count"`
	Stored     int             `json:"stored"`
	Detections []DetectionJSON `json:"detections"`
}

// detect runs detection over a CSV request body.
func (s *Server) detect(c *gin.Context) {
	body := http.MaxBytesReader(c.Writer, c.Request.Body, s.maxUpload)
	events, err := ingestion.ReadCSV(body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": err.Error()})
		case ingestion.IsDataError(err):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("read body: %v", err)})
		}
		return
	}

	result, err := s.track(func() (*pipeline.RunResult, error) {
		return s.runner.Detect(c.Request.Context(), "upload", events)
	})
	if err != nil {
		s.logger.Error("detection failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, DetectResponse{
		RunID:      result.RunID,
		EventCount: result.EventCount,
		GroupCount: result.GroupCount,
		Stored:     result.Stored,
		Detections: toJSON(result.Records),
	})
}

func (s *Server) listDetections(c *gin.Context) {
	if s.detections == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "detection store not configured"})
		return
	}

	var (
		records []*domain.SuspiciousAccount
		err     error
	)
	if account := c.Query("account"); account != "" {
		records, err = s.detections.GetByAccount(c.Request.Context(), account)
	} else {
		records, err = s.detections.GetAll(c.Request.Context())
	}
	if err != nil {
		s.logger.Error("list detections failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if limitStr := c.Query("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		if limit < len(records) {
			records = records[:limit]
		}
	}

	c.JSON(http.StatusOK, gin.H{"count": len(records), "detections": toJSON(records)})
}

func (s *Server) getDetection(c *gin.Context) {
	if s.detections == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "detection store not configured"})
		return
	}

	d, err := s.detections.GetByID(c.Request.Context(), c.Param("id"))
	if errors.Is(err, storage.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "detection not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, toJSON([]*domain.SuspiciousAccount{d})[0])
}

// RunPipeline runs one scheduled pass over the runner's source.
// Overlapping calls are skipped.
func (s *Server) RunPipeline(ctx context.Context) {
	if !s.scheduled.CompareAndSwap(false, true) {
		s.logger.Info("Pipeline already running, skipping...")
		return
	}
	defer s.scheduled.Store(false)

	result, err := s.track(func() (*pipeline.RunResult, error) {
		return s.runner.Run(ctx)
	})
	if err != nil {
		s.logger.Error("Pipeline error", zap.Error(err))
		return
	}
	s.logger.Info("Pipeline completed",
		zap.String("run_id", result.RunID),
		zap.Int("events", result.EventCount),
		zap.Int("detections", len(result.Records)),
		zap.Duration("duration", result.Duration),
	)
}

// RunScheduler runs the pipeline immediately and then every interval until
// ctx is done.
func (s *Server) RunScheduler(ctx context.Context, interval time.Duration) error {
	s.logger.Info("Starting pipeline scheduler", zap.Duration("interval", interval))
	s.RunPipeline(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.RunPipeline(ctx)
		}
	}
}

// track records run status around fn.
func (s *Server) track(fn func() (*pipeline.RunResult, error)) (*pipeline.RunResult, error) {
	s.mu.Lock()
	s.active++
	s.mu.Unlock()

	result, err := fn()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.active--
	s.lastRun = s.now()
	s.runs++
	if err != nil {
		s.lastError = err.Error()
		return nil, err
	}
	s.lastError = ""
	s.lastRunID = result.RunID
	s.lastCounts = runCounts{
		Events:     result.EventCount,
		Groups:     result.GroupCount,
		Detections: len(result.Records),
	}
	return result, nil
}
