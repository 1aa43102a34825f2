// Package pipeline runs a detection pass end to end:
// load → order → detect → report → persist → alert.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"layering-detector/internal/alerting"
	"layering-detector/internal/detection"
	"layering-detector/internal/domain"
	"layering-detector/internal/ingestion"
	"layering-detector/internal/observability"
	"layering-detector/internal/reporting"
	"layering-detector/internal/storage"
)

const banner = "============================================================"

// Runner coordinates one detection pass.
type Runner struct {
	engine     *detection.Engine
	source     ingestion.EventSource
	sourceName string
	from, to   time.Time

	outputPath string
	reportPath string

	detections storage.DetectionStore
	publisher  alerting.Publisher
	metrics    *observability.Metrics
	generator  *reporting.Generator

	logger *zap.Logger
	now    func() time.Time
}

// Options for creating a Runner. Engine is required; everything else is optional.
type Options struct {
	Engine *detection.Engine

	// Source supplies events. When nil, InputPath is read as CSV.
	Source     ingestion.EventSource
	InputPath  string
	SourceName string    // label in logs and reports; defaults to InputPath
	From, To   time.Time // Source time range; zero bounds are open
	OutputPath string    // CSV of detection records; skipped when empty
	ReportPath string    // Markdown run summary; skipped when empty

	Detections storage.DetectionStore // detection history
	Publisher  alerting.Publisher
	Metrics    *observability.Metrics

	Logger *zap.Logger
	Clock  func() time.Time
}

// RunResult contains results from one detection pass.
type RunResult struct {
	RunID      string
	EventCount int
	GroupCount int
	Findings   []detection.Finding
	Records    []*domain.SuspiciousAccount
	Summary    *reporting.Summary

	Stored          int // detections newly persisted
	Duplicates      int // detections already in the store
	AlertsPublished int

	Duration time.Duration
}

// New creates a Runner.
func New(opts Options) (*Runner, error) {
	if opts.Engine == nil {
		return nil, errors.New("pipeline: engine is required")
	}

	r := &Runner{
		engine:     opts.Engine,
		source:     opts.Source,
		sourceName: opts.SourceName,
		from:       opts.From,
		to:         opts.To,
		outputPath: opts.OutputPath,
		reportPath: opts.ReportPath,
		detections: opts.Detections,
		publisher:  opts.Publisher,
		metrics:    opts.Metrics,
		generator:  reporting.NewGenerator(opts.Detections),
		logger:     opts.Logger,
		now:        opts.Clock,
	}
	if r.source == nil && opts.InputPath != "" {
		r.source = ingestion.NewCSVSource(opts.InputPath)
	}
	if r.sourceName == "" {
		r.sourceName = opts.InputPath
	}
	if r.logger == nil {
		r.logger = zap.NewNop()
	}
	if r.now == nil {
		r.now = time.Now
	}
	r.generator.WithClock(func() time.Time { return r.now().UTC() })
	return r, nil
}

// Run loads events from the configured source, detects, and writes outputs.
// Load errors keep their ingestion sentinels (ErrFileNotFound, *DataError) so
// callers can classify them.
func (r *Runner) Run(ctx context.Context) (*RunResult, error) {
	if r.source == nil {
		return nil, errors.New("pipeline: no event source configured")
	}
	start := r.now()
	runID := uuid.NewString()
	log := r.logger.With(zap.String("run_id", runID))

	log.Info(banner)
	log.Info("Layering Detection System - Starting")
	log.Info("Input: " + r.sourceName)
	if r.outputPath != "" {
		log.Info("Output: " + r.outputPath)
	}
	log.Info(banner)

	log.Info("Loading transaction data...")
	events, err := r.source.Fetch(ctx, r.from, r.to)
	if err != nil {
		r.finish(false, start)
		return nil, fmt.Errorf("load events: %w", err)
	}
	log.Info("Loaded events", zap.Int("count", len(events)))

	result, err := r.process(ctx, log, runID, r.sourceName, events)
	if err != nil {
		r.finish(false, start)
		return nil, err
	}

	log.Info("Saving results...")
	if err := r.writeOutputs(result); err != nil {
		r.finish(false, start)
		return nil, err
	}

	result.Duration = r.finish(true, start)

	log.Info(banner)
	log.Info(fmt.Sprintf("Detection complete: %d suspicious account(s) found", len(result.Records)))
	if r.outputPath != "" {
		log.Info("Results saved to: " + r.outputPath)
	}
	log.Info(banner)
	return result, nil
}

// Detect runs a pass over events supplied by the caller, such as an HTTP upload.
// Outputs configured by path are not written.
func (r *Runner) Detect(ctx context.Context, sourceName string, events []*domain.Event) (*RunResult, error) {
	start := r.now()
	runID := uuid.NewString()
	log := r.logger.With(zap.String("run_id", runID))

	result, err := r.process(ctx, log, runID, sourceName, events)
	if err != nil {
		r.finish(false, start)
		return nil, err
	}
	result.Duration = r.finish(true, start)
	log.Info(fmt.Sprintf("Detection complete: %d suspicious account(s) found", len(result.Records)))
	return result, nil
}

// process orders, detects, summarizes, persists and publishes.
func (r *Runner) process(ctx context.Context, log *zap.Logger, runID, sourceName string, events []*domain.Event) (*RunResult, error) {
	ingestion.SortEvents(events)
	if err := ingestion.ValidateEventOrdering(events); err != nil {
		return nil, err
	}
	if r.metrics != nil {
		r.metrics.RecordEventsLoaded(len(events))
	}

	cfg := r.engine.Config()
	log.Info(fmt.Sprintf("Running detection (window=%s)...", formatSeconds(cfg.OrderWindow)))

	detectStart := time.Now()
	findings, err := r.engine.ExplainContext(ctx, events)
	if err != nil {
		return nil, err
	}
	if r.metrics != nil {
		r.metrics.RecordDetectionDuration(time.Since(detectStart))
	}

	result := &RunResult{
		RunID:      runID,
		EventCount: len(events),
		GroupCount: len(findings),
		Findings:   findings,
		Records:    make([]*domain.SuspiciousAccount, 0),
	}
	reasons := make(map[string]string)
	for i := range findings {
		if rec := findings[i].Record; rec != nil {
			result.Records = append(result.Records, rec)
			reasons[rec.DetectionID] = string(findings[i].Reason)
		}
	}

	// Summary first: stored detections of this run must not count as prior.
	result.Summary, err = r.generator.Generate(ctx, reporting.Input{
		RunID:      runID,
		Source:     sourceName,
		Config:     cfg,
		EventCount: len(events),
		Findings:   findings,
	})
	if err != nil {
		return nil, fmt.Errorf("generate summary: %w", err)
	}

	fresh, err := r.persist(ctx, result)
	if err != nil {
		return nil, err
	}
	if result.Duplicates > 0 {
		log.Info("Skipped previously stored detections", zap.Int("duplicates", result.Duplicates))
	}

	result.AlertsPublished = r.publish(ctx, log, runID, fresh, reasons)
	return result, nil
}

// persist stores the run's records and returns those not stored before.
// Without a store every record counts as new.
func (r *Runner) persist(ctx context.Context, result *RunResult) ([]*domain.SuspiciousAccount, error) {
	records := result.Records
	if r.detections == nil || len(records) == 0 {
		return records, nil
	}

	err := r.detections.InsertBulk(ctx, records)
	if err == nil {
		result.Stored = len(records)
		return records, nil
	}
	if !errors.Is(err, storage.ErrDuplicateKey) {
		return nil, fmt.Errorf("persist detections: %w", err)
	}

	// InsertBulk is all-or-nothing; fall back to one by one to keep the new ones.
	fresh := make([]*domain.SuspiciousAccount, 0, len(records))
	for _, rec := range records {
		err := r.detections.Insert(ctx, rec)
		switch {
		case errors.Is(err, storage.ErrDuplicateKey):
			result.Duplicates++
		case err != nil:
			return nil, fmt.Errorf("persist detection %s: %w", rec.DetectionID, err)
		default:
			result.Stored++
			fresh = append(fresh, rec)
		}
	}
	return fresh, nil
}

// publish sends alerts for records. Failures are logged, never fatal.
func (r *Runner) publish(ctx context.Context, log *zap.Logger, runID string, records []*domain.SuspiciousAccount, reasons map[string]string) int {
	if r.publisher == nil || len(records) == 0 {
		return 0
	}

	now := r.now()
	alerts := make([]alerting.Alert, 0, len(records))
	for _, rec := range records {
		alerts = append(alerts, alerting.NewAlert(runID, reasons[rec.DetectionID], rec, now))
	}

	if err := r.publisher.Publish(ctx, alerts); err != nil {
		log.Warn("Alert publishing failed", zap.String("sink", r.publisher.Name()), zap.Error(err))
		return 0
	}
	return len(alerts)
}

func (r *Runner) writeOutputs(result *RunResult) error {
	if r.outputPath != "" {
		if err := reporting.WriteCSV(r.outputPath, result.Records); err != nil {
			return fmt.Errorf("save results: %w", err)
		}
	}
	if r.reportPath != "" {
		if err := reporting.WriteMarkdown(r.reportPath, result.Summary); err != nil {
			return fmt.Errorf("save report: %w", err)
		}
		r.logger.Info("Report saved to: " + r.reportPath)
	}
	return nil
}

func (r *Runner) finish(success bool, start time.Time) time.Duration {
	d := r.now().Sub(start)
	if r.metrics != nil {
		r.metrics.RecordPipelineRun(success, d)
	}
	return d
}

// formatSeconds renders 10s as "10s" and 1.5s as "1.5s".
func formatSeconds(d time.Duration) string {
	s := fmt.Sprintf("%g", d.Seconds())
	if strings.Contains(s, "e") {
		return d.String()
	}
	return s + "s"
}
