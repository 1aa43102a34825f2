// Package detection flags (account, product) groups that show a layering pattern:
// several same-side orders placed and cancelled in quick succession, followed by
// a trade on the opposite side.
package detection

import (
	"context"
	"fmt"
	"runtime"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"layering-detector/internal/domain"
)

// Reason explains the outcome of evaluating one group.
type Reason string

const (
	ReasonAlwaysSuspicious   Reason = "always_suspicious"
	ReasonLayering           Reason = "layering"
	ReasonInsufficientOrders Reason = "insufficient_orders"
	ReasonNoPattern          Reason = "no_pattern"
)

// Finding is the evaluation result for one group.
type Finding struct {
	Key        domain.GroupKey
	Reason     Reason
	EventCount int
	Match      *Match                    // set for ReasonLayering only
	Record     *domain.SuspiciousAccount // nil when the group is clean
}

// Flagged reports whether the group produced a detection record.
func (f *Finding) Flagged() bool {
	return f.Record != nil
}

// Recorder receives per-group evaluation counts. Implementations must be safe
// for concurrent use.
type Recorder interface {
	RecordGroupEvaluated()
	RecordDetection(reason string)
}

// Engine runs layering detection with an immutable Config.
type Engine struct {
	cfg      Config
	logger   *zap.Logger
	workers  int
	recorder Recorder
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets the engine logger. Defaults to a no-op logger.
func WithLogger(l *zap.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithWorkers sets the goroutine limit used by DetectContext.
// Values below 1 fall back to GOMAXPROCS.
func WithWorkers(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithRecorder sets a metrics recorder.
func WithRecorder(r Recorder) EngineOption {
	return func(e *Engine) { e.recorder = r }
}

// NewEngine creates an engine. The config is validated again here so that an
// invalid Config literal can never reach Detect.
func NewEngine(cfg Config, opts ...EngineOption) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("create engine: %w", err)
	}

	e := &Engine{
		cfg:     cfg,
		logger:  zap.NewNop(),
		workers: runtime.GOMAXPROCS(0),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Config returns the engine configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// Detect evaluates every (account, product) group and returns the detection
// records in group order. Callers must pre-sort events by
// (account_id, product_id, timestamp) for deterministic output.
func (e *Engine) Detect(events []*domain.Event) []*domain.SuspiciousAccount {
	return recordsOf(e.Explain(events))
}

// Explain evaluates every group sequentially and returns one Finding per group.
func (e *Engine) Explain(events []*domain.Event) []Finding {
	groups := partition(events)
	findings := make([]Finding, len(groups))
	for i, g := range groups {
		findings[i] = e.evaluate(g)
	}
	return findings
}

// DetectContext is Detect with groups evaluated in parallel. The result is
// identical to Detect. It only fails if ctx is done before all groups finish.
func (e *Engine) DetectContext(ctx context.Context, events []*domain.Event) ([]*domain.SuspiciousAccount, error) {
	findings, err := e.ExplainContext(ctx, events)
	if err != nil {
		return nil, err
	}
	return recordsOf(findings), nil
}

// ExplainContext is Explain with groups evaluated in parallel.
func (e *Engine) ExplainContext(ctx context.Context, events []*domain.Event) ([]Finding, error) {
	groups := partition(events)
	findings := make([]Finding, len(groups))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)

	for i := range groups {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			// each goroutine owns findings[i]
			findings[i] = e.evaluate(groups[i])
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("detect layering: %w", err)
	}
	return findings, nil
}

// evaluate runs the always-suspicious rule and the layering search for one group.
func (e *Engine) evaluate(g group) Finding {
	f := Finding{Key: g.key, EventCount: len(g.events)}

	if e.cfg.IsAlwaysSuspicious(g.key.AccountID) {
		f.Reason = ReasonAlwaysSuspicious
		f.Record = BuildRecord(g.key, g.events)
		e.logger.Warn("Flagged (always suspicious)",
			zap.String("account_id", g.key.AccountID),
			zap.String("product_id", g.key.ProductID),
		)
	} else {
		f.Match, f.Reason = findLayering(e.cfg, g.events)
		if f.Match != nil {
			f.Record = BuildRecord(g.key, g.events)
			e.logger.Warn("Layering detected",
				zap.String("account_id", g.key.AccountID),
				zap.String("product_id", g.key.ProductID),
				zap.String("side", f.Match.Side.String()),
				zap.Int("orders", e.cfg.MinOrdersSameSide),
				zap.Duration("window", f.Match.Span()),
				zap.Time("last_cancel", f.Match.LastCancel),
				zap.Time("trade_at", f.Match.TradeAt),
			)
		}
	}

	if e.recorder != nil {
		e.recorder.RecordGroupEvaluated()
		if f.Flagged() {
			e.recorder.RecordDetection(string(f.Reason))
		}
	}
	return f
}

func recordsOf(findings []Finding) []*domain.SuspiciousAccount {
	records := make([]*domain.SuspiciousAccount, 0)
	for i := range findings {
		if findings[i].Record != nil {
			records = append(records, findings[i].Record)
		}
	}
	return records
}
