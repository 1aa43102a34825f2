package reporting

import (
	"context"
	"fmt"
	"sort"
	"time"

	"layering-detector/internal/detection"
	"layering-detector/internal/storage"
)

// Generator builds run summaries from detection findings.
type Generator struct {
	history storage.DetectionStore // optional
	now     func() time.Time       // Injectable clock for deterministic output
}

// NewGenerator creates a new report generator. history may be nil; when set,
// each flagged row carries the account's count of earlier stored detections.
func NewGenerator(history storage.DetectionStore) *Generator {
	return &Generator{
		history: history,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// WithClock sets a custom clock function for deterministic output.
func (g *Generator) WithClock(now func() time.Time) *Generator {
	g.now = now
	return g
}

// Input is what a detection run hands to the generator.
type Input struct {
	RunID      string
	Source     string
	Config     detection.Config
	EventCount int
	Findings   []detection.Finding
}

// Generate produces the run summary. It must be called before the run's own
// detections are persisted, otherwise they count as prior detections.
func (g *Generator) Generate(ctx context.Context, in Input) (*Summary, error) {
	s := &Summary{
		RunID:       in.RunID,
		GeneratedAt: g.now(),
		Input:       in.Source,
		Config: ConfigSection{
			OrderWindow:         in.Config.OrderWindow,
			CancellationWindow:  in.Config.CancellationWindow,
			OppositeTradeWindow: in.Config.OppositeTradeWindow,
			MinOrdersSameSide:   in.Config.MinOrdersSameSide,
			AlwaysSuspicious:    in.Config.AlwaysSuspicious(),
		},
		EventCount: in.EventCount,
		GroupCount: len(in.Findings),
	}

	counts := make(map[string]int)
	prior := make(map[string]int)

	for i := range in.Findings {
		f := &in.Findings[i]
		counts[string(f.Reason)]++
		if !f.Flagged() {
			continue
		}

		n, ok := prior[f.Key.AccountID]
		if !ok {
			var err error
			n, err = g.priorDetections(ctx, f.Key.AccountID)
			if err != nil {
				return nil, err
			}
			prior[f.Key.AccountID] = n
		}

		row := FlaggedRow{
			AccountID:          f.Record.AccountID,
			ProductID:          f.Record.ProductID,
			Reason:             string(f.Reason),
			TotalBuyQty:        f.Record.TotalBuyQty,
			TotalSellQty:       f.Record.TotalSellQty,
			NumCancelledOrders: f.Record.NumCancelledOrders,
			DetectedTimestamp:  f.Record.DetectedTimestamp(),
			PriorDetections:    n,
		}
		if f.Match != nil {
			row.Side = f.Match.Side.String()
		}
		s.Flagged = append(s.Flagged, row)
	}

	s.FlaggedCount = len(s.Flagged)
	for reason, n := range counts {
		s.ReasonCounts = append(s.ReasonCounts, ReasonCount{Reason: reason, Count: n})
	}
	sort.Slice(s.ReasonCounts, func(i, j int) bool {
		return s.ReasonCounts[i].Reason < s.ReasonCounts[j].Reason
	})

	return s, nil
}

func (g *Generator) priorDetections(ctx context.Context, accountID string) (int, error) {
	if g.history == nil {
		return 0, nil
	}
	past, err := g.history.GetByAccount(ctx, accountID)
	if err != nil {
		return 0, fmt.Errorf("load detection history for %s: %w", accountID, err)
	}
	return len(past), nil
}
