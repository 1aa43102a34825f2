package reporting

import (
	"fmt"
	"strings"
	"time"
)

// RenderMarkdown renders a run summary as Markdown string.
func RenderMarkdown(s *Summary) string {
	var sb strings.Builder

	// Header
	sb.WriteString("# Layering Detection Report\n\n")
	sb.WriteString(fmt.Sprintf("Generated: %s\n\n", s.GeneratedAt.Format(time.RFC3339)))
	if s.RunID != "" {
		sb.WriteString(fmt.Sprintf("Run: `%s`\n\n", s.RunID))
	}
	if s.Input != "" {
		sb.WriteString(fmt.Sprintf("Input: `%s`\n\n", s.Input))
	}

	// Configuration
	sb.WriteString("## Configuration\n\n")
	sb.WriteString("| Parameter | Value |\n")
	sb.WriteString("|-----------|-------|\n")
	sb.WriteString(fmt.Sprintf("| ORDER_WINDOW | %s |\n", s.Config.OrderWindow))
	sb.WriteString(fmt.Sprintf("| CANCELLATION_WINDOW | %s |\n", s.Config.CancellationWindow))
	sb.WriteString(fmt.Sprintf("| OPPOSITE_TRADE_WINDOW | %s |\n", s.Config.OppositeTradeWindow))
	sb.WriteString(fmt.Sprintf("| MIN_ORDERS_SAME_SIDE | %d |\n", s.Config.MinOrdersSameSide))
	always := "(none)"
	if len(s.Config.AlwaysSuspicious) > 0 {
		always = strings.Join(s.Config.AlwaysSuspicious, ", ")
	}
	sb.WriteString(fmt.Sprintf("| ALWAYS_SUSPICIOUS | %s |\n", always))
	sb.WriteString("\n")

	// Summary
	sb.WriteString("## Summary\n\n")
	sb.WriteString("| Metric | Value |\n")
	sb.WriteString("|--------|-------|\n")
	sb.WriteString(fmt.Sprintf("| Events | %d |\n", s.EventCount))
	sb.WriteString(fmt.Sprintf("| Groups evaluated | %d |\n", s.GroupCount))
	sb.WriteString(fmt.Sprintf("| Suspicious accounts | %d |\n", s.FlaggedCount))
	sb.WriteString("\n")

	if len(s.ReasonCounts) > 0 {
		sb.WriteString("### Outcomes\n\n")
		sb.WriteString("| Reason | Groups |\n")
		sb.WriteString("|--------|--------|\n")
		for _, rc := range s.ReasonCounts {
			sb.WriteString(fmt.Sprintf("| %s | %d |\n", rc.Reason, rc.Count))
		}
		sb.WriteString("\n")
	}

	// Flagged
	sb.WriteString("## Suspicious Accounts\n\n")
	if len(s.Flagged) == 0 {
		sb.WriteString("No suspicious accounts detected.\n")
		return sb.String()
	}

	sb.WriteString("| Account | Product | Reason | Side | Buy Qty | Sell Qty | Cancelled | Detected | Prior |\n")
	sb.WriteString("|---------|---------|--------|------|---------|----------|-----------|----------|-------|\n")
	for _, r := range s.Flagged {
		side := r.Side
		if side == "" {
			side = "-"
		}
		sb.WriteString(fmt.Sprintf("| %s | %s | %s | %s | %d | %d | %d | %s | %d |\n",
			r.AccountID,
			r.ProductID,
			r.Reason,
			side,
			r.TotalBuyQty,
			r.TotalSellQty,
			r.NumCancelledOrders,
			r.DetectedTimestamp,
			r.PriorDetections,
		))
	}

	return sb.String()
}
