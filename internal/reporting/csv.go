package reporting

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"layering-detector/internal/domain"
)

// CSVHeader is the column order of the suspicious accounts file.
var CSVHeader = []string{
	"account_id",
	"product_id",
	"total_buy_qty",
	"total_sell_qty",
	"num_cancelled_orders",
	"detected_timestamp",
}

// RenderCSV renders detection records as CSV string. An empty slice renders
// the header line only.
func RenderCSV(records []*domain.SuspiciousAccount) string {
	var sb strings.Builder
	w := csv.NewWriter(&sb)

	// strings.Builder writes cannot fail
	_ = w.Write(CSVHeader)
	for _, r := range records {
		_ = w.Write([]string{
			r.AccountID,
			r.ProductID,
			strconv.FormatInt(r.TotalBuyQty, 10),
			strconv.FormatInt(r.TotalSellQty, 10),
			strconv.Itoa(r.NumCancelledOrders),
			r.DetectedTimestamp(),
		})
	}
	w.Flush()

	return sb.String()
}

// WriteCSV writes records to path, creating parent directories as needed.
func WriteCSV(path string, records []*domain.SuspiciousAccount) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(RenderCSV(records)), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// WriteMarkdown writes the rendered summary to path, creating parent directories as needed.
func WriteMarkdown(path string, s *Summary) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create report dir: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(RenderMarkdown(s)), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
