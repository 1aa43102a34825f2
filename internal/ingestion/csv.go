package ingestion

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"layering-detector/internal/domain"
)

// RequiredColumns are the CSV columns every input must carry. Order in the file
// does not matter and extra columns are ignored.
var RequiredColumns = []string{
	"timestamp", "account_id", "product_id", "side", "price", "quantity", "event_type",
}

// timestampLayouts are tried in order. Layouts without a zone are read as UTC.
// Fractional seconds are accepted after the seconds field by every layout.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// LoadCSV reads and validates the event file at path.
// Events are returned sorted by (account_id, product_id, timestamp).
func LoadCSV(path string) ([]*domain.Event, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrFileNotFound, path)
		}
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	return ReadCSV(f)
}

// ReadCSV parses and validates events from r.
// Events are returned sorted by (account_id, product_id, timestamp); Seq holds
// the 1-based data row of each event.
func ReadCSV(r io.Reader) ([]*domain.Event, error) {
	reader := csv.NewReader(r)

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, &DataError{Line: 1, Err: ErrMissingColumns, Value: strings.Join(RequiredColumns, ",")}
		}
		return nil, readError(err)
	}

	cols, err := columnIndex(header)
	if err != nil {
		return nil, err
	}

	var events []*domain.Event
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, readError(err)
		}
		line, _ := reader.FieldPos(0)

		e, err := parseRecord(record, cols, line)
		if err != nil {
			return nil, err
		}
		e.Seq = int64(len(events) + 1)
		events = append(events, e)
	}

	SortEvents(events)
	return events, nil
}

// readError classifies a csv.Reader failure. Parse errors are data errors;
// anything else comes from the underlying reader.
func readError(err error) error {
	var perr *csv.ParseError
	if errors.As(err, &perr) {
		return &DataError{Line: perr.Line, Err: fmt.Errorf("%w: %v", ErrMalformedCSV, perr.Err)}
	}
	return fmt.Errorf("read csv: %w", err)
}

// columnIndex maps each required column to its position in header.
func columnIndex(header []string) (map[string]int, error) {
	idx := make(map[string]int, len(header))
	for i, name := range header {
		name = strings.TrimSpace(name)
		if i == 0 {
			name = strings.TrimPrefix(name, "\ufeff")
		}
		if _, dup := idx[name]; !dup {
			idx[name] = i
		}
	}

	var missing []string
	for _, name := range RequiredColumns {
		if _, ok := idx[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, &DataError{Line: 1, Err: ErrMissingColumns, Value: strings.Join(missing, ",")}
	}
	return idx, nil
}

func parseRecord(record []string, cols map[string]int, line int) (*domain.Event, error) {
	field := func(name string) string {
		return strings.TrimSpace(record[cols[name]])
	}

	raw := field("timestamp")
	ts, err := ParseTimestamp(raw)
	if err != nil {
		return nil, &DataError{Line: line, Err: ErrInvalidTimestamp, Value: raw}
	}

	side := domain.Side(field("side"))
	if !side.IsValid() {
		return nil, &DataError{Line: line, Err: ErrInvalidSide, Value: string(side)}
	}

	eventType := domain.EventType(field("event_type"))
	if !eventType.IsValid() {
		return nil, &DataError{Line: line, Err: ErrInvalidEventType, Value: string(eventType)}
	}

	raw = field("quantity")
	qty, err := parseQuantity(raw)
	if err != nil {
		return nil, &DataError{Line: line, Err: ErrInvalidQuantity, Value: raw}
	}

	raw = field("price")
	price, err := decimal.NewFromString(raw)
	if err != nil {
		return nil, &DataError{Line: line, Err: ErrInvalidPrice, Value: raw}
	}

	return &domain.Event{
		Timestamp: ts,
		AccountID: field("account_id"),
		ProductID: field("product_id"),
		Side:      side,
		Price:     price,
		Quantity:  qty,
		EventType: eventType,
	}, nil
}

// ParseTimestamp parses an ISO-8601 style timestamp. Values without a zone
// are interpreted as UTC.
func ParseTimestamp(s string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if ts, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidTimestamp, s)
}

// parseQuantity accepts non-negative integers, including integral decimals such as "100.0".
func parseQuantity(s string) (int64, error) {
	if q, err := strconv.ParseInt(s, 10, 64); err == nil {
		if q < 0 {
			return 0, ErrInvalidQuantity
		}
		return q, nil
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, err
	}
	if d.IsNegative() || !d.Equal(d.Truncate(0)) {
		return 0, ErrInvalidQuantity
	}
	return d.IntPart(), nil
}
