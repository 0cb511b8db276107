// Package tape reads and writes order-event tapes in the LOBSTER message
// layout: time (seconds after midnight), event type 1-7, order id, size,
// price in ticks, direction (1 buy, -1 sell).
package tape

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/ismaiel54/lob-replay-sim/internal/book"
	"github.com/shopspring/decimal"
)

const columns = 6

var (
	ErrMalformedRow = errors.New("malformed tape row")
	ErrOutOfOrder   = errors.New("tape timestamps go backwards")
)

var nanosPerSecond = decimal.NewFromInt(1_000_000_000)

// Reader decodes one event per CSV row
type Reader struct {
	csv  *csv.Reader
	line int
}

// NewReader wraps r
func NewReader(r io.Reader) *Reader {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = columns
	cr.TrimLeadingSpace = true
	cr.ReuseRecord = true
	return &Reader{csv: cr}
}

// Read returns the next event, or io.EOF after the last row
func (r *Reader) Read() (book.Event, error) {
	fields, err := r.csv.Read()
	if err == io.EOF {
		return book.Event{}, io.EOF
	}
	r.line++
	if err != nil {
		return book.Event{}, fmt.Errorf("%w: line %d: %v", ErrMalformedRow, r.line, err)
	}
	ev, err := ParseRow(fields)
	if err != nil {
		return book.Event{}, fmt.Errorf("line %d: %w", r.line, err)
	}
	return ev, nil
}

// ReadAll decodes a whole tape and checks that timestamps never decrease
func ReadAll(r io.Reader) ([]book.Event, error) {
	tr := NewReader(r)
	var events []book.Event
	for {
		ev, err := tr.Read()
		if err == io.EOF {
			return events, nil
		}
		if err != nil {
			return nil, err
		}
		if n := len(events); n > 0 && ev.Timestamp < events[n-1].Timestamp {
			return nil, fmt.Errorf("%w: line %d", ErrOutOfOrder, tr.line)
		}
		events = append(events, ev)
	}
}

// Load reads a tape file
func Load(path string) ([]book.Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open tape: %w", err)
	}
	defer f.Close()

	events, err := ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read tape %s: %w", path, err)
	}
	return events, nil
}

// ParseRow converts the six LOBSTER columns into an event
func ParseRow(fields []string) (book.Event, error) {
	if len(fields) != columns {
		return book.Event{}, fmt.Errorf("%w: want %d columns, got %d", ErrMalformedRow, columns, len(fields))
	}
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}

	ts, err := SecondsToNanos(fields[0])
	if err != nil {
		return book.Event{}, err
	}
	kind, err := strconv.ParseInt(fields[1], 10, 8)
	if err != nil || !book.Kind(kind).Valid() {
		return book.Event{}, fmt.Errorf("%w: event type %q", ErrMalformedRow, fields[1])
	}
	oid, err := strconv.ParseInt(fields[2], 10, 64)
	if err != nil {
		return book.Event{}, fmt.Errorf("%w: order id %q", ErrMalformedRow, fields[2])
	}
	size, err := strconv.ParseInt(fields[3], 10, 64)
	if err != nil {
		return book.Event{}, fmt.Errorf("%w: size %q", ErrMalformedRow, fields[3])
	}
	price, err := strconv.ParseInt(fields[4], 10, 64)
	if err != nil {
		return book.Event{}, fmt.Errorf("%w: price %q", ErrMalformedRow, fields[4])
	}

	var side book.Side
	switch fields[5] {
	case "1":
		side = book.Buy
	case "-1":
		side = book.Sell
	default:
		return book.Event{}, fmt.Errorf("%w: direction %q", ErrMalformedRow, fields[5])
	}

	return book.Event{
		Timestamp: ts,
		Kind:      book.Kind(kind),
		ID:        book.MarketID(oid),
		Side:      side,
		Price:     book.Price(price),
		Size:      book.Qty(size),
	}, nil
}

// SecondsToNanos parses a decimal seconds value exactly
func SecondsToNanos(s string) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("%w: time %q", ErrMalformedRow, s)
	}
	if d.IsNegative() {
		return 0, fmt.Errorf("%w: negative time %q", ErrMalformedRow, s)
	}
	return d.Mul(nanosPerSecond).Truncate(0).IntPart(), nil
}

// FormatSeconds renders nanoseconds as decimal seconds with nine places
func FormatSeconds(ns int64) string {
	return decimal.New(ns, -9).StringFixed(9)
}

// Writer encodes events as LOBSTER rows
type Writer struct {
	csv *csv.Writer
}

// NewWriter wraps w
func NewWriter(w io.Writer) *Writer {
	return &Writer{csv: csv.NewWriter(w)}
}

// Write encodes one event. Agent orders never appear on a tape.
func (w *Writer) Write(ev book.Event) error {
	if ev.ID.IsAgent() {
		return fmt.Errorf("cannot write agent order %s to a tape", ev.ID)
	}
	return w.csv.Write([]string{
		FormatSeconds(ev.Timestamp),
		strconv.Itoa(int(ev.Kind)),
		strconv.FormatInt(ev.ID.Seq, 10),
		strconv.FormatInt(int64(ev.Size), 10),
		strconv.FormatInt(int64(ev.Price), 10),
		strconv.Itoa(int(ev.Side)),
	})
}

// Flush writes buffered rows and reports any write error
func (w *Writer) Flush() error {
	w.csv.Flush()
	return w.csv.Error()
}
