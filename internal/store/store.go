// Package store persists replay runs in SQLite and queues their fills and
// summaries in an outbox for publication.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/ismaiel54/lob-replay-sim/internal/book"
	"github.com/ismaiel54/lob-replay-sim/internal/msg"
	"github.com/ismaiel54/lob-replay-sim/internal/replay"
	"github.com/ismaiel54/lob-replay-sim/internal/tape"
	_ "modernc.org/sqlite"
)

// ErrRunNotFound is returned when no run carries the requested id
var ErrRunNotFound = errors.New("run not found")

// Store provides run persistence and outbox functionality
type Store struct {
	db *sql.DB
}

// Run is everything a finished replay produced
type Run struct {
	ID         string
	Strategy   string
	TapePath   string
	PriceScale int64
	Sigma      float64
	Summary    replay.Summary
	QuoteLog   []replay.QuoteRow
	Midprices  []float64
	Fills      []replay.Fill
}

// NewRun captures the results of e under id
func NewRun(id, strategyName, tapePath string, priceScale int64, sigma float64, e *replay.Engine) Run {
	return Run{
		ID:         id,
		Strategy:   strategyName,
		TapePath:   tapePath,
		PriceScale: priceScale,
		Sigma:      sigma,
		Summary:    e.Summary(),
		QuoteLog:   e.QuoteLog(),
		Midprices:  e.Midprices(),
		Fills:      e.Fills(),
	}
}

// RunRecord is the stored header of a run
type RunRecord struct {
	ID                string
	Strategy          string
	TapePath          string
	PriceScale        int64
	Sigma             float64
	Summary           replay.Summary
	CreatedUnixMillis int64
}

// SaveResult reports what SaveRun did
type SaveResult struct {
	Duplicate bool
	Outbox    int
}

// OutboxEvent represents an event waiting to be published
type OutboxEvent struct {
	ID                  int64
	RunID               string
	EventID             string
	Topic               string
	Key                 string
	PayloadJSON         string
	CreatedUnixMillis   int64
	PublishedUnixMillis sql.NullInt64
}

// Open creates or opens the run store
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// one writer; sqlite serializes anyway
	db.SetMaxOpenConns(1)

	store := &Store{db: db}

	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, nil
}

// migrate creates the necessary tables
func (s *Store) migrate() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			strategy TEXT NOT NULL,
			tape_path TEXT NOT NULL,
			price_scale INTEGER NOT NULL,
			sigma REAL NOT NULL,
			summary_json TEXT NOT NULL,
			created_unix_millis INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS quote_log (
			run_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			ts INTEGER NOT NULL,
			bid INTEGER NOT NULL,
			ask INTEGER NOT NULL,
			mid REAL NULL,
			inventory INTEGER NOT NULL,
			PRIMARY KEY (run_id, seq)
		)`,
		`CREATE TABLE IF NOT EXISTS midprices (
			run_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			mid REAL NULL,
			PRIMARY KEY (run_id, seq)
		)`,
		`CREATE TABLE IF NOT EXISTS fills (
			run_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			ts INTEGER NOT NULL,
			order_seq INTEGER NOT NULL,
			side INTEGER NOT NULL,
			price INTEGER NOT NULL,
			qty INTEGER NOT NULL,
			cash_delta REAL NOT NULL,
			inventory INTEGER NOT NULL,
			cash REAL NOT NULL,
			PRIMARY KEY (run_id, seq)
		)`,
		`CREATE TABLE IF NOT EXISTS outbox_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			event_id TEXT NOT NULL UNIQUE,
			topic TEXT NOT NULL,
			key TEXT NOT NULL,
			payload_json TEXT NOT NULL,
			created_unix_millis INTEGER NOT NULL,
			published_unix_millis INTEGER NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_outbox_unpublished 
			ON outbox_events(published_unix_millis) 
			WHERE published_unix_millis IS NULL`,
	}

	for _, query := range queries {
		if _, err := s.db.Exec(query); err != nil {
			return fmt.Errorf("failed to execute migration: %w", err)
		}
	}

	return nil
}

// SaveRun stores a run and its outbox events atomically. Saving a run id
// that already exists is a no-op reported as a duplicate.
func (s *Store) SaveRun(ctx context.Context, run Run) (SaveResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return SaveResult{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var existing string
	err = tx.QueryRowContext(ctx, "SELECT run_id FROM runs WHERE run_id = ?", run.ID).Scan(&existing)
	if err == nil {
		return SaveResult{Duplicate: true}, nil
	} else if !errors.Is(err, sql.ErrNoRows) {
		return SaveResult{}, fmt.Errorf("failed to check existing run: %w", err)
	}

	now := time.Now().UnixMilli()
	stored := run.Summary
	stored.FinalMid = finite(stored.FinalMid)
	stored.MarkToMarket = finite(stored.MarkToMarket)
	summaryJSON, err := json.Marshal(stored)
	if err != nil {
		return SaveResult{}, fmt.Errorf("failed to marshal summary: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (run_id, strategy, tape_path, price_scale, sigma, summary_json, created_unix_millis)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Strategy, run.TapePath, run.PriceScale, run.Sigma, string(summaryJSON), now,
	)
	if err != nil {
		return SaveResult{}, fmt.Errorf("failed to insert run: %w", err)
	}

	if err := insertQuoteLog(ctx, tx, run); err != nil {
		return SaveResult{}, err
	}
	if err := insertMidprices(ctx, tx, run); err != nil {
		return SaveResult{}, err
	}
	if err := insertFills(ctx, tx, run); err != nil {
		return SaveResult{}, err
	}
	n, err := insertOutbox(ctx, tx, run, now)
	if err != nil {
		return SaveResult{}, err
	}

	if err := tx.Commit(); err != nil {
		return SaveResult{}, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return SaveResult{Outbox: n}, nil
}

func insertQuoteLog(ctx context.Context, tx *sql.Tx, run Run) error {
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO quote_log (run_id, seq, ts, bid, ask, mid, inventory) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare quote log insert: %w", err)
	}
	defer stmt.Close()

	for i, q := range run.QuoteLog {
		if _, err := stmt.ExecContext(ctx, run.ID, i, q.Timestamp, int64(q.Bid), int64(q.Ask), nullFloat(q.Mid), q.Inventory); err != nil {
			return fmt.Errorf("failed to insert quote row %d: %w", i, err)
		}
	}
	return nil
}

func insertMidprices(ctx context.Context, tx *sql.Tx, run Run) error {
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO midprices (run_id, seq, mid) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare midprice insert: %w", err)
	}
	defer stmt.Close()

	for i, m := range run.Midprices {
		if _, err := stmt.ExecContext(ctx, run.ID, i, nullFloat(m)); err != nil {
			return fmt.Errorf("failed to insert midprice %d: %w", i, err)
		}
	}
	return nil
}

func insertFills(ctx context.Context, tx *sql.Tx, run Run) error {
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO fills (run_id, seq, ts, order_seq, side, price, qty, cash_delta, inventory, cash)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare fill insert: %w", err)
	}
	defer stmt.Close()

	for i, f := range run.Fills {
		_, err := stmt.ExecContext(ctx, run.ID, i, f.Timestamp, f.OrderID.Seq, int(f.Side),
			int64(f.Price), int64(f.Qty), f.CashDelta, f.Inventory, f.Cash)
		if err != nil {
			return fmt.Errorf("failed to insert fill %d: %w", i, err)
		}
	}
	return nil
}

func insertOutbox(ctx context.Context, tx *sql.Tx, run Run, now int64) (int, error) {
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO outbox_events (run_id, event_id, topic, key, payload_json, created_unix_millis, published_unix_millis)
		 VALUES (?, ?, ?, ?, ?, ?, NULL)`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare outbox insert: %w", err)
	}
	defer stmt.Close()

	scale := run.PriceScale
	if scale <= 0 {
		scale = tape.DefaultPriceScale
	}

	n := 0
	for i, f := range run.Fills {
		m := msg.FillMsg{
			EventID:    fmt.Sprintf("%s-fill-%d", run.ID, i),
			RunID:      run.ID,
			Seq:        i,
			TsNanos:    f.Timestamp,
			Side:       f.Side.String(),
			PriceTicks: int64(f.Price),
			Price:      tape.ToDollars(f.Price, scale).String(),
			Qty:        int64(f.Qty),
			CashDelta:  f.CashDelta,
			Inventory:  f.Inventory,
			Cash:       f.Cash,
		}
		encoded, err := msg.EncodeFill(m)
		if err != nil {
			return 0, err
		}
		if err := insertMessage(ctx, stmt, run.ID, encoded, now); err != nil {
			return 0, err
		}
		n++
	}

	sum := run.Summary
	summary := msg.RunSummaryMsg{
		EventID:       run.ID + "-summary",
		RunID:         run.ID,
		Strategy:      run.Strategy,
		TapePath:      run.TapePath,
		Events:        sum.Events,
		EventsApplied: sum.EventsApplied,
		Quotes:        sum.Quotes,
		Fills:         sum.Fills,
		Inventory:     sum.Inventory,
		Cash:          sum.Cash,
		FilledBuy:     sum.FilledBuy,
		FilledSell:    sum.FilledSell,
		FinalMid:      finite(sum.FinalMid),
		MarkToMarket:  finite(sum.MarkToMarket),
		Sigma:         run.Sigma,
		TsUnixMillis:  now,
	}
	encoded, err := msg.EncodeSummary(summary)
	if err != nil {
		return 0, err
	}
	if err := insertMessage(ctx, stmt, run.ID, encoded, now); err != nil {
		return 0, err
	}
	return n + 1, nil
}

func insertMessage(ctx context.Context, stmt *sql.Stmt, runID string, m msg.Message, now int64) error {
	if _, err := stmt.ExecContext(ctx, runID, m.EventID, m.Topic, m.Key, string(m.Value), now); err != nil {
		return fmt.Errorf("failed to insert outbox event %s: %w", m.EventID, err)
	}
	return nil
}

// Run loads the header of a stored run
func (s *Store) Run(ctx context.Context, id string) (RunRecord, error) {
	var rec RunRecord
	var summaryJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT run_id, strategy, tape_path, price_scale, sigma, summary_json, created_unix_millis
		 FROM runs WHERE run_id = ?`, id,
	).Scan(&rec.ID, &rec.Strategy, &rec.TapePath, &rec.PriceScale, &rec.Sigma, &summaryJSON, &rec.CreatedUnixMillis)
	if errors.Is(err, sql.ErrNoRows) {
		return RunRecord{}, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return RunRecord{}, fmt.Errorf("failed to query run: %w", err)
	}
	if err := json.Unmarshal([]byte(summaryJSON), &rec.Summary); err != nil {
		return RunRecord{}, fmt.Errorf("failed to unmarshal summary: %w", err)
	}
	return rec, nil
}

// QuoteLog loads a run's quote log in order
func (s *Store) QuoteLog(ctx context.Context, id string) ([]replay.QuoteRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT ts, bid, ask, mid, inventory FROM quote_log WHERE run_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query quote log: %w", err)
	}
	defer rows.Close()

	var out []replay.QuoteRow
	for rows.Next() {
		var q replay.QuoteRow
		var bid, ask int64
		var mid sql.NullFloat64
		if err := rows.Scan(&q.Timestamp, &bid, &ask, &mid, &q.Inventory); err != nil {
			return nil, fmt.Errorf("failed to scan quote row: %w", err)
		}
		q.Bid, q.Ask, q.Mid = book.Price(bid), book.Price(ask), fromNull(mid)
		out = append(out, q)
	}
	return out, rows.Err()
}

// Midprices loads a run's midprice series in order
func (s *Store) Midprices(ctx context.Context, id string) ([]float64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT mid FROM midprices WHERE run_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query midprices: %w", err)
	}
	defer rows.Close()

	var out []float64
	for rows.Next() {
		var mid sql.NullFloat64
		if err := rows.Scan(&mid); err != nil {
			return nil, fmt.Errorf("failed to scan midprice: %w", err)
		}
		out = append(out, fromNull(mid))
	}
	return out, rows.Err()
}

// Fills loads a run's fills in order
func (s *Store) Fills(ctx context.Context, id string) ([]replay.Fill, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT ts, order_seq, side, price, qty, cash_delta, inventory, cash
		 FROM fills WHERE run_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query fills: %w", err)
	}
	defer rows.Close()

	var out []replay.Fill
	for rows.Next() {
		var f replay.Fill
		var side int
		var price, qty int64
		if err := rows.Scan(&f.Timestamp, &f.OrderID.Seq, &side, &price, &qty, &f.CashDelta, &f.Inventory, &f.Cash); err != nil {
			return nil, fmt.Errorf("failed to scan fill: %w", err)
		}
		f.OrderID.Origin = book.Agent
		f.Side, f.Price, f.Qty = book.Side(side), book.Price(price), book.Qty(qty)
		out = append(out, f)
	}
	return out, rows.Err()
}

// ListUnpublished returns unpublished outbox events
func (s *Store) ListUnpublished(ctx context.Context, limit int) ([]OutboxEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, event_id, topic, key, payload_json, created_unix_millis, published_unix_millis
		 FROM outbox_events
		 WHERE published_unix_millis IS NULL
		 ORDER BY id ASC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query unpublished events: %w", err)
	}
	defer rows.Close()

	var events []OutboxEvent
	for rows.Next() {
		var e OutboxEvent
		err := rows.Scan(
			&e.ID, &e.RunID, &e.EventID, &e.Topic, &e.Key,
			&e.PayloadJSON, &e.CreatedUnixMillis, &e.PublishedUnixMillis,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, e)
	}

	return events, rows.Err()
}

// MarkPublished marks an event as published
func (s *Store) MarkPublished(ctx context.Context, eventID string, nowMillis int64) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE outbox_events SET published_unix_millis = ? WHERE event_id = ?",
		nowMillis, eventID,
	)
	if err != nil {
		return fmt.Errorf("failed to mark event as published: %w", err)
	}
	return nil
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// sqlite has no NaN; an undefined midprice is stored as NULL
func nullFloat(f float64) sql.NullFloat64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: f, Valid: true}
}

func fromNull(f sql.NullFloat64) float64 {
	if !f.Valid {
		return math.NaN()
	}
	return f.Float64
}

// encoding/json rejects NaN
func finite(f float64) float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}
