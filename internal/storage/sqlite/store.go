// Package sqlite persists decisions, learning contexts, preferences, and
// position snapshots in a single SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"trading-assistant/internal/interfaces"
	"trading-assistant/internal/types"
)

var _ interfaces.Store = (*Store)(nil)

// Store implements interfaces.Store on SQLite.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS decisions (
	id              TEXT PRIMARY KEY,
	symbol          TEXT NOT NULL,
	type            TEXT NOT NULL CHECK (type IN ('BUY','SELL','HOLD')),
	confidence      REAL NOT NULL,
	rationale       TEXT NOT NULL DEFAULT '',
	price_target    TEXT,
	auto_eligible   INTEGER NOT NULL DEFAULT 0,
	created_at      TEXT NOT NULL,
	executed_at     TEXT,
	order_id        TEXT NOT NULL DEFAULT '',
	order_status    TEXT NOT NULL DEFAULT '',
	estimated_cost  TEXT,
	outcome_value   TEXT,
	failure_reason  TEXT NOT NULL DEFAULT '',
	feedback        TEXT CHECK (feedback IN ('POSITIVE','NEGATIVE','NEUTRAL')),
	feedback_notes  TEXT NOT NULL DEFAULT '',
	feedback_at     TEXT
);
CREATE INDEX IF NOT EXISTS idx_decisions_feedback_at ON decisions(feedback_at);
CREATE INDEX IF NOT EXISTS idx_decisions_symbol ON decisions(symbol);

CREATE TABLE IF NOT EXISTS learning_contexts (
	id          TEXT PRIMARY KEY,
	version     INTEGER NOT NULL UNIQUE,
	parameters  TEXT NOT NULL,
	feedback    TEXT NOT NULL,
	metrics     TEXT NOT NULL,
	created_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS active_context (
	id          INTEGER PRIMARY KEY CHECK (id = 1),
	context_id  TEXT NOT NULL REFERENCES learning_contexts(id)
);

CREATE TABLE IF NOT EXISTS user_preferences (
	id                   INTEGER PRIMARY KEY CHECK (id = 1),
	risk_tolerance       TEXT NOT NULL,
	max_trade_amount     TEXT NOT NULL,
	auto_trading_enabled INTEGER NOT NULL,
	watchlist            TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS positions (
	symbol       TEXT PRIMARY KEY,
	quantity     INTEGER NOT NULL,
	cost_basis   TEXT NOT NULL,
	market_value TEXT NOT NULL,
	synced_at    TEXT NOT NULL
);
`

// Open opens (creating if needed) the database at path and applies the schema.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// go-sqlite3 allows one writer at a time; a single pooled connection keeps
	// concurrent writers queued instead of racing into SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Fixed-width fractional seconds keep lexicographic comparison in SQL
// consistent with time order; RFC3339Nano trims trailing zeros and does not.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func fmtTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(s string) (time.Time, error) { return time.Parse(timeLayout, s) }

func decStr(d *decimal.Decimal) any {
	if d == nil {
		return nil
	}
	return d.String()
}

func strDec(s sql.NullString) (*decimal.Decimal, error) {
	if !s.Valid {
		return nil, nil
	}
	d, err := decimal.NewFromString(s.String)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// SaveDecision inserts a new decision row.
func (s *Store) SaveDecision(ctx context.Context, d *types.Decision) error {
	var executedAt any
	if d.ExecutedAt != nil {
		executedAt = fmtTime(*d.ExecutedAt)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO decisions (id, symbol, type, confidence, rationale, price_target,
			auto_eligible, created_at, executed_at, order_id, order_status,
			estimated_cost, outcome_value, failure_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.Symbol, string(d.Type), d.Confidence, d.Rationale, decStr(d.PriceTarget),
		d.AutoEligible, fmtTime(d.CreatedAt), executedAt, d.OrderID, d.OrderStatus,
		decStr(d.EstimatedCost), decStr(d.OutcomeValue), d.FailureReason)
	if err != nil {
		return fmt.Errorf("save decision %s: %w", d.ID, err)
	}
	return nil
}

const decisionCols = `id, symbol, type, confidence, rationale, price_target,
	auto_eligible, created_at, executed_at, order_id, order_status,
	estimated_cost, outcome_value, failure_reason, feedback, feedback_notes, feedback_at`

func scanDecision(row interface{ Scan(...any) error }) (*types.Decision, error) {
	var d types.Decision
	var typ string
	var priceTarget, estCost, outcome sql.NullString
	var createdAt string
	var executedAt, feedback, feedbackAt sql.NullString
	err := row.Scan(&d.ID, &d.Symbol, &typ, &d.Confidence, &d.Rationale, &priceTarget,
		&d.AutoEligible, &createdAt, &executedAt, &d.OrderID, &d.OrderStatus,
		&estCost, &outcome, &d.FailureReason, &feedback, &d.FeedbackNotes, &feedbackAt)
	if err != nil {
		return nil, err
	}
	d.Type = types.DecisionType(typ)
	if d.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if executedAt.Valid {
		t, err := parseTime(executedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parse executed_at: %w", err)
		}
		d.ExecutedAt = &t
	}
	if d.PriceTarget, err = strDec(priceTarget); err != nil {
		return nil, err
	}
	if d.EstimatedCost, err = strDec(estCost); err != nil {
		return nil, err
	}
	if d.OutcomeValue, err = strDec(outcome); err != nil {
		return nil, err
	}
	if feedback.Valid {
		fb := types.Feedback(feedback.String)
		d.Feedback = &fb
	}
	if feedbackAt.Valid {
		t, err := parseTime(feedbackAt.String)
		if err != nil {
			return nil, fmt.Errorf("parse feedback_at: %w", err)
		}
		d.FeedbackAt = &t
	}
	return &d, nil
}

// GetDecision fetches a decision by id.
func (s *Store) GetDecision(ctx context.Context, id string) (*types.Decision, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+decisionCols+` FROM decisions WHERE id = ?`, id)
	d, err := scanDecision(row)
	if err == sql.ErrNoRows {
		return nil, types.ErrDecisionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get decision %s: %w", id, err)
	}
	return d, nil
}

// RecordOutcome marks the decision executed. The WHERE executed_at IS NULL
// clause is the atomic claim: exactly one concurrent caller updates the row,
// every other sees zero rows affected and gets ErrAlreadyExecuted.
func (s *Store) RecordOutcome(ctx context.Context, id string, outcome types.OrderOutcome, executedAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE decisions
		SET executed_at = ?, order_id = ?, order_status = ?, estimated_cost = ?, failure_reason = ''
		WHERE id = ? AND executed_at IS NULL`,
		fmtTime(executedAt), outcome.OrderID, outcome.Status, outcome.EstimatedCost.String(), id)
	if err != nil {
		return fmt.Errorf("record outcome %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("record outcome %s: %w", id, err)
	}
	if n == 0 {
		if _, gerr := s.GetDecision(ctx, id); gerr != nil {
			return gerr
		}
		return types.ErrAlreadyExecuted
	}
	return nil
}

// RecordExecutionFailure stores the failure reason without touching
// executed_at, so the decision stays non-terminal.
func (s *Store) RecordExecutionFailure(ctx context.Context, id string, reason string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE decisions SET failure_reason = ? WHERE id = ?`, reason, id)
	if err != nil {
		return fmt.Errorf("record failure %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return types.ErrDecisionNotFound
	}
	return nil
}

// SetFeedback records feedback once; a second attempt returns
// ErrFeedbackRecorded.
func (s *Store) SetFeedback(ctx context.Context, id string, fb types.Feedback, notes string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE decisions SET feedback = ?, feedback_notes = ?, feedback_at = ?
		WHERE id = ? AND feedback IS NULL`,
		string(fb), notes, fmtTime(at), id)
	if err != nil {
		return fmt.Errorf("set feedback %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set feedback %s: %w", id, err)
	}
	if n == 0 {
		if _, gerr := s.GetDecision(ctx, id); gerr != nil {
			return gerr
		}
		return types.ErrFeedbackRecorded
	}
	return nil
}

// DecisionsWithFeedbackSince returns decisions whose feedback landed at or
// after since, ordered by feedback time.
func (s *Store) DecisionsWithFeedbackSince(ctx context.Context, since time.Time) ([]types.Decision, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+decisionCols+` FROM decisions
		WHERE feedback_at IS NOT NULL AND feedback_at >= ?
		ORDER BY feedback_at`, fmtTime(since))
	if err != nil {
		return nil, fmt.Errorf("decisions with feedback: %w", err)
	}
	defer rows.Close()
	var out []types.Decision
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, fmt.Errorf("decisions with feedback: %w", err)
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

func scanContext(row interface{ Scan(...any) error }) (*types.LearningContext, error) {
	var lc types.LearningContext
	var params, feedback, metrics, createdAt string
	if err := row.Scan(&lc.ID, &lc.Version, &params, &feedback, &metrics, &createdAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(params), &lc.Parameters); err != nil {
		return nil, fmt.Errorf("parse parameters: %w", err)
	}
	if err := json.Unmarshal([]byte(feedback), &lc.Feedback); err != nil {
		return nil, fmt.Errorf("parse feedback summary: %w", err)
	}
	if err := json.Unmarshal([]byte(metrics), &lc.Metrics); err != nil {
		return nil, fmt.Errorf("parse metrics: %w", err)
	}
	var err error
	if lc.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	return &lc, nil
}

// ActiveContext returns the context the active pointer designates, or nil when
// no context has ever been published.
func (s *Store) ActiveContext(ctx context.Context) (*types.LearningContext, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT c.id, c.version, c.parameters, c.feedback, c.metrics, c.created_at
		FROM learning_contexts c
		JOIN active_context a ON a.context_id = c.id`)
	lc, err := scanContext(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("active context: %w", err)
	}
	lc.Active = true
	return lc, nil
}

// PublishContext inserts the new version and repoints the active pointer in
// one transaction, so readers never observe zero or two active contexts.
func (s *Store) PublishContext(ctx context.Context, lc *types.LearningContext) error {
	params, err := json.Marshal(lc.Parameters)
	if err != nil {
		return fmt.Errorf("marshal parameters: %w", err)
	}
	feedback, err := json.Marshal(lc.Feedback)
	if err != nil {
		return fmt.Errorf("marshal feedback summary: %w", err)
	}
	metrics, err := json.Marshal(lc.Metrics)
	if err != nil {
		return fmt.Errorf("marshal metrics: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("publish context: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO learning_contexts (id, version, parameters, feedback, metrics, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		lc.ID, lc.Version, string(params), string(feedback), string(metrics), fmtTime(lc.CreatedAt)); err != nil {
		return fmt.Errorf("insert context v%d: %w", lc.Version, err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO active_context (id, context_id) VALUES (1, ?)
		ON CONFLICT(id) DO UPDATE SET context_id = excluded.context_id`, lc.ID); err != nil {
		return fmt.Errorf("repoint active context: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("publish context: %w", err)
	}
	lc.Active = true
	return nil
}

// ListContexts returns every context version, newest first.
func (s *Store) ListContexts(ctx context.Context) ([]types.LearningContext, error) {
	var activeID sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT context_id FROM active_context WHERE id = 1`).Scan(&activeID)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("list contexts: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, version, parameters, feedback, metrics, created_at
		FROM learning_contexts ORDER BY version DESC`)
	if err != nil {
		return nil, fmt.Errorf("list contexts: %w", err)
	}
	defer rows.Close()
	var out []types.LearningContext
	for rows.Next() {
		lc, err := scanContext(rows)
		if err != nil {
			return nil, fmt.Errorf("list contexts: %w", err)
		}
		lc.Active = activeID.Valid && lc.ID == activeID.String
		out = append(out, *lc)
	}
	return out, rows.Err()
}

// Preferences returns the stored user preferences, or nil if never saved.
func (s *Store) Preferences(ctx context.Context) (*types.UserPreferences, error) {
	var p types.UserPreferences
	var risk, maxAmount, watchlist string
	err := s.db.QueryRowContext(ctx, `
		SELECT risk_tolerance, max_trade_amount, auto_trading_enabled, watchlist
		FROM user_preferences WHERE id = 1`).Scan(&risk, &maxAmount, &p.AutoTradingEnabled, &watchlist)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("preferences: %w", err)
	}
	p.RiskTolerance = types.RiskTolerance(risk)
	if p.MaxTradeAmount, err = decimal.NewFromString(maxAmount); err != nil {
		return nil, fmt.Errorf("preferences: %w", err)
	}
	if err := json.Unmarshal([]byte(watchlist), &p.Watchlist); err != nil {
		return nil, fmt.Errorf("preferences: %w", err)
	}
	return &p, nil
}

// SavePreferences upserts the singleton preferences row.
func (s *Store) SavePreferences(ctx context.Context, p *types.UserPreferences) error {
	watchlist, err := json.Marshal(p.Watchlist)
	if err != nil {
		return fmt.Errorf("save preferences: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO user_preferences (id, risk_tolerance, max_trade_amount, auto_trading_enabled, watchlist)
		VALUES (1, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			risk_tolerance = excluded.risk_tolerance,
			max_trade_amount = excluded.max_trade_amount,
			auto_trading_enabled = excluded.auto_trading_enabled,
			watchlist = excluded.watchlist`,
		string(p.RiskTolerance), p.MaxTradeAmount.String(), p.AutoTradingEnabled, string(watchlist))
	if err != nil {
		return fmt.Errorf("save preferences: %w", err)
	}
	return nil
}

// SavePositions replaces the stored portfolio snapshot.
func (s *Store) SavePositions(ctx context.Context, positions []types.Position) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save positions: %w", err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM positions`); err != nil {
		return fmt.Errorf("save positions: %w", err)
	}
	for _, pos := range positions {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO positions (symbol, quantity, cost_basis, market_value, synced_at)
			VALUES (?, ?, ?, ?, ?)`,
			pos.Symbol, pos.Quantity, pos.CostBasis.String(), pos.MarketValue.String(), fmtTime(pos.SyncedAt)); err != nil {
			return fmt.Errorf("save position %s: %w", pos.Symbol, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("save positions: %w", err)
	}
	return nil
}

// PositionFor returns the snapshot position for symbol, or nil if not held.
func (s *Store) PositionFor(ctx context.Context, symbol string) (*types.Position, error) {
	var p types.Position
	var costBasis, marketValue, syncedAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT symbol, quantity, cost_basis, market_value, synced_at
		FROM positions WHERE symbol = ?`, symbol).
		Scan(&p.Symbol, &p.Quantity, &costBasis, &marketValue, &syncedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("position %s: %w", symbol, err)
	}
	if p.CostBasis, err = decimal.NewFromString(costBasis); err != nil {
		return nil, fmt.Errorf("position %s: %w", symbol, err)
	}
	if p.MarketValue, err = decimal.NewFromString(marketValue); err != nil {
		return nil, fmt.Errorf("position %s: %w", symbol, err)
	}
	if p.SyncedAt, err = parseTime(syncedAt); err != nil {
		return nil, fmt.Errorf("position %s: %w", symbol, err)
	}
	return &p, nil
}
