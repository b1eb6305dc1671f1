// Package durablestore is the SQLite-backed persistence layer: three
// tables (orders, signals, daily_stats) with indices on status and
// strategy name. Datetime columns accept and round-trip a union of
// representations (ISO-8601 strings, Unix epoch seconds, native SQLite
// timestamps) at read time; writes always emit ISO-8601, matching the
// source database's tolerant read path.
package durablestore

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/relvacode/iso8601"

	"bybit-signal-engine/pkg/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS orders (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	strategy_name TEXT NOT NULL,
	symbol TEXT NOT NULL,
	order_id TEXT NOT NULL,
	side TEXT NOT NULL,
	quantity REAL NOT NULL,
	entry_price REAL NOT NULL,
	take_profit REAL,
	stop_loss REAL,
	status TEXT NOT NULL,
	opened_at TIMESTAMP,
	closed_at TIMESTAMP,
	close_price REAL,
	pnl REAL,
	pnl_percent REAL,
	close_reason TEXT,
	created_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS signals (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	strategy_name TEXT NOT NULL,
	action TEXT NOT NULL,
	index_change REAL NOT NULL,
	target_change REAL NOT NULL,
	target_price REAL NOT NULL,
	executed BOOLEAN NOT NULL,
	created_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS daily_stats (
	date TEXT PRIMARY KEY,
	total_trades INTEGER NOT NULL,
	profitable_trades INTEGER NOT NULL,
	total_pnl REAL NOT NULL,
	win_rate REAL NOT NULL,
	best_trade REAL NOT NULL,
	worst_trade REAL NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status);
CREATE INDEX IF NOT EXISTS idx_orders_strategy ON orders(strategy_name);
CREATE INDEX IF NOT EXISTS idx_signals_strategy ON signals(strategy_name);
`

// Store wraps the sqlite3 connection. Every write goes through the
// driver's own locking; callers don't need an external mutex.
type Store struct {
	db *sql.DB
}

// Open creates (if needed) and opens the SQLite file at path in WAL mode.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// SaveOrder inserts a new OrderRecord and returns its assigned id.
func (s *Store) SaveOrder(o types.OrderRecord) (int64, error) {
	now := time.Now()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}
	res, err := s.db.Exec(
		`INSERT INTO orders (strategy_name, symbol, order_id, side, quantity, entry_price,
			take_profit, stop_loss, status, opened_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.StrategyName, o.Symbol, o.OrderID, string(o.Side), o.Quantity, o.EntryPrice,
		o.TakeProfit, o.StopLoss, string(o.Status), formatTime(o.OpenedAt), formatTime(o.CreatedAt),
	)
	if err != nil {
		return 0, fmt.Errorf("save order: %w", err)
	}
	return res.LastInsertId()
}

// OrderUpdate carries the subset of OrderRecord fields updateOrder may change.
type OrderUpdate struct {
	Status      types.OrderStatus
	ClosedAt    *time.Time
	ClosePrice  *float64
	PnL         *float64
	PnLPercent  *float64
	CloseReason *types.CloseReason
}

// UpdateOrder applies a close-flow (or cancellation) update to an existing order row.
func (s *Store) UpdateOrder(id int64, u OrderUpdate) error {
	var closedAt any
	if u.ClosedAt != nil {
		closedAt = formatTime(*u.ClosedAt)
	}
	var closeReason any
	if u.CloseReason != nil {
		closeReason = string(*u.CloseReason)
	}
	_, err := s.db.Exec(
		`UPDATE orders SET status=?, closed_at=?, close_price=?, pnl=?, pnl_percent=?, close_reason=? WHERE id=?`,
		string(u.Status), closedAt, u.ClosePrice, u.PnL, u.PnLPercent, closeReason, id,
	)
	if err != nil {
		return fmt.Errorf("update order %d: %w", id, err)
	}
	return nil
}

// GetOpenOrders returns every order with status OPEN, optionally
// filtered to one strategy name (pass "" for all).
func (s *Store) GetOpenOrders(strategyName string) ([]types.OrderRecord, error) {
	query := `SELECT id, strategy_name, symbol, order_id, side, quantity, entry_price, take_profit,
		stop_loss, status, opened_at, closed_at, close_price, pnl, pnl_percent, close_reason, created_at
		FROM orders WHERE status = 'OPEN'`
	args := []any{}
	if strategyName != "" {
		query += ` AND strategy_name = ?`
		args = append(args, strategyName)
	}
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("get open orders: %w", err)
	}
	defer rows.Close()
	return scanOrders(rows)
}

func scanOrders(rows *sql.Rows) ([]types.OrderRecord, error) {
	var out []types.OrderRecord
	for rows.Next() {
		var o types.OrderRecord
		var side, status string
		var openedAt, closedAt, createdAt any
		var closeReason sql.NullString
		if err := rows.Scan(&o.ID, &o.StrategyName, &o.Symbol, &o.OrderID, &side, &o.Quantity,
			&o.EntryPrice, &o.TakeProfit, &o.StopLoss, &status, &openedAt, &closedAt,
			&o.ClosePrice, &o.PnL, &o.PnLPercent, &closeReason, &createdAt); err != nil {
			return nil, fmt.Errorf("scan order row: %w", err)
		}
		o.Side = types.Side(side)
		o.Status = types.OrderStatus(status)
		if t, ok := parseDatetime(openedAt); ok {
			o.OpenedAt = t
		}
		if t, ok := parseDatetime(createdAt); ok {
			o.CreatedAt = t
		}
		if t, ok := parseDatetime(closedAt); ok {
			o.ClosedAt = &t
		}
		if closeReason.Valid {
			r := types.CloseReason(closeReason.String)
			o.CloseReason = &r
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// SaveSignal inserts a new SignalRecord and returns its assigned id.
func (s *Store) SaveSignal(sr types.SignalRecord) (int64, error) {
	now := time.Now()
	if sr.CreatedAt.IsZero() {
		sr.CreatedAt = now
	}
	res, err := s.db.Exec(
		`INSERT INTO signals (strategy_name, action, index_change, target_change, target_price, executed, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sr.StrategyName, string(sr.Action), sr.IndexChange, sr.TargetChange, sr.TargetPrice, sr.Executed, formatTime(sr.CreatedAt),
	)
	if err != nil {
		return 0, fmt.Errorf("save signal: %w", err)
	}
	return res.LastInsertId()
}

// MarkSignalExecuted flips a previously-saved signal's executed flag.
func (s *Store) MarkSignalExecuted(id int64) error {
	_, err := s.db.Exec(`UPDATE signals SET executed = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("mark signal %d executed: %w", id, err)
	}
	return nil
}

// GetStatisticsSummary aggregates closed-order performance over the
// trailing `days` days.
type StatisticsSummary struct {
	TotalTrades      int
	ProfitableTrades int
	TotalPnL         float64
	WinRate          float64
	BestTrade        float64
	WorstTrade       float64
}

func (s *Store) GetStatisticsSummary(days int) (StatisticsSummary, error) {
	cutoff := time.Now().AddDate(0, 0, -days)
	row := s.db.QueryRow(
		`SELECT COUNT(*), COALESCE(SUM(CASE WHEN pnl > 0 THEN 1 ELSE 0 END), 0), COALESCE(SUM(pnl), 0),
			COALESCE(MAX(pnl), 0), COALESCE(MIN(pnl), 0)
		FROM orders WHERE status = 'CLOSED' AND closed_at >= ?`,
		formatTime(cutoff),
	)
	var summary StatisticsSummary
	var best, worst sql.NullFloat64
	if err := row.Scan(&summary.TotalTrades, &summary.ProfitableTrades, &summary.TotalPnL, &best, &worst); err != nil {
		return StatisticsSummary{}, fmt.Errorf("get statistics summary: %w", err)
	}
	summary.BestTrade = best.Float64
	summary.WorstTrade = worst.Float64
	if summary.TotalTrades > 0 {
		summary.WinRate = float64(summary.ProfitableTrades) / float64(summary.TotalTrades) * 100
	}
	return summary, nil
}

// CalculateAndSaveDailyStats computes DailyStats for date (defaulting to
// today in local time; the day's bounds are midnight to midnight in
// date's location) from closed orders and upserts the daily_stats row.
func (s *Store) CalculateAndSaveDailyStats(date time.Time) (types.DailyStats, error) {
	if date.IsZero() {
		date = time.Now()
	}
	dayStart := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, date.Location())
	dayEnd := dayStart.Add(24 * time.Hour)

	row := s.db.QueryRow(
		`SELECT COUNT(*), COALESCE(SUM(CASE WHEN pnl > 0 THEN 1 ELSE 0 END), 0), COALESCE(SUM(pnl), 0),
			COALESCE(MAX(pnl), 0), COALESCE(MIN(pnl), 0)
		FROM orders WHERE status = 'CLOSED' AND closed_at >= ? AND closed_at < ?`,
		formatTime(dayStart), formatTime(dayEnd),
	)
	var total, profitable int
	var totalPnL float64
	var best, worst sql.NullFloat64
	if err := row.Scan(&total, &profitable, &totalPnL, &best, &worst); err != nil {
		return types.DailyStats{}, fmt.Errorf("calculate daily stats: %w", err)
	}

	stats := types.DailyStats{
		Date:             dayStart.Format("2006-01-02"),
		TotalTrades:      total,
		ProfitableTrades: profitable,
		TotalPnL:         totalPnL,
		BestTrade:        best.Float64,
		WorstTrade:       worst.Float64,
	}
	if total > 0 {
		stats.WinRate = float64(profitable) / float64(total) * 100
	}

	_, err := s.db.Exec(
		`INSERT INTO daily_stats (date, total_trades, profitable_trades, total_pnl, win_rate, best_trade, worst_trade)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(date) DO UPDATE SET total_trades=excluded.total_trades, profitable_trades=excluded.profitable_trades,
			total_pnl=excluded.total_pnl, win_rate=excluded.win_rate, best_trade=excluded.best_trade, worst_trade=excluded.worst_trade`,
		stats.Date, stats.TotalTrades, stats.ProfitableTrades, stats.TotalPnL, stats.WinRate, stats.BestTrade, stats.WorstTrade,
	)
	if err != nil {
		return types.DailyStats{}, fmt.Errorf("save daily stats: %w", err)
	}
	return stats, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// parseDatetime accepts the union of representations a column may hold:
// nil, an ISO-8601 string, a Unix-epoch number, or a driver-native
// time.Time (mattn/go-sqlite3 already parses TIMESTAMP columns itself).
func parseDatetime(v any) (time.Time, bool) {
	switch val := v.(type) {
	case nil:
		return time.Time{}, false
	case time.Time:
		return val, true
	case string:
		if val == "" {
			return time.Time{}, false
		}
		if t, err := iso8601.ParseString(val); err == nil {
			return t, true
		}
		if t, err := time.Parse("2006-01-02", val); err == nil {
			return t, true
		}
		return time.Time{}, false
	case int64:
		return time.Unix(val, 0), true
	case float64:
		return time.Unix(int64(val), 0), true
	default:
		return time.Time{}, false
	}
}
