package risk

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"algo-engine/internal/store"
)

var journalSchema = []string{
	`CREATE TABLE IF NOT EXISTS risk_daily_metrics (
		trading_date TEXT PRIMARY KEY,
		trades INTEGER NOT NULL DEFAULT 0,
		pnl REAL NOT NULL DEFAULT 0,
		portfolio_value REAL NOT NULL DEFAULT 0,
		risk_percent REAL NOT NULL DEFAULT 0,
		risk_level TEXT NOT NULL,
		halted INTEGER NOT NULL DEFAULT 0,
		updated_at TEXT NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS risk_activity_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		occurred_at TEXT NOT NULL,
		event_type TEXT NOT NULL,
		message TEXT NOT NULL,
		details TEXT,
		trading_date TEXT
	);`,
	`CREATE INDEX IF NOT EXISTS idx_risk_activity_date ON risk_activity_log(trading_date);`,
}

// JournalDay 为持久化的日度风控快照。
type JournalDay struct {
	TradingDate    string
	Trades         int
	PnL            float64
	PortfolioValue float64
	RiskPercent    float64
	Level          Level
	Halted         bool
	UpdatedAt      time.Time
}

// JournalEvent 为风控事件记录。
type JournalEvent struct {
	ID          int64
	OccurredAt  time.Time
	Type        string
	Message     string
	Details     string
	TradingDate string
}

// Journal 将风控报告落库，同一交易日内的同一超限项只记录一次。
type Journal struct {
	db     *sql.DB
	logger *zap.Logger

	mu       sync.Mutex
	recorded map[string]struct{}
}

// NewJournal 创建风控日志并初始化表结构。
func NewJournal(ctx context.Context, st *store.Store, logger *zap.Logger) (*Journal, error) {
	if st == nil {
		return nil, errors.New("risk: store 不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := st.Migrate(ctx, journalSchema...); err != nil {
		return nil, fmt.Errorf("risk: %w", err)
	}
	return &Journal{
		db:       st.DB(),
		logger:   logger,
		recorded: make(map[string]struct{}),
	}, nil
}

// Record 写入当日快照，并为新出现的超限项追加事件。
func (j *Journal) Record(ctx context.Context, report Report) (err error) {
	date := report.Daily.Date
	if date == "" {
		date = report.Timestamp.UTC().Format(time.DateOnly)
	}
	now := report.Timestamp.UTC().Format(time.RFC3339)
	halted := 0
	if len(report.Violations) > 0 {
		halted = 1
	}

	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("risk: 开启事务失败: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx,
		`INSERT INTO risk_daily_metrics (trading_date, trades, pnl, portfolio_value, risk_percent, risk_level, halted, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(trading_date) DO UPDATE SET
			trades = excluded.trades,
			pnl = excluded.pnl,
			portfolio_value = excluded.portfolio_value,
			risk_percent = excluded.risk_percent,
			risk_level = excluded.risk_level,
			halted = MAX(risk_daily_metrics.halted, excluded.halted),
			updated_at = excluded.updated_at`,
		date, report.Daily.Trades, report.Daily.PnL, report.Portfolio.PortfolioValue,
		report.Portfolio.RiskPercent, string(report.Portfolio.Level), halted, now,
	); err != nil {
		return fmt.Errorf("risk: 写入日度风控快照失败: %w", err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	fresh := make([]string, 0, len(report.Violations))
	for _, v := range report.Violations {
		key := date + "|" + violationKey(v)
		if _, seen := j.recorded[key]; seen {
			continue
		}
		if err = logEventTx(ctx, tx, now, date, "limit_breach", v, ""); err != nil {
			return err
		}
		fresh = append(fresh, key)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("risk: 提交事务失败: %w", err)
	}
	for _, key := range fresh {
		j.recorded[key] = struct{}{}
	}
	if len(fresh) > 0 {
		j.logger.Warn("风控限额被突破", zap.String("trading_date", date), zap.Strings("violations", report.Violations))
	}
	return nil
}

// violationKey 去掉数值部分，使同类超限项只记录一次。
func violationKey(v string) string {
	if i := strings.Index(v, ":"); i > 0 {
		return v[:i]
	}
	return v
}

// LogEvent 记录风控事件。
func (j *Journal) LogEvent(ctx context.Context, eventType, message, details, tradingDate string) error {
	if eventType == "" {
		return errors.New("risk: eventType 不能为空")
	}
	now := time.Now().UTC()
	if tradingDate == "" {
		tradingDate = now.Format(time.DateOnly)
	}

	_, err := j.db.ExecContext(ctx,
		`INSERT INTO risk_activity_log (occurred_at, event_type, message, details, trading_date)
		 VALUES (?, ?, ?, ?, ?)`,
		now.Format(time.RFC3339), eventType, message, details, tradingDate,
	)
	if err != nil {
		return fmt.Errorf("risk: 写入风险事件日志失败: %w", err)
	}
	return nil
}

func logEventTx(ctx context.Context, tx *sql.Tx, occurredAt, tradingDate, eventType, message, details string) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO risk_activity_log (occurred_at, event_type, message, details, trading_date)
		 VALUES (?, ?, ?, ?, ?)`,
		occurredAt, eventType, message, details, tradingDate,
	)
	if err != nil {
		return fmt.Errorf("risk: 记录风险事件失败: %w", err)
	}
	return nil
}

// Day 读取指定交易日的快照。
func (j *Journal) Day(ctx context.Context, tradingDate string) (JournalDay, bool, error) {
	var (
		day       JournalDay
		level     string
		haltedInt int
		updatedAt string
	)
	row := j.db.QueryRowContext(ctx,
		`SELECT trading_date, trades, pnl, portfolio_value, risk_percent, risk_level, halted, updated_at
		 FROM risk_daily_metrics WHERE trading_date = ?`, tradingDate)
	switch err := row.Scan(&day.TradingDate, &day.Trades, &day.PnL, &day.PortfolioValue, &day.RiskPercent, &level, &haltedInt, &updatedAt); {
	case errors.Is(err, sql.ErrNoRows):
		return JournalDay{}, false, nil
	case err != nil:
		return JournalDay{}, false, fmt.Errorf("risk: 查询日度风控快照失败: %w", err)
	}

	day.Level = Level(level)
	day.Halted = haltedInt == 1
	day.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return day, true, nil
}

// Events 返回指定交易日的事件，按时间先后排列。
func (j *Journal) Events(ctx context.Context, tradingDate string) ([]JournalEvent, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, occurred_at, event_type, message, COALESCE(details, ''), COALESCE(trading_date, '')
		 FROM risk_activity_log WHERE trading_date = ? ORDER BY id ASC`, tradingDate)
	if err != nil {
		return nil, fmt.Errorf("risk: 查询风险事件失败: %w", err)
	}
	defer rows.Close()

	var out []JournalEvent
	for rows.Next() {
		var (
			ev JournalEvent
			ts string
		)
		if err := rows.Scan(&ev.ID, &ts, &ev.Type, &ev.Message, &ev.Details, &ev.TradingDate); err != nil {
			return nil, fmt.Errorf("risk: 读取风险事件失败: %w", err)
		}
		ev.OccurredAt, _ = time.Parse(time.RFC3339, ts)
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("risk: 遍历风险事件失败: %w", err)
	}
	return out, nil
}
