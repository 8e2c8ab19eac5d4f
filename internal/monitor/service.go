package monitor

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"algo-engine/internal/risk"
	"algo-engine/internal/store"
	"algo-engine/internal/trade"
)

const defaultListLimit = 100

var schema = []string{
	`CREATE TABLE IF NOT EXISTS monitor_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		event_type TEXT NOT NULL,
		payload TEXT NOT NULL,
		created_at TEXT NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_monitor_events_type ON monitor_events(event_type);`,
}

// Service 负责持久化监控事件。写入失败只记日志，不影响交易主流程。
type Service struct {
	db     *sql.DB
	logger *zap.Logger
	now    func() time.Time
}

// NewService 初始化监控服务，创建所需表结构。
func NewService(ctx context.Context, st *store.Store, logger *zap.Logger) (*Service, error) {
	if st == nil {
		return nil, fmt.Errorf("monitor: store 不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := st.Migrate(ctx, schema...); err != nil {
		return nil, fmt.Errorf("monitor: %w", err)
	}

	return &Service{
		db:     st.DB(),
		logger: logger,
		now:    time.Now,
	}, nil
}

// Record 写入单个事件。
func (s *Service) Record(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("monitor: 序列化事件失败: %w", err)
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = s.now()
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO monitor_events (event_type, payload, created_at) VALUES (?, ?, ?)`,
		string(event.Type), string(payload), event.Timestamp.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("monitor: 写入事件失败: %w", err)
	}

	return nil
}

func (s *Service) recordQuietly(ctx context.Context, typ EventType, payload interface{}, msg string) {
	if err := s.Record(ctx, Event{Type: typ, Timestamp: s.now(), Payload: payload}); err != nil {
		s.logger.Warn(msg, zap.Error(err))
	}
}

// RecordSignal 记录候选信号。
func (s *Service) RecordSignal(ctx context.Context, sig trade.Signal, dropped bool) {
	s.recordQuietly(ctx, EventSignal, SignalPayload{Signal: sig, Dropped: dropped}, "记录信号事件失败")
}

// RecordValidation 记录风控校验。
func (s *Service) RecordValidation(ctx context.Context, sig trade.Signal, result risk.PositionRisk) {
	s.recordQuietly(ctx, EventRiskValidation, RiskValidationPayload{
		SignalID: sig.ID,
		Strategy: sig.Strategy,
		Result:   result,
	}, "记录风控事件失败")
}

// RecordExecution 记录订单成交。
func (s *Service) RecordExecution(ctx context.Context, sig trade.Signal, fill trade.Fill) {
	s.recordQuietly(ctx, EventExecution, ExecutionPayload{
		SignalID: sig.ID,
		Strategy: sig.Strategy,
		Fill:     fill,
	}, "记录执行事件失败")
}

// RecordExit 记录平仓。
func (s *Service) RecordExit(ctx context.Context, strategy, reason string, fill trade.Fill, pnl float64) {
	s.recordQuietly(ctx, EventExit, ExitPayload{
		Strategy: strategy,
		Reason:   reason,
		Fill:     fill,
		PnL:      pnl,
	}, "记录平仓事件失败")
}

// RecordRiskLimits 记录限额突破。
func (s *Service) RecordRiskLimits(ctx context.Context, violations []string, metrics risk.Metrics) {
	s.recordQuietly(ctx, EventRiskLimits, RiskLimitsPayload{Violations: violations, Metrics: metrics}, "记录限额事件失败")
}

// RecordError 记录异常。
func (s *Service) RecordError(ctx context.Context, msg string, err error, ctxMap map[string]interface{}) {
	payload := ErrorPayload{
		Message: msg,
		Context: ctxMap,
	}
	if err != nil {
		payload.Error = err.Error()
	}
	s.recordQuietly(ctx, EventError, payload, "记录异常事件失败")
}

// ListEvents 按类型检索最近事件，最新的在前。
func (s *Service) ListEvents(ctx context.Context, eventType EventType, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}

	query := `SELECT event_type, payload, created_at FROM monitor_events`
	args := make([]interface{}, 0, 2)
	if eventType != "" {
		query += ` WHERE event_type = ?`
		args = append(args, string(eventType))
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("monitor: 查询事件失败: %w", err)
	}
	defer rows.Close()

	events := make([]Event, 0, limit)
	for rows.Next() {
		var (
			typ     string
			payload string
			created string
		)
		if scanErr := rows.Scan(&typ, &payload, &created); scanErr != nil {
			return nil, fmt.Errorf("monitor: 解析事件失败: %w", scanErr)
		}

		ts, parseErr := time.Parse(time.RFC3339Nano, created)
		if parseErr != nil {
			ts = time.Time{}
		}

		events = append(events, Event{
			Type:      EventType(typ),
			Timestamp: ts,
			Payload:   json.RawMessage(payload),
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("monitor: 读取事件失败: %w", err)
	}

	return events, nil
}
