package monitor

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"htx-mm/internal/exchange"
	"htx-mm/internal/execution"
	"htx-mm/internal/risk"
	"htx-mm/internal/store"
)

// Service 负责持久化监控事件。
type Service struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewService 初始化监控服务，创建所需表结构。
func NewService(store *store.Store, logger *zap.Logger) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("monitor: store 不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Service{
		db:     store.DB(),
		logger: logger,
	}

	if err := s.initSchema(); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *Service) initSchema() error {
	stmt := `
CREATE TABLE IF NOT EXISTS cycle_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	cycle_id TEXT NOT NULL DEFAULT '',
	event_type TEXT NOT NULL,
	payload TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_cycle_events_type ON cycle_events(event_type);
CREATE INDEX IF NOT EXISTS idx_cycle_events_cycle ON cycle_events(cycle_id);
`
	if _, err := s.db.Exec(stmt); err != nil {
		return fmt.Errorf("monitor: 初始化表失败: %w", err)
	}
	return nil
}

// Record 写入单个事件。
func (s *Service) Record(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("monitor: 序列化事件失败: %w", err)
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO cycle_events (cycle_id, event_type, payload, created_at) VALUES (?, ?, ?, ?)`,
		event.CycleID, string(event.Type), string(payload), event.Timestamp.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("monitor: 写入事件失败: %w", err)
	}

	return nil
}

// RecordCycle 记录一轮完成的报价循环。
func (s *Service) RecordCycle(ctx context.Context, cycleID string, book exchange.OrderBookSnapshot, position float64, rebalance bool, orders exchange.QuoteSet, result execution.Result) {
	payload := CyclePayload{
		BestBid:   book.BestBid(),
		BestAsk:   book.BestAsk(),
		Mid:       book.Mid(),
		Position:  position,
		Rebalance: rebalance,
		Orders:    orders,
		Result:    result,
	}
	if err := s.Record(ctx, Event{CycleID: cycleID, Type: EventCycle, Payload: payload}); err != nil {
		s.logger.Warn("记录循环事件失败", zap.Error(err))
	}
}

// RecordRisk 记录风控拒绝。
func (s *Service) RecordRisk(ctx context.Context, cycleID string, position float64, orders exchange.QuoteSet, verdict risk.Verdict) {
	payload := RiskPayload{Position: position, Orders: orders, Verdict: verdict}
	if err := s.Record(ctx, Event{CycleID: cycleID, Type: EventRisk, Payload: payload}); err != nil {
		s.logger.Warn("记录风控事件失败", zap.Error(err))
	}
}

// RecordState 记录状态迁移。
func (s *Service) RecordState(ctx context.Context, from, to string) {
	if err := s.Record(ctx, Event{Type: EventState, Payload: StatePayload{From: from, To: to}}); err != nil {
		s.logger.Warn("记录状态事件失败", zap.Error(err))
	}
}

// RecordError 记录异常。
func (s *Service) RecordError(ctx context.Context, cycleID, msg string, err error, ctxMap map[string]interface{}) {
	payload := ErrorPayload{
		Message: msg,
		Context: ctxMap,
	}
	if err != nil {
		payload.Error = err.Error()
	}
	if recErr := s.Record(ctx, Event{
		CycleID: cycleID,
		Type:    EventError,
		Payload: payload,
	}); recErr != nil {
		s.logger.Warn("记录异常事件失败", zap.Error(recErr))
	}
}

// ListEvents 按类型检索最近事件，最新的在前。
func (s *Service) ListEvents(ctx context.Context, eventType EventType, limit int) ([]Event, error) {
	query := `SELECT cycle_id, event_type, payload, created_at FROM cycle_events`
	args := make([]interface{}, 0, 2)
	if eventType != "" {
		query += ` WHERE event_type = ?`
		args = append(args, string(eventType))
	}
	return s.query(ctx, query, args, limit)
}

// ListCycle 返回同一轮循环内的全部事件。
func (s *Service) ListCycle(ctx context.Context, cycleID string, limit int) ([]Event, error) {
	return s.query(ctx, `SELECT cycle_id, event_type, payload, created_at FROM cycle_events WHERE cycle_id = ?`,
		[]interface{}{cycleID}, limit)
}

func (s *Service) query(ctx context.Context, query string, args []interface{}, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
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
			cycleID string
			typ     string
			payload string
			created string
		)
		if scanErr := rows.Scan(&cycleID, &typ, &payload, &created); scanErr != nil {
			return nil, fmt.Errorf("monitor: 解析事件失败: %w", scanErr)
		}

		ts, parseErr := time.Parse(time.RFC3339Nano, created)
		if parseErr != nil {
			ts = time.Now().UTC()
		}

		events = append(events, Event{
			CycleID:   cycleID,
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
