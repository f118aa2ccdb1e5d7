package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"htx-mm/internal/config"
	"htx-mm/internal/exchange"
	"htx-mm/internal/execution"
	"htx-mm/internal/risk"
	"htx-mm/internal/store"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	s, err := store.NewSQLite(config.DatabaseConfig{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	svc, err := NewService(s, nil)
	require.NoError(t, err)
	return svc
}

func TestNewServiceRequiresStore(t *testing.T) {
	_, err := NewService(nil, nil)
	assert.Error(t, err)
}

func TestRecordAndListEvents(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	book := exchange.OrderBookSnapshot{
		Bids: []exchange.Level{{Price: 99.9, Amount: 1}},
		Asks: []exchange.Level{{Price: 100.1, Amount: 1}},
	}
	orders := exchange.QuoteSet{{Side: exchange.SideBuy, Price: 99.95, Size: 0.01, Kind: exchange.KindLimit}}

	svc.RecordState(ctx, "CONNECTING", "RUNNING")
	svc.RecordCycle(ctx, "c-1", book, 0.5, false, orders, execution.Result{Policy: execution.PolicyMinimalDiff, Placed: 1})
	svc.RecordRisk(ctx, "c-2", 9.5, orders, risk.Verdict{Reason: risk.ReasonPositionLimit})
	svc.RecordError(ctx, "c-2", "查询挂单失败", errors.New("boom"), map[string]interface{}{"attempt": 1})

	all, err := svc.ListEvents(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, EventError, all[0].Type, "newest first")
	assert.Equal(t, EventState, all[3].Type)

	cycles, err := svc.ListEvents(ctx, EventCycle, 10)
	require.NoError(t, err)
	require.Len(t, cycles, 1)
	assert.Equal(t, "c-1", cycles[0].CycleID)

	var payload CyclePayload
	require.NoError(t, json.Unmarshal(cycles[0].Payload.(json.RawMessage), &payload))
	assert.InDelta(t, 100.0, payload.Mid, 1e-9)
	assert.Equal(t, 1, payload.Result.Placed)

	byCycle, err := svc.ListCycle(ctx, "c-2", 0)
	require.NoError(t, err)
	assert.Len(t, byCycle, 2)
}

func TestListEventsLimit(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		svc.RecordState(ctx, "RUNNING", "RECONNECTING")
	}

	events, err := svc.ListEvents(ctx, EventState, 3)
	require.NoError(t, err)
	assert.Len(t, events, 3)
}
