package position

import (
	"context"
	"testing"

	ccxt "github.com/ccxt/ccxt/go/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"htx-mm/internal/exchange"
)

type mockPositionClient struct {
	positions   []ccxt.Position
	positionErr error
}

func (m *mockPositionClient) FetchPositions(options ...ccxt.FetchPositionsOptions) ([]ccxt.Position, error) {
	return m.positions, m.positionErr
}

func strPtr(s string) *string     { return &s }
func floatPtr(f float64) *float64 { return &f }

func TestFetchPositionNetsSidesForSymbol(t *testing.T) {
	client := &mockPositionClient{positions: []ccxt.Position{
		{Symbol: strPtr("BTC/USDT:USDT"), Side: strPtr("long"), Contracts: floatPtr(7)},
		{Symbol: strPtr("BTC/USDT:USDT"), Side: strPtr("short"), Contracts: floatPtr(3)},
		{Symbol: strPtr("ETH/USDT:USDT"), Side: strPtr("long"), Contracts: floatPtr(50)},
	}}
	m := NewManager(client, "BTC/USDT:USDT", nil)

	pos, err := m.FetchPosition(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "BTC/USDT:USDT", pos.Symbol)
	assert.InDelta(t, 4, pos.Size, 1e-12)
}

func TestFetchPositionShortIsNegative(t *testing.T) {
	client := &mockPositionClient{positions: []ccxt.Position{
		{Symbol: strPtr("BTC/USDT:USDT"), Info: map[string]interface{}{"direction": "sell", "volume": "12"}},
	}}
	pos, err := NewManager(client, "BTC/USDT:USDT", nil).FetchPosition(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, -12, pos.Size, 1e-12)
}

func TestFetchPositionFlat(t *testing.T) {
	pos, err := NewManager(&mockPositionClient{}, "BTC/USDT:USDT", nil).FetchPosition(context.Background())
	require.NoError(t, err)
	assert.Zero(t, pos.Size)
}

func TestFetchPositionClassifiesErrors(t *testing.T) {
	client := &mockPositionClient{positionErr: &ccxt.Error{Type: ccxt.AuthenticationErrorErrType, Message: "bad key"}}
	_, err := NewManager(client, "BTC/USDT:USDT", nil).FetchPosition(context.Background())
	require.Error(t, err)
	assert.True(t, exchange.IsAuthentication(err))

	client = &mockPositionClient{positionErr: &ccxt.Error{Type: ccxt.RequestTimeoutErrType}}
	_, err = NewManager(client, "BTC/USDT:USDT", nil).FetchPosition(context.Background())
	assert.ErrorIs(t, err, exchange.ErrNetwork)
}

func TestFetchPositionHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewManager(&mockPositionClient{}, "BTC/USDT:USDT", nil).FetchPosition(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
