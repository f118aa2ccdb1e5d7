package exchange

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOrderBookValidate(t *testing.T) {
	ok := OrderBookSnapshot{
		Bids: []Level{{Price: 100.00, Amount: 1}},
		Asks: []Level{{Price: 100.10, Amount: 1}},
	}
	assert.NoError(t, ok.Validate())
	assert.InDelta(t, 100.05, ok.Mid(), 1e-9)

	empty := OrderBookSnapshot{Bids: []Level{{Price: 100, Amount: 1}}}
	assert.ErrorIs(t, empty.Validate(), ErrMalformed)

	crossed := OrderBookSnapshot{
		Bids: []Level{{Price: 100.2, Amount: 1}},
		Asks: []Level{{Price: 100.1, Amount: 1}},
	}
	assert.ErrorIs(t, crossed.Validate(), ErrMalformed)
}

func TestQuoteSetBestLevels(t *testing.T) {
	qs := QuoteSet{
		{Side: SideBuy, Price: 99.8, Size: 1, Kind: KindLimit},
		{Side: SideBuy, Price: 99.9, Size: 1, Kind: KindLimit},
		{Side: SideSell, Price: 100.3, Size: 1, Kind: KindLimit},
		{Side: SideSell, Price: 100.2, Size: 1, Kind: KindLimit},
		{Side: SideSell, Size: 5, Kind: KindMarket},
	}

	bid, ok := qs.Bid()
	assert.True(t, ok)
	assert.Equal(t, 99.9, bid.Price)

	ask, ok := qs.Ask()
	assert.True(t, ok)
	assert.Equal(t, 100.2, ask.Price)

	_, ok = QuoteSet{{Side: SideSell, Size: 1, Kind: KindMarket}}.Ask()
	assert.False(t, ok)
}

func TestContractCode(t *testing.T) {
	assert.Equal(t, "BTC-USDT", ContractCode("BTC/USDT:USDT"))
	assert.Equal(t, "ETH-USDT", ContractCode("eth/usdt"))
}
