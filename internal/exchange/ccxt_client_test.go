package exchange

import (
	"context"
	"errors"
	"testing"

	ccxt "github.com/ccxt/ccxt/go/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeMarket struct {
	last    *float64
	funding *float64
	err     error
}

func (f *fakeMarket) FetchTicker(symbol string, options ...ccxt.FetchTickerOptions) (ccxt.Ticker, error) {
	return ccxt.Ticker{Last: f.last}, f.err
}

func (f *fakeMarket) FetchFundingRate(symbol string, options ...ccxt.FetchFundingRateOptions) (ccxt.FundingRate, error) {
	return ccxt.FundingRate{FundingRate: f.funding}, f.err
}

func ptr(v float64) *float64 { return &v }

func TestCCXTClient(t *testing.T) {
	tests := []struct {
		name        string
		market      *fakeMarket
		wantPrice   float64
		wantFunding float64
		wantErr     bool
	}{
		{
			name:        "正常返回",
			market:      &fakeMarket{last: ptr(42000), funding: ptr(0.0001)},
			wantPrice:   42000,
			wantFunding: 0.0001,
		},
		{
			name:    "数据缺失",
			market:  &fakeMarket{},
			wantErr: true,
		},
		{
			name:    "接口报错",
			market:  &fakeMarket{last: ptr(1), funding: ptr(1), err: errors.New("429")},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newCCXTClient(VenueBinance, tt.market, zaptest.NewLogger(t))
			assert.Equal(t, VenueBinance, client.Name())

			price, err := client.FetchLastPrice(context.Background(), "BTC/USDT")
			funding, ferr := client.FetchFundingRate(context.Background(), "BTC/USDT:USDT")
			if tt.wantErr {
				assert.Error(t, err)
				assert.Error(t, ferr)
				return
			}
			require.NoError(t, err)
			require.NoError(t, ferr)
			assert.Equal(t, tt.wantPrice, price)
			assert.Equal(t, tt.wantFunding, funding)
		})
	}
}

func TestNewCCXTClient_UnsupportedVenue(t *testing.T) {
	_, err := NewCCXTClient("kraken-pro", zaptest.NewLogger(t))
	assert.Error(t, err)
}
