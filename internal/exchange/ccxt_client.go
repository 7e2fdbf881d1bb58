package exchange

import (
	"context"
	"fmt"
	"strings"

	ccxt "github.com/ccxt/ccxt/go/v4"
	"go.uber.org/zap"
)

// 支持的场所
const (
	VenueBinance = "binance"
	VenueOKX     = "okx"
	VenueBitget  = "bitget"
	VenueBybit   = "bybit"
)

// VenueClient 单个场所的行情接口
type VenueClient interface {
	Name() string
	FetchLastPrice(ctx context.Context, symbol string) (float64, error)
	FetchFundingRate(ctx context.Context, symbol string) (float64, error)
}

// marketAPI ccxt 交易所实例中用到的方法
type marketAPI interface {
	FetchTicker(symbol string, options ...ccxt.FetchTickerOptions) (ccxt.Ticker, error)
	FetchFundingRate(symbol string, options ...ccxt.FetchFundingRateOptions) (ccxt.FundingRate, error)
}

// asMarketAPI ccxt 构造函数返回值或其指针实现 marketAPI
func asMarketAPI[T any](ex T) (marketAPI, bool) {
	if api, ok := any(ex).(marketAPI); ok {
		return api, true
	}
	if api, ok := any(&ex).(marketAPI); ok {
		return api, true
	}
	return nil, false
}

// CCXTClient 基于ccxt的公开行情客户端
type CCXTClient struct {
	name   string
	api    marketAPI
	logger *zap.Logger
}

// NewCCXTClient 创建场所客户端，只使用公开接口
func NewCCXTClient(venue string, logger *zap.Logger) (*CCXTClient, error) {
	venue = strings.ToLower(venue)
	options := map[string]interface{}{
		"enableRateLimit": true,
	}

	var (
		api marketAPI
		ok  bool
	)
	switch venue {
	case VenueBinance:
		api, ok = asMarketAPI(ccxt.NewBinance(options))
	case VenueOKX:
		api, ok = asMarketAPI(ccxt.NewOkx(options))
	case VenueBitget:
		api, ok = asMarketAPI(ccxt.NewBitget(options))
	case VenueBybit:
		api, ok = asMarketAPI(ccxt.NewBybit(options))
	default:
		return nil, fmt.Errorf("不支持的交易所: %s", venue)
	}
	if !ok {
		return nil, fmt.Errorf("交易所 %s 不支持行情接口", venue)
	}

	return newCCXTClient(venue, api, logger), nil
}

func newCCXTClient(venue string, api marketAPI, logger *zap.Logger) *CCXTClient {
	return &CCXTClient{
		name:   venue,
		api:    api,
		logger: logger.With(zap.String("component", "ccxt_client"), zap.String("venue", venue)),
	}
}

// Name 场所名称
func (c *CCXTClient) Name() string {
	return c.name
}

// FetchLastPrice 获取最新成交价
func (c *CCXTClient) FetchLastPrice(ctx context.Context, symbol string) (float64, error) {
	ticker, err := call(ctx, func() (ccxt.Ticker, error) {
		return c.api.FetchTicker(symbol)
	})
	if err != nil {
		c.logger.Error("获取价格失败", zap.String("symbol", symbol), zap.Error(err))
		return 0, fmt.Errorf("获取%s价格失败: %w", c.name, err)
	}
	if ticker.Last == nil {
		return 0, fmt.Errorf("%s %s 价格数据缺失", c.name, symbol)
	}
	return *ticker.Last, nil
}

// FetchFundingRate 获取当前资金费率
func (c *CCXTClient) FetchFundingRate(ctx context.Context, symbol string) (float64, error) {
	rate, err := call(ctx, func() (ccxt.FundingRate, error) {
		return c.api.FetchFundingRate(symbol)
	})
	if err != nil {
		c.logger.Error("获取资金费率失败", zap.String("symbol", symbol), zap.Error(err))
		return 0, fmt.Errorf("获取%s资金费率失败: %w", c.name, err)
	}
	if rate.FundingRate == nil {
		return 0, fmt.Errorf("%s %s 资金费率数据缺失", c.name, symbol)
	}
	return *rate.FundingRate, nil
}

// call ccxt 调用不接受 ctx，取消时直接返回
func call[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	type outcome struct {
		value T
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		v, err := fn()
		done <- outcome{value: v, err: err}
	}()

	select {
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	case o := <-done:
		return o.value, o.err
	}
}
