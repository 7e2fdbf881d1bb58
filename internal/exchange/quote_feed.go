package exchange

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/life2you_mini/basisgate/internal/config"
	"github.com/life2you_mini/basisgate/internal/model"
)

// 同时查询的合约数
const maxConcurrentInstruments = 8

type instrument struct {
	config.InstrumentConfig
	expiry   time.Time
	category model.VenueCategory
}

// CCXTQuoteFeed 轮询各场所组装现货/期货报价
type CCXTQuoteFeed struct {
	factory     *ExchangeFactory
	instruments []instrument
	limiters    map[string]*rate.Limiter
	logger      *zap.Logger
	now         func() time.Time
}

// NewCCXTQuoteFeed 创建轮询行情源，每个场所一个限速器
func NewCCXTQuoteFeed(factory *ExchangeFactory, cfg config.FeedConfig, logger *zap.Logger) (*CCXTQuoteFeed, error) {
	instruments := make([]instrument, 0, len(cfg.Instruments))
	limiters := make(map[string]*rate.Limiter)

	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	limit := rate.Limit(cfg.RequestsPerSecond)
	if cfg.RequestsPerSecond <= 0 {
		limit = rate.Inf
	}

	for _, inst := range cfg.Instruments {
		expiry, err := inst.ExpiryTime()
		if err != nil {
			return nil, err
		}
		category := model.VenueCategory(strings.ToLower(inst.Category))
		if !category.Valid() {
			category = model.CategoryCEX
		}
		for _, venue := range []string{inst.SpotVenue, inst.FuturesVenue} {
			venue = strings.ToLower(venue)
			if _, ok := factory.Get(venue); !ok {
				return nil, fmt.Errorf("合约 %s 使用了未注册的交易所: %s", inst.Token, venue)
			}
			if _, ok := limiters[venue]; !ok {
				limiters[venue] = rate.NewLimiter(limit, burst)
			}
		}
		instruments = append(instruments, instrument{InstrumentConfig: inst, expiry: expiry, category: category})
	}

	return &CCXTQuoteFeed{
		factory:     factory,
		instruments: instruments,
		limiters:    limiters,
		logger:      logger.With(zap.String("component", "ccxt_feed")),
		now:         time.Now,
	}, nil
}

// FetchQuotes 查询全部合约；单个合约失败时跳过，全部失败才返回错误
func (f *CCXTQuoteFeed) FetchQuotes(ctx context.Context) ([]model.MarketQuote, error) {
	if len(f.instruments) == 0 {
		return nil, nil
	}

	results := make([]*model.MarketQuote, len(f.instruments))
	var (
		mu       sync.Mutex
		failures int
		lastErr  error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentInstruments)
	for i, inst := range f.instruments {
		g.Go(func() error {
			quote, err := f.fetchInstrument(gctx, inst)
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				f.logger.Warn("获取合约报价失败", zap.String("token", inst.Token), zap.Error(err))
				mu.Lock()
				failures++
				lastErr = err
				mu.Unlock()
				return nil
			}
			results[i] = quote
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if failures == len(f.instruments) {
		return nil, fmt.Errorf("所有合约报价获取失败: %w", lastErr)
	}

	quotes := make([]model.MarketQuote, 0, len(results))
	for _, q := range results {
		if q != nil {
			quotes = append(quotes, *q)
		}
	}
	return quotes, nil
}

func (f *CCXTQuoteFeed) fetchInstrument(ctx context.Context, inst instrument) (*model.MarketQuote, error) {
	spot, err := f.lastPrice(ctx, inst.SpotVenue, inst.SpotSymbol)
	if err != nil {
		return nil, err
	}
	futures, err := f.lastPrice(ctx, inst.FuturesVenue, inst.FuturesSymbol)
	if err != nil {
		return nil, err
	}

	var funding float64
	if inst.FundingSymbol != "" {
		funding, err = f.fundingRate(ctx, inst.FuturesVenue, inst.FundingSymbol)
		if err != nil {
			return nil, err
		}
	}

	return &model.MarketQuote{
		Token:         inst.Token,
		SpotPrice:     spot,
		FuturesPrice:  futures,
		FundingRate:   funding,
		FuturesExpiry: inst.expiry,
		Timestamp:     f.now(),
		SourceVenue:   strings.ToLower(inst.SpotVenue),
		TargetVenue:   strings.ToLower(inst.FuturesVenue),
		Category:      inst.category,
	}, nil
}

func (f *CCXTQuoteFeed) client(ctx context.Context, venue string) (VenueClient, error) {
	venue = strings.ToLower(venue)
	client, ok := f.factory.Get(venue)
	if !ok {
		return nil, fmt.Errorf("未注册的交易所: %s", venue)
	}
	if err := f.limiters[venue].Wait(ctx); err != nil {
		return nil, fmt.Errorf("等待限速失败: %w", err)
	}
	return client, nil
}

func (f *CCXTQuoteFeed) lastPrice(ctx context.Context, venue, symbol string) (float64, error) {
	client, err := f.client(ctx, venue)
	if err != nil {
		return 0, err
	}
	return client.FetchLastPrice(ctx, symbol)
}

func (f *CCXTQuoteFeed) fundingRate(ctx context.Context, venue, symbol string) (float64, error) {
	client, err := f.client(ctx, venue)
	if err != nil {
		return 0, err
	}
	return client.FetchFundingRate(ctx, symbol)
}
