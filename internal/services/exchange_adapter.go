package services

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/life2you_mini/basisgate/internal/config"
	"github.com/life2you_mini/basisgate/internal/exchange"
	"github.com/life2you_mini/basisgate/internal/feed"
	"github.com/life2you_mini/basisgate/internal/monitor"
)

// quoteSource 行情源及其后台任务（推送模式需要保持连接）
type quoteSource struct {
	source monitor.QuoteSource
	run    func(ctx context.Context) error
}

// newQuoteSource 按配置选择轮询或推送行情源
func newQuoteSource(cfg config.FeedConfig, logger *zap.Logger) (*quoteSource, error) {
	switch cfg.Mode {
	case config.FeedModeCCXT, "":
		factory := exchange.CreateExchangeFactory(instrumentVenues(cfg.Instruments), logger)
		ccxtFeed, err := exchange.NewCCXTQuoteFeed(factory, cfg, logger)
		if err != nil {
			return nil, fmt.Errorf("创建ccxt行情源失败: %w", err)
		}
		return &quoteSource{source: ccxtFeed}, nil
	case config.FeedModeWebsocket:
		wsFeed := feed.NewWSQuoteFeed(cfg, logger)
		return &quoteSource{source: wsFeed, run: wsFeed.Run}, nil
	default:
		return nil, fmt.Errorf("不支持的行情模式: %s", cfg.Mode)
	}
}

// instrumentVenues 配置中出现的全部场所，按首次出现顺序去重
func instrumentVenues(instruments []config.InstrumentConfig) []string {
	seen := make(map[string]bool)
	var venues []string
	for _, inst := range instruments {
		for _, venue := range []string{inst.SpotVenue, inst.FuturesVenue} {
			venue = strings.ToLower(venue)
			if venue == "" || seen[venue] {
				continue
			}
			seen[venue] = true
			venues = append(venues, venue)
		}
	}
	return venues
}
