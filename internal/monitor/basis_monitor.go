package monitor

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/life2you_mini/basisgate/internal/metrics"
	"github.com/life2you_mini/basisgate/internal/model"
)

// QuoteSource 行情源，每个扫描周期提供一批报价
type QuoteSource interface {
	FetchQuotes(ctx context.Context) ([]model.MarketQuote, error)
}

// OpportunityPublisher 发布最新排序结果
type OpportunityPublisher interface {
	StoreOpportunities(ctx context.Context, opps []model.BasisOpportunity) error
}

// OpportunityHandler 处理排序后的机会（准入和执行）
type OpportunityHandler interface {
	HandleOpportunities(ctx context.Context, opps []model.BasisOpportunity) error
}

// BasisMonitor 基差机会周期扫描
type BasisMonitor struct {
	logger    *zap.Logger
	scanner   *Scanner
	source    QuoteSource
	publisher OpportunityPublisher
	handler   OpportunityHandler
	interval  time.Duration
	now       func() time.Time

	mu       sync.RWMutex
	latest   []model.BasisOpportunity
	lastScan time.Time
}

// MonitorOption 可选项
type MonitorOption func(*BasisMonitor)

// WithPublisher 设置结果发布
func WithPublisher(p OpportunityPublisher) MonitorOption {
	return func(m *BasisMonitor) { m.publisher = p }
}

// WithHandler 设置机会处理
func WithHandler(h OpportunityHandler) MonitorOption {
	return func(m *BasisMonitor) { m.handler = h }
}

// WithMonitorClock 替换时钟
func WithMonitorClock(now func() time.Time) MonitorOption {
	return func(m *BasisMonitor) { m.now = now }
}

// NewBasisMonitor 创建基差监控
func NewBasisMonitor(scanner *Scanner, source QuoteSource, interval time.Duration, logger *zap.Logger, opts ...MonitorOption) *BasisMonitor {
	m := &BasisMonitor{
		logger:   logger.With(zap.String("component", "basis_monitor")),
		scanner:  scanner,
		source:   source,
		interval: interval,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Run 立即扫描一次，之后按周期扫描，直到 ctx 取消
func (m *BasisMonitor) Run(ctx context.Context) error {
	m.logger.Info("启动基差机会监控", zap.Duration("interval", m.interval))

	if _, err := m.RunCycle(ctx); err != nil {
		m.logger.Error("初始扫描失败", zap.Error(err))
	}

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("基差机会监控停止")
			return nil
		case <-ticker.C:
			if _, err := m.RunCycle(ctx); err != nil {
				m.logger.Error("基差扫描失败", zap.Error(err))
			}
		}
	}
}

// RunCycle 执行一个扫描周期：拉取报价、扫描排序、发布并交给处理方
func (m *BasisMonitor) RunCycle(ctx context.Context) ([]model.BasisOpportunity, error) {
	quotes, err := m.source.FetchQuotes(ctx)
	if err != nil {
		metrics.ScanCycles.WithLabelValues("feed_error").Inc()
		return nil, model.NewInfraError("获取行情", err)
	}

	now := m.now()
	result := m.scanner.Scan(quotes, now)

	for _, skipped := range result.Skipped {
		metrics.QuotesSkipped.WithLabelValues(skipped.Reason).Inc()
		m.logger.Debug("跳过无效报价",
			zap.String("token", skipped.Quote.Token),
			zap.String("source_venue", skipped.Quote.SourceVenue),
			zap.String("reason", skipped.Reason))
	}
	for _, filtered := range result.Filtered {
		metrics.QuotesSkipped.WithLabelValues(filtered.Reason).Inc()
	}

	metrics.ScanCycles.WithLabelValues("ok").Inc()
	metrics.OpportunitiesFound.Set(float64(len(result.Opportunities)))

	m.mu.Lock()
	m.latest = result.Opportunities
	m.lastScan = now
	m.mu.Unlock()

	m.logger.Info("基差扫描完成",
		zap.Int("quotes", len(quotes)),
		zap.Int("skipped", len(result.Skipped)),
		zap.Int("filtered", len(result.Filtered)),
		zap.Int("opportunities", len(result.Opportunities)))

	if m.publisher != nil {
		if err := m.publisher.StoreOpportunities(ctx, result.Opportunities); err != nil {
			metrics.PersistenceFailures.WithLabelValues("store_opportunities").Inc()
			m.logger.Error("发布套利机会失败", zap.Error(err))
		}
	}

	if m.handler != nil && len(result.Opportunities) > 0 {
		if err := m.handler.HandleOpportunities(ctx, result.Opportunities); err != nil {
			return result.Opportunities, err
		}
	}

	return result.Opportunities, nil
}

// Latest 最近一次扫描结果
func (m *BasisMonitor) Latest() ([]model.BasisOpportunity, time.Time) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]model.BasisOpportunity, len(m.latest))
	copy(out, m.latest)
	return out, m.lastScan
}
