package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/life2you_mini/basisgate/internal/api"
	"github.com/life2you_mini/basisgate/internal/config"
	"github.com/life2you_mini/basisgate/internal/monitor"
	"github.com/life2you_mini/basisgate/internal/risk"
	"github.com/life2you_mini/basisgate/internal/security"
	"github.com/life2you_mini/basisgate/internal/trading"
)

// BasisGateService 基差套利决策服务，负责组装和启停所有组件
type BasisGateService struct {
	ctx    context.Context
	cancel context.CancelFunc
	logger *zap.Logger
	cfg    *config.Config

	storage      *storageBundle
	quotes       *quoteSource
	security     *security.SecurityMonitor
	riskMetrics  *risk.RiskMetricsService
	executor     *trading.Executor
	basisMonitor *monitor.BasisMonitor
	api          *api.Server

	mu        sync.Mutex
	isRunning bool
	group     *errgroup.Group
}

// NewBasisGateService 创建服务并连接依赖
func NewBasisGateService(
	parentCtx context.Context,
	cfg *config.Config,
	logger *zap.Logger,
) (*BasisGateService, error) {
	ctx, cancel := context.WithCancel(parentCtx)

	bundle, err := newStorageBundle(ctx, cfg, logger)
	if err != nil {
		cancel()
		return nil, err
	}

	fail := func(err error) (*BasisGateService, error) {
		cancel()
		_ = bundle.Close()
		return nil, err
	}

	quotes, err := newQuoteSource(cfg.Feed, logger)
	if err != nil {
		return fail(err)
	}

	kind, err := trading.ParseStrategyKind(cfg.System.Strategy)
	if err != nil {
		return fail(err)
	}
	strategy, err := trading.NewStrategy(kind)
	if err != nil {
		return fail(fmt.Errorf("创建策略失败: %w", err))
	}

	dispatcher, err := bundle.newDispatcher(cfg.Dispatcher, cfg.Redis.KeyPrefix, logger)
	if err != nil {
		return fail(err)
	}

	securityMonitor := security.NewSecurityMonitor(cfg.Security, logger,
		security.WithIncidentSink(bundle.multi))

	riskMetrics := risk.NewRiskMetricsService(ctx, cfg.RiskMetrics, bundle.redis, bundle.multi, logger)

	gate := trading.NewAdmissionGate(cfg.Limits, securityMonitor, logger)
	executor := trading.NewExecutor(gate, securityMonitor, dispatcher, bundle.redis, cfg.Limits.TradeLeverage, logger,
		trading.WithTradeRecorder(bundle.redis),
		trading.WithStrategy(strategy))

	basisMonitor := monitor.NewBasisMonitor(
		monitor.NewScanner(cfg.Scanner),
		quotes.source,
		cfg.Scanner.ScanInterval(),
		logger,
		monitor.WithPublisher(bundle.redis),
		monitor.WithHandler(executor),
	)

	s := &BasisGateService{
		ctx:          ctx,
		cancel:       cancel,
		logger:       logger.With(zap.String("component", "service")),
		cfg:          cfg,
		storage:      bundle,
		quotes:       quotes,
		security:     securityMonitor,
		riskMetrics:  riskMetrics,
		executor:     executor,
		basisMonitor: basisMonitor,
	}

	if cfg.API.Enabled {
		s.api = api.NewServer(cfg.API.ListenAddr, cfg.API.Token, api.Dependencies{
			Security:      securityMonitor,
			Opportunities: basisMonitor,
			Risk:          riskMetrics,
			Health:        bundle.multi,
		}, logger)
	}

	return s, nil
}

// Security 安全监控
func (s *BasisGateService) Security() *security.SecurityMonitor {
	return s.security
}

// RiskMetrics 风险指标服务
func (s *BasisGateService) RiskMetrics() *risk.RiskMetricsService {
	return s.riskMetrics
}

// Monitor 基差扫描器
func (s *BasisGateService) Monitor() *monitor.BasisMonitor {
	return s.basisMonitor
}

// Start 启动所有后台任务
func (s *BasisGateService) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return fmt.Errorf("服务已在运行")
	}
	s.logger.Info("启动基差套利决策服务",
		zap.String("feed", s.cfg.Feed.Mode),
		zap.String("dispatcher", s.cfg.Dispatcher.Mode),
		zap.String("strategy", s.cfg.System.Strategy))

	if err := s.riskMetrics.Start(); err != nil {
		return fmt.Errorf("启动风险指标服务失败: %w", err)
	}

	g, gctx := errgroup.WithContext(s.ctx)
	g.Go(func() error { return s.security.Run(gctx) })
	g.Go(func() error { return s.basisMonitor.Run(gctx) })
	if s.quotes.run != nil {
		g.Go(func() error { return s.quotes.run(gctx) })
	}
	if s.api != nil {
		g.Go(func() error { return s.api.Run(gctx) })
	}

	s.group = g
	s.isRunning = true
	return nil
}

// Wait 阻塞直到任一后台任务出错或服务停止
func (s *BasisGateService) Wait() error {
	s.mu.Lock()
	g := s.group
	s.mu.Unlock()
	if g == nil {
		return nil
	}
	return g.Wait()
}

// Stop 停止所有任务并关闭存储
func (s *BasisGateService) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logger.Info("停止基差套利决策服务")
	s.cancel()

	var errs error
	if err := s.riskMetrics.Stop(); err != nil {
		errs = multierr.Append(errs, err)
	}

	if s.group != nil {
		done := make(chan error, 1)
		go func() { done <- s.group.Wait() }()

		select {
		case err := <-done:
			errs = multierr.Append(errs, err)
		case <-ctx.Done():
			errs = multierr.Append(errs, ctx.Err())
		case <-time.After(5 * time.Second):
			s.logger.Warn("等待后台任务退出超时")
		}
	}

	if err := s.storage.Close(); err != nil {
		s.logger.Error("关闭存储失败", zap.Error(err))
		errs = multierr.Append(errs, err)
	}

	s.isRunning = false
	return errs
}
