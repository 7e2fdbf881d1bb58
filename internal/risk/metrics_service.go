package risk

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/life2you_mini/basisgate/internal/config"
	"github.com/life2you_mini/basisgate/internal/metrics"
	"github.com/life2you_mini/basisgate/internal/model"
)

// SnapshotSource 持仓和成交快照来源
type SnapshotSource interface {
	GetPositions(ctx context.Context, subject string) ([]model.PositionSnapshot, error)
	GetTrades(ctx context.Context, subject string, limit int) ([]model.TradeRecord, error)
}

// MetricsSink 风险指标持久化
type MetricsSink interface {
	StoreRiskMetrics(ctx context.Context, metrics *model.RiskMetrics) error
	AppendRiskHistory(ctx context.Context, rows []model.RiskMetricsHistory) error
}

// 单次采集超时
const collectTimeout = 15 * time.Second

// RiskMetricsService 按监控对象周期计算风险因子
type RiskMetricsService struct {
	parentCtx  context.Context
	ctx        context.Context
	cancel     context.CancelFunc
	logger     *zap.Logger
	cfg        config.RiskMetricsConfig
	source     SnapshotSource
	sink       MetricsSink
	calculator *Calculator
	now        func() time.Time

	wg         sync.WaitGroup
	isRunning  bool
	mutex      sync.Mutex
	collectors map[string]context.CancelFunc

	latestMu sync.RWMutex
	latest   map[string]*model.RiskMetrics
}

// NewRiskMetricsService 创建风险指标服务，sink 可以为 nil
func NewRiskMetricsService(
	parentCtx context.Context,
	cfg config.RiskMetricsConfig,
	source SnapshotSource,
	sink MetricsSink,
	logger *zap.Logger,
) *RiskMetricsService {
	ctx, cancel := context.WithCancel(parentCtx)

	return &RiskMetricsService{
		parentCtx:  parentCtx,
		ctx:        ctx,
		cancel:     cancel,
		logger:     logger.With(zap.String("component", "risk_metrics")),
		cfg:        cfg,
		source:     source,
		sink:       sink,
		calculator: NewCalculator(NewVenueRatings(cfg.VenueRatings, cfg.DefaultVenueRating), cfg.MarketDepthMultiple),
		now:        time.Now,
		collectors: make(map[string]context.CancelFunc),
		latest:     make(map[string]*model.RiskMetrics),
	}
}

// Start 启动服务并为配置中的对象开始采集
func (s *RiskMetricsService) Start() error {
	s.mutex.Lock()
	if s.isRunning {
		s.mutex.Unlock()
		return fmt.Errorf("风险指标服务已在运行")
	}
	s.logger.Info("启动风险指标服务", zap.Int("subjects", len(s.cfg.Subjects)))
	if s.ctx.Err() != nil {
		// Stop 之后重新启动
		s.ctx, s.cancel = context.WithCancel(s.parentCtx)
	}
	s.isRunning = true
	s.mutex.Unlock()

	for _, subject := range s.cfg.Subjects {
		if err := s.StartCollection(subject); err != nil {
			return err
		}
	}
	return nil
}

// Stop 停止所有采集
func (s *RiskMetricsService) Stop() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if !s.isRunning {
		return nil
	}

	s.logger.Info("停止风险指标服务")
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	// 等待最多5秒钟
	select {
	case <-done:
		s.logger.Info("风险指标服务已停止")
	case <-time.After(5 * time.Second):
		s.logger.Warn("风险指标服务停止超时")
	}

	s.collectors = make(map[string]context.CancelFunc)
	s.isRunning = false
	return nil
}

// StartCollection 开始对某个对象的周期采集，已在采集时不做处理
func (s *RiskMetricsService) StartCollection(subject string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if !s.isRunning {
		return fmt.Errorf("风险指标服务未运行")
	}
	if _, ok := s.collectors[subject]; ok {
		return nil
	}

	ctx, cancel := context.WithCancel(s.ctx)
	s.collectors[subject] = cancel

	s.wg.Add(1)
	go s.collectLoop(ctx, subject)

	s.logger.Info("开始采集风险指标", zap.String("subject", subject))
	return nil
}

// StopCollection 停止对某个对象的采集
func (s *RiskMetricsService) StopCollection(subject string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if cancel, ok := s.collectors[subject]; ok {
		cancel()
		delete(s.collectors, subject)
		s.logger.Info("停止采集风险指标", zap.String("subject", subject))
	}
}

// Subjects 正在采集的对象
func (s *RiskMetricsService) Subjects() []string {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	subjects := make([]string, 0, len(s.collectors))
	for subject := range s.collectors {
		subjects = append(subjects, subject)
	}
	sort.Strings(subjects)
	return subjects
}

// Latest 最近一次计算结果
func (s *RiskMetricsService) Latest(subject string) (*model.RiskMetrics, bool) {
	s.latestMu.RLock()
	defer s.latestMu.RUnlock()

	m, ok := s.latest[subject]
	return m, ok
}

func (s *RiskMetricsService) collectLoop(ctx context.Context, subject string) {
	defer s.wg.Done()

	interval := s.cfg.Interval()
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		s.collectOnce(ctx, subject)

		select {
		case <-ctx.Done():
			s.logger.Debug("风险指标采集结束", zap.String("subject", subject))
			return
		case <-ticker.C:
		}
	}
}

func (s *RiskMetricsService) collectOnce(ctx context.Context, subject string) {
	collectCtx, cancel := context.WithTimeout(ctx, collectTimeout)
	defer cancel()

	if _, err := s.Collect(collectCtx, subject); err != nil {
		s.logger.Error("风险指标采集失败", zap.String("subject", subject), zap.Error(err))
	}
}

// Collect 读取快照、计算因子并持久化。持久化失败时仍返回计算结果。
func (s *RiskMetricsService) Collect(ctx context.Context, subject string) (*model.RiskMetrics, error) {
	positions, err := s.source.GetPositions(ctx, subject)
	if err != nil {
		return nil, model.NewInfraError("读取持仓快照", err)
	}
	limit := s.cfg.TradeHistoryLimit
	trades, err := s.source.GetTrades(ctx, subject, limit)
	if err != nil {
		return nil, model.NewInfraError("读取成交记录", err)
	}

	now := s.now()
	result := &model.RiskMetrics{
		ID:         uuid.NewString(),
		Subject:    subject,
		Factors:    s.calculator.Compute(positions, trades),
		Thresholds: s.cfg.Thresholds,
		Timestamp:  now,
	}

	s.latestMu.Lock()
	s.latest[subject] = result
	s.latestMu.Unlock()

	for name, value := range result.Factors {
		metrics.RiskFactor.WithLabelValues(subject, name).Set(value)
	}

	s.logger.Debug("风险指标已计算",
		zap.String("subject", subject),
		zap.Int("positions", len(positions)),
		zap.Int("trades", len(trades)))

	if s.sink == nil {
		return result, nil
	}
	if err := s.persist(ctx, result); err != nil {
		return result, model.NewInfraError("持久化风险指标", err)
	}
	return result, nil
}

func (s *RiskMetricsService) persist(ctx context.Context, result *model.RiskMetrics) error {
	var errs error

	if err := s.sink.StoreRiskMetrics(ctx, result); err != nil {
		metrics.PersistenceFailures.WithLabelValues("store_risk_metrics").Inc()
		errs = multierr.Append(errs, fmt.Errorf("存储当前风险指标失败: %w", err))
	}

	rows := make([]model.RiskMetricsHistory, 0, len(model.ReportPeriods))
	for _, period := range model.ReportPeriods {
		rows = append(rows, model.RiskMetricsHistory{
			Subject:    result.Subject,
			Period:     period,
			Values:     result.Factors,
			Thresholds: result.Thresholds,
			Timestamp:  result.Timestamp,
		})
	}
	if err := s.sink.AppendRiskHistory(ctx, rows); err != nil {
		metrics.PersistenceFailures.WithLabelValues("append_risk_history").Inc()
		errs = multierr.Append(errs, fmt.Errorf("追加风险历史失败: %w", err))
	}

	return errs
}
