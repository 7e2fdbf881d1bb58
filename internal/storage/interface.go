package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/multierr"

	"github.com/life2you_mini/basisgate/internal/model"
)

// 存储类型常量
const (
	StorageTypeRedis    = "redis"
	StorageTypePostgres = "postgres"
)

// Sink 风险指标和安全事件的追加存储，可以有多种实现（Redis、PostgreSQL）
type Sink interface {
	// 基础操作
	Initialize(ctx context.Context) error
	Close() error
	Health(ctx context.Context) error

	// 风险指标
	StoreRiskMetrics(ctx context.Context, metrics *model.RiskMetrics) error
	AppendRiskHistory(ctx context.Context, rows []model.RiskMetricsHistory) error

	// 安全事件
	StoreIncident(ctx context.Context, incident model.SecurityIncident) error
}

// MultiStorage 把写入分发到所有已注册的存储，任一失败都会汇总返回
type MultiStorage struct {
	mu    sync.RWMutex
	sinks map[string]Sink
}

// NewMultiStorage 创建多路存储
func NewMultiStorage() *MultiStorage {
	return &MultiStorage{
		sinks: make(map[string]Sink),
	}
}

// Register 注册存储实现
func (m *MultiStorage) Register(name string, sink Sink) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sinks[name] = sink
}

// Get 获取存储实现
func (m *MultiStorage) Get(name string) (Sink, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sink, ok := m.sinks[name]
	return sink, ok
}

// Names 已注册的存储名称
func (m *MultiStorage) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.sinks))
	for name := range m.sinks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (m *MultiStorage) each(fn func(name string, sink Sink) error) error {
	var errs error
	for _, name := range m.Names() {
		sink, _ := m.Get(name)
		if err := fn(name, sink); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errs
}

// Initialize 初始化所有存储
func (m *MultiStorage) Initialize(ctx context.Context) error {
	return m.each(func(_ string, s Sink) error { return s.Initialize(ctx) })
}

// Close 关闭所有存储
func (m *MultiStorage) Close() error {
	return m.each(func(_ string, s Sink) error { return s.Close() })
}

// Health 检查所有存储
func (m *MultiStorage) Health(ctx context.Context) error {
	return m.each(func(_ string, s Sink) error { return s.Health(ctx) })
}

// StoreRiskMetrics 写入当前风险快照
func (m *MultiStorage) StoreRiskMetrics(ctx context.Context, metrics *model.RiskMetrics) error {
	return m.each(func(_ string, s Sink) error { return s.StoreRiskMetrics(ctx, metrics) })
}

// AppendRiskHistory 追加风险历史
func (m *MultiStorage) AppendRiskHistory(ctx context.Context, rows []model.RiskMetricsHistory) error {
	return m.each(func(_ string, s Sink) error { return s.AppendRiskHistory(ctx, rows) })
}

// StoreIncident 写入安全事件
func (m *MultiStorage) StoreIncident(ctx context.Context, incident model.SecurityIncident) error {
	return m.each(func(_ string, s Sink) error { return s.StoreIncident(ctx, incident) })
}
