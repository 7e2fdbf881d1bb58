package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/life2you_mini/basisgate/internal/model"
)

// MockSnapshotSource 持仓/成交快照来源的模拟实现
type MockSnapshotSource struct {
	mock.Mock
}

// GetPositions 获取持仓快照的模拟实现
func (m *MockSnapshotSource) GetPositions(ctx context.Context, subject string) ([]model.PositionSnapshot, error) {
	args := m.Called(ctx, subject)
	positions, _ := args.Get(0).([]model.PositionSnapshot)
	return positions, args.Error(1)
}

// GetTrades 获取成交记录的模拟实现
func (m *MockSnapshotSource) GetTrades(ctx context.Context, subject string, limit int) ([]model.TradeRecord, error) {
	args := m.Called(ctx, subject, limit)
	trades, _ := args.Get(0).([]model.TradeRecord)
	return trades, args.Error(1)
}

// MockMetricsSink 风险指标持久化的模拟实现
type MockMetricsSink struct {
	mock.Mock
}

// StoreRiskMetrics 存储当前快照的模拟实现
func (m *MockMetricsSink) StoreRiskMetrics(ctx context.Context, metrics *model.RiskMetrics) error {
	args := m.Called(ctx, metrics)
	return args.Error(0)
}

// AppendRiskHistory 追加历史记录的模拟实现
func (m *MockMetricsSink) AppendRiskHistory(ctx context.Context, rows []model.RiskMetricsHistory) error {
	args := m.Called(ctx, rows)
	return args.Error(0)
}

// MockAccountStore 账户存储的模拟实现
type MockAccountStore struct {
	mock.Mock
}

// GetAccount 获取账户的模拟实现
func (m *MockAccountStore) GetAccount(ctx context.Context, id string) (*model.AccountSnapshot, error) {
	args := m.Called(ctx, id)
	account, _ := args.Get(0).(*model.AccountSnapshot)
	return account, args.Error(1)
}

// SaveAccount 保存账户的模拟实现
func (m *MockAccountStore) SaveAccount(ctx context.Context, account *model.AccountSnapshot) error {
	args := m.Called(ctx, account)
	return args.Error(0)
}

// ListAccounts 列出账户的模拟实现
func (m *MockAccountStore) ListAccounts(ctx context.Context) ([]model.AccountSnapshot, error) {
	args := m.Called(ctx)
	accounts, _ := args.Get(0).([]model.AccountSnapshot)
	return accounts, args.Error(1)
}

// MockTradeRecorder 成交记录写入的模拟实现
type MockTradeRecorder struct {
	mock.Mock
}

// AppendTrade 追加成交记录的模拟实现
func (m *MockTradeRecorder) AppendTrade(ctx context.Context, subject string, trade model.TradeRecord) error {
	args := m.Called(ctx, subject, trade)
	return args.Error(0)
}
