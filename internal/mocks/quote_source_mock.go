package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/life2you_mini/basisgate/internal/model"
)

// MockQuoteSource 行情源的模拟实现
type MockQuoteSource struct {
	mock.Mock
}

// FetchQuotes 获取报价的模拟实现
func (m *MockQuoteSource) FetchQuotes(ctx context.Context) ([]model.MarketQuote, error) {
	args := m.Called(ctx)
	quotes, _ := args.Get(0).([]model.MarketQuote)
	return quotes, args.Error(1)
}

// MockOpportunityPublisher 结果发布的模拟实现
type MockOpportunityPublisher struct {
	mock.Mock
}

// StoreOpportunities 发布机会的模拟实现
func (m *MockOpportunityPublisher) StoreOpportunities(ctx context.Context, opps []model.BasisOpportunity) error {
	args := m.Called(ctx, opps)
	return args.Error(0)
}

// MockOpportunityHandler 机会处理的模拟实现
type MockOpportunityHandler struct {
	mock.Mock
}

// HandleOpportunities 处理机会的模拟实现
func (m *MockOpportunityHandler) HandleOpportunities(ctx context.Context, opps []model.BasisOpportunity) error {
	args := m.Called(ctx, opps)
	return args.Error(0)
}
