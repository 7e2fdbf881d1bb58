package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockVenueClient 场所行情接口的模拟实现
type MockVenueClient struct {
	mock.Mock
}

// Name 场所名称
func (m *MockVenueClient) Name() string {
	args := m.Called()
	return args.String(0)
}

// FetchLastPrice 获取最新价的模拟实现
func (m *MockVenueClient) FetchLastPrice(ctx context.Context, symbol string) (float64, error) {
	args := m.Called(ctx, symbol)
	return args.Get(0).(float64), args.Error(1)
}

// FetchFundingRate 获取资金费率的模拟实现
func (m *MockVenueClient) FetchFundingRate(ctx context.Context, symbol string) (float64, error) {
	args := m.Called(ctx, symbol)
	return args.Get(0).(float64), args.Error(1)
}
