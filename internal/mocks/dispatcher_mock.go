package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/life2you_mini/basisgate/internal/model"
)

// MockDispatcher 交易执行方的模拟实现
type MockDispatcher struct {
	mock.Mock
}

// Execute 执行交易的模拟实现
func (m *MockDispatcher) Execute(ctx context.Context, opp model.BasisOpportunity, account model.AccountSnapshot) (model.TradeResult, error) {
	args := m.Called(ctx, opp, account)
	return args.Get(0).(model.TradeResult), args.Error(1)
}
