package monitor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/life2you_mini/basisgate/internal/mocks"
	"github.com/life2you_mini/basisgate/internal/model"
)

func TestBasisMonitor_RunCycle(t *testing.T) {
	source := new(mocks.MockQuoteSource)
	publisher := new(mocks.MockOpportunityPublisher)
	handler := new(mocks.MockOpportunityHandler)

	source.On("FetchQuotes", mock.Anything).Return([]model.MarketQuote{
		quote("BTC", 30000, 30900, 0.0002, 30, "binance", "okx", model.CategoryCEX),
		quote("ETH", 0, 2000, 0, 30, "binance", "okx", model.CategoryCEX),
	}, nil)
	publisher.On("StoreOpportunities", mock.Anything, mock.MatchedBy(func(opps []model.BasisOpportunity) bool {
		return len(opps) == 1 && opps[0].Token == "BTC"
	})).Return(nil)
	handler.On("HandleOpportunities", mock.Anything, mock.Anything).Return(nil)

	m := NewBasisMonitor(defaultScanner(), source, time.Minute, zaptest.NewLogger(t),
		WithPublisher(publisher),
		WithHandler(handler),
		WithMonitorClock(func() time.Time { return scanNow }))

	opps, err := m.RunCycle(context.Background())
	require.NoError(t, err)
	require.Len(t, opps, 1)

	latest, at := m.Latest()
	assert.Equal(t, opps, latest)
	assert.Equal(t, scanNow, at)

	publisher.AssertExpectations(t)
	handler.AssertExpectations(t)
}

func TestBasisMonitor_FeedErrorIsInfrastructure(t *testing.T) {
	source := new(mocks.MockQuoteSource)
	handler := new(mocks.MockOpportunityHandler)
	source.On("FetchQuotes", mock.Anything).Return(nil, errors.New("timeout"))

	m := NewBasisMonitor(defaultScanner(), source, time.Minute, zaptest.NewLogger(t), WithHandler(handler))

	_, err := m.RunCycle(context.Background())
	require.Error(t, err)
	assert.True(t, model.IsInfrastructure(err))
	handler.AssertNotCalled(t, "HandleOpportunities", mock.Anything, mock.Anything)
}

func TestBasisMonitor_PublishFailureDoesNotBlockHandler(t *testing.T) {
	source := new(mocks.MockQuoteSource)
	publisher := new(mocks.MockOpportunityPublisher)
	handler := new(mocks.MockOpportunityHandler)

	source.On("FetchQuotes", mock.Anything).Return([]model.MarketQuote{
		quote("BTC", 30000, 30900, 0.0002, 30, "binance", "okx", model.CategoryCEX),
	}, nil)
	publisher.On("StoreOpportunities", mock.Anything, mock.Anything).Return(errors.New("redis down"))
	handler.On("HandleOpportunities", mock.Anything, mock.Anything).Return(nil)

	m := NewBasisMonitor(defaultScanner(), source, time.Minute, zaptest.NewLogger(t),
		WithPublisher(publisher),
		WithHandler(handler),
		WithMonitorClock(func() time.Time { return scanNow }))

	_, err := m.RunCycle(context.Background())
	require.NoError(t, err)
	handler.AssertNumberOfCalls(t, "HandleOpportunities", 1)
}

func TestBasisMonitor_RunStopsOnCancel(t *testing.T) {
	source := new(mocks.MockQuoteSource)
	source.On("FetchQuotes", mock.Anything).Return([]model.MarketQuote{}, nil)

	m := NewBasisMonitor(defaultScanner(), source, 10*time.Millisecond, zaptest.NewLogger(t))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("监控未能在取消后退出")
	}
	assert.GreaterOrEqual(t, len(source.Calls), 2)
}
