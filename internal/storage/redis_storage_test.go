package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/life2you_mini/basisgate/internal/model"
)

const testPrefix = "test:"

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func newTestStorage(t *testing.T) (*miniredis.Miniredis, *RedisStorage) {
	t.Helper()
	mr, client := newTestRedis(t)
	return mr, NewRedisStorage(client, testPrefix, zaptest.NewLogger(t))
}

var storeNow = time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

func TestRedisStorage_Initialize(t *testing.T) {
	_, s := newTestStorage(t)
	ctx := context.Background()

	require.NoError(t, s.Initialize(ctx))
	require.NoError(t, s.Health(ctx))
}

func TestRedisStorage_RiskMetrics(t *testing.T) {
	mr, s := newTestStorage(t)
	ctx := context.Background()

	_, err := s.GetLatestRiskMetrics(ctx, "acct-1")
	assert.ErrorIs(t, err, model.ErrNotFound)

	metrics := &model.RiskMetrics{
		ID:         "m-1",
		Subject:    "acct-1",
		Factors:    map[string]float64{model.FactorAvgLeverage: 2.5},
		Thresholds: model.DefaultRiskThresholds(),
		Timestamp:  storeNow,
	}
	require.NoError(t, s.StoreRiskMetrics(ctx, metrics))
	assert.True(t, mr.Exists(testPrefix+"risk:metrics:acct-1"))
	assert.Positive(t, mr.TTL(testPrefix+"risk:metrics:acct-1"))

	got, err := s.GetLatestRiskMetrics(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, "m-1", got.ID)
	assert.Equal(t, 2.5, got.Factors[model.FactorAvgLeverage])
	assert.Equal(t, model.DefaultRiskThresholds(), got.Thresholds)
}

func TestRedisStorage_RiskHistory(t *testing.T) {
	_, s := newTestStorage(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		var rows []model.RiskMetricsHistory
		for _, period := range model.ReportPeriods {
			rows = append(rows, model.RiskMetricsHistory{
				Subject:   "acct-1",
				Period:    period,
				Values:    map[string]float64{model.FactorMaxLeverage: float64(i)},
				Timestamp: storeNow.Add(time.Duration(i) * time.Minute),
			})
		}
		require.NoError(t, s.AppendRiskHistory(ctx, rows))
	}

	for _, period := range model.ReportPeriods {
		rows, err := s.GetRiskHistory(ctx, "acct-1", period, 10)
		require.NoError(t, err)
		require.Len(t, rows, 3)
		// 最新的在前
		assert.Equal(t, 2.0, rows[0].Values[model.FactorMaxLeverage])
		assert.Equal(t, period, rows[0].Period)
	}
}

func TestRedisStorage_IncidentsAreBounded(t *testing.T) {
	_, s := newTestStorage(t)
	ctx := context.Background()

	for i := 0; i < maxIncidents+5; i++ {
		require.NoError(t, s.StoreIncident(ctx, model.SecurityIncident{
			ID:        fmt.Sprintf("inc-%d", i),
			Type:      model.IncidentRateLimitExceeded,
			RiskLevel: model.RiskLevelMedium,
			Status:    model.IncidentActive,
			Timestamp: storeNow,
		}))
	}

	all, err := s.GetIncidents(ctx, maxIncidents*2)
	require.NoError(t, err)
	assert.Len(t, all, maxIncidents)
	assert.Equal(t, fmt.Sprintf("inc-%d", maxIncidents+4), all[0].ID)

	recent, err := s.GetIncidents(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, recent, 100)
}

func TestRedisStorage_Opportunities(t *testing.T) {
	mr, s := newTestStorage(t)
	ctx := context.Background()

	opps, err := s.GetOpportunities(ctx)
	require.NoError(t, err)
	assert.Empty(t, opps)

	stored := []model.BasisOpportunity{
		{Token: "BTC", SourceVenue: "binance", TargetVenue: "okx", RiskScore: 0.5},
		{Token: "ETH", SourceVenue: "okx", TargetVenue: "bybit", RiskScore: 0.6},
	}
	require.NoError(t, s.StoreOpportunities(ctx, stored))

	opps, err = s.GetOpportunities(ctx)
	require.NoError(t, err)
	require.Len(t, opps, 2)
	assert.Equal(t, "BTC", opps[0].Token)

	members, err := mr.ZMembers(testPrefix + keyOpportunitiesHistory)
	require.NoError(t, err)
	assert.Len(t, members, 1)
}

func TestRedisStorage_Accounts(t *testing.T) {
	_, s := newTestStorage(t)
	ctx := context.Background()

	_, err := s.GetAccount(ctx, "missing")
	assert.ErrorIs(t, err, model.ErrNotFound)

	for _, id := range []string{"acct-2", "acct-1"} {
		require.NoError(t, s.SaveAccount(ctx, &model.AccountSnapshot{
			ID:           id,
			SpotBalances: map[string]float64{"USDT": 1000},
			RiskLevel:    model.RiskLevelLow,
		}))
	}

	account, err := s.GetAccount(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, 1000.0, account.SpotBalances["USDT"])

	account.LastActivityTime = storeNow
	require.NoError(t, s.SaveAccount(ctx, account))

	accounts, err := s.ListAccounts(ctx)
	require.NoError(t, err)
	require.Len(t, accounts, 2)
	assert.Equal(t, "acct-1", accounts[0].ID)
	assert.True(t, accounts[0].LastActivityTime.Equal(storeNow))
}

func TestRedisStorage_Snapshots(t *testing.T) {
	_, s := newTestStorage(t)
	ctx := context.Background()

	positions, err := s.GetPositions(ctx, "acct-1")
	require.NoError(t, err)
	assert.Empty(t, positions, "缺失的快照按空处理")

	require.NoError(t, s.SavePositions(ctx, "acct-1", []model.PositionSnapshot{
		{Size: 1, Leverage: 3, CurrentPrice: 30000, Venue: "binance"},
	}))
	positions, err = s.GetPositions(ctx, "acct-1")
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, "binance", positions[0].Venue)

	for i := 0; i < 5; i++ {
		require.NoError(t, s.AppendTrade(ctx, "acct-1", model.TradeRecord{
			ID:     fmt.Sprintf("t-%d", i),
			Status: model.TradeStatusClosed,
		}))
	}
	trades, err := s.GetTrades(ctx, "acct-1", 3)
	require.NoError(t, err)
	require.Len(t, trades, 3)
	assert.Equal(t, "t-4", trades[0].ID)

	all, err := s.GetTrades(ctx, "acct-1", 0)
	require.NoError(t, err)
	assert.Len(t, all, 5)
}

func TestQueueDispatcher_RoundTrip(t *testing.T) {
	_, client := newTestRedis(t)
	d := NewQueueDispatcher(client, testPrefix, "dispatch:requests", 2*time.Second, zaptest.NewLogger(t))

	ctx := context.Background()
	workerErr := make(chan error, 1)
	go func() {
		raw, err := client.BRPop(ctx, 2*time.Second, d.RequestKey()).Result()
		if err != nil {
			workerErr <- err
			return
		}
		var req DispatchRequest
		if err := json.Unmarshal([]byte(raw[1]), &req); err != nil {
			workerErr <- err
			return
		}
		workerErr <- Reply(ctx, client, req, model.TradeResult{
			Success:    true,
			Profit:     req.Opportunity.EstimatedProfit,
			Commission: 1.5,
			Timestamp:  storeNow,
		})
	}()

	result, err := d.Execute(ctx,
		model.BasisOpportunity{Token: "BTC", EstimatedProfit: 42},
		model.AccountSnapshot{ID: "acct-1"})
	require.NoError(t, err)
	require.NoError(t, <-workerErr)

	assert.True(t, result.Success)
	assert.Equal(t, 42.0, result.Profit)
	assert.Equal(t, 1.5, result.Commission)
}

func TestQueueDispatcher_Timeout(t *testing.T) {
	_, client := newTestRedis(t)
	d := NewQueueDispatcher(client, testPrefix, "dispatch:requests", time.Second, zaptest.NewLogger(t))

	_, err := d.Execute(context.Background(), model.BasisOpportunity{Token: "BTC"}, model.AccountSnapshot{ID: "acct-1"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDispatchTimeout)

	n, lerr := client.LLen(context.Background(), d.RequestKey()).Result()
	require.NoError(t, lerr)
	assert.Equal(t, int64(1), n)
}
