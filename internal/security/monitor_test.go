package security

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/life2you_mini/basisgate/internal/config"
	"github.com/life2you_mini/basisgate/internal/model"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestMonitor(t *testing.T, mutate func(cfg *config.SecurityConfig)) (*SecurityMonitor, *fakeClock) {
	t.Helper()
	cfg := config.GetDefaultConfig().Security
	if mutate != nil {
		mutate(&cfg)
	}
	clock := &fakeClock{now: time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)}
	return NewSecurityMonitor(cfg, zaptest.NewLogger(t), WithClock(clock.Now)), clock
}

func TestSecurityMonitor_KillSwitchBlocksGatedOperations(t *testing.T) {
	m, _ := newTestMonitor(t, nil)

	require.NoError(t, m.RecordTrade(model.TradeLogEntry{AccountID: "a1", Amount: 100}))
	assert.True(t, m.CheckRateLimit("a1"))

	m.ActivateKillSwitch("人工停止")
	assert.True(t, m.IsHalted())

	for _, account := range []string{"a1", "a2", ""} {
		err := m.RecordTrade(model.TradeLogEntry{AccountID: account, Amount: 1})
		assert.ErrorIs(t, err, model.ErrSystemHalted)

		_, err = m.DailyVolume(account)
		assert.ErrorIs(t, err, model.ErrSystemHalted)

		assert.False(t, m.CheckRateLimit(account))
	}

	incidents := m.RecentIncidents(0)
	require.Len(t, incidents, 1)
	assert.Equal(t, model.IncidentKillSwitchActivation, incidents[0].Type)
	assert.Equal(t, model.RiskLevelHigh, incidents[0].RiskLevel)
	assert.Equal(t, model.IncidentActive, incidents[0].Status)
}

func TestSecurityMonitor_ActivateTwiceIsNoop(t *testing.T) {
	m, _ := newTestMonitor(t, nil)

	m.ActivateKillSwitch("第一次")
	m.ActivateKillSwitch("第二次")

	assert.Equal(t, "第一次", m.KillSwitch().Reason)
	assert.Len(t, m.RecentIncidents(0), 1)
}

func TestSecurityMonitor_DeactivationRejectedWhileRiskHigh(t *testing.T) {
	m, clock := newTestMonitor(t, func(cfg *config.SecurityConfig) {
		cfg.HighIncidentWeight = 1.0
	})

	// 全部为高风险事件，评分为1.0
	m.ActivateKillSwitch("人工停止")
	assert.Equal(t, model.RiskLevelHigh, m.RecomputeSystemRisk())

	err := m.DeactivateKillSwitch("尝试恢复")
	assert.ErrorIs(t, err, model.ErrRiskTooHigh)
	assert.True(t, m.IsHalted())

	// 事件移出24小时窗口后风险回落
	clock.Advance(25 * time.Hour)
	assert.Equal(t, model.RiskLevelLow, m.RecomputeSystemRisk())

	require.NoError(t, m.DeactivateKillSwitch("风险已回落"))
	assert.False(t, m.IsHalted())

	incidents := m.RecentIncidents(0)
	assert.Equal(t, model.IncidentKillSwitchDeactivation, incidents[0].Type)
	assert.Equal(t, model.RiskLevelLow, incidents[0].RiskLevel)
	assert.Equal(t, model.IncidentResolved, incidents[0].Status)
}

func TestSecurityMonitor_DeactivateWhenInactive(t *testing.T) {
	m, _ := newTestMonitor(t, nil)

	require.NoError(t, m.DeactivateKillSwitch("无操作"))
	assert.Empty(t, m.RecentIncidents(0))
}

func TestSecurityMonitor_HighRiskAutoActivatesKillSwitch(t *testing.T) {
	m, _ := newTestMonitor(t, func(cfg *config.SecurityConfig) {
		cfg.HighIncidentWeight = 1.0
		cfg.ProfitVarianceThreshold = 10
	})

	require.NoError(t, m.RecordTrade(model.TradeLogEntry{AccountID: "a1", Profit: 0}))
	require.NoError(t, m.RecordTrade(model.TradeLogEntry{AccountID: "a1", Profit: 100, Timestamp: time.Date(2026, 10, 1, 12, 1, 0, 0, time.UTC)}))
	assert.True(t, m.DetectSuspiciousActivity("a1"))

	assert.Equal(t, model.RiskLevelHigh, m.RecomputeSystemRisk())
	assert.True(t, m.IsHalted())
	assert.Contains(t, m.KillSwitch().Reason, "自动停止交易")
}

func TestSecurityMonitor_RecomputeSystemRisk(t *testing.T) {
	tests := []struct {
		name       string
		highWeight float64
		medWeight  float64
		high       int
		medium     int
		low        int
		expected   model.RiskLevel
	}{
		{
			name:       "无事件为低风险",
			highWeight: 0.3, medWeight: 0.1,
			expected: model.RiskLevelLow,
		},
		{
			name:       "默认权重下评分上限为0.3",
			highWeight: 0.3, medWeight: 0.1,
			high:     5,
			expected: model.RiskLevelLow,
		},
		{
			name:       "调高权重后达到中风险",
			highWeight: 1.0, medWeight: 0.5,
			high: 1, medium: 1, low: 1,
			expected: model.RiskLevelMedium,
		},
		{
			name:       "调高权重后达到高风险",
			highWeight: 1.0, medWeight: 0.5,
			high: 4, medium: 1,
			expected: model.RiskLevelHigh,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _ := newTestMonitor(t, func(cfg *config.SecurityConfig) {
				cfg.HighIncidentWeight = tt.highWeight
				cfg.MediumIncidentWeight = tt.medWeight
			})

			m.mu.Lock()
			for i := 0; i < tt.high; i++ {
				m.logIncidentLocked("test", "high", model.RiskLevelHigh, model.IncidentActive, "")
			}
			for i := 0; i < tt.medium; i++ {
				m.logIncidentLocked("test", "medium", model.RiskLevelMedium, model.IncidentActive, "")
			}
			for i := 0; i < tt.low; i++ {
				m.logIncidentLocked("test", "low", model.RiskLevelLow, model.IncidentResolved, "")
			}
			m.mu.Unlock()

			assert.Equal(t, tt.expected, m.RecomputeSystemRisk())
			assert.Equal(t, tt.expected, m.SystemRiskLevel())
		})
	}
}

func TestSecurityMonitor_DetectRapidTrading(t *testing.T) {
	m, clock := newTestMonitor(t, nil)

	// 10 笔交易在2秒内完成
	for i := 0; i < 10; i++ {
		require.NoError(t, m.RecordTrade(model.TradeLogEntry{AccountID: "a1", Amount: 100, Profit: 5}))
		clock.Advance(200 * time.Millisecond)
	}

	assert.True(t, m.DetectSuspiciousActivity("a1"))

	incidents := m.RecentIncidents(0)
	require.Len(t, incidents, 1)
	assert.Equal(t, model.IncidentRapidTrading, incidents[0].Type)
	assert.Equal(t, model.RiskLevelMedium, incidents[0].RiskLevel)
	assert.Equal(t, "a1", incidents[0].AccountID)

	// 其他账户不受影响
	assert.False(t, m.DetectSuspiciousActivity("a2"))
}

func TestSecurityMonitor_DetectProfitVariance(t *testing.T) {
	m, clock := newTestMonitor(t, nil)

	// 收益交替为0和100，方差2500
	for i := 0; i < 10; i++ {
		require.NoError(t, m.RecordTrade(model.TradeLogEntry{AccountID: "a1", Profit: float64((i % 2) * 100)}))
		clock.Advance(time.Minute)
	}

	assert.True(t, m.DetectSuspiciousActivity("a1"))
	incidents := m.RecentIncidents(0)
	require.Len(t, incidents, 1)
	assert.Equal(t, model.IncidentSuspiciousProfitVariance, incidents[0].Type)
	assert.Equal(t, model.RiskLevelHigh, incidents[0].RiskLevel)
}

func TestSecurityMonitor_VarianceAndRapidTradingLogsOneIncident(t *testing.T) {
	m, clock := newTestMonitor(t, nil)

	// 收益方差过大且交易过密，只记录方差异常
	for i := 0; i < 10; i++ {
		require.NoError(t, m.RecordTrade(model.TradeLogEntry{AccountID: "a1", Profit: float64((i % 2) * 100)}))
		clock.Advance(100 * time.Millisecond)
	}

	assert.True(t, m.DetectSuspiciousActivity("a1"))
	incidents := m.RecentIncidents(0)
	require.Len(t, incidents, 1)
	assert.Equal(t, model.IncidentSuspiciousProfitVariance, incidents[0].Type)
}

func TestSecurityMonitor_OutOfOrderTimestampsNotRapid(t *testing.T) {
	m, _ := newTestMonitor(t, nil)
	base := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

	// 时间戳倒序写入，间隔1分钟
	for i := 0; i < 5; i++ {
		ts := base.Add(time.Duration(5-i) * time.Minute)
		require.NoError(t, m.RecordTrade(model.TradeLogEntry{AccountID: "a1", Profit: 10, Timestamp: ts}))
	}

	assert.False(t, m.DetectSuspiciousActivity("a1"))
	assert.Empty(t, m.RecentIncidents(0))
}

func TestSecurityMonitor_NormalTradingNotSuspicious(t *testing.T) {
	m, clock := newTestMonitor(t, nil)

	for i := 0; i < 15; i++ {
		require.NoError(t, m.RecordTrade(model.TradeLogEntry{AccountID: "a1", Profit: 10 + float64(i)}))
		clock.Advance(30 * time.Second)
	}

	assert.False(t, m.DetectSuspiciousActivity("a1"))
	assert.Empty(t, m.RecentIncidents(0))
}

func TestSecurityMonitor_CheckRateLimit(t *testing.T) {
	m, clock := newTestMonitor(t, nil)

	for i := 0; i < 10; i++ {
		assert.True(t, m.CheckRateLimit("a1"), "第%d次请求应通过", i+1)
		clock.Advance(time.Second)
	}
	assert.False(t, m.CheckRateLimit("a1"))
	assert.True(t, m.CheckRateLimit("a2"))

	incidents := m.RecentIncidents(0)
	require.Len(t, incidents, 1)
	assert.Equal(t, model.IncidentRateLimitExceeded, incidents[0].Type)
	assert.Equal(t, model.RiskLevelMedium, incidents[0].RiskLevel)

	// 窗口滑过最早的请求后恢复
	clock.Advance(51 * time.Second)
	assert.True(t, m.CheckRateLimit("a1"))
}

func TestSecurityMonitor_DailyVolumeTrailingWindow(t *testing.T) {
	m, clock := newTestMonitor(t, nil)

	require.NoError(t, m.RecordTrade(model.TradeLogEntry{AccountID: "a1", Amount: 1000}))
	clock.Advance(23 * time.Hour)
	require.NoError(t, m.RecordTrade(model.TradeLogEntry{AccountID: "a1", Amount: 500}))
	require.NoError(t, m.RecordTrade(model.TradeLogEntry{AccountID: "a2", Amount: 700}))

	volume, err := m.DailyVolume("a1")
	require.NoError(t, err)
	assert.InDelta(t, 1500, volume, 1e-9)

	clock.Advance(2 * time.Hour)
	volume, err = m.DailyVolume("a1")
	require.NoError(t, err)
	assert.InDelta(t, 500, volume, 1e-9)
}

func TestSecurityMonitor_BoundedLogs(t *testing.T) {
	m, _ := newTestMonitor(t, func(cfg *config.SecurityConfig) {
		cfg.LogCapacity = 5
		cfg.RateLimitMaxRequests = 1
	})

	for i := 0; i < 8; i++ {
		require.NoError(t, m.RecordTrade(model.TradeLogEntry{AccountID: "a1", Amount: 1}))
	}
	m.CheckRateLimit("a1")
	for i := 0; i < 7; i++ {
		m.CheckRateLimit("a1")
	}

	status := m.Status()
	assert.Equal(t, 5, status.TradeCount)
	assert.Equal(t, 5, status.IncidentCount)
	assert.Equal(t, 5, status.LogCapacity)
	assert.Len(t, m.RecentIncidents(3), 3)
}

type chanSink struct {
	ch  chan model.SecurityIncident
	err error
}

func (s *chanSink) StoreIncident(ctx context.Context, incident model.SecurityIncident) error {
	s.ch <- incident
	return s.err
}

func TestSecurityMonitor_RunPersistsIncidentsAndStops(t *testing.T) {
	cfg := config.GetDefaultConfig().Security
	cfg.RecomputeIntervalSeconds = 1
	sink := &chanSink{ch: make(chan model.SecurityIncident, 4), err: errors.New("redis down")}
	m := NewSecurityMonitor(cfg, zaptest.NewLogger(t), WithIncidentSink(sink))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	m.ActivateKillSwitch("测试")

	select {
	case incident := <-sink.ch:
		assert.Equal(t, model.IncidentKillSwitchActivation, incident.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("事件未被持久化")
	}

	// 持久化失败不影响内存状态
	assert.True(t, m.IsHalted())
	assert.Len(t, m.RecentIncidents(0), 1)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("安全监控未能停止")
	}
}
