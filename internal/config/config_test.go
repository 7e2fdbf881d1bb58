package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
scanner:
  min_annualized_return_pct: 8
  synthetic_venues: ["dex", "uniswap"]
limits:
  max_daily_volume: 500000
security:
  rate_limit_max_requests: 20
risk_metrics:
  subjects: ["acct-1", "acct-2"]
  venue_ratings:
    kraken: 0.7
feed:
  mode: ccxt
  instruments:
    - token: BTC
      spot_venue: binance
      spot_symbol: BTC/USDT
      futures_venue: okx
      futures_symbol: BTC/USD:BTC-261225
      expiry: "2026-12-25T08:00:00Z"
      category: cex
redis:
  host: redis.internal
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadConfig_OverlaysDefaults(t *testing.T) {
	t.Setenv("API_TOKEN", "secret-token")

	cfg, err := LoadConfig(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, 8.0, cfg.Scanner.MinAnnualizedReturnPct)
	assert.Equal(t, []string{"dex", "uniswap"}, cfg.Scanner.SyntheticVenues)
	// 未配置的字段保持默认值
	assert.Equal(t, 100000.0, cfg.Scanner.MaxPositionSize)
	assert.Equal(t, 0.8, cfg.Scanner.MaxRiskScore)
	assert.Equal(t, 500000.0, cfg.Limits.MaxDailyVolume)
	assert.Equal(t, 3.0, cfg.Limits.MaxLeverage)
	assert.Equal(t, 20, cfg.Security.RateLimitMaxRequests)
	assert.Equal(t, 60, cfg.Security.RateLimitWindowSeconds)
	assert.Equal(t, []string{"acct-1", "acct-2"}, cfg.RiskMetrics.Subjects)
	assert.Equal(t, 0.7, cfg.RiskMetrics.VenueRatings["kraken"])
	assert.Equal(t, 0.8, cfg.RiskMetrics.Thresholds.Position)
	assert.Equal(t, "redis.internal", cfg.Redis.Host)
	assert.Equal(t, 6379, cfg.Redis.Port)
	assert.Equal(t, "secret-token", cfg.API.Token)

	require.Len(t, cfg.Feed.Instruments, 1)
	expiry, err := cfg.Feed.Instruments[0].ExpiryTime()
	require.NoError(t, err)
	assert.Equal(t, 2026, expiry.Year())
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{
			name:    "默认配置有效",
			mutate:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "风险评分上限超过1",
			mutate:  func(c *Config) { c.Scanner.MaxRiskScore = 1.5 },
			wantErr: true,
		},
		{
			name:    "杠杆小于1",
			mutate:  func(c *Config) { c.Scanner.LeverageMultiple = 0.5 },
			wantErr: true,
		},
		{
			name:    "限流次数为0",
			mutate:  func(c *Config) { c.Security.RateLimitMaxRequests = 0 },
			wantErr: true,
		},
		{
			name:    "websocket模式缺少地址",
			mutate:  func(c *Config) { c.Feed.Mode = FeedModeWebsocket },
			wantErr: true,
		},
		{
			name: "合约交割时间格式错误",
			mutate: func(c *Config) {
				c.Feed.Instruments = []InstrumentConfig{{Token: "BTC", SpotSymbol: "BTC/USDT", FuturesSymbol: "BTC-1225", Expiry: "next friday"}}
			},
			wantErr: true,
		},
		{
			name:    "未知执行方",
			mutate:  func(c *Config) { c.Dispatcher.Mode = "live" },
			wantErr: true,
		},
		{
			name:    "系统风险重算周期为0",
			mutate:  func(c *Config) { c.Security.RecomputeIntervalSeconds = 0 },
			wantErr: true,
		},
		{
			name:    "成交记录上限为负",
			mutate:  func(c *Config) { c.RiskMetrics.TradeHistoryLimit = -1 },
			wantErr: true,
		},
		{
			name: "redis执行方超时为0",
			mutate: func(c *Config) {
				c.Dispatcher.Mode = DispatcherModeRedis
				c.Dispatcher.TimeoutSeconds = 0
			},
			wantErr: true,
		},
		{
			name:    "模拟执行方不要求超时",
			mutate:  func(c *Config) { c.Dispatcher.TimeoutSeconds = 0 },
			wantErr: false,
		},
		{
			name:    "中风险阈值高于高风险阈值",
			mutate:  func(c *Config) { c.Security.MediumRiskThreshold = 0.9 },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := GetDefaultConfig()
			tt.mutate(cfg)
			err := validateConfig(cfg)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSaveConfigToFile_StripsSecrets(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Redis.Password = "redis-pass"
	cfg.API.Token = "api-token"
	cfg.Limits.MaxDailyVolume = 250000

	path := filepath.Join(t.TempDir(), "out.yaml")
	require.NoError(t, SaveConfigToFile(cfg, path))

	loaded, err := LoadConfigFromYAML(path)
	require.NoError(t, err)
	assert.Equal(t, 250000.0, loaded.Limits.MaxDailyVolume)
	assert.Empty(t, loaded.Redis.Password)
	assert.Empty(t, loaded.API.Token)
	// 原配置不被修改
	assert.Equal(t, "redis-pass", cfg.Redis.Password)
}

func TestLoadConfigFromYAML_RejectsInvalidValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("security:\n  recompute_interval_seconds: 0\n"), 0644))

	_, err := LoadConfigFromYAML(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "配置验证失败")
}
