package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/life2you_mini/basisgate/internal/model"
)

// Config 应用配置结构
type Config struct {
	Scanner     ScannerConfig     `mapstructure:"scanner" yaml:"scanner"`
	Limits      LimitsConfig      `mapstructure:"limits" yaml:"limits"`
	Security    SecurityConfig    `mapstructure:"security" yaml:"security"`
	RiskMetrics RiskMetricsConfig `mapstructure:"risk_metrics" yaml:"risk_metrics"`
	Feed        FeedConfig        `mapstructure:"feed" yaml:"feed"`
	Dispatcher  DispatcherConfig  `mapstructure:"dispatcher" yaml:"dispatcher"`
	Redis       RedisConfig       `mapstructure:"redis" yaml:"redis"`
	Postgres    PostgresConfig    `mapstructure:"postgres" yaml:"postgres"`
	API         APIConfig         `mapstructure:"api" yaml:"api"`
	System      SystemConfig      `mapstructure:"system" yaml:"system"`
}

// ScannerConfig 基差机会扫描配置
type ScannerConfig struct {
	MinAnnualizedReturnPct float64  `mapstructure:"min_annualized_return_pct" yaml:"min_annualized_return_pct"`
	MaxPositionSize        float64  `mapstructure:"max_position_size" yaml:"max_position_size"`
	LeverageMultiple       float64  `mapstructure:"leverage_multiple" yaml:"leverage_multiple"`
	MaxRiskScore           float64  `mapstructure:"max_risk_score" yaml:"max_risk_score"`
	LotPrecision           int32    `mapstructure:"lot_precision" yaml:"lot_precision"` // 小数位数
	SpotFeeRate            float64  `mapstructure:"spot_fee_rate" yaml:"spot_fee_rate"`
	FuturesFeeRate         float64  `mapstructure:"futures_fee_rate" yaml:"futures_fee_rate"`
	SyntheticVenues        []string `mapstructure:"synthetic_venues" yaml:"synthetic_venues"` // 允许同场所配对的场所
	ScanIntervalSeconds    int      `mapstructure:"scan_interval_seconds" yaml:"scan_interval_seconds"`
}

// ScanInterval 扫描周期
func (c ScannerConfig) ScanInterval() time.Duration {
	return time.Duration(c.ScanIntervalSeconds) * time.Second
}

// LimitsConfig 准入静态限额
type LimitsConfig struct {
	MaxDailyVolume  float64 `mapstructure:"max_daily_volume" yaml:"max_daily_volume"`
	MaxPositionSize float64 `mapstructure:"max_position_size" yaml:"max_position_size"`
	MaxLeverage     float64 `mapstructure:"max_leverage" yaml:"max_leverage"`
	TradeLeverage   float64 `mapstructure:"trade_leverage" yaml:"trade_leverage"` // 提交交易时使用的杠杆
}

// SecurityConfig 安全监控配置
type SecurityConfig struct {
	LogCapacity              int     `mapstructure:"log_capacity" yaml:"log_capacity"`
	RateLimitMaxRequests     int     `mapstructure:"rate_limit_max_requests" yaml:"rate_limit_max_requests"`
	RateLimitWindowSeconds   int     `mapstructure:"rate_limit_window_seconds" yaml:"rate_limit_window_seconds"`
	ProfitVarianceThreshold  float64 `mapstructure:"profit_variance_threshold" yaml:"profit_variance_threshold"`
	MinTradeIntervalMillis   int     `mapstructure:"min_trade_interval_millis" yaml:"min_trade_interval_millis"`
	SuspiciousWindow         int     `mapstructure:"suspicious_window" yaml:"suspicious_window"` // 异常检测检查的最近交易数
	RecomputeIntervalSeconds int     `mapstructure:"recompute_interval_seconds" yaml:"recompute_interval_seconds"`
	HighIncidentWeight       float64 `mapstructure:"high_incident_weight" yaml:"high_incident_weight"`
	MediumIncidentWeight     float64 `mapstructure:"medium_incident_weight" yaml:"medium_incident_weight"`
	HighRiskThreshold        float64 `mapstructure:"high_risk_threshold" yaml:"high_risk_threshold"`
	MediumRiskThreshold      float64 `mapstructure:"medium_risk_threshold" yaml:"medium_risk_threshold"`
}

// RateLimitWindow 限流窗口长度
func (c SecurityConfig) RateLimitWindow() time.Duration {
	return time.Duration(c.RateLimitWindowSeconds) * time.Second
}

// MinTradeInterval 平均交易间隔下限
func (c SecurityConfig) MinTradeInterval() time.Duration {
	return time.Duration(c.MinTradeIntervalMillis) * time.Millisecond
}

// RecomputeInterval 系统风险重算周期
func (c SecurityConfig) RecomputeInterval() time.Duration {
	return time.Duration(c.RecomputeIntervalSeconds) * time.Second
}

// RiskMetricsConfig 风险指标服务配置
type RiskMetricsConfig struct {
	IntervalSeconds     int                  `mapstructure:"interval_seconds" yaml:"interval_seconds"`
	Subjects            []string             `mapstructure:"subjects" yaml:"subjects"`
	MarketDepthMultiple float64              `mapstructure:"market_depth_multiple" yaml:"market_depth_multiple"`
	VenueRatings        map[string]float64   `mapstructure:"venue_ratings" yaml:"venue_ratings"`
	DefaultVenueRating  float64              `mapstructure:"default_venue_rating" yaml:"default_venue_rating"`
	TradeHistoryLimit   int                  `mapstructure:"trade_history_limit" yaml:"trade_history_limit"`
	Thresholds          model.RiskThresholds `mapstructure:"thresholds" yaml:"thresholds"`
}

// Interval 重算周期
func (c RiskMetricsConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

// 行情来源
const (
	FeedModeCCXT      = "ccxt"
	FeedModeWebsocket = "websocket"
)

// FeedConfig 行情源配置
type FeedConfig struct {
	Mode              string             `mapstructure:"mode" yaml:"mode"`
	WSURL             string             `mapstructure:"ws_url" yaml:"ws_url"`
	ReconnectSeconds  int                `mapstructure:"reconnect_seconds" yaml:"reconnect_seconds"`
	StaleAfterSeconds int                `mapstructure:"stale_after_seconds" yaml:"stale_after_seconds"`
	RequestsPerSecond float64            `mapstructure:"requests_per_second" yaml:"requests_per_second"` // 每个场所
	Burst             int                `mapstructure:"burst" yaml:"burst"`
	Instruments       []InstrumentConfig `mapstructure:"instruments" yaml:"instruments"`
}

// InstrumentConfig 需要轮询的一组现货/期货合约
type InstrumentConfig struct {
	Token         string `mapstructure:"token" yaml:"token"`
	SpotVenue     string `mapstructure:"spot_venue" yaml:"spot_venue"`
	SpotSymbol    string `mapstructure:"spot_symbol" yaml:"spot_symbol"`
	FuturesVenue  string `mapstructure:"futures_venue" yaml:"futures_venue"`
	FuturesSymbol string `mapstructure:"futures_symbol" yaml:"futures_symbol"`
	FundingSymbol string `mapstructure:"funding_symbol" yaml:"funding_symbol"` // 为空则不取资金费率
	Expiry        string `mapstructure:"expiry" yaml:"expiry"`                 // RFC3339
	Category      string `mapstructure:"category" yaml:"category"`
}

// ExpiryTime 解析交割时间
func (c InstrumentConfig) ExpiryTime() (time.Time, error) {
	t, err := time.Parse(time.RFC3339, c.Expiry)
	if err != nil {
		return time.Time{}, fmt.Errorf("解析交割时间失败 %s: %w", c.Expiry, err)
	}
	return t, nil
}

// 执行方模式
const (
	DispatcherModePaper = "paper"
	DispatcherModeRedis = "redis"
)

// DispatcherConfig 交易执行方配置
type DispatcherConfig struct {
	Mode           string  `mapstructure:"mode" yaml:"mode"`
	CommissionRate float64 `mapstructure:"commission_rate" yaml:"commission_rate"`
	QueueKey       string  `mapstructure:"queue_key" yaml:"queue_key"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
}

// Timeout 等待执行结果的超时
func (c DispatcherConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// RedisConfig Redis配置
type RedisConfig struct {
	Host      string `mapstructure:"host" yaml:"host"`
	Port      int    `mapstructure:"port" yaml:"port"`
	Password  string `mapstructure:"password" yaml:"password"`
	DB        int    `mapstructure:"db" yaml:"db"`
	KeyPrefix string `mapstructure:"key_prefix" yaml:"key_prefix"`
}

// Addr Redis地址
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// PostgresConfig PostgreSQL配置
type PostgresConfig struct {
	Enabled        bool   `mapstructure:"enabled" yaml:"enabled"`
	Host           string `mapstructure:"host" yaml:"host"`
	Port           int    `mapstructure:"port" yaml:"port"`
	Database       string `mapstructure:"database" yaml:"database"`
	User           string `mapstructure:"user" yaml:"user"`
	Password       string `mapstructure:"password" yaml:"password"` // 从配置文件或环境变量中读取
	MaxConnections int    `mapstructure:"max_connections" yaml:"max_connections"`
	SSLMode        string `mapstructure:"ssl_mode" yaml:"ssl_mode"`
}

// DSN lib/pq 连接串
func (c PostgresConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// APIConfig 运维接口配置
type APIConfig struct {
	Enabled    bool   `mapstructure:"enabled" yaml:"enabled"`
	ListenAddr string `mapstructure:"listen_addr" yaml:"listen_addr"`
	Token      string `mapstructure:"token" yaml:"token"` // 为空时不校验
}

// SystemConfig 系统配置
type SystemConfig struct {
	Strategy string `mapstructure:"strategy" yaml:"strategy"`
	LogLevel string `mapstructure:"log_level" yaml:"log_level"`
	LogDir   string `mapstructure:"log_dir" yaml:"log_dir"`
}

// LoadConfig 从文件加载配置，未配置的字段保留默认值
func LoadConfig(filePath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(filePath)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	// 环境变量覆盖，如 BASISGATE_REDIS_HOST
	v.SetEnvPrefix("BASISGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// 敏感信息优先从环境变量读取
	if redisPassword := os.Getenv("REDIS_PASSWORD"); redisPassword != "" {
		v.Set("redis.password", redisPassword)
	}
	if pgPassword := os.Getenv("POSTGRES_PASSWORD"); pgPassword != "" {
		v.Set("postgres.password", pgPassword)
	}
	if apiToken := os.Getenv("API_TOKEN"); apiToken != "" {
		v.Set("api.token", apiToken)
	}

	config := GetDefaultConfig()
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("配置验证失败: %w", err)
	}

	return config, nil
}

// LoadConfigFromYAML 直接用yaml解析，不走环境变量覆盖
func LoadConfigFromYAML(filePath string) (*Config, error) {
	yamlFile, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	config := GetDefaultConfig()
	if err := yaml.Unmarshal(yamlFile, config); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("配置验证失败: %w", err)
	}

	return config, nil
}

// validateConfig 验证配置有效性
func validateConfig(config *Config) error {
	if config.Scanner.MaxPositionSize <= 0 {
		return fmt.Errorf("最大仓位必须大于0")
	}
	if config.Scanner.LeverageMultiple < 1 {
		return fmt.Errorf("杠杆倍数不能小于1")
	}
	if config.Scanner.MaxRiskScore <= 0 || config.Scanner.MaxRiskScore > 1 {
		return fmt.Errorf("最大风险评分必须在0到1之间")
	}
	if config.Scanner.LotPrecision < 0 {
		return fmt.Errorf("数量精度不能为负")
	}
	if config.Scanner.ScanIntervalSeconds <= 0 {
		return fmt.Errorf("扫描周期必须大于0")
	}

	if config.Limits.MaxDailyVolume <= 0 || config.Limits.MaxPositionSize <= 0 || config.Limits.MaxLeverage <= 0 {
		return fmt.Errorf("准入限额必须大于0")
	}

	if config.Security.LogCapacity <= 0 {
		return fmt.Errorf("日志容量必须大于0")
	}
	if config.Security.RateLimitMaxRequests <= 0 || config.Security.RateLimitWindowSeconds <= 0 {
		return fmt.Errorf("限流配置必须大于0")
	}
	if config.Security.SuspiciousWindow < 2 {
		return fmt.Errorf("异常检测窗口至少为2笔交易")
	}
	if config.Security.RecomputeIntervalSeconds <= 0 {
		return fmt.Errorf("系统风险重算周期必须大于0")
	}
	if config.Security.MediumRiskThreshold > config.Security.HighRiskThreshold {
		return fmt.Errorf("中风险阈值不能高于高风险阈值")
	}

	if config.RiskMetrics.IntervalSeconds <= 0 {
		return fmt.Errorf("风险指标重算周期必须大于0")
	}
	if config.RiskMetrics.TradeHistoryLimit <= 0 {
		return fmt.Errorf("成交记录读取上限必须大于0")
	}

	switch config.Feed.Mode {
	case FeedModeCCXT:
		for _, inst := range config.Feed.Instruments {
			if inst.Token == "" || inst.SpotSymbol == "" || inst.FuturesSymbol == "" {
				return fmt.Errorf("合约配置不完整: %+v", inst)
			}
			if _, err := inst.ExpiryTime(); err != nil {
				return err
			}
		}
	case FeedModeWebsocket:
		if config.Feed.WSURL == "" {
			return fmt.Errorf("websocket行情源需要配置ws_url")
		}
	default:
		return fmt.Errorf("未知的行情源模式: %s", config.Feed.Mode)
	}

	switch config.Dispatcher.Mode {
	case DispatcherModePaper:
	case DispatcherModeRedis:
		if config.Dispatcher.TimeoutSeconds <= 0 {
			return fmt.Errorf("执行方回执超时必须大于0")
		}
	default:
		return fmt.Errorf("未知的执行方模式: %s", config.Dispatcher.Mode)
	}

	if config.Redis.Host == "" {
		return fmt.Errorf("Redis主机不能为空")
	}
	if config.Redis.Port <= 0 || config.Redis.Port > 65535 {
		return fmt.Errorf("无效的Redis端口")
	}

	return nil
}

// GetDefaultConfig 获取默认配置（用于生成示例配置）
func GetDefaultConfig() *Config {
	return &Config{
		Scanner: ScannerConfig{
			MinAnnualizedReturnPct: 5.0,
			MaxPositionSize:        100000,
			LeverageMultiple:       3,
			MaxRiskScore:           0.8,
			LotPrecision:           3,
			SpotFeeRate:            0.001,
			FuturesFeeRate:         0.0004,
			SyntheticVenues:        []string{"dex"},
			ScanIntervalSeconds:    30,
		},
		Limits: LimitsConfig{
			MaxDailyVolume:  1000000,
			MaxPositionSize: 100000,
			MaxLeverage:     3,
			TradeLeverage:   3,
		},
		Security: SecurityConfig{
			LogCapacity:              1000,
			RateLimitMaxRequests:     10,
			RateLimitWindowSeconds:   60,
			ProfitVarianceThreshold:  1000,
			MinTradeIntervalMillis:   1000,
			SuspiciousWindow:         10,
			RecomputeIntervalSeconds: 60,
			HighIncidentWeight:       0.3,
			MediumIncidentWeight:     0.1,
			HighRiskThreshold:        0.8,
			MediumRiskThreshold:      0.5,
		},
		RiskMetrics: RiskMetricsConfig{
			IntervalSeconds:     60,
			MarketDepthMultiple: 100,
			VenueRatings: map[string]float64{
				"binance": 0.9,
				"bybit":   0.85,
				"okx":     0.8,
				"deribit": 0.85,
			},
			DefaultVenueRating: 0.5,
			TradeHistoryLimit:  500,
			Thresholds:         model.DefaultRiskThresholds(),
		},
		Feed: FeedConfig{
			Mode:              FeedModeCCXT,
			ReconnectSeconds:  5,
			StaleAfterSeconds: 120,
			RequestsPerSecond: 5,
			Burst:             2,
		},
		Dispatcher: DispatcherConfig{
			Mode:           DispatcherModePaper,
			CommissionRate: 0.001,
			QueueKey:       "dispatch:requests",
			TimeoutSeconds: 30,
		},
		Redis: RedisConfig{
			Host:      "localhost",
			Port:      6379,
			DB:        0,
			KeyPrefix: "basisgate:",
		},
		Postgres: PostgresConfig{
			Enabled:        false,
			Host:           "localhost",
			Port:           5432,
			Database:       "basisgate",
			User:           "postgres",
			MaxConnections: 10,
			SSLMode:        "disable",
		},
		API: APIConfig{
			Enabled:    true,
			ListenAddr: ":8080",
		},
		System: SystemConfig{
			Strategy: "basis",
			LogLevel: "info",
			LogDir:   "./logs",
		},
	}
}

// SaveConfigToFile 将配置保存到文件，不写出密码和令牌
func SaveConfigToFile(config *Config, filePath string) error {
	sanitized := *config
	sanitized.Redis.Password = ""
	sanitized.Postgres.Password = ""
	sanitized.API.Token = ""

	data, err := yaml.Marshal(&sanitized)
	if err != nil {
		return fmt.Errorf("序列化配置失败: %w", err)
	}
	if err := os.WriteFile(filePath, data, 0644); err != nil {
		return fmt.Errorf("写入配置文件失败: %w", err)
	}
	return nil
}
