package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/life2you_mini/basisgate/internal/model"
)

// Redis 键前缀常量
const (
	// 风险指标相关
	keyRiskMetricsPrefix = "risk:metrics:"
	keyRiskHistoryPrefix = "risk:history:"

	// 安全事件
	keyIncidents = "security:incidents"

	// 基差机会
	keyOpportunitiesLatest  = "opportunities:latest"
	keyOpportunitiesHistory = "opportunities:history"

	// 账户与快照
	keyAccounts       = "accounts"
	keyPositionPrefix = "positions:"
	keyTradePrefix    = "trades:"

	// 保留条数
	maxIncidents     = 1000
	maxTradesPerSubj = 1000

	// 过期时间
	expiryRiskMetrics   = 90 * 24 * time.Hour
	expiryOpportunities = time.Hour
	expiryOppHistory    = 7 * 24 * time.Hour
)

// RedisStorage Redis存储实现
type RedisStorage struct {
	client    *redis.Client
	keyPrefix string
	logger    *zap.Logger
}

// NewRedisStorage 创建Redis存储
func NewRedisStorage(client *redis.Client, keyPrefix string, logger *zap.Logger) *RedisStorage {
	return &RedisStorage{
		client:    client,
		keyPrefix: keyPrefix,
		logger:    logger.With(zap.String("component", "redis_storage")),
	}
}

func (s *RedisStorage) key(parts ...string) string {
	k := s.keyPrefix
	for _, p := range parts {
		k += p
	}
	return k
}

// Initialize 初始化Redis存储
func (s *RedisStorage) Initialize(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		s.logger.Error("Redis连接失败", zap.Error(err))
		return fmt.Errorf("redis连接失败: %w", err)
	}

	s.logger.Info("Redis存储初始化成功")
	return nil
}

// Close 关闭Redis连接
func (s *RedisStorage) Close() error {
	if err := s.client.Close(); err != nil {
		s.logger.Error("关闭Redis连接失败", zap.Error(err))
		return fmt.Errorf("关闭Redis连接失败: %w", err)
	}

	s.logger.Info("Redis连接已关闭")
	return nil
}

// Health 检查Redis健康状态
func (s *RedisStorage) Health(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// StoreRiskMetrics 存储当前风险快照
func (s *RedisStorage) StoreRiskMetrics(ctx context.Context, metrics *model.RiskMetrics) error {
	data, err := json.Marshal(metrics)
	if err != nil {
		return fmt.Errorf("序列化风险指标失败: %w", err)
	}

	if err := s.client.Set(ctx, s.key(keyRiskMetricsPrefix, metrics.Subject), data, expiryRiskMetrics).Err(); err != nil {
		return fmt.Errorf("存储风险指标失败: %w", err)
	}
	return nil
}

// GetLatestRiskMetrics 获取最新风险快照
func (s *RedisStorage) GetLatestRiskMetrics(ctx context.Context, subject string) (*model.RiskMetrics, error) {
	data, err := s.client.Get(ctx, s.key(keyRiskMetricsPrefix, subject)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, model.ErrNotFound
		}
		return nil, fmt.Errorf("获取风险指标失败: %w", err)
	}

	var metrics model.RiskMetrics
	if err := json.Unmarshal(data, &metrics); err != nil {
		return nil, fmt.Errorf("解析风险指标失败: %w", err)
	}
	return &metrics, nil
}

// AppendRiskHistory 按周期追加风险历史，有序集合按时间戳排序
func (s *RedisStorage) AppendRiskHistory(ctx context.Context, rows []model.RiskMetricsHistory) error {
	if len(rows) == 0 {
		return nil
	}

	pipe := s.client.Pipeline()
	for _, row := range rows {
		data, err := json.Marshal(row)
		if err != nil {
			return fmt.Errorf("序列化风险历史失败: %w", err)
		}
		key := s.key(keyRiskHistoryPrefix, row.Subject, ":", string(row.Period))
		pipe.ZAdd(ctx, key, redis.Z{
			Score:  float64(row.Timestamp.UnixMilli()),
			Member: data,
		})
		pipe.Expire(ctx, key, expiryRiskMetrics)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("追加风险历史失败: %w", err)
	}
	return nil
}

// GetRiskHistory 获取某个周期最近的历史记录，最新的在前
func (s *RedisStorage) GetRiskHistory(ctx context.Context, subject string, period model.ReportPeriod, limit int) ([]model.RiskMetricsHistory, error) {
	if limit <= 0 {
		limit = 100
	}
	key := s.key(keyRiskHistoryPrefix, subject, ":", string(period))
	results, err := s.client.ZRevRange(ctx, key, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("获取风险历史失败: %w", err)
	}

	rows := make([]model.RiskMetricsHistory, 0, len(results))
	for _, raw := range results {
		var row model.RiskMetricsHistory
		if err := json.Unmarshal([]byte(raw), &row); err != nil {
			s.logger.Warn("解析风险历史失败", zap.Error(err), zap.String("data", raw))
			continue
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// StoreIncident 追加安全事件，只保留最近的记录
func (s *RedisStorage) StoreIncident(ctx context.Context, incident model.SecurityIncident) error {
	data, err := json.Marshal(incident)
	if err != nil {
		return fmt.Errorf("序列化安全事件失败: %w", err)
	}

	key := s.key(keyIncidents)
	pipe := s.client.TxPipeline()
	pipe.LPush(ctx, key, data)
	pipe.LTrim(ctx, key, 0, maxIncidents-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("存储安全事件失败: %w", err)
	}
	return nil
}

// GetIncidents 获取最近的安全事件，最新的在前
func (s *RedisStorage) GetIncidents(ctx context.Context, limit int) ([]model.SecurityIncident, error) {
	if limit <= 0 {
		limit = 100
	}
	results, err := s.client.LRange(ctx, s.key(keyIncidents), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("获取安全事件失败: %w", err)
	}

	incidents := make([]model.SecurityIncident, 0, len(results))
	for _, raw := range results {
		var incident model.SecurityIncident
		if err := json.Unmarshal([]byte(raw), &incident); err != nil {
			s.logger.Warn("解析安全事件失败", zap.Error(err), zap.String("data", raw))
			continue
		}
		incidents = append(incidents, incident)
	}
	return incidents, nil
}

// StoreOpportunities 保存最新一轮排序结果，同时写入历史
func (s *RedisStorage) StoreOpportunities(ctx context.Context, opps []model.BasisOpportunity) error {
	data, err := json.Marshal(opps)
	if err != nil {
		return fmt.Errorf("序列化基差机会失败: %w", err)
	}

	now := time.Now()
	historyKey := s.key(keyOpportunitiesHistory)

	pipe := s.client.Pipeline()
	pipe.Set(ctx, s.key(keyOpportunitiesLatest), data, expiryOpportunities)
	if len(opps) > 0 {
		pipe.ZAdd(ctx, historyKey, redis.Z{
			Score:  float64(now.UnixMilli()),
			Member: data,
		})
		pipe.ZRemRangeByScore(ctx, historyKey, "-inf", fmt.Sprintf("%d", now.Add(-expiryOppHistory).UnixMilli()))
		pipe.Expire(ctx, historyKey, expiryOppHistory)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("存储基差机会失败: %w", err)
	}
	return nil
}

// GetOpportunities 获取最新一轮排序结果
func (s *RedisStorage) GetOpportunities(ctx context.Context) ([]model.BasisOpportunity, error) {
	data, err := s.client.Get(ctx, s.key(keyOpportunitiesLatest)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("获取基差机会失败: %w", err)
	}

	var opps []model.BasisOpportunity
	if err := json.Unmarshal(data, &opps); err != nil {
		return nil, fmt.Errorf("解析基差机会失败: %w", err)
	}
	return opps, nil
}

// SaveAccount 保存账户快照
func (s *RedisStorage) SaveAccount(ctx context.Context, account *model.AccountSnapshot) error {
	data, err := json.Marshal(account)
	if err != nil {
		return fmt.Errorf("序列化账户失败: %w", err)
	}
	if err := s.client.HSet(ctx, s.key(keyAccounts), account.ID, data).Err(); err != nil {
		return fmt.Errorf("保存账户失败: %w", err)
	}
	return nil
}

// GetAccount 获取账户快照
func (s *RedisStorage) GetAccount(ctx context.Context, id string) (*model.AccountSnapshot, error) {
	data, err := s.client.HGet(ctx, s.key(keyAccounts), id).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, model.ErrNotFound
		}
		return nil, fmt.Errorf("获取账户失败: %w", err)
	}

	var account model.AccountSnapshot
	if err := json.Unmarshal(data, &account); err != nil {
		return nil, fmt.Errorf("解析账户失败: %w", err)
	}
	return &account, nil
}

// ListAccounts 列出所有账户，按ID排序
func (s *RedisStorage) ListAccounts(ctx context.Context) ([]model.AccountSnapshot, error) {
	results, err := s.client.HGetAll(ctx, s.key(keyAccounts)).Result()
	if err != nil {
		return nil, fmt.Errorf("获取账户列表失败: %w", err)
	}

	accounts := make([]model.AccountSnapshot, 0, len(results))
	for id, raw := range results {
		var account model.AccountSnapshot
		if err := json.Unmarshal([]byte(raw), &account); err != nil {
			s.logger.Warn("解析账户失败", zap.String("account_id", id), zap.Error(err))
			continue
		}
		accounts = append(accounts, account)
	}
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].ID < accounts[j].ID })
	return accounts, nil
}

// SavePositions 覆盖某个对象的持仓快照
func (s *RedisStorage) SavePositions(ctx context.Context, subject string, positions []model.PositionSnapshot) error {
	data, err := json.Marshal(positions)
	if err != nil {
		return fmt.Errorf("序列化持仓失败: %w", err)
	}
	if err := s.client.Set(ctx, s.key(keyPositionPrefix, subject), data, 0).Err(); err != nil {
		return fmt.Errorf("保存持仓失败: %w", err)
	}
	return nil
}

// GetPositions 获取持仓快照，不存在时返回空
func (s *RedisStorage) GetPositions(ctx context.Context, subject string) ([]model.PositionSnapshot, error) {
	data, err := s.client.Get(ctx, s.key(keyPositionPrefix, subject)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("获取持仓失败: %w", err)
	}

	var positions []model.PositionSnapshot
	if err := json.Unmarshal(data, &positions); err != nil {
		return nil, fmt.Errorf("解析持仓失败: %w", err)
	}
	return positions, nil
}

// AppendTrade 追加成交记录，只保留最近的记录
func (s *RedisStorage) AppendTrade(ctx context.Context, subject string, trade model.TradeRecord) error {
	data, err := json.Marshal(trade)
	if err != nil {
		return fmt.Errorf("序列化成交记录失败: %w", err)
	}

	key := s.key(keyTradePrefix, subject)
	pipe := s.client.TxPipeline()
	pipe.LPush(ctx, key, data)
	pipe.LTrim(ctx, key, 0, maxTradesPerSubj-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("追加成交记录失败: %w", err)
	}
	return nil
}

// GetTrades 获取最近的成交记录，最新的在前
func (s *RedisStorage) GetTrades(ctx context.Context, subject string, limit int) ([]model.TradeRecord, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	results, err := s.client.LRange(ctx, s.key(keyTradePrefix, subject), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("获取成交记录失败: %w", err)
	}

	trades := make([]model.TradeRecord, 0, len(results))
	for _, raw := range results {
		var trade model.TradeRecord
		if err := json.Unmarshal([]byte(raw), &trade); err != nil {
			s.logger.Warn("解析成交记录失败", zap.Error(err), zap.String("data", raw))
			continue
		}
		trades = append(trades, trade)
	}
	return trades, nil
}
