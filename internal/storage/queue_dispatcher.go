package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/life2you_mini/basisgate/internal/model"
)

const replyKeyPrefix = "dispatch:reply:"

// DispatchRequest 推送给外部执行方的请求
type DispatchRequest struct {
	ID          string                 `json:"id"`
	ReplyTo     string                 `json:"reply_to"`
	Opportunity model.BasisOpportunity `json:"opportunity"`
	Account     model.AccountSnapshot  `json:"account"`
	CreatedAt   time.Time              `json:"created_at"`
}

// ErrDispatchTimeout 等待执行结果超时
var ErrDispatchTimeout = errors.New("等待执行结果超时")

// QueueDispatcher 通过Redis列表派发交易：LPUSH请求，BRPOP等待回复
type QueueDispatcher struct {
	client     *redis.Client
	keyPrefix  string
	requestKey string
	timeout    time.Duration
	logger     *zap.Logger
}

// NewQueueDispatcher 创建队列执行方
func NewQueueDispatcher(client *redis.Client, keyPrefix, queueKey string, timeout time.Duration, logger *zap.Logger) *QueueDispatcher {
	return &QueueDispatcher{
		client:     client,
		keyPrefix:  keyPrefix,
		requestKey: keyPrefix + queueKey,
		timeout:    timeout,
		logger:     logger.With(zap.String("component", "queue_dispatcher")),
	}
}

// RequestKey 请求队列的完整键名
func (d *QueueDispatcher) RequestKey() string {
	return d.requestKey
}

// Execute 推送请求并阻塞等待回复
func (d *QueueDispatcher) Execute(ctx context.Context, opp model.BasisOpportunity, account model.AccountSnapshot) (model.TradeResult, error) {
	id := uuid.NewString()
	req := DispatchRequest{
		ID:          id,
		ReplyTo:     d.keyPrefix + replyKeyPrefix + id,
		Opportunity: opp,
		Account:     account,
		CreatedAt:   time.Now(),
	}

	data, err := json.Marshal(req)
	if err != nil {
		return model.TradeResult{}, fmt.Errorf("序列化派发请求失败: %w", err)
	}

	if err := d.client.LPush(ctx, d.requestKey, data).Err(); err != nil {
		return model.TradeResult{}, fmt.Errorf("推送派发请求失败: %w", err)
	}

	d.logger.Debug("已推送派发请求",
		zap.String("request_id", id),
		zap.String("account_id", account.ID),
		zap.String("token", opp.Token))

	// BRPop返回一个包含两个元素的数组：[queueName, value]
	reply, err := d.client.BRPop(ctx, d.timeout, req.ReplyTo).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return model.TradeResult{}, fmt.Errorf("%w: %s", ErrDispatchTimeout, id)
		}
		return model.TradeResult{}, fmt.Errorf("等待执行结果失败: %w", err)
	}
	if len(reply) < 2 {
		return model.TradeResult{}, fmt.Errorf("执行结果数据结构不正确")
	}

	var result model.TradeResult
	if err := json.Unmarshal([]byte(reply[1]), &result); err != nil {
		return model.TradeResult{}, fmt.Errorf("解析执行结果失败: %w", err)
	}
	return result, nil
}

// Reply 执行方写回结果
func Reply(ctx context.Context, client *redis.Client, req DispatchRequest, result model.TradeResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("序列化执行结果失败: %w", err)
	}
	pipe := client.TxPipeline()
	pipe.LPush(ctx, req.ReplyTo, data)
	pipe.Expire(ctx, req.ReplyTo, time.Minute)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("写回执行结果失败: %w", err)
	}
	return nil
}
