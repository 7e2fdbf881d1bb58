package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/life2you_mini/basisgate/internal/config"
	"github.com/life2you_mini/basisgate/internal/model"
)

const (
	// 重连退避上限
	maxReconnectDelay = time.Minute
	dialTimeout       = 10 * time.Second
)

// WSQuoteFeed 订阅推送行情，按 代币+两腿场所 保存最新报价
type WSQuoteFeed struct {
	url        string
	reconnect  time.Duration
	staleAfter time.Duration
	dialer     *websocket.Dialer
	logger     *zap.Logger
	now        func() time.Time

	mu        sync.RWMutex
	quotes    map[string]model.MarketQuote
	connected bool
}

// NewWSQuoteFeed 创建推送行情源
func NewWSQuoteFeed(cfg config.FeedConfig, logger *zap.Logger) *WSQuoteFeed {
	reconnect := time.Duration(cfg.ReconnectSeconds) * time.Second
	if reconnect <= 0 {
		reconnect = 5 * time.Second
	}
	return &WSQuoteFeed{
		url:        cfg.WSURL,
		reconnect:  reconnect,
		staleAfter: time.Duration(cfg.StaleAfterSeconds) * time.Second,
		dialer:     &websocket.Dialer{HandshakeTimeout: dialTimeout},
		logger:     logger.With(zap.String("component", "ws_feed")),
		now:        time.Now,
		quotes:     make(map[string]model.MarketQuote),
	}
}

func quoteKey(q model.MarketQuote) string {
	return q.Token + ":" + q.SourceVenue + ":" + q.TargetVenue
}

// FetchQuotes 返回未过期的最新报价
func (f *WSQuoteFeed) FetchQuotes(ctx context.Context) ([]model.MarketQuote, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	if !f.connected && len(f.quotes) == 0 {
		return nil, fmt.Errorf("行情连接未建立: %s", f.url)
	}

	now := f.now()
	quotes := make([]model.MarketQuote, 0, len(f.quotes))
	for _, q := range f.quotes {
		if f.staleAfter > 0 && now.Sub(q.Timestamp) > f.staleAfter {
			continue
		}
		quotes = append(quotes, q)
	}
	sort.Slice(quotes, func(i, j int) bool {
		return quoteKey(quotes[i]) < quoteKey(quotes[j])
	})
	return quotes, nil
}

// Connected 当前是否已连接
func (f *WSQuoteFeed) Connected() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.connected
}

// Run 保持连接直到 ctx 取消，断线后按退避间隔重连
func (f *WSQuoteFeed) Run(ctx context.Context) error {
	delay := f.reconnect
	for {
		err := f.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			delay = f.reconnect
		}
		f.logger.Warn("行情连接断开，准备重连", zap.Error(err), zap.Duration("delay", delay))

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

// session 一次连接的读循环；连接成功过则返回 nil 以重置退避
func (f *WSQuoteFeed) session(ctx context.Context) error {
	conn, _, err := f.dialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("连接行情服务失败: %w", err)
	}
	f.setConnected(true)
	f.logger.Info("行情连接已建立", zap.String("url", f.url))

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()
	defer func() {
		f.setConnected(false)
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			f.logger.Warn("读取行情消息失败", zap.Error(err))
			return nil
		}
		if err := f.handleMessage(data); err != nil {
			f.logger.Warn("解析行情消息失败", zap.Error(err))
		}
	}
}

// handleMessage 消息为单个报价或报价数组
func (f *WSQuoteFeed) handleMessage(data []byte) error {
	var quotes []model.MarketQuote
	if len(data) > 0 && data[0] == '[' {
		if err := json.Unmarshal(data, &quotes); err != nil {
			return err
		}
	} else {
		var q model.MarketQuote
		if err := json.Unmarshal(data, &q); err != nil {
			return err
		}
		quotes = append(quotes, q)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for _, q := range quotes {
		if q.Token == "" {
			continue
		}
		if q.Timestamp.IsZero() {
			q.Timestamp = f.now()
		}
		if prev, ok := f.quotes[quoteKey(q)]; ok && prev.Timestamp.After(q.Timestamp) {
			continue
		}
		f.quotes[quoteKey(q)] = q
	}
	return nil
}

func (f *WSQuoteFeed) setConnected(v bool) {
	f.mu.Lock()
	f.connected = v
	f.mu.Unlock()
}
