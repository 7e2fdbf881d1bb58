package exchange

import (
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// ExchangeFactory 按场所名称管理行情客户端
type ExchangeFactory struct {
	mu      sync.RWMutex
	clients map[string]VenueClient
}

// NewExchangeFactory 创建交易所工厂
func NewExchangeFactory() *ExchangeFactory {
	return &ExchangeFactory{
		clients: make(map[string]VenueClient),
	}
}

// CreateExchangeFactory 为给定场所创建ccxt客户端，不支持的场所记录警告后跳过
func CreateExchangeFactory(venues []string, logger *zap.Logger) *ExchangeFactory {
	factory := NewExchangeFactory()
	for _, venue := range venues {
		if _, exists := factory.Get(venue); exists {
			continue
		}
		client, err := NewCCXTClient(venue, logger)
		if err != nil {
			logger.Warn("跳过交易所", zap.String("venue", venue), zap.Error(err))
			continue
		}
		factory.Register(venue, client)
		logger.Info("交易所已注册", zap.String("venue", venue))
	}
	return factory
}

// Register 注册场所客户端
func (f *ExchangeFactory) Register(name string, client VenueClient) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clients[strings.ToLower(name)] = client
}

// Get 获取场所客户端
func (f *ExchangeFactory) Get(name string) (VenueClient, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	client, exists := f.clients[strings.ToLower(name)]
	return client, exists
}

// Names 已注册的场所
func (f *ExchangeFactory) Names() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	names := make([]string, 0, len(f.clients))
	for name := range f.clients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
