package trading

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/life2you_mini/basisgate/internal/metrics"
	"github.com/life2you_mini/basisgate/internal/model"
)

// AccountStore 账户快照读写
type AccountStore interface {
	GetAccount(ctx context.Context, id string) (*model.AccountSnapshot, error)
	SaveAccount(ctx context.Context, account *model.AccountSnapshot) error
	ListAccounts(ctx context.Context) ([]model.AccountSnapshot, error)
}

// TradeRecorder 追加成交记录，供风险指标计算使用
type TradeRecorder interface {
	AppendTrade(ctx context.Context, subject string, trade model.TradeRecord) error
}

// Dispatcher 外部交易执行方
type Dispatcher interface {
	Execute(ctx context.Context, opp model.BasisOpportunity, account model.AccountSnapshot) (model.TradeResult, error)
}

// Outcome 单个账户处理单个机会的结果
type Outcome struct {
	AccountID   string
	Opportunity model.BasisOpportunity
	Decision    Decision
	Result      *model.TradeResult
	Err         error
}

// ExecutorOption 执行器选项
type ExecutorOption func(*Executor)

// WithTradeRecorder 设置成交记录写入
func WithTradeRecorder(recorder TradeRecorder) ExecutorOption {
	return func(e *Executor) {
		e.recorder = recorder
	}
}

// WithStrategy 设置机会筛选策略，默认为基差策略
func WithStrategy(strategy Strategy) ExecutorOption {
	return func(e *Executor) {
		e.strategy = strategy
	}
}

// WithExecutorClock 替换时钟
func WithExecutorClock(now func() time.Time) ExecutorOption {
	return func(e *Executor) {
		e.now = now
	}
}

// Executor 对排序后的机会逐账户执行准入和派发
type Executor struct {
	gate       *AdmissionGate
	guard      SecurityGuard
	dispatcher Dispatcher
	accounts   AccountStore
	recorder   TradeRecorder
	strategy   Strategy
	leverage   float64
	logger     *zap.Logger
	now        func() time.Time
}

// NewExecutor 创建执行器
func NewExecutor(
	gate *AdmissionGate,
	guard SecurityGuard,
	dispatcher Dispatcher,
	accounts AccountStore,
	leverage float64,
	logger *zap.Logger,
	opts ...ExecutorOption,
) *Executor {
	e := &Executor{
		gate:       gate,
		guard:      guard,
		dispatcher: dispatcher,
		accounts:   accounts,
		strategy:   basisStrategy{},
		leverage:   leverage,
		logger:     logger.With(zap.String("component", "executor")),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Submit 对一个机会执行准入，通过后派发并记录结果。
// 交易金额为机会的所需资金；拒绝时返回的 Result 为 nil。
func (e *Executor) Submit(ctx context.Context, opp model.BasisOpportunity, account model.AccountSnapshot) (Decision, *model.TradeResult, error) {
	amount := opp.RequiredCapital
	decision := e.gate.Evaluate(opp, account, amount, e.leverage)
	if !decision.Approved {
		return decision, nil, nil
	}

	start := e.now()
	result, dispatchErr := e.dispatcher.Execute(ctx, opp, account)
	latency := e.now().Sub(start)
	metrics.DispatchLatency.Observe(latency.Seconds())

	if dispatchErr != nil {
		result = model.TradeResult{Success: false, Timestamp: e.now(), Error: dispatchErr.Error()}
		dispatchErr = model.NewInfraError("派发交易", dispatchErr)
	}
	if result.Timestamp.IsZero() {
		result.Timestamp = e.now()
	}

	realized := 0.0
	if result.Success {
		realized = amount
	}

	var errs error
	errs = multierr.Append(errs, dispatchErr)

	if err := e.guard.RecordTrade(model.TradeLogEntry{
		AccountID: account.ID,
		Amount:    realized,
		Profit:    result.Profit,
		Timestamp: result.Timestamp,
	}); err != nil {
		// 派发期间停止开关可能已激活
		e.logger.Warn("记录交易失败", zap.String("account_id", account.ID), zap.Error(err))
		errs = multierr.Append(errs, fmt.Errorf("记录交易失败: %w", err))
	}

	account.LastActivityTime = result.Timestamp
	if err := e.accounts.SaveAccount(ctx, &account); err != nil {
		metrics.PersistenceFailures.WithLabelValues("save_account").Inc()
		errs = multierr.Append(errs, model.NewInfraError("更新账户活动时间", err))
	}

	if e.recorder != nil {
		record := e.tradeRecord(opp, amount, latency, result)
		if err := e.recorder.AppendTrade(ctx, account.ID, record); err != nil {
			metrics.PersistenceFailures.WithLabelValues("append_trade").Inc()
			errs = multierr.Append(errs, model.NewInfraError("追加成交记录", err))
		}
	}

	if result.Success {
		e.logger.Info("交易执行成功",
			zap.String("account_id", account.ID),
			zap.String("token", opp.Token),
			zap.Float64("amount", amount),
			zap.Float64("profit", result.Profit),
			zap.Float64("commission", result.Commission),
			zap.Duration("latency", latency))
	} else {
		e.logger.Error("交易执行失败",
			zap.String("account_id", account.ID),
			zap.String("token", opp.Token),
			zap.String("reason", result.Error))
	}

	return decision, &result, errs
}

func (e *Executor) tradeRecord(opp model.BasisOpportunity, amount float64, latency time.Duration, result model.TradeResult) model.TradeRecord {
	record := model.TradeRecord{
		ID:               uuid.NewString(),
		EntryPrice:       opp.SpotPrice,
		Quantity:         amount,
		ExecutionLatency: latency,
		Fees:             result.Commission,
		Venue:            opp.SourceVenue,
		Status:           model.TradeStatusOpen,
		Timestamp:        result.Timestamp,
	}
	to := model.TradeStatusClosed
	if !result.Success {
		to = model.TradeStatusError
	}
	// open 状态下的变更不会失败
	_ = record.Transition(to)
	return record
}

// ProcessOpportunities 每个账户一个协程，按排序依次认领机会。
// 同一轮中每个机会最多被一个账户执行；账户被拒绝或执行出错后本轮不再处理。
func (e *Executor) ProcessOpportunities(ctx context.Context, opps []model.BasisOpportunity) ([]Outcome, error) {
	selected := e.strategy.Select(opps)
	if len(selected) == 0 {
		return nil, nil
	}

	accounts, err := e.accounts.ListAccounts(ctx)
	if err != nil {
		return nil, model.NewInfraError("读取账户列表", err)
	}

	var (
		mu       sync.Mutex
		claimed  = make(map[string]string, len(selected))
		outcomes []Outcome
	)

	claim := func(key, accountID string) bool {
		mu.Lock()
		defer mu.Unlock()
		if _, taken := claimed[key]; taken {
			return false
		}
		claimed[key] = accountID
		return true
	}
	release := func(key string) {
		mu.Lock()
		defer mu.Unlock()
		delete(claimed, key)
	}
	record := func(o Outcome) {
		mu.Lock()
		defer mu.Unlock()
		outcomes = append(outcomes, o)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, account := range accounts {
		g.Go(func() error {
			for _, opp := range selected {
				if err := gctx.Err(); err != nil {
					return err
				}
				key := opp.Key()
				if !claim(key, account.ID) {
					continue
				}

				decision, result, err := e.Submit(gctx, opp, account)
				record(Outcome{AccountID: account.ID, Opportunity: opp, Decision: decision, Result: result, Err: err})

				if !decision.Approved {
					release(key)
					return nil
				}
				if err != nil {
					e.logger.Error("处理交易机会失败",
						zap.String("account_id", account.ID),
						zap.String("token", opp.Token),
						zap.Error(err))
					return nil
				}
				// 派发成功后账户快照的活动时间已更新
				account.LastActivityTime = result.Timestamp
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return outcomes, err
	}
	return outcomes, nil
}

// HandleOpportunities 处理一轮扫描结果
func (e *Executor) HandleOpportunities(ctx context.Context, opps []model.BasisOpportunity) error {
	outcomes, err := e.ProcessOpportunities(ctx, opps)
	if err != nil {
		return fmt.Errorf("处理交易机会失败: %w", err)
	}

	var approved, rejected, failed int
	for _, o := range outcomes {
		switch {
		case !o.Decision.Approved:
			rejected++
		case o.Result == nil || !o.Result.Success:
			failed++
		default:
			approved++
		}
	}
	e.logger.Info("本轮交易处理完成",
		zap.Int("opportunities", len(opps)),
		zap.Int("executed", approved),
		zap.Int("rejected", rejected),
		zap.Int("failed", failed))
	return nil
}
