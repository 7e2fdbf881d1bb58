package model

import (
	"fmt"
	"time"
)

// TradeStatus 交易状态
type TradeStatus string

const (
	TradeStatusOpen   TradeStatus = "open"
	TradeStatusClosed TradeStatus = "closed"
	TradeStatusError  TradeStatus = "error"
)

// TradeRecord 已完成或尝试过的交易
type TradeRecord struct {
	ID               string        `json:"id"`
	EntryPrice       float64       `json:"entry_price"`
	ExitPrice        *float64      `json:"exit_price,omitempty"`
	Quantity         float64       `json:"quantity"`
	ExecutionLatency time.Duration `json:"execution_latency"`
	Slippage         float64       `json:"slippage"`
	Fees             float64       `json:"fees"`
	Venue            string        `json:"venue"`
	Status           TradeStatus   `json:"status"`
	Timestamp        time.Time     `json:"timestamp"`
}

// Transition 状态只能从 open 变为 closed 或 error
func (t *TradeRecord) Transition(to TradeStatus) error {
	if t.Status != TradeStatusOpen || (to != TradeStatusClosed && to != TradeStatusError) {
		return fmt.Errorf("非法的交易状态变更: %s -> %s", t.Status, to)
	}
	t.Status = to
	return nil
}

// TradeLogEntry 已准入交易的结果，用于异常检测和成交量统计
type TradeLogEntry struct {
	AccountID string    `json:"account_id"`
	Amount    float64   `json:"amount"`
	Profit    float64   `json:"profit"`
	Timestamp time.Time `json:"timestamp"`
}

// TradeResult 执行方返回的交易结果
type TradeResult struct {
	Success    bool      `json:"success"`
	Profit     float64   `json:"profit"`
	Commission float64   `json:"commission"`
	Timestamp  time.Time `json:"timestamp"`
	Error      string    `json:"error,omitempty"`
}
