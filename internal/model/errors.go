package model

import (
	"errors"
	"fmt"
)

var (
	// ErrSystemHalted 停止交易开关已激活
	ErrSystemHalted = errors.New("系统已停止交易")
	// ErrRiskTooHigh 系统风险等级为 high 时拒绝关闭开关
	ErrRiskTooHigh = errors.New("系统风险等级过高")
	// ErrStrategyNotSupported 策略类型未实现
	ErrStrategyNotSupported = errors.New("不支持的策略类型")
	// ErrNotFound 记录不存在
	ErrNotFound = errors.New("记录不存在")
)

// InfraError 基础设施错误（行情、账户、执行方或持久化失败）
type InfraError struct {
	Op  string
	Err error
}

func (e *InfraError) Error() string {
	return fmt.Sprintf("%s失败: %v", e.Op, e.Err)
}

func (e *InfraError) Unwrap() error {
	return e.Err
}

// NewInfraError 包装基础设施错误，err 为 nil 时返回 nil
func NewInfraError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &InfraError{Op: op, Err: err}
}

// IsInfrastructure 判断是否为基础设施错误
func IsInfrastructure(err error) bool {
	var ie *InfraError
	return errors.As(err, &ie)
}
