package client

import (
	"context"
	"errors"

	"github.com/qiminjie89/motionlink/pkg/transport"
)

var (
	// ErrConnectTimeout 建连超时，可重试
	ErrConnectTimeout = errors.New("client: connect timeout")
	// ErrReconnectExhausted 重连次数耗尽，终态错误
	ErrReconnectExhausted = errors.New("client: reconnect attempts exhausted")
	// ErrClosed 客户端已被 Close
	ErrClosed = errors.New("client: closed")
	// ErrNotConnected 当前没有可用连接
	ErrNotConnected = errors.New("client: not connected")
)

// Outcome 连接结束后的处理方式
type Outcome int

const (
	OutcomeRetry Outcome = iota // 退避后重连
	OutcomeClean                // 正常结束，回到 Disconnected
	OutcomeFatal                // 终态，不再重试
)

func (o Outcome) String() string {
	switch o {
	case OutcomeRetry:
		return "retry"
	case OutcomeClean:
		return "clean"
	case OutcomeFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Classify 根据连接结束的原因决定是否重试
// 只有关闭码 1000 被视为正常关闭，其余关闭码（包括 1001）和握手失败都重试
func Classify(err error) Outcome {
	switch {
	case err == nil,
		transport.IsCleanClose(err),
		errors.Is(err, ErrClosed),
		errors.Is(err, context.Canceled):
		return OutcomeClean
	case errors.Is(err, ErrReconnectExhausted):
		return OutcomeFatal
	default:
		return OutcomeRetry
	}
}
