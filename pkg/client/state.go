package client

// State 客户端连接状态
type State int

const (
	StateDisconnected State = iota // 未连接，或对端正常关闭
	StateConnecting                // 正在建立连接
	StateConnected                 // 已连接
	StateReconnecting              // 等待退避后重连
	StateFailed                    // 重连次数耗尽，不再自动重试
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// StateChange 一次状态迁移
type StateChange struct {
	From    State
	To      State
	Attempt int   // 进入 Reconnecting 时为即将进行的第几次重连（从 1 开始）
	Err     error // 引起迁移的错误，可能为 nil
}
