// Package transport 提供客户端传输层抽象，重连客户端通过 Dialer 建立连接
package transport

import (
	"context"
	"errors"
)

// Conn 一条已建立的消息连接
// ReadMessage 与 WriteMessage 分别只允许一个 goroutine 调用
type Conn interface {
	// ReadMessage 阻塞读取下一条文本消息
	ReadMessage() ([]byte, error)
	// WriteMessage 写入一条文本消息
	WriteMessage(data []byte) error
	// Close 以正常关闭码关闭连接
	Close() error
}

// Dialer 建立连接
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// CloseError 对端发来的关闭帧
type CloseError struct {
	Code   int
	Reason string
}

func (e *CloseError) Error() string {
	return "connection closed: " + e.Reason
}

// NormalClosure 正常关闭码，只有它被视为有意断开
const NormalClosure = 1000

// IsCleanClose 判断错误是否为对端的正常关闭
func IsCleanClose(err error) bool {
	var ce *CloseError
	return errors.As(err, &ce) && ce.Code == NormalClosure
}
