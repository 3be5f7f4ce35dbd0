package transport

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocketConfig WebSocket 配置
type WebSocketConfig struct {
	ReadBufferSize   int
	WriteBufferSize  int
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	Header           http.Header
}

// DefaultWebSocketConfig 默认配置
func DefaultWebSocketConfig() WebSocketConfig {
	return WebSocketConfig{
		ReadBufferSize:   4096,
		WriteBufferSize:  4096,
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     5 * time.Second,
	}
}

// WebSocketDialer 基于 gorilla/websocket 的 Dialer
type WebSocketDialer struct {
	cfg    WebSocketConfig
	dialer *websocket.Dialer
}

// NewWebSocketDialer 创建 WebSocket Dialer
func NewWebSocketDialer(cfg WebSocketConfig) *WebSocketDialer {
	return &WebSocketDialer{
		cfg: cfg,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			ReadBufferSize:   cfg.ReadBufferSize,
			WriteBufferSize:  cfg.WriteBufferSize,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
	}
}

// Dial 建立连接，ctx 取消或超时会中断握手
func (d *WebSocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	conn, _, err := d.dialer.DialContext(ctx, url, d.cfg.Header)
	if err != nil {
		return nil, err
	}
	return &WebSocketConn{conn: conn, writeTimeout: d.cfg.WriteTimeout}, nil
}

// WebSocketConn WebSocket 连接实现
type WebSocketConn struct {
	conn         *websocket.Conn
	writeTimeout time.Duration

	closeOnce sync.Once
	closeErr  error
}

// ReadMessage 读取一条消息，关闭帧转换为 *CloseError
func (c *WebSocketConn) ReadMessage() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		var ce *websocket.CloseError
		if errors.As(err, &ce) {
			return nil, &CloseError{Code: ce.Code, Reason: ce.Text}
		}
		return nil, err
	}
	return data, nil
}

// WriteMessage 写入文本消息
func (c *WebSocketConn) WriteMessage(data []byte) error {
	if c.writeTimeout > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Close 发送正常关闭帧后关闭底层连接，可重复调用
func (c *WebSocketConn) Close() error {
	c.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

// Underlying 返回底层 websocket.Conn
func (c *WebSocketConn) Underlying() *websocket.Conn {
	return c.conn
}
