package gateway

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/qiminjie89/motionlink/internal/protocol"
	"github.com/qiminjie89/motionlink/pkg/config"
	"github.com/qiminjie89/motionlink/pkg/logger"
	"github.com/qiminjie89/motionlink/pkg/metrics"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const closeWriteWait = time.Second

// Connection 表示一个对端连接，实现 roomserver.Peer
// 所有下行帧都经过 sendCh，由唯一的 writeLoop 按入队顺序写出
type Connection struct {
	id         string
	ws         *websocket.Conn
	remoteAddr string

	// 下行消息队列
	sendCh chan []byte

	// 上行限流
	limiter *rate.Limiter

	cfg *config.ConnectionConfig

	connectedAt time.Time

	// closed 与 Send 互斥，关闭后 Send 一律失败
	mu     sync.Mutex
	closed bool

	// 关闭控制
	closeOnce sync.Once
	closeCh   chan struct{}

	// 所属服务器
	server *Server
}

// NewConnection 创建连接
func NewConnection(ws *websocket.Conn, remoteAddr string, cfg *config.ConnectionConfig, protection *config.ProtectionConfig, server *Server) *Connection {
	limit := rate.Inf
	if protection.MessageRate > 0 {
		limit = rate.Limit(protection.MessageRate)
	}
	// 突发容量为 0 时限流器不放行任何消息
	burst := max(protection.MessageBurst, 1)

	return &Connection{
		id:          uuid.NewString(),
		ws:          ws,
		remoteAddr:  remoteAddr,
		sendCh:      make(chan []byte, cfg.SendChSize),
		limiter:     rate.NewLimiter(limit, burst),
		cfg:         cfg,
		connectedAt: time.Now(),
		closeCh:     make(chan struct{}),
		server:      server,
	}
}

// ID 连接 ID
func (c *Connection) ID() string {
	return c.id
}

// Start 启动连接的读写循环
func (c *Connection) Start(maxMessageSize int64) {
	c.ws.SetReadLimit(maxMessageSize)
	go c.readLoop()
	go c.writeLoop()
}

// readLoop 读循环，所有上行消息在这里串行分发
func (c *Connection) readLoop() {
	reason := "read_error"
	defer func() {
		code := websocket.CloseNormalClosure
		if reason == "message_too_large" {
			code = websocket.CloseMessageTooBig
		}
		c.close(code, reason)
		// 读循环退出后不会再有加入房间的请求，这里再清理一次
		c.server.registry.LeaveRoom(c)
	}()

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			reason = readCloseReason(err)
			logger.Debug("connection read ended",
				zap.String("conn_id", c.id),
				zap.String("reason", reason),
				zap.Error(err),
			)
			return
		}

		c.server.dispatch(c, data)
	}
}

// writeLoop 写循环
func (c *Connection) writeLoop() {
	for {
		select {
		case <-c.closeCh:
			return

		case msg := <-c.sendCh:
			c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				logger.Debug("connection write failed",
					zap.String("conn_id", c.id),
					zap.Error(err),
				)
				c.close(websocket.CloseInternalServerErr, "write_error")
				return
			}
		}
	}
}

// Send 发送消息到队列（非阻塞），连接已关闭或队列满时返回 false
func (c *Connection) Send(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}

	select {
	case c.sendCh <- data:
		return true
	default:
		return false
	}
}

// CloseWith 以指定关闭码关闭连接（清理过期房间、运维关闭、服务停止）
func (c *Connection) CloseWith(code int, reason string) {
	c.close(code, reason)
}

// sendError 向本连接下发错误通知
func (c *Connection) sendError(err error) {
	var perr *protocol.Error
	if !errors.As(err, &perr) {
		perr = protocol.NewError(protocol.CodeServerError, "")
	}

	metrics.ProtocolErrors.WithLabelValues(string(perr.Code)).Inc()
	if !c.Send(protocol.EncodeError(perr)) {
		logger.Debug("error notice dropped",
			zap.String("conn_id", c.id),
			zap.String("code", string(perr.Code)),
		)
	}
}

// close 关闭连接
// 先离开房间再标记关闭：Router 持有房间表读锁时会调用 Send，
// 这里不能在持有 c.mu 的情况下去拿房间表的锁
func (c *Connection) close(code int, reason string) {
	c.closeOnce.Do(func() {
		c.server.registry.LeaveRoom(c)

		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()

		close(c.closeCh)

		msg := websocket.FormatCloseMessage(wireCloseCode(code), reason)
		c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWriteWait))
		c.ws.Close()

		c.server.RemoveConnection(c.id)

		duration := time.Since(c.connectedAt)
		metrics.ConnectionCloseReason.WithLabelValues(closeReasonLabel(reason)).Inc()
		metrics.ConnectionDuration.Observe(duration.Seconds())
		metrics.Connections.Dec()

		logger.Info("connection closed",
			zap.String("conn_id", c.id),
			zap.String("remote_addr", c.remoteAddr),
			zap.String("reason", reason),
			zap.Int("close_code", code),
			zap.Duration("duration", duration),
		)
	})
}

// wireCloseCode 1005/1006/1015 只用于本地表示，不能出现在关闭帧里
func wireCloseCode(code int) int {
	switch code {
	case websocket.CloseNoStatusReceived, websocket.CloseAbnormalClosure, websocket.CloseTLSHandshake:
		return websocket.CloseInternalServerErr
	default:
		return code
	}
}

// readCloseReason 根据读错误归类关闭原因
func readCloseReason(err error) string {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		return "message_too_large"
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
		return "client_closed"
	case websocket.IsUnexpectedCloseError(err):
		return "client_gone"
	default:
		return "read_error"
	}
}

// closeReasonLabel 限制监控标签取值
func closeReasonLabel(reason string) string {
	switch reason {
	case "read_error", "write_error", "message_too_large", "client_closed", "client_gone":
		return reason
	case "room expired":
		return "room_expired"
	case "server shutting down":
		return "shutdown"
	default:
		return "closed_by_server"
	}
}
