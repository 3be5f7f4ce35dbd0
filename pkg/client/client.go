// Package client 实现对端的连接保持状态机：建连超时、指数退避重连、错误分类
package client

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/qiminjie89/motionlink/pkg/logger"
	"github.com/qiminjie89/motionlink/pkg/transport"
	"go.uber.org/zap"
)

// Config 客户端配置
type Config struct {
	URL            string
	ConnectTimeout time.Duration // 单次建连超时，与传输层超时无关
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	MaxAttempts    int // 连续重连次数上限，超过后进入 Failed

	IncomingSize int
	ChangesSize  int
}

// DefaultConfig 默认配置
func DefaultConfig(url string) Config {
	return Config{
		URL:            url,
		ConnectTimeout: 10 * time.Second,
		BaseDelay:      500 * time.Millisecond,
		MaxDelay:       30 * time.Second,
		MaxAttempts:    8,
		IncomingSize:   256,
		ChangesSize:    64,
	}
}

func (c *Config) setDefaults() {
	def := DefaultConfig(c.URL)
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = def.ConnectTimeout
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = def.BaseDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = def.MaxDelay
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = def.MaxAttempts
	}
	if c.IncomingSize <= 0 {
		c.IncomingSize = def.IncomingSize
	}
	if c.ChangesSize <= 0 {
		c.ChangesSize = def.ChangesSize
	}
}

// Option 客户端选项
type Option func(*Client)

// WithTimer 替换定时器来源（测试使用）
func WithTimer(after func(time.Duration) <-chan time.Time) Option {
	return func(c *Client) { c.after = after }
}

// WithLogger 设置日志
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.log = l }
}

// Client 维持一条到网关的逻辑连接
// Run 只能调用一次；Send/State/Close 可以并发调用
type Client struct {
	cfg     Config
	dialer  transport.Dialer
	backoff Backoff
	after   func(time.Duration) <-chan time.Time
	log     *zap.Logger

	mu    sync.Mutex
	state State
	conn  transport.Conn

	writeMu sync.Mutex

	incoming chan []byte
	changes  chan StateChange

	closeCh   chan struct{}
	closeOnce sync.Once
}

// New 创建客户端
func New(cfg Config, dialer transport.Dialer, opts ...Option) *Client {
	cfg.setDefaults()

	c := &Client{
		cfg:      cfg,
		dialer:   dialer,
		backoff:  Backoff{Base: cfg.BaseDelay, Max: cfg.MaxDelay},
		after:    time.After,
		state:    StateDisconnected,
		incoming: make(chan []byte, cfg.IncomingSize),
		changes:  make(chan StateChange, cfg.ChangesSize),
		closeCh:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = logger.L()
	}
	return c
}

// Incoming 收到的消息，Run 返回后关闭
func (c *Client) Incoming() <-chan []byte {
	return c.incoming
}

// StateChanges 状态迁移通知，消费不及时会丢弃
func (c *Client) StateChanges() <-chan StateChange {
	return c.changes
}

// State 当前状态
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Send 在当前连接上发送一条消息
func (c *Client) Send(data []byte) error {
	if c.isClosed() {
		return ErrClosed
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.WriteMessage(data); err != nil {
		return fmt.Errorf("client send: %w", err)
	}
	return nil
}

// Close 以关闭码 1000 断开连接并结束 Run，不会触发重连
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.closeCh)

		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
	})
}

func (c *Client) isClosed() bool {
	select {
	case <-c.closeCh:
		return true
	default:
		return false
	}
}

// Run 驱动状态机，直到：
//   - ctx 取消或 Close 被调用：返回 nil，状态 Disconnected
//   - 对端正常关闭（1000）：返回 nil，状态 Disconnected
//   - 重连次数耗尽：返回 ErrReconnectExhausted，状态 Failed
func (c *Client) Run(ctx context.Context) error {
	defer close(c.incoming)

	attempt := 0
	for {
		c.setState(StateConnecting, 0, nil)

		conn, err := c.connect(ctx)
		if err == nil {
			attempt = 0
			c.setConn(conn)
			c.setState(StateConnected, 0, nil)

			err = c.readLoop(ctx, conn)
			c.setConn(nil)
			conn.Close()
		}

		if ctx.Err() != nil || c.isClosed() {
			c.setState(StateDisconnected, 0, nil)
			return nil
		}

		switch Classify(err) {
		case OutcomeClean:
			c.log.Info("connection closed by peer", zap.String("url", c.cfg.URL))
			c.setState(StateDisconnected, 0, err)
			return nil
		case OutcomeFatal:
			c.setState(StateFailed, attempt, err)
			return err
		}

		if attempt >= c.cfg.MaxAttempts {
			c.log.Warn("reconnect attempts exhausted",
				zap.String("url", c.cfg.URL),
				zap.Int("attempts", attempt),
				zap.Error(err),
			)
			c.setState(StateFailed, attempt, err)
			return fmt.Errorf("%w: %v", ErrReconnectExhausted, err)
		}

		delay := c.backoff.Delay(attempt)
		attempt++
		c.log.Debug("scheduling reconnect",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		c.setState(StateReconnecting, attempt, err)

		select {
		case <-c.after(delay):
		case <-ctx.Done():
			c.setState(StateDisconnected, 0, nil)
			return nil
		case <-c.closeCh:
			c.setState(StateDisconnected, 0, nil)
			return nil
		}
	}
}

type dialResult struct {
	conn transport.Conn
	err  error
}

// connect 带超时的建连，超时后迟到的连接会被关闭
func (c *Client) connect(ctx context.Context) (transport.Conn, error) {
	dctx, cancel := context.WithCancel(ctx)
	defer cancel()

	resultCh := make(chan dialResult, 1)
	go func() {
		conn, err := c.dialer.Dial(dctx, c.cfg.URL)
		resultCh <- dialResult{conn: conn, err: err}
	}()

	abandon := func() {
		go func() {
			if r := <-resultCh; r.conn != nil {
				r.conn.Close()
			}
		}()
	}

	select {
	case r := <-resultCh:
		if r.err != nil {
			return nil, fmt.Errorf("dial %s: %w", c.cfg.URL, r.err)
		}
		return r.conn, nil
	case <-c.after(c.cfg.ConnectTimeout):
		abandon()
		return nil, ErrConnectTimeout
	case <-ctx.Done():
		abandon()
		return nil, ctx.Err()
	case <-c.closeCh:
		abandon()
		return nil, ErrClosed
	}
}

// readLoop 读取直到连接出错，ctx 取消时关闭连接使读取返回
func (c *Client) readLoop(ctx context.Context, conn transport.Conn) error {
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		data, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		select {
		case c.incoming <- data:
		case <-ctx.Done():
			return ctx.Err()
		case <-c.closeCh:
			return ErrClosed
		}
	}
}

func (c *Client) setConn(conn transport.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	// Close 在 setConn 之前执行时，这里补上关闭
	if conn != nil && c.isClosed() {
		conn.Close()
	}
}

func (c *Client) setState(to State, attempt int, err error) {
	c.mu.Lock()
	from := c.state
	c.state = to
	c.mu.Unlock()

	if from == to {
		return
	}

	select {
	case c.changes <- StateChange{From: from, To: to, Attempt: attempt, Err: err}:
	default:
	}
}

// IsRetryable 错误是否应触发重连
func IsRetryable(err error) bool {
	return err != nil && Classify(err) == OutcomeRetry
}
