// Package gateway 实现中继服务的接入层：WebSocket 连接、消息分发和 HTTP 运维接口
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/qiminjie89/motionlink/internal/roomserver"
	"github.com/qiminjie89/motionlink/pkg/auth"
	"github.com/qiminjie89/motionlink/pkg/config"
	"github.com/qiminjie89/motionlink/pkg/kafka"
	"github.com/qiminjie89/motionlink/pkg/logger"
	"go.uber.org/zap"
)

// Server 中继服务器
type Server struct {
	cfg *config.ServerConfig

	registry *roomserver.Registry
	router   *roomserver.Router
	sweeper  *roomserver.Sweeper
	events   *EventPublisher // 未配置 Kafka 时为 nil
	admin    *auth.JWTValidator

	upgrader websocket.Upgrader

	// 连接管理
	connections map[string]*Connection // conn_id → connection
	connMu      sync.RWMutex

	startedAt  time.Time
	httpServer *http.Server
	listener   net.Listener

	closing atomic.Bool

	// 后台任务在生产环境 panic 或 HTTP 服务异常退出时，通知进程优雅退出
	fatalCh chan error

	// 生命周期
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option Server 选项
type Option func(*serverOptions)

type serverOptions struct {
	eventWriter    MessageWriter
	registryOption []roomserver.Option
}

// WithEventWriter 指定房间事件的写出端，优先于 Kafka 配置
func WithEventWriter(w MessageWriter) Option {
	return func(o *serverOptions) { o.eventWriter = w }
}

// WithRegistryOptions 透传房间表选项
func WithRegistryOptions(opts ...roomserver.Option) Option {
	return func(o *serverOptions) { o.registryOption = append(o.registryOption, opts...) }
}

// NewServer 创建服务器
func NewServer(cfg *config.ServerConfig, opts ...Option) (*Server, error) {
	var o serverOptions
	for _, opt := range opts {
		opt(&o)
	}

	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		cfg:         cfg,
		connections: make(map[string]*Connection),
		startedAt:   time.Now(),
		fatalCh:     make(chan error, 1),
		ctx:         ctx,
		cancel:      cancel,
		upgrader: websocket.Upgrader{
			ReadBufferSize:   cfg.WebSocket.ReadBufferSize,
			WriteBufferSize:  cfg.WebSocket.WriteBufferSize,
			HandshakeTimeout: cfg.WebSocket.HandshakeTimeout,
			CheckOrigin: func(r *http.Request) bool {
				return true // 显示端和手机控制端来自不同页面
			},
		},
	}

	writer := o.eventWriter
	if writer == nil && len(cfg.Kafka.Brokers) > 0 {
		producer, err := kafka.NewProducer(kafka.ProducerConfig{
			Brokers:      cfg.Kafka.Brokers,
			Topic:        cfg.Kafka.Topic,
			BatchSize:    cfg.Kafka.BatchSize,
			BatchTimeout: cfg.Kafka.BatchTimeout,
			WriteTimeout: eventWriteTimeout,
		})
		if err != nil {
			cancel()
			return nil, fmt.Errorf("create kafka producer: %w", err)
		}
		writer = producer
	}

	regOpts := []roomserver.Option{roomserver.WithCodeAttempts(cfg.Room.CodeAttempts)}
	if writer != nil {
		s.events = NewEventPublisher(writer, cfg.Kafka.QueueSize)
		regOpts = append(regOpts, roomserver.WithEventSink(s.events))
	}
	regOpts = append(regOpts, o.registryOption...)

	s.registry = roomserver.NewRegistry(regOpts...)
	s.router = roomserver.NewRouter(s.registry)
	s.sweeper = roomserver.NewSweeper(s.registry, cfg.Room.MaxAge, cfg.Room.SweepInterval)

	if cfg.Admin.JWTSecret != "" {
		s.admin = auth.NewJWTValidator(cfg.Admin.JWTSecret)
	}

	return s, nil
}

// Start 监听端口并启动后台任务
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr(), err)
	}
	s.listener = ln

	logger.Info("starting relay server",
		zap.String("addr", ln.Addr().String()),
		zap.String("env", s.cfg.Server.Env),
		zap.Duration("room_max_age", s.cfg.Room.MaxAge),
		zap.Bool("events_enabled", s.events != nil),
		zap.Bool("admin_enabled", s.admin != nil),
	)

	// 启动房间清理
	s.runTask("sweeper", func() { s.sweeper.Run(s.ctx) })

	// 启动房间事件发布
	if s.events != nil {
		s.runTask("event_publisher", func() { s.events.Run(s.ctx) })
	}

	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: s.cfg.WebSocket.HandshakeTimeout,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			s.reportFatal(err)
		}
	}()

	logger.Info("relay server started")
	return nil
}

// Addr 实际监听地址，Start 之前为空
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop 优雅关闭：停止接收新连接，以 going-away 关闭所有连接，停止后台任务
func (s *Server) Stop(ctx context.Context) error {
	logger.Info("stopping relay server")
	s.closing.Store(true)

	var errs []error
	if s.httpServer != nil {
		// Shutdown 不会关闭已升级的 WebSocket 连接
		if err := s.httpServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
	}

	closed := s.closeAllConnections("server shutting down")
	s.cancel()
	s.wg.Wait()

	if s.events != nil {
		if err := s.events.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close event publisher: %w", err))
		}
	}

	logger.Info("relay server stopped", zap.Int("closed_connections", closed))
	return errors.Join(errs...)
}

// Fatal 后台任务 panic（仅生产环境）或 HTTP 服务异常退出时收到错误
// 单个连接处理消息时的 panic 在 dispatch 内恢复，不会出现在这里
func (s *Server) Fatal() <-chan error {
	return s.fatalCh
}

// runTask 启动后台任务
// 任务 panic 时，生产环境记录日志并通知优雅退出，其他环境继续向上 panic
func (s *Server) runTask(name string, fn func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				logger.Error("background task panicked",
					zap.String("task", name),
					zap.Any("panic", r),
					zap.Stack("stack"),
				)
				if !s.cfg.IsProduction() {
					panic(r)
				}
				s.reportFatal(fmt.Errorf("%s panicked: %v", name, r))
			}
		}()
		fn()
	}()
}

func (s *Server) reportFatal(err error) {
	select {
	case s.fatalCh <- err:
	default:
	}
}

// Registry 返回房间表
func (s *Server) Registry() *roomserver.Registry {
	return s.registry
}

// Stats 服务快照
func (s *Server) Stats() roomserver.ServerStats {
	return roomserver.Snapshot(s.registry, s.ConnectionCount(), s.startedAt)
}

// AddConnection 添加连接
func (s *Server) AddConnection(conn *Connection) {
	s.connMu.Lock()
	s.connections[conn.ID()] = conn
	s.connMu.Unlock()
}

// RemoveConnection 移除连接
func (s *Server) RemoveConnection(connID string) {
	s.connMu.Lock()
	delete(s.connections, connID)
	s.connMu.Unlock()
}

// ConnectionCount 当前连接数
func (s *Server) ConnectionCount() int {
	s.connMu.RLock()
	defer s.connMu.RUnlock()
	return len(s.connections)
}

func (s *Server) closeAllConnections(reason string) int {
	s.connMu.RLock()
	conns := make([]*Connection, 0, len(s.connections))
	for _, c := range s.connections {
		conns = append(conns, c)
	}
	s.connMu.RUnlock()

	for _, c := range conns {
		c.CloseWith(websocket.CloseGoingAway, reason)
	}
	return len(conns)
}

func (s *Server) shuttingDown() bool {
	return s.closing.Load()
}
