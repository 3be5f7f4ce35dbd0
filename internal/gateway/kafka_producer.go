package gateway

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/qiminjie89/motionlink/internal/protocol"
	"github.com/qiminjie89/motionlink/pkg/logger"
	"github.com/qiminjie89/motionlink/pkg/metrics"
	"go.uber.org/zap"
)

const (
	eventWriteTimeout  = 5 * time.Second
	defaultEventsQueue = 1024
)

// MessageWriter 事件写出端，pkg/kafka.Producer 实现了它
type MessageWriter interface {
	Send(ctx context.Context, key, value []byte) error
	Close() error
}

// EventPublisher 异步发布房间生命周期事件
// Publish 由房间表调用，只做非阻塞入队；队列满时丢弃
type EventPublisher struct {
	writer  MessageWriter
	queue   chan protocol.RoomEvent
	healthy atomic.Bool
}

// NewEventPublisher 创建事件发布器
func NewEventPublisher(writer MessageWriter, queueSize int) *EventPublisher {
	if queueSize <= 0 {
		queueSize = defaultEventsQueue
	}
	p := &EventPublisher{
		writer: writer,
		queue:  make(chan protocol.RoomEvent, queueSize),
	}
	p.healthy.Store(true)
	return p
}

// Publish 实现 roomserver.EventSink
func (p *EventPublisher) Publish(evt protocol.RoomEvent) {
	select {
	case p.queue <- evt:
	default:
		metrics.EventsDropped.Inc()
		logger.Debug("room event dropped",
			zap.String("event", string(evt.Type)),
			zap.String("room_code", evt.RoomCode),
		)
	}
}

// Run 写出循环，ctx 取消后把已入队的事件写完再返回
func (p *EventPublisher) Run(ctx context.Context) {
	for {
		select {
		case evt := <-p.queue:
			p.write(evt)
		case <-ctx.Done():
			p.drain()
			return
		}
	}
}

func (p *EventPublisher) drain() {
	for {
		select {
		case evt := <-p.queue:
			p.write(evt)
		default:
			return
		}
	}
}

func (p *EventPublisher) write(evt protocol.RoomEvent) {
	data, err := protocol.Encode(&evt)
	if err != nil {
		logger.Warn("encode room event failed",
			zap.String("event", string(evt.Type)),
			zap.Error(err),
		)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), eventWriteTimeout)
	defer cancel()

	// 以房间码为 key，同一房间的事件保持顺序
	if err := p.writer.Send(ctx, []byte(evt.RoomCode), data); err != nil {
		p.healthy.Store(false)
		logger.Warn("publish room event failed",
			zap.String("event", string(evt.Type)),
			zap.String("room_code", evt.RoomCode),
			zap.Error(err),
		)
		return
	}
	p.healthy.Store(true)
}

// Healthy 最近一次写出是否成功
func (p *EventPublisher) Healthy() bool {
	return p.healthy.Load()
}

// Close 关闭写出端
func (p *EventPublisher) Close() error {
	return p.writer.Close()
}
