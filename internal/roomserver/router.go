package roomserver

import (
	"github.com/qiminjie89/motionlink/pkg/logger"
	"github.com/qiminjie89/motionlink/pkg/metrics"
	"go.uber.org/zap"
)

// Router 把一个连接的消息转发给同房间的对端
// payload 对 Router 不透明，帧原样转发
type Router struct {
	registry *Registry
}

// NewRouter 创建路由
func NewRouter(registry *Registry) *Router {
	return &Router{registry: registry}
}

// Route 转发一帧给 from 的房间对端
// 对端发送队列不可写时返回 ErrSendFailed，对端连接不因单次失败被关闭
func (rt *Router) Route(from Peer, msgType string, frame []byte) error {
	err := rt.route(from, frame)
	if err != nil {
		metrics.RouteFailures.WithLabelValues(errorCode(err)).Inc()
		return err
	}
	metrics.MessagesRelayed.WithLabelValues(msgType).Inc()
	return nil
}

func (rt *Router) route(from Peer, frame []byte) error {
	reg := rt.registry

	// 读锁内完成查找和非阻塞入队，离开房间需要写锁，
	// 所以入队时对端一定还在房间里
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	code, ok := reg.peerRooms[from.ID()]
	if !ok {
		return ErrNoRoom
	}

	room, ok := reg.rooms[code]
	if !ok {
		return ErrRoomVanished
	}

	partner := room.partnerOf(from)
	if partner == nil {
		return ErrNoPartner
	}

	if !partner.Send(frame) {
		logger.Debug("relay to partner failed",
			zap.String("room_code", code),
			zap.String("from", from.ID()),
			zap.String("to", partner.ID()),
		)
		return ErrSendFailed
	}
	return nil
}
