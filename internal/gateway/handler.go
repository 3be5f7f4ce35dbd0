package gateway

import (
	"github.com/qiminjie89/motionlink/internal/protocol"
	"github.com/qiminjie89/motionlink/internal/roomserver"
	"github.com/qiminjie89/motionlink/pkg/logger"
	"github.com/qiminjie89/motionlink/pkg/metrics"
	"go.uber.org/zap"
)

// dispatch 解析一帧并按 type 分发
// 单帧错误只回复 ERROR，不断开连接；处理中的 panic 只影响发送方
func (s *Server) dispatch(conn *Connection, data []byte) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic while handling message",
				zap.String("conn_id", conn.ID()),
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
			conn.sendError(protocol.NewError(protocol.CodeServerError, ""))
		}
	}()

	if !conn.limiter.Allow() {
		metrics.RateLimited.Inc()
		conn.sendError(protocol.NewError(protocol.CodeRateLimited, ""))
		return
	}

	env, err := protocol.ParseEnvelope(data)
	if err != nil {
		logger.Debug("invalid envelope",
			zap.String("conn_id", conn.ID()),
			zap.Int("size", len(data)),
		)
		conn.sendError(err)
		return
	}

	metrics.MessagesReceived.WithLabelValues(typeLabel(env.Type)).Inc()

	if protocol.IsRelayType(env.Type) {
		s.handleRelay(conn, env.Type, data)
		return
	}

	switch env.Type {
	case protocol.TypeCreateRoom:
		s.handleCreateRoom(conn)
	case protocol.TypeJoinRoom:
		s.handleJoinRoom(conn, env)
	case protocol.TypeLeaveRoom:
		s.handleLeaveRoom(conn)
	case protocol.TypePing:
		conn.Send(protocol.EncodeNotice(protocol.TypePong))
	default:
		logger.Debug("unknown message type",
			zap.String("conn_id", conn.ID()),
			zap.String("type", env.Type),
		)
		conn.sendError(protocol.NewError(protocol.CodeUnknownMessageType, ""))
	}
}

// handleCreateRoom ROOM_CREATED 由房间表在锁内下发
func (s *Server) handleCreateRoom(conn *Connection) {
	if _, err := s.registry.CreateRoomFor(conn); err != nil {
		conn.sendError(err)
	}
}

// handleJoinRoom CONNECTION_SUCCESS / ROOM_FULL 由房间表在锁内下发
func (s *Server) handleJoinRoom(conn *Connection, env *protocol.Envelope) {
	code, ok := env.RoomCode()
	if !ok {
		conn.sendError(roomserver.ErrInvalidRoomCode)
		return
	}

	if err := s.registry.JoinRoom(code, conn); err != nil {
		logger.Debug("join room rejected",
			zap.String("conn_id", conn.ID()),
			zap.String("room_code", code),
			zap.Error(err),
		)
		conn.sendError(err)
	}
}

// handleLeaveRoom 不在房间时同样回复 ROOM_LEFT
func (s *Server) handleLeaveRoom(conn *Connection) {
	s.registry.LeaveRoom(conn)
	conn.Send(protocol.EncodeNotice(protocol.TypeRoomLeft))
}

// handleRelay 转发成功不回复
func (s *Server) handleRelay(conn *Connection, msgType string, frame []byte) {
	if err := s.router.Route(conn, msgType, frame); err != nil {
		conn.sendError(err)
	}
}

// typeLabel 限制监控标签取值
func typeLabel(t string) string {
	switch t {
	case protocol.TypeCreateRoom, protocol.TypeJoinRoom, protocol.TypeLeaveRoom, protocol.TypePing:
		return t
	}
	if protocol.IsRelayType(t) {
		return t
	}
	return "unknown"
}
