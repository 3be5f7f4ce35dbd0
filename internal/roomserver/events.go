package roomserver

import (
	"github.com/google/uuid"
	"github.com/qiminjie89/motionlink/internal/protocol"
)

// EventSink 房间生命周期事件接收方
// Publish 在房间表持锁期间调用，必须非阻塞，队列满时应丢弃
type EventSink interface {
	Publish(evt protocol.RoomEvent)
}

type nopSink struct{}

func (nopSink) Publish(protocol.RoomEvent) {}

// event 构造事件，调用方持有锁；事件在锁内交给 sink，同一房间的事件保持发生顺序
func (r *Registry) event(t protocol.RoomEventType, room *Room, peerID string) protocol.RoomEvent {
	now := r.now()
	return protocol.RoomEvent{
		ID:           uuid.NewString(),
		Type:         t,
		RoomCode:     room.Code,
		PeerID:       peerID,
		Participants: len(room.Participants),
		Age:          now.Sub(room.CreatedAt),
		Timestamp:    now,
	}
}
