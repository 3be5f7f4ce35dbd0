package protocol

import "time"

// RoomEventType 房间生命周期事件类型
type RoomEventType string

const (
	EventRoomCreated RoomEventType = "room_created"
	EventRoomPaired  RoomEventType = "room_paired"
	EventPartnerLeft RoomEventType = "partner_left"
	EventRoomDeleted RoomEventType = "room_deleted"
	EventRoomExpired RoomEventType = "room_expired"
	EventRoomClosed  RoomEventType = "room_closed" // 运维强制关闭
)

// RoomEvent 房间生命周期事件，发布到 Kafka 时以 msgpack 编码
type RoomEvent struct {
	ID           string        `msgpack:"id"`
	Type         RoomEventType `msgpack:"type"`
	RoomCode     string        `msgpack:"room_code"`
	PeerID       string        `msgpack:"peer_id,omitempty"`
	Participants int           `msgpack:"participants"`
	Age          time.Duration `msgpack:"age"`
	Timestamp    time.Time     `msgpack:"ts"`
}
