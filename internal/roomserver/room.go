package roomserver

import (
	"time"
)

// MaxParticipants 每个房间最多两个参与者（显示端 + 控制端）
const MaxParticipants = 2

// RoomStatus 房间状态
type RoomStatus int

const (
	StatusWaiting RoomStatus = iota // 1 人等待配对
	StatusPaired                    // 2 人已配对
)

func (s RoomStatus) String() string {
	switch s {
	case StatusWaiting:
		return "waiting"
	case StatusPaired:
		return "paired"
	default:
		return "unknown"
	}
}

// Peer 一条在线连接
// Send 必须非阻塞：房间表持锁期间会调用它投递通知
type Peer interface {
	ID() string
	// Send 将一帧放入该连接的有序发送队列，连接已关闭或队列满时返回 false
	Send(data []byte) bool
	// CloseWith 以指定的 WebSocket 关闭码关闭连接
	CloseWith(code int, reason string)
}

// Room 房间数据结构，只能在 Registry 的锁内访问
type Room struct {
	Code         string
	Participants []Peer // 按加入顺序，最多 MaxParticipants 个
	CreatedAt    time.Time
	Status       RoomStatus
}

func newRoom(code string, now time.Time) *Room {
	return &Room{
		Code:         code,
		Participants: make([]Peer, 0, MaxParticipants),
		CreatedAt:    now,
		Status:       StatusWaiting,
	}
}

// partnerOf 返回房间里除 p 以外的参与者
func (r *Room) partnerOf(p Peer) Peer {
	for _, other := range r.Participants {
		if other.ID() != p.ID() {
			return other
		}
	}
	return nil
}

// remove 移除参与者，返回是否找到
func (r *Room) remove(p Peer) bool {
	for i, other := range r.Participants {
		if other.ID() == p.ID() {
			r.Participants = append(r.Participants[:i], r.Participants[i+1:]...)
			return true
		}
	}
	return false
}

// RoomInfo 房间只读快照
type RoomInfo struct {
	Code      string
	Status    RoomStatus
	PeerIDs   []string
	CreatedAt time.Time
}

func (r *Room) info() RoomInfo {
	ids := make([]string, 0, len(r.Participants))
	for _, p := range r.Participants {
		ids = append(ids, p.ID())
	}
	return RoomInfo{
		Code:      r.Code,
		Status:    r.Status,
		PeerIDs:   ids,
		CreatedAt: r.CreatedAt,
	}
}
