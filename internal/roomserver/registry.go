package roomserver

import (
	"math/rand/v2"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/qiminjie89/motionlink/internal/protocol"
	"github.com/qiminjie89/motionlink/pkg/logger"
	"github.com/qiminjie89/motionlink/pkg/metrics"
	"go.uber.org/zap"
)

const (
	minRoomCode = 1000
	maxRoomCode = 9999

	// DefaultCodeAttempts 生成房间码的最大尝试次数
	DefaultCodeAttempts = 20
)

// Registry 房间表（房间码 → 房间）
// 职责：
//   - 房间生命周期管理（创建/加入/离开/过期/强制关闭）
//   - 维护 peer → room 反向索引，与正向映射在同一把锁内更新
//   - 房间状态通知在锁内入队，保证同一连接上通知的先后顺序
//
// 锁内只做内存操作和非阻塞入队，关闭连接等 I/O 在释放锁之后进行
type Registry struct {
	mu        sync.RWMutex
	rooms     map[string]*Room  // code → Room
	peerRooms map[string]string // peer_id → code

	now          func() time.Time
	nextCode     func() int
	codeAttempts int
	sink         EventSink
}

// Option Registry 选项
type Option func(*Registry)

// WithClock 替换时钟（测试使用）
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithCodeSource 替换房间码随机源
func WithCodeSource(next func() int) Option {
	return func(r *Registry) { r.nextCode = next }
}

// WithCodeAttempts 设置房间码生成的最大尝试次数
func WithCodeAttempts(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.codeAttempts = n
		}
	}
}

// WithEventSink 设置房间生命周期事件的接收方
func WithEventSink(sink EventSink) Option {
	return func(r *Registry) {
		if sink != nil {
			r.sink = sink
		}
	}
}

// NewRegistry 创建房间表
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		rooms:        make(map[string]*Room),
		peerRooms:    make(map[string]string),
		now:          time.Now,
		nextCode:     randomCode,
		codeAttempts: DefaultCodeAttempts,
		sink:         nopSink{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func randomCode() int {
	return minRoomCode + rand.IntN(maxRoomCode-minRoomCode+1)
}

// CreateRoom 创建一个空房间
func (r *Registry) CreateRoom() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	defer r.updateGaugesLocked()

	code, err := r.createLocked()
	if err != nil {
		return "", err
	}
	r.sink.Publish(r.event(protocol.EventRoomCreated, r.rooms[code], ""))
	return code, nil
}

// CreateRoomFor 创建房间并让创建者加入，在锁内向创建者下发 ROOM_CREATED
// 先分配房间码，成功后创建者如已在其他房间再离开；分配失败时不改变任何状态
func (r *Registry) CreateRoomFor(peer Peer) (string, error) {
	code, err := r.createFor(peer)
	if err != nil {
		return "", err
	}

	logger.Info("room created",
		zap.String("room_code", code),
		zap.String("peer_id", peer.ID()),
	)
	return code, nil
}

func (r *Registry) createFor(peer Peer) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	defer r.updateGaugesLocked()

	code, err := r.createLocked()
	if err != nil {
		return "", err
	}

	r.leaveLocked(peer)

	room := r.rooms[code]
	room.Participants = append(room.Participants, peer)
	r.peerRooms[peer.ID()] = code
	peer.Send(protocol.EncodeRoomCreated(code))
	r.sink.Publish(r.event(protocol.EventRoomCreated, room, peer.ID()))
	return code, nil
}

// createLocked 生成不冲突的房间码并插入空房间，调用方持有写锁
func (r *Registry) createLocked() (string, error) {
	for i := 0; i < r.codeAttempts; i++ {
		code := formatCode(r.nextCode())
		if code == "" {
			continue
		}
		if _, exists := r.rooms[code]; exists {
			continue
		}
		r.rooms[code] = newRoom(code, r.now())
		return code, nil
	}

	logger.Warn("room code allocation exhausted",
		zap.Int("attempts", r.codeAttempts),
		zap.Int("live_rooms", len(r.rooms)),
	)
	return "", ErrRoomCreationExhausted
}

// JoinRoom 加入房间
// 成功时在锁内先向加入者下发 CONNECTION_SUCCESS，人满后向双方下发 ROOM_FULL
// 房间不存在、已满、或加入者已在该房间，统一返回 ErrRoomUnavailable
func (r *Registry) JoinRoom(code string, peer Peer) error {
	if !protocol.ValidRoomCode(code) {
		return ErrInvalidRoomCode
	}

	participants, err := r.join(code, peer)
	if err != nil {
		return err
	}

	logger.Info("peer joined room",
		zap.String("room_code", code),
		zap.String("peer_id", peer.ID()),
		zap.Int("participants", participants),
	)
	return nil
}

func (r *Registry) join(code string, peer Peer) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[code]
	if !ok || len(room.Participants) >= MaxParticipants || r.peerRooms[peer.ID()] == code {
		return 0, ErrRoomUnavailable
	}
	defer r.updateGaugesLocked()

	// 离开旧房间；旧房间被删除不影响目标房间
	r.leaveLocked(peer)

	room.Participants = append(room.Participants, peer)
	r.peerRooms[peer.ID()] = code
	peer.Send(protocol.EncodeNotice(protocol.TypeConnectionSuccess))

	if len(room.Participants) == MaxParticipants {
		room.Status = StatusPaired
		full := protocol.EncodeNotice(protocol.TypeRoomFull)
		for _, p := range room.Participants {
			p.Send(full)
		}
		r.sink.Publish(r.event(protocol.EventRoomPaired, room, peer.ID()))
	}
	return len(room.Participants), nil
}

// LeaveRoom 将连接移出所在房间，不在房间时为空操作
// 剩余一人时通知其 PARTNER_DISCONNECTED，无人时删除房间
func (r *Registry) LeaveRoom(peer Peer) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	defer r.updateGaugesLocked()

	return r.leaveLocked(peer)
}

// leaveLocked 调用方持有写锁，返回 peer 是否在房间里
func (r *Registry) leaveLocked(peer Peer) bool {
	code, ok := r.peerRooms[peer.ID()]
	if !ok {
		return false
	}
	delete(r.peerRooms, peer.ID())

	room, ok := r.rooms[code]
	if !ok {
		return true
	}
	room.remove(peer)

	switch len(room.Participants) {
	case 0:
		delete(r.rooms, code)
		r.sink.Publish(r.event(protocol.EventRoomDeleted, room, peer.ID()))
		logger.Info("room deleted",
			zap.String("room_code", code),
			zap.String("last_peer_id", peer.ID()),
		)
	default:
		room.Status = StatusWaiting
		notice := protocol.EncodeNotice(protocol.TypePartnerDisconnected)
		for _, p := range room.Participants {
			p.Send(notice)
		}
		r.sink.Publish(r.event(protocol.EventPartnerLeft, room, peer.ID()))
		logger.Info("partner left room",
			zap.String("room_code", code),
			zap.String("peer_id", peer.ID()),
		)
	}
	return true
}

// SweepExpired 删除存活超过 maxAge 的房间，并以 going-away 关闭其成员连接
func (r *Registry) SweepExpired(maxAge time.Duration) int {
	now := r.now()
	expired := r.expire(now, maxAge)

	for _, room := range expired {
		for _, p := range room.Participants {
			p.CloseWith(websocket.CloseGoingAway, "room expired")
		}
		metrics.RoomsExpired.Inc()
		logger.Info("room expired",
			zap.String("room_code", room.Code),
			zap.Duration("age", now.Sub(room.CreatedAt)),
			zap.Int("participants", len(room.Participants)),
		)
	}
	return len(expired)
}

func (r *Registry) expire(now time.Time, maxAge time.Duration) []*Room {
	r.mu.Lock()
	defer r.mu.Unlock()
	defer r.updateGaugesLocked()

	var expired []*Room
	for code, room := range r.rooms {
		if now.Sub(room.CreatedAt) <= maxAge {
			continue
		}
		r.detachLocked(code, room)
		expired = append(expired, room)
		r.sink.Publish(r.event(protocol.EventRoomExpired, room, ""))
	}
	return expired
}

// CloseRoom 强制关闭房间（运维接口）
func (r *Registry) CloseRoom(code, reason string) bool {
	room, ok := r.detach(code)
	if !ok {
		return false
	}

	for _, p := range room.Participants {
		p.CloseWith(websocket.CloseGoingAway, reason)
	}

	logger.Info("room closed",
		zap.String("room_code", code),
		zap.String("reason", reason),
	)
	return true
}

func (r *Registry) detach(code string) (*Room, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[code]
	if !ok {
		return nil, false
	}
	defer r.updateGaugesLocked()

	r.detachLocked(code, room)
	r.sink.Publish(r.event(protocol.EventRoomClosed, room, ""))
	return room, true
}

// detachLocked 删除房间及其成员的反向索引，调用方持有写锁
func (r *Registry) detachLocked(code string, room *Room) {
	for _, p := range room.Participants {
		delete(r.peerRooms, p.ID())
	}
	delete(r.rooms, code)
}

// RoomOf 返回连接所在的房间码
func (r *Registry) RoomOf(peerID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	code, ok := r.peerRooms[peerID]
	return code, ok
}

// Room 返回房间快照
func (r *Registry) Room(code string) (RoomInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room, ok := r.rooms[code]
	if !ok {
		return RoomInfo{}, false
	}
	return room.info(), true
}

// Rooms 返回所有房间快照（用于调试/监控）
func (r *Registry) Rooms() []RoomInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]RoomInfo, 0, len(r.rooms))
	for _, room := range r.rooms {
		result = append(result, room.info())
	}
	return result
}

// updateGaugesLocked 调用方持有锁
func (r *Registry) updateGaugesLocked() {
	paired := 0
	for _, room := range r.rooms {
		if len(room.Participants) == MaxParticipants {
			paired++
		}
	}
	metrics.Rooms.Set(float64(len(r.rooms)))
	metrics.PairedRooms.Set(float64(paired))
}

func formatCode(n int) string {
	if n < minRoomCode || n > maxRoomCode {
		return ""
	}
	b := [4]byte{}
	for i := 3; i >= 0; i-- {
		b[i] = byte('0' + n%10)
		n /= 10
	}
	return string(b[:])
}
