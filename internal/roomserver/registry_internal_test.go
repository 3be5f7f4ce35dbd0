package roomserver

import (
	"testing"
	"time"

	"github.com/qiminjie89/motionlink/internal/protocol"
	"github.com/stretchr/testify/assert"
)

type stubPeer struct{ id string }

func (p stubPeer) ID() string            { return p.id }
func (p stubPeer) Send([]byte) bool      { return true }
func (p stubPeer) CloseWith(int, string) {}

// 反向索引指向已不存在的房间时，路由报告 RoomVanished
func TestRouter_RoomVanished(t *testing.T) {
	reg := NewRegistry()
	p := stubPeer{id: "orphan"}

	_, err := reg.CreateRoomFor(p)
	assert.NoError(t, err)

	code := reg.peerRooms[p.id]
	delete(reg.rooms, code)

	err = NewRouter(reg).Route(p, "SENSOR_DATA", []byte(`{}`))
	assert.ErrorIs(t, err, ErrRoomVanished)
	assert.Equal(t, "RoomVanished", errorCode(err))
}

func TestFormatCode(t *testing.T) {
	assert.Equal(t, "1000", formatCode(1000))
	assert.Equal(t, "9999", formatCode(9999))
	assert.Empty(t, formatCode(999))
	assert.Empty(t, formatCode(10000))
}

// lockCheckingSink 记录事件投递时房间表锁是否被持有
type lockCheckingSink struct {
	reg      *Registry
	types    []protocol.RoomEventType
	unlocked int
}

func (s *lockCheckingSink) Publish(evt protocol.RoomEvent) {
	if s.reg.mu.TryLock() {
		s.reg.mu.Unlock()
		s.unlocked++
	}
	s.types = append(s.types, evt.Type)
}

// 事件在锁内投递，同一房间的事件顺序与状态变化一致
func TestRegistry_EventsPublishedUnderLock(t *testing.T) {
	sink := &lockCheckingSink{}
	reg := NewRegistry(WithEventSink(sink), WithClock(time.Now))
	sink.reg = reg

	a, b := stubPeer{id: "a"}, stubPeer{id: "b"}
	code, err := reg.CreateRoomFor(a)
	assert.NoError(t, err)
	assert.NoError(t, reg.JoinRoom(code, b))
	reg.LeaveRoom(b)
	assert.True(t, reg.CloseRoom(code, "closed by operator"))

	_, err = reg.CreateRoom()
	assert.NoError(t, err)
	assert.Equal(t, 1, reg.SweepExpired(-time.Second))

	assert.Equal(t, []protocol.RoomEventType{
		protocol.EventRoomCreated,
		protocol.EventRoomPaired,
		protocol.EventPartnerLeft,
		protocol.EventRoomClosed,
		protocol.EventRoomCreated,
		protocol.EventRoomExpired,
	}, sink.types)
	assert.Zero(t, sink.unlocked)
}
