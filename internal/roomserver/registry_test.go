package roomserver_test

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/qiminjie89/motionlink/internal/protocol"
	"github.com/qiminjie89/motionlink/internal/roomserver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// assertIndexConsistent 校验 peer.roomCode == c ⇔ peer ∈ rooms[c].participants
func assertIndexConsistent(t *testing.T, reg *roomserver.Registry, peers ...*fakePeer) {
	t.Helper()

	for _, room := range reg.Rooms() {
		assert.LessOrEqual(t, len(room.PeerIDs), roomserver.MaxParticipants)
		for _, id := range room.PeerIDs {
			code, ok := reg.RoomOf(id)
			assert.True(t, ok, "peer %s missing reverse index", id)
			assert.Equal(t, room.Code, code)
		}
	}
	for _, p := range peers {
		code, ok := reg.RoomOf(p.ID())
		if !ok {
			continue
		}
		room, exists := reg.Room(code)
		require.True(t, exists, "peer %s points at missing room %s", p.ID(), code)
		assert.Contains(t, room.PeerIDs, p.ID())
	}
}

func TestRegistry_CreateRoom(t *testing.T) {
	reg := roomserver.NewRegistry()

	code, err := reg.CreateRoom()
	require.NoError(t, err)
	assert.True(t, protocol.ValidRoomCode(code))

	room, ok := reg.Room(code)
	require.True(t, ok)
	assert.Equal(t, roomserver.StatusWaiting, room.Status)
	assert.Empty(t, room.PeerIDs)
}

func TestRegistry_CreateRoomFor(t *testing.T) {
	reg := roomserver.NewRegistry()
	a := newFakePeer("a")

	code, err := reg.CreateRoomFor(a)
	require.NoError(t, err)

	assert.Equal(t, []string{protocol.TypeRoomCreated}, a.types())
	got, ok := reg.RoomOf("a")
	require.True(t, ok)
	assert.Equal(t, code, got)
	assertIndexConsistent(t, reg, a)
}

func TestRegistry_CreateRoom_Exhausted(t *testing.T) {
	// 随机源永远返回同一个码
	reg := roomserver.NewRegistry(
		roomserver.WithCodeSource(func() int { return 4821 }),
		roomserver.WithCodeAttempts(5),
	)

	code, err := reg.CreateRoom()
	require.NoError(t, err)
	assert.Equal(t, "4821", code)

	_, err = reg.CreateRoom()
	assert.ErrorIs(t, err, roomserver.ErrRoomCreationExhausted)
	assert.Equal(t, 1, reg.Stats().TotalRooms)
}

func TestRegistry_CreateRoom_ConcurrentUnique(t *testing.T) {
	reg := roomserver.NewRegistry(roomserver.WithCodeAttempts(1000))

	const n = 1000
	codes := make([]string, n)
	errs := make([]error, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			codes[i], errs[i] = reg.CreateRoom()
		}(i)
	}
	wg.Wait()

	seen := make(map[string]bool, n)
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.False(t, seen[codes[i]], "duplicate code %s", codes[i])
		seen[codes[i]] = true
	}
	assert.Len(t, seen, n)
	assert.Equal(t, n, reg.Stats().TotalRooms)
}

func TestRegistry_JoinRoom_Pairing(t *testing.T) {
	reg := roomserver.NewRegistry()
	a, b := newFakePeer("a"), newFakePeer("b")

	code, err := reg.CreateRoomFor(a)
	require.NoError(t, err)

	require.NoError(t, reg.JoinRoom(code, b))

	assert.Equal(t, []string{protocol.TypeRoomCreated, protocol.TypeRoomFull}, a.types())
	assert.Equal(t, []string{protocol.TypeConnectionSuccess, protocol.TypeRoomFull}, b.types())

	room, ok := reg.Room(code)
	require.True(t, ok)
	assert.Equal(t, roomserver.StatusPaired, room.Status)
	assert.Equal(t, []string{"a", "b"}, room.PeerIDs)
	assertIndexConsistent(t, reg, a, b)
}

func TestRegistry_JoinRoom_Errors(t *testing.T) {
	reg := roomserver.NewRegistry()
	a, b, c := newFakePeer("a"), newFakePeer("b"), newFakePeer("c")

	code, err := reg.CreateRoomFor(a)
	require.NoError(t, err)
	require.NoError(t, reg.JoinRoom(code, b))

	tests := []struct {
		name string
		code string
		peer *fakePeer
		want error
	}{
		{"malformed code", "12a3", c, roomserver.ErrInvalidRoomCode},
		{"leading zero", "0123", c, roomserver.ErrInvalidRoomCode},
		{"full room", code, c, roomserver.ErrRoomUnavailable},
		{"already a member", code, a, roomserver.ErrRoomUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := reg.JoinRoom(tt.code, tt.peer)
			assert.ErrorIs(t, err, tt.want)

			room, ok := reg.Room(code)
			require.True(t, ok)
			assert.Equal(t, []string{"a", "b"}, room.PeerIDs)
		})
	}

	t.Run("missing room looks the same as full room", func(t *testing.T) {
		missing := "1000"
		if code == missing {
			missing = "1001"
		}
		errMissing := reg.JoinRoom(missing, c)
		errFull := reg.JoinRoom(code, c)
		assert.Equal(t, errFull, errMissing)
	})

	_, inRoom := reg.RoomOf("c")
	assert.False(t, inRoom)
	assertIndexConsistent(t, reg, a, b, c)
}

func TestRegistry_LeaveRoom(t *testing.T) {
	t.Run("not in room is a no-op", func(t *testing.T) {
		reg := roomserver.NewRegistry()
		assert.False(t, reg.LeaveRoom(newFakePeer("x")))
	})

	t.Run("sole participant deletes room", func(t *testing.T) {
		reg := roomserver.NewRegistry()
		a := newFakePeer("a")
		code, err := reg.CreateRoomFor(a)
		require.NoError(t, err)

		assert.True(t, reg.LeaveRoom(a))

		_, ok := reg.Room(code)
		assert.False(t, ok)
		_, ok = reg.RoomOf("a")
		assert.False(t, ok)
	})

	t.Run("paired room drops back to waiting", func(t *testing.T) {
		reg := roomserver.NewRegistry()
		a, b := newFakePeer("a"), newFakePeer("b")
		code, err := reg.CreateRoomFor(a)
		require.NoError(t, err)
		require.NoError(t, reg.JoinRoom(code, b))

		assert.True(t, reg.LeaveRoom(b))

		room, ok := reg.Room(code)
		require.True(t, ok)
		assert.Equal(t, roomserver.StatusWaiting, room.Status)
		assert.Equal(t, []string{"a"}, room.PeerIDs)
		assert.Equal(t, protocol.TypePartnerDisconnected, a.types()[len(a.types())-1])
		// 离开者不收到通知
		assert.NotContains(t, b.types(), protocol.TypePartnerDisconnected)

		// 第二人离开后房间删除
		assert.True(t, reg.LeaveRoom(a))
		_, ok = reg.Room(code)
		assert.False(t, ok)
		assertIndexConsistent(t, reg, a, b)
	})

	t.Run("joining another room leaves the current one", func(t *testing.T) {
		reg := roomserver.NewRegistry()
		a, b, c := newFakePeer("a"), newFakePeer("b"), newFakePeer("c")
		first, err := reg.CreateRoomFor(a)
		require.NoError(t, err)
		require.NoError(t, reg.JoinRoom(first, b))
		second, err := reg.CreateRoomFor(c)
		require.NoError(t, err)

		require.NoError(t, reg.JoinRoom(second, b))

		got, _ := reg.RoomOf("b")
		assert.Equal(t, second, got)
		room, _ := reg.Room(first)
		assert.Equal(t, []string{"a"}, room.PeerIDs)
		assert.Contains(t, a.types(), protocol.TypePartnerDisconnected)
		assertIndexConsistent(t, reg, a, b, c)
	})
}

func TestRegistry_SweepExpired(t *testing.T) {
	clock := newFakeClock()
	reg := roomserver.NewRegistry(roomserver.WithClock(clock.Now))
	maxAge := 10 * time.Minute

	a, b := newFakePeer("a"), newFakePeer("b")
	code, err := reg.CreateRoomFor(a)
	require.NoError(t, err)
	require.NoError(t, reg.JoinRoom(code, b))

	clock.Advance(time.Second)
	assert.Equal(t, 0, reg.SweepExpired(maxAge))
	_, ok := reg.Room(code)
	assert.True(t, ok)

	// 新房间不受影响
	young, err := reg.CreateRoomFor(newFakePeer("c"))
	require.NoError(t, err)

	clock.Advance(maxAge)
	assert.Equal(t, 1, reg.SweepExpired(maxAge))

	_, ok = reg.Room(code)
	assert.False(t, ok)
	_, ok = reg.Room(young)
	assert.True(t, ok)

	for _, p := range []*fakePeer{a, b} {
		closed, closeCode := p.isClosed()
		assert.True(t, closed)
		assert.Equal(t, websocket.CloseGoingAway, closeCode)
		_, inRoom := reg.RoomOf(p.ID())
		assert.False(t, inRoom)
	}

	// 被清理的连接随后断开，离开房间为空操作
	assert.False(t, reg.LeaveRoom(a))
}

func TestRegistry_CloseRoom(t *testing.T) {
	reg := roomserver.NewRegistry()
	a := newFakePeer("a")
	code, err := reg.CreateRoomFor(a)
	require.NoError(t, err)

	assert.True(t, reg.CloseRoom(code, "admin"))
	assert.False(t, reg.CloseRoom(code, "admin"))

	closed, _ := a.isClosed()
	assert.True(t, closed)
	assert.Equal(t, 0, reg.Stats().TotalRooms)
}

func TestRegistry_Stats(t *testing.T) {
	reg := roomserver.NewRegistry()

	for i := 0; i < 3; i++ {
		a, b := newFakePeer(fmt.Sprintf("a%d", i)), newFakePeer(fmt.Sprintf("b%d", i))
		code, err := reg.CreateRoomFor(a)
		require.NoError(t, err)
		if i < 2 {
			require.NoError(t, reg.JoinRoom(code, b))
		}
	}

	st := reg.Stats()
	assert.Equal(t, 3, st.TotalRooms)
	assert.Equal(t, 2, st.RoomsWithTwoPeers)
	assert.Equal(t, 1, st.WaitingRooms)
	assert.Equal(t, 5, st.Participants)

	snap := roomserver.Snapshot(reg, 7, time.Now().Add(-time.Minute))
	assert.Equal(t, 3, snap.TotalRooms)
	assert.Equal(t, 7, snap.ActiveConnections)
	assert.Equal(t, 2, snap.RoomsWithTwoPeers)
	assert.GreaterOrEqual(t, snap.Uptime, 60.0)
}

func TestRegistry_Events(t *testing.T) {
	sink := &recordingSink{}
	reg := roomserver.NewRegistry(roomserver.WithEventSink(sink))
	a, b := newFakePeer("a"), newFakePeer("b")

	code, err := reg.CreateRoomFor(a)
	require.NoError(t, err)
	require.NoError(t, reg.JoinRoom(code, b))
	reg.LeaveRoom(b)
	reg.LeaveRoom(a)

	assert.Equal(t, []protocol.RoomEventType{
		protocol.EventRoomCreated,
		protocol.EventRoomPaired,
		protocol.EventPartnerLeft,
		protocol.EventRoomDeleted,
	}, sink.types())
}

func TestRegistry_ConcurrentJoinLeave(t *testing.T) {
	reg := roomserver.NewRegistry()
	host := newFakePeer("host")
	code, err := reg.CreateRoomFor(host)
	require.NoError(t, err)

	const n = 50
	peers := make([]*fakePeer, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		peers[i] = newFakePeer(fmt.Sprintf("p%d", i))
		wg.Add(1)
		go func(p *fakePeer) {
			defer wg.Done()
			if reg.JoinRoom(code, p) == nil {
				reg.LeaveRoom(p)
			}
		}(peers[i])
	}
	wg.Wait()

	room, ok := reg.Room(code)
	require.True(t, ok)
	assert.Equal(t, []string{"host"}, room.PeerIDs)
	assertIndexConsistent(t, reg, append(peers, host)...)
}

func TestRegistry_CreateRoomFor_ExhaustedKeepsOldRoom(t *testing.T) {
	reg := roomserver.NewRegistry(
		roomserver.WithCodeSource(func() int { return 4821 }),
		roomserver.WithCodeAttempts(3),
	)
	a, b := newFakePeer("a"), newFakePeer("b")

	code, err := reg.CreateRoomFor(a)
	require.NoError(t, err)
	require.NoError(t, reg.JoinRoom(code, b))

	// 唯一可用的码已被占用，分配失败
	_, err = reg.CreateRoomFor(a)
	require.ErrorIs(t, err, roomserver.ErrRoomCreationExhausted)

	got, ok := reg.RoomOf("a")
	require.True(t, ok)
	assert.Equal(t, code, got)

	room, ok := reg.Room(code)
	require.True(t, ok)
	assert.Equal(t, roomserver.StatusPaired, room.Status)
	assert.Equal(t, []string{"a", "b"}, room.PeerIDs)
	assert.NotContains(t, b.types(), protocol.TypePartnerDisconnected)
	assertIndexConsistent(t, reg, a, b)
}

func TestRegistry_PanicReleasesLock(t *testing.T) {
	var calls atomic.Int32
	reg := roomserver.NewRegistry(roomserver.WithCodeSource(func() int {
		if calls.Add(1) == 1 {
			panic("code source failure")
		}
		return 4821
	}))

	assert.Panics(t, func() { reg.CreateRoomFor(newFakePeer("a")) })

	done := make(chan error, 1)
	go func() {
		_, err := reg.CreateRoomFor(newFakePeer("b"))
		done <- err
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("registry lock still held after panic")
	}
	assert.Equal(t, 1, reg.Stats().TotalRooms)
}
