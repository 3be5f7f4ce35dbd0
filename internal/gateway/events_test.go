package gateway_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/qiminjie89/motionlink/internal/gateway"
	"github.com/qiminjie89/motionlink/internal/protocol"
	"github.com/qiminjie89/motionlink/pkg/client"
	"github.com/qiminjie89/motionlink/pkg/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type writtenMessage struct {
	key   string
	value []byte
}

// recordingWriter 记录写出的事件
type recordingWriter struct {
	mu     sync.Mutex
	msgs   []writtenMessage
	fail   bool
	closed bool
}

func (w *recordingWriter) Send(ctx context.Context, key, value []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fail {
		return errors.New("broker unavailable")
	}
	w.msgs = append(w.msgs, writtenMessage{key: string(key), value: value})
	return nil
}

func (w *recordingWriter) Close() error {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
	return nil
}

func (w *recordingWriter) events(t *testing.T) []protocol.RoomEvent {
	t.Helper()
	w.mu.Lock()
	defer w.mu.Unlock()

	out := make([]protocol.RoomEvent, 0, len(w.msgs))
	for _, m := range w.msgs {
		var evt protocol.RoomEvent
		require.NoError(t, protocol.Decode(m.value, &evt))
		assert.Equal(t, evt.RoomCode, m.key)
		out = append(out, evt)
	}
	return out
}

func TestEventPublisher_DropsWhenFull(t *testing.T) {
	w := &recordingWriter{}
	p := gateway.NewEventPublisher(w, 2)

	for i := 0; i < 5; i++ {
		p.Publish(protocol.RoomEvent{Type: protocol.EventRoomCreated, RoomCode: fmt.Sprintf("%d", 1000+i)})
	}

	// 未启动写出循环时只保留队列容量内的事件，Run 在 ctx 取消后写完剩余事件
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p.Run(ctx)

	events := w.events(t)
	require.Len(t, events, 2)
	assert.Equal(t, "1000", events[0].RoomCode)
	assert.Equal(t, "1001", events[1].RoomCode)
}

func TestEventPublisher_Health(t *testing.T) {
	w := &recordingWriter{fail: true}
	p := gateway.NewEventPublisher(w, 4)
	assert.True(t, p.Healthy())

	p.Publish(protocol.RoomEvent{Type: protocol.EventRoomCreated, RoomCode: "4821"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p.Run(ctx)
	assert.False(t, p.Healthy())

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestServer_PublishesRoomEvents(t *testing.T) {
	w := &recordingWriter{}
	s := startServer(t, nil, gateway.WithEventWriter(w))
	display, controller, code := pair(t, s)

	controller.ws.Close()
	display.expect(protocol.TypePartnerDisconnected)

	require.Eventually(t, func() bool {
		return len(w.events(t)) >= 3
	}, 2*time.Second, 10*time.Millisecond)

	events := w.events(t)
	types := make([]protocol.RoomEventType, 0, len(events))
	for _, evt := range events {
		assert.Equal(t, code, evt.RoomCode)
		assert.NotEmpty(t, evt.ID)
		types = append(types, evt.Type)
	}
	assert.Equal(t, []protocol.RoomEventType{
		protocol.EventRoomCreated,
		protocol.EventRoomPaired,
		protocol.EventPartnerLeft,
	}, types[:3])
}

// 重连客户端对真实服务端：创建房间、配对、转发
func TestServer_WithReconnectingClient(t *testing.T) {
	s := startServer(t, nil)
	url := "ws://" + hostPort(t, s) + "/ws"
	dialer := transport.NewWebSocketDialer(transport.DefaultWebSocketConfig())

	display := client.New(client.DefaultConfig(url), dialer)
	controller := client.New(client.DefaultConfig(url), dialer)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	displayDone := make(chan error, 1)
	controllerDone := make(chan error, 1)
	go func() { displayDone <- display.Run(ctx) }()
	go func() { controllerDone <- controller.Run(ctx) }()

	require.Eventually(t, func() bool {
		return display.State() == client.StateConnected && controller.State() == client.StateConnected
	}, 2*time.Second, 10*time.Millisecond)

	recv := func(c *client.Client) map[string]any {
		t.Helper()
		select {
		case data := <-c.Incoming():
			var msg map[string]any
			require.NoError(t, json.Unmarshal(data, &msg))
			return msg
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for message")
			return nil
		}
	}

	require.NoError(t, display.Send([]byte(`{"type":"CREATE_ROOM"}`)))
	created := recv(display)
	require.Equal(t, protocol.TypeRoomCreated, created["type"])

	require.NoError(t, controller.Send([]byte(fmt.Sprintf(`{"type":"JOIN_ROOM","code":"%s"}`, created["code"]))))
	assert.Equal(t, protocol.TypeConnectionSuccess, recv(controller)["type"])
	assert.Equal(t, protocol.TypeRoomFull, recv(controller)["type"])
	assert.Equal(t, protocol.TypeRoomFull, recv(display)["type"])

	require.NoError(t, controller.Send([]byte(`{"type":"SENSOR_DATA","payload":{"beta":42}}`)))
	assert.Equal(t, protocol.TypeSensorData, recv(display)["type"])

	// 客户端主动关闭：对端收到 PARTNER_DISCONNECTED，Run 正常返回
	controller.Close()
	assert.NoError(t, <-controllerDone)
	assert.Equal(t, client.StateDisconnected, controller.State())
	assert.Equal(t, protocol.TypePartnerDisconnected, recv(display)["type"])

	display.Close()
	assert.NoError(t, <-displayDone)
}
