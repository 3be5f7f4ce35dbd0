package roomserver_test

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/qiminjie89/motionlink/internal/protocol"
)

// fakePeer 记录收到的帧和关闭动作
type fakePeer struct {
	id string

	mu        sync.Mutex
	frames    [][]byte
	closed    bool
	closeCode int
	rejecting bool
}

func newFakePeer(id string) *fakePeer {
	return &fakePeer{id: id}
}

func (p *fakePeer) ID() string { return p.id }

func (p *fakePeer) Send(data []byte) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || p.rejecting {
		return false
	}
	p.frames = append(p.frames, data)
	return true
}

func (p *fakePeer) CloseWith(code int, reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.closeCode = code
}

func (p *fakePeer) reject() {
	p.mu.Lock()
	p.rejecting = true
	p.mu.Unlock()
}

func (p *fakePeer) isClosed() (bool, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed, p.closeCode
}

// types 返回收到的消息类型序列
func (p *fakePeer) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]string, 0, len(p.frames))
	for _, f := range p.frames {
		var n protocol.Notice
		_ = json.Unmarshal(f, &n)
		out = append(out, n.Type)
	}
	return out
}

func (p *fakePeer) raw() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][]byte(nil), p.frames...)
}

// fakeClock 可手动推进的时钟
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// recordingSink 记录房间事件
type recordingSink struct {
	mu     sync.Mutex
	events []protocol.RoomEvent
}

func (s *recordingSink) Publish(evt protocol.RoomEvent) {
	s.mu.Lock()
	s.events = append(s.events, evt)
	s.mu.Unlock()
}

func (s *recordingSink) types() []protocol.RoomEventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]protocol.RoomEventType, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.Type)
	}
	return out
}
