package roomserver

import (
	"errors"
	"time"

	"github.com/qiminjie89/motionlink/internal/protocol"
)

// RegistryStats 房间表聚合统计
type RegistryStats struct {
	TotalRooms        int
	WaitingRooms      int
	RoomsWithTwoPeers int
	Participants      int
}

// Stats 聚合统计，只读
func (r *Registry) Stats() RegistryStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	st := RegistryStats{TotalRooms: len(r.rooms)}
	for _, room := range r.rooms {
		n := len(room.Participants)
		st.Participants += n
		if n == MaxParticipants {
			st.RoomsWithTwoPeers++
		} else {
			st.WaitingRooms++
		}
	}
	return st
}

// ServerStats 对外暴露的服务快照，每次按需计算
type ServerStats struct {
	TotalRooms        int     `json:"totalRooms"`
	ActiveConnections int     `json:"activeConnections"`
	RoomsWithTwoPeers int     `json:"roomsWithTwoPeers"`
	Uptime            float64 `json:"uptime"` // 秒
}

// Snapshot 组合房间表统计与连接数
func Snapshot(reg *Registry, activeConnections int, startedAt time.Time) ServerStats {
	st := reg.Stats()
	return ServerStats{
		TotalRooms:        st.TotalRooms,
		ActiveConnections: activeConnections,
		RoomsWithTwoPeers: st.RoomsWithTwoPeers,
		Uptime:            reg.now().Sub(startedAt).Seconds(),
	}
}

func errorCode(err error) string {
	var perr *protocol.Error
	if errors.As(err, &perr) {
		return string(perr.Code)
	}
	return string(protocol.CodeServerError)
}
