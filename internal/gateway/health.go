package gateway

import (
	"net/http"
	"time"
)

// HealthStatus 健康状态
type HealthStatus struct {
	Status    string  `json:"status"`
	Uptime    float64 `json:"uptime"` // 秒
	Rooms     int     `json:"rooms"`
	Events    string  `json:"events,omitempty"` // 房间事件发布状态，未启用时省略
	Timestamp string  `json:"timestamp"`
}

// handleHealth 健康检查
// 事件发布异常不影响中继功能，只标记为 degraded，仍返回 200
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := HealthStatus{
		Status:    "ok",
		Uptime:    time.Since(s.startedAt).Seconds(),
		Rooms:     s.registry.Stats().TotalRooms,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	if s.events != nil {
		health.Events = "ok"
		if !s.events.Healthy() {
			health.Events = "degraded"
		}
	}

	if s.shuttingDown() {
		health.Status = "shutting_down"
		writeJSON(w, http.StatusServiceUnavailable, health)
		return
	}
	writeJSON(w, http.StatusOK, health)
}
