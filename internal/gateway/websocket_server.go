package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/qiminjie89/motionlink/internal/protocol"
	"github.com/qiminjie89/motionlink/pkg/auth"
	"github.com/qiminjie89/motionlink/pkg/logger"
	"github.com/qiminjie89/motionlink/pkg/metrics"
	"github.com/skip2/go-qrcode"
	"go.uber.org/zap"
)

const qrImageSize = 256

// Handler 返回服务的 HTTP 路由
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /stats", s.handleStats)
	mux.HandleFunc("GET /qr/{code}", s.handleQRCode)

	if s.cfg.Metrics.Enabled {
		mux.Handle("GET "+s.cfg.Metrics.Path, promhttp.Handler())
	}

	if s.admin != nil {
		mux.Handle("GET /admin/rooms", s.requireAdmin(http.HandlerFunc(s.handleListRooms)))
		mux.Handle("DELETE /admin/rooms/{code}", s.requireAdmin(http.HandlerFunc(s.handleCloseRoom)))
	}

	return mux
}

// handleWebSocket 处理 WebSocket 连接
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.shuttingDown() {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed",
			zap.String("remote_addr", r.RemoteAddr),
			zap.Error(err),
		)
		return
	}

	conn := NewConnection(ws, r.RemoteAddr, &s.cfg.Connection, &s.cfg.Protection, s)
	s.AddConnection(conn)
	metrics.Connections.Inc()

	logger.Info("new connection",
		zap.String("conn_id", conn.ID()),
		zap.String("remote_addr", r.RemoteAddr),
	)

	conn.Start(s.cfg.WebSocket.MaxMessageSize)

	// Stop 已经遍历过连接表时，补上关闭
	if s.shuttingDown() {
		conn.CloseWith(websocket.CloseGoingAway, "server shutting down")
	}
}

// handleStats 服务统计
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Stats())
}

// handleQRCode 生成控制端入口二维码
// 只校验房间码格式，不透露房间是否存在
func (s *Server) handleQRCode(w http.ResponseWriter, r *http.Request) {
	code := r.PathValue("code")
	if !protocol.ValidRoomCode(code) {
		writeJSON(w, http.StatusBadRequest, protocol.NewError(protocol.CodeInvalidRoomCode, ""))
		return
	}

	target, err := controllerURL(s.cfg.Server.PublicURL, code)
	if err != nil {
		logger.Error("invalid public url", zap.String("public_url", s.cfg.Server.PublicURL), zap.Error(err))
		http.Error(w, "invalid public url", http.StatusInternalServerError)
		return
	}

	png, err := qrcode.Encode(target, qrcode.Medium, qrImageSize)
	if err != nil {
		logger.Error("qr encode failed", zap.String("room_code", code), zap.Error(err))
		http.Error(w, "qr encode failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	w.Write(png)
}

// controllerURL 在入口地址上附加 code 查询参数
func controllerURL(publicURL, code string) (string, error) {
	u, err := url.Parse(publicURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("code", code)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// requireAdmin 运维接口鉴权
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := s.admin.Authorize(r.Header.Get("Authorization"), auth.RoleAdmin)
		if err != nil {
			status := http.StatusUnauthorized
			if errors.Is(err, auth.ErrForbidden) {
				status = http.StatusForbidden
			}
			logger.Warn("admin request rejected",
				zap.String("path", r.URL.Path),
				zap.String("remote_addr", r.RemoteAddr),
				zap.Error(err),
			)
			http.Error(w, err.Error(), status)
			return
		}

		logger.Info("admin request",
			zap.String("subject", claims.Subject),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
		)
		next.ServeHTTP(w, r)
	})
}

type roomView struct {
	Code      string   `json:"code"`
	Status    string   `json:"status"`
	Peers     []string `json:"peers"`
	CreatedAt string   `json:"createdAt"`
}

// handleListRooms 列出房间
func (s *Server) handleListRooms(w http.ResponseWriter, r *http.Request) {
	rooms := s.registry.Rooms()
	views := make([]roomView, 0, len(rooms))
	for _, room := range rooms {
		views = append(views, roomView{
			Code:      room.Code,
			Status:    room.Status.String(),
			Peers:     room.PeerIDs,
			CreatedAt: room.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, views)
}

// handleCloseRoom 强制关闭房间
func (s *Server) handleCloseRoom(w http.ResponseWriter, r *http.Request) {
	code := r.PathValue("code")
	if !protocol.ValidRoomCode(code) {
		writeJSON(w, http.StatusBadRequest, protocol.NewError(protocol.CodeInvalidRoomCode, ""))
		return
	}

	if !s.registry.CloseRoom(code, "closed by operator") {
		http.Error(w, "room not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	if perr, ok := v.(*protocol.Error); ok {
		v = protocol.ErrorEnvelope{
			Type:      protocol.TypeError,
			Code:      perr.Code,
			Message:   perr.Message,
			Retryable: perr.Code.Retryable(),
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("write json response failed", zap.Error(err))
	}
}
