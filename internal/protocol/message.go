// Package protocol 定义配对中继服务的消息信封、消息类型和协议常量
package protocol

import (
	"encoding/json"
)

// 客户端 ↔ 服务端消息类型
const (
	// 客户端 → 服务端
	TypeCreateRoom = "CREATE_ROOM" // 创建房间
	TypeJoinRoom   = "JOIN_ROOM"   // 凭房间码加入
	TypeLeaveRoom  = "LEAVE_ROOM"  // 主动离开房间
	TypePing       = "PING"        // 存活探测

	// 对端 → 服务端 → 对端（透传）
	TypeSensorData      = "SENSOR_DATA"      // 高频传感器数据
	TypeCalibrationData = "CALIBRATION_DATA" // 低频校准数据

	// 服务端 → 客户端
	TypeRoomCreated         = "ROOM_CREATED"
	TypeConnectionSuccess   = "CONNECTION_SUCCESS"
	TypeRoomFull            = "ROOM_FULL"
	TypePartnerDisconnected = "PARTNER_DISCONNECTED"
	TypeRoomLeft            = "ROOM_LEFT"
	TypePong                = "PONG"
	TypeError               = "ERROR"
)

// IsRelayType 是否为需要透传给房间对端的消息
func IsRelayType(t string) bool {
	return t == TypeSensorData || t == TypeCalibrationData
}

// Envelope 入站消息信封
// 只解析分发所需的字段，payload 对服务端不透明
type Envelope struct {
	Type    string          `json:"type"`
	Code    json.RawMessage `json:"code,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// RoomCode 返回信封里的房间码，code 不是 JSON 字符串时返回 false
func (e *Envelope) RoomCode() (string, bool) {
	if len(e.Code) == 0 {
		return "", false
	}
	var code string
	if err := json.Unmarshal(e.Code, &code); err != nil {
		return "", false
	}
	return code, true
}

// ParseEnvelope 解析入站帧
func ParseEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, NewError(CodeInvalidMessageFormat, "message is not a valid JSON envelope")
	}
	return &env, nil
}

// Notice 服务端下发的状态通知
type Notice struct {
	Type string `json:"type"`
	Code string `json:"code,omitempty"` // ROOM_CREATED 携带房间码
}

// ErrorEnvelope 错误通知
type ErrorEnvelope struct {
	Type      string    `json:"type"`
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
}

// EncodeNotice 编码状态通知
func EncodeNotice(msgType string) []byte {
	data, _ := json.Marshal(Notice{Type: msgType})
	return data
}

// EncodeRoomCreated 编码 ROOM_CREATED
func EncodeRoomCreated(code string) []byte {
	data, _ := json.Marshal(Notice{Type: TypeRoomCreated, Code: code})
	return data
}

// EncodeError 编码错误通知
func EncodeError(err *Error) []byte {
	data, _ := json.Marshal(ErrorEnvelope{
		Type:      TypeError,
		Code:      err.Code,
		Message:   err.Message,
		Retryable: err.Code.Retryable(),
	})
	return data
}

// ValidRoomCode 房间码必须是 1000-9999 的 4 位 ASCII 数字
func ValidRoomCode(code string) bool {
	if len(code) != 4 || code[0] == '0' {
		return false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return false
		}
	}
	return true
}
