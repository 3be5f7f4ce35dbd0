package protocol

// ErrorCode 机器可读的错误码
type ErrorCode string

// 错误码定义
const (
	// 客户端协议错误
	CodeInvalidMessageFormat ErrorCode = "InvalidMessageFormat"
	CodeUnknownMessageType   ErrorCode = "UnknownMessageType"
	CodeInvalidRoomCode      ErrorCode = "InvalidRoomCode"
	CodeRateLimited          ErrorCode = "RateLimited"

	// 房间状态错误
	CodeRoomUnavailable       ErrorCode = "RoomUnavailable" // 房间不存在或已满，对客户端不做区分
	CodeRoomCreationExhausted ErrorCode = "RoomCreationExhausted"
	CodeNoRoom                ErrorCode = "NoRoom"
	CodeRoomVanished          ErrorCode = "RoomVanished"
	CodeNoPartner             ErrorCode = "NoPartner"

	// 传输错误
	CodeSendFailed ErrorCode = "SendFailed"

	// 服务端内部错误
	CodeServerError ErrorCode = "ServerError"
)

// Category 错误分类
type Category int

const (
	CategoryClientProtocol Category = iota // 客户端协议错误，连接保持
	CategoryRoomState                      // 房间状态错误，只通知发送方
	CategoryTransport                      // 写入失败，视为对端离开
	CategoryFatalServer                    // 未预期的内部错误
)

type codeInfo struct {
	category  Category
	retryable bool
	message   string
}

var codeInfos = map[ErrorCode]codeInfo{
	CodeInvalidMessageFormat:  {CategoryClientProtocol, false, "invalid message format"},
	CodeUnknownMessageType:    {CategoryClientProtocol, false, "unknown message type"},
	CodeInvalidRoomCode:       {CategoryClientProtocol, false, "room code must be 4 digits"},
	CodeRateLimited:           {CategoryClientProtocol, true, "too many messages"},
	CodeRoomUnavailable:       {CategoryRoomState, false, "room not found or full"},
	CodeRoomCreationExhausted: {CategoryRoomState, true, "could not allocate a room code"},
	CodeNoRoom:                {CategoryRoomState, false, "not in a room"},
	CodeRoomVanished:          {CategoryRoomState, false, "room no longer exists"},
	CodeNoPartner:             {CategoryRoomState, true, "no partner in room"},
	CodeSendFailed:            {CategoryTransport, true, "failed to deliver message to partner"},
	CodeServerError:           {CategoryFatalServer, true, "internal server error"},
}

// Category 返回错误码所属分类
func (c ErrorCode) Category() Category {
	if info, ok := codeInfos[c]; ok {
		return info.category
	}
	return CategoryFatalServer
}

// Retryable 该错误是否可以直接重试
func (c ErrorCode) Retryable() bool {
	if info, ok := codeInfos[c]; ok {
		return info.retryable
	}
	return false
}

// Error 协议错误
type Error struct {
	Code    ErrorCode
	Message string
}

// NewError 创建协议错误，message 为空时使用默认描述
func NewError(code ErrorCode, message string) *Error {
	if message == "" {
		message = codeInfos[code].message
	}
	return &Error{Code: code, Message: message}
}

func (e *Error) Error() string {
	return string(e.Code) + ": " + e.Message
}

// Is 按错误码比较，使 errors.Is 对同码的不同实例成立
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}
