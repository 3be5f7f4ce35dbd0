package roomserver

import "github.com/qiminjie89/motionlink/internal/protocol"

// 房间表和路由返回的错误，均为 *protocol.Error，可用 errors.Is 判断
var (
	ErrRoomUnavailable       = protocol.NewError(protocol.CodeRoomUnavailable, "")
	ErrRoomCreationExhausted = protocol.NewError(protocol.CodeRoomCreationExhausted, "")
	ErrInvalidRoomCode       = protocol.NewError(protocol.CodeInvalidRoomCode, "")
	ErrNoRoom                = protocol.NewError(protocol.CodeNoRoom, "")
	ErrRoomVanished          = protocol.NewError(protocol.CodeRoomVanished, "")
	ErrNoPartner             = protocol.NewError(protocol.CodeNoPartner, "")
	ErrSendFailed            = protocol.NewError(protocol.CodeSendFailed, "")
)
