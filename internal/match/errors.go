package match

import "errors"

// Sentinel errors for everything a client can get wrong. They are matched
// with errors.Is at the transport boundary and translated into wire `error`
// messages with the stable codes below.
var (
	ErrAlreadyInRoom       = errors.New("connection already belongs to a room")
	ErrRoomNotFound        = errors.New("room not found")
	ErrForbiddenRoomAccess = errors.New("connection is not a member of this room")
	ErrAttackInProgress    = errors.New("attack already in progress")
	ErrTransportClosed     = errors.New("connection transport is closed")

	// errRoomUnavailable is returned by Room.Join when the room cannot take
	// another player (full, counting down, active, or ended). The matchmaker
	// treats it as "keep scanning"; it never reaches a client.
	errRoomUnavailable = errors.New("room unavailable for joining")
)

// ErrorCode maps a coordinator error to its wire code. Unrecognized errors
// collapse to a generic code so internal details never leak to clients.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrAlreadyInRoom):
		return "ALREADY_IN_ROOM"
	case errors.Is(err, ErrRoomNotFound):
		return "ROOM_NOT_FOUND"
	case errors.Is(err, ErrForbiddenRoomAccess):
		return "FORBIDDEN_ROOM_ACCESS"
	case errors.Is(err, ErrAttackInProgress):
		return "ATTACK_IN_PROGRESS"
	default:
		return "INTERNAL"
	}
}

// errorMessage builds the wire frame reported back to the originating
// connection only; errors are never broadcast to the opponent.
func errorMessage(err error) Message {
	return Message{Type: KindError, Data: ErrorPayload{Message: err.Error(), Code: ErrorCode(err)}}
}
