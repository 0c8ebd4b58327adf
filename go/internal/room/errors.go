package room

import "errors"

// Registry errors.
var (
	ErrRoomNotFound  = errors.New("room not found")
	ErrRoomFull      = errors.New("room full")
	ErrRoomLocked    = errors.New("room locked")
	ErrRoomClosed    = errors.New("room closed")
	ErrNotMember     = errors.New("player is not a member of this room")
	ErrInvalidConfig = errors.New("invalid room config")
	ErrTooManyRooms  = errors.New("room limit reached")
)

// ErrStillQueued means the caller stopped waiting after the command was
// accepted. The command still runs and its effects are broadcast.
var ErrStillQueued = errors.New("command queued, result not awaited")

// Guard failures. An intent rejected with one of these changed nothing.
var (
	ErrNotOwner           = errors.New("caller is not the room owner")
	ErrNotAuthorized      = errors.New("caller may not perform this action")
	ErrWrongPhase         = errors.New("intent not valid in current phase")
	ErrTeamsIncomplete    = errors.New("both teams need at least one player")
	ErrUnknownCategory    = errors.New("unknown category")
	ErrUnknownPlayer      = errors.New("unknown player")
	ErrNotOnTeam          = errors.New("player is not on a team")
	ErrInvalidTeam        = errors.New("invalid team index")
	ErrNoActivePlayer     = errors.New("no active player selected")
	ErrNotActivePlayer    = errors.New("caller is not the active player")
	ErrSkipCooldown       = errors.New("skip cooldown has not elapsed")
	ErrActivePlayerLocked = errors.New("active player cannot change team")
)

var rejections = []error{
	ErrRoomNotFound, ErrRoomFull, ErrRoomLocked, ErrRoomClosed, ErrNotMember,
	ErrNotOwner, ErrNotAuthorized, ErrWrongPhase, ErrTeamsIncomplete,
	ErrUnknownCategory, ErrUnknownPlayer, ErrNotOnTeam, ErrInvalidTeam,
	ErrNoActivePlayer, ErrNotActivePlayer, ErrSkipCooldown, ErrActivePlayerLocked,
	ErrInvalidConfig, ErrTooManyRooms,
}

// IsRejected reports whether err is an intent rejection rather than a fault.
func IsRejected(err error) bool {
	for _, r := range rejections {
		if errors.Is(err, r) {
			return true
		}
	}
	return false
}
