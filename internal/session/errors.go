package session

import "errors"

// Command validation errors. They are always wrapped with a specific reason,
// e.g. "invalid bet: bet below minimum of 3"; match them with errors.Is.
var (
	ErrNotYourTurn        = errors.New("not your turn")
	ErrInvalidPhase       = errors.New("invalid phase for action")
	ErrInvalidBet         = errors.New("invalid bet")
	ErrInvalidPlay        = errors.New("invalid play")
	ErrInvalidPlayerCount = errors.New("invalid player count")
)

// Lookup errors.
var (
	ErrPlayerNotFound = errors.New("player not found")
)

// ErrInvariantViolation marks a broken engine invariant. It is a programming
// defect, never a user error; the owning session must be discarded.
var ErrInvariantViolation = errors.New("invariant violation")

// ErrInvalidSnapshot is returned by Restore for snapshots that cannot be resumed.
var ErrInvalidSnapshot = errors.New("invalid snapshot")

// IsValidation reports whether err is a recoverable command validation failure.
// Such failures never change session state.
func IsValidation(err error) bool {
	return errors.Is(err, ErrNotYourTurn) ||
		errors.Is(err, ErrInvalidPhase) ||
		errors.Is(err, ErrInvalidBet) ||
		errors.Is(err, ErrInvalidPlay) ||
		errors.Is(err, ErrInvalidPlayerCount)
}
