// internal/match/errors.go
package match

import (
	"errors"
	"fmt"
)

// Kind classifies a match error for the transport layer.
type Kind string

const (
	KindValidation    Kind = "validation"
	KindAuthorization Kind = "authorization"
	KindState         Kind = "state"
	KindNotFound      Kind = "not_found"
	KindConflict      Kind = "conflict"
)

// Error is a recoverable domain error with a stable kind and code.
type Error struct {
	Kind    Kind
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// Is matches any *Error with the same code, so wrapped copies with a custom
// message still satisfy errors.Is against the sentinels below.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

var (
	ErrInvalidBoard  = &Error{Kind: KindValidation, Code: "invalid_board", Message: "invalid board"}
	ErrInvalidNumber = &Error{Kind: KindValidation, Code: "invalid_number", Message: "number must be between 1 and 25"}
	ErrSelfInvite    = &Error{Kind: KindValidation, Code: "self_invite", Message: "cannot invite yourself"}

	ErrNotParticipant = &Error{Kind: KindAuthorization, Code: "not_participant", Message: "you are not a player in this match"}
	ErrNotInvitee     = &Error{Kind: KindAuthorization, Code: "not_invitee", Message: "only the invited player can accept"}
	ErrNotYourTurn    = &Error{Kind: KindAuthorization, Code: "not_your_turn", Message: "it is not your turn"}
	ErrNotFriends     = &Error{Kind: KindAuthorization, Code: "not_friends", Message: "you can only invite accepted friends"}

	ErrInvalidTransition = &Error{Kind: KindState, Code: "invalid_transition", Message: "match cannot be accepted in its current state"}
	ErrBoardLocked       = &Error{Kind: KindState, Code: "board_locked", Message: "boards can only be set before the match starts"}
	ErrNotInProgress     = &Error{Kind: KindState, Code: "not_in_progress", Message: "match is not in progress"}

	ErrMatchNotFound = &Error{Kind: KindNotFound, Code: "match_not_found", Message: "match not found"}

	ErrNumberAlreadyCalled = &Error{Kind: KindConflict, Code: "number_already_called", Message: "number has already been called"}
)

// withMessage copies a sentinel with a more specific message.
func withMessage(base *Error, format string, args ...interface{}) *Error {
	return &Error{Kind: base.Kind, Code: base.Code, Message: fmt.Sprintf(format, args...)}
}

// AsError extracts the domain error from err, if any.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
