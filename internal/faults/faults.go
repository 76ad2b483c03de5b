package faults

import (
	"errors"
	"fmt"
)

// Kind groups errors by how the transport reports them.
type Kind uint8

const (
	KindServerFault Kind = iota
	KindUserInput
	KindNotFound
	KindConflict
)

func (k Kind) String() string {
	switch k {
	case KindUserInput:
		return "user_input"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	default:
		return "server_fault"
	}
}

// Error is a caller-visible outcome with a stable code.
type Error struct {
	Kind    Kind
	Code    string
	Message string
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Code
}

var (
	ErrNotFound         = &Error{Kind: KindNotFound, Code: "NOT_FOUND", Message: "game does not exist"}
	ErrAlreadyJoined    = &Error{Kind: KindUserInput, Code: "ALREADY_JOINED", Message: "already joined this game"}
	ErrFull             = &Error{Kind: KindUserInput, Code: "FULL", Message: "game is full"}
	ErrColorUnavailable = &Error{Kind: KindUserInput, Code: "COLOR_UNAVAILABLE", Message: "requested color is taken"}
	ErrNotYourTurn      = &Error{Kind: KindUserInput, Code: "NOT_YOUR_TURN", Message: "it is not your turn"}
	ErrIllegalMove      = &Error{Kind: KindUserInput, Code: "ILLEGAL_MOVE", Message: "illegal move"}
	ErrGameOver         = &Error{Kind: KindUserInput, Code: "GAME_OVER", Message: "game is over"}
	ErrNotStarted       = &Error{Kind: KindUserInput, Code: "NOT_STARTED", Message: "game has not started"}
	ErrNotParticipant   = &Error{Kind: KindUserInput, Code: "NOT_PARTICIPANT", Message: "you are not playing this game"}
	ErrInvalidOptions   = &Error{Kind: KindUserInput, Code: "INVALID_OPTIONS", Message: "invalid game options"}

	ErrInvalidCredentials = &Error{Kind: KindUserInput, Code: "INVALID_CREDENTIALS", Message: "invalid username or password"}
	ErrAlreadyLoggedIn    = &Error{Kind: KindUserInput, Code: "ALREADY_LOGGED_IN", Message: "already logged in"}
	ErrNotLoggedIn        = &Error{Kind: KindUserInput, Code: "NOT_LOGGED_IN", Message: "not logged in"}
	ErrUserNotFound       = &Error{Kind: KindNotFound, Code: "USER_NOT_FOUND", Message: "user does not exist"}
	ErrUsernameTaken      = &Error{Kind: KindConflict, Code: "USERNAME_TAKEN", Message: "username already exists"}
	ErrContention         = &Error{Kind: KindConflict, Code: "CONTENTION", Message: "concurrent update, try again"}

	ErrServerFault = &Error{Kind: KindServerFault, Code: "SERVER_FAULT", Message: "internal server error"}
)

// Invalid returns a user input error carrying a validation reason.
func Invalid(reason string) error {
	return &Error{Kind: KindUserInput, Code: "INVALID_INPUT", Message: reason}
}

type fault struct {
	op    string
	cause error
}

func (f *fault) Error() string { return fmt.Sprintf("%s: %v", f.op, f.cause) }
func (f *fault) Unwrap() error { return f.cause }
func (f *fault) Is(target error) bool {
	return target == ErrServerFault
}

// Fault wraps an internal failure. The cause stays reachable for logging.
func Fault(op string, cause error) error {
	if cause == nil {
		cause = errors.New("unknown")
	}
	return &fault{op: op, cause: cause}
}

// Faultf is Fault with a formatted cause.
func Faultf(op, format string, args ...any) error {
	return Fault(op, fmt.Errorf(format, args...))
}

// Classify returns the caller-visible error for err. Anything unknown is a server fault.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var f *fault
	if errors.As(err, &f) {
		return ErrServerFault
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return ErrServerFault
}

func KindOf(err error) Kind {
	if e := Classify(err); e != nil {
		return e.Kind
	}
	return KindServerFault
}
