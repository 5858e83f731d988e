package session

import (
	"errors"
	"fmt"

	"github.com/meeplelab/parlor/game/engine"
	"github.com/meeplelab/parlor/game/serial"
)

// Code is the machine-readable error class surfaced to clients as errorCode.
type Code string

const (
	CodeNotFound      Code = "NOT_FOUND"
	CodeConflict      Code = "CONFLICT"
	CodeForbidden     Code = "FORBIDDEN"
	CodeIllegalAction Code = "ILLEGAL_ACTION"
	CodeInvalidArgs   Code = "INVALID_ARGS"
	CodeInvalidStep   Code = "INVALID_STEP"
	CodeGameOver      Code = "GAME_OVER"
	CodeOutOfRange    Code = "OUT_OF_RANGE"
	CodeInternal      Code = "INTERNAL"
)

// Error is a coded session error. Everything a client can trip over comes
// back as one of these; anything else is an internal failure.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string { return e.Message }

// NewError builds a coded error.
func NewError(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Common preconditions that read better as sentinels.
var (
	ErrNothingToUndo  = NewError(CodeIllegalAction, "nothing to undo")
	ErrNoPending      = NewError(CodeNotFound, "no pending action for this seat")
	ErrNoLobby        = NewError(CodeConflict, "game has no open lobby")
	ErrGameNotStarted = NewError(CodeConflict, "game has not started yet")
)

// CodeOf extracts the code from any error, defaulting to INTERNAL.
func CodeOf(err error) Code {
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	return CodeInternal
}

// fromEngine translates engine errors into coded session errors.
func fromEngine(err error) *Error {
	switch {
	case errors.Is(err, engine.ErrGameOver):
		return NewError(CodeGameOver, "%s", err.Error())
	case errors.Is(err, engine.ErrNotYourTurn), errors.Is(err, engine.ErrIllegalAction):
		return NewError(CodeIllegalAction, "%s", err.Error())
	case errors.Is(err, engine.ErrUnknownAction):
		return NewError(CodeNotFound, "%s", err.Error())
	case errors.Is(err, engine.ErrInvalidArgs):
		return NewError(CodeInvalidArgs, "%s", err.Error())
	default:
		return NewError(CodeInternal, "%s", err.Error())
	}
}

// fromSerial translates serializer errors into coded session errors.
func fromSerial(err error) *Error {
	if errors.Is(err, serial.ErrDanglingRef) || errors.Is(err, serial.ErrUnsupported) {
		return NewError(CodeInvalidArgs, "%s", err.Error())
	}
	return NewError(CodeInternal, "%s", err.Error())
}
