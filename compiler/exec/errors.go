package exec

import (
	"fmt"

	"github.com/slowlang/mirsh/compiler/mir"
)

type (
	ErrorKind int

	// Error is every failure the executor reports.
	// Func, Block and Instr locate the innermost instruction that failed.
	Error struct {
		Kind ErrorKind
		Msg  string

		// Value is what Throw threw.
		Value mir.Value

		Err error

		Func  string
		Block mir.BlockID
		Instr int
	}
)

const (
	_ ErrorKind = iota
	UndefinedFunction
	UndefinedVariable
	InvalidRegisterReference
	InvalidBlockReference
	TypeMismatch
	RegexCompileError
	StackOverflow
	CommandFailed
	Thrown
)

var (
	ErrUndefinedFunction        = &Error{Kind: UndefinedFunction}
	ErrUndefinedVariable        = &Error{Kind: UndefinedVariable}
	ErrInvalidRegisterReference = &Error{Kind: InvalidRegisterReference}
	ErrInvalidBlockReference    = &Error{Kind: InvalidBlockReference}
	ErrTypeMismatch             = &Error{Kind: TypeMismatch}
	ErrRegexCompile             = &Error{Kind: RegexCompileError}
	ErrStackOverflow            = &Error{Kind: StackOverflow}
	ErrCommandFailed            = &Error{Kind: CommandFailed}
	ErrThrown                   = &Error{Kind: Thrown}
)

func newError(k ErrorKind, format string, args ...any) *Error {
	return &Error{
		Kind:  k,
		Msg:   fmt.Sprintf(format, args...),
		Block: mir.NoBlock,
	}
}

func (e *Error) Error() string {
	msg := e.Kind.String()

	if e.Msg != "" {
		msg += ": " + e.Msg
	}

	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}

	if e.Func != "" {
		msg += fmt.Sprintf(" (at %s.b%d:%d)", e.Func, e.Block, e.Instr)
	}

	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches errors of the same kind, so the Err* values work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)

	return ok && t.Kind == e.Kind
}

func (e *Error) located() bool { return e.Func != "" }

func (k ErrorKind) String() string {
	switch k {
	case UndefinedFunction:
		return "undefined function"
	case UndefinedVariable:
		return "undefined variable"
	case InvalidRegisterReference:
		return "invalid register reference"
	case InvalidBlockReference:
		return "invalid block reference"
	case TypeMismatch:
		return "type mismatch"
	case RegexCompileError:
		return "regex compile error"
	case StackOverflow:
		return "stack overflow"
	case CommandFailed:
		return "command failed"
	case Thrown:
		return "uncaught exception"
	default:
		return fmt.Sprintf("error kind %d", int(k))
	}
}
