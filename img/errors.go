package img

import "fmt"

type ErrorKind int

const (
	// ErrArgument covers nil buffers, negative offsets and length
	// arithmetic that would overflow, always a caller bug.
	ErrArgument ErrorKind = iota
	// ErrReadOffset covers offsets at or past the end of the image.
	ErrReadOffset
	// ErrDriverIO covers failures of the underlying medium or corrupt
	// container metadata reported by a format library.
	ErrDriverIO
	// ErrAllocation covers scratch buffers that cannot be sized.
	ErrAllocation
	// ErrDecryption covers wrong keys and corrupt encrypted structures.
	ErrDecryption
)

func (kind ErrorKind) String() string {
	switch kind {
	case ErrArgument:
		return "argument"
	case ErrReadOffset:
		return "read offset"
	case ErrDriverIO:
		return "driver I/O"
	case ErrAllocation:
		return "allocation"
	case ErrDecryption:
		return "decryption"
	}
	return "unknown"
}

// Error is the structured error produced everywhere in this layer. Diag
// holds diagnostic text passed through from a third-party library, kept
// separate so callers can match on the formatted message alone.
type Error struct {
	Kind ErrorKind
	Msg  string
	Diag string
}

func (e *Error) Error() string {
	if e.Diag != "" {
		return fmt.Sprintf("%s error: %s: %s", e.Kind, e.Msg, e.Diag)
	}
	return fmt.Sprintf("%s error: %s", e.Kind, e.Msg)
}

// Is reports kind equality so call sites can errors.Is against a bare kind
// template, e.g. errors.Is(err, &Error{Kind: ErrReadOffset}).
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return other.Kind == e.Kind && (other.Msg == "" || other.Msg == e.Msg)
}

func NewError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// WrapError attaches the diagnostic text of an underlying error.
func WrapError(kind ErrorKind, cause error, format string, args ...any) *Error {
	e := NewError(kind, format, args...)
	if cause != nil {
		e.Diag = cause.Error()
	}
	return e
}
