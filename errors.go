package ape

// Error represents a decompressor error code.
//
// Errors returned by this package wrap one of these codes, so callers
// classify failures with errors.Is:
//
//	if errors.Is(err, ape.ErrInvalidStream) { ... }
type Error int

// Error codes.
const (
	ErrNone             Error = 0
	ErrBadParameter     Error = 1
	ErrInvalidStream    Error = 2
	ErrIO               Error = 3
	ErrChecksumMismatch Error = 4
	ErrUninitialized    Error = 5
)

// errMessages contains the message of each error code.
var errMessages = [6]string{
	"No error",
	"Bad parameter",
	"Invalid stream",
	"I/O failure",
	"Frame checksum mismatch",
	"Decompressor not initialized",
}

// Error implements the error interface.
func (e Error) Error() string {
	if e >= 0 && int(e) < len(errMessages) {
		return errMessages[e]
	}
	return "unknown error"
}
