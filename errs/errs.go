// Package errs defines typed errors with categories for the client's single
// failure path. Every terminal failure carries a machine-readable Kind and a
// human-readable message; the orchestrator collapses them into exit code 1.
package errs

import (
	"errors"
	"fmt"
)

// Kind is a machine-readable error category.
type Kind string

const (
	// ConnectFailed means no server channel could be opened.
	ConnectFailed Kind = "connect_failed"
	// ServerCrashed means a server was spawned but exited before serving.
	ServerCrashed Kind = "server_crashed"
	// VersionMismatch means the server speaks a different protocol version.
	VersionMismatch Kind = "version_mismatch"
	// UnexpectedResponse covers unknown response tags and short reads while decoding.
	UnexpectedResponse Kind = "unexpected_response"
	// WriteFailed means the request could not be written to an open channel.
	WriteFailed Kind = "write_failed"
	// InsecureChannel means the pipe directory could be used by another user.
	InsecureChannel Kind = "insecure_channel"
	// IdentityFailed means the current process identity could not be determined.
	IdentityFailed Kind = "identity_failed"
	// InvalidArgument reports a malformed command-line switch.
	InvalidArgument Kind = "invalid_argument"
	// ConfigInvalid reports an unusable configuration.
	ConfigInvalid Kind = "config_invalid"
)

// E wraps an error with kind and human-friendly message.
type E struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *E) Error() string {
	if e.Message == "" && e.Err != nil {
		return e.Err.Error()
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *E) Unwrap() error { return e.Err }

func Wrap(kind Kind, msg string, err error) *E { return &E{Kind: kind, Message: msg, Err: err} }
func New(kind Kind, msg string) *E             { return &E{Kind: kind, Message: msg} }

// KindOf returns the Kind of the first *E in err's chain, or "" if there is none.
func KindOf(err error) Kind {
	var e *E
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
