package fints

import (
	"errors"
	"fmt"
)

// ErrNotAnImage is returned by DecodeChallengeImage when the challenge blob
// does not contain displayable image data.
var ErrNotAnImage = errors.New("challenge data is not an image")

// ConfigError reports a malformed connection configuration. It is raised
// before any network call is attempted.
type ConfigError struct {
	Field string
	Msg   string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Msg)
}

// ConnectionError is a transient network or gateway failure. The sync can be
// retried from scratch, or from the last persisted checkpoint if a TAN
// round-trip was already in flight.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection failed during %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// ProtocolError is a bank-side rejection (bad credentials, unsupported TAN
// mode, malformed response). It is surfaced to the user verbatim and never
// retried automatically.
type ProtocolError struct {
	Msg string
}

func (e *ProtocolError) Error() string { return e.Msg }

// IsRetryable reports whether err is a transient gateway failure.
func IsRetryable(err error) bool {
	var ce *ConnectionError
	return errors.As(err, &ce)
}
