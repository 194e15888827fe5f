package relay

import (
	"context"
	"errors"
	"fmt"
)

// ConnectError reports that the remote SMTP server could not be reached.
type ConnectError struct {
	Addr string
	Err  error
}

func (e *ConnectError) Error() string { return fmt.Sprintf("connect to %s: %v", e.Addr, e.Err) }
func (e *ConnectError) Unwrap() error { return e.Err }

// SocketConfigError reports a failure to disable Nagle on one side of a session.
type SocketConfigError struct {
	Side string // "client" or "remote"
	Err  error
}

func (e *SocketConfigError) Error() string {
	return fmt.Sprintf("failed to set nodelay to %s: %v", e.Side, e.Err)
}
func (e *SocketConfigError) Unwrap() error { return e.Err }

// IOError reports a read, write or shutdown failure inside a pump.
type IOError struct {
	Dir string
	Op  string
	Err error
}

func (e *IOError) Error() string { return fmt.Sprintf("%s %s: %v", e.Dir, e.Op, e.Err) }
func (e *IOError) Unwrap() error { return e.Err }

// ErrorKind names the class of a session error for metrics and logs.
func ErrorKind(err error) string {
	var (
		ce *ConnectError
		se *SocketConfigError
		ie *IOError
	)
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled):
		return "shutdown"
	case errors.As(err, &ce):
		return "connect"
	case errors.As(err, &se):
		return "socket_config"
	case errors.As(err, &ie):
		return "io"
	default:
		return "other"
	}
}
