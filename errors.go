package badgefs

import "errors"

// Transport errors. None of these are retried anywhere in the stack:
// retry safety depends on operation idempotence the device protocol does
// not guarantee.
var (
	// ErrTimeout means the device did not answer a request in time. The
	// pending request is abandoned; the transport resynchronizes its
	// framing before the next exchange.
	ErrTimeout = errors.New("request timed out")

	// ErrMalformed means response bytes could not be framed.
	ErrMalformed = errors.New("malformed response")

	// ErrDisconnected means the byte stream to the device is gone. It is
	// fatal to the session; recovery requires a fresh connect/mount.
	ErrDisconnected = errors.New("device disconnected")
)

// Protocol-level errors, produced when a remote operation cannot apply to
// the named path.
var (
	ErrNotFound      = errors.New("no such file or directory")
	ErrNotAFile      = errors.New("not a file")
	ErrNotADirectory = errors.New("not a directory")
	ErrAlreadyExists = errors.New("path already exists")
	ErrOutOfRange    = errors.New("offset beyond end of file")
)

var (
	// ErrBusy is returned when the console channel is already held by
	// another opener.
	ErrBusy = errors.New("console already open")

	// ErrUnmounted is returned for operations issued after session
	// teardown has begun.
	ErrUnmounted = errors.New("session closed")
)
