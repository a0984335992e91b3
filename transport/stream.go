// Package transport provides the uniform byte-stream abstraction the frame
// codecs read and write through, plus the three concrete transports (TCP,
// TLS, serial RTU) and an in-memory mock for tests.
//
// Ref: spec.md Section 4.3 (Transport Abstraction)
package transport

import (
	"context"
	"io"
)

// Stream is the minimal interface the framer needs from any transport.
type Stream interface {
	io.Reader
	io.Writer

	// ReadExact reads exactly len(buf) bytes, as io.ReadFull would.
	ReadExact(ctx context.Context, buf []byte) error
	// WriteAll writes buf in its entirety.
	WriteAll(ctx context.Context, buf []byte) error
	// Shutdown closes the stream, unblocking any in-flight read/write.
	Shutdown() error
}

// RoleSource is implemented by transports that can report the authenticated
// peer's roles (currently only TLS). Server session code type-asserts a
// Stream to this interface to extract roles once per session.
//
// Ref: spec.md Section 6.3 (Authorization Certificate Extension)
type RoleSource interface {
	PeerRoles() []string
}
