package transport

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"
)

// tcpStream wraps a net.Conn with the Stream contract. TCP_NODELAY is
// enabled on connect, per spec.md Section 4.3.
type tcpStream struct {
	conn net.Conn
}

// DialTCP resolves host (possibly re-resolving DNS on every call, as the
// client channel's reconnect loop requires) and dials each resolved address
// in order until one succeeds.
//
// Ref: spec.md Section 4.4 ("Connecting state ... TCP: resolve host name
// (DNS) on every connection attempt; try each resolved address in order
// until one succeeds or all fail.")
func DialTCP(ctx context.Context, host string, port int) (Stream, error) {
	resolver := net.DefaultResolver
	addrs, err := resolver.LookupHost(ctx, host)
	if err != nil {
		return nil, fmt.Errorf("transport: dns lookup of %q failed: %w", host, err)
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("transport: dns lookup of %q returned no addresses", host)
	}

	var dialer net.Dialer
	var lastErr error
	for _, addr := range addrs {
		target := net.JoinHostPort(addr, fmt.Sprintf("%d", port))
		conn, err := dialer.DialContext(ctx, "tcp", target)
		if err != nil {
			lastErr = err
			continue
		}
		if tcpConn, ok := conn.(*net.TCPConn); ok {
			_ = tcpConn.SetNoDelay(true)
		}
		return &tcpStream{conn: conn}, nil
	}
	return nil, fmt.Errorf("transport: could not connect to any resolved address for %q: %w", host, lastErr)
}

// NewAcceptedTCP wraps a server-accepted net.Conn (already dialed by the
// caller's net.Listener) as a Stream, enabling TCP_NODELAY the same way
// DialTCP does for the client side.
func NewAcceptedTCP(conn net.Conn) Stream {
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		_ = tcpConn.SetNoDelay(true)
	}
	return &tcpStream{conn: conn}
}

func (s *tcpStream) Read(p []byte) (int, error)  { return s.conn.Read(p) }
func (s *tcpStream) Write(p []byte) (int, error) { return s.conn.Write(p) }

func (s *tcpStream) ReadExact(ctx context.Context, buf []byte) error {
	return readExactWithDeadline(ctx, s.conn, buf)
}

func (s *tcpStream) WriteAll(ctx context.Context, buf []byte) error {
	return writeAllWithDeadline(ctx, s.conn, buf)
}

func (s *tcpStream) Shutdown() error {
	return s.conn.Close()
}

// readExactWithDeadline applies ctx's deadline (if any) to the connection
// before delegating to io.ReadFull, so a request's timeout also bounds the
// blocking read that awaits its response.
func readExactWithDeadline(ctx context.Context, conn net.Conn, buf []byte) error {
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
		defer conn.SetReadDeadline(time.Time{})
	}
	_, err := io.ReadFull(conn, buf)
	return err
}

func writeAllWithDeadline(ctx context.Context, conn net.Conn, buf []byte) error {
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(deadline)
		defer conn.SetWriteDeadline(time.Time{})
	}
	_, err := conn.Write(buf)
	return err
}
