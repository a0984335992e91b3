package transport

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/asn1"
	"fmt"
)

// roleOID is the private enterprise OID carrying the comma-separated role
// list in a client certificate's extensions, as required for the
// authorization gate.
//
// Ref: spec.md Section 6.3 (Authorization Certificate Extension)
var roleOID = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 50316, 802, 1}

// tlsStream wraps a *tls.Conn and additionally implements RoleSource by
// inspecting the peer's certificates once the handshake completes.
type tlsStream struct {
	conn *tls.Conn
}

// DialTLS dials host:port over TCP, enables TCP_NODELAY, then performs a TLS
// client handshake using cfg.
func DialTLS(ctx context.Context, host string, port int, cfg *tls.Config) (Stream, error) {
	plain, err := DialTCP(ctx, host, port)
	if err != nil {
		return nil, err
	}
	tcp, ok := plain.(*tcpStream)
	if !ok {
		return nil, fmt.Errorf("transport: DialTLS requires a *tcpStream, got %T", plain)
	}

	tlsConn := tls.Client(tcp.conn, cfg)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		_ = tcp.conn.Close()
		return nil, fmt.Errorf("transport: TLS handshake failed: %w", err)
	}
	return &tlsStream{conn: tlsConn}, nil
}

// WrapServerTLS performs the server side of a TLS handshake over an already
// accepted connection, implemented as a Stream so the session accept loop can
// treat it like any other transport.
func WrapServerTLS(ctx context.Context, plain Stream, cfg *tls.Config) (Stream, error) {
	tcp, ok := plain.(*tcpStream)
	if !ok {
		return nil, fmt.Errorf("transport: WrapServerTLS requires a *tcpStream, got %T", plain)
	}
	tlsConn := tls.Server(tcp.conn, cfg)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		_ = tcp.conn.Close()
		return nil, fmt.Errorf("transport: TLS handshake failed: %w", err)
	}
	return &tlsStream{conn: tlsConn}, nil
}

func (s *tlsStream) Read(p []byte) (int, error)  { return s.conn.Read(p) }
func (s *tlsStream) Write(p []byte) (int, error) { return s.conn.Write(p) }

func (s *tlsStream) ReadExact(ctx context.Context, buf []byte) error {
	return readExactWithDeadline(ctx, s.conn, buf)
}

func (s *tlsStream) WriteAll(ctx context.Context, buf []byte) error {
	return writeAllWithDeadline(ctx, s.conn, buf)
}

func (s *tlsStream) Shutdown() error {
	return s.conn.Close()
}

// PeerRoles extracts the role list from the peer certificate's roleOID
// extension. The verified chains are searched first, then the certificates
// as the peer presented them, whether or not they were verified. Returns nil
// if no certificate carries the extension, which the authorization gate
// treats as "no roles granted".
func (s *tlsStream) PeerRoles() []string {
	state := s.conn.ConnectionState()
	for _, chain := range state.VerifiedChains {
		for _, cert := range chain {
			if roles, ok := rolesFromCertificate(cert); ok {
				return roles
			}
		}
	}
	for _, cert := range state.PeerCertificates {
		if roles, ok := rolesFromCertificate(cert); ok {
			return roles
		}
	}
	return nil
}

func rolesFromCertificate(cert *x509.Certificate) ([]string, bool) {
	for _, ext := range cert.Extensions {
		if !ext.Id.Equal(roleOID) {
			continue
		}
		var raw string
		if _, err := asn1.Unmarshal(ext.Value, &raw); err != nil {
			continue
		}
		return splitRoles(raw), true
	}
	return nil, false
}

func splitRoles(raw string) []string {
	var roles []string
	start := 0
	for i := 0; i <= len(raw); i++ {
		if i == len(raw) || raw[i] == ',' {
			if i > start {
				roles = append(roles, raw[start:i])
			}
			start = i + 1
		}
	}
	return roles
}
