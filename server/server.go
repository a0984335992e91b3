// Package server implements the Modbus server (slave) role: accept loops for
// TCP/TLS, a point-to-point RTU session, the device map, and the
// authorization gate.
//
// Ref: spec.md Section 4.5 (Server Session Core), Section 2 (C6-C8)
package server

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/modbuscore/modbus"
	"github.com/modbuscore/modbus/logging"
	"github.com/modbuscore/modbus/transport"
)

// Server is a handle over zero or more listening sockets (or one RTU
// session) sharing a single DeviceMap. Dropping the handle without calling
// Shutdown leaves background goroutines running; callers are expected to
// call Shutdown explicitly, in the manner of the teacher's Stop method.
type Server struct {
	devices       *DeviceMap
	logger        logging.LoggerInterface
	addressFilter AddressFilter
	maxSessions   int

	mu          sync.Mutex
	decodeLevel modbus.DecodeLevel
	sessions    []*trackedSession
	nextID      int
	listeners   []net.Listener
	shuttingDown bool

	wg sync.WaitGroup
}

type trackedSession struct {
	id      string
	cancel  context.CancelFunc
	started time.Time
	done    chan struct{}
}

// Option configures a Server at construction time.
type Option func(*Server)

func WithLogger(logger logging.LoggerInterface) Option {
	return func(s *Server) { s.logger = logger }
}

func WithAddressFilter(filter AddressFilter) Option {
	return func(s *Server) { s.addressFilter = filter }
}

// WithMaxSessions bounds concurrent sessions; when a new connection arrives
// at capacity, the oldest session is signalled to terminate before the new
// one is admitted.
func WithMaxSessions(n int) Option {
	return func(s *Server) { s.maxSessions = n }
}

// NewServer builds a Server bound to devices. Call CreateTCP/CreateTLS/
// CreateRTU to actually start accepting connections.
func NewServer(devices *DeviceMap, options ...Option) *Server {
	s := &Server{
		devices:       devices,
		logger:        logging.NewNoopLogger(),
		addressFilter: AnyAddress(),
		maxSessions:   0, // 0 = unbounded
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

// SetDecodeLevel hot-reconfigures logging verbosity for every session
// created after the call, and is intended to be safe to call concurrently
// with an active server.
func (s *Server) SetDecodeLevel(level modbus.DecodeLevel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decodeLevel = level
}

// AddDevice registers (or replaces) the device entry for unit.
func (s *Server) AddDevice(unit modbus.UnitId, device *Device) {
	s.devices.AddDevice(unit, device)
}

// UpdateDatabase runs fn transactionally against unit's device entry.
// Returns false if no device is registered for unit.
func (s *Server) UpdateDatabase(unit modbus.UnitId, fn func(tx *Tx)) bool {
	device, ok := s.devices.Device(unit)
	if !ok {
		return false
	}
	device.Update(fn)
	return true
}

// CreateTCP binds address:port and accepts plain Modbus TCP sessions until
// ctx is cancelled or Shutdown is called.
func (s *Server) CreateTCP(ctx context.Context, address string, port int) error {
	listener, err := net.Listen("tcp", fmt.Sprintf("%s:%d", address, port))
	if err != nil {
		return err
	}
	return s.serve(ctx, listener, nil, nil)
}

// CreateTLS is CreateTCP plus a TLS handshake on every accepted connection
// and an optional authorizer consulted on every request.
func (s *Server) CreateTLS(ctx context.Context, address string, port int, cfg *tls.Config, authz *Authorizer) error {
	listener, err := net.Listen("tcp", fmt.Sprintf("%s:%d", address, port))
	if err != nil {
		return err
	}
	return s.serve(ctx, listener, cfg, authz)
}

func (s *Server) serve(ctx context.Context, listener net.Listener, tlsCfg *tls.Config, authz *Authorizer) error {
	s.mu.Lock()
	s.listeners = append(s.listeners, listener)
	s.mu.Unlock()

	var sem *semaphore.Weighted
	if s.maxSessions > 0 {
		sem = semaphore.NewWeighted(int64(s.maxSessions))
	}

	// Closing the listener when ctx is cancelled unblocks Accept so the loop
	// below observes ctx.Done and returns.
	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := listener.Accept()
			if err != nil {
				select {
				case <-ctx.Done():
					return
				default:
				}
				s.mu.Lock()
				closing := s.shuttingDown
				s.mu.Unlock()
				if closing {
					return
				}
				s.logger.Error(ctx, "accept failed: %v", err)
				continue
			}

			remoteIP := remoteIP(conn)
			if !s.addressFilter.Allows(remoteIP) {
				s.logger.Warn(ctx, "rejecting connection from %s: address filter", remoteIP)
				conn.Close()
				continue
			}

			if sem != nil && !sem.TryAcquire(1) {
				s.evictOldest()
				sem.Acquire(ctx, 1)
			}

			s.wg.Add(1)
			go s.handleAccepted(ctx, conn, tlsCfg, authz, sem)
		}
	}()
	return nil
}

func (s *Server) handleAccepted(ctx context.Context, conn net.Conn, tlsCfg *tls.Config, authz *Authorizer, sem *semaphore.Weighted) {
	defer s.wg.Done()
	if sem != nil {
		defer sem.Release(1)
	}

	stream := transport.NewAcceptedTCP(conn)
	if tlsCfg != nil {
		tlsStream, err := transport.WrapServerTLS(ctx, stream, tlsCfg)
		if err != nil {
			s.logger.Warn(ctx, "TLS handshake failed from %s: %v", conn.RemoteAddr(), err)
			conn.Close()
			return
		}
		stream = tlsStream
	}

	id := s.registerSession()
	defer s.unregisterSession(id)

	sessionCtx, cancel := context.WithCancel(ctx)
	s.setSessionCancel(id, cancel)
	defer cancel()

	var session *Session
	if tlsCfg != nil {
		session = NewTLSSession(id, stream, s.devices, authz, s.logger)
	} else {
		session = NewTCPSession(id, stream, s.devices, s.logger)
	}
	session.SetDecodeLevel(s.currentDecodeLevel())

	if err := session.Run(sessionCtx); err != nil {
		s.logger.Debug(ctx, "session %s ended: %v", id, err)
	}
	stream.Shutdown()
}

// CreateRTU runs a single point-to-point RTU session over the opened serial
// port. RTU has no accept loop: the port either exists or it doesn't, and
// there is exactly one peer on the wire.
func (s *Server) CreateRTU(ctx context.Context, serialCfg transport.SerialConfig) error {
	stream, err := transport.OpenSerial(serialCfg)
	if err != nil {
		return err
	}

	id := s.registerSession()
	sessionCtx, cancel := context.WithCancel(ctx)
	s.setSessionCancel(id, cancel)

	session := NewRTUSession(id, stream, s.devices, s.logger)
	session.SetDecodeLevel(s.currentDecodeLevel())

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.unregisterSession(id)
		defer cancel()
		if err := session.Run(sessionCtx); err != nil {
			s.logger.Debug(ctx, "RTU session ended: %v", err)
		}
		stream.Shutdown()
	}()
	return nil
}

// Shutdown stops admitting new sessions, cancels every in-flight session's
// context, and waits up to drainTimeout for them to exit. A drainTimeout of
// zero waits indefinitely.
func (s *Server) Shutdown(drainTimeout time.Duration) error {
	s.mu.Lock()
	s.shuttingDown = true
	for _, l := range s.listeners {
		l.Close()
	}
	for _, sess := range s.sessions {
		if sess.cancel != nil {
			sess.cancel()
		}
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	if drainTimeout <= 0 {
		<-done
		return nil
	}
	select {
	case <-done:
		return nil
	case <-time.After(drainTimeout):
		return fmt.Errorf("server: shutdown timed out after %s waiting for sessions to drain", drainTimeout)
	}
}

func (s *Server) registerSession() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := fmt.Sprintf("session-%d", s.nextID)
	s.sessions = append(s.sessions, &trackedSession{id: id, started: time.Now(), done: make(chan struct{})})
	return id
}

func (s *Server) setSessionCancel(id string, cancel context.CancelFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.sessions {
		if sess.id == id {
			sess.cancel = cancel
			return
		}
	}
}

func (s *Server) unregisterSession(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, sess := range s.sessions {
		if sess.id == id {
			close(sess.done)
			s.sessions = append(s.sessions[:i], s.sessions[i+1:]...)
			return
		}
	}
}

// evictOldest signals the longest-lived session to terminate so a new
// connection can be admitted once the semaphore releases its slot.
//
// Ref: spec.md Section 4.5 ("If active session count = max_sessions, select
// the oldest session and signal it to terminate before admitting the new
// one.")
func (s *Server) evictOldest() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.sessions) == 0 {
		return
	}
	oldest := s.sessions[0]
	for _, sess := range s.sessions[1:] {
		if sess.started.Before(oldest.started) {
			oldest = sess
		}
	}
	if oldest.cancel != nil {
		oldest.cancel()
	}
}

func (s *Server) currentDecodeLevel() modbus.DecodeLevel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.decodeLevel
}

func remoteIP(conn net.Conn) net.IP {
	host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		return nil
	}
	return net.ParseIP(host)
}
