// Package session implements the per-connection state machine that
// sniffs a ClientHello, dials the dispatched backend, and shuttles bytes
// between client and backend until either side closes.
package session

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/netip"
	"sync"
	"time"

	"sni-tunnel-proxy/internal/backends"
	"sni-tunnel-proxy/internal/handshake"
	"sni-tunnel-proxy/internal/logging"
	"sni-tunnel-proxy/internal/netio"
	"sni-tunnel-proxy/internal/ringbuffer"
)

// helloReadBufLen bounds the single read the Session issues to capture
// the ClientHello. It is independent of the ring buffer's configured
// capacity: a stack buffer for the sniff, not a pipe for the proxy.
const helloReadBufLen = 16384

// HalfCloseDrain is how long a session keeps flushing buffered bytes to
// the surviving side after one side of a proxied connection has closed,
// before it is torn down unconditionally.
const HalfCloseDrain = 5 * time.Second

// Options configures a Session's timeouts and buffer sizing.
type Options struct {
	// BufLen is the ring buffer capacity for each direction (the `-b`
	// CLI flag), default 16384.
	BufLen int
	// ReadHelloTimeout bounds how long AwaitHello waits for a complete
	// ClientHello record before giving up.
	ReadHelloTimeout time.Duration
	// DialTimeout bounds the non-blocking connect to the backend.
	DialTimeout time.Duration
}

// Session is the per-connection object: it owns the client socket, the
// backend socket once dialed, both ring buffers, and drives itself from
// AwaitHello through Proxy to termination.
type Session struct {
	opts       Options
	dispatcher *backends.Dispatcher
	logger     *logging.Logger

	clientConn *net.TCPConn
	clientV    *netio.VectoredConn
	backendV   *netio.VectoredConn

	cl2bk *ringbuffer.RingBuffer
	bk2cl *ringbuffer.RingBuffer

	mu    sync.Mutex
	state State
}

// New constructs a Session for an already-accepted client connection.
// The Session does not start running until Run is called.
func New(conn *net.TCPConn, dispatcher *backends.Dispatcher, opts Options, logger *logging.Logger) *Session {
	if opts.BufLen <= 0 {
		opts.BufLen = 16384
	}
	return &Session{
		opts:       opts,
		dispatcher: dispatcher,
		logger:     logger,
		clientConn: conn,
		state:      AwaitHello,
	}
}

// State returns the Session's current state. Safe for concurrent use:
// every state change goes through setState under the same lock.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Run drives the Session through its full lifecycle: sniff, dispatch,
// dial, proxy, drain. It returns once the session has fully terminated
// and both sockets are closed.
func (s *Session) Run(ctx context.Context) {
	defer s.terminate()

	raw, hello, err := s.readHello()
	if err != nil {
		s.logger.Errorf("client %s: awaiting hello: %v", s.clientConn.RemoteAddr(), err)
		return
	}

	entry, err := s.dispatcher.Lookup(hello.ServerName)
	if err != nil {
		s.logger.Errorf("client %s: sni %q: %v", s.clientConn.RemoteAddr(), hello.ServerName, err)
		s.emitAlert(hello.LegacyVersion)
		return
	}

	s.setState(BackendConnecting)
	backendConn, err := s.dial(ctx, entry)
	if err != nil {
		s.logger.Errorf("client %s: dialing backend for %q: %v", s.clientConn.RemoteAddr(), hello.ServerName, err)
		s.emitAlert(hello.LegacyVersion)
		return
	}

	backendV, err := netio.New(backendConn)
	if err != nil {
		backendConn.Close()
		s.logger.Errorf("client %s: wrapping backend conn: %v", s.clientConn.RemoteAddr(), err)
		s.emitAlert(hello.LegacyVersion)
		return
	}
	clientV, err := netio.New(s.clientConn)
	if err != nil {
		backendConn.Close()
		s.logger.Errorf("client %s: wrapping client conn: %v", s.clientConn.RemoteAddr(), err)
		return
	}
	s.backendV = backendV
	s.clientV = clientV

	s.cl2bk = ringbuffer.New(s.opts.BufLen, raw, len(raw))
	s.bk2cl = ringbuffer.New(s.opts.BufLen, nil, 0)

	s.logger.Info("proxying", logging.WithSession(s.clientConn.RemoteAddr().String(), hello.ServerName)...)
	s.setState(Proxy)
	s.runProxy()
}

// readHello issues the single read that must capture the whole
// ClientHello record and parses it. The raw bytes are returned alongside
// the parse result so a successful parse can preload cl2bk with them:
// the backend sees the client's exact ClientHello bytes as the first
// bytes on the forwarded connection.
func (s *Session) readHello() ([]byte, handshake.ClientHello, error) {
	if s.opts.ReadHelloTimeout > 0 {
		s.clientConn.SetReadDeadline(time.Now().Add(s.opts.ReadHelloTimeout))
		defer s.clientConn.SetReadDeadline(time.Time{})
	}

	buf := make([]byte, helloReadBufLen)
	n, err := s.clientConn.Read(buf)
	if n == 0 {
		if err == nil {
			err = io.EOF
		}
		return nil, handshake.ClientHello{}, err
	}
	raw := buf[:n]

	hello, perr := handshake.Parse(raw)
	if perr != nil {
		s.emitAlert(echoVersion(raw))
		return nil, handshake.ClientHello{}, perr
	}
	return raw, hello, nil
}

// echoVersion recovers the legacy_version bytes at their fixed record
// offset even from an otherwise malformed record, so the alert emitted
// for a parse failure still echoes whatever version the client proposed
// when that much of the record is actually present.
func echoVersion(raw []byte) [2]byte {
	if len(raw) >= 3 {
		return [2]byte{raw[1], raw[2]}
	}
	return [2]byte{0x03, 0x01}
}

// emitAlert writes the 7-byte fatal alert record in one best-effort
// attempt. A partial write or timeout is logged, never retried; the
// session is closing either way.
func (s *Session) emitAlert(version [2]byte) {
	s.setState(AlertPending)
	alert := handshake.Alert(version)
	s.clientConn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	if _, err := s.clientConn.Write(alert); err != nil {
		s.logger.Errorf("client %s: writing alert: %v", s.clientConn.RemoteAddr(), err)
	}
	s.clientConn.SetWriteDeadline(time.Time{})
	s.setState(AlertSent)
}

// dial connects to the first address in entry.Addrs that succeeds,
// trying addresses in order with no further policy.
func (s *Session) dial(ctx context.Context, entry backends.Entry) (*net.TCPConn, error) {
	var lastErr error
	timeout := s.opts.DialTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	for _, addr := range entry.Addrs {
		dialCtx, cancel := context.WithTimeout(ctx, timeout)
		d := net.Dialer{}
		conn, err := d.DialContext(dialCtx, "tcp", netip.AddrPortFrom(addr, uint16(entry.Port)).String())
		cancel()
		if err != nil {
			lastErr = err
			continue
		}
		tcpConn, ok := conn.(*net.TCPConn)
		if !ok {
			conn.Close()
			lastErr = fmt.Errorf("session: backend dial returned non-TCP connection")
			continue
		}
		return tcpConn, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("session: no backend addresses")
	}
	return nil, lastErr
}

// runProxy starts one pump goroutine per direction, each owning exactly
// one ring buffer, and waits for both to finish. Once the first
// direction closes, the surviving descriptor's read side is shut down
// and the opposite pump gets HalfCloseDrain to flush its buffered bytes
// before the session is torn down unconditionally.
func (s *Session) runProxy() {
	cl2bkDone := make(chan struct{})
	bk2clDone := make(chan struct{})

	go func() {
		defer close(cl2bkDone)
		s.pump(s.clientV, s.backendV, s.cl2bk, "client->backend")
	}()
	go func() {
		defer close(bk2clDone)
		s.pump(s.backendV, s.clientV, s.bk2cl, "backend->client")
	}()

	select {
	case <-cl2bkDone:
		s.setState(BackendHalfClosed)
		s.backendV.CloseRead()
		s.waitOrForce(bk2clDone)
	case <-bk2clDone:
		s.setState(ClientHalfClosed)
		s.clientV.CloseRead()
		s.waitOrForce(cl2bkDone)
	}
	s.setState(BothClosed)
}

func (s *Session) waitOrForce(done <-chan struct{}) {
	select {
	case <-done:
	case <-time.After(HalfCloseDrain):
		// Closing both sockets unblocks the pump still in readv/writev;
		// waiting for it keeps its ring buffer out of terminate's reach
		// until it has returned.
		s.clientConn.Close()
		s.backendV.Conn().Close()
		<-done
	}
}

// pump forwards src to dst through buf until src's read side closes or
// errors, draining any bytes already buffered before returning. buf is
// touched by this goroutine alone, so no lock is needed around its
// counters; only the Session's state tag, set by setState, is shared.
func (s *Session) pump(src, dst *netio.VectoredConn, buf *ringbuffer.RingBuffer, label string) {
	for {
		if buf.CanRead() {
			n, err := dst.Writev(buf.ReadView())
			if n > 0 {
				buf.AdvanceRead(n)
			}
			if err != nil {
				s.logger.Errorf("%s: write: %v", label, err)
				return
			}
			continue
		}
		if !buf.CanWrite() {
			return
		}
		n, err := src.Readv(buf.WriteView())
		if n > 0 {
			buf.AdvanceWrite(n)
		}
		if err != nil {
			if err != io.EOF {
				s.logger.Errorf("%s: read: %v", label, err)
			}
			s.drain(dst, buf, label)
			return
		}
	}
}

// drain flushes whatever is left in buf to dst after src has closed,
// per the half-close drain policy.
func (s *Session) drain(dst *netio.VectoredConn, buf *ringbuffer.RingBuffer, label string) {
	for buf.CanRead() {
		n, err := dst.Writev(buf.ReadView())
		if n > 0 {
			buf.AdvanceRead(n)
		}
		if err != nil {
			s.logger.Errorf("%s: drain write: %v", label, err)
			return
		}
	}
}

func (s *Session) terminate() {
	s.setState(Terminated)
	s.clientConn.Close()
	if s.backendV != nil {
		s.backendV.Conn().Close()
	}
	if s.cl2bk != nil {
		s.cl2bk.Close()
	}
	if s.bk2cl != nil {
		s.bk2cl.Close()
	}
}
