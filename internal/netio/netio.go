// Package netio provides vectored, readiness-driven I/O over a plain TCP
// connection. VectoredConn's Readv/Writev block the calling goroutine
// until the descriptor is ready, the same suspension contract a
// hand-rolled epoll callback returning EAGAIN would give, but driven by
// the Go runtime's netpoller instead of a private event loop.
package netio

import (
	"io"
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// VectoredConn wraps a TCP connection's raw file descriptor to issue
// readv(2)/writev(2) against the scatter/gather views a RingBuffer
// exposes, so a wrapped read or write never needs to linearize a view
// that straddles the ring's wrap point.
type VectoredConn struct {
	conn *net.TCPConn
	raw  syscall.RawConn
}

// New wraps conn. conn must be a *net.TCPConn (the Listener's accepts and
// the Session's backend dial never hand out anything else).
func New(conn *net.TCPConn) (*VectoredConn, error) {
	raw, err := conn.SyscallConn()
	if err != nil {
		return nil, err
	}
	return &VectoredConn{conn: conn, raw: raw}, nil
}

// Conn returns the underlying connection, for Close/SetDeadline/address
// access the vectored path itself has no need for.
func (v *VectoredConn) Conn() *net.TCPConn { return v.conn }

// Readv fills bufs (as returned by RingBuffer.WriteView) via a single
// readv(2) call, blocking the calling goroutine until the descriptor is
// readable. It returns io.EOF when the peer has performed an orderly
// shutdown; a zero-length read closes that direction.
func (v *VectoredConn) Readv(bufs [][]byte) (int, error) {
	var n int
	var opErr error
	err := v.raw.Read(func(fd uintptr) bool {
		for {
			nn, e := unix.Readv(int(fd), bufs)
			if e == unix.EINTR {
				continue
			}
			if e == unix.EAGAIN {
				return false
			}
			n, opErr = nn, e
			return true
		}
	})
	if err != nil {
		return 0, err
	}
	if opErr != nil {
		return n, opErr
	}
	if n == 0 {
		return 0, io.EOF
	}
	return n, nil
}

// Writev drains bufs (as returned by RingBuffer.ReadView) via a single
// writev(2) call, blocking the calling goroutine until the descriptor is
// writable.
func (v *VectoredConn) Writev(bufs [][]byte) (int, error) {
	var n int
	var opErr error
	err := v.raw.Write(func(fd uintptr) bool {
		for {
			nn, e := unix.Writev(int(fd), bufs)
			if e == unix.EINTR {
				continue
			}
			if e == unix.EAGAIN {
				return false
			}
			n, opErr = nn, e
			return true
		}
	})
	if err != nil {
		return 0, err
	}
	return n, opErr
}

// CloseRead shuts down the read half only, used to begin the half-close
// drain while the write half keeps flushing buffered bytes to the peer.
func (v *VectoredConn) CloseRead() error {
	return v.conn.CloseRead()
}
