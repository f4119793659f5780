// Package listener binds the proxy's listening socket(s) and feeds
// accepted connections into new sessions.
package listener

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"

	"sni-tunnel-proxy/internal/backends"
	"sni-tunnel-proxy/internal/logging"
	"sni-tunnel-proxy/internal/session"
)

// families is tried in order for (nil, port): both the IPv4 and IPv6
// wildcard addresses, so the proxy listens on every local family that
// has a stack configured.
var families = []string{"tcp4", "tcp6"}

// Listener binds every bindable wildcard address for a port and accepts
// connections into new Sessions.
type Listener struct {
	listeners  []*net.TCPListener
	dispatcher *backends.Dispatcher
	opts       session.Options
	logger     *logging.Logger
}

// New binds port on every family in families. At least one must succeed;
// a partial failure (e.g. no IPv6 stack) is logged and the listener
// continues on whichever sockets bound.
func New(port int, dispatcher *backends.Dispatcher, opts session.Options, logger *logging.Logger) (*Listener, error) {
	lc := net.ListenConfig{Control: setReuseAddr}

	var lns []*net.TCPListener
	var bindErrs []error
	for _, fam := range families {
		ln, err := lc.Listen(context.Background(), fam, net.JoinHostPort("", strconv.Itoa(port)))
		if err != nil {
			bindErrs = append(bindErrs, fmt.Errorf("%s: %w", fam, err))
			continue
		}
		lns = append(lns, ln.(*net.TCPListener))
	}

	if len(lns) == 0 {
		return nil, fmt.Errorf("listener: no address could be bound: %w", errors.Join(bindErrs...))
	}
	if len(bindErrs) > 0 {
		logger.Errorf("partial bind failure, continuing with %d listener(s): %v", len(lns), errors.Join(bindErrs...))
	}

	return &Listener{listeners: lns, dispatcher: dispatcher, opts: opts, logger: logger}, nil
}

// setReuseAddr is the net.ListenConfig.Control callback that sets
// SO_REUSEADDR so a restart can rebind the port while old connections
// linger in TIME_WAIT; Go's listener already allocates the socket
// non-blocking and close-on-exec, so those two attributes need no
// explicit syscall here.
func setReuseAddr(_, _ string, c syscall.RawConn) error {
	var sockErr error
	if err := c.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	}); err != nil {
		return err
	}
	return sockErr
}

// Serve accepts on every bound listener until the listeners are closed,
// spawning one Session per accepted connection and handing each the ctx.
// Cancelling ctx alone does not unblock a pending accept. It blocks until
// every accept loop has returned; it does not wait for the Sessions.
func (l *Listener) Serve(ctx context.Context) {
	var wg sync.WaitGroup
	for _, ln := range l.listeners {
		wg.Add(1)
		go func(ln *net.TCPListener) {
			defer wg.Done()
			l.acceptLoop(ctx, ln)
		}(ln)
	}
	wg.Wait()
}

func (l *Listener) acceptLoop(ctx context.Context, ln *net.TCPListener) {
	for {
		conn, err := ln.AcceptTCP()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			l.logger.Errorf("accept: %v", err)
			continue
		}
		go func() {
			sess := session.New(conn, l.dispatcher, l.opts, l.logger)
			sess.Run(ctx)
		}()
	}
}

// Addrs returns the address each bound listener is listening on, for
// logging at startup and for tests that need to dial back in.
func (l *Listener) Addrs() []net.Addr {
	addrs := make([]net.Addr, 0, len(l.listeners))
	for _, ln := range l.listeners {
		addrs = append(addrs, ln.Addr())
	}
	return addrs
}

// Close closes every bound listener, unblocking Serve's accept loops.
func (l *Listener) Close() error {
	var errs []error
	for _, ln := range l.listeners {
		if err := ln.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
