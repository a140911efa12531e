// Package listener implements the TCP Listener (spec.md §4.5): picks a
// non-loopback IPv4 interface, binds an OS-chosen port, advertises it to
// Discovery, and accepts inbound connections, retrying on any error.
// Grounded on the teacher's dialer-loop retry shape
// (internal/peer/swarm.go: bind/dial fail -> sleep -> retry).
package listener

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"
)

// Accepted is reported for each inbound connection.
type Accepted struct {
	Conn net.Conn
}

// Listener owns the accept loop and interface-selection retry policy.
type Listener struct {
	retryDelay time.Duration
	logger     *slog.Logger

	onSwitchedNetwork func(ctx context.Context, port int)
	accepted          chan Accepted
}

// New constructs a Listener. onSwitchedNetwork is invoked with the newly
// bound port every time the listener (re)binds, so the caller can forward
// it to the Discovery Adapter as a SwitchedNetwork event.
func New(retryDelay time.Duration, onSwitchedNetwork func(ctx context.Context, port int), logger *slog.Logger) *Listener {
	return &Listener{
		retryDelay:        retryDelay,
		logger:            logger,
		onSwitchedNetwork: onSwitchedNetwork,
		accepted:          make(chan Accepted, 16),
	}
}

// Accepted returns the channel of inbound connections.
func (l *Listener) Accepted() <-chan Accepted { return l.accepted }

// Run drives the bind/accept/retry loop until ctx is canceled.
func (l *Listener) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		addr, err := firstNonLoopbackIPv4()
		if err != nil {
			l.logger.Error("listener: no usable interface", "error", err)
			if !sleepOrDone(ctx, l.retryDelay) {
				return ctx.Err()
			}
			continue
		}

		ln, err := net.Listen("tcp4", fmt.Sprintf("%s:0", addr))
		if err != nil {
			l.logger.Error("listener: bind failed", "error", err, "addr", addr)
			if !sleepOrDone(ctx, l.retryDelay) {
				return ctx.Err()
			}
			continue
		}

		port := ln.Addr().(*net.TCPAddr).Port
		l.logger.Info("listener: bound", "addr", addr, "port", port)
		l.onSwitchedNetwork(ctx, port)

		l.acceptLoop(ctx, ln)
		ln.Close()

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !sleepOrDone(ctx, l.retryDelay) {
			return ctx.Err()
		}
	}
}

// acceptLoop accepts connections in a tight loop until ln errors or ctx is
// canceled; a listener close from the watchdog goroutine below is what
// turns ctx cancellation into an Accept error.
func (l *Listener) acceptLoop(ctx context.Context, ln net.Listener) {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			ln.Close()
		case <-done:
		}
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() == nil {
				l.logger.Error("listener: accept failed", "error", err)
			}
			return
		}

		select {
		case l.accepted <- Accepted{Conn: conn}:
		case <-ctx.Done():
			conn.Close()
			return
		}
	}
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// firstNonLoopbackIPv4 returns the first non-loopback IPv4 address among
// up interfaces, matching spec.md §4.5's interface-selection policy.
func firstNonLoopbackIPv4() (string, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return "", err
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, a := range addrs {
			var ip net.IP
			switch v := a.(type) {
			case *net.IPNet:
				ip = v.IP
			case *net.IPAddr:
				ip = v.IP
			}
			if ip == nil || ip.IsLoopback() {
				continue
			}
			if v4 := ip.To4(); v4 != nil {
				return v4.String(), nil
			}
		}
	}

	return "", fmt.Errorf("listener: no non-loopback IPv4 interface found")
}
