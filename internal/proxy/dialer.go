package proxy

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	netproxy "golang.org/x/net/proxy"
)

// proxyConn releases the manager's slot when the probe closes the connection.
type proxyConn struct {
	net.Conn
	releaseOnce sync.Once
	release     func()
}

func (pc *proxyConn) Close() error {
	pc.releaseOnce.Do(pc.release)
	return pc.Conn.Close()
}

// Dialer returns a dial function that routes through the next proxy, or
// dials direct when the pool is empty.
func (m *Manager) Dialer(timeout time.Duration, logger *slog.Logger) func(ctx context.Context, network, addr string) (net.Conn, error) {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		return m.DialContext(ctx, network, addr, timeout, logger)
	}
}

func (m *Manager) DialContext(ctx context.Context, network, addr string, timeout time.Duration, logger *slog.Logger) (net.Conn, error) {
	directDialer := &net.Dialer{Timeout: timeout}

	pURL := m.Next()
	if pURL == nil {
		return directDialer.DialContext(ctx, network, addr)
	}

	select {
	case m.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("timeout waiting for proxy slot: %w", ctx.Err())
	}
	release := func() { <-m.sem }

	pdialer, err := netproxy.FromURL(pURL, directDialer)
	if err != nil {
		release()
		return nil, fmt.Errorf("proxy %s: %w", pURL.Host, err)
	}

	start := time.Now()
	var conn net.Conn
	if cdialer, ok := pdialer.(netproxy.ContextDialer); ok {
		conn, err = cdialer.DialContext(ctx, network, addr)
	} else {
		conn, err = pdialer.Dial(network, addr)
	}
	if err != nil {
		release()
		if logger != nil {
			logger.Debug("proxy dial failed", "addr", addr, "proxy", pURL.Host, "took", time.Since(start), "error", err)
		}
		return nil, err
	}

	if logger != nil {
		logger.Debug("proxy dial ok", "addr", addr, "proxy", pURL.Host, "took", time.Since(start))
	}
	return &proxyConn{Conn: conn, release: release}, nil
}
