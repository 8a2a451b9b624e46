package prober

import (
	"context"
	"fmt"
	"net"
	"time"

	"golang.org/x/net/proxy"
)

// ProxyConfig is an optional SOCKS5 hop a Prober dials through instead
// of connecting to the MX host directly. Grounded on the teacher's
// ProxyConfig/connectWithProxy in smtp.go: fail-safe, no fallback to a
// direct connection if the proxy dial fails.
type ProxyConfig struct {
	Address  string // host:port
	Username string
	Password string
}

// dialer builds the net.Conn-producing function a Prober uses,
// preferring cfg.Dial, then routing through Proxy if set, and falling
// back to a plain net.Dialer bound to LocalAddr otherwise.
func (c Config) dialer() func(ctx context.Context, address string) (net.Conn, error) {
	if c.Dial != nil {
		return func(ctx context.Context, address string) (net.Conn, error) {
			return c.Dial(ctx, "tcp", address)
		}
	}
	if c.Proxy != nil {
		return c.dialViaProxy
	}
	return func(ctx context.Context, address string) (net.Conn, error) {
		d := net.Dialer{Timeout: 10 * time.Second, LocalAddr: c.LocalAddr}
		return d.DialContext(ctx, "tcp", address)
	}
}

// dialViaProxy dials address through c.Proxy. There is no fallback to
// a direct connection on failure — a probe that must egress through a
// proxy and cannot reach it is a connection error, not a silent
// bypass of the configured egress path.
func (c Config) dialViaProxy(ctx context.Context, address string) (net.Conn, error) {
	var auth *proxy.Auth
	if c.Proxy.Username != "" {
		auth = &proxy.Auth{User: c.Proxy.Username, Password: c.Proxy.Password}
	}

	forward := proxy.Direct
	if c.LocalAddr != nil {
		forward = &localAddrDialer{local: c.LocalAddr}
	}

	dialer, err := proxy.SOCKS5("tcp", c.Proxy.Address, auth, forward)
	if err != nil {
		return nil, fmt.Errorf("prober: building SOCKS5 dialer: %w", err)
	}

	type result struct {
		conn net.Conn
		err  error
	}
	done := make(chan result, 1)
	go func() {
		conn, err := dialer.Dial("tcp", address)
		done <- result{conn, err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return nil, fmt.Errorf("prober: SOCKS5 dial: %w", res.err)
		}
		return res.conn, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// localAddrDialer adapts net.Dialer (with LocalAddr set) to
// proxy.Dialer, so a SOCKS5 hop still originates from the IP pool's
// chosen source address.
type localAddrDialer struct {
	local net.Addr
}

func (d *localAddrDialer) Dial(network, address string) (net.Conn, error) {
	nd := net.Dialer{Timeout: 10 * time.Second, LocalAddr: d.local}
	return nd.Dial(network, address)
}
