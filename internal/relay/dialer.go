package relay

import (
	"context"
	"fmt"
	"net"
	"net/url"

	"golang.org/x/net/proxy"
)

// Dialer opens the upstream connection of a session.
type Dialer interface {
	DialContext(ctx context.Context, network, addr string) (net.Conn, error)
}

type contextDialer struct{ proxy.Dialer }

func (d contextDialer) DialContext(_ context.Context, network, addr string) (net.Conn, error) {
	return d.Dial(network, addr)
}

// NewDialer returns a direct TCP dialer, or one that tunnels through the proxy
// named by proxyURL (socks5://[user:pass@]host:port) when it is not empty.
func NewDialer(proxyURL string) (Dialer, error) {
	direct := &net.Dialer{}
	if proxyURL == "" {
		return direct, nil
	}
	u, err := url.Parse(proxyURL)
	if err != nil {
		return nil, fmt.Errorf("parse upstream proxy: %w", err)
	}
	d, err := proxy.FromURL(u, direct)
	if err != nil {
		return nil, fmt.Errorf("upstream proxy %s: %w", u.Redacted(), err)
	}
	if cd, ok := d.(proxy.ContextDialer); ok {
		return cd, nil
	}
	return contextDialer{d}, nil
}
