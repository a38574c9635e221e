package probe

import (
	"context"
	"fmt"
	"net"
	"time"

	"sentinel/internal/domain"
)

// TCPProbe checks reachability by opening one TCP connection.
// Params: target address in host:port form.
// Returns: probe reporting connect success within the context deadline.
type TCPProbe struct {
	target string
	dialer net.Dialer
}

// NewTCPProbe creates TCP reachability probe.
// Params: target host:port.
// Returns: initialized probe.
func NewTCPProbe(target string) *TCPProbe {
	return &TCPProbe{target: target}
}

// Kind returns probe kind name.
// Params: none.
// Returns: "tcp".
func (p *TCPProbe) Kind() string {
	return "tcp"
}

// Check dials the target once and closes the connection.
// Params: context bounding the dial.
// Returns: ok outcome on connect, failed outcome with dial error detail.
func (p *TCPProbe) Check(ctx context.Context) domain.Outcome {
	started := time.Now()
	conn, err := p.dialer.DialContext(ctx, "tcp", p.target)
	now := time.Now().UTC()
	if err != nil {
		return domain.Outcome{
			OK:        false,
			Detail:    fmt.Sprintf("connect %s: %v", p.target, err),
			Timestamp: now,
		}
	}
	_ = conn.Close()
	return domain.Outcome{
		OK:        true,
		Detail:    fmt.Sprintf("connect %s ok in %s", p.target, time.Since(started).Round(time.Millisecond)),
		Timestamp: now,
	}
}
