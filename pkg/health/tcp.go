package health

import (
	"context"
	"fmt"
	"net"
	"time"
)

// TCPChecker performs a plain TCP dial health check.
type TCPChecker struct {
	Address string
	Timeout time.Duration
}

// NewTCPChecker creates a TCP checker against address ("host:port").
func NewTCPChecker(address string, timeout time.Duration) *TCPChecker {
	return &TCPChecker{Address: address, Timeout: timeout}
}

// Check performs the TCP health check.
func (t *TCPChecker) Check(ctx context.Context) Result {
	start := time.Now()

	d := net.Dialer{Timeout: t.Timeout}
	conn, err := d.DialContext(ctx, "tcp", t.Address)
	if err != nil {
		return Result{Healthy: false, Message: fmt.Sprintf("dial failed: %v", err), CheckedAt: start, Duration: time.Since(start)}
	}
	_ = conn.Close()

	return Result{Healthy: true, Message: "connection established", CheckedAt: start, Duration: time.Since(start)}
}

// Protocol returns TCP.
func (t *TCPChecker) Protocol() Protocol { return ProtocolTCP }
