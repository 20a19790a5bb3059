// Package probe checks whether a TCP endpoint is accepting connections.
package probe

import (
	"net"
	"time"
)

// Prober abstracts the liveness check so callers can substitute a fake.
type Prober interface {
	Probe(addr string, timeout time.Duration) bool
}

// TCP is the default Prober. It performs a single dial with no retry.
type TCP struct{}

// Probe reports whether a TCP connection to addr can be established within
// timeout. A successful connect only means something is listening; the
// protocol is not checked.
func (TCP) Probe(addr string, timeout time.Duration) bool {
	return Probe(addr, timeout)
}

// Probe is the function form of TCP.Probe.
func Probe(addr string, timeout time.Duration) bool {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// Func adapts a plain function to the Prober interface.
type Func func(addr string, timeout time.Duration) bool

// Probe calls f.
func (f Func) Probe(addr string, timeout time.Duration) bool {
	return f(addr, timeout)
}
