// Package util holds listener helpers shared by the server and main.
package util

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"golang.org/x/net/netutil"
	"golang.org/x/sys/unix"
)

// CreateListener binds a TCP listener on address. Only "tcp", "tcp4" and
// "tcp6" are accepted.
func CreateListener(network, address string) (net.Listener, error) {
	if network != "tcp" && network != "tcp4" && network != "tcp6" {
		return nil, fmt.Errorf("unsupported network type: %s, only 'tcp', 'tcp4', or 'tcp6' are supported for CreateListener", network)
	}
	if address == "" {
		return nil, fmt.Errorf("listen address cannot be empty")
	}

	listener, err := net.Listen(network, address)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s %s: %w", network, address, err)
	}
	return listener, nil
}

// LimitListener caps the number of simultaneously accepted connections at
// maxConns. A value of zero or less leaves l unchanged.
func LimitListener(l net.Listener, maxConns int) net.Listener {
	if maxConns <= 0 {
		return l
	}
	return netutil.LimitListener(l, maxConns)
}

// IsAddrInUse reports whether err means the address is already bound.
func IsAddrInUse(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, unix.EADDRINUSE) {
		return true
	}
	// Some wrappers flatten the errno into text.
	return strings.Contains(strings.ToLower(err.Error()), "address already in use")
}
