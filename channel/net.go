// Copyright (C) 2022 Michael J. Fromberger. All Rights Reserved.

package channel

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/mdlayher/vsock"
)

// SplitAddress parses an address string to guess a network type and target.
//
// The assignment of a network type uses the following heuristics:
//
// If s has the form "vsock:cid:port", the network is "vsock" and the address
// is "cid:port".
//
// If s does not have the form "host:port", the network is "unix".
//
// If s has the form "host:port" and port is a number or a service name, the
// network is "tcp".
//
// Otherwise the network is "unix".
func SplitAddress(s string) (network, address string) {
	if rest, ok := strings.CutPrefix(s, "vsock:"); ok {
		return "vsock", rest
	}
	i := strings.LastIndex(s, ":")
	if i < 0 {
		return "unix", s
	}
	host, port := s[:i], s[i+1:]
	if port == "" || !isServiceName(port) {
		return "unix", s
	} else if strings.IndexByte(host, '/') >= 0 {
		return "unix", s
	}
	return "tcp", s
}

// isServiceName reports whether s looks like a legal service name from the
// services(5) file. The grammar of such names is not well-defined, but for our
// purposes it includes letters, digits, and "-".
func isServiceName(s string) bool {
	for _, b := range s {
		if b >= '0' && b <= '9' || b >= 'A' && b <= 'Z' || b >= 'a' && b <= 'z' || b == '-' {
			continue
		}
		return false
	}
	return true
}

// parseVsock parses a vsock address of the form "cid:port".
func parseVsock(addr string) (cid, port uint32, _ error) {
	c, p, ok := strings.Cut(addr, ":")
	if !ok {
		return 0, 0, fmt.Errorf("invalid vsock address %q", addr)
	}
	cv, err := strconv.ParseUint(c, 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid vsock context ID: %w", err)
	}
	pv, err := strconv.ParseUint(p, 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid vsock port: %w", err)
	}
	return uint32(cv), uint32(pv), nil
}

// DialConn connects to the listener at addr, whose network is chosen by
// [SplitAddress].
func DialConn(ctx context.Context, addr string) (net.Conn, error) {
	network, target := SplitAddress(addr)
	if network == "vsock" {
		cid, port, err := parseVsock(target)
		if err != nil {
			return nil, err
		}
		conn, err := vsock.Dial(cid, port, nil)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
	var d net.Dialer
	return d.DialContext(ctx, network, target)
}

// Dial connects to the listener at addr and returns a stream endpoint for
// the connection. The network is chosen by [SplitAddress].
func Dial(ctx context.Context, addr string) (*StreamEndpoint, error) {
	conn, err := DialConn(ctx, addr)
	if err != nil {
		return nil, err
	}
	return Stream(conn), nil
}

// Listen returns a listener for addr, whose network is chosen by
// [SplitAddress]. For the vsock network, a context ID of 0 listens on the
// context ID of the local host.
func Listen(addr string) (net.Listener, error) {
	network, target := SplitAddress(addr)
	if network == "vsock" {
		cid, port, err := parseVsock(target)
		if err != nil {
			return nil, err
		}
		var lst *vsock.Listener
		if cid == 0 {
			lst, err = vsock.Listen(port, nil)
		} else {
			lst, err = vsock.ListenContextID(cid, port, nil)
		}
		if err != nil {
			return nil, err
		}
		return lst, nil
	}
	return net.Listen(network, target)
}
