//go:build !linux

package rtr

import "syscall"

// reusePortControl is a no-op on non-Linux platforms: SO_REUSEPORT
// setup is Linux-specific, matching the teacher's TCP_MD5SIG pattern.
func reusePortControl(network, address string, c syscall.RawConn) error {
	return nil
}
