//go:build !linux

package netstat

import "net"

// Read is a no-op on non-Linux platforms; TCP_INFO's field layout and
// availability is Linux-specific here (spec.md carries no cross-platform
// requirement, and the sampling is purely additive diagnostics).
func Read(conn net.Conn) (Sample, bool) { return Sample{}, false }

// Supported reports whether TCP_INFO sampling is available on this GOOS.
func Supported() bool { return false }
