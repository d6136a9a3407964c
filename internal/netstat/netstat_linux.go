//go:build linux

package netstat

import (
	"net"

	"github.com/higebu/netfd"
	"golang.org/x/sys/unix"
)

// Read reads TCP_INFO off conn's underlying file descriptor.
// conn must wrap a *net.TCPConn; anything else returns the zero Sample.
func Read(conn net.Conn) (Sample, bool) {
	tc, ok := conn.(*net.TCPConn)
	if !ok {
		return Sample{}, false
	}
	fd, err := netfd.GetFdFromConn(tc)
	if err != nil {
		return Sample{}, false
	}
	info, err := unix.GetsockoptTCPInfo(int(fd), unix.IPPROTO_TCP, unix.TCP_INFO)
	if err != nil {
		return Sample{}, false
	}
	return Sample{
		RTTMicros:        info.Rtt,
		RTTVarMicros:     info.Rttvar,
		Retransmits:      uint32(info.Retransmits),
		TotalRetrans:     info.Total_retrans,
		SendCongestWin:   info.Snd_cwnd,
		SendSlowStartThr: info.Snd_ssthresh,
	}, true
}

// Supported reports whether TCP_INFO sampling is available on this GOOS.
func Supported() bool { return true }
