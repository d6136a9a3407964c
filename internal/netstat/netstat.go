// Package netstat samples per-connection TCP_INFO (RTT, retransmits,
// congestion window) off a session's net.Conn, modeled on
// runZeroInc-sockstats' per-GOOS split: netstat_linux.go does the real
// work, netstat_other.go is a no-op everywhere else.
package netstat

// Sample is a point-in-time read of one connection's kernel TCP state.
// Zero value means "unsupported on this platform" or "read failed";
// callers should treat a zero Sample as absent rather than as real data.
type Sample struct {
	RTTMicros        uint32
	RTTVarMicros     uint32
	Retransmits      uint32
	TotalRetrans     uint32
	SendCongestWin   uint32
	SendSlowStartThr uint32
}

// Rollup folds Sample readings from every live connection into a handful
// of summary numbers — the shape exported as Prometheus gauges and the
// /stats JSON rollup (SPEC_FULL.md §6.2). One metric series per connection
// would turn ephemeral session IDs into label cardinality, so callers
// aggregate instead of exporting raw per-conn samples.
type Rollup struct {
	Samples           int
	AvgRTTMicros      uint32
	MaxRTTMicros      uint32
	TotalRetransmits  uint32
	MinSendCongestWin uint32
}

// Aggregate folds samples into a Rollup. An empty slice returns the zero
// Rollup.
func Aggregate(samples []Sample) Rollup {
	if len(samples) == 0 {
		return Rollup{}
	}
	var sumRTT, totalRetrans uint64
	var maxRTT uint32
	minCwnd := samples[0].SendCongestWin
	for _, s := range samples {
		sumRTT += uint64(s.RTTMicros)
		if s.RTTMicros > maxRTT {
			maxRTT = s.RTTMicros
		}
		totalRetrans += uint64(s.TotalRetrans)
		if s.SendCongestWin < minCwnd {
			minCwnd = s.SendCongestWin
		}
	}
	return Rollup{
		Samples:           len(samples),
		AvgRTTMicros:      uint32(sumRTT / uint64(len(samples))),
		MaxRTTMicros:      maxRTT,
		TotalRetransmits:  uint32(totalRetrans),
		MinSendCongestWin: minCwnd,
	}
}
