package metrics

import (
	"strconv"

	"github.com/OneOfOne/xxhash"
	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"

	"github.com/gibson-cache/gibson/internal/gblog"
)

// statJSON is the /stats response shape: every cache.Snapshot counter
// (the cron stats log line reports a subset of them), the client count,
// the netstat rollup and a fingerprint of the body (SPEC_FULL.md §6.1).
type statJSON struct {
	ItemsCount      int64  `json:"items_count"`
	MemoryUsed      int64  `json:"memory_used"`
	PeakMemory      int64  `json:"peak_memory"`
	CompressedCount int64  `json:"compressed_count"`
	EvictedCount    int64  `json:"evicted_count"`
	ExpiredCount    int64  `json:"expired_count"`
	OOMCount        int64  `json:"oom_count"`
	LockedCount     int64  `json:"locked_count"`
	AverageItemSize int64  `json:"average_item_size"`
	ClientsCount    int    `json:"clients_count"`

	NetstatSamples    int    `json:"netstat_samples"`
	NetstatAvgRTT     uint32 `json:"netstat_avg_rtt_micros"`
	NetstatMaxRTT     uint32 `json:"netstat_max_rtt_micros"`
	NetstatRetransmit uint32 `json:"netstat_retransmits"`
	NetstatMinCwnd    uint32 `json:"netstat_min_congestion_window"`

	Fingerprint string `json:"fingerprint"`
}

// Server is the optional admin HTTP listener: GET /metrics (Prometheus
// exposition) and GET /stats (JSON). Disabled entirely unless a
// metrics_address is configured (internal/config).
type Server struct {
	collector *Collector
	log       *gblog.Logger

	server *fasthttp.Server
}

// NewServer wraps collector behind a fasthttp.Server. Call ListenAndServe
// to start it.
func NewServer(collector *Collector, log *gblog.Logger) *Server {
	s := &Server{collector: collector, log: log}
	promHandler := fasthttpadaptor.NewFastHTTPHandler(
		promhttp.HandlerFor(collector.Registry(), promhttp.HandlerOpts{}),
	)
	s.server = &fasthttp.Server{
		Handler: func(ctx *fasthttp.RequestCtx) {
			switch string(ctx.Path()) {
			case "/metrics":
				s.collector.Refresh()
				promHandler(ctx)
			case "/stats":
				s.serveStats(ctx)
			default:
				ctx.SetStatusCode(fasthttp.StatusNotFound)
			}
		},
	}
	return s
}

func (s *Server) serveStats(ctx *fasthttp.RequestCtx) {
	snap := s.collector.Refresh()
	roll := s.collector.NetstatRollup()
	body := statJSON{
		ItemsCount:      snap.ItemsCount,
		MemoryUsed:      snap.MemoryUsed,
		PeakMemory:      snap.PeakMemory,
		CompressedCount: snap.CompressedCount,
		EvictedCount:    snap.EvictedCount,
		ExpiredCount:    snap.ExpiredCount,
		OOMCount:        snap.OOMCount,
		LockedCount:     snap.LockedCount,
		AverageItemSize: snap.AverageItemSize,
		ClientsCount:    int(s.collector.clients()),

		NetstatSamples:    roll.Samples,
		NetstatAvgRTT:     roll.AvgRTTMicros,
		NetstatMaxRTT:     roll.MaxRTTMicros,
		NetstatRetransmit: roll.TotalRetransmits,
		NetstatMinCwnd:    roll.MinSendCongestWin,
	}

	raw, err := jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(body)
	if err != nil {
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
		return
	}
	body.Fingerprint = strconv.FormatUint(xxhash.ChecksumString64(string(raw)), 16)
	raw, err = jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(body)
	if err != nil {
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
		return
	}
	ctx.SetContentType("application/json")
	ctx.SetBody(raw)
}

// ListenAndServe blocks serving on addr until the listener errors or is
// closed by Shutdown.
func (s *Server) ListenAndServe(addr string) error {
	s.log.Infof("Creating admin http socket on %s ...", addr)
	return s.server.ListenAndServe(addr)
}

// Shutdown gracefully stops the admin listener.
func (s *Server) Shutdown() error { return s.server.Shutdown() }
