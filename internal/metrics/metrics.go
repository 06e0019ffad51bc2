package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/uscpte7/CAN-Bus1/internal/logging"
)

// MaxChannels bounds the channel label (channels are numbered 1..3).
const MaxChannels = 3

// Prometheus collectors
var (
	RxFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "can_rx_frames_total",
		Help: "CAN frames read from a channel's receive slots.",
	}, []string{"channel"})
	TxFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "can_tx_frames_total",
		Help: "CAN frames handed to a channel's transmit slot.",
	}, []string{"channel"})
	ForwardedFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "can_forwarded_frames_total",
		Help: "Frames queued for transmission, by destination channel.",
	}, []string{"channel"})
	RewrittenFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "can_rewritten_frames_total",
		Help: "Frames modified by a rewrite rule.",
	})
	BlacklistedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "can_blacklisted_frames_total",
		Help: "Frames withheld from forwarding by the blacklist.",
	})
	RingDroppedFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tx_ring_dropped_frames_total",
		Help: "Frames dropped because a channel's transmit ring was full.",
	}, []string{"channel"})
	RingDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tx_ring_depth",
		Help: "Frames waiting in a channel's transmit ring at the last fast tick.",
	}, []string{"channel"})
	RxOverflows = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "can_rx_overflows_total",
		Help: "Controller receive overflow reports.",
	}, []string{"channel"})
	TelemetryBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "telemetry_bytes_total",
		Help: "Bytes accepted by the telemetry writer.",
	})
	TelemetryOverflows = promauto.NewCounter(prometheus.CounterOpts{
		Name: "telemetry_overflows_total",
		Help: "Messages replaced by the overflow marker.",
	})
	Commands = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "control_commands_total",
		Help: "Control link commands processed, by kind.",
	}, []string{"command"})
	Boots = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bridge_boots_total",
		Help: "Entries into the boot sequence.",
	})
	Resets = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bridge_resets_total",
		Help: "Runtime restarts by reason.",
	}, []string{"reason"})
	InitFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "can_init_failures_total",
		Help: "Failed controller initialization attempts.",
	})
	FaultIndicator = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fault_indicator",
		Help: "1 while the fault indicator is raised.",
	})
	MirrorRxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mirror_rx_frames_total",
		Help: "Frames injected by mirror clients.",
	})
	MirrorTxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mirror_tx_frames_total",
		Help: "Frames sent to mirror clients.",
	})
	HubDroppedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hub_dropped_frames_total",
		Help: "Frames dropped by the mirror hub due to slow clients.",
	})
	HubKickedClients = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hub_kicked_clients_total",
		Help: "Mirror clients disconnected by the kick policy.",
	})
	HubRejectedClients = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hub_rejected_clients_total",
		Help: "Mirror connection attempts rejected (max-clients).",
	})
	HubActiveClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hub_active_clients",
		Help: "Current number of mirror clients.",
	})
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "build_info",
		Help: "Build metadata (value is always 1).",
	}, []string{"version", "commit", "date"})
	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "errors_total",
		Help: "Error counters by subsystem.",
	}, []string{"where"})
	MalformedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "malformed_frames_total",
		Help: "Mirror frames rejected as malformed.",
	})
	readinessMu sync.RWMutex
	readinessFn func() bool
)

// Error label constants (stable label values to bound cardinality)
const (
	ErrMirrorRead     = "mirror_read"
	ErrMirrorWrite    = "mirror_write"
	ErrHandshake      = "handshake"
	ErrInject         = "inject"
	ErrSerialRead     = "serial_read"
	ErrSerialWrite    = "serial_write"
	ErrSerialOverflow = "serial_tx_overflow"
	ErrSerialRxDrop   = "serial_rx_overflow"
	ErrCANRead        = "can_read"
	ErrCANWrite       = "can_write"
	ErrCANTxOverflow  = "can_tx_overflow"
	ErrCANErrorFrame  = "can_error_frame"
	ErrCANRxDrop      = "can_rx_overflow"
)

// StartHTTP serves Prometheus metrics at /metrics and readiness at /ready.
func StartHTTP(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if IsReady() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready\n"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready\n"))
	})

	srv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	go func() {
		logging.L().Info("metrics_listen", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.L().Error("metrics_http_error", "error", err)
		}
	}()
	return srv
}

// Local mirrored counters for easy logging (avoid Prometheus scraping in-process)
var (
	localRx          [MaxChannels + 1]uint64
	localTx          [MaxChannels + 1]uint64
	localForwarded   [MaxChannels + 1]uint64
	localRingDrops   [MaxChannels + 1]uint64
	localRxOverflow  [MaxChannels + 1]uint64
	localRewritten   uint64
	localBlacklisted uint64
	localTelBytes    uint64
	localTelOverflow uint64
	localCommands    uint64
	localBoots       uint64
	localResets      uint64
	localInitFail    uint64
	localMirrorRx    uint64
	localMirrorTx    uint64
	localHubDrop     uint64
	localHubKick     uint64
	localHubReject   uint64
	localHubClients  uint64
	localErrors      uint64
	localMalformed   uint64
)

// Snapshot is a cheap copy of local counters. Per-channel fields are
// summed over all channels.
type Snapshot struct {
	Rx                 uint64
	Tx                 uint64
	Forwarded          uint64
	RingDrops          uint64
	RxOverflows        uint64
	Rewritten          uint64
	Blacklisted        uint64
	TelemetryBytes     uint64
	TelemetryOverflows uint64
	Commands           uint64
	Boots              uint64
	Resets             uint64
	InitFailures       uint64
	MirrorRx           uint64
	MirrorTx           uint64
	HubDrops           uint64
	HubKicks           uint64
	HubRejects         uint64
	HubClients         uint64
	Errors             uint64 // sum across error labels
	Malformed          uint64
}

func sum(a *[MaxChannels + 1]uint64) uint64 {
	var s uint64
	for i := range a {
		s += atomic.LoadUint64(&a[i])
	}
	return s
}

func Snap() Snapshot {
	return Snapshot{
		Rx:                 sum(&localRx),
		Tx:                 sum(&localTx),
		Forwarded:          sum(&localForwarded),
		RingDrops:          sum(&localRingDrops),
		RxOverflows:        sum(&localRxOverflow),
		Rewritten:          atomic.LoadUint64(&localRewritten),
		Blacklisted:        atomic.LoadUint64(&localBlacklisted),
		TelemetryBytes:     atomic.LoadUint64(&localTelBytes),
		TelemetryOverflows: atomic.LoadUint64(&localTelOverflow),
		Commands:           atomic.LoadUint64(&localCommands),
		Boots:              atomic.LoadUint64(&localBoots),
		Resets:             atomic.LoadUint64(&localResets),
		InitFailures:       atomic.LoadUint64(&localInitFail),
		MirrorRx:           atomic.LoadUint64(&localMirrorRx),
		MirrorTx:           atomic.LoadUint64(&localMirrorTx),
		HubDrops:           atomic.LoadUint64(&localHubDrop),
		HubKicks:           atomic.LoadUint64(&localHubKick),
		HubRejects:         atomic.LoadUint64(&localHubReject),
		HubClients:         atomic.LoadUint64(&localHubClients),
		Errors:             atomic.LoadUint64(&localErrors),
		Malformed:          atomic.LoadUint64(&localMalformed),
	}
}

// channelIndex clamps out-of-range channels into slot 0 so callers never panic.
func channelIndex(ch int) int {
	if ch < 1 || ch > MaxChannels {
		return 0
	}
	return ch
}

func label(ch int) string { return strconv.Itoa(ch) }

func IncRx(ch int) {
	RxFrames.WithLabelValues(label(ch)).Inc()
	atomic.AddUint64(&localRx[channelIndex(ch)], 1)
}

func IncTx(ch int) {
	TxFrames.WithLabelValues(label(ch)).Inc()
	atomic.AddUint64(&localTx[channelIndex(ch)], 1)
}

func IncForwarded(ch int) {
	ForwardedFrames.WithLabelValues(label(ch)).Inc()
	atomic.AddUint64(&localForwarded[channelIndex(ch)], 1)
}

func IncRingDrop(ch int) {
	RingDroppedFrames.WithLabelValues(label(ch)).Inc()
	atomic.AddUint64(&localRingDrops[channelIndex(ch)], 1)
}

func SetRingDepth(ch, n int) { RingDepth.WithLabelValues(label(ch)).Set(float64(n)) }

func IncRxOverflow(ch int) {
	RxOverflows.WithLabelValues(label(ch)).Inc()
	atomic.AddUint64(&localRxOverflow[channelIndex(ch)], 1)
}

func IncRewritten() {
	RewrittenFrames.Inc()
	atomic.AddUint64(&localRewritten, 1)
}

func IncBlacklisted() {
	BlacklistedFrames.Inc()
	atomic.AddUint64(&localBlacklisted, 1)
}

func AddTelemetryBytes(n int) {
	TelemetryBytes.Add(float64(n))
	atomic.AddUint64(&localTelBytes, uint64(n))
}

func IncTelemetryOverflow() {
	TelemetryOverflows.Inc()
	atomic.AddUint64(&localTelOverflow, 1)
}

func IncCommand(kind string) {
	Commands.WithLabelValues(kind).Inc()
	atomic.AddUint64(&localCommands, 1)
}

func IncBoot() {
	Boots.Inc()
	atomic.AddUint64(&localBoots, 1)
}

func IncReset(reason string) {
	Resets.WithLabelValues(reason).Inc()
	atomic.AddUint64(&localResets, 1)
}

func IncInitFailure() {
	InitFailures.Inc()
	atomic.AddUint64(&localInitFail, 1)
}

func SetFault(on bool) {
	v := 0.0
	if on {
		v = 1
	}
	FaultIndicator.Set(v)
}

func IncMirrorRx() {
	MirrorRxFrames.Inc()
	atomic.AddUint64(&localMirrorRx, 1)
}

func AddMirrorTx(n int) {
	MirrorTxFrames.Add(float64(n))
	atomic.AddUint64(&localMirrorTx, uint64(n))
}

func IncHubDrop() {
	HubDroppedFrames.Inc()
	atomic.AddUint64(&localHubDrop, 1)
}

func IncHubKick() {
	HubKickedClients.Inc()
	atomic.AddUint64(&localHubKick, 1)
}

func IncHubReject() {
	HubRejectedClients.Inc()
	atomic.AddUint64(&localHubReject, 1)
}

func SetHubClients(n int) {
	HubActiveClients.Set(float64(n))
	atomic.StoreUint64(&localHubClients, uint64(n))
}

func IncError(label string) {
	Errors.WithLabelValues(label).Inc()
	atomic.AddUint64(&localErrors, 1)
}

func IncMalformed() {
	MalformedFrames.Inc()
	atomic.AddUint64(&localMalformed, 1)
}

// InitBuildInfo sets the build info gauge (should be called once at startup).
func InitBuildInfo(version, commit, date string) {
	BuildInfo.WithLabelValues(version, commit, date).Set(1)
	// Pre-register common error label series so first error does not log a registration latency.
	for _, lbl := range []string{
		ErrMirrorRead, ErrMirrorWrite, ErrHandshake, ErrInject,
		ErrSerialRead, ErrSerialWrite, ErrSerialOverflow, ErrSerialRxDrop,
		ErrCANRead, ErrCANWrite, ErrCANTxOverflow, ErrCANErrorFrame, ErrCANRxDrop,
	} {
		Errors.WithLabelValues(lbl).Add(0)
	}
}

// SetReadinessFunc registers a function used by /ready and IsReady.
func SetReadinessFunc(fn func() bool) { readinessMu.Lock(); readinessFn = fn; readinessMu.Unlock() }

// IsReady invokes the registered readiness function if present.
func IsReady() bool {
	readinessMu.RLock()
	fn := readinessFn
	readinessMu.RUnlock()
	if fn == nil { // if not set yet, treat as ready so metrics endpoint doesn't flap
		return true
	}
	return fn()
}
