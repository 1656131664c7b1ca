// Package metrics defines prometheus metric types and provides convenience
// methods to add accounting to the various subsystems of olsrv2d.
//
// When defining new operations or metrics, these are helpful values to track:
//  - things coming into or going out of the system: packets, messages, routes.
//  - the success or error status of any of the above.
//  - the distribution of processing latency.
package metrics

import (
	"log"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PacketsReceived counts packets delivered to the RFC 5444 reader,
	// labeled by transport ("multicast"/"unicast") and address family.
	PacketsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "olsrv2d_packets_received_total",
			Help: "RFC 5444 packets received, by transport and address family.",
		}, []string{"transport", "af"})

	// MessagesDropped counts messages dropped by the codec or dispatcher,
	// labeled by reason (truncated, bad_length, duplicate, not_neighbor, ...).
	MessagesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "olsrv2d_messages_dropped_total",
			Help: "Messages dropped during parse or dispatch, by reason.",
		}, []string{"reason"})

	// DupCacheSize tracks the number of live entries in the duplicate set.
	DupCacheSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "olsrv2d_dup_cache_size",
			Help: "Number of live (msg_type, originator) entries in the duplicate set.",
		})

	// LinkStateTransitions counts NHDP link state-machine transitions,
	// labeled by from/to status.
	LinkStateTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "olsrv2d_link_state_transitions_total",
			Help: "NHDP link state-machine transitions, by from and to status.",
		}, []string{"from", "to"})

	// SymmetricLinkCount is a gauge of currently symmetric links, by interface.
	SymmetricLinkCount = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "olsrv2d_symmetric_links",
			Help: "Currently symmetric NHDP links, by interface name.",
		}, []string{"iface"})

	// MPRSetSize is a gauge of the current MPR set size, by domain.
	MPRSetSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "olsrv2d_mpr_set_size",
			Help: "Size of the locally-selected MPR set, by domain (flood or routing-domain id).",
		}, []string{"domain"})

	// TCNodeCount is a gauge of known tc-nodes in the topology database.
	TCNodeCount = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "olsrv2d_tc_node_count",
			Help: "Number of tc-nodes currently held in the topology database.",
		})

	// ANSNAccepted counts TC messages accepted, by whether the ANSN check
	// treated them as COMPLETE or INCOMPLETE.
	ANSNAccepted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "olsrv2d_ansn_accepted_total",
			Help: "TC messages accepted by ANSN discipline, by completeness.",
		}, []string{"completeness"})

	// SPFDuration tracks how long one Dijkstra run over one domain takes.
	SPFDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "olsrv2d_spf_duration_seconds",
			Help:    "Wall-clock duration of one per-domain Dijkstra run.",
			Buckets: prometheus.ExponentialBuckets(0.00005, 2, 16),
		}, []string{"domain"})

	// FIBRouteOps counts FIB adapter calls, labeled by op (add/change/del)
	// and result (ok/temporary_fail/permanent_fail).
	FIBRouteOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "olsrv2d_fib_route_ops_total",
			Help: "FIB adapter calls, by operation and result.",
		}, []string{"op", "result"})

	// SettleDuration tracks the coalescing-to-recompute latency of the
	// settle phase (dirty flag set -> Dijkstra run completing).
	SettleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "olsrv2d_settle_duration_seconds",
			Help:    "Time from a dirty flag being set to the settle phase completing.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		})

	// RouteCount is a gauge of routes currently installed in the FIB, by
	// domain.
	RouteCount = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "olsrv2d_route_count",
			Help: "Routes currently installed in the FIB, by domain.",
		}, []string{"domain"})

	// RouteEventsPublished counts route-change notifications fanned out
	// over the diagnostic event socket, by kind (added/changed/removed).
	RouteEventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "olsrv2d_route_events_published_total",
			Help: "Route-change events published on the routeevent socket, by kind.",
		}, []string{"kind"})

	// ArchiveSnapshotsWritten counts diagnostic snapshot records written
	// to the archive.
	ArchiveSnapshotsWritten = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "olsrv2d_archive_snapshots_written_total",
			Help: "Diagnostic snapshot records appended to the archive.",
		})

	// ArchiveFileRotations counts archive file rotations.
	ArchiveFileRotations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "olsrv2d_archive_file_rotations_total",
			Help: "Number of times the archive writer rotated to a new file.",
		})

	// ErrorCount measures the number of non-fatal errors across subsystems.
	// Example usage:
	//   metrics.ErrorCount.With(prometheus.Labels{"subsystem": "codec", "kind": "truncated"}).Inc()
	ErrorCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "olsrv2d_error_total",
			Help: "The total number of non-fatal errors encountered, by subsystem and kind.",
		}, []string{"subsystem", "kind"})
)

// init prints a log message to let the operator know that the package has
// been loaded and the metrics registered. The metrics are auto-registered,
// which means they are registered as soon as this package is loaded, and
// the exact time this occurs (and whether this occurs at all in a given
// context) can be opaque.
func init() {
	log.Println("Prometheus metrics in olsrv2d.metrics are registered.")
}
