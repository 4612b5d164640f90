package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ZoneSyncsTotal tracks zone file syncs by result
	ZoneSyncsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zonesync_zone_syncs_total",
		Help: "Total number of zone file syncs",
	}, []string{"result"})

	// ZoneSyncDuration tracks how long resolving and writing a zone takes
	ZoneSyncDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "zonesync_zone_sync_duration_seconds",
		Help:    "Histogram of zone sync duration",
		Buckets: prometheus.DefBuckets,
	})

	// EventsTotal tracks events received from the store or published on the bus
	EventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zonesync_events_total",
		Help: "Total number of events handled",
	}, []string{"event", "result"})

	// CatalogUpdatesTotal tracks catalog zone edits
	CatalogUpdatesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zonesync_catalog_updates_total",
		Help: "Total number of catalog zone updates",
	}, []string{"operation", "result"})

	// CatalogSerial exposes the serial of the last catalog written
	CatalogSerial = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "zonesync_catalog_serial",
		Help: "SOA serial of the catalog zone",
	})

	// CatalogLockWait tracks time spent waiting for the catalog lock
	CatalogLockWait = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "zonesync_catalog_lock_wait_seconds",
		Help:    "Histogram of catalog lock acquisition time",
		Buckets: prometheus.DefBuckets,
	})

	// CommandsTotal tracks nameserver commands by operation and result
	CommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zonesync_commands_total",
		Help: "Total number of nameserver commands executed",
	}, []string{"operation", "result"})

	// HostLookups tracks nameserver address lookups by source
	HostLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zonesync_host_lookups_total",
		Help: "Total number of nameserver address lookups",
	}, []string{"source", "result"})

	// DBConnectionsActive tracks open database connections
	DBConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "zonesync_db_connections_active",
		Help: "Number of active database connections",
	})
)

// Result maps an error to the "ok"/"error" label value.
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// ObserveSync records one zone sync that started at start.
func ObserveSync(start time.Time, err error) {
	ZoneSyncDuration.Observe(time.Since(start).Seconds())
	ZoneSyncsTotal.WithLabelValues(Result(err)).Inc()
}
