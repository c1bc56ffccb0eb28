package heat

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	SnapshotsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "incidentmap_snapshots_total",
		Help: "Total snapshots received from the feed",
	})
	RecordsValidatedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "incidentmap_records_validated_total",
		Help: "Total records that passed validation",
	})
	RecordsDroppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "incidentmap_records_dropped_total",
		Help: "Total records dropped for missing or malformed coordinates",
	})
	FeaturesActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "incidentmap_features_active",
		Help: "Features in the most recent validated snapshot",
	})
	ViewsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "incidentmap_views_active",
		Help: "Connected map views",
	})
	OverlayCreatesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "incidentmap_overlay_creates_total",
		Help: "Tooltip overlays created",
	})
	OverlayRemovesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "incidentmap_overlay_removes_total",
		Help: "Tooltip overlays removed",
	})
)

func init() {
	prometheus.MustRegister(SnapshotsTotal)
	prometheus.MustRegister(RecordsValidatedTotal)
	prometheus.MustRegister(RecordsDroppedTotal)
	prometheus.MustRegister(FeaturesActive)
	prometheus.MustRegister(ViewsActive)
	prometheus.MustRegister(OverlayCreatesTotal)
	prometheus.MustRegister(OverlayRemovesTotal)
}

// MetricsHandler exposes the registered metrics for scraping.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
