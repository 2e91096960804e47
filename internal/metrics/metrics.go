// Package metrics exposes the process's Prometheus-format counters and
// gauges via github.com/VictoriaMetrics/metrics, written to the
// default registry so internal/admin's /metrics handler can serve them
// with a single WritePrometheus call.
package metrics

import (
	"time"

	"github.com/VictoriaMetrics/metrics"
)

var (
	installsTotal     = metrics.NewCounter(`rtrd_installs_total`)
	installFailures   = metrics.NewCounter(`rtrd_install_failures_total`)
	vrpsCurrent       = metrics.NewGauge(`rtrd_vrps_current`, nil)
	routerKeysCurrent = metrics.NewGauge(`rtrd_routerkeys_current`, nil)
	cycleInProgress   = metrics.NewGauge(`rtrd_cycle_in_progress`, nil)
	lastSuccessUnix   = metrics.NewGauge(`rtrd_last_cycle_success_timestamp`, nil)
	rtrConnections    = metrics.NewGauge(`rtrd_rtr_connections`, nil)
	rtrQueriesTotal   = metrics.NewCounter(`rtrd_rtr_queries_total`)
)

// CycleStarted records that a validation cycle has begun.
func CycleStarted() {
	cycleInProgress.Set(1)
}

// CycleFinished records a validation cycle's outcome, updating the VRP
// and router key gauges on success.
func CycleFinished(installed bool, vrpCount, routerKeyCount int) {
	cycleInProgress.Set(0)
	if installed {
		installsTotal.Inc()
		vrpsCurrent.Set(float64(vrpCount))
		routerKeysCurrent.Set(float64(routerKeyCount))
		lastSuccessUnix.Set(float64(time.Now().Unix()))
	} else {
		installFailures.Inc()
	}
}

// SetConnectionCount reports the number of currently connected RTR
// routers.
func SetConnectionCount(n int) {
	rtrConnections.Set(float64(n))
}

// QueryReceived records one Serial/Reset Query PDU handled by the RTR
// server.
func QueryReceived() {
	rtrQueriesTotal.Inc()
}
