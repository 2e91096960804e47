package metrics

import (
	"bytes"
	"strings"
	"testing"

	vm "github.com/VictoriaMetrics/metrics"
	"github.com/stretchr/testify/require"
)

func writePrometheus(t *testing.T) string {
	t.Helper()
	var buf bytes.Buffer
	vm.WritePrometheus(&buf, true)
	return buf.String()
}

func TestCycleFinishedSuccessUpdatesGauges(t *testing.T) {
	CycleStarted()
	require.Contains(t, writePrometheus(t), "rtrd_cycle_in_progress 1")

	CycleFinished(true, 42, 7)
	out := writePrometheus(t)
	require.Contains(t, out, "rtrd_cycle_in_progress 0")
	require.Contains(t, out, "rtrd_vrps_current 42")
	require.Contains(t, out, "rtrd_routerkeys_current 7")
}

func TestCycleFinishedFailureIncrementsFailureCounter(t *testing.T) {
	before := installFailures.Get()
	CycleFinished(false, 0, 0)
	require.Equal(t, before+1, installFailures.Get())
}

func TestSetConnectionCountAndQueryReceived(t *testing.T) {
	SetConnectionCount(3)
	require.Contains(t, writePrometheus(t), "rtrd_rtr_connections 3")

	before := rtrQueriesTotal.Get()
	QueryReceived()
	require.Equal(t, before+1, rtrQueriesTotal.Get())
}

func TestMetricNamesAreNamespaced(t *testing.T) {
	out := writePrometheus(t)
	for _, name := range []string{
		"rtrd_installs_total",
		"rtrd_install_failures_total",
		"rtrd_vrps_current",
		"rtrd_routerkeys_current",
		"rtrd_cycle_in_progress",
		"rtrd_last_cycle_success_timestamp",
		"rtrd_rtr_connections",
		"rtrd_rtr_queries_total",
	} {
		require.True(t, strings.Contains(out, name), "missing metric %s", name)
	}
}
