// Package driver implements the Periodic Driver (§4.5): it triggers
// the Validation Pipeline on a fixed interval and reports, through
// Ready, whether a first cycle has succeeded; until then the RTR server
// answers queries with No Data Available.
package driver

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/rpkivp/rtrd/internal/metrics"
	"github.com/rpkivp/rtrd/internal/rtr"
	"github.com/rpkivp/rtrd/internal/validation"
)

// Driver owns the validation schedule and the VRP Store's write side
// (§5 "Scheduling model" — one driver thread).
type Driver struct {
	Log      zerolog.Logger
	Pipeline *validation.Pipeline
	Interval time.Duration
	Notifier *rtr.Server // optional: notified with the new serial after each install

	// OnInstall, if set, is called after every successful install with
	// the new serial and the installed counts (admin websocket push,
	// Kafka delta sink).
	OnInstall func(serial uint32, vrpCount, keyCount int)

	ready atomic.Bool
}

// Ready reports whether the driver has completed at least one
// successful validation cycle. Until true, the RTR server answers
// every query with Error Report code 2 (§4.5).
func (d *Driver) Ready() bool {
	return d.ready.Load()
}

// Run ticks validation cycles at d.Interval until ctx is canceled,
// running one cycle immediately on entry. It blocks until ctx is done;
// callers should run it in its own goroutine.
func (d *Driver) Run(ctx context.Context) {
	d.runCycle(ctx)

	ticker := time.NewTicker(d.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.Log.Debug().Msg("driver stopping: context canceled")
			return
		case <-ticker.C:
			d.runCycle(ctx)
		}
	}
}

func (d *Driver) runCycle(ctx context.Context) {
	d.Log.Debug().Msg("validation cycle starting")
	metrics.CycleStarted()

	res := d.Pipeline.Run(ctx)

	vrpCount, keyCount := 0, 0
	if res.Installed {
		if snap, _ := d.Pipeline.Store.Snapshot(); snap != nil {
			vrpCount, keyCount = len(snap.VRPs()), len(snap.RouterKeys())
		}
	}
	metrics.CycleFinished(res.Installed, vrpCount, keyCount)

	if res.Err != nil {
		d.Log.Warn().Err(res.Err).Msg("validation cycle failed, previous snapshot retained")
		return
	}

	d.Log.Info().Uint32("serial", res.Serial).Int("tals", res.TALCount).Msg("validation cycle installed")
	d.ready.Store(true)

	if d.Notifier != nil {
		d.Notifier.Notify(0, res.Serial)
		d.Notifier.Notify(1, res.Serial)
	}
	if d.OnInstall != nil {
		d.OnInstall(res.Serial, vrpCount, keyCount)
	}
}
