package queue

import (
	"fmt"
	"time"

	"github.com/queuey-io/queuey/internal/storage"
)

// Config tunes the deployment-wide knobs the consistency policy table
// (spec §4.D) is parameterized over. Replicas is fixed for the process
// lifetime (changing it means re-provisioning storage); multi_dc and
// base_delay_seconds are not -- see LiveConfig.
type Config struct {
	// Replicas is the replication factor. A single-replica deployment
	// (Replicas <= 1) forces cl=one and delay=0 for every tier.
	Replicas int
}

// LiveConfig exposes the subset of the deployment configuration that
// may change after startup without a restart: multi_dc and
// base_delay_seconds, hot-reloaded via fsnotify (spec §4.D). Engine
// calls these on every request instead of snapshotting them once, so a
// *config.Live updated by config.WatchLive takes effect immediately.
// *config.Live satisfies this interface.
type LiveConfig interface {
	MultiDC() bool
	BaseDelaySeconds() float64
}

// staticLive is the LiveConfig Engine falls back to when none is
// supplied via WithLive -- both knobs are fixed at their zero values,
// which is the correct behavior for tests and single-DC deployments
// with no config file to watch.
type staticLive struct{}

func (staticLive) MultiDC() bool             { return false }
func (staticLive) BaseDelaySeconds() float64 { return 0 }

// tierDelays holds the base (non-B) delay in seconds for each tier.
var tierDelays = map[string]float64{
	"weak":        1,
	"strong":      5,
	"very_strong": 600,
}

// ResolveConsistency maps a queue's `consistency` attribute to the
// storage-level (ConsistencyLevel, visibility delay) pair per spec §4.D.
// live is read fresh on every call so a hot-reloaded multi_dc/
// base_delay_seconds takes effect on the very next request.
func ResolveConsistency(tier string, replicas int, live LiveConfig) (storage.ConsistencyLevel, time.Duration, error) {
	base, ok := tierDelays[tier]
	if !ok {
		return "", 0, fmt.Errorf("queue: unknown consistency tier %q", tier)
	}

	if replicas <= 1 {
		return storage.CLOne, 0, nil
	}

	multiDC := live.MultiDC()
	var cl storage.ConsistencyLevel
	switch tier {
	case "weak":
		cl = storage.CLOne
	case "strong":
		if multiDC {
			cl = storage.CLLocalQuorum
		} else {
			cl = storage.CLQuorum
		}
	case "very_strong":
		if multiDC {
			cl = storage.CLEachQuorum
		} else {
			cl = storage.CLQuorum
		}
	}

	delaySeconds := base + live.BaseDelaySeconds()
	return cl, time.Duration(delaySeconds * float64(time.Second)), nil
}
