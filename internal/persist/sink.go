// Package persist implements the Database-direction persistence sinks: the
// Commit Change System (internal/commit) routes a tracked component's
// Database-direction payload here instead of onto the network. Two
// backends are provided, selected by configuration — Redis (a list per
// entity+component, append-only) and PostgreSQL (upsert by entity+component) — each
// behind a minimal client interface so tests don't need a live server.
package persist

import (
	"log"
	"time"

	"github.com/ocx/ecsforge/internal/telemetry"
)

// EntityID matches the wire frame's entity id width.
type EntityID = uint32

// Sink is the interface internal/commit's PersistSink expects: errors are
// logged internally and never propagated, per the Database-direction
// failure policy — a stalled sink must not block the commit pass.
type Sink interface {
	Persist(entity EntityID, commandID uint32, framed []byte)
}

// timeSource lets tests stub the clock used for metrics timing; defaults
// to time.Now.
var timeSource = time.Now

func recordDuration(metrics *telemetry.Metrics, backend string, start time.Time, err error) {
	if metrics == nil {
		return
	}
	metrics.RecordPersist(backend, timeSource().Sub(start).Seconds(), err)
}

func defaultLogger(tag string) *log.Logger {
	return log.New(log.Writer(), tag, log.LstdFlags)
}
