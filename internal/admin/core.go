// Package admin exposes the operator-facing surface that sits alongside the
// game-facing netio/bus/commit pipeline: a read-mostly HTTP API (gorilla/mux),
// a gRPC service exposing the same operations, and a websocket live feed of
// the ops event bus (internal/events).
package admin

import (
	"log"

	"github.com/ocx/ecsforge/internal/bus"
	"github.com/ocx/ecsforge/internal/dynlib"
	"github.com/ocx/ecsforge/internal/events"
	"github.com/ocx/ecsforge/internal/scene"
)

// Core bundles the subsystems the admin surface reports on and acts upon.
// Both the HTTP and gRPC front ends are thin adapters over the same Core.
type Core struct {
	Libraries *dynlib.Manager
	Scenes    *scene.Manager
	Requests  *bus.Bus
	Events    *events.Bus
	logger    *log.Logger
}

// NewCore wires the admin surface to the running server's subsystems.
func NewCore(libraries *dynlib.Manager, scenes *scene.Manager, requests *bus.Bus, evts *events.Bus) *Core {
	return &Core{
		Libraries: libraries,
		Scenes:    scenes,
		Requests:  requests,
		Events:    evts,
		logger:    log.New(log.Writer(), "[ADMIN] ", log.LstdFlags),
	}
}

// LibraryView is the JSON/gRPC-facing projection of dynlib.LibraryInfo.
type LibraryView struct {
	Name       string `json:"name"`
	Generation uint64 `json:"generation"`
}

func (c *Core) listLibraries() []LibraryView {
	infos := c.Libraries.List()
	out := make([]LibraryView, 0, len(infos))
	for _, info := range infos {
		out = append(out, LibraryView{Name: info.Name, Generation: info.Generation})
	}
	return out
}

// reloadLibrary forces a reload of a referenced library and emits an ops
// event observers (the live feed, a metrics scraper) can pick up.
func (c *Core) reloadLibrary(name string) bool {
	ok := c.Libraries.Reload(name)
	if ok {
		c.Events.Emit(events.KindReloadRequested, "admin", name, map[string]interface{}{"library": name})
	} else {
		c.Events.Emit(events.KindReloadFailed, "admin", name, map[string]interface{}{"library": name})
	}
	return ok
}

// SceneView is the JSON/gRPC-facing projection of scene.SceneStat.
type SceneView struct {
	Scene         uint32 `json:"scene"`
	EntityCount   int    `json:"entity_count"`
	OccupiedGrids int    `json:"occupied_grids"`
}

func (c *Core) listScenes() []SceneView {
	stats := c.Scenes.SceneStats()
	out := make([]SceneView, 0, len(stats))
	for _, s := range stats {
		out = append(out, SceneView{Scene: s.Scene, EntityCount: s.EntityCount, OccupiedGrids: s.OccupiedGrids})
	}
	return out
}

// BusView is the JSON/gRPC-facing projection of bus.Stats.
type BusView struct {
	TrackedEntities int `json:"tracked_entities"`
	InFlightCount   int `json:"in_flight_count"`
	TotalQueued     int `json:"total_queued"`
}

func (c *Core) busStats() BusView {
	s := c.Requests.Stats()
	return BusView{TrackedEntities: s.TrackedEntities, InFlightCount: s.InFlightCount, TotalQueued: s.TotalQueued}
}
