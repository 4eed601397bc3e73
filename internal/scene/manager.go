package scene

import (
	"log"
	"sync"
)

// Manager maintains the entity↔grid bi-map and computes AoI enter/leave
// sets as positions change. It owns its state exclusively and is meant to
// be driven once per tick from a single maintain pass (§4.3, §5).
type Manager struct {
	mu sync.Mutex

	userGrids  map[EntityID]location            // entity -> (scene, grid)
	sceneGrids map[SceneID]map[int]map[EntityID]struct{} // scene -> grid -> entities
	sceneData  map[SceneID]Data

	// aroundFullData accumulates, per observer, the set of subjects it
	// just gained visibility of and needs a full-state sync for, in
	// addition to any delta the next commit pass produces (§4.6
	// "full-state sync on enter").
	aroundFullData map[EntityID]map[EntityID]struct{}

	radius int
	logger *log.Logger
}

// NewManager creates an empty scene manager. radius is the neighborhood
// size in grid cells (1 = the 3x3 neighborhood described in §8 scenario 2).
func NewManager(radius int) *Manager {
	if radius < 1 {
		radius = 1
	}
	return &Manager{
		userGrids:      make(map[EntityID]location),
		sceneGrids:     make(map[SceneID]map[int]map[EntityID]struct{}),
		sceneData:      make(map[SceneID]Data),
		aroundFullData: make(map[EntityID]map[EntityID]struct{}),
		radius:         radius,
		logger:         log.New(log.Writer(), "[SCENE] ", log.LstdFlags),
	}
}

// SetSceneData installs or updates a scene's grid mirror (step 1 of the
// maintain algorithm: scene-data events applied to the mirror map).
func (m *Manager) SetSceneData(scene SceneID, data Data) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sceneData[scene] = data
	if _, ok := m.sceneGrids[scene]; !ok {
		m.sceneGrids[scene] = make(map[int]map[EntityID]struct{})
	}
}

// RemoveSceneData drops a scene's mirror entry; any entities still placed
// in it are left in user_grids until their own removal is processed
// (mirrors the source treating scene-data and position events separately).
func (m *Manager) RemoveSceneData(scene SceneID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sceneData, scene)
}

// removeGridEntity is the internal single-location-invariant helper:
// insert_grid_entity always calls this first.
func (m *Manager) removeGridEntity(e EntityID) (prev location, hadLocation bool) {
	loc, ok := m.userGrids[e]
	if !ok {
		return location{}, false
	}
	delete(m.userGrids, e)
	if grids, ok := m.sceneGrids[loc.scene]; ok {
		if cell, ok := grids[loc.grid]; ok {
			delete(cell, e)
			if len(cell) == 0 {
				delete(grids, loc.grid)
			}
		}
	}
	return loc, true
}

func (m *Manager) insertGridEntity(e EntityID, scene SceneID, grid int) {
	m.removeGridEntity(e)
	m.userGrids[e] = location{scene: scene, grid: grid}
	grids, ok := m.sceneGrids[scene]
	if !ok {
		grids = make(map[int]map[EntityID]struct{})
		m.sceneGrids[scene] = grids
	}
	cell, ok := grids[grid]
	if !ok {
		cell = make(map[EntityID]struct{})
		grids[grid] = cell
	}
	cell[e] = struct{}{}
}

// aoiSetLocked returns every entity in the neighborhood around e's current
// grid, excluding e itself (an entity is never its own observer). The
// caller holds m.mu.
func (m *Manager) aoiSetLocked(e EntityID) map[EntityID]struct{} {
	loc, ok := m.userGrids[e]
	if !ok {
		return nil
	}
	data, ok := m.sceneData[loc.scene]
	if !ok {
		return nil
	}
	grids := m.sceneGrids[loc.scene]
	out := make(map[EntityID]struct{})
	for _, idx := range data.neighbors(loc.grid, m.radius) {
		for other := range grids[idx] {
			if other != e {
				out[other] = struct{}{}
			}
		}
	}
	return out
}

// AoISet returns the current observer set for e (a snapshot copy).
func (m *Manager) AoISet(e EntityID) []EntityID {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := m.aoiSetLocked(e)
	out := make([]EntityID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}

// EnterLeaveResult carries what a position change means for AoI
// subscribers: who must be told to drop e, and who newly gained
// visibility of e (queued for a full-state sync).
type EnterLeaveResult struct {
	Dropped []EntityID // observers that must receive DropEntity(e)
	Entered []EntityID // observers that newly see e — queued into AroundFullData
}

// Remove drops entity e entirely (step 2: removed position). Returns the
// observer set that must be told to drop e.
func (m *Manager) Remove(e EntityID) EnterLeaveResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	before := m.aoiSetLocked(e)
	m.removeGridEntity(e)
	delete(m.aroundFullData, e)
	return EnterLeaveResult{Dropped: setToSlice(before)}
}

// Insert places a newly-appearing entity (step 3: inserted position).
// Queues the new entity into each existing observer's AroundFullData, and
// queues the existing observers into the new entity's AroundFullData —
// both directions must full-sync the other on first sight.
func (m *Manager) Insert(e EntityID, scene SceneID, x, y float64) (ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.sceneData[scene]
	if !ok {
		m.logger.Printf("insert: unknown scene %d for entity %d", scene, e)
		return false
	}
	grid, ok := data.GridIndex(x, y)
	if !ok {
		m.logger.Printf("insert: unresolvable grid index for entity %d at (%f,%f)", e, x, y)
		return false
	}
	m.insertGridEntity(e, scene, grid)

	observers := m.aoiSetLocked(e)
	for obs := range observers {
		m.queueFullSync(obs, e)
		m.queueFullSync(e, obs)
	}
	return true
}

// Update recomputes grid placement for a moved entity (step 4: modified
// position). If the grid is unchanged, it's a no-op. Otherwise it
// computes the (left, entered) partition of the neighborhood relative to
// the previous position and updates the bi-map.
func (m *Manager) Update(e EntityID, scene SceneID, x, y float64) EnterLeaveResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, ok := m.sceneData[scene]
	if !ok {
		m.logger.Printf("update: unknown scene %d for entity %d", scene, e)
		return EnterLeaveResult{}
	}
	newGrid, ok := data.GridIndex(x, y)
	if !ok {
		m.logger.Printf("update: unresolvable grid index for entity %d at (%f,%f)", e, x, y)
		return EnterLeaveResult{}
	}

	oldLoc, had := m.userGrids[e]
	if had && oldLoc.scene == scene && oldLoc.grid == newGrid {
		return EnterLeaveResult{}
	}

	before := m.aoiSetLocked(e)
	m.insertGridEntity(e, scene, newGrid)
	after := m.aoiSetLocked(e)

	var left, entered []EntityID
	for obs := range before {
		if _, stillThere := after[obs]; !stillThere {
			left = append(left, obs)
		}
	}
	for obs := range after {
		if _, wasThere := before[obs]; !wasThere {
			entered = append(entered, obs)
			m.queueFullSync(obs, e)
			m.queueFullSync(e, obs)
		}
	}
	return EnterLeaveResult{Dropped: left, Entered: entered}
}

// queueFullSync records that observer must receive a full-state sync of
// subject on the next commit pass.
func (m *Manager) queueFullSync(observer, subject EntityID) {
	set, ok := m.aroundFullData[observer]
	if !ok {
		set = make(map[EntityID]struct{})
		m.aroundFullData[observer] = set
	}
	set[subject] = struct{}{}
}

// DrainFullSync returns and clears the set of subjects observer needs a
// full-state sync for, consumed once per commit pass (§4.6).
func (m *Manager) DrainFullSync(observer EntityID) []EntityID {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.aroundFullData[observer]
	if !ok {
		return nil
	}
	delete(m.aroundFullData, observer)
	return setToSlice(set)
}

// GCEmptyScenes returns scene ids whose grids are all empty — eligible
// for deletion per the empty-scene-GC invariant. Callers are responsible
// for actually destroying the scene entity and calling RemoveSceneData.
func (m *Manager) GCEmptyScenes() []SceneID {
	m.mu.Lock()
	defer m.mu.Unlock()
	var empty []SceneID
	for scene, grids := range m.sceneGrids {
		nonEmpty := false
		for _, cell := range grids {
			if len(cell) > 0 {
				nonEmpty = true
				break
			}
		}
		if !nonEmpty {
			empty = append(empty, scene)
		}
	}
	return empty
}

// Location reports the current (scene, grid) placement of e, if any —
// used by tests and the admin surface to assert the grid-consistency
// invariant directly.
func (m *Manager) Location(e EntityID) (scene SceneID, grid int, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	loc, ok := m.userGrids[e]
	return loc.scene, loc.grid, ok
}

// SceneStat reports one scene's grid occupancy for the admin surface.
type SceneStat struct {
	Scene        SceneID
	EntityCount  int
	OccupiedGrids int
}

// SceneStats returns occupancy for every scene currently holding entities,
// for the admin surface's "list scenes" operation.
func (m *Manager) SceneStats() []SceneStat {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SceneStat, 0, len(m.sceneGrids))
	for scene, grids := range m.sceneGrids {
		count := 0
		for _, cell := range grids {
			count += len(cell)
		}
		out = append(out, SceneStat{Scene: scene, EntityCount: count, OccupiedGrids: len(grids)})
	}
	return out
}

func setToSlice(set map[EntityID]struct{}) []EntityID {
	if len(set) == 0 {
		return nil
	}
	out := make([]EntityID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}
