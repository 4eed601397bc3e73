// Package session binds entity ids to network connections and team
// rosters, giving the Commit Change System (internal/commit) a concrete
// TokenResolver: Client resolves an entity's own connection, Around its
// scene AoI set (via internal/scene), Team its roster — each as a
// connection id ("NetToken" in internal/commit's terms).
package session

import (
	"log"
	"sync"

	"github.com/ocx/ecsforge/internal/commit"
	"github.com/ocx/ecsforge/internal/scene"
)

// Registry tracks the entity<->connection binding and team membership
// needed to resolve commit.TokenResolver's three directions.
type Registry struct {
	mu sync.RWMutex

	entityToConn map[commit.EntityID]commit.NetToken
	connToEntity map[commit.NetToken]commit.EntityID

	entityToTeam map[commit.EntityID]uint32
	teamRoster   map[uint32]map[commit.EntityID]struct{}

	scenes *scene.Manager
	logger *log.Logger
}

// NewRegistry builds a session registry backed by scenes for Around
// resolution.
func NewRegistry(scenes *scene.Manager) *Registry {
	return &Registry{
		entityToConn: make(map[commit.EntityID]commit.NetToken),
		connToEntity: make(map[commit.NetToken]commit.EntityID),
		entityToTeam: make(map[commit.EntityID]uint32),
		teamRoster:   make(map[uint32]map[commit.EntityID]struct{}),
		scenes:       scenes,
		logger:       log.New(log.Writer(), "[SESSION] ", log.LstdFlags),
	}
}

// Bind associates entity with the connection that authenticated it. Any
// prior binding for either side is replaced.
func (r *Registry) Bind(entity commit.EntityID, conn commit.NetToken) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if prevConn, ok := r.entityToConn[entity]; ok {
		delete(r.connToEntity, prevConn)
	}
	if prevEntity, ok := r.connToEntity[conn]; ok {
		delete(r.entityToConn, prevEntity)
	}
	r.entityToConn[entity] = conn
	r.connToEntity[conn] = entity
}

// UnbindConn drops whatever entity is bound to conn, called when the
// connection closes.
func (r *Registry) UnbindConn(conn commit.NetToken) (entity commit.EntityID, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entity, ok = r.connToEntity[conn]
	if !ok {
		return 0, false
	}
	delete(r.connToEntity, conn)
	delete(r.entityToConn, entity)
	return entity, true
}

// EntityForConn reports the entity currently bound to conn, if any.
func (r *Registry) EntityForConn(conn commit.NetToken) (commit.EntityID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entity, ok := r.connToEntity[conn]
	return entity, ok
}

// JoinTeam adds entity to team's roster, leaving any previous team.
func (r *Registry) JoinTeam(entity commit.EntityID, team uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.entityToTeam[entity]; ok {
		if roster, ok := r.teamRoster[prev]; ok {
			delete(roster, entity)
			if len(roster) == 0 {
				delete(r.teamRoster, prev)
			}
		}
	}
	r.entityToTeam[entity] = team
	roster, ok := r.teamRoster[team]
	if !ok {
		roster = make(map[commit.EntityID]struct{})
		r.teamRoster[team] = roster
	}
	roster[entity] = struct{}{}
}

// LeaveTeam removes entity from whatever team it currently belongs to.
func (r *Registry) LeaveTeam(entity commit.EntityID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	team, ok := r.entityToTeam[entity]
	if !ok {
		return
	}
	delete(r.entityToTeam, entity)
	if roster, ok := r.teamRoster[team]; ok {
		delete(roster, entity)
		if len(roster) == 0 {
			delete(r.teamRoster, team)
		}
	}
}

// OwnToken implements commit.TokenResolver's Client direction.
func (r *Registry) OwnToken(entity commit.EntityID) (commit.NetToken, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	token, ok := r.entityToConn[entity]
	return token, ok
}

// AroundTokens implements commit.TokenResolver's Around direction: the
// scene manager's current AoI set for entity, translated to connection
// tokens (observers with no bound connection — not yet authenticated, or
// NPCs — are silently skipped).
func (r *Registry) AroundTokens(entity commit.EntityID) []commit.NetToken {
	observers := r.scenes.AoISet(entity)
	r.mu.RLock()
	defer r.mu.RUnlock()
	tokens := make([]commit.NetToken, 0, len(observers))
	for _, obs := range observers {
		if token, ok := r.entityToConn[obs]; ok {
			tokens = append(tokens, token)
		}
	}
	return tokens
}

// TeamTokens implements commit.TokenResolver's Team direction.
func (r *Registry) TeamTokens(entity commit.EntityID) []commit.NetToken {
	r.mu.RLock()
	defer r.mu.RUnlock()
	team, ok := r.entityToTeam[entity]
	if !ok {
		return nil
	}
	roster := r.teamRoster[team]
	tokens := make([]commit.NetToken, 0, len(roster))
	for member := range roster {
		if member == entity {
			continue
		}
		if token, ok := r.entityToConn[member]; ok {
			tokens = append(tokens, token)
		}
	}
	return tokens
}
