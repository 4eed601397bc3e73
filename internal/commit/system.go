// Package commit implements the Commit Change System (§4.6): a tick_step-
// gated pass that, once per registered tracked component type, commits
// dirty inner masks and fans the per-direction deltas out to their
// resolved recipients.
package commit

import (
	"log"

	"github.com/ocx/ecsforge/internal/component"
)

// System is one Commit Change System instance, registered once per tracked
// component type (a fresh System per type, since tick_step/counter are
// per-type per §4.6's opening line).
type System struct {
	tickStep int
	counter  int

	dirty    *DirtyFlag
	resolver TokenResolver
	outbound OutboundSink
	persist  PersistSink
	fullSync FullSyncSource

	logger *log.Logger
}

// NewSystem constructs a Commit Change System. tickStep <= 0 is treated as
// 1 (run every tick, the documented default).
func NewSystem(tickStep int, dirty *DirtyFlag, resolver TokenResolver, outbound OutboundSink, persist PersistSink, fullSync FullSyncSource, logger *log.Logger) *System {
	if tickStep <= 0 {
		tickStep = 1
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[COMMIT] ", log.LstdFlags)
	}
	return &System{
		tickStep: tickStep,
		dirty:    dirty,
		resolver: resolver,
		outbound: outbound,
		persist:  persist,
		fullSync: fullSync,
		logger:   logger,
	}
}

// tracked is the subset of *component.Wrapped[T]'s behavior the commit
// pass needs, independent of T — lets Run and fanOut stay generic over
// storage element type. *component.Wrapped[T] satisfies this for any T
// without an explicit type assertion.
type tracked interface {
	IsDataDirty() bool
	Commit()
	Direction() component.Direction
	Encode(entityID uint32, dir component.Direction) ([]byte, bool, error)
	EncodeFull(entityID uint32, dir component.Direction) ([]byte, bool, error)
}

// Run executes one tick of the commit pass over storage, a map from entity
// id to its tracked component instance for this type. commandID is used
// only for PersistSink bookkeeping (the frame itself already carries it).
func Run[T any](sys *System, storage map[EntityID]*component.Wrapped[T], commandID uint32) {
	sys.counter++
	if sys.counter != sys.tickStep {
		return
	}
	sys.counter = 0

	if !sys.dirty.Load() {
		return
	}

	for entityID, w := range storage {
		if w.IsDataDirty() {
			w.Commit()
		}
		sys.fanOut(entityID, w, commandID)
	}

	sys.dirty.Clear()
}

func (sys *System) fanOut(entityID EntityID, w tracked, commandID uint32) {
	dir := w.Direction()

	if dir.Has(component.DirectionClient) {
		sys.sendDirect(entityID, w, component.DirectionClient)
	}
	if dir.Has(component.DirectionAround) {
		sys.sendAround(entityID, w)
	}
	if dir.Has(component.DirectionTeam) {
		sys.sendToMany(entityID, w, component.DirectionTeam, sys.resolver.TeamTokens(entityID))
	}
	if dir.Has(component.DirectionDatabase) {
		sys.sendDatabase(entityID, w, commandID)
	}
}

func (sys *System) sendDirect(entityID EntityID, w tracked, dir component.Direction) {
	token, ok := sys.resolver.OwnToken(entityID)
	if !ok {
		return
	}
	framed, ok, err := w.Encode(entityID, dir)
	if err != nil {
		sys.logger.Printf("encode entity %d direction %s: %v", entityID, dir, err)
		return
	}
	if !ok {
		return
	}
	sys.outbound.Send(token, framed)
}

func (sys *System) sendAround(entityID EntityID, w tracked) {
	tokens := sys.resolver.AroundTokens(entityID)
	if len(tokens) > 0 {
		sys.sendToMany(entityID, w, component.DirectionAround, tokens)
	}

	for _, observer := range sys.fullSync.DrainFullSync(entityID) {
		observerToken, ok := sys.resolver.OwnToken(observer)
		if !ok {
			continue
		}
		full, ok, err := w.EncodeFull(entityID, component.DirectionAround)
		if err != nil {
			sys.logger.Printf("encode full entity %d for observer %d: %v", entityID, observer, err)
			continue
		}
		if ok {
			sys.outbound.Send(observerToken, full)
		}
	}
}

func (sys *System) sendToMany(entityID EntityID, w tracked, dir component.Direction, tokens []NetToken) {
	framed, ok, err := w.Encode(entityID, dir)
	if err != nil {
		sys.logger.Printf("encode entity %d direction %s: %v", entityID, dir, err)
		return
	}
	if !ok {
		return
	}
	for _, token := range tokens {
		sys.outbound.Send(token, framed)
	}
}

func (sys *System) sendDatabase(entityID EntityID, w tracked, commandID uint32) {
	framed, ok, err := w.Encode(entityID, component.DirectionDatabase)
	if err != nil {
		sys.logger.Printf("encode entity %d direction Database: %v", entityID, err)
		return
	}
	if !ok {
		return
	}
	sys.persist.Persist(entityID, commandID, framed)
}
