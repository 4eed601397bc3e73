package commit

import (
	"sync"
	"testing"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/ocx/ecsforge/internal/component"
)

type position struct {
	X, Y int32
}

const (
	posBitX = iota
	posBitY
)

const cmdPosition uint32 = 0xAAAA

func encodePosition(p position, mask uint64) ([]byte, error) {
	var buf []byte
	if mask&(1<<posBitX) != 0 {
		buf = protowire.AppendTag(buf, 1, protowire.VarintType)
		buf = protowire.AppendVarint(buf, uint64(p.X))
	}
	if mask&(1<<posBitY) != 0 {
		buf = protowire.AppendTag(buf, 2, protowire.VarintType)
		buf = protowire.AppendVarint(buf, uint64(p.Y))
	}
	buf = component.AppendMaskField(buf, mask)
	return buf, nil
}

func newPosition(dir component.Direction) *component.Wrapped[position] {
	fields := component.FieldDirections{
		posBitX: component.DirectionClient | component.DirectionAround | component.DirectionDatabase | component.DirectionTeam,
		posBitY: component.DirectionClient | component.DirectionAround | component.DirectionDatabase | component.DirectionTeam,
	}
	return component.New(position{}, dir, cmdPosition, fields, encodePosition)
}

type fakeResolver struct {
	owners map[EntityID]NetToken
	around map[EntityID][]NetToken
	team   map[EntityID][]NetToken
}

func (f *fakeResolver) OwnToken(e EntityID) (NetToken, bool) {
	t, ok := f.owners[e]
	return t, ok
}
func (f *fakeResolver) AroundTokens(e EntityID) []NetToken { return f.around[e] }
func (f *fakeResolver) TeamTokens(e EntityID) []NetToken   { return f.team[e] }

type fakeOutbound struct {
	mu   sync.Mutex
	sent map[NetToken]int
}

func newFakeOutbound() *fakeOutbound { return &fakeOutbound{sent: make(map[NetToken]int)} }

func (f *fakeOutbound) Send(token NetToken, framed []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent[token]++
}

type persistedRecord struct {
	entity EntityID
	cmd    uint32
}

type fakePersist struct {
	mu      sync.Mutex
	records []persistedRecord
}

func (f *fakePersist) Persist(entity EntityID, cmd uint32, framed []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, persistedRecord{entity, cmd})
}

type fakeFullSync struct {
	pending map[EntityID][]EntityID
}

func (f *fakeFullSync) DrainFullSync(observer EntityID) []EntityID {
	out := f.pending[observer]
	delete(f.pending, observer)
	return out
}

func TestTickStepGating(t *testing.T) {
	dirty := &DirtyFlag{}
	dirty.Set()
	resolver := &fakeResolver{owners: map[EntityID]NetToken{1: 100}}
	outbound := newFakeOutbound()
	sys := NewSystem(3, dirty, resolver, outbound, &fakePersist{}, &fakeFullSync{pending: map[EntityID][]EntityID{}}, nil)

	storage := map[EntityID]*component.Wrapped[position]{
		1: newPosition(component.DirectionClient),
	}
	storage[1].Mutate(func(p *position) { p.X = 5 }, 1<<posBitX)

	Run(sys, storage, cmdPosition)
	Run(sys, storage, cmdPosition)
	if outbound.sent[100] != 0 {
		t.Fatalf("expected no sends before tickStep is reached, got %d", outbound.sent[100])
	}

	Run(sys, storage, cmdPosition)
	if outbound.sent[100] != 1 {
		t.Fatalf("expected exactly 1 send on the tickStep-th call, got %d", outbound.sent[100])
	}
}

func TestGlobalDirtyFlagShortCircuit(t *testing.T) {
	dirty := &DirtyFlag{} // never set
	resolver := &fakeResolver{owners: map[EntityID]NetToken{1: 100}}
	outbound := newFakeOutbound()
	sys := NewSystem(1, dirty, resolver, outbound, &fakePersist{}, &fakeFullSync{pending: map[EntityID][]EntityID{}}, nil)

	storage := map[EntityID]*component.Wrapped[position]{
		1: newPosition(component.DirectionClient),
	}
	storage[1].Mutate(func(p *position) { p.X = 5 }, 1<<posBitX)

	Run(sys, storage, cmdPosition)

	if outbound.sent[100] != 0 {
		t.Fatal("expected no fan-out while the global dirty flag is clear")
	}
	if !storage[1].IsDataDirty() {
		t.Fatal("expected the uncommitted field mask to remain set")
	}
}

func TestFanOutAllDirections(t *testing.T) {
	dirty := &DirtyFlag{}
	dirty.Set()
	resolver := &fakeResolver{
		owners: map[EntityID]NetToken{1: 100},
		around: map[EntityID][]NetToken{1: {200, 201}},
		team:   map[EntityID][]NetToken{1: {300}},
	}
	outbound := newFakeOutbound()
	persist := &fakePersist{}
	sys := NewSystem(1, dirty, resolver, outbound, persist, &fakeFullSync{pending: map[EntityID][]EntityID{}}, nil)

	storage := map[EntityID]*component.Wrapped[position]{
		1: newPosition(component.DirectionClient | component.DirectionAround | component.DirectionTeam | component.DirectionDatabase),
	}
	storage[1].Mutate(func(p *position) { p.X, p.Y = 7, 9 }, 1<<posBitX|1<<posBitY)

	Run(sys, storage, cmdPosition)

	if outbound.sent[100] != 1 {
		t.Fatalf("expected 1 client send, got %d", outbound.sent[100])
	}
	if outbound.sent[200] != 1 || outbound.sent[201] != 1 {
		t.Fatalf("expected 1 around send to each observer, got %v", outbound.sent)
	}
	if outbound.sent[300] != 1 {
		t.Fatalf("expected 1 team send, got %d", outbound.sent[300])
	}
	if len(persist.records) != 1 || persist.records[0].entity != 1 {
		t.Fatalf("expected 1 persisted record for entity 1, got %+v", persist.records)
	}
	if dirty.Load() {
		t.Fatal("expected the global dirty flag to be cleared after the pass")
	}
}

func TestFullStateSyncOnEnter(t *testing.T) {
	dirty := &DirtyFlag{}
	dirty.Set()
	resolver := &fakeResolver{
		owners: map[EntityID]NetToken{1: 100, 2: 200},
		around: map[EntityID][]NetToken{}, // entity 2 not yet in the delta-recipient set
	}
	outbound := newFakeOutbound()
	fullSync := &fakeFullSync{pending: map[EntityID][]EntityID{1: {2}}}
	sys := NewSystem(1, dirty, resolver, outbound, &fakePersist{}, fullSync, nil)

	storage := map[EntityID]*component.Wrapped[position]{
		1: newPosition(component.DirectionAround),
	}
	// No mutation at all: IsDataDirty is false, but the full sync still
	// must fire for the newly-entered observer.
	Run(sys, storage, cmdPosition)

	if outbound.sent[200] != 1 {
		t.Fatalf("expected a full-state sync delivered to the new observer's token, got %d", outbound.sent[200])
	}
}
