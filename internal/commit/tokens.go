package commit

// EntityID matches the wire frame's entity id width.
type EntityID = uint32

// NetToken identifies a delivery destination for outbound frames — in
// practice a connection id, opaque to this package.
type NetToken = uint64

// TokenResolver maps an entity to the recipients each direction fans out
// to (§4.6 step 4): Client resolves to the entity's own connection, Around
// to its scene AoI set, Team to its team roster — each mapped through
// NetToken. Database has no tokens; it is handled separately via
// PersistSink.
type TokenResolver interface {
	OwnToken(entity EntityID) (NetToken, bool)
	AroundTokens(entity EntityID) []NetToken
	TeamTokens(entity EntityID) []NetToken
}

// FullSyncSource is drained once per entity by the commit pass (§4.3/§4.6):
// DrainFullSync(entity) returns and clears the entities queued against
// entity, and the commit pass sends each of them a full-state sync of
// entity. scene.Manager satisfies this because it queues every newly
// visible pair in both directions.
type FullSyncSource interface {
	DrainFullSync(entity EntityID) []EntityID
}

// OutboundSink forwards an already-framed wire message to a connection.
type OutboundSink interface {
	Send(token NetToken, framed []byte)
}

// PersistSink receives the Database-direction payload for an entity's
// component, routed outside the network layer entirely.
type PersistSink interface {
	Persist(entity EntityID, commandID uint32, framed []byte)
}
