package hostsim

import "sync"

// Objects is a minimal object graph: streams with owning clients, addressed
// by stable indices the way the host's registries are.
type Objects struct {
	mu            sync.RWMutex
	sinkInputs    map[uint32]uint32
	sourceOutputs map[uint32]uint32
	unowned       map[uint32]struct{}
}

// NewObjects creates an empty object graph.
func NewObjects() *Objects {
	return &Objects{
		sinkInputs:    make(map[uint32]uint32),
		sourceOutputs: make(map[uint32]uint32),
		unowned:       make(map[uint32]struct{}),
	}
}

// AddSinkInput records a playback stream owned by a client.
func (o *Objects) AddSinkInput(index, owner uint32) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sinkInputs[index] = owner
}

// AddOrphanSinkInput records a playback stream with no owning client, the
// way module-created streams appear.
func (o *Objects) AddOrphanSinkInput(index uint32) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.unowned[index] = struct{}{}
}

// RemoveSinkInput drops a playback stream.
func (o *Objects) RemoveSinkInput(index uint32) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.sinkInputs, index)
	delete(o.unowned, index)
}

// AddSourceOutput records a recording stream owned by a client.
func (o *Objects) AddSourceOutput(index, owner uint32) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sourceOutputs[index] = owner
}

// RemoveSourceOutput drops a recording stream.
func (o *Objects) RemoveSourceOutput(index uint32) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.sourceOutputs, index)
}

// SinkInputOwner resolves a playback stream to its owning client.
func (o *Objects) SinkInputOwner(index uint32) (uint32, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if _, orphan := o.unowned[index]; orphan {
		return 0, false
	}
	owner, ok := o.sinkInputs[index]
	return owner, ok
}

// SourceOutputOwner resolves a recording stream to its owning client.
func (o *Objects) SourceOutputOwner(index uint32) (uint32, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	owner, ok := o.sourceOutputs[index]
	return owner, ok
}
