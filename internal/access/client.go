package access

import (
	"time"

	"github.com/rs/zerolog/log"
)

// decision is one cached portal outcome. granted is only meaningful when
// checked is true.
type decision struct {
	checked bool
	granted bool
}

// inflightPortal tracks the single consent dialog a client may have open.
type inflightPortal struct {
	hook         HookKind
	requestPath  string
	cancelSignal func()
	finish       AsyncCompleter
}

// ClientRecord is the per-connected-client state. A record exists iff the
// client is currently connected; all access goes through the module's lock.
type ClientRecord struct {
	Index       uint32
	PolicyIndex uint32
	PID         int32

	seen      map[SeenKey]struct{}
	decisions [HookMax]decision
	pending   *inflightPortal
	timer     *time.Timer
}

// Seen reports whether the client has been told about the given object.
func (c *ClientRecord) Seen(f Facility, object uint32) bool {
	_, ok := c.seen[SeenKey{Facility: f, Object: object}]
	return ok
}

// OnClientPut registers a newly connected client and assigns its initial
// policy.
func (m *Module) OnClientPut(ci ClientInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	if _, ok := m.clients[ci.Index]; ok {
		log.Warn().Uint32("client", ci.Index).Msg("Duplicate client put, replacing record")
		m.unlinkLocked(ci.Index)
	}

	rec := &ClientRecord{
		Index: ci.Index,
		PID:   ci.PID,
		seen:  make(map[SeenKey]struct{}),
	}
	rec.PolicyIndex = m.classify(ci)
	m.clients[ci.Index] = rec

	log.Debug().
		Uint32("client", ci.Index).
		Int32("pid", ci.PID).
		Uint32("policy", rec.PolicyIndex).
		Msg("Client registered")
}

// OnClientAuth re-evaluates the client's policy once credentials have been
// established.
func (m *Module) OnClientAuth(ci ClientInfo) {
	m.reclassify(ci, "auth")
}

// OnClientProplistChanged re-evaluates the client's policy after a property
// list update.
func (m *Module) OnClientProplistChanged(ci ClientInfo) {
	m.reclassify(ci, "proplist_changed")
}

func (m *Module) reclassify(ci ClientInfo, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.clients[ci.Index]
	if !ok {
		return
	}

	rec.PID = ci.PID
	policy := m.classify(ci)
	if policy == rec.PolicyIndex {
		return
	}

	log.Debug().
		Uint32("client", ci.Index).
		Uint32("old_policy", rec.PolicyIndex).
		Uint32("new_policy", policy).
		Str("reason", reason).
		Msg("Client policy reassigned")
	rec.PolicyIndex = policy
}

// OnClientUnlink destroys the client's record. Any pending consent dialog is
// cancelled without invoking its completer; the timer is disarmed.
func (m *Module) OnClientUnlink(index uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unlinkLocked(index)
}

func (m *Module) unlinkLocked(index uint32) {
	rec, ok := m.clients[index]
	if !ok {
		return
	}

	if rec.pending != nil {
		if rec.pending.cancelSignal != nil {
			rec.pending.cancelSignal()
		}
		rec.pending = nil
		metricPortalPending.Dec()
		log.Debug().Uint32("client", index).Msg("Abandoned pending portal dialog on unlink")
	}
	if rec.timer != nil {
		rec.timer.Stop()
		rec.timer = nil
	}

	delete(m.clients, index)
	log.Debug().Uint32("client", index).Msg("Client unregistered")
}

// Lookup returns a snapshot of the client's record, or false if the client
// is not connected. Intended for introspection; mutation goes through the
// lifecycle and hook entry points.
func (m *Module) Lookup(index uint32) (ClientRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.clients[index]
	if !ok {
		return ClientRecord{}, false
	}

	snap := ClientRecord{
		Index:       rec.Index,
		PolicyIndex: rec.PolicyIndex,
		PID:         rec.PID,
		seen:        make(map[SeenKey]struct{}, len(rec.seen)),
		decisions:   rec.decisions,
	}
	for k := range rec.seen {
		snap.seen[k] = struct{}{}
	}
	return snap, true
}

// classify picks the policy for a client. Untrusted credentials always map
// to the default policy; sandboxed processes get the portal policy.
func (m *Module) classify(ci ClientInfo) uint32 {
	if !ci.CredentialsValid {
		return m.defaultPolicy
	}
	if m.classifier != nil && m.classifier.IsSandboxed(ci.PID) {
		return m.portalPolicy
	}
	return m.defaultPolicy
}
