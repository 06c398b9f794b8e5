package access

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Priority orders handlers on a hook; lower runs earlier.
type Priority int

// PriorityEarly is where the access module attaches itself: ahead of any
// later hook consumers, so a denial short-circuits them.
const PriorityEarly Priority = -100

// ClientLifecycleEvent names the client registry hooks the module consumes.
type ClientLifecycleEvent int

const (
	ClientPut ClientLifecycleEvent = iota
	ClientAuth
	ClientProplistChanged
	ClientUnlink
)

// HookRegistry is the host's hook bus. Register calls return an unregister
// function; the module tears its registrations down in reverse order.
type HookRegistry interface {
	RegisterAccess(kind HookKind, prio Priority, fn func(Request) Verdict) (unregister func())
	RegisterClient(ev ClientLifecycleEvent, prio Priority, fn func(ClientInfo)) (unregister func())
}

// Options configures a Module.
type Options struct {
	Objects    ObjectRegistry
	Classifier Classifier
	Portal     PortalBus

	// PortalTimeout bounds how long a consent dialog may stay unanswered.
	// Zero means no timer is armed.
	PortalTimeout time.Duration
}

// Module is the access-control core: it owns the policy table, the client
// map and the portal coordinator, and serializes all state behind one lock.
type Module struct {
	mu sync.Mutex

	policies      *PolicyTable
	defaultPolicy uint32
	portalPolicy  uint32

	clients map[uint32]*ClientRecord

	objects       ObjectRegistry
	classifier    Classifier
	portal        PortalBus
	portalTimeout time.Duration

	unregister []func()
	closed     bool
}

// New builds a module with the two well-known policies installed and sealed.
func New(opts Options) (*Module, error) {
	if opts.Objects == nil {
		return nil, fmt.Errorf("object registry is required")
	}

	table := NewPolicyTable()
	defaultPolicy, portalPolicy, err := BuildWellKnownPolicies(table)
	if err != nil {
		return nil, fmt.Errorf("build policies: %w", err)
	}
	table.Seal()

	ensureMetrics()

	m := &Module{
		policies:      table,
		defaultPolicy: defaultPolicy,
		portalPolicy:  portalPolicy,
		clients:       make(map[uint32]*ClientRecord),
		objects:       opts.Objects,
		classifier:    opts.Classifier,
		portal:        opts.Portal,
		portalTimeout: opts.PortalTimeout,
	}

	log.Info().
		Uint32("default_policy", defaultPolicy).
		Uint32("portal_policy", portalPolicy).
		Msg("Access module initialized")
	return m, nil
}

// Policies exposes the sealed policy table.
func (m *Module) Policies() *PolicyTable {
	return m.policies
}

// DefaultPolicy returns the index of the trusted-client policy.
func (m *Module) DefaultPolicy() uint32 {
	return m.defaultPolicy
}

// PortalPolicy returns the index of the sandboxed-client policy.
func (m *Module) PortalPolicy() uint32 {
	return m.portalPolicy
}

// Attach registers one handler per access hook kind and the four client
// lifecycle handlers with the host, all at early priority.
func (m *Module) Attach(reg HookRegistry) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for h := HookKind(0); h < HookMax; h++ {
		hook := h
		var fn func(Request) Verdict
		if hook == HookFilterSubscribeEvent {
			fn = m.FilterEvent
		} else {
			fn = m.CheckAccess
		}
		m.unregister = append(m.unregister, reg.RegisterAccess(hook, PriorityEarly, fn))
	}

	m.unregister = append(m.unregister,
		reg.RegisterClient(ClientPut, PriorityEarly, m.OnClientPut),
		reg.RegisterClient(ClientAuth, PriorityEarly, m.OnClientAuth),
		reg.RegisterClient(ClientProplistChanged, PriorityEarly, m.OnClientProplistChanged),
		reg.RegisterClient(ClientUnlink, PriorityEarly, func(ci ClientInfo) { m.OnClientUnlink(ci.Index) }),
	)

	log.Debug().Int("registrations", len(m.unregister)).Msg("Access hooks attached")
}

// Done tears the module down: hook registrations are removed in reverse
// order, pending dialogs are abandoned and timers disarmed.
func (m *Module) Done() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true

	for i := len(m.unregister) - 1; i >= 0; i-- {
		m.unregister[i]()
	}
	m.unregister = nil

	for index := range m.clients {
		m.unlinkLocked(index)
	}
	m.mu.Unlock()

	log.Info().Msg("Access module shut down")
}

// CheckAccess decides one non-filter hook request. Unknown clients are
// denied outright.
func (m *Module) CheckAccess(req Request) Verdict {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := m.checkAccessLocked(req)
	observeVerdict(req.Hook, v)
	return v
}

func (m *Module) checkAccessLocked(req Request) Verdict {
	rec, ok := m.clients[req.ClientIndex]
	if !ok {
		log.Debug().
			Uint32("client", req.ClientIndex).
			Str("hook", req.Hook.String()).
			Msg("Access request from unknown client denied")
		return VerdictStop
	}

	rule, err := m.policies.Rule(rec.PolicyIndex, req.Hook)
	if err != nil {
		log.Error().
			Err(err).
			Uint32("client", req.ClientIndex).
			Str("hook", req.Hook.String()).
			Msg("Policy lookup failed")
		return VerdictStop
	}

	return m.applyRule(rule, rec, req)
}

// applyRule dispatches the tagged rule variant in one place.
func (m *Module) applyRule(rule RuleKind, rec *ClientRecord, req Request) Verdict {
	switch rule {
	case RuleAllow:
		log.Debug().
			Uint32("client", req.ClientIndex).
			Str("hook", req.Hook.String()).
			Msg("Allowed")
		return VerdictOK
	case RuleBlock:
		log.Debug().
			Uint32("client", req.ClientIndex).
			Str("hook", req.Hook.String()).
			Msg("Blocked")
		return VerdictStop
	case RuleCheckOwner:
		return m.checkOwner(rec, req)
	case RuleCheckPortal:
		return m.checkPortal(rec, req)
	}

	log.Error().
		Uint32("client", req.ClientIndex).
		Str("hook", req.Hook.String()).
		Uint8("rule", uint8(rule)).
		Msg("Unknown rule, denying")
	return VerdictStop
}

// checkOwner authorizes the request only if the target object belongs to the
// requesting client. Objects without a recorded owner are denied.
func (m *Module) checkOwner(rec *ClientRecord, req Request) Verdict {
	var owner uint32
	var ok bool

	switch {
	case req.Hook == HookGetClientInfo || req.Hook == HookKillClient:
		owner, ok = req.ObjectIndex, true
	case sinkInputHook(req.Hook):
		owner, ok = m.objects.SinkInputOwner(req.ObjectIndex)
	case sourceOutputHook(req.Hook):
		owner, ok = m.objects.SourceOutputOwner(req.ObjectIndex)
	default:
		log.Debug().
			Uint32("client", req.ClientIndex).
			Str("hook", req.Hook.String()).
			Msg("Owner check on hook without owner semantics, denying")
		return VerdictStop
	}

	if !ok {
		log.Debug().
			Uint32("client", req.ClientIndex).
			Uint32("object", req.ObjectIndex).
			Str("hook", req.Hook.String()).
			Msg("Target object has no owner, denying")
		return VerdictStop
	}
	if owner != rec.Index {
		log.Debug().
			Uint32("client", req.ClientIndex).
			Uint32("object", req.ObjectIndex).
			Uint32("owner", owner).
			Str("hook", req.Hook.String()).
			Msg("Client does not own target, denying")
		return VerdictStop
	}
	return VerdictOK
}
