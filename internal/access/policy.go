package access

import (
	"fmt"
	"sync"
)

// RuleKind names one of the built-in rules a policy can bind to a hook.
// Rules are values dispatched in one place, not callbacks.
type RuleKind uint8

const (
	// RuleAllow permits unconditionally.
	RuleAllow RuleKind = iota
	// RuleBlock denies unconditionally.
	RuleBlock
	// RuleCheckOwner permits only if the requesting client owns the target.
	RuleCheckOwner
	// RuleCheckPortal defers to the desktop portal for user consent.
	RuleCheckPortal
)

// String returns the string representation of the rule kind
func (r RuleKind) String() string {
	switch r {
	case RuleAllow:
		return "allow"
	case RuleBlock:
		return "block"
	case RuleCheckOwner:
		return "check_owner"
	case RuleCheckPortal:
		return "check_portal"
	}
	return "unknown"
}

// Policy binds every hook kind to a rule. Policies are built during module
// initialization and frozen before the first hook fires.
type Policy struct {
	index uint32
	rules [HookMax]RuleKind
}

// Index returns the policy's stable identifier.
func (p *Policy) Index() uint32 {
	return p.index
}

// PolicyTable holds all policies created at init. Lookups are constant-time;
// after Seal the table is read-only and safe to share without locking.
type PolicyTable struct {
	mu       sync.Mutex
	policies []*Policy
	sealed   bool
}

// NewPolicyTable creates an empty policy table.
func NewPolicyTable() *PolicyTable {
	return &PolicyTable{}
}

// Create adds a policy with every hook bound to defaultRule and returns its
// index.
func (t *PolicyTable) Create(defaultRule RuleKind) (uint32, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.sealed {
		return 0, fmt.Errorf("policy table is sealed")
	}

	p := &Policy{index: uint32(len(t.policies))}
	for h := HookKind(0); h < HookMax; h++ {
		p.rules[h] = defaultRule
	}
	t.policies = append(t.policies, p)
	return p.index, nil
}

// SetRule rebinds one hook of one policy. Only valid before Seal.
func (t *PolicyTable) SetRule(policy uint32, hook HookKind, rule RuleKind) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.sealed {
		return fmt.Errorf("policy table is sealed")
	}
	if int(policy) >= len(t.policies) {
		return fmt.Errorf("no such policy %d", policy)
	}
	if !hook.Valid() {
		return fmt.Errorf("no such hook %d", int(hook))
	}

	t.policies[policy].rules[hook] = rule
	return nil
}

// Rule returns the rule a policy binds to a hook.
func (t *PolicyTable) Rule(policy uint32, hook HookKind) (RuleKind, error) {
	if int(policy) >= len(t.policies) {
		return RuleBlock, fmt.Errorf("no such policy %d", policy)
	}
	if !hook.Valid() {
		return RuleBlock, fmt.Errorf("no such hook %d", int(hook))
	}
	return t.policies[policy].rules[hook], nil
}

// Seal freezes the table. Further Create or SetRule calls fail.
func (t *PolicyTable) Seal() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sealed = true
}

// ownerCheckedHooks lists the hooks whose targets belong to a specific
// client; both well-known policies gate these on ownership.
var ownerCheckedHooks = []HookKind{
	HookGetClientInfo,
	HookKillClient,
	HookGetSinkInputInfo,
	HookMoveSinkInput,
	HookSetSinkInputVolume,
	HookSetSinkInputMute,
	HookKillSinkInput,
	HookGetSourceOutputInfo,
	HookMoveSourceOutput,
	HookSetSourceOutputVolume,
	HookSetSourceOutputMute,
	HookKillSourceOutput,
}

// portalCheckedHooks lists the hooks the portal policy routes through the
// consent dialog instead of allowing outright.
var portalCheckedHooks = []HookKind{
	HookPlaySample,
	HookConnectPlayback,
	HookConnectRecord,
}

// BuildWellKnownPolicies creates the two policies every deployment carries:
// a default policy for trusted local clients and a portal policy for
// sandboxed ones. The tables differ only in the three device hooks the
// portal policy routes through user consent.
func BuildWellKnownPolicies(t *PolicyTable) (defaultPolicy, portalPolicy uint32, err error) {
	defaultPolicy, err = t.Create(RuleAllow)
	if err != nil {
		return 0, 0, fmt.Errorf("create default policy: %w", err)
	}
	for _, h := range ownerCheckedHooks {
		if err := t.SetRule(defaultPolicy, h, RuleCheckOwner); err != nil {
			return 0, 0, fmt.Errorf("default policy rule %s: %w", h, err)
		}
	}

	portalPolicy, err = t.Create(RuleAllow)
	if err != nil {
		return 0, 0, fmt.Errorf("create portal policy: %w", err)
	}
	for _, h := range ownerCheckedHooks {
		if err := t.SetRule(portalPolicy, h, RuleCheckOwner); err != nil {
			return 0, 0, fmt.Errorf("portal policy rule %s: %w", h, err)
		}
	}
	for _, h := range portalCheckedHooks {
		if err := t.SetRule(portalPolicy, h, RuleCheckPortal); err != nil {
			return 0, 0, fmt.Errorf("portal policy rule %s: %w", h, err)
		}
	}

	return defaultPolicy, portalPolicy, nil
}
