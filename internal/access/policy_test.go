package access

import "testing"

func TestPolicyTableCreateAndLookup(t *testing.T) {
	table := NewPolicyTable()

	idx, err := table.Create(RuleBlock)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	for h := HookKind(0); h < HookMax; h++ {
		rule, err := table.Rule(idx, h)
		if err != nil {
			t.Fatalf("Rule(%s) error = %v", h, err)
		}
		if rule != RuleBlock {
			t.Fatalf("Rule(%s) = %v, want block", h, rule)
		}
	}

	if err := table.SetRule(idx, HookStat, RuleAllow); err != nil {
		t.Fatalf("SetRule() error = %v", err)
	}
	rule, _ := table.Rule(idx, HookStat)
	if rule != RuleAllow {
		t.Fatalf("Rule(stat) = %v after SetRule, want allow", rule)
	}
}

func TestPolicyTableValidation(t *testing.T) {
	table := NewPolicyTable()
	idx, _ := table.Create(RuleAllow)

	if err := table.SetRule(idx+1, HookStat, RuleAllow); err == nil {
		t.Fatal("SetRule() on missing policy succeeded")
	}
	if err := table.SetRule(idx, HookMax, RuleAllow); err == nil {
		t.Fatal("SetRule() on out-of-range hook succeeded")
	}
	if _, err := table.Rule(idx+1, HookStat); err == nil {
		t.Fatal("Rule() on missing policy succeeded")
	}
	if _, err := table.Rule(idx, HookKind(-1)); err == nil {
		t.Fatal("Rule() on negative hook succeeded")
	}
}

func TestPolicyTableSealFreezes(t *testing.T) {
	table := NewPolicyTable()
	idx, _ := table.Create(RuleAllow)
	table.Seal()

	if _, err := table.Create(RuleAllow); err == nil {
		t.Fatal("Create() after seal succeeded")
	}
	if err := table.SetRule(idx, HookStat, RuleBlock); err == nil {
		t.Fatal("SetRule() after seal succeeded")
	}
	if _, err := table.Rule(idx, HookStat); err != nil {
		t.Fatalf("Rule() after seal error = %v", err)
	}
}

func TestWellKnownPoliciesDifferOnlyInDeviceHooks(t *testing.T) {
	table := NewPolicyTable()
	defaultPolicy, portalPolicy, err := BuildWellKnownPolicies(table)
	if err != nil {
		t.Fatalf("BuildWellKnownPolicies() error = %v", err)
	}

	diff := map[HookKind]bool{}
	for h := HookKind(0); h < HookMax; h++ {
		dr, _ := table.Rule(defaultPolicy, h)
		pr, _ := table.Rule(portalPolicy, h)
		if dr != pr {
			diff[h] = true
			if pr != RuleCheckPortal {
				t.Fatalf("portal policy rule for %s = %v, want check_portal", h, pr)
			}
			if dr != RuleAllow {
				t.Fatalf("default policy rule for %s = %v, want allow", h, dr)
			}
		}
	}

	want := []HookKind{HookPlaySample, HookConnectPlayback, HookConnectRecord}
	if len(diff) != len(want) {
		t.Fatalf("policies differ on %d hooks, want %d: %v", len(diff), len(want), diff)
	}
	for _, h := range want {
		if !diff[h] {
			t.Fatalf("policies agree on %s, want portal divergence", h)
		}
	}
}

func TestWellKnownPolicyRules(t *testing.T) {
	table := NewPolicyTable()
	defaultPolicy, _, err := BuildWellKnownPolicies(table)
	if err != nil {
		t.Fatalf("BuildWellKnownPolicies() error = %v", err)
	}

	cases := []struct {
		hook HookKind
		want RuleKind
	}{
		{HookGetSinkInfo, RuleAllow},
		{HookGetSourceInfo, RuleAllow},
		{HookGetServerInfo, RuleAllow},
		{HookStat, RuleAllow},
		{HookPlaySample, RuleAllow},
		{HookGetClientInfo, RuleCheckOwner},
		{HookKillClient, RuleCheckOwner},
		{HookGetSinkInputInfo, RuleCheckOwner},
		{HookSetSinkInputVolume, RuleCheckOwner},
		{HookKillSinkInput, RuleCheckOwner},
		{HookGetSourceOutputInfo, RuleCheckOwner},
		{HookSetSourceOutputMute, RuleCheckOwner},
	}
	for _, tc := range cases {
		rule, err := table.Rule(defaultPolicy, tc.hook)
		if err != nil {
			t.Fatalf("Rule(%s) error = %v", tc.hook, err)
		}
		if rule != tc.want {
			t.Fatalf("default rule for %s = %v, want %v", tc.hook, rule, tc.want)
		}
	}
}

func TestHookKindStrings(t *testing.T) {
	seen := map[string]bool{}
	for h := HookKind(0); h < HookMax; h++ {
		s := h.String()
		if s == "unknown" {
			t.Fatalf("hook %d has no name", int(h))
		}
		if seen[s] {
			t.Fatalf("duplicate hook name %q", s)
		}
		seen[s] = true
	}
	if HookMax.String() != "unknown" {
		t.Fatalf("HookMax.String() = %q, want unknown", HookMax.String())
	}
}
