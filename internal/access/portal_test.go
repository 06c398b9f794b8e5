package access

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

type fakePortalCall struct {
	pid     uint32
	devices []string
	path    string
}

type fakePortal struct {
	mu            sync.Mutex
	waiters       map[string]func(code uint32)
	calls         []fakePortalCall
	failCall      error
	failSubscribe error
	subscribed    chan string
}

func newFakePortal() *fakePortal {
	return &fakePortal{
		waiters:    make(map[string]func(code uint32)),
		subscribed: make(chan string, 8),
	}
}

func (p *fakePortal) AccessDevice(_ context.Context, pid uint32, devices []string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.failCall != nil {
		err := p.failCall
		p.failCall = nil
		return "", err
	}

	path := fmt.Sprintf("/org/freedesktop/portal/desktop/request/t%d", len(p.calls)+1)
	p.calls = append(p.calls, fakePortalCall{pid: pid, devices: append([]string(nil), devices...), path: path})
	return path, nil
}

func (p *fakePortal) SubscribeResponse(requestPath string, fn func(code uint32)) (func(), error) {
	p.mu.Lock()
	if p.failSubscribe != nil {
		err := p.failSubscribe
		p.failSubscribe = nil
		p.mu.Unlock()
		return nil, err
	}
	p.waiters[requestPath] = fn
	p.mu.Unlock()

	p.subscribed <- requestPath

	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.waiters, requestPath)
	}, nil
}

func (p *fakePortal) respond(path string, code uint32) {
	p.mu.Lock()
	fn := p.waiters[path]
	p.mu.Unlock()
	if fn != nil {
		fn(code)
	}
}

func (p *fakePortal) waiting(path string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.waiters[path]
	return ok
}

func (p *fakePortal) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

func (p *fakePortal) lastCall(t *testing.T) fakePortalCall {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.calls) == 0 {
		t.Fatal("no portal calls recorded")
	}
	return p.calls[len(p.calls)-1]
}

func newCompleter() (AsyncCompleter, chan bool) {
	ch := make(chan bool, 1)
	return func(granted bool) { ch <- granted }, ch
}

func awaitSubscribed(t *testing.T, p *fakePortal) string {
	t.Helper()
	select {
	case path := <-p.subscribed:
		return path
	case <-time.After(2 * time.Second):
		t.Fatal("portal dialog never subscribed")
		return ""
	}
}

func awaitFinish(t *testing.T, ch chan bool) bool {
	t.Helper()
	select {
	case granted := <-ch:
		return granted
	case <-time.After(2 * time.Second):
		t.Fatal("async completer never invoked")
		return false
	}
}

func TestPortalFirstPlaybackConsent(t *testing.T) {
	env := newTestEnv(t)
	env.putSandboxed(11, 7777)

	finish, done := newCompleter()
	v := env.module.CheckAccess(Request{Hook: HookConnectPlayback, ClientIndex: 11, Finish: finish})
	if v != VerdictCancel {
		t.Fatalf("first connect_playback = %v, want cancel", v)
	}

	path := awaitSubscribed(t, env.portal)
	call := env.portal.lastCall(t)
	if call.pid != 7777 {
		t.Fatalf("portal call pid = %d, want 7777", call.pid)
	}
	if len(call.devices) != 1 || call.devices[0] != "speakers" {
		t.Fatalf("portal call devices = %v, want [speakers]", call.devices)
	}

	env.portal.respond(path, 0)
	if granted := awaitFinish(t, done); !granted {
		t.Fatal("completer reported denied, want granted")
	}

	// Cache hit: second request resolves synchronously without bus traffic.
	calls := env.portal.callCount()
	if v := env.module.CheckAccess(Request{Hook: HookConnectPlayback, ClientIndex: 11}); v != VerdictOK {
		t.Fatalf("cached connect_playback = %v, want ok", v)
	}
	if env.portal.callCount() != calls {
		t.Fatal("cached decision issued a new portal call")
	}
}

func TestPortalDenialCached(t *testing.T) {
	env := newTestEnv(t)
	env.putSandboxed(11, 7777)

	finish, done := newCompleter()
	if v := env.module.CheckAccess(Request{Hook: HookConnectPlayback, ClientIndex: 11, Finish: finish}); v != VerdictCancel {
		t.Fatal("expected cancel on first request")
	}

	path := awaitSubscribed(t, env.portal)
	env.portal.respond(path, 2)
	if granted := awaitFinish(t, done); granted {
		t.Fatal("completer reported granted, want denied")
	}

	calls := env.portal.callCount()
	if v := env.module.CheckAccess(Request{Hook: HookConnectPlayback, ClientIndex: 11}); v != VerdictStop {
		t.Fatal("expected stop after cached denial")
	}
	if env.portal.callCount() != calls {
		t.Fatal("cached denial issued a new portal call")
	}
}

func TestPortalRecordAsksForMicrophone(t *testing.T) {
	env := newTestEnv(t)
	env.putSandboxed(12, 8888)

	finish, _ := newCompleter()
	if v := env.module.CheckAccess(Request{Hook: HookConnectRecord, ClientIndex: 12, Finish: finish}); v != VerdictCancel {
		t.Fatal("expected cancel on connect_record")
	}

	awaitSubscribed(t, env.portal)
	call := env.portal.lastCall(t)
	if len(call.devices) != 1 || call.devices[0] != "microphone" {
		t.Fatalf("portal call devices = %v, want [microphone]", call.devices)
	}
}

func TestPortalRuleWithoutDeviceMappingDenied(t *testing.T) {
	env := newTestEnv(t)
	env.putSandboxed(13, 9999)

	finish, _ := newCompleter()
	env.module.mu.Lock()
	rec := env.module.clients[13]
	v := env.module.applyRule(RuleCheckPortal, rec, Request{Hook: HookStat, ClientIndex: 13, Finish: finish})
	env.module.mu.Unlock()
	if v != VerdictStop {
		t.Fatalf("check_portal without device mapping = %v, want stop", v)
	}
	if env.portal.callCount() != 0 {
		t.Fatal("misconfigured rule still issued a portal call")
	}
}

func TestPortalTransportErrorDoesNotPoisonCache(t *testing.T) {
	env := newTestEnv(t)
	env.putSandboxed(11, 7777)

	env.portal.mu.Lock()
	env.portal.failCall = fmt.Errorf("bus gone")
	env.portal.mu.Unlock()

	finish, done := newCompleter()
	if v := env.module.CheckAccess(Request{Hook: HookConnectPlayback, ClientIndex: 11, Finish: finish}); v != VerdictCancel {
		t.Fatal("expected cancel before transport failure surfaced")
	}
	if granted := awaitFinish(t, done); granted {
		t.Fatal("transport failure resolved as granted")
	}

	// The failure is not cached: the next attempt opens a fresh dialog.
	finish2, _ := newCompleter()
	if v := env.module.CheckAccess(Request{Hook: HookConnectPlayback, ClientIndex: 11, Finish: finish2}); v != VerdictCancel {
		t.Fatal("expected a fresh dialog after transport failure")
	}
	awaitSubscribed(t, env.portal)
	if env.portal.callCount() != 1 {
		t.Fatalf("portal calls = %d, want 1 successful", env.portal.callCount())
	}
}

func TestPortalSubscribeErrorDenies(t *testing.T) {
	env := newTestEnv(t)
	env.putSandboxed(11, 7777)

	env.portal.mu.Lock()
	env.portal.failSubscribe = fmt.Errorf("match rejected")
	env.portal.mu.Unlock()

	finish, done := newCompleter()
	if v := env.module.CheckAccess(Request{Hook: HookConnectPlayback, ClientIndex: 11, Finish: finish}); v != VerdictCancel {
		t.Fatal("expected cancel before subscription failure surfaced")
	}
	if granted := awaitFinish(t, done); granted {
		t.Fatal("subscription failure resolved as granted")
	}

	rec, _ := env.module.Lookup(11)
	if rec.decisions[HookConnectPlayback].checked {
		t.Fatal("subscription failure poisoned the cache")
	}
}

func TestPortalTimeoutResolvesGranted(t *testing.T) {
	env := newTestEnvTimeout(t, 20*time.Millisecond)
	env.putSandboxed(11, 7777)

	finish, done := newCompleter()
	if v := env.module.CheckAccess(Request{Hook: HookConnectPlayback, ClientIndex: 11, Finish: finish}); v != VerdictCancel {
		t.Fatal("expected cancel")
	}
	awaitSubscribed(t, env.portal)

	// The portal never answers; the timer resolves the dialog as granted.
	if granted := awaitFinish(t, done); !granted {
		t.Fatal("timeout resolved as denied, want granted")
	}

	rec, _ := env.module.Lookup(11)
	if rec.decisions[HookConnectPlayback].checked {
		t.Fatal("timeout outcome was cached")
	}
}

func TestPortalUnlinkWhilePendingAbandonsDialog(t *testing.T) {
	env := newTestEnv(t)
	env.putSandboxed(11, 7777)

	finish, done := newCompleter()
	if v := env.module.CheckAccess(Request{Hook: HookConnectPlayback, ClientIndex: 11, Finish: finish}); v != VerdictCancel {
		t.Fatal("expected cancel")
	}
	path := awaitSubscribed(t, env.portal)

	env.module.OnClientUnlink(11)
	if env.portal.waiting(path) {
		t.Fatal("signal subscription survived unlink")
	}

	// A late response must not reach the abandoned completer.
	env.portal.respond(path, 0)
	select {
	case <-done:
		t.Fatal("completer invoked after unlink")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestPortalSecondRequestWhilePendingDenied(t *testing.T) {
	env := newTestEnv(t)
	env.putSandboxed(11, 7777)

	finish, _ := newCompleter()
	if v := env.module.CheckAccess(Request{Hook: HookConnectPlayback, ClientIndex: 11, Finish: finish}); v != VerdictCancel {
		t.Fatal("expected cancel")
	}
	awaitSubscribed(t, env.portal)

	finish2, _ := newCompleter()
	if v := env.module.CheckAccess(Request{Hook: HookConnectRecord, ClientIndex: 11, Finish: finish2}); v != VerdictStop {
		t.Fatalf("second request while pending = %v, want stop", v)
	}
	if env.portal.callCount() != 1 {
		t.Fatalf("portal calls = %d, want 1", env.portal.callCount())
	}
}

func TestPortalCacheIsPerClient(t *testing.T) {
	env := newTestEnv(t)
	env.putSandboxed(11, 7777)
	env.putSandboxed(21, 7778)

	finish, done := newCompleter()
	if v := env.module.CheckAccess(Request{Hook: HookConnectPlayback, ClientIndex: 11, Finish: finish}); v != VerdictCancel {
		t.Fatal("expected cancel")
	}
	env.portal.respond(awaitSubscribed(t, env.portal), 0)
	awaitFinish(t, done)

	// The grant for client 11 must not leak to client 21.
	finish2, _ := newCompleter()
	if v := env.module.CheckAccess(Request{Hook: HookConnectPlayback, ClientIndex: 21, Finish: finish2}); v != VerdictCancel {
		t.Fatalf("other client rode the cache, verdict = %v, want cancel", v)
	}
}

func TestPortalRequestWithoutCompleterDenied(t *testing.T) {
	env := newTestEnv(t)
	env.putSandboxed(11, 7777)

	if v := env.module.CheckAccess(Request{Hook: HookConnectPlayback, ClientIndex: 11}); v != VerdictStop {
		t.Fatal("consent-gated request without completer should be denied")
	}
	if env.portal.callCount() != 0 {
		t.Fatal("dialog issued for request that cannot complete")
	}
}
