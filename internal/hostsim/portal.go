package hostsim

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// FakePortal answers consent dialogs in-process. In automatic mode it
// resolves every request after Delay with the configured grant; with
// AutoRespond off, tests drive Respond themselves.
type FakePortal struct {
	AutoRespond bool
	Grant       bool
	Delay       time.Duration

	mu       sync.Mutex
	waiters  map[string]func(code uint32)
	calls    []PortalCall
	failCall error
}

// PortalCall records one AccessDevice invocation.
type PortalCall struct {
	PID     uint32
	Devices []string
	Path    string
}

// NewFakePortal creates a portal that grants every request immediately.
func NewFakePortal() *FakePortal {
	return &FakePortal{
		AutoRespond: true,
		Grant:       true,
		waiters:     make(map[string]func(code uint32)),
	}
}

// FailNextCall makes the next AccessDevice call return err.
func (p *FakePortal) FailNextCall(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failCall = err
}

// AccessDevice simulates the portal method call and returns a fresh request
// object path.
func (p *FakePortal) AccessDevice(_ context.Context, pid uint32, devices []string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.failCall != nil {
		err := p.failCall
		p.failCall = nil
		return "", err
	}

	path := fmt.Sprintf("/org/freedesktop/portal/desktop/request/%s", uuid.New().String())
	p.calls = append(p.calls, PortalCall{PID: pid, Devices: append([]string(nil), devices...), Path: path})
	return path, nil
}

// SubscribeResponse registers the response callback for a request path and,
// in automatic mode, schedules the canned answer.
func (p *FakePortal) SubscribeResponse(requestPath string, fn func(code uint32)) (func(), error) {
	p.mu.Lock()
	p.waiters[requestPath] = fn
	auto, grant, delay := p.AutoRespond, p.Grant, p.Delay
	p.mu.Unlock()

	if auto {
		code := uint32(2)
		if grant {
			code = 0
		}
		go func() {
			if delay > 0 {
				time.Sleep(delay)
			}
			p.Respond(requestPath, code)
		}()
	}

	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.waiters, requestPath)
	}, nil
}

// Respond delivers a response code for a request path, if anyone is still
// waiting on it.
func (p *FakePortal) Respond(requestPath string, code uint32) {
	p.mu.Lock()
	fn := p.waiters[requestPath]
	delete(p.waiters, requestPath)
	p.mu.Unlock()

	if fn != nil {
		fn(code)
	}
}

// Calls returns the AccessDevice invocations seen so far.
func (p *FakePortal) Calls() []PortalCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]PortalCall(nil), p.calls...)
}

// Waiting reports whether a request path still has a subscribed waiter.
func (p *FakePortal) Waiting(requestPath string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.waiters[requestPath]
	return ok
}
