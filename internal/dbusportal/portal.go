// Package dbusportal talks to the desktop portal over the session bus. It is
// the production implementation of the access core's PortalBus.
package dbusportal

import (
	"context"
	"fmt"
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/rs/zerolog/log"
)

const (
	portalDestination = "org.freedesktop.portal.Desktop"
	portalObjectPath  = "/org/freedesktop/portal/desktop"
	accessDeviceCall  = "org.freedesktop.portal.Device.AccessDevice"

	requestInterface = "org.freedesktop.portal.Request"
	responseMember   = "Response"
	responseSignal   = requestInterface + "." + responseMember
)

// Portal issues AccessDevice calls and routes Response signals back to their
// waiters by request object path.
type Portal struct {
	conn    *dbus.Conn
	ownConn bool

	signals chan *dbus.Signal

	mu      sync.Mutex
	waiters map[dbus.ObjectPath]func(code uint32)
	closed  bool
}

// New connects to the session bus.
func New() (*Portal, error) {
	conn, err := dbus.SessionBus()
	if err != nil {
		return nil, fmt.Errorf("connect session bus: %w", err)
	}
	p := NewWithConn(conn)
	p.ownConn = true
	return p, nil
}

// NewWithConn wraps an existing bus connection. The caller keeps ownership
// of the connection.
func NewWithConn(conn *dbus.Conn) *Portal {
	p := &Portal{
		conn:    conn,
		signals: make(chan *dbus.Signal, 16),
		waiters: make(map[dbus.ObjectPath]func(code uint32)),
	}
	conn.Signal(p.signals)
	go p.dispatch()
	return p
}

// AccessDevice asks the portal for consent to use the named devices on
// behalf of pid. The reply names the request object the portal will answer
// on.
func (p *Portal) AccessDevice(ctx context.Context, pid uint32, devices []string) (string, error) {
	obj := p.conn.Object(portalDestination, dbus.ObjectPath(portalObjectPath))
	options := map[string]dbus.Variant{}

	var path dbus.ObjectPath
	call := obj.CallWithContext(ctx, accessDeviceCall, 0, pid, devices, options)
	if err := call.Store(&path); err != nil {
		return "", fmt.Errorf("AccessDevice(%v) for pid %d: %w", devices, pid, err)
	}
	return string(path), nil
}

// SubscribeResponse registers fn for the Response signal on the given
// request path. The returned cancel removes the match and the waiter.
func (p *Portal) SubscribeResponse(requestPath string, fn func(code uint32)) (func(), error) {
	path := dbus.ObjectPath(requestPath)
	matchOpts := []dbus.MatchOption{
		dbus.WithMatchInterface(requestInterface),
		dbus.WithMatchMember(responseMember),
		dbus.WithMatchObjectPath(path),
	}
	if err := p.conn.AddMatchSignal(matchOpts...); err != nil {
		return nil, fmt.Errorf("add signal match for %s: %w", requestPath, err)
	}

	p.mu.Lock()
	p.waiters[path] = fn
	p.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.waiters, path)
			p.mu.Unlock()
			if err := p.conn.RemoveMatchSignal(matchOpts...); err != nil {
				log.Debug().Err(err).Str("path", requestPath).Msg("Failed to remove signal match")
			}
		})
	}
	return cancel, nil
}

// dispatch delivers Response signals to their waiters.
func (p *Portal) dispatch() {
	for sig := range p.signals {
		if sig.Name != responseSignal {
			continue
		}

		p.mu.Lock()
		fn := p.waiters[sig.Path]
		p.mu.Unlock()
		if fn == nil {
			continue
		}

		code, ok := responseCode(sig.Body)
		if !ok {
			log.Warn().
				Str("path", string(sig.Path)).
				Msg("Malformed portal response signal ignored")
			continue
		}
		fn(code)
	}
}

// responseCode extracts the uint32 response argument from a Response signal
// body.
func responseCode(body []interface{}) (uint32, bool) {
	if len(body) == 0 {
		return 0, false
	}
	code, ok := body[0].(uint32)
	return code, ok
}

// Close detaches from the bus. The connection itself is only closed if this
// Portal opened it.
func (p *Portal) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.waiters = map[dbus.ObjectPath]func(code uint32){}
	p.mu.Unlock()

	p.conn.RemoveSignal(p.signals)
	close(p.signals)
	if p.ownConn {
		if err := p.conn.Close(); err != nil {
			log.Debug().Err(err).Msg("Failed to close session bus connection")
		}
	}
}
