package access

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// PortalBus is the transport to the desktop portal. AccessDevice performs
// the consent method call and returns the request object path; a Response
// signal on that path later carries the user's decision (0 = granted).
// Implementations must deliver fn from their own dispatch context, never
// synchronously from inside SubscribeResponse.
type PortalBus interface {
	AccessDevice(ctx context.Context, pid uint32, devices []string) (requestPath string, err error)
	SubscribeResponse(requestPath string, fn func(code uint32)) (cancel func(), err error)
}

// deviceForHook maps a hook to the portal device tag it asks consent for.
func deviceForHook(h HookKind) (string, bool) {
	switch h {
	case HookConnectRecord:
		return "microphone", true
	case HookConnectPlayback, HookPlaySample:
		return "speakers", true
	}
	return "", false
}

// checkPortal resolves a consent-gated hook: cached decisions answer
// immediately, otherwise a dialog is opened and the verdict is deferred.
func (m *Module) checkPortal(rec *ClientRecord, req Request) Verdict {
	if d := rec.decisions[req.Hook]; d.checked {
		log.Debug().
			Uint32("client", req.ClientIndex).
			Str("hook", req.Hook.String()).
			Bool("granted", d.granted).
			Msg("Portal decision served from cache")
		if d.granted {
			return VerdictOK
		}
		return VerdictStop
	}

	device, ok := deviceForHook(req.Hook)
	if !ok {
		log.Error().
			Uint32("client", req.ClientIndex).
			Str("hook", req.Hook.String()).
			Msg("Portal rule bound to hook without device mapping, denying")
		return VerdictStop
	}

	if m.portal == nil {
		log.Warn().
			Uint32("client", req.ClientIndex).
			Str("hook", req.Hook.String()).
			Msg("No portal configured, denying")
		return VerdictStop
	}
	if req.Finish == nil {
		log.Debug().
			Uint32("client", req.ClientIndex).
			Str("hook", req.Hook.String()).
			Msg("Consent required but request cannot complete asynchronously, denying")
		return VerdictStop
	}
	if rec.pending != nil {
		log.Warn().
			Uint32("client", req.ClientIndex).
			Str("hook", req.Hook.String()).
			Str("pending_hook", rec.pending.hook.String()).
			Msg("Portal dialog already in flight for client, denying")
		return VerdictStop
	}

	flight := &inflightPortal{
		hook:   req.Hook,
		finish: req.Finish,
	}
	rec.pending = flight
	metricPortalPending.Inc()

	if m.portalTimeout > 0 {
		index := rec.Index
		rec.timer = time.AfterFunc(m.portalTimeout, func() {
			m.onPortalTimeout(index, flight)
		})
	}

	go m.issueDialog(rec.Index, uint32(rec.PID), device, flight)

	log.Info().
		Uint32("client", req.ClientIndex).
		Str("hook", req.Hook.String()).
		Str("device", device).
		Msg("Deferring to portal for consent")
	return VerdictCancel
}

// issueDialog runs the portal round-trip off the hot path so the host's
// main loop never stalls on the bus.
func (m *Module) issueDialog(client uint32, pid uint32, device string, flight *inflightPortal) {
	path, err := m.portal.AccessDevice(context.Background(), pid, []string{device})
	if err != nil {
		log.Warn().
			Err(err).
			Uint32("client", client).
			Str("device", device).
			Msg("Portal call failed, denying")
		m.finishDialog(client, flight, dialogError, false)
		return
	}

	m.mu.Lock()
	rec, ok := m.clients[client]
	if !ok || rec.pending != flight {
		// Client unlinked or dialog resolved while we were on the bus.
		m.mu.Unlock()
		return
	}

	// The subscription is registered under the lock so an unlink can never
	// slip between it and the cancel capability being recorded.
	cancel, err := m.portal.SubscribeResponse(path, func(code uint32) {
		m.onPortalResponse(client, flight, code)
	})
	if err != nil {
		m.clearDialogLocked(rec)
		m.mu.Unlock()
		observePortalDialog(dialogError)
		log.Warn().
			Err(err).
			Uint32("client", client).
			Str("path", path).
			Msg("Portal signal subscription failed, denying")
		flight.finish(false)
		return
	}
	flight.requestPath = path
	flight.cancelSignal = cancel
	m.mu.Unlock()

	log.Debug().
		Uint32("client", client).
		Str("path", path).
		Msg("Awaiting portal response")
}

// dialogOutcome labels how a dialog ended, for metrics.
type dialogOutcome string

const (
	dialogGranted dialogOutcome = "granted"
	dialogDenied  dialogOutcome = "denied"
	dialogTimeout dialogOutcome = "timeout"
	dialogError   dialogOutcome = "error"
)

// onPortalResponse handles the Response signal for a dialog. The outcome is
// cached per (client, hook); the cache is only dropped on unlink.
func (m *Module) onPortalResponse(client uint32, flight *inflightPortal, code uint32) {
	granted := code == 0

	m.mu.Lock()
	rec, ok := m.clients[client]
	if !ok || rec.pending != flight {
		m.mu.Unlock()
		return
	}
	rec.decisions[flight.hook] = decision{checked: true, granted: granted}
	m.clearDialogLocked(rec)
	m.mu.Unlock()

	outcome := dialogDenied
	if granted {
		outcome = dialogGranted
	}
	observePortalDialog(outcome)

	log.Info().
		Uint32("client", client).
		Str("hook", flight.hook.String()).
		Uint32("code", code).
		Bool("granted", granted).
		Msg("Portal responded")

	if flight.cancelSignal != nil {
		flight.cancelSignal()
	}
	flight.finish(granted)
}

// onPortalTimeout fires when a dialog stays unanswered too long. The stale
// dialog resolves as granted; the result is deliberately not cached.
func (m *Module) onPortalTimeout(client uint32, flight *inflightPortal) {
	m.mu.Lock()
	rec, ok := m.clients[client]
	if !ok || rec.pending != flight {
		m.mu.Unlock()
		return
	}
	m.clearDialogLocked(rec)
	m.mu.Unlock()

	observePortalDialog(dialogTimeout)
	log.Warn().
		Uint32("client", client).
		Str("hook", flight.hook.String()).
		Msg("Portal dialog timed out, treating as granted")

	if flight.cancelSignal != nil {
		flight.cancelSignal()
	}
	flight.finish(true)
}

// finishDialog resolves a dialog that failed on the transport. The cache is
// left untouched so a later attempt can ask again.
func (m *Module) finishDialog(client uint32, flight *inflightPortal, outcome dialogOutcome, granted bool) {
	m.mu.Lock()
	rec, ok := m.clients[client]
	if !ok || rec.pending != flight {
		m.mu.Unlock()
		return
	}
	m.clearDialogLocked(rec)
	m.mu.Unlock()

	observePortalDialog(outcome)
	flight.finish(granted)
}

func (m *Module) clearDialogLocked(rec *ClientRecord) {
	rec.pending = nil
	if rec.timer != nil {
		rec.timer.Stop()
		rec.timer = nil
	}
	metricPortalPending.Dec()
}
