package access

import (
	"github.com/rs/zerolog/log"
)

// FilterEvent decides whether one subscription event may be delivered to a
// client. It guarantees the client never learns about an object it could not
// inspect via the matching info query, and that REMOVE events only arrive
// for objects the client already knows exist. A CHANGE for an object the
// client has not seen yet is handled like a NEW.
func (m *Module) FilterEvent(req Request) Verdict {
	m.mu.Lock()
	defer m.mu.Unlock()

	v := m.filterEventLocked(req)
	observeFilteredEvent(v)
	return v
}

func (m *Module) filterEventLocked(req Request) Verdict {
	rec, ok := m.clients[req.ClientIndex]
	if !ok {
		log.Debug().
			Uint32("client", req.ClientIndex).
			Msg("Event for unknown client blocked")
		return VerdictStop
	}

	facility, eventType := DecodeEvent(req.Event)
	key := SeenKey{Facility: facility, Object: req.ObjectIndex}

	switch eventType {
	case EventRemove:
		if _, seen := rec.seen[key]; !seen {
			return VerdictStop
		}
		delete(rec.seen, key)
		return VerdictOK

	case EventChange, EventNew:
		if eventType == EventChange {
			if _, seen := rec.seen[key]; seen {
				return VerdictOK
			}
		}

		// First sighting: the event is only admitted if the client could
		// have learned about the object through the matching info query.
		infoHook, ok := infoHookForFacility[facility]
		if !ok {
			log.Debug().
				Uint32("client", req.ClientIndex).
				Uint32("event", req.Event).
				Msg("Event with unknown facility blocked")
			return VerdictStop
		}

		probe := Request{
			Hook:        infoHook,
			ClientIndex: req.ClientIndex,
			ObjectIndex: req.ObjectIndex,
		}
		if v := m.checkAccessLocked(probe); v != VerdictOK {
			log.Debug().
				Uint32("client", req.ClientIndex).
				Uint32("object", req.ObjectIndex).
				Str("facility", facility.String()).
				Str("type", eventType.String()).
				Msg("Event for invisible object blocked")
			return VerdictStop
		}

		rec.seen[key] = struct{}{}
		return VerdictOK
	}

	log.Debug().
		Uint32("client", req.ClientIndex).
		Uint32("event", req.Event).
		Msg("Event with unknown type blocked")
	return VerdictStop
}
