package dispatcher

import "github.com/gridkv/grid-go-client/internal/wire"

// MapEvent is the raw, still-encoded form of a server change notification;
// NamedMap decodes Key/OldValue/NewValue with its codec before handing an
// application-facing event to a listener (spec §3 "MapEvent").
type MapEvent struct {
	Kind      wire.MapEventKind
	Key       []byte
	OldValue  []byte
	NewValue  []byte
	FilterIDs []uint64
}

// Listener receives fan-out notifications for one registration. Identity is
// the Listener value itself (handle/pointer identity — spec §9 Design Notes),
// never deep equality.
type Listener interface {
	EntryInserted(MapEvent)
	EntryUpdated(MapEvent)
	EntryDeleted(MapEvent)
}

func dispatchToListener(l Listener, ev MapEvent) {
	switch ev.Kind {
	case wire.MapEventInserted:
		l.EntryInserted(ev)
	case wire.MapEventUpdated:
		l.EntryUpdated(ev)
	case wire.MapEventDeleted:
		l.EntryDeleted(ev)
	}
}
