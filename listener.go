package grid

import (
	"github.com/gridkv/grid-go-client/internal/codec"
	"github.com/gridkv/grid-go-client/internal/dispatcher"
)

// Event is the application-facing change notification delivered to a
// MapListener (spec §3 "MapEvent", decoded form).
type Event struct {
	Key      interface{}
	OldValue interface{}
	NewValue interface{}
}

// listenerOptions carries the optional extras to AddMapListener beyond the
// spec's required (listener, target, lite) triple.
type listenerOptions struct {
	prime bool
}

// ListenerOption configures an AddMapListener call.
type ListenerOption func(*listenerOptions)

// WithPriming requests a synthetic insert event for every entry already
// matching the registration (a key's current value, or every entry matching
// a filter) once the server acknowledges the subscription (spec §6 "priming
// flag"). Useful for warming a near cache from a fresh listener registration
// instead of a separate keySet/entrySet call.
func WithPriming() ListenerOption {
	return func(o *listenerOptions) { o.prime = true }
}

// MapListener receives decoded change notifications for one registration.
// Equality/identity for registration purposes is the MapListener value
// itself (spec §9 "listener identity" — handle identity, never deep
// equality), so applications should register a single shared instance if
// they intend to remove it later.
type MapListener interface {
	EntryInserted(Event)
	EntryUpdated(Event)
	EntryDeleted(Event)
}

// listenerAdapter decodes a dispatcher.MapEvent's raw bytes with the owning
// NamedMap's codec before invoking the application's MapListener. It
// implements dispatcher.Listener; its own identity (the *listenerAdapter
// pointer) is NOT what callers compare against — NamedMap keeps a
// MapListener->*listenerAdapter table so repeated registration/removal of
// the same MapListener resolves to the same adapter.
type listenerAdapter struct {
	codec codec.Codec
	inner MapListener
}

func newListenerAdapter(c codec.Codec, inner MapListener) *listenerAdapter {
	return &listenerAdapter{codec: c, inner: inner}
}

func (a *listenerAdapter) decode(ev dispatcher.MapEvent) Event {
	out := Event{}
	if len(ev.Key) > 0 {
		var k interface{}
		_ = a.codec.Decode(ev.Key, &k)
		out.Key = k
	}
	if len(ev.OldValue) > 0 {
		var v interface{}
		_ = a.codec.Decode(ev.OldValue, &v)
		out.OldValue = v
	}
	if len(ev.NewValue) > 0 {
		var v interface{}
		_ = a.codec.Decode(ev.NewValue, &v)
		out.NewValue = v
	}
	return out
}

func (a *listenerAdapter) EntryInserted(ev dispatcher.MapEvent) { a.inner.EntryInserted(a.decode(ev)) }
func (a *listenerAdapter) EntryUpdated(ev dispatcher.MapEvent)  { a.inner.EntryUpdated(a.decode(ev)) }
func (a *listenerAdapter) EntryDeleted(ev dispatcher.MapEvent)  { a.inner.EntryDeleted(a.decode(ev)) }
