// Package filter implements the composable predicate tree consumed by the
// server (spec §4.3): leaf predicates, boolean combinators, and the
// map-event filter used to narrow change notifications by event kind.
package filter

import (
	"github.com/gridkv/grid-go-client/internal/extractor"
)

// Kind tags a filter node with the identifier the server recognizes. Every
// tag is a plain, unqualified type name (no package or namespace prefix);
// see the comment on kindInKeySet below (spec §9 Open Question).
type Kind string

const (
	KindAlways         Kind = "AlwaysFilter"
	KindNever          Kind = "NeverFilter"
	KindAnd            Kind = "AndFilter"
	KindOr             Kind = "OrFilter"
	KindXor            Kind = "XorFilter"
	KindNot            Kind = "NotFilter"
	KindPresent        Kind = "PresentFilter"
	KindEquals         Kind = "EqualsFilter"
	KindNotEquals      Kind = "NotEqualsFilter"
	KindIsNull         Kind = "IsNullFilter"
	KindIsNotNull      Kind = "IsNotNullFilter"
	KindGreater        Kind = "GreaterFilter"
	KindGreaterEquals  Kind = "GreaterEqualsFilter"
	KindLess           Kind = "LessFilter"
	KindLessEquals     Kind = "LessEqualsFilter"
	KindBetween        Kind = "BetweenFilter"
	KindIn             Kind = "InFilter"
	KindContains       Kind = "ContainsFilter"
	KindContainsAll    Kind = "ContainsAllFilter"
	KindContainsAny    Kind = "ContainsAnyFilter"
	KindLike           Kind = "LikeFilter"
	KindRegex          Kind = "RegexFilter"
	KindPredicate      Kind = "PredicateFilter"
	KindMapEvent       Kind = "MapEventFilter"
	KindKeyAssociated  Kind = "KeyAssociatedFilter"

	// kindInKeySet is registered unqualified, matching the source's literal
	// tag, per spec §9's Open Question: confirm with the server before
	// changing this — the client does not guess a qualified form.
	kindInKeySet Kind = "InKeySetFilter"
)

// EventMask is the bitmask used by MapEventFilter (spec §4.3).
type EventMask uint32

const (
	EventInserted      EventMask = 0x1
	EventUpdated       EventMask = 0x2
	EventDeleted       EventMask = 0x4
	EventUpdatedEntered EventMask = 0x8
	EventUpdatedLeft   EventMask = 0x10
	EventUpdatedWithin EventMask = 0x20

	// DefaultMapEventMask is used when MapEventFilter is built without an
	// explicit mask (spec §4.3).
	DefaultMapEventMask = EventInserted | EventDeleted | EventUpdatedEntered | EventUpdatedLeft
)

// Filter is an immutable predicate tree node.
type Filter struct {
	kind      Kind
	children  []*Filter
	extractor *extractor.Extractor
	value     interface{}
	values    []interface{}
	from, to  interface{}
	incLower  bool
	incUpper  bool
	mask      EventMask
}

func (f *Filter) Kind() Kind { return f.kind }

// --- leaf constructors ---

func Always() *Filter { return &Filter{kind: KindAlways} }
func Never() *Filter  { return &Filter{kind: KindNever} }

func Present(attr interface{}) *Filter {
	return &Filter{kind: KindPresent, extractor: extractor.Of(attr)}
}

func Equals(attr interface{}, value interface{}) *Filter {
	return &Filter{kind: KindEquals, extractor: extractor.Of(attr), value: value}
}

func NotEquals(attr interface{}, value interface{}) *Filter {
	return &Filter{kind: KindNotEquals, extractor: extractor.Of(attr), value: value}
}

// IsNull reduces to Equals against null (spec §4.3).
func IsNull(attr interface{}) *Filter {
	return &Filter{kind: KindIsNull, extractor: extractor.Of(attr)}
}

// IsNotNull reduces to NotEquals against null (spec §4.3).
func IsNotNull(attr interface{}) *Filter {
	return &Filter{kind: KindIsNotNull, extractor: extractor.Of(attr)}
}

func Greater(attr interface{}, value interface{}) *Filter {
	return &Filter{kind: KindGreater, extractor: extractor.Of(attr), value: value}
}

func GreaterEquals(attr interface{}, value interface{}) *Filter {
	return &Filter{kind: KindGreaterEquals, extractor: extractor.Of(attr), value: value}
}

func Less(attr interface{}, value interface{}) *Filter {
	return &Filter{kind: KindLess, extractor: extractor.Of(attr), value: value}
}

func LessEquals(attr interface{}, value interface{}) *Filter {
	return &Filter{kind: KindLessEquals, extractor: extractor.Of(attr), value: value}
}

// Between builds and(>=/> from, <=/< to) per the inclusion flags (spec §4.3).
func Between(attr interface{}, from, to interface{}, incLower, incUpper bool) *Filter {
	var lo, hi *Filter
	if incLower {
		lo = GreaterEquals(attr, from)
	} else {
		lo = Greater(attr, from)
	}
	if incUpper {
		hi = LessEquals(attr, to)
	} else {
		hi = Less(attr, to)
	}
	return &Filter{
		kind:      KindBetween,
		children:  []*Filter{And(lo, hi)},
		extractor: extractor.Of(attr),
		from:      from,
		to:        to,
		incLower:  incLower,
		incUpper:  incUpper,
	}
}

// In materializes a set-valued argument into an ordered sequence so the
// wire form is stable (spec §4.3).
func In(attr interface{}, values ...interface{}) *Filter {
	seq := make([]interface{}, len(values))
	copy(seq, values)
	return &Filter{kind: KindIn, extractor: extractor.Of(attr), values: seq}
}

func Contains(attr interface{}, value interface{}) *Filter {
	return &Filter{kind: KindContains, extractor: extractor.Of(attr), value: value}
}

func ContainsAll(attr interface{}, values ...interface{}) *Filter {
	seq := make([]interface{}, len(values))
	copy(seq, values)
	return &Filter{kind: KindContainsAll, extractor: extractor.Of(attr), values: seq}
}

func ContainsAny(attr interface{}, values ...interface{}) *Filter {
	seq := make([]interface{}, len(values))
	copy(seq, values)
	return &Filter{kind: KindContainsAny, extractor: extractor.Of(attr), values: seq}
}

func Like(attr interface{}, pattern string) *Filter {
	return &Filter{kind: KindLike, extractor: extractor.Of(attr), value: pattern}
}

func Regex(attr interface{}, pattern string) *Filter {
	return &Filter{kind: KindRegex, extractor: extractor.Of(attr), value: pattern}
}

// Predicate wraps an opaque, server-evaluated predicate descriptor.
func Predicate(descriptor interface{}) *Filter {
	return &Filter{kind: KindPredicate, value: descriptor}
}

// InKeySet wraps a set of keys; by contract it must appear only at the
// outermost position of a query (spec §4.3) — the client does not enforce
// this, the server rejects violations.
func InKeySet(keys ...interface{}) *Filter {
	seq := make([]interface{}, len(keys))
	copy(seq, keys)
	return &Filter{kind: kindInKeySet, values: seq}
}

// KeyAssociatedWith wraps a filter so the server associates it with a
// specific partitioning key; only valid at the outermost position.
func KeyAssociatedWith(inner *Filter, key interface{}) *Filter {
	return &Filter{kind: KindKeyAssociated, children: []*Filter{inner}, value: key}
}

// MapEventFilter narrows change notifications to the given event kinds. If
// no mask is supplied, DefaultMapEventMask is used (spec §4.3).
func MapEventFilter(inner *Filter, mask ...EventMask) *Filter {
	m := EventMask(DefaultMapEventMask)
	if len(mask) > 0 {
		m = mask[0]
	}
	var children []*Filter
	if inner != nil {
		children = []*Filter{inner}
	}
	return &Filter{kind: KindMapEvent, children: children, mask: m}
}

// --- combinators ---

func And(filters ...*Filter) *Filter { return &Filter{kind: KindAnd, children: filters} }
func Or(filters ...*Filter) *Filter  { return &Filter{kind: KindOr, children: filters} }
func Xor(left, right *Filter) *Filter {
	return &Filter{kind: KindXor, children: []*Filter{left, right}}
}
func Not(inner *Filter) *Filter { return &Filter{kind: KindNot, children: []*Filter{inner}} }

// --- wire serialization ---

type wireNode struct {
	Class     string        `json:"@class"`
	Children  []*wireNode   `json:"filters,omitempty"`
	Extractor interface{}   `json:"extractor,omitempty"`
	Value     interface{}   `json:"value,omitempty"`
	Values    []interface{} `json:"values,omitempty"`
	From      interface{}   `json:"from,omitempty"`
	To        interface{}   `json:"to,omitempty"`
	IncLower  bool          `json:"includeLower,omitempty"`
	IncUpper  bool          `json:"includeUpper,omitempty"`
	Mask      uint32        `json:"mask,omitempty"`
}

// ToWire converts the filter tree to its stable serialization shape.
func ToWire(f *Filter) interface{} {
	if f == nil {
		return nil
	}
	node := &wireNode{Class: string(f.kind), Value: f.value, Values: f.values}
	if f.extractor != nil {
		node.Extractor = extractor.ToWire(f.extractor)
	}
	if f.kind == KindBetween {
		node.From, node.To, node.IncLower, node.IncUpper = f.from, f.to, f.incLower, f.incUpper
	}
	if f.kind == KindMapEvent {
		node.Mask = uint32(f.mask)
	}
	for _, c := range f.children {
		node.Children = append(node.Children, ToWire(c).(*wireNode))
	}
	return node
}
