// Package extractor implements the server-interpretable value-extractor
// tree (spec §4.2): identity, named-attribute projection, and dotted-path
// chains of named-attribute projections.
package extractor

import "strings"

// Kind tags an extractor node with the identifier the server recognizes.
type Kind string

const (
	KindIdentity  Kind = "IdentityExtractor"
	KindUniversal Kind = "UniversalExtractor"
	KindChained   Kind = "ChainedExtractor"
)

// Extractor is an immutable node in the projection tree.
type Extractor struct {
	kind Kind
	name string        // attribute name, for Universal
	path []*Extractor  // ordered chain, for Chained
}

// Kind returns the node's server-recognized type tag.
func (e *Extractor) Kind() Kind { return e.kind }

// Name returns the attribute name for a Universal extractor ("" otherwise).
func (e *Extractor) Name() string { return e.name }

// Chain returns the ordered child extractors for a Chained extractor (nil otherwise).
func (e *Extractor) Chain() []*Extractor { return e.path }

// Identity returns an extractor that yields the entry value itself.
func Identity() *Extractor { return &Extractor{kind: KindIdentity} }

// Universal projects the attribute reachable by name. An empty name is
// equivalent to Identity.
func Universal(name string) *Extractor {
	if name == "" {
		return Identity()
	}
	return &Extractor{kind: KindUniversal, name: name}
}

// Chained composes a left-to-right sequence of extractors.
func Chained(path ...*Extractor) *Extractor {
	if len(path) == 1 {
		return path[0]
	}
	return &Extractor{kind: KindChained, path: path}
}

// FromPath builds a Chained extractor from a dot-separated attribute path,
// e.g. "a.b.c" becomes Universal("a") -> Universal("b") -> Universal("c").
func FromPath(path string) *Extractor {
	if path == "" {
		return Identity()
	}
	parts := strings.Split(path, ".")
	if len(parts) == 1 {
		return Universal(parts[0])
	}
	nodes := make([]*Extractor, len(parts))
	for i, p := range parts {
		nodes[i] = Universal(p)
	}
	return Chained(nodes...)
}

// Of accepts either an *Extractor or a string and normalizes it: a string
// without "." becomes Universal, a string with "." becomes Chained. This is
// the factory-helper contract described in spec §4.2.
func Of(v interface{}) *Extractor {
	switch t := v.(type) {
	case *Extractor:
		return t
	case string:
		return FromPath(t)
	case nil:
		return Identity()
	default:
		return Identity()
	}
}

// wireNode is the stable serialization shape for an extractor tree.
type wireNode struct {
	Class string      `json:"@class"`
	Name  string      `json:"name,omitempty"`
	Path  []*wireNode `json:"extractors,omitempty"`
}

// ToWire converts the extractor tree into its stable, codec-ready shape.
func ToWire(e *Extractor) interface{} {
	if e == nil {
		return nil
	}
	switch e.kind {
	case KindIdentity:
		return &wireNode{Class: string(KindIdentity)}
	case KindUniversal:
		return &wireNode{Class: string(KindUniversal), Name: e.name}
	case KindChained:
		children := make([]*wireNode, len(e.path))
		for i, c := range e.path {
			children[i] = ToWire(c).(*wireNode)
		}
		return &wireNode{Class: string(KindChained), Path: children}
	default:
		return &wireNode{Class: string(e.kind)}
	}
}
