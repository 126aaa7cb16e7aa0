// Package wire defines the RPC request/response descriptors consumed by the
// transport (spec §6) and the factory that produces them with fresh
// correlation ids (spec §4.4). The concrete wire schema is an opaque RPC
// contract per spec §1; these are the stand-in Go types a generated
// protobuf client would otherwise provide.
package wire

import (
	"github.com/google/uuid"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// OpCode identifies a NamedMap operation request.
type OpCode string

const (
	OpGet            OpCode = "GET"
	OpPut            OpCode = "PUT"
	OpPutIfAbsent    OpCode = "PUT_IF_ABSENT"
	OpPutAll         OpCode = "PUT_ALL"
	OpRemove         OpCode = "REMOVE"
	OpRemoveMapping  OpCode = "REMOVE_MAPPING"
	OpReplace        OpCode = "REPLACE"
	OpReplaceMapping OpCode = "REPLACE_MAPPING"
	OpContainsKey    OpCode = "CONTAINS_KEY"
	OpContainsValue  OpCode = "CONTAINS_VALUE"
	OpContainsEntry  OpCode = "CONTAINS_ENTRY"
	OpSize           OpCode = "SIZE"
	OpIsEmpty        OpCode = "IS_EMPTY"
	OpClear          OpCode = "CLEAR"
	OpTruncate       OpCode = "TRUNCATE"
	OpKeySet         OpCode = "KEY_SET"
	OpEntrySet       OpCode = "ENTRY_SET"
	OpValues         OpCode = "VALUES"
	OpInvoke         OpCode = "INVOKE"
	OpInvokeAll      OpCode = "INVOKE_ALL"
	OpAddIndex       OpCode = "ADD_INDEX"
	OpRemoveIndex    OpCode = "REMOVE_INDEX"
	OpDestroy        OpCode = "DESTROY"
)

// Request is a unary NamedMap operation descriptor.
type Request struct {
	Op        OpCode
	CacheName string
	Format    string
	Key       []byte
	Value     []byte
	NewValue  []byte // for replaceMapping's v'
	// TTL is nil unless a positive TTL was supplied: ttlWire maps an absent,
	// zero or negative TTL alike to nil, which means default (no expiry) per
	// spec §4.4, so a zero or negative wrapper value is never sent. The
	// well-known wrapper type (rather than a bare int64) follows the
	// teacher's own use of wrapper types for optional scalar fields
	// (api/proto/**, services/anchor/.../cdc_ops.go).
	TTL           *wrapperspb.Int64Value
	Filter        []byte
	Keys          [][]byte
	Entries       []KeyValue // for putAll's batched entry set
	Processor     []byte
	Extractor     []byte
	SortedIndex   bool
	CorrelationID string
}

// KeyValue is one encoded key/value pair in a putAll batch.
type KeyValue struct {
	Key   []byte
	Value []byte
}

// Response is the unary reply to a Request. Streamed queries (keySet,
// entrySet, values) do not use this type — see QueryPage.
type Response struct {
	CorrelationID string
	Value         []byte // previous/replaced/removed value, or nil
	Boolean       bool
	Number        int64
	Results       map[string][]byte // invokeAll's per-key results
	Err           *ErrorPayload
}

// ErrorPayload carries a server-propagated code and message (spec §6).
type ErrorPayload struct {
	Code    string
	Message string
}

// QueryPage is one message on a streamed keySet/values/entrySet query (spec
// §6 "zero or more page responses followed by a terminal marker"). KeySet
// populates Key only, Values populates Value only, EntrySet populates both.
type QueryPage struct {
	CorrelationID string
	Key           []byte
	Value         []byte
	Done          bool
	Err           *ErrorPayload
}

// EventRequestKind enumerates the event-stream request variants (spec §6).
type EventRequestKind string

const (
	EventReqInit               EventRequestKind = "INIT"
	EventReqSubscribeKey       EventRequestKind = "SUBSCRIBE_KEY"
	EventReqUnsubscribeKey     EventRequestKind = "UNSUBSCRIBE_KEY"
	EventReqSubscribeFilter    EventRequestKind = "SUBSCRIBE_FILTER"
	EventReqUnsubscribeFilter  EventRequestKind = "UNSUBSCRIBE_FILTER"
)

// EventRequest is a message sent on the bidirectional event stream.
type EventRequest struct {
	Kind          EventRequestKind
	CorrelationID string
	CacheName     string
	Key           []byte
	Filter        []byte
	FilterID      uint64
	Lite          bool
	// Prime requests synthetic INSERT events for entries already matching
	// the subscription at registration time (spec §6 "priming flag"), used
	// to warm a near cache off an existing listener registration instead of
	// a separate keySet/entrySet call.
	Prime bool
}

// EventResponseKind enumerates the event-stream response variants (spec §6).
type EventResponseKind string

const (
	EventRespSubscribed   EventResponseKind = "SUBSCRIBED"
	EventRespUnsubscribed EventResponseKind = "UNSUBSCRIBED"
	EventRespEvent        EventResponseKind = "EVENT"
	EventRespDestroyed    EventResponseKind = "DESTROYED"
	EventRespTruncated    EventResponseKind = "TRUNCATED"
	EventRespError        EventResponseKind = "ERROR"
)

// MapEventKind is the change kind reported on an EVENT response.
type MapEventKind string

const (
	MapEventInserted MapEventKind = "inserted"
	MapEventUpdated  MapEventKind = "updated"
	MapEventDeleted  MapEventKind = "deleted"
)

// EventResponse is a message received on the bidirectional event stream.
type EventResponse struct {
	Kind          EventResponseKind
	CorrelationID string
	FilterID      uint64 // set on SUBSCRIBED for a filter subscribe
	EventKind     MapEventKind
	Key           []byte
	OldValue      []byte
	NewValue      []byte
	FilterIDs     []uint64
	ErrorCode     string
	ErrorMessage  string
}

// Factory produces request descriptors and assigns each a fresh correlation
// id (spec §4.4). Ids are random UUIDs (uuid.NewString), so they are unique
// without any counter, global or per instance. Each NamedMap creates its own
// Factory and shares it with its dispatcher.
type Factory struct {
	cacheName string
	format    string
}

// NewFactory returns a request factory bound to one named map.
func NewFactory(cacheName, format string) *Factory {
	return &Factory{cacheName: cacheName, format: format}
}

func (f *Factory) newID() string { return uuid.NewString() }

// Get builds a GET request.
func (f *Factory) Get(key []byte) *Request {
	return &Request{Op: OpGet, CacheName: f.cacheName, Format: f.format, Key: key, CorrelationID: f.newID()}
}

// Put builds a PUT request. ttlMillis of 0 or negative means default (no expiry).
func (f *Factory) Put(key, value []byte, ttlMillis int64) *Request {
	return &Request{Op: OpPut, CacheName: f.cacheName, Format: f.format, Key: key, Value: value, TTL: ttlWire(ttlMillis), CorrelationID: f.newID()}
}

// PutIfAbsent builds a PUT_IF_ABSENT request.
func (f *Factory) PutIfAbsent(key, value []byte, ttlMillis int64) *Request {
	return &Request{Op: OpPutIfAbsent, CacheName: f.cacheName, Format: f.format, Key: key, Value: value, TTL: ttlWire(ttlMillis), CorrelationID: f.newID()}
}

// PutAll builds a PUT_ALL request batching every entry into a single round
// trip instead of one PUT per entry.
func (f *Factory) PutAll(entries []KeyValue, ttlMillis int64) *Request {
	return &Request{Op: OpPutAll, CacheName: f.cacheName, Format: f.format, Entries: entries, TTL: ttlWire(ttlMillis), CorrelationID: f.newID()}
}

// ttlWire wraps a millisecond TTL for the wire, or nil if none was supplied.
func ttlWire(ttlMillis int64) *wrapperspb.Int64Value {
	if ttlMillis <= 0 {
		return nil
	}
	return wrapperspb.Int64(ttlMillis)
}

// Remove builds a REMOVE request.
func (f *Factory) Remove(key []byte) *Request {
	return &Request{Op: OpRemove, CacheName: f.cacheName, Format: f.format, Key: key, CorrelationID: f.newID()}
}

// RemoveMapping builds a REMOVE_MAPPING request.
func (f *Factory) RemoveMapping(key, value []byte) *Request {
	return &Request{Op: OpRemoveMapping, CacheName: f.cacheName, Format: f.format, Key: key, Value: value, CorrelationID: f.newID()}
}

// Replace builds a REPLACE request.
func (f *Factory) Replace(key, value []byte) *Request {
	return &Request{Op: OpReplace, CacheName: f.cacheName, Format: f.format, Key: key, Value: value, CorrelationID: f.newID()}
}

// ReplaceMapping builds a REPLACE_MAPPING request.
func (f *Factory) ReplaceMapping(key, value, newValue []byte) *Request {
	return &Request{Op: OpReplaceMapping, CacheName: f.cacheName, Format: f.format, Key: key, Value: value, NewValue: newValue, CorrelationID: f.newID()}
}

// Simple builds a no-argument or filter/key-only request for the remaining
// operation codes (size, isEmpty, clear, truncate, containsX, keySet, ...).
func (f *Factory) Simple(op OpCode) *Request {
	return &Request{Op: op, CacheName: f.cacheName, Format: f.format, CorrelationID: f.newID()}
}

// WithFilter attaches an encoded filter tree to a request (keySet/entrySet/values/invokeAll).
func (f *Factory) WithFilter(op OpCode, encodedFilter []byte) *Request {
	return &Request{Op: op, CacheName: f.cacheName, Format: f.format, Filter: encodedFilter, CorrelationID: f.newID()}
}

// Invoke builds an INVOKE request against a single key.
func (f *Factory) Invoke(key, processor []byte) *Request {
	return &Request{Op: OpInvoke, CacheName: f.cacheName, Format: f.format, Key: key, Processor: processor, CorrelationID: f.newID()}
}

// InvokeAll builds an INVOKE_ALL request against an explicit key set.
func (f *Factory) InvokeAll(keys [][]byte, processor []byte) *Request {
	return &Request{Op: OpInvokeAll, CacheName: f.cacheName, Format: f.format, Keys: keys, Processor: processor, CorrelationID: f.newID()}
}

// InvokeAllFilter builds an INVOKE_ALL request against every entry matching
// encodedFilter instead of an explicit key set (spec's `invokeAll(keysOrFilter,
// proc)` filter-targeted variant).
func (f *Factory) InvokeAllFilter(encodedFilter, processor []byte) *Request {
	return &Request{Op: OpInvokeAll, CacheName: f.cacheName, Format: f.format, Filter: encodedFilter, Processor: processor, CorrelationID: f.newID()}
}

// AddIndex builds an ADD_INDEX request.
func (f *Factory) AddIndex(encodedExtractor []byte, sorted bool) *Request {
	return &Request{Op: OpAddIndex, CacheName: f.cacheName, Format: f.format, Extractor: encodedExtractor, SortedIndex: sorted, CorrelationID: f.newID()}
}

// RemoveIndex builds a REMOVE_INDEX request.
func (f *Factory) RemoveIndex(encodedExtractor []byte) *Request {
	return &Request{Op: OpRemoveIndex, CacheName: f.cacheName, Format: f.format, Extractor: encodedExtractor, CorrelationID: f.newID()}
}

// Init builds the event-stream INIT request.
func (f *Factory) Init() *EventRequest {
	return &EventRequest{Kind: EventReqInit, CorrelationID: f.newID(), CacheName: f.cacheName}
}

// SubscribeKey builds a SUBSCRIBE_KEY request. prime requests synthetic
// insert events for the key's current value, if any, once the subscription
// is acknowledged.
func (f *Factory) SubscribeKey(key []byte, lite, prime bool) *EventRequest {
	return &EventRequest{Kind: EventReqSubscribeKey, CorrelationID: f.newID(), CacheName: f.cacheName, Key: key, Lite: lite, Prime: prime}
}

// UnsubscribeKey builds an UNSUBSCRIBE_KEY request.
func (f *Factory) UnsubscribeKey(key []byte) *EventRequest {
	return &EventRequest{Kind: EventReqUnsubscribeKey, CorrelationID: f.newID(), CacheName: f.cacheName, Key: key}
}

// SubscribeFilter builds a SUBSCRIBE_FILTER request. prime requests synthetic
// insert events for entries already matching the filter once the
// subscription is acknowledged.
func (f *Factory) SubscribeFilter(encodedFilter []byte, lite, prime bool) *EventRequest {
	return &EventRequest{Kind: EventReqSubscribeFilter, CorrelationID: f.newID(), CacheName: f.cacheName, Filter: encodedFilter, Lite: lite, Prime: prime}
}

// UnsubscribeFilter builds an UNSUBSCRIBE_FILTER request using the
// server-assigned filter id obtained from the original SUBSCRIBED response.
func (f *Factory) UnsubscribeFilter(filterID uint64) *EventRequest {
	return &EventRequest{Kind: EventReqUnsubscribeFilter, CorrelationID: f.newID(), CacheName: f.cacheName, FilterID: filterID}
}
