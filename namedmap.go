package grid

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/gridkv/grid-go-client/internal/coherrors"
	"github.com/gridkv/grid-go-client/internal/codec"
	"github.com/gridkv/grid-go-client/internal/dispatcher"
	"github.com/gridkv/grid-go-client/internal/extractor"
	"github.com/gridkv/grid-go-client/internal/filter"
	"github.com/gridkv/grid-go-client/internal/glog"
	"github.com/gridkv/grid-go-client/internal/transport"
	"github.com/gridkv/grid-go-client/internal/wire"
)

// NamedMap is a handle to one server-side named collection (spec §4.5).
// Obtain one via Session.Map; do not construct directly.
type NamedMap struct {
	name    string
	session *Session
	codec   codec.Codec
	channel mapChannel
	timeout time.Duration
	factory *wire.Factory
	logger  *glog.Logger

	dispatcher *dispatcher.Dispatcher

	mu        sync.Mutex
	released  bool
	destroyed bool

	listenersMu sync.Mutex
	listeners   map[MapListener]*listenerAdapter

	// OnReleased, OnDestroyed, OnTruncated are invoked on the corresponding
	// lifecycle transition (spec §4.5 "Lifecycle events"). Nil is safe.
	OnReleased  func()
	OnDestroyed func()
	OnTruncated func()
}

func newNamedMap(name string, session *Session, c codec.Codec, ch mapChannel, timeout time.Duration) *NamedMap {
	m := &NamedMap{
		name:      name,
		session:   session,
		codec:     c,
		channel:   ch,
		timeout:   timeout,
		factory:   wire.NewFactory(name, c.Format()),
		logger:    glog.New("namedmap." + name),
		listeners: make(map[MapListener]*listenerAdapter),
	}
	m.dispatcher = dispatcher.New(name, ch, m.factory, m.logger)
	m.dispatcher.OnDestroyed = func() { m.handleDestroyed() }
	m.dispatcher.OnTruncated = func() { m.handleTruncated() }
	m.dispatcher.OnError = func(cacheName string, err error) {
		m.logger.Warn("event stream for %s failed: %v", cacheName, err)
	}
	return m
}

func (m *NamedMap) handleDestroyed() {
	m.mu.Lock()
	m.destroyed = true
	m.mu.Unlock()
	if m.OnDestroyed != nil {
		m.OnDestroyed()
	}
}

func (m *NamedMap) handleTruncated() {
	if m.OnTruncated != nil {
		m.OnTruncated()
	}
}

func (m *NamedMap) checkActive() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.released || m.destroyed {
		return coherrors.New(coherrors.CacheNotActive, "namedmap."+m.name, coherrors.ErrCacheNotActive)
	}
	return nil
}

func (m *NamedMap) deadline(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, m.timeout)
}

func (m *NamedMap) encode(v interface{}) ([]byte, error) {
	return m.codec.Encode(v)
}

func (m *NamedMap) decode(b []byte) (interface{}, error) {
	return decodeBytes(m.codec, b)
}

// decodeBytes decodes b with c, treating an empty payload as a nil result
// rather than an error (spec §9 "empty-payload double-resolve").
func decodeBytes(c codec.Codec, b []byte) (interface{}, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var out interface{}
	if err := c.Decode(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (m *NamedMap) call(ctx context.Context, req *wire.Request) (*wire.Response, error) {
	if err := m.checkActive(); err != nil {
		return nil, err
	}
	ctx, cancel := m.deadline(ctx)
	defer cancel()

	resp, err := m.channel.Call(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, coherrors.New(coherrors.Timeout, "namedmap."+m.name, coherrors.ErrTimeout)
		}
		return nil, err
	}
	if resp.Err != nil {
		return nil, coherrors.NewServerError("namedmap."+m.name, resp.Err.Code, resp.Err.Message)
	}
	return resp, nil
}

// Get returns the value mapped to key, or nil if absent.
func (m *NamedMap) Get(ctx context.Context, key interface{}) (interface{}, error) {
	k, err := m.encode(key)
	if err != nil {
		return nil, err
	}
	resp, err := m.call(ctx, m.factory.Get(k))
	if err != nil {
		return nil, err
	}
	return m.decode(resp.Value)
}

// Put associates key with value, returning the replaced value (nil if
// inserted). ttl of zero or unset means no expiry (spec §4.4).
func (m *NamedMap) Put(ctx context.Context, key, value interface{}, ttl ...time.Duration) (interface{}, error) {
	k, err := m.encode(key)
	if err != nil {
		return nil, err
	}
	v, err := m.encode(value)
	if err != nil {
		return nil, err
	}
	resp, err := m.call(ctx, m.factory.Put(k, v, ttlMillis(ttl)))
	if err != nil {
		return nil, err
	}
	return m.decode(resp.Value)
}

// PutIfAbsent inserts key/value only if key is not already present.
func (m *NamedMap) PutIfAbsent(ctx context.Context, key, value interface{}, ttl ...time.Duration) (interface{}, error) {
	k, err := m.encode(key)
	if err != nil {
		return nil, err
	}
	v, err := m.encode(value)
	if err != nil {
		return nil, err
	}
	resp, err := m.call(ctx, m.factory.PutIfAbsent(k, v, ttlMillis(ttl)))
	if err != nil {
		return nil, err
	}
	return m.decode(resp.Value)
}

// PutAll writes every entry in entries, all with the same optional ttl.
func (m *NamedMap) PutAll(ctx context.Context, entries map[interface{}]interface{}, ttl ...time.Duration) error {
	if len(entries) == 0 {
		return coherrors.New(coherrors.BadValue, "namedmap.PutAll", errors.New("putAll requires a non-empty entry set"))
	}
	kvs := make([]wire.KeyValue, 0, len(entries))
	for k, v := range entries {
		ek, err := m.encode(k)
		if err != nil {
			return err
		}
		ev, err := m.encode(v)
		if err != nil {
			return err
		}
		kvs = append(kvs, wire.KeyValue{Key: ek, Value: ev})
	}
	_, err := m.call(ctx, m.factory.PutAll(kvs, ttlMillis(ttl)))
	return err
}

// Remove removes key's mapping, returning the removed value (nil if absent).
func (m *NamedMap) Remove(ctx context.Context, key interface{}) (interface{}, error) {
	k, err := m.encode(key)
	if err != nil {
		return nil, err
	}
	resp, err := m.call(ctx, m.factory.Remove(k))
	if err != nil {
		return nil, err
	}
	return m.decode(resp.Value)
}

// RemoveMapping removes key only if it currently maps to value.
func (m *NamedMap) RemoveMapping(ctx context.Context, key, value interface{}) (bool, error) {
	k, err := m.encode(key)
	if err != nil {
		return false, err
	}
	v, err := m.encode(value)
	if err != nil {
		return false, err
	}
	resp, err := m.call(ctx, m.factory.RemoveMapping(k, v))
	if err != nil {
		return false, err
	}
	return resp.Boolean, nil
}

// Replace replaces key's value unconditionally if key is present, returning
// the prior value (nil if absent).
func (m *NamedMap) Replace(ctx context.Context, key, value interface{}) (interface{}, error) {
	k, err := m.encode(key)
	if err != nil {
		return nil, err
	}
	v, err := m.encode(value)
	if err != nil {
		return nil, err
	}
	resp, err := m.call(ctx, m.factory.Replace(k, v))
	if err != nil {
		return nil, err
	}
	return m.decode(resp.Value)
}

// ReplaceMapping replaces key's value with newValue only if it currently
// maps to value.
func (m *NamedMap) ReplaceMapping(ctx context.Context, key, value, newValue interface{}) (bool, error) {
	k, err := m.encode(key)
	if err != nil {
		return false, err
	}
	v, err := m.encode(value)
	if err != nil {
		return false, err
	}
	nv, err := m.encode(newValue)
	if err != nil {
		return false, err
	}
	resp, err := m.call(ctx, m.factory.ReplaceMapping(k, v, nv))
	if err != nil {
		return false, err
	}
	return resp.Boolean, nil
}

// ContainsKey reports whether key is present.
func (m *NamedMap) ContainsKey(ctx context.Context, key interface{}) (bool, error) {
	k, err := m.encode(key)
	if err != nil {
		return false, err
	}
	req := m.factory.Simple(wire.OpContainsKey)
	req.Key = k
	resp, err := m.call(ctx, req)
	if err != nil {
		return false, err
	}
	return resp.Boolean, nil
}

// ContainsValue reports whether value is present under any key.
func (m *NamedMap) ContainsValue(ctx context.Context, value interface{}) (bool, error) {
	v, err := m.encode(value)
	if err != nil {
		return false, err
	}
	req := m.factory.Simple(wire.OpContainsValue)
	req.Value = v
	resp, err := m.call(ctx, req)
	if err != nil {
		return false, err
	}
	return resp.Boolean, nil
}

// ContainsEntry reports whether key maps to exactly value.
func (m *NamedMap) ContainsEntry(ctx context.Context, key, value interface{}) (bool, error) {
	k, err := m.encode(key)
	if err != nil {
		return false, err
	}
	v, err := m.encode(value)
	if err != nil {
		return false, err
	}
	req := m.factory.Simple(wire.OpContainsEntry)
	req.Key, req.Value = k, v
	resp, err := m.call(ctx, req)
	if err != nil {
		return false, err
	}
	return resp.Boolean, nil
}

// Size returns the number of entries.
func (m *NamedMap) Size(ctx context.Context) (int64, error) {
	resp, err := m.call(ctx, m.factory.Simple(wire.OpSize))
	if err != nil {
		return 0, err
	}
	return resp.Number, nil
}

// IsEmpty reports whether the map has zero entries.
func (m *NamedMap) IsEmpty(ctx context.Context) (bool, error) {
	resp, err := m.call(ctx, m.factory.Simple(wire.OpIsEmpty))
	if err != nil {
		return false, err
	}
	return resp.Boolean, nil
}

// Clear removes every entry without notifying listeners of individual removals.
func (m *NamedMap) Clear(ctx context.Context) error {
	_, err := m.call(ctx, m.factory.Simple(wire.OpClear))
	return err
}

// Truncate removes every entry and emits a truncated event (spec §4.5).
func (m *NamedMap) Truncate(ctx context.Context) error {
	_, err := m.call(ctx, m.factory.Simple(wire.OpTruncate))
	return err
}

// KeySet opens a streamed query over every key, optionally narrowed by f,
// and returns a cursor the caller drives with Next (spec §4.5 "lazy finite
// sequence"; spec §6 "zero or more page responses followed by a terminal
// marker").
func (m *NamedMap) KeySet(ctx context.Context, f ...*filter.Filter) (*KeyIterator, error) {
	stream, err := m.openQuery(ctx, wire.OpKeySet, f)
	if err != nil {
		return nil, err
	}
	return &KeyIterator{stream: stream, codec: m.codec}, nil
}

// KeyIterator lazily yields keys from a streamed keySet query. Call Next
// until it returns false, then check Err.
type KeyIterator struct {
	stream transport.QueryStream
	codec  codec.Codec
	cur    interface{}
	err    error
}

// Next advances the cursor and reports whether a key is available.
func (it *KeyIterator) Next() bool {
	if it.err != nil {
		return false
	}
	page, err := it.stream.Recv()
	if err != nil {
		if err != io.EOF {
			it.err = err
		}
		return false
	}
	v, err := decodeBytes(it.codec, page.Key)
	if err != nil {
		it.err = err
		return false
	}
	it.cur = v
	return true
}

// Key returns the key most recently yielded by Next.
func (it *KeyIterator) Key() interface{} { return it.cur }

// Err returns the first error encountered while streaming, if any.
func (it *KeyIterator) Err() error { return it.err }

// Values opens a streamed query over every value, optionally narrowed by f.
func (m *NamedMap) Values(ctx context.Context, f ...*filter.Filter) (*ValueIterator, error) {
	stream, err := m.openQuery(ctx, wire.OpValues, f)
	if err != nil {
		return nil, err
	}
	return &ValueIterator{stream: stream, codec: m.codec}, nil
}

// ValueIterator lazily yields values from a streamed values query.
type ValueIterator struct {
	stream transport.QueryStream
	codec  codec.Codec
	cur    interface{}
	err    error
}

// Next advances the cursor and reports whether a value is available.
func (it *ValueIterator) Next() bool {
	if it.err != nil {
		return false
	}
	page, err := it.stream.Recv()
	if err != nil {
		if err != io.EOF {
			it.err = err
		}
		return false
	}
	v, err := decodeBytes(it.codec, page.Value)
	if err != nil {
		it.err = err
		return false
	}
	it.cur = v
	return true
}

// Value returns the value most recently yielded by Next.
func (it *ValueIterator) Value() interface{} { return it.cur }

// Err returns the first error encountered while streaming, if any.
func (it *ValueIterator) Err() error { return it.err }

// Entry is one (key, value) pair yielded by an EntryIterator.
type Entry struct {
	Key   interface{}
	Value interface{}
}

// EntrySet opens a streamed query over every (key,value) pair, optionally
// narrowed by f.
func (m *NamedMap) EntrySet(ctx context.Context, f ...*filter.Filter) (*EntryIterator, error) {
	stream, err := m.openQuery(ctx, wire.OpEntrySet, f)
	if err != nil {
		return nil, err
	}
	return &EntryIterator{stream: stream, codec: m.codec}, nil
}

// EntryIterator lazily yields entries from a streamed entrySet query.
type EntryIterator struct {
	stream transport.QueryStream
	codec  codec.Codec
	cur    Entry
	err    error
}

// Next advances the cursor and reports whether an entry is available.
func (it *EntryIterator) Next() bool {
	if it.err != nil {
		return false
	}
	page, err := it.stream.Recv()
	if err != nil {
		if err != io.EOF {
			it.err = err
		}
		return false
	}
	k, err := decodeBytes(it.codec, page.Key)
	if err != nil {
		it.err = err
		return false
	}
	v, err := decodeBytes(it.codec, page.Value)
	if err != nil {
		it.err = err
		return false
	}
	it.cur = Entry{Key: k, Value: v}
	return true
}

// Entry returns the entry most recently yielded by Next.
func (it *EntryIterator) Entry() Entry { return it.cur }

// Err returns the first error encountered while streaming, if any.
func (it *EntryIterator) Err() error { return it.err }

func (m *NamedMap) openQuery(ctx context.Context, op wire.OpCode, f []*filter.Filter) (transport.QueryStream, error) {
	if err := m.checkActive(); err != nil {
		return nil, err
	}
	var encoded []byte
	if len(f) > 0 && f[0] != nil {
		enc, err := m.encode(filter.ToWire(f[0]))
		if err != nil {
			return nil, err
		}
		encoded = enc
	}
	stream, err := m.channel.OpenQueryStream(ctx, m.factory.WithFilter(op, encoded))
	if err != nil {
		return nil, err
	}
	return stream, nil
}

// Invoke executes proc against key's entry on the server and returns its result.
func (m *NamedMap) Invoke(ctx context.Context, key interface{}, proc *EntryProcessor) (interface{}, error) {
	k, err := m.encode(key)
	if err != nil {
		return nil, err
	}
	p, err := m.encode(proc.toWire())
	if err != nil {
		return nil, err
	}
	resp, err := m.call(ctx, m.factory.Invoke(k, p))
	if err != nil {
		return nil, err
	}
	return m.decode(resp.Value)
}

// InvokeAll executes proc against every key named by keys and returns each
// key's result.
func (m *NamedMap) InvokeAll(ctx context.Context, keys []interface{}, proc *EntryProcessor) (map[interface{}]interface{}, error) {
	encodedKeys := make([][]byte, len(keys))
	for i, k := range keys {
		ek, err := m.encode(k)
		if err != nil {
			return nil, err
		}
		encodedKeys[i] = ek
	}
	p, err := m.encode(proc.toWire())
	if err != nil {
		return nil, err
	}
	resp, err := m.call(ctx, m.factory.InvokeAll(encodedKeys, p))
	if err != nil {
		return nil, err
	}
	out := make(map[interface{}]interface{}, len(resp.Results))
	for k, v := range resp.Results {
		dv, err := m.decode(v)
		if err != nil {
			return nil, err
		}
		out[k] = dv
	}
	return out, nil
}

// InvokeAllFilter executes proc against every entry matching f (nil matches
// everything) and returns each matched key's result, the filter-targeted
// counterpart to InvokeAll's explicit key list.
func (m *NamedMap) InvokeAllFilter(ctx context.Context, f *filter.Filter, proc *EntryProcessor) (map[interface{}]interface{}, error) {
	if f == nil {
		f = filter.Always()
	}
	enc, err := m.encode(filter.ToWire(f))
	if err != nil {
		return nil, err
	}
	p, err := m.encode(proc.toWire())
	if err != nil {
		return nil, err
	}
	resp, err := m.call(ctx, m.factory.InvokeAllFilter(enc, p))
	if err != nil {
		return nil, err
	}
	out := make(map[interface{}]interface{}, len(resp.Results))
	for k, v := range resp.Results {
		dv, err := m.decode(v)
		if err != nil {
			return nil, err
		}
		out[k] = dv
	}
	return out, nil
}

// AddIndex instructs the server to maintain an index over extractor.
func (m *NamedMap) AddIndex(ctx context.Context, ex *extractor.Extractor, sorted bool) error {
	enc, err := m.encode(extractor.ToWire(ex))
	if err != nil {
		return err
	}
	_, err = m.call(ctx, m.factory.AddIndex(enc, sorted))
	return err
}

// RemoveIndex drops a previously added index.
func (m *NamedMap) RemoveIndex(ctx context.Context, ex *extractor.Extractor) error {
	enc, err := m.encode(extractor.ToWire(ex))
	if err != nil {
		return err
	}
	_, err = m.call(ctx, m.factory.RemoveIndex(enc))
	return err
}

// AddMapListener registers listener against target, which must be either a
// key or a *filter.Filter (nil means "all entries"). lite suppresses
// old/new value payloads on delivered events (spec §4.6). opts may include
// WithPriming to request synthetic insert events for matching entries that
// already exist.
func (m *NamedMap) AddMapListener(ctx context.Context, listener MapListener, target interface{}, lite bool, opts ...ListenerOption) error {
	if err := m.checkActive(); err != nil {
		return err
	}

	var lo listenerOptions
	for _, opt := range opts {
		opt(&lo)
	}

	m.listenersMu.Lock()
	adapter, ok := m.listeners[listener]
	if !ok {
		adapter = newListenerAdapter(m.codec, listener)
		m.listeners[listener] = adapter
	}
	m.listenersMu.Unlock()

	if f, isFilter := target.(*filter.Filter); isFilter || target == nil {
		if f == nil {
			f = filter.Always()
		}
		raw, err := m.encode(filter.ToWire(f))
		if err != nil {
			return err
		}
		canonical, err := codec.Stringify(m.codec, filter.ToWire(f))
		if err != nil {
			return err
		}
		return m.dispatcher.AddFilterListener(ctx, raw, canonical, adapter, lite, lo.prime)
	}

	raw, err := m.encode(target)
	if err != nil {
		return err
	}
	canonical, err := codec.Stringify(m.codec, target)
	if err != nil {
		return err
	}
	return m.dispatcher.AddKeyListener(ctx, raw, canonical, adapter, lite, lo.prime)
}

// RemoveMapListener unregisters listener from target (a key or *filter.Filter).
func (m *NamedMap) RemoveMapListener(ctx context.Context, listener MapListener, target interface{}) error {
	m.listenersMu.Lock()
	adapter, ok := m.listeners[listener]
	if ok {
		delete(m.listeners, listener)
	}
	m.listenersMu.Unlock()
	if !ok {
		return nil
	}

	if f, isFilter := target.(*filter.Filter); isFilter || target == nil {
		if f == nil {
			f = filter.Always()
		}
		canonical, err := codec.Stringify(m.codec, filter.ToWire(f))
		if err != nil {
			return err
		}
		return m.dispatcher.RemoveFilterListener(ctx, canonical, adapter)
	}

	canonical, err := codec.Stringify(m.codec, target)
	if err != nil {
		return err
	}
	return m.dispatcher.RemoveKeyListener(ctx, canonical, adapter)
}

// Release severs this handle's event stream and marks it unusable. Release
// is idempotent (spec §4.5).
func (m *NamedMap) Release(ctx context.Context) error {
	m.mu.Lock()
	if m.released {
		m.mu.Unlock()
		return nil
	}
	m.released = true
	m.mu.Unlock()

	m.dispatcher.Close()
	if m.OnReleased != nil {
		m.OnReleased()
	}
	m.session.forget(m.name, m.codec.Format())
	return nil
}

// Destroy asks the server to destroy this named map cluster-wide. All
// handles to it, in this process and others, become unusable.
func (m *NamedMap) Destroy(ctx context.Context) error {
	if err := m.checkActive(); err != nil {
		return err
	}
	_, err := m.call(ctx, m.factory.Simple(wire.OpDestroy))
	if err != nil {
		return err
	}
	m.handleDestroyed()
	m.dispatcher.Close()
	m.session.forget(m.name, m.codec.Format())
	return nil
}

func ttlMillis(ttl []time.Duration) int64 {
	if len(ttl) == 0 {
		return 0
	}
	return ttl[0].Milliseconds()
}
