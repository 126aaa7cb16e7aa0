package grid

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/gridkv/grid-go-client/internal/codec"
	"github.com/gridkv/grid-go-client/internal/coherrors"
	"github.com/gridkv/grid-go-client/internal/transport"
	"github.com/gridkv/grid-go-client/internal/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeChannel is an in-memory stand-in for a dialed transport.Channel: a
// tiny in-memory key/value store driving Call, plus a null event stream so
// listener registration tests don't need a real server.
type fakeChannel struct {
	mu    sync.Mutex
	store map[string][]byte
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{store: make(map[string][]byte)}
}

func (f *fakeChannel) Call(ctx context.Context, req *wire.Request) (*wire.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	resp := &wire.Response{CorrelationID: req.CorrelationID}
	key := string(req.Key)

	switch req.Op {
	case wire.OpGet:
		resp.Value = f.store[key]
	case wire.OpPut:
		resp.Value = f.store[key]
		f.store[key] = req.Value
	case wire.OpPutIfAbsent:
		if existing, ok := f.store[key]; ok {
			resp.Value = existing
		} else {
			f.store[key] = req.Value
		}
	case wire.OpRemove:
		resp.Value = f.store[key]
		delete(f.store, key)
	case wire.OpSize:
		resp.Number = int64(len(f.store))
	case wire.OpIsEmpty:
		resp.Boolean = len(f.store) == 0
	case wire.OpClear:
		f.store = make(map[string][]byte)
	case wire.OpPutAll:
		for _, kv := range req.Entries {
			f.store[string(kv.Key)] = kv.Value
		}
	case wire.OpInvokeAll:
		resp.Results = make(map[string][]byte)
		if len(req.Filter) > 0 {
			for k, v := range f.store {
				resp.Results[k] = v
			}
		} else {
			for _, k := range req.Keys {
				if v, ok := f.store[string(k)]; ok {
					resp.Results[string(k)] = v
				}
			}
		}
	default:
		return nil, errors.New("fakeChannel: unhandled op " + string(req.Op))
	}
	return resp, nil
}

func (f *fakeChannel) OpenEventStream(ctx context.Context) (transport.EventStream, error) {
	return &nullEventStream{}, nil
}

// fakeQueryStream replays a fixed slice of pages then a terminal marker,
// mirroring a real server-streaming keySet/entrySet/values response.
type fakeQueryStream struct {
	pages []*wire.QueryPage
	next  int
}

func (s *fakeQueryStream) Recv() (*wire.QueryPage, error) {
	if s.next >= len(s.pages) {
		return nil, io.EOF
	}
	p := s.pages[s.next]
	s.next++
	return p, nil
}

func (f *fakeChannel) OpenQueryStream(ctx context.Context, req *wire.Request) (transport.QueryStream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var pages []*wire.QueryPage
	for k, v := range f.store {
		switch req.Op {
		case wire.OpKeySet:
			pages = append(pages, &wire.QueryPage{Key: []byte(k)})
		case wire.OpValues:
			pages = append(pages, &wire.QueryPage{Value: v})
		case wire.OpEntrySet:
			pages = append(pages, &wire.QueryPage{Key: []byte(k), Value: v})
		default:
			return nil, errors.New("fakeChannel: unhandled streaming op " + string(req.Op))
		}
	}
	return &fakeQueryStream{pages: pages}, nil
}

func (f *fakeChannel) Close() error { return nil }

// nullEventStream acknowledges everything immediately and never delivers
// events, sufficient for tests that only exercise subscribe/unsubscribe
// bookkeeping.
type nullEventStream struct {
	mu     sync.Mutex
	acks   chan *wire.EventResponse
	closed bool
}

func (n *nullEventStream) Send(req *wire.EventRequest) error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return errors.New("stream closed")
	}
	if n.acks == nil {
		n.acks = make(chan *wire.EventResponse, 16)
	}
	ch := n.acks
	n.mu.Unlock()

	kind := wire.EventRespSubscribed
	if req.Kind == wire.EventReqUnsubscribeKey || req.Kind == wire.EventReqUnsubscribeFilter {
		kind = wire.EventRespUnsubscribed
	}
	ch <- &wire.EventResponse{Kind: kind, CorrelationID: req.CorrelationID, FilterID: 1}
	return nil
}

func (n *nullEventStream) Recv() (*wire.EventResponse, error) {
	n.mu.Lock()
	if n.acks == nil {
		n.acks = make(chan *wire.EventResponse, 16)
	}
	ch := n.acks
	n.mu.Unlock()
	resp, ok := <-ch
	if !ok {
		return nil, errors.New("stream closed")
	}
	return resp, nil
}

func (n *nullEventStream) CloseSend() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.closed {
		n.closed = true
		if n.acks != nil {
			close(n.acks)
		}
	}
	return nil
}

func newTestNamedMap(t *testing.T) (*NamedMap, *fakeChannel) {
	t.Helper()
	ch := newFakeChannel()
	s := &Session{maps: make(map[mapKey]*NamedMap)}
	m := newNamedMap("orders", s, codec.JSON(), ch, 2*time.Second)
	return m, ch
}

func TestEndToEnd_PutGetRemoveSize(t *testing.T) {
	m, _ := newTestNamedMap(t)
	ctx := context.Background()

	prev, err := m.Put(ctx, "a", "1")
	require.NoError(t, err)
	assert.Nil(t, prev)

	prev, err = m.Put(ctx, "a", "2")
	require.NoError(t, err)
	assert.Equal(t, "1", prev)

	v, err := m.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "2", v)

	removed, err := m.Remove(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "2", removed)

	size, err := m.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), size)
}

func TestReleasedMap_FailsWithCacheNotActive(t *testing.T) {
	m, _ := newTestNamedMap(t)
	ctx := context.Background()

	require.NoError(t, m.Release(ctx))
	_, err := m.Get(ctx, "a")
	require.Error(t, err)
	assert.True(t, coherrors.Is(err, coherrors.CacheNotActive))
}

func TestRelease_Idempotent(t *testing.T) {
	m, _ := newTestNamedMap(t)
	require.NoError(t, m.Release(context.Background()))
	require.NoError(t, m.Release(context.Background()))
}

type recordingListener struct {
	mu       sync.Mutex
	inserted []Event
}

func (l *recordingListener) EntryInserted(e Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.inserted = append(l.inserted, e)
}
func (l *recordingListener) EntryUpdated(Event) {}
func (l *recordingListener) EntryDeleted(Event) {}

func TestAddRemoveMapListener_KeyTarget(t *testing.T) {
	m, _ := newTestNamedMap(t)
	ctx := context.Background()

	l := &recordingListener{}
	require.NoError(t, m.AddMapListener(ctx, l, "order-1", false))
	require.NoError(t, m.RemoveMapListener(ctx, l, "order-1"))
}

func TestPutAll_RejectsEmpty(t *testing.T) {
	m, _ := newTestNamedMap(t)
	err := m.PutAll(context.Background(), map[interface{}]interface{}{})
	require.Error(t, err)
	assert.True(t, coherrors.Is(err, coherrors.BadValue))
}

func TestPutAll_StoresEveryEntry(t *testing.T) {
	m, ch := newTestNamedMap(t)
	ctx := context.Background()

	require.NoError(t, m.PutAll(ctx, map[interface{}]interface{}{
		"a": "1",
		"b": "2",
		"c": "3",
	}))

	got, err := m.Get(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, "2", got)
	assert.Equal(t, 3, len(ch.store))
}

func TestInvokeAllFilter_MatchesEntriesByFilterNotKeyList(t *testing.T) {
	m, _ := newTestNamedMap(t)
	ctx := context.Background()

	require.NoError(t, m.PutAll(ctx, map[interface{}]interface{}{
		"a": "1",
		"b": "2",
	}))

	proc := NewEntryProcessor("noop", nil)
	results, err := m.InvokeAllFilter(ctx, nil, proc)
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestKeySetEntrySetValues_StreamPagesLazily(t *testing.T) {
	m, _ := newTestNamedMap(t)
	ctx := context.Background()

	require.NoError(t, m.PutAll(ctx, map[interface{}]interface{}{
		"a": "1",
		"b": "2",
	}))

	keys, err := m.KeySet(ctx)
	require.NoError(t, err)
	var gotKeys []interface{}
	for keys.Next() {
		gotKeys = append(gotKeys, keys.Key())
	}
	require.NoError(t, keys.Err())
	assert.Len(t, gotKeys, 2)

	values, err := m.Values(ctx)
	require.NoError(t, err)
	var gotValues []interface{}
	for values.Next() {
		gotValues = append(gotValues, values.Value())
	}
	require.NoError(t, values.Err())
	assert.Len(t, gotValues, 2)

	entries, err := m.EntrySet(ctx)
	require.NoError(t, err)
	var gotEntries []Entry
	for entries.Next() {
		gotEntries = append(gotEntries, entries.Entry())
	}
	require.NoError(t, entries.Err())
	assert.Len(t, gotEntries, 2)
}

func TestDecode_EmptyPayloadIsNilNotError(t *testing.T) {
	var out interface{}
	require.NoError(t, codec.JSON().Decode(nil, &out))
	assert.Nil(t, out)
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	c := codec.JSON()
	b, err := c.Encode(map[string]interface{}{"status": "placed"})
	require.NoError(t, err)

	var out map[string]interface{}
	require.NoError(t, c.Decode(b, &out))
	assert.Equal(t, "placed", out["status"])

	var roundtrip interface{}
	require.NoError(t, json.Unmarshal(b, &roundtrip))
}
