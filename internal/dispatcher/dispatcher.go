// Package dispatcher implements the bidirectional event-stream multiplexer
// described in spec §4.6: it collapses many application listener
// registrations onto the minimum number of server subscriptions, fans
// inbound events out to the listener groups they match, and manages the
// underlying stream's lifecycle. Grounded on
// services/core/internal/mesh/manager.go's MeshCommunicationManager: a
// pending-correlation map inserted before send, a dedicated Recv goroutine,
// and idempotent, draining Stop/Close.
package dispatcher

import (
	"context"
	"sync"

	"github.com/gridkv/grid-go-client/internal/coherrors"
	"github.com/gridkv/grid-go-client/internal/glog"
	"github.com/gridkv/grid-go-client/internal/transport"
	"github.com/gridkv/grid-go-client/internal/wire"
)

type streamState int

const (
	stateNone streamState = iota
	stateOpening
	stateOpen
	stateClosing
	stateClosed
)

type pendingResult struct {
	resp *wire.EventResponse
	err  error
}

type pendingEntry struct {
	ch chan pendingResult
}

// Streamer abstracts opening the duplex event stream, so tests can inject a
// fake instead of a real transport.Channel.
type Streamer interface {
	OpenEventStream(ctx context.Context) (transport.EventStream, error)
}

// Dispatcher owns one NamedMap's event stream and listener indices.
type Dispatcher struct {
	cacheName string
	streamer  Streamer
	factory   *wire.Factory
	logger    *glog.Logger

	// Callbacks invoked on lifecycle transitions (spec §4.6 state machine).
	OnDestroyed func()
	OnTruncated func()
	OnClosed    func()
	OnError     func(cacheName string, err error)

	mu             sync.Mutex
	state          streamState
	stream         transport.EventStream
	bootstrapCh    chan struct{}
	bootstrapErr   error
	closeRequested bool

	pending    map[string]pendingEntry
	byKey      map[string]*listenerGroup
	byFilter   map[string]*listenerGroup
	byFilterID map[uint64]*listenerGroup

	sendMu sync.Mutex
}

// New creates a dispatcher for one named map. The stream is not opened
// until the first listener registration (spec §4.6 "lazy").
func New(cacheName string, streamer Streamer, factory *wire.Factory, logger *glog.Logger) *Dispatcher {
	return &Dispatcher{
		cacheName:  cacheName,
		streamer:   streamer,
		factory:    factory,
		logger:     logger,
		pending:    make(map[string]pendingEntry),
		byKey:      make(map[string]*listenerGroup),
		byFilter:   make(map[string]*listenerGroup),
		byFilterID: make(map[uint64]*listenerGroup),
	}
}

// IsOpen reports whether the stream invariant (spec §3: "open iff at least
// one ListenerGroup exists") currently holds open.
func (d *Dispatcher) IsOpen() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state == stateOpen
}

// --- stream bootstrap ---

func (d *Dispatcher) ensureStream(ctx context.Context) error {
	d.mu.Lock()
	switch d.state {
	case stateOpen:
		d.mu.Unlock()
		return nil
	case stateOpening:
		ch := d.bootstrapCh
		d.mu.Unlock()
		select {
		case <-ch:
			return d.bootstrapErr
		case <-ctx.Done():
			return coherrors.New(coherrors.Timeout, "dispatcher.ensureStream", ctx.Err())
		}
	default: // none, closing, closed
		d.state = stateOpening
		d.bootstrapCh = make(chan struct{})
		d.mu.Unlock()

		err := d.open(ctx)

		d.mu.Lock()
		if err != nil {
			d.state = stateClosed
			d.bootstrapErr = err
		} else {
			d.state = stateOpen
			d.bootstrapErr = nil
		}
		ch := d.bootstrapCh
		d.mu.Unlock()
		close(ch)
		return err
	}
}

func (d *Dispatcher) open(ctx context.Context) error {
	stream, err := d.streamer.OpenEventStream(ctx)
	if err != nil {
		return coherrors.Wrap(coherrors.Transport, "dispatcher.open", err)
	}

	d.mu.Lock()
	d.stream = stream
	d.closeRequested = false
	d.mu.Unlock()

	go d.recvLoop(stream)

	initReq := d.factory.Init()
	resp, err := d.sendAndWait(ctx, stream, initReq)
	if err != nil {
		d.requestClose(true)
		return err
	}
	if resp.Kind == wire.EventRespError {
		d.requestClose(true)
		return coherrors.NewServerError("dispatcher.init", resp.ErrorCode, resp.ErrorMessage)
	}

	d.resubscribeExisting(ctx, stream)
	return nil
}

// resubscribeExisting re-issues SUBSCRIBE for groups that survived a prior
// stream failure (spec §7 "listeners remain registered ... stream rebuilt").
func (d *Dispatcher) resubscribeExisting(ctx context.Context, stream transport.EventStream) {
	d.mu.Lock()
	groups := make([]*listenerGroup, 0, len(d.byKey)+len(d.byFilter))
	for _, g := range d.byKey {
		groups = append(groups, g)
	}
	for _, g := range d.byFilter {
		groups = append(groups, g)
	}
	d.mu.Unlock()

	for _, g := range groups {
		if len(g.regs) == 0 {
			continue
		}
		if g.isFilter {
			req := d.factory.SubscribeFilter(g.rawFilter, g.registeredIsLite, false)
			resp, err := d.sendAndWait(ctx, stream, req)
			if err == nil && resp.Kind != wire.EventRespError {
				d.mu.Lock()
				g.filterID = resp.FilterID
				d.byFilterID[resp.FilterID] = g
				d.mu.Unlock()
			}
		} else {
			req := d.factory.SubscribeKey(g.rawKey, g.registeredIsLite, false)
			_, _ = d.sendAndWait(ctx, stream, req)
		}
	}
}

// --- send/recv plumbing ---

func (d *Dispatcher) sendAndWait(ctx context.Context, stream transport.EventStream, req *wire.EventRequest) (*wire.EventResponse, error) {
	ch := make(chan pendingResult, 1)

	d.mu.Lock()
	d.pending[req.CorrelationID] = pendingEntry{ch: ch}
	d.mu.Unlock()

	d.sendMu.Lock()
	err := stream.Send(req)
	d.sendMu.Unlock()

	if err != nil {
		d.mu.Lock()
		delete(d.pending, req.CorrelationID)
		d.mu.Unlock()
		return nil, coherrors.Wrap(coherrors.StreamClosed, "dispatcher.send", err)
	}

	select {
	case res := <-ch:
		return res.resp, res.err
	case <-ctx.Done():
		d.mu.Lock()
		delete(d.pending, req.CorrelationID)
		d.mu.Unlock()
		return nil, coherrors.New(coherrors.Timeout, "dispatcher.sendAndWait", ctx.Err())
	}
}

func (d *Dispatcher) recvLoop(stream transport.EventStream) {
	for {
		resp, err := stream.Recv()
		if err != nil {
			d.onStreamEnd(err)
			return
		}
		d.handleResponse(resp)
	}
}

func (d *Dispatcher) handleResponse(resp *wire.EventResponse) {
	switch resp.Kind {
	case wire.EventRespSubscribed, wire.EventRespUnsubscribed, wire.EventRespError:
		d.mu.Lock()
		entry, ok := d.pending[resp.CorrelationID]
		if ok {
			delete(d.pending, resp.CorrelationID)
		}
		d.mu.Unlock()
		if ok {
			var err error
			if resp.Kind == wire.EventRespError {
				err = coherrors.NewServerError("dispatcher", resp.ErrorCode, resp.ErrorMessage)
			}
			entry.ch <- pendingResult{resp: resp, err: err}
		}
	case wire.EventRespEvent:
		d.fanOut(resp)
	case wire.EventRespDestroyed:
		if d.OnDestroyed != nil {
			d.OnDestroyed()
		}
	case wire.EventRespTruncated:
		if d.OnTruncated != nil {
			d.OnTruncated()
		}
	}
}

// fanOut delivers one inbound EVENT to every matching ListenerGroup (spec
// §4.6 "Event fan-out"): by filter id, then by key, each listener invoked
// exactly once per event per group membership, in insertion order within a
// group. The mutex is not held while invoking listener callbacks.
func (d *Dispatcher) fanOut(resp *wire.EventResponse) {
	ev := MapEvent{Kind: resp.EventKind, Key: resp.Key, OldValue: resp.OldValue, NewValue: resp.NewValue, FilterIDs: resp.FilterIDs}

	d.mu.Lock()
	var toNotify [][]Listener
	for _, id := range resp.FilterIDs {
		if g, ok := d.byFilterID[id]; ok {
			toNotify = append(toNotify, g.snapshotListeners())
		}
	}
	if len(resp.Key) > 0 {
		if g, ok := d.byKey[string(resp.Key)]; ok {
			toNotify = append(toNotify, g.snapshotListeners())
		}
	}
	d.mu.Unlock()

	for _, listeners := range toNotify {
		for _, l := range listeners {
			dispatchToListener(l, ev)
		}
	}
}

// requestClose synchronously signals intent to close: graceful controls
// whether the eventual stream termination is reported via OnClosed (true)
// or OnError (false).
func (d *Dispatcher) requestClose(graceful bool) {
	d.mu.Lock()
	if d.state == stateClosed || d.state == stateNone {
		d.mu.Unlock()
		return
	}
	d.closeRequested = graceful
	d.state = stateClosing
	stream := d.stream
	d.mu.Unlock()

	if stream != nil {
		_ = stream.CloseSend()
	}
}

func (d *Dispatcher) onStreamEnd(err error) {
	d.mu.Lock()
	if d.state == stateClosed {
		d.mu.Unlock()
		return
	}
	graceful := d.closeRequested
	d.state = stateClosed
	d.stream = nil
	d.closeRequested = false
	pendingCopy := d.pending
	d.pending = make(map[string]pendingEntry)
	d.mu.Unlock()

	failErr := coherrors.Wrap(coherrors.StreamClosed, "dispatcher.streamEnd", err)
	for _, p := range pendingCopy {
		p.ch <- pendingResult{err: failErr}
	}

	if graceful {
		if d.OnClosed != nil {
			d.OnClosed()
		}
	} else if d.OnError != nil {
		d.OnError(d.cacheName, err)
	}
}

// Close tears the stream down (idempotent) and drains pending requests.
func (d *Dispatcher) Close() {
	d.requestClose(true)
}
