package dispatcher

import (
	"context"

	"github.com/gridkv/grid-go-client/internal/coherrors"
	"github.com/gridkv/grid-go-client/internal/transport"
	"github.com/gridkv/grid-go-client/internal/wire"
)

// AddKeyListener registers listener against a single key's canonicalized
// string form (produced by the caller's codec, per spec §4.6 "Key
// canonicalization"). It blocks until the subscription is acknowledged.
// prime requests a synthetic insert event carrying the key's current value,
// if any, once the server acknowledges the subscription; it only applies to
// the SUBSCRIBE issued by this call, not to later lite/non-lite transitions.
func (d *Dispatcher) AddKeyListener(ctx context.Context, rawKey []byte, canonicalKey string, listener Listener, lite, prime bool) error {
	if err := d.ensureStream(ctx); err != nil {
		return err
	}

	d.mu.Lock()
	group, exists := d.byKey[canonicalKey]
	if !exists {
		group = newListenerGroup(canonicalKey, false)
		group.rawKey = rawKey
		d.byKey[canonicalKey] = group
	}
	result := group.add(listener, lite)
	stream := d.stream
	d.mu.Unlock()

	if result.alreadyPresent {
		return nil
	}

	switch {
	case result.wasEmpty:
		resp, err := d.sendAndWait(ctx, stream, d.factory.SubscribeKey(rawKey, lite, prime))
		if err != nil || resp.Kind == wire.EventRespError {
			d.rollbackKeyAdd(canonicalKey, listener)
			return subscribeErr(resp, err)
		}
	case result.transitionToNonL:
		if _, err := d.sendAndWait(ctx, stream, d.factory.UnsubscribeKey(rawKey)); err != nil {
			return err
		}
		resp, err := d.sendAndWait(ctx, stream, d.factory.SubscribeKey(rawKey, false, false))
		if err != nil || resp.Kind == wire.EventRespError {
			return subscribeErr(resp, err)
		}
	}
	return nil
}

// RemoveKeyListener unregisters listener from a key's canonicalized target.
func (d *Dispatcher) RemoveKeyListener(ctx context.Context, canonicalKey string, listener Listener) error {
	d.mu.Lock()
	group, exists := d.byKey[canonicalKey]
	d.mu.Unlock()
	if !exists {
		return nil
	}

	d.mu.Lock()
	result := group.remove(listener)
	stream := d.stream
	d.mu.Unlock()

	if !result.removed {
		return nil
	}

	switch {
	case result.nowEmpty:
		_, err := d.sendAndWait(ctx, stream, d.factory.UnsubscribeKey(group.rawKey))
		d.mu.Lock()
		// A concurrent AddKeyListener for the same target may have reused
		// this still-indexed group while the UNSUBSCRIBE was in flight; only
		// evict it if it is still empty.
		if len(group.regs) == 0 {
			delete(d.byKey, canonicalKey)
		}
		closeStream := d.maybeCloseLocked()
		d.mu.Unlock()
		d.finishClose(closeStream)
		if err != nil {
			return err
		}
	case result.downgradeToLite:
		if _, err := d.sendAndWait(ctx, stream, d.factory.UnsubscribeKey(group.rawKey)); err != nil {
			return err
		}
		if _, err := d.sendAndWait(ctx, stream, d.factory.SubscribeKey(group.rawKey, true, false)); err != nil {
			return err
		}
	}
	return nil
}

// AddFilterListener registers listener against a filter's canonicalized
// string form. prime requests a synthetic insert event for every entry
// already matching the filter once the server acknowledges the
// subscription; it only applies to the SUBSCRIBE issued by this call, not
// to later lite/non-lite transitions.
func (d *Dispatcher) AddFilterListener(ctx context.Context, rawFilter []byte, canonicalKey string, listener Listener, lite, prime bool) error {
	if err := d.ensureStream(ctx); err != nil {
		return err
	}

	d.mu.Lock()
	group, exists := d.byFilter[canonicalKey]
	if !exists {
		group = newListenerGroup(canonicalKey, true)
		group.rawFilter = rawFilter
		d.byFilter[canonicalKey] = group
	}
	result := group.add(listener, lite)
	stream := d.stream
	d.mu.Unlock()

	if result.alreadyPresent {
		return nil
	}

	switch {
	case result.wasEmpty:
		resp, err := d.sendAndWait(ctx, stream, d.factory.SubscribeFilter(rawFilter, lite, prime))
		if err != nil || resp.Kind == wire.EventRespError {
			d.rollbackFilterAdd(canonicalKey, listener)
			return subscribeErr(resp, err)
		}
		d.mu.Lock()
		group.filterID = resp.FilterID
		d.byFilterID[resp.FilterID] = group
		d.mu.Unlock()
	case result.transitionToNonL:
		if _, err := d.sendAndWait(ctx, stream, d.factory.UnsubscribeFilter(group.filterID)); err != nil {
			return err
		}
		d.mu.Lock()
		delete(d.byFilterID, group.filterID)
		d.mu.Unlock()
		resp, err := d.sendAndWait(ctx, stream, d.factory.SubscribeFilter(rawFilter, false, false))
		if err != nil || resp.Kind == wire.EventRespError {
			return subscribeErr(resp, err)
		}
		d.mu.Lock()
		group.filterID = resp.FilterID
		d.byFilterID[resp.FilterID] = group
		d.mu.Unlock()
	}
	return nil
}

// RemoveFilterListener unregisters listener from a filter's canonicalized target.
func (d *Dispatcher) RemoveFilterListener(ctx context.Context, canonicalKey string, listener Listener) error {
	d.mu.Lock()
	group, exists := d.byFilter[canonicalKey]
	d.mu.Unlock()
	if !exists {
		return nil
	}

	d.mu.Lock()
	result := group.remove(listener)
	stream := d.stream
	d.mu.Unlock()

	if !result.removed {
		return nil
	}

	switch {
	case result.nowEmpty:
		_, err := d.sendAndWait(ctx, stream, d.factory.UnsubscribeFilter(group.filterID))
		d.mu.Lock()
		// A concurrent AddFilterListener for the same target may have reused
		// this still-indexed group (and possibly re-subscribed it under a new
		// filter id) while the UNSUBSCRIBE was in flight; only evict it if it
		// is still empty, and evict by its current filter id.
		if len(group.regs) == 0 {
			delete(d.byFilter, canonicalKey)
			delete(d.byFilterID, group.filterID)
		}
		closeStream := d.maybeCloseLocked()
		d.mu.Unlock()
		d.finishClose(closeStream)
		if err != nil {
			return err
		}
	case result.downgradeToLite:
		if _, err := d.sendAndWait(ctx, stream, d.factory.UnsubscribeFilter(group.filterID)); err != nil {
			return err
		}
		d.mu.Lock()
		delete(d.byFilterID, group.filterID)
		d.mu.Unlock()
		resp, err := d.sendAndWait(ctx, stream, d.factory.SubscribeFilter(group.rawFilter, true, false))
		if err != nil || resp.Kind == wire.EventRespError {
			return subscribeErr(resp, err)
		}
		d.mu.Lock()
		group.filterID = resp.FilterID
		d.byFilterID[resp.FilterID] = group
		d.mu.Unlock()
	}
	return nil
}

// maybeCloseLocked tests whether both indices are now empty and, if so,
// atomically transitions the stream to closing in the very same critical
// section as the removal that emptied them (spec §9 "the dispatcher must
// atomically test-and-set the 'last listener removed' condition before
// issuing cancellation; otherwise a concurrent add can race with close").
// Must be called with mu held. It returns the stream to tear down, or nil
// if either index is non-empty or the stream isn't open/opening — the
// caller must pass the result to finishClose after releasing mu, since
// CloseSend must not be called while holding the lock.
//
// A concurrent AddKeyListener/AddFilterListener that inserts a new group
// before this runs is observed here (its insert happened under the same
// mutex) and aborts the close. One that runs after this has already set
// state to closing instead finds a non-open state in ensureStream and
// reopens a fresh stream for its own registration; this function's caller
// only ever closes the stream reference it captured at transition time, so
// it cannot tear down that new stream.
func (d *Dispatcher) maybeCloseLocked() transport.EventStream {
	if len(d.byKey) != 0 || len(d.byFilter) != 0 {
		return nil
	}
	if d.state != stateOpen && d.state != stateOpening {
		return nil
	}
	d.closeRequested = true
	d.state = stateClosing
	return d.stream
}

// finishClose issues the actual stream teardown for a stream captured by
// maybeCloseLocked. Must be called without mu held.
func (d *Dispatcher) finishClose(stream transport.EventStream) {
	if stream != nil {
		_ = stream.CloseSend()
	}
}

func (d *Dispatcher) rollbackKeyAdd(canonicalKey string, listener Listener) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if g, ok := d.byKey[canonicalKey]; ok {
		g.remove(listener)
		if len(g.regs) == 0 {
			delete(d.byKey, canonicalKey)
		}
	}
}

func (d *Dispatcher) rollbackFilterAdd(canonicalKey string, listener Listener) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if g, ok := d.byFilter[canonicalKey]; ok {
		g.remove(listener)
		if len(g.regs) == 0 {
			delete(d.byFilter, canonicalKey)
		}
	}
}

func subscribeErr(resp *wire.EventResponse, err error) error {
	if err != nil {
		return err
	}
	if resp != nil && resp.Kind == wire.EventRespError {
		return coherrors.NewServerError("dispatcher.subscribe", resp.ErrorCode, resp.ErrorMessage)
	}
	return nil
}
