// Package grid is a client library for a remote, partitioned, in-memory
// key-value grid. Applications open a Session against a cluster endpoint,
// then obtain one or more NamedMaps through which they read, write, query,
// and subscribe to change notifications.
package grid

import (
	"context"
	"sync"

	"github.com/gridkv/grid-go-client/internal/coherrors"
	"github.com/gridkv/grid-go-client/internal/codec"
	"github.com/gridkv/grid-go-client/internal/glog"
	"github.com/gridkv/grid-go-client/internal/sessionconfig"
	"github.com/gridkv/grid-go-client/internal/transport"
)

type sessionState int

const (
	sessionOpen sessionState = iota
	sessionClosing
	sessionClosed
)

type mapKey struct {
	name   string
	format string
}

// Session owns the transport channel shared by every NamedMap it opens, and
// the registry mapping (name, format) to the live NamedMap instance (spec
// §3 "Session").
type Session struct {
	opts    *sessionconfig.Options
	channel mapChannel
	logger  *glog.Logger

	mu    sync.Mutex
	state sessionState
	maps  map[mapKey]*NamedMap
}

// Open dials a cluster endpoint and returns a ready Session. Configuration
// is validated and frozen before the dial is attempted (spec §6).
func Open(ctx context.Context, opts ...sessionconfig.Option) (*Session, error) {
	cfg, err := sessionconfig.New(opts...)
	if err != nil {
		return nil, err
	}

	clientOpts := transport.DefaultClientOptions()
	clientOpts.TLS = cfg.TLS

	ch, err := transport.Dial(ctx, cfg.Address, clientOpts)
	if err != nil {
		return nil, err
	}

	return &Session{
		opts:    cfg,
		channel: ch,
		logger:  glog.New("grid.session"),
		maps:    make(map[mapKey]*NamedMap),
	}, nil
}

// Map returns the NamedMap named name using the session's default codec
// format, opening it on first use. Repeated calls for the same (name,
// format) return the identical instance (spec §8 end-to-end scenario 6).
func (s *Session) Map(name string) (*NamedMap, error) {
	return s.MapWithFormat(name, s.opts.Format)
}

// MapWithFormat is Map but with an explicit codec format, distinct from
// (and independently cached from) the session's default.
func (s *Session) MapWithFormat(name, format string) (*NamedMap, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != sessionOpen {
		return nil, coherrors.New(coherrors.SessionClosed, "session.Map", coherrors.ErrSessionClosed)
	}

	key := mapKey{name: name, format: format}
	if existing, ok := s.maps[key]; ok {
		return existing, nil
	}

	c, err := codec.ByFormat(format)
	if err != nil {
		return nil, err
	}

	m := newNamedMap(name, s, c, s.channel, s.opts.RequestTimeout)
	s.maps[key] = m
	return m, nil
}

// forget removes a NamedMap from the registry once it releases or is
// destroyed, so a later Map call for the same (name, format) opens fresh.
func (s *Session) forget(name, format string) {
	s.mu.Lock()
	delete(s.maps, mapKey{name: name, format: format})
	s.mu.Unlock()
}

// Close releases every NamedMap this session opened, then closes the
// transport channel. Close is idempotent (spec §8 property 5): a second
// call is a no-op that returns nil.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.state != sessionOpen {
		s.mu.Unlock()
		return nil
	}
	s.state = sessionClosing
	maps := make([]*NamedMap, 0, len(s.maps))
	for _, m := range s.maps {
		maps = append(maps, m)
	}
	s.mu.Unlock()

	for _, m := range maps {
		if err := m.Release(ctx); err != nil {
			s.logger.Error("release of %s failed during session close: %v", m.name, err)
		}
	}

	err := s.channel.Close()

	s.mu.Lock()
	s.state = sessionClosed
	s.mu.Unlock()

	return err
}
