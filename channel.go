package grid

import (
	"context"

	"github.com/gridkv/grid-go-client/internal/dispatcher"
	"github.com/gridkv/grid-go-client/internal/transport"
	"github.com/gridkv/grid-go-client/internal/wire"
)

// mapChannel is the surface Session and NamedMap need from a shared
// transport channel. *transport.Channel satisfies it; tests substitute a
// fake to exercise the public API without a running server.
type mapChannel interface {
	Call(ctx context.Context, req *wire.Request) (*wire.Response, error)
	OpenEventStream(ctx context.Context) (transport.EventStream, error)
	OpenQueryStream(ctx context.Context, req *wire.Request) (transport.QueryStream, error)
	Close() error
}

var _ mapChannel = (*transport.Channel)(nil)
var _ dispatcher.Streamer = (*transport.Channel)(nil)
