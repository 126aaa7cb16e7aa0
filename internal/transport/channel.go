// Package transport constructs the gRPC channel a Session shares across all
// of its NamedMaps, and exposes the unary-call / bidirectional-stream
// surface the rest of the client depends on. Grounded on pkg/grpc/grpcclient.go.
package transport

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"os"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"

	"github.com/gridkv/grid-go-client/internal/coherrors"
	"github.com/gridkv/grid-go-client/internal/wire"
)

// TLSOptions mirrors the session's `tls` sub-options (spec §6).
type TLSOptions struct {
	Enabled        bool
	CACertPath     string
	ClientCertPath string
	ClientKeyPath  string
}

// ClientOptions configures the dialed channel.
type ClientOptions struct {
	KeepaliveTime    time.Duration
	KeepaliveTimeout time.Duration
	DialTimeout      time.Duration
	TLS              TLSOptions
}

// DefaultClientOptions mirrors the teacher's grpcclient.DefaultClientOptions.
func DefaultClientOptions() ClientOptions {
	return ClientOptions{
		KeepaliveTime:    10 * time.Second,
		KeepaliveTimeout: 3 * time.Second,
		DialTimeout:      10 * time.Second,
	}
}

// Channel wraps the shared grpc.ClientConn used by a Session.
type Channel struct {
	conn *grpc.ClientConn
}

// Conn returns the underlying grpc.ClientConn.
func (c *Channel) Conn() *grpc.ClientConn { return c.conn }

// Close closes the underlying connection.
func (c *Channel) Close() error { return c.conn.Close() }

// Dial establishes the shared channel to addr.
func Dial(ctx context.Context, addr string, opts ClientOptions) (*Channel, error) {
	creds := insecure.NewCredentials()
	if opts.TLS.Enabled {
		tlsCfg, err := buildTLSConfig(opts.TLS)
		if err != nil {
			return nil, err
		}
		creds = credentials.NewTLS(tlsCfg)
	}

	dialOpts := []grpc.DialOption{
		grpc.WithTransportCredentials(creds),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                opts.KeepaliveTime,
			Timeout:             opts.KeepaliveTimeout,
			PermitWithoutStream: true,
		}),
	}

	if opts.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.DialTimeout)
		defer cancel()
		dialOpts = append(dialOpts, grpc.WithBlock())
	}

	conn, err := grpc.DialContext(ctx, addr, dialOpts...)
	if err != nil {
		return nil, coherrors.New(coherrors.Transport, "transport.Dial", err)
	}
	return &Channel{conn: conn}, nil
}

// buildTLSConfig loads the CA and client certificate/key named by opts.
// All three paths must resolve to readable files, per spec §6.
func buildTLSConfig(opts TLSOptions) (*tls.Config, error) {
	caBytes, err := os.ReadFile(opts.CACertPath)
	if err != nil {
		return nil, coherrors.New(coherrors.BadConfig, "transport.buildTLSConfig", err).WithContext("path", opts.CACertPath)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caBytes) {
		return nil, coherrors.New(coherrors.BadConfig, "transport.buildTLSConfig", fmt.Errorf("caCertPath does not contain a valid PEM certificate"))
	}

	cert, err := tls.LoadX509KeyPair(opts.ClientCertPath, opts.ClientKeyPath)
	if err != nil {
		return nil, coherrors.New(coherrors.BadConfig, "transport.buildTLSConfig", err)
	}

	return &tls.Config{
		RootCAs:      pool,
		Certificates: []tls.Certificate{cert},
	}, nil
}

// unaryMethod is the single opaque RPC operation all NamedMap calls go
// through (spec §6's "unary operations corresponding to each NamedMap
// operation"); the operation itself is disambiguated by wire.Request.Op.
const unaryMethod = "/grid.v1.GridService/Call"

// eventsMethod is the bidirectional event-stream operation (spec §6).
const eventsMethod = "/grid.v1.GridService/Events"

// queryMethod is the server-streaming keySet/entrySet/values operation
// (spec §6 "streamed query operations ... yield zero or more page responses
// followed by a terminal marker").
const queryMethod = "/grid.v1.GridService/Query"

// Call performs one unary NamedMap operation over the shared channel.
func (c *Channel) Call(ctx context.Context, req *wire.Request) (*wire.Response, error) {
	resp := &wire.Response{}
	if err := c.conn.Invoke(ctx, unaryMethod, req, resp, grpc.CallContentSubtype(ContentSubtype)); err != nil {
		return nil, coherrors.New(coherrors.Transport, "transport.Call", err).WithContext("op", req.Op)
	}
	return resp, nil
}

// EventStream is the bidirectional stream used by the event dispatcher.
type EventStream interface {
	Send(*wire.EventRequest) error
	Recv() (*wire.EventResponse, error)
	CloseSend() error
}

type grpcEventStream struct {
	stream grpc.ClientStream
}

func (s *grpcEventStream) Send(req *wire.EventRequest) error {
	return s.stream.SendMsg(req)
}

func (s *grpcEventStream) Recv() (*wire.EventResponse, error) {
	resp := &wire.EventResponse{}
	if err := s.stream.RecvMsg(resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (s *grpcEventStream) CloseSend() error {
	return s.stream.(grpc.ClientStream).CloseSend()
}

// OpenEventStream opens the duplex event stream for one NamedMap.
func (c *Channel) OpenEventStream(ctx context.Context) (EventStream, error) {
	desc := &grpc.StreamDesc{
		StreamName:    "Events",
		ServerStreams: true,
		ClientStreams: true,
	}
	stream, err := c.conn.NewStream(ctx, desc, eventsMethod, grpc.CallContentSubtype(ContentSubtype))
	if err != nil {
		return nil, coherrors.New(coherrors.Transport, "transport.OpenEventStream", err)
	}
	return &grpcEventStream{stream: stream}, nil
}

// QueryStream delivers the server-streamed pages of one keySet/entrySet/
// values call. Recv returns io.EOF once the terminal marker has been
// consumed.
type QueryStream interface {
	Recv() (*wire.QueryPage, error)
}

type grpcQueryStream struct {
	stream grpc.ClientStream
	done   bool
}

func (s *grpcQueryStream) Recv() (*wire.QueryPage, error) {
	if s.done {
		return nil, io.EOF
	}
	page := &wire.QueryPage{}
	if err := s.stream.RecvMsg(page); err != nil {
		return nil, err
	}
	if page.Done {
		s.done = true
		return nil, io.EOF
	}
	return page, nil
}

// OpenQueryStream issues a streamed keySet/entrySet/values request and
// returns a cursor over its pages; req.Op must be one of the three streamed
// query operations.
func (c *Channel) OpenQueryStream(ctx context.Context, req *wire.Request) (QueryStream, error) {
	desc := &grpc.StreamDesc{
		StreamName:    "Query",
		ServerStreams: true,
	}
	stream, err := c.conn.NewStream(ctx, desc, queryMethod, grpc.CallContentSubtype(ContentSubtype))
	if err != nil {
		return nil, coherrors.New(coherrors.Transport, "transport.OpenQueryStream", err).WithContext("op", req.Op)
	}
	if err := stream.SendMsg(req); err != nil {
		return nil, coherrors.New(coherrors.Transport, "transport.OpenQueryStream", err).WithContext("op", req.Op)
	}
	if err := stream.CloseSend(); err != nil {
		return nil, coherrors.New(coherrors.Transport, "transport.OpenQueryStream", err).WithContext("op", req.Op)
	}
	return &grpcQueryStream{stream: stream}, nil
}
