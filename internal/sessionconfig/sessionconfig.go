// Package sessionconfig validates and freezes the options a Session is
// constructed with (spec §6). Grounded on pkg/grpcconfig.ValidateServiceAddress
// for address validation and on pkg/anchor/adapter's "validate eagerly, fail
// with a typed config error" style.
package sessionconfig

import (
	"os"
	"regexp"
	"time"

	"github.com/gridkv/grid-go-client/internal/coherrors"
	"github.com/gridkv/grid-go-client/internal/transport"
)

var addressPattern = regexp.MustCompile(`^\S+:\d{1,5}$`)

// Options is the immutable, validated session configuration.
type Options struct {
	Address              string
	RequestTimeout       time.Duration // <=0 means unbounded
	Format               string
	TLS                  transport.TLSOptions
}

// Option configures a Session during construction.
type Option func(*Options)

// WithAddress sets the cluster endpoint ("host:port").
func WithAddress(addr string) Option { return func(o *Options) { o.Address = addr } }

// WithRequestTimeout sets the per-request timeout. <=0 means unbounded.
func WithRequestTimeout(d time.Duration) Option { return func(o *Options) { o.RequestTimeout = d } }

// WithFormat sets the default codec format.
func WithFormat(format string) Option { return func(o *Options) { o.Format = format } }

// WithTLS enables TLS with the given certificate paths.
func WithTLS(caCertPath, clientCertPath, clientKeyPath string) Option {
	return func(o *Options) {
		o.TLS = transport.TLSOptions{
			Enabled:        true,
			CACertPath:     caCertPath,
			ClientCertPath: clientCertPath,
			ClientKeyPath:  clientKeyPath,
		}
	}
}

// New builds and validates Options, applying defaults for anything unset.
// Once returned, Options is never mutated (spec §6 "Configuration becomes
// immutable after the session is constructed").
func New(opts ...Option) (*Options, error) {
	o := &Options{
		Address:        "localhost:1408",
		RequestTimeout: 60 * time.Second,
		Format:         "json",
	}
	for _, apply := range opts {
		apply(o)
	}

	if !addressPattern.MatchString(o.Address) {
		return nil, coherrors.New(coherrors.BadConfig, "sessionconfig.New", errInvalidAddress(o.Address))
	}

	if o.TLS.Enabled {
		for _, path := range []string{o.TLS.CACertPath, o.TLS.ClientCertPath, o.TLS.ClientKeyPath} {
			if path == "" {
				return nil, coherrors.New(coherrors.BadConfig, "sessionconfig.New", errIncompleteTLS())
			}
			if _, err := os.Stat(path); err != nil {
				return nil, coherrors.New(coherrors.BadConfig, "sessionconfig.New", err).WithContext("path", path)
			}
		}
	}

	return o, nil
}

func errInvalidAddress(addr string) error {
	return &invalidAddressError{addr: addr}
}

type invalidAddressError struct{ addr string }

func (e *invalidAddressError) Error() string {
	return "invalid session address " + e.addr + ": expected host:port"
}

func errIncompleteTLS() error { return incompleteTLSError{} }

type incompleteTLSError struct{}

func (incompleteTLSError) Error() string {
	return "tls.enabled requires caCertPath, clientCertPath, and clientKeyPath"
}
