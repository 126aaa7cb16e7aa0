package grid

import (
	"context"
	"testing"

	"github.com/gridkv/grid-go-client/internal/sessionconfig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestSessionWithChannel builds a Session using sessionconfig's real
// validated defaults and a fakeChannel in place of a dialed
// transport.Channel, so Map/Close can be exercised without a server.
func newTestSessionWithChannel(t *testing.T) *Session {
	t.Helper()
	opts, err := sessionconfig.New()
	require.NoError(t, err)
	return &Session{
		opts:    opts,
		channel: newFakeChannel(),
		maps:    make(map[mapKey]*NamedMap),
	}
}

func TestMap_SameNameAndFormatReturnsSameInstance(t *testing.T) {
	s := newTestSessionWithChannel(t)

	m1, err := s.Map("orders")
	require.NoError(t, err)
	m2, err := s.Map("orders")
	require.NoError(t, err)
	assert.Same(t, m1, m2)

	m3, err := s.MapWithFormat("orders", "json")
	require.NoError(t, err)
	assert.Same(t, m1, m3)
}

func TestMap_UnknownFormatFails(t *testing.T) {
	s := newTestSessionWithChannel(t)
	_, err := s.MapWithFormat("orders", "protobuf")
	require.Error(t, err)
}

func TestClose_IsIdempotent(t *testing.T) {
	s := newTestSessionWithChannel(t)
	_, err := s.Map("orders")
	require.NoError(t, err)

	require.NoError(t, s.Close(context.Background()))
	require.NoError(t, s.Close(context.Background()))
}

func TestMap_AfterCloseFailsSessionClosed(t *testing.T) {
	s := newTestSessionWithChannel(t)
	require.NoError(t, s.Close(context.Background()))

	_, err := s.Map("orders")
	require.Error(t, err)
}

func TestForget_RemovesMapSoNextOpenIsFresh(t *testing.T) {
	s := newTestSessionWithChannel(t)
	m1, err := s.Map("orders")
	require.NoError(t, err)

	require.NoError(t, m1.Release(context.Background()))

	m2, err := s.Map("orders")
	require.NoError(t, err)
	assert.NotSame(t, m1, m2)
}
