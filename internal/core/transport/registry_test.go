package transport

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-comms/internal/core/transport/addrutil"
	"github.com/dep2p/go-comms/pkg/interfaces"
)

// stubTransport 只处理带指定后缀的地址
type stubTransport struct {
	name   string
	match  string
	dials  int
	closed bool
}

func (s *stubTransport) Name() string { return s.name }

func (s *stubTransport) CanDial(addr string) bool {
	return len(addr) >= len(s.match) && addr[len(addr)-len(s.match):] == s.match
}

func (s *stubTransport) Dial(context.Context, string) (net.Conn, error) {
	s.dials++
	return nil, errors.New("stub")
}

func (s *stubTransport) Listen(string) (interfaces.Listener, error) {
	return nil, errors.New("stub")
}

func (s *stubTransport) Close() error {
	s.closed = true
	return nil
}

func TestRegistry_TransportFor(t *testing.T) {
	a := &stubTransport{name: "a", match: "/ws"}
	b := &stubTransport{name: "b", match: "/7000"}
	r := NewRegistry(a, b)

	got, err := r.TransportFor("/ip4/127.0.0.1/tcp/7000/ws")
	require.NoError(t, err)
	assert.Equal(t, "a", got.Name())

	got, err = r.TransportFor("/ip4/127.0.0.1/tcp/7000")
	require.NoError(t, err)
	assert.Equal(t, "b", got.Name())

	_, err = r.TransportFor("/ip4/127.0.0.1/tcp/7001")
	assert.ErrorIs(t, err, ErrNoTransport)

	_, err = r.TransportFor("garbage")
	assert.ErrorIs(t, err, addrutil.ErrInvalidAddress)

	assert.Equal(t, []string{"a", "b"}, r.Transports())
}

func TestRegistry_DialRoutes(t *testing.T) {
	a := &stubTransport{name: "a", match: "/ws"}
	r := NewRegistry(a)

	_, err := r.Dial(context.Background(), "/ip4/127.0.0.1/tcp/7000/ws")
	assert.Error(t, err)
	assert.Equal(t, 1, a.dials)
	assert.True(t, r.CanDial("/ip4/127.0.0.1/tcp/7000/ws"))
}

func TestRegistry_Close(t *testing.T) {
	a := &stubTransport{name: "a", match: "/ws"}
	r := NewRegistry(a)

	require.NoError(t, r.Close())
	assert.True(t, a.closed)

	_, err := r.TransportFor("/ip4/127.0.0.1/tcp/7000/ws")
	assert.ErrorIs(t, err, ErrRegistryClosed)
}

func TestNewRegistryFromConfig(t *testing.T) {
	cfg := NewConfig()
	cfg.EnableWebSocket = true

	r, err := NewRegistryFromConfig(cfg)
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, []string{"tcp", "quic", "ws"}, r.Transports())
	assert.True(t, r.CanDial("/ip4/127.0.0.1/tcp/1"))
	assert.True(t, r.CanDial("/ip4/127.0.0.1/udp/1/quic-v1"))
	assert.True(t, r.CanDial("/ip4/127.0.0.1/tcp/1/ws"))
	assert.False(t, r.CanDial("/ip4/127.0.0.1/udp/1"))
}
