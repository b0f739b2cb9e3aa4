package protocol

import (
	"context"
	"crypto/rand"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-comms/config"
	"github.com/dep2p/go-comms/internal/core/identity"
	"github.com/dep2p/go-comms/internal/core/muxer/yamux"
	"github.com/dep2p/go-comms/internal/core/protocol/system/identify"
	"github.com/dep2p/go-comms/internal/core/protocol/system/ping"
	"github.com/dep2p/go-comms/pkg/protocolids"
	"github.com/dep2p/go-comms/pkg/types"
)

// ============================================================================
//                              辅助函数
// ============================================================================

func newPeer(t *testing.T) types.PeerIdentity {
	t.Helper()
	id, err := identity.Generate(rand.Reader)
	require.NoError(t, err)
	return id.PeerIdentity()
}

// muxPair 在 TCP 回环上建立一对 yamux 会话
func muxPair(t *testing.T) (client, server *yamux.Muxer) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	tr := yamux.New(config.DefaultMuxerConfig())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	type result struct {
		m   *yamux.Muxer
		err error
	}
	ch := make(chan result, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			ch <- result{err: err}
			return
		}
		m, err := tr.Upgrade(ctx, c, true)
		ch <- result{m, err}
	}()

	c, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	client, err = tr.Upgrade(ctx, c, false)
	require.NoError(t, err)
	r := <-ch
	require.NoError(t, r.err)

	t.Cleanup(func() {
		client.Close()
		r.m.Close()
	})
	return client, r.m
}

// serve 在会话上循环接受入站子流并交给注册表
func serve(mux *yamux.Muxer, registry *Registry, remote types.PeerIdentity) {
	go func() {
		for {
			s, err := mux.AcceptStream()
			if err != nil {
				return
			}
			go func() { _ = registry.Handle(context.Background(), s, remote) }()
		}
	}()
}

// ============================================================================
//                              注册表测试
// ============================================================================

func TestRegistry_Register(t *testing.T) {
	r := NewRegistry()
	h := func(s *Substream) { s.Close() }

	require.NoError(t, r.Register("/chat/1.0", h))
	assert.ErrorIs(t, r.Register("/chat/1.0", h), ErrDuplicateProtocol)
	assert.ErrorIs(t, r.Register("/comms/evil/1.0", h), protocolids.ErrReservedProtocol)
	assert.ErrorIs(t, r.Register("chat", h), protocolids.ErrInvalidProtocolFormat)
	assert.ErrorIs(t, r.Register("/nil/1.0", nil), ErrNilHandler)

	// 系统 Ping 默认注册，结果有序
	assert.Equal(t, []types.ProtocolID{"/chat/1.0", ping.ProtocolID}, r.Protocols())

	_, ok := r.GetHandler("/chat/1.0")
	assert.True(t, ok)

	require.NoError(t, r.Unregister("/chat/1.0"))
	assert.ErrorIs(t, r.Unregister("/chat/1.0"), ErrProtocolNotRegistered)
	assert.ErrorIs(t, r.Unregister(ping.ProtocolID), ErrProtocolNotRegistered)
}

func TestRegistry_Matcher(t *testing.T) {
	r := NewRegistry()
	r.AddMatcher("/files/", func(p types.ProtocolID) bool {
		return strings.HasPrefix(string(p), "/files/")
	}, func(s *Substream) { s.Close() })

	_, ok := r.GetHandler("/files/2.0")
	assert.True(t, ok)

	r.RemoveMatcher("/files/")
	_, ok = r.GetHandler("/files/2.0")
	assert.False(t, ok)
}

// ============================================================================
//                              子流协议选择测试
// ============================================================================

func TestSelectProtocol_Echo(t *testing.T) {
	client, server := muxPair(t)
	clientID, serverID := newPeer(t), newPeer(t)

	registry := NewRegistry()
	require.NoError(t, registry.Register("/echo/1.0", func(s *Substream) {
		defer s.Close()
		assert.Equal(t, clientID, s.RemotePeer())
		_, _ = io.Copy(s, s)
	}))
	serve(server, registry, clientID)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s, err := SelectProtocol(ctx, client, "/echo/1.0", serverID)
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, types.ProtocolID("/echo/1.0"), s.Protocol())

	_, err = s.Write([]byte("hello"))
	require.NoError(t, err)
	buf := make([]byte, 5)
	_, err = io.ReadFull(s, buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf))
}

func TestSelectProtocol_Unsupported(t *testing.T) {
	client, server := muxPair(t)
	serve(server, NewRegistry(), newPeer(t))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := SelectProtocol(ctx, client, "/missing/1.0", newPeer(t))
	var perr *Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, KindProtocol, perr.Kind)
}

func TestSelectProtocol_Timeout(t *testing.T) {
	client, server := muxPair(t)

	// 对端接受子流但从不响应
	go func() {
		for {
			if _, err := server.AcceptStream(); err != nil {
				return
			}
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := SelectProtocol(ctx, client, "/slow/1.0", newPeer(t))
	var perr *Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, KindTimeout, perr.Kind)
}

func TestPing(t *testing.T) {
	client, server := muxPair(t)
	serve(server, NewRegistry(), newPeer(t))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s, err := SelectProtocol(ctx, client, ping.ProtocolID, newPeer(t))
	require.NoError(t, err)
	defer s.Close()

	rtt, err := ping.Ping(ctx, s)
	require.NoError(t, err)
	assert.Greater(t, rtt, time.Duration(0))
}

// ============================================================================
//                              身份交换测试
// ============================================================================

func TestExchange_Success(t *testing.T) {
	client, server := muxPair(t)
	clientID, serverID := newPeer(t), newPeer(t)

	clientReg := NewRegistry()
	require.NoError(t, clientReg.Register("/chat/1.0", func(s *Substream) { s.Close() }))

	clientNeg := NewNegotiator(clientID, clientReg, "client/1", func() []string {
		return []string{"/ip4/127.0.0.1/tcp/4001", "garbage"}
	})
	serverNeg := NewNegotiator(serverID, NewRegistry(), "server/1", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	type result struct {
		info *identify.IdentityInfo
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		info, err := serverNeg.Exchange(ctx, server, clientID, false)
		ch <- result{info, err}
	}()

	info, err := clientNeg.Exchange(ctx, client, serverID, true)
	require.NoError(t, err)
	assert.Equal(t, "server/1", info.UserAgent)
	assert.Equal(t, []string{string(ping.ProtocolID)}, info.Protocols)

	r := <-ch
	require.NoError(t, r.err)
	assert.Equal(t, "client/1", r.info.UserAgent)
	// 无法解析的地址被丢弃
	assert.Equal(t, []string{"/ip4/127.0.0.1/tcp/4001"}, r.info.Addresses)
	assert.Contains(t, r.info.ProtocolIDs(), types.ProtocolID("/chat/1.0"))
}

func TestExchange_IdentityMismatch(t *testing.T) {
	client, server := muxPair(t)
	clientID, serverID, other := newPeer(t), newPeer(t), newPeer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	go func() {
		_, _ = NewNegotiator(serverID, nil, "s", nil).Exchange(ctx, server, clientID, false)
	}()

	// 客户端认证的对端与服务端声明的身份不同
	_, err := NewNegotiator(clientID, nil, "c", nil).Exchange(ctx, client, other, true)
	var perr *Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, KindIdentity, perr.Kind)
}

func TestExchange_ResponderTimeout(t *testing.T) {
	_, server := muxPair(t)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	// 发起方从不打开身份子流
	_, err := NewNegotiator(newPeer(t), nil, "s", nil).Exchange(ctx, server, newPeer(t), false)
	var perr *Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, KindTimeout, perr.Kind)
}

func TestExchange_Cancelled(t *testing.T) {
	_, server := muxPair(t)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	_, err := NewNegotiator(newPeer(t), nil, "s", nil).Exchange(ctx, server, newPeer(t), false)
	var perr *Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, KindProtocol, perr.Kind)
}
