package connmgr

import (
	"context"
	"crypto/rand"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"testing"

	ma "github.com/multiformats/go-multiaddr"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-comms/internal/core/eventbus"
	"github.com/dep2p/go-comms/internal/core/identity"
	"github.com/dep2p/go-comms/internal/core/peermanager"
	"github.com/dep2p/go-comms/internal/core/protocol"
	"github.com/dep2p/go-comms/internal/core/transport/addrutil"
	"github.com/dep2p/go-comms/internal/core/transport/tcp"
	"github.com/dep2p/go-comms/internal/core/upgrader"
	"github.com/dep2p/go-comms/pkg/interfaces"
	"github.com/dep2p/go-comms/pkg/types"
)

// ============================================================================
//                              假传输
// ============================================================================

// fakeTransport 记录拨号顺序和关闭次数
type fakeTransport struct {
	mu     sync.Mutex
	dials  []string
	dialFn func(ctx context.Context, addr string) (net.Conn, error)
	closes atomic.Int32
}

var _ interfaces.Transport = (*fakeTransport)(nil)

func (f *fakeTransport) Dial(ctx context.Context, addr string) (net.Conn, error) {
	f.mu.Lock()
	f.dials = append(f.dials, addr)
	fn := f.dialFn
	f.mu.Unlock()

	if fn == nil {
		return nil, errors.New("connection refused")
	}
	c, err := fn(ctx, addr)
	if err != nil {
		return nil, err
	}
	return &trackedConn{Conn: c, onClose: func() { f.closes.Add(1) }}, nil
}

func (f *fakeTransport) CanDial(addr string) bool {
	m, err := addrutil.Parse(addr)
	return err == nil && addrutil.Has(m, ma.P_TCP)
}

func (f *fakeTransport) Listen(addr string) (interfaces.Listener, error) {
	return nil, errors.New("fake transport cannot listen")
}

func (f *fakeTransport) Name() string { return "fake" }

func (f *fakeTransport) Close() error { return nil }

func (f *fakeTransport) dialed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.dials...)
}

type trackedConn struct {
	net.Conn
	once    sync.Once
	onClose func()
}

func (c *trackedConn) Close() error {
	c.once.Do(c.onClose)
	return c.Conn.Close()
}

// blockingDial 阻塞到 ctx 结束
func blockingDial(ctx context.Context, _ string) (net.Conn, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

// stalledHandshake 返回一个对端只读走第一条握手消息的连接
//
// started 在对端收到第一条消息后关闭。
func stalledHandshake(started chan struct{}) func(context.Context, string) (net.Conn, error) {
	var once sync.Once
	return func(context.Context, string) (net.Conn, error) {
		local, remote := net.Pipe()
		go func() {
			defer remote.Close()
			buf := make([]byte, 1024)
			if _, err := remote.Read(buf); err != nil {
				return
			}
			once.Do(func() { close(started) })
			_, _ = remote.Read(buf)
		}()
		return local, nil
	}
}

// ============================================================================
//                              测试节点
// ============================================================================

type testNode struct {
	id    *identity.Identity
	peers *peermanager.Manager
	up    *upgrader.Upgrader
	bus   *eventbus.Bus
	mgr   *Manager
}

func newTestUpgrader(t *testing.T) (*identity.Identity, *peermanager.Manager, *upgrader.Upgrader) {
	t.Helper()
	id, err := identity.Generate(rand.Reader)
	require.NoError(t, err)
	pm := peermanager.New()
	up, err := upgrader.ProvideUpgrader(upgrader.ModuleInput{
		Identity:    id,
		PeerManager: pm,
		Registry:    protocol.NewRegistry(),
	})
	require.NoError(t, err)
	return id, pm, up
}

// newTestNode 创建测试节点，tpt 为 nil 时使用 TCP 传输
func newTestNode(t *testing.T, tpt interfaces.Transport, mutate func(*Config)) *testNode {
	t.Helper()
	id, pm, up := newTestUpgrader(t)
	if tpt == nil {
		tpt = tcp.New(0)
	}

	cfg := DefaultConfig()
	cfg.ListenAddrs = []string{"/ip4/127.0.0.1/tcp/0"}
	cfg.InboundRateLimit = 0
	if mutate != nil {
		mutate(&cfg)
	}

	bus := eventbus.NewBus()
	mgr, err := New(cfg, id.PeerIdentity(), tpt, up, WithPeerManager(pm), WithEventBus(bus))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = mgr.Close()
		_ = bus.Close()
		_ = tpt.Close()
	})
	return &testNode{id: id, peers: pm, up: up, bus: bus, mgr: mgr}
}

// newListeningNode 创建并启动监听的 TCP 节点
func newListeningNode(t *testing.T) *testNode {
	t.Helper()
	n := newTestNode(t, nil, nil)
	require.NoError(t, n.mgr.Start(context.Background()))
	require.Len(t, n.mgr.ListenAddrs(), 1)
	return n
}

func (n *testNode) nodeID() types.NodeID {
	return n.id.NodeID()
}

// tcpBacked 返回拨号委托给真实 TCP 的计数传输
func tcpBacked() *fakeTransport {
	t := tcp.New(0)
	return &fakeTransport{dialFn: t.Dial}
}
