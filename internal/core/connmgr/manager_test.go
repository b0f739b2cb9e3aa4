package connmgr

import (
	"context"
	"crypto/rand"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-comms/internal/core/identity"
	"github.com/dep2p/go-comms/internal/core/protocol"
	"github.com/dep2p/go-comms/pkg/types"
)

const waitFor = 5 * time.Second

func testCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// ============================================================================
//                              建立与复用
// ============================================================================

func TestManager_ConnectAndReuse(t *testing.T) {
	ctx := testCtx(t)
	a := newTestNode(t, nil, nil)
	b := newListeningNode(t)

	sub, err := a.bus.Subscribe(new(types.EvtPeerConnected))
	require.NoError(t, err)
	defer sub.Close()

	pc, err := a.mgr.Connect(ctx, b.nodeID(), b.mgr.ListenAddrs())
	require.NoError(t, err)
	assert.Equal(t, b.nodeID(), pc.NodeID())
	assert.Equal(t, b.id.PublicKey(), pc.RemoteIdentity().PublicKey)
	assert.Equal(t, types.DirOutbound, pc.Direction())
	assert.Equal(t, types.StateEstablished, pc.State())
	assert.NotEmpty(t, pc.ID())
	assert.Equal(t, "go-comms/0.1", pc.UserAgent())
	assert.Equal(t, b.mgr.ListenAddrs(), pc.ListenAddrs())

	// 已建立时直接返回同一句柄
	again, err := a.mgr.Connect(ctx, b.nodeID(), nil)
	require.NoError(t, err)
	assert.Same(t, pc, again)

	got, err := a.mgr.GetConnection(ctx, b.nodeID())
	require.NoError(t, err)
	assert.Same(t, pc, got)

	list, err := a.mgr.ListConnections(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	select {
	case ev := <-sub.Out():
		evt := ev.(types.EvtPeerConnected)
		assert.Equal(t, b.nodeID(), evt.NodeID)
		assert.Equal(t, pc.ID(), evt.ConnID)
		assert.Equal(t, types.DirOutbound, evt.Direction)
	case <-time.After(waitFor):
		t.Fatal("no connected event")
	}

	// 对端登记为入站连接
	require.Eventually(t, func() bool {
		in, err := b.mgr.GetConnection(ctx, a.nodeID())
		return err == nil && in.Direction() == types.DirInbound
	}, waitFor, 10*time.Millisecond)

	// 对端写入了节点目录
	rec, err := a.peers.FindByNodeID(ctx, b.nodeID())
	require.NoError(t, err)
	assert.Equal(t, b.id.PublicKey(), rec.PublicKey)
}

// TestManager_ConcurrentConnect 并发 Connect 合并为一次拨号，表中至多一个连接
func TestManager_ConcurrentConnect(t *testing.T) {
	ctx := testCtx(t)
	ft := tcpBacked()
	a := newTestNode(t, ft, nil)
	b := newListeningNode(t)

	const n = 8
	var wg sync.WaitGroup
	conns := make([]*PeerConnection, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conns[i], errs[i] = a.mgr.Connect(ctx, b.nodeID(), b.mgr.ListenAddrs())
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Same(t, conns[0], conns[i])
	}
	assert.Len(t, ft.dialed(), 1)

	list, err := a.mgr.ListConnections(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

// TestManager_CoalescedFailure 合并的等待者收到同一个失败结果
// 双方同时互拨时两端保留同一条连接：由 NodeID 较小一方拨出的那条
func TestManager_SimultaneousConnect(t *testing.T) {
	ctx := testCtx(t)
	a := newListeningNode(t)
	b := newListeningNode(t)

	wantA := types.DirInbound
	if a.nodeID().Less(b.nodeID()) {
		wantA = types.DirOutbound
	}

	connsOf := func(n *testNode) []*PeerConnection {
		list, err := n.mgr.ListConnections(ctx)
		require.NoError(t, err)
		return list
	}

	for round := 0; round < 5; round++ {
		var (
			wg       sync.WaitGroup
			pcA, pcB *PeerConnection
			errA     error
			errB     error
		)
		wg.Add(2)
		go func() {
			defer wg.Done()
			pcA, errA = a.mgr.Connect(ctx, b.nodeID(), b.mgr.ListenAddrs())
		}()
		go func() {
			defer wg.Done()
			pcB, errB = b.mgr.Connect(ctx, a.nodeID(), a.mgr.ListenAddrs())
		}()
		wg.Wait()
		require.NoError(t, errA, "round %d", round)
		require.NoError(t, errB, "round %d", round)

		require.Eventually(t, func() bool {
			la, lb := connsOf(a), connsOf(b)
			return len(la) == 1 && len(lb) == 1 &&
				la[0].Direction() == wantA && lb[0].Direction() != wantA &&
				la[0].State() == types.StateEstablished &&
				lb[0].State() == types.StateEstablished
		}, waitFor, 10*time.Millisecond, "round %d", round)

		// 调用方拿到的句柄指向保留下来的连接
		curA, err := a.mgr.GetConnection(ctx, b.nodeID())
		require.NoError(t, err)
		assert.Same(t, curA, pcA.Current())
		curB, err := b.mgr.GetConnection(ctx, a.nodeID())
		require.NoError(t, err)
		assert.Same(t, curB, pcB.Current())

		_, err = pcA.Ping(ctx)
		require.NoError(t, err, "round %d", round)
		_, err = pcB.Ping(ctx)
		require.NoError(t, err, "round %d", round)

		// 连接保持稳定
		time.Sleep(100 * time.Millisecond)
		assert.Len(t, connsOf(a), 1)
		assert.Len(t, connsOf(b), 1)

		require.NoError(t, a.mgr.Disconnect(ctx, b.nodeID()))
		require.Eventually(t, func() bool {
			return len(connsOf(a)) == 0 && len(connsOf(b)) == 0
		}, waitFor, 10*time.Millisecond, "round %d", round)
	}
}

// 出站连接已登记后到达的入站连接按同一规则替换或拒绝
func TestManager_DuplicateResolution(t *testing.T) {
	ctx := testCtx(t)
	a := newListeningNode(t)
	b := newListeningNode(t)

	sub, err := a.bus.Subscribe(new(types.EvtPeerDisconnected))
	require.NoError(t, err)
	defer sub.Close()

	out, err := a.mgr.Connect(ctx, b.nodeID(), b.mgr.ListenAddrs())
	require.NoError(t, err)

	// b 侧把这条连接登记为入站；之后 b 再拨 a 直接复用
	require.Eventually(t, func() bool {
		_, err := b.mgr.GetConnection(ctx, a.nodeID())
		return err == nil
	}, waitFor, 10*time.Millisecond)
	again, err := b.mgr.Connect(ctx, a.nodeID(), a.mgr.ListenAddrs())
	require.NoError(t, err)
	assert.Equal(t, types.DirInbound, again.Direction())

	// 绕过复用，直接让 b 拨出第二条连接交给 a
	c, err := b.mgr.dialer.Dial(ctx, DialRequest{NodeID: a.nodeID(), Addresses: a.mgr.ListenAddrs()})
	require.NoError(t, err)
	defer c.Close()

	if a.nodeID().Less(b.nodeID()) {
		// a 拨出的连接胜出，第二条被 a 拒绝
		require.Eventually(t, func() bool {
			select {
			case <-c.Muxer.CloseChan():
				return true
			default:
				return false
			}
		}, waitFor, 10*time.Millisecond)
		cur, err := a.mgr.GetConnection(ctx, b.nodeID())
		require.NoError(t, err)
		assert.Same(t, out, cur)
		return
	}

	// b 拨出的连接胜出，a 替换原出站连接
	select {
	case ev := <-sub.Out():
		evt := ev.(types.EvtPeerDisconnected)
		assert.Equal(t, out.ID(), evt.ConnID)
		assert.Equal(t, types.DisconnectReasonDuplicate, evt.Reason)
	case <-time.After(waitFor):
		t.Fatal("no disconnected event for the replaced connection")
	}
	cur, err := a.mgr.GetConnection(ctx, b.nodeID())
	require.NoError(t, err)
	assert.Equal(t, types.DirInbound, cur.Direction())
	assert.Same(t, cur, out.Current())
	assert.Equal(t, types.StateDisconnected, out.State())
}

func TestManager_CoalescedFailure(t *testing.T) {
	ctx := testCtx(t)
	release := make(chan struct{})
	ft := &fakeTransport{dialFn: func(ctx context.Context, _ string) (net.Conn, error) {
		select {
		case <-release:
			return nil, errors.New("connection refused")
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}}
	a := newTestNode(t, ft, nil)
	peer, err := identity.Generate(rand.Reader)
	require.NoError(t, err)

	const n = 5
	var (
		wg    sync.WaitGroup
		ready sync.WaitGroup
	)
	errs := make([]error, n)
	ready.Add(n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ready.Done()
			_, errs[i] = a.mgr.Connect(ctx, peer.NodeID(), testAddrs[:1])
		}(i)
	}
	ready.Wait()
	require.Eventually(t, func() bool { return len(ft.dialed()) == 1 }, waitFor, 5*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()

	for i := 0; i < n; i++ {
		require.ErrorIs(t, errs[i], ErrDialConnectFailedAllAddresses)
		assert.Same(t, errs[0], errs[i])
	}
	assert.Len(t, ft.dialed(), 1)
}

// ============================================================================
//                              失败路径
// ============================================================================

// TestManager_IdentityMismatch 身份不符时不登记连接，也不再尝试其他地址
func TestManager_IdentityMismatch(t *testing.T) {
	ctx := testCtx(t)
	ft := tcpBacked()
	a := newTestNode(t, ft, nil)
	b := newListeningNode(t)
	other, err := identity.Generate(rand.Reader)
	require.NoError(t, err)

	addrs := append(b.mgr.ListenAddrs(), "/ip4/127.0.0.1/tcp/1")
	_, err = a.mgr.Connect(ctx, b.nodeID(), addrs, WithExpectedKey(other.PublicKey()))
	require.ErrorIs(t, err, ErrDialedPublicKeyMismatch)

	var cmErr *ConnectionManagerError
	require.ErrorAs(t, err, &cmErr)
	assert.Equal(t, b.id.PublicKey().String(), cmErr.Authenticated)
	assert.Equal(t, other.PublicKey().String(), cmErr.Expected)
	assert.Len(t, ft.dialed(), 1)

	_, err = a.mgr.GetConnection(ctx, b.nodeID())
	assert.ErrorIs(t, err, ErrNotConnected)
}

// TestManager_Banned 封禁的节点不重试
func TestManager_Banned(t *testing.T) {
	ctx := testCtx(t)
	ft := tcpBacked()
	a := newTestNode(t, ft, nil)
	b := newListeningNode(t)
	require.NoError(t, a.peers.BanPeer(ctx, types.BanEntry{NodeID: b.nodeID(), Reason: "spam"}))

	addrs := append(b.mgr.ListenAddrs(), "/ip4/127.0.0.1/tcp/1")
	_, err := a.mgr.Connect(ctx, b.nodeID(), addrs)
	require.ErrorIs(t, err, ErrPeerBanned)
	assert.Len(t, ft.dialed(), 1)
}

func TestManager_DialSelf(t *testing.T) {
	a := newListeningNode(t)
	_, err := a.mgr.Connect(testCtx(t), a.nodeID(), a.mgr.ListenAddrs())
	assert.ErrorIs(t, err, ErrPeerValidation)
}

// TestManager_CancelReleasesSocket 握手中取消返回 DialCancelled 并释放连接
func TestManager_CancelReleasesSocket(t *testing.T) {
	started := make(chan struct{})
	ft := &fakeTransport{dialFn: stalledHandshake(started)}
	a := newTestNode(t, ft, nil)
	peer, err := identity.Generate(rand.Reader)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := a.mgr.Connect(ctx, peer.NodeID(), testAddrs[:1])
		errCh <- err
	}()

	select {
	case <-started:
	case <-time.After(waitFor):
		t.Fatal("handshake did not start")
	}
	cancel()

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, ErrDialCancelled)
	case <-time.After(waitFor):
		t.Fatal("connect did not return")
	}
	require.Eventually(t, func() bool { return ft.closes.Load() == 1 }, waitFor, 5*time.Millisecond)

	_, err = a.mgr.GetConnection(context.Background(), peer.NodeID())
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestManager_CancelDial(t *testing.T) {
	ctx := testCtx(t)
	ft := &fakeTransport{dialFn: blockingDial}
	a := newTestNode(t, ft, nil)
	peer, err := identity.Generate(rand.Reader)
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() {
		_, err := a.mgr.Connect(ctx, peer.NodeID(), testAddrs[:1])
		errCh <- err
	}()

	require.Eventually(t, func() bool {
		ok, err := a.mgr.CancelDial(ctx, peer.NodeID())
		return err == nil && ok
	}, waitFor, 5*time.Millisecond)

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, ErrDialCancelled)
	case <-time.After(waitFor):
		t.Fatal("connect did not return")
	}

	ok, err := a.mgr.CancelDial(ctx, peer.NodeID())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestManager_MaxConnections(t *testing.T) {
	ctx := testCtx(t)
	a := newTestNode(t, nil, func(c *Config) { c.MaxConnections = 1 })
	b := newListeningNode(t)
	c := newListeningNode(t)

	_, err := a.mgr.Connect(ctx, b.nodeID(), b.mgr.ListenAddrs())
	require.NoError(t, err)

	_, err = a.mgr.Connect(ctx, c.nodeID(), c.mgr.ListenAddrs())
	require.ErrorIs(t, err, ErrMaximumConnectionsReached)
}

// ============================================================================
//                              断开
// ============================================================================

// TestManager_DisconnectInvalidatesHandle 断开后旧句柄上的操作失败
func TestManager_DisconnectInvalidatesHandle(t *testing.T) {
	ctx := testCtx(t)
	a := newTestNode(t, nil, nil)
	b := newListeningNode(t)

	sub, err := a.bus.Subscribe(new(types.EvtPeerDisconnected))
	require.NoError(t, err)
	defer sub.Close()

	pc, err := a.mgr.Connect(ctx, b.nodeID(), b.mgr.ListenAddrs())
	require.NoError(t, err)

	require.NoError(t, a.mgr.Disconnect(ctx, b.nodeID()))

	_, err = a.mgr.GetConnection(ctx, b.nodeID())
	assert.ErrorIs(t, err, ErrNotConnected)

	_, err = pc.OpenSubstream(ctx, "/test/echo/1.0")
	require.ErrorIs(t, err, ErrInternalRequestSendFailed)
	assert.Equal(t, types.StateDisconnected, pc.State())

	// 幂等
	require.NoError(t, a.mgr.Disconnect(ctx, b.nodeID()))
	require.NoError(t, pc.Disconnect(ctx))

	select {
	case ev := <-sub.Out():
		evt := ev.(types.EvtPeerDisconnected)
		assert.Equal(t, b.nodeID(), evt.NodeID)
		assert.Equal(t, types.DisconnectReasonLocal, evt.Reason)
	case <-time.After(waitFor):
		t.Fatal("no disconnected event")
	}

	select {
	case <-pc.Done():
	case <-time.After(waitFor):
		t.Fatal("supervisor did not exit")
	}

	// 对端检测到会话关闭后移除表项
	require.Eventually(t, func() bool {
		_, err := b.mgr.GetConnection(ctx, a.nodeID())
		return errors.Is(err, ErrNotConnected)
	}, waitFor, 10*time.Millisecond)
}

// TestManager_HandleDisconnect 通过句柄断开，Actor 收到通知后移除表项
func TestManager_HandleDisconnect(t *testing.T) {
	ctx := testCtx(t)
	a := newTestNode(t, nil, nil)
	b := newListeningNode(t)

	pc, err := a.mgr.Connect(ctx, b.nodeID(), b.mgr.ListenAddrs())
	require.NoError(t, err)
	require.NoError(t, pc.Disconnect(ctx))
	assert.Equal(t, types.DisconnectReasonLocal, pc.Reason())

	require.Eventually(t, func() bool {
		_, err := a.mgr.GetConnection(ctx, b.nodeID())
		return errors.Is(err, ErrNotConnected)
	}, waitFor, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		_, err := b.mgr.GetConnection(ctx, a.nodeID())
		return errors.Is(err, ErrNotConnected)
	}, waitFor, 10*time.Millisecond)

	// 断开后可以重新连接
	again, err := a.mgr.Connect(ctx, b.nodeID(), b.mgr.ListenAddrs())
	require.NoError(t, err)
	assert.NotEqual(t, pc.ID(), again.ID())
}

// ============================================================================
//                              子流
// ============================================================================

func TestManager_Substream(t *testing.T) {
	ctx := testCtx(t)
	a := newTestNode(t, nil, nil)
	b := newListeningNode(t)

	const echo = types.ProtocolID("/test/echo/1.0")
	require.NoError(t, b.mgr.SetProtocolHandler(echo, func(s *protocol.Substream) {
		defer s.Close()
		_, _ = io.Copy(s, s)
	}))

	pc, err := a.mgr.Connect(ctx, b.nodeID(), b.mgr.ListenAddrs())
	require.NoError(t, err)
	assert.Contains(t, pc.Protocols(), echo)

	s, err := pc.OpenSubstream(ctx, echo)
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, echo, s.Protocol())
	assert.Equal(t, b.nodeID(), s.RemotePeer().NodeID)

	_, err = s.Write([]byte("hello"))
	require.NoError(t, err)
	buf := make([]byte, 5)
	_, err = io.ReadFull(s, buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf))

	open := pc.NumSubstreams()
	assert.GreaterOrEqual(t, open, 1)
	assert.Equal(t, open, a.mgr.openSubstreams())
	require.NoError(t, s.Close())
	assert.Equal(t, open-1, pc.NumSubstreams())

	rtt, err := pc.Ping(ctx)
	require.NoError(t, err)
	assert.Positive(t, rtt)

	_, err = pc.OpenSubstream(ctx, "/test/unknown/1.0")
	assert.ErrorIs(t, err, ErrProtocol)
}

// ============================================================================
//                              监听与关闭
// ============================================================================

// TestManager_ListenerBindFailure 单个地址绑定失败不影响其他地址
func TestManager_ListenerBindFailure(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer busy.Close()
	busyAddr := "/ip4/127.0.0.1/tcp/" + portOf(t, busy.Addr())

	a := newTestNode(t, nil, func(c *Config) {
		c.ListenAddrs = []string{busyAddr, "/ip4/127.0.0.1/tcp/0"}
	})

	err = a.mgr.Start(testCtx(t))
	require.ErrorIs(t, err, ErrListener)

	var cmErr *ConnectionManagerError
	require.ErrorAs(t, err, &cmErr)
	assert.Equal(t, busyAddr, cmErr.Address)
	assert.Len(t, a.mgr.ListenAddrs(), 1)

	// 另一个监听器正常工作
	b := newTestNode(t, nil, nil)
	_, err = b.mgr.Connect(testCtx(t), a.nodeID(), a.mgr.ListenAddrs())
	require.NoError(t, err)
}

func TestManager_ListenerOneshotCancelled(t *testing.T) {
	a := newTestNode(t, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := a.mgr.Start(ctx)
	if err != nil {
		// 绑定与取消竞争，任一结果都合法，但失败只能是就绪信号取消
		require.ErrorIs(t, err, ErrListenerOneshotCancelled)
		assert.Empty(t, a.mgr.ListenAddrs())
	}
}

func TestManager_Close(t *testing.T) {
	ctx := testCtx(t)
	ft := &fakeTransport{dialFn: blockingDial}
	a := newTestNode(t, ft, nil)
	peer, err := identity.Generate(rand.Reader)
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() {
		_, err := a.mgr.Connect(ctx, peer.NodeID(), testAddrs[:1])
		errCh <- err
	}()
	require.Eventually(t, func() bool { return len(ft.dialed()) == 1 }, waitFor, 5*time.Millisecond)

	require.NoError(t, a.mgr.Close())
	require.NoError(t, a.mgr.Close())

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, ErrActorRequestCanceled)
	case <-time.After(waitFor):
		t.Fatal("connect did not return")
	}

	_, err = a.mgr.Connect(ctx, peer.NodeID(), testAddrs[:1])
	assert.ErrorIs(t, err, ErrSendToActorFailed)
	_, err = a.mgr.ListConnections(ctx)
	assert.ErrorIs(t, err, ErrSendToActorFailed)
}

// TestManager_CloseDisconnectsPeers 关闭时断开所有连接
func TestManager_CloseDisconnectsPeers(t *testing.T) {
	ctx := testCtx(t)
	a := newTestNode(t, nil, nil)
	b := newListeningNode(t)

	pc, err := a.mgr.Connect(ctx, b.nodeID(), b.mgr.ListenAddrs())
	require.NoError(t, err)

	require.NoError(t, a.mgr.Close())
	assert.Equal(t, types.DisconnectReasonShutdown, pc.Reason())

	require.Eventually(t, func() bool {
		_, err := b.mgr.GetConnection(ctx, a.nodeID())
		return errors.Is(err, ErrNotConnected)
	}, waitFor, 10*time.Millisecond)
}

func portOf(t *testing.T, addr net.Addr) string {
	t.Helper()
	_, port, err := net.SplitHostPort(addr.String())
	require.NoError(t, err)
	return port
}
