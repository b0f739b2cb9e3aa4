package connmgr

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-comms/pkg/types"
)

var testAddrs = []string{
	"/ip4/127.0.0.1/tcp/4001",
	"/ip4/127.0.0.1/tcp/4002",
	"/ip4/127.0.0.1/tcp/4003",
	"/ip4/127.0.0.1/tcp/4004",
}

func newTestDialer(t *testing.T, ft *fakeTransport, mutate func(*Config)) (*Dialer, types.NodeID) {
	t.Helper()
	_, _, up := newTestUpgrader(t)
	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	d, err := NewDialer(ft, up, cfg, nil, nil)
	require.NoError(t, err)

	target, _, _ := newTestUpgrader(t)
	return d, target.NodeID()
}

// TestDialer_AllExcluded 全部地址被排除时不发起任何网络尝试
func TestDialer_AllExcluded(t *testing.T) {
	ft := &fakeTransport{}
	d, target := newTestDialer(t, ft, func(c *Config) {
		c.ExcludedAddresses = []string{testAddrs[0]}
	})

	_, err := d.Dial(context.Background(), DialRequest{
		NodeID:     target,
		Addresses:  testAddrs[:2],
		Exclusions: []string{testAddrs[1]},
	})
	require.ErrorIs(t, err, ErrAllPeerAddressesAreExcluded)
	assert.Empty(t, ft.dialed())
}

// TestDialer_AllAddressesFail 每个地址按顺序恰好尝试一次
func TestDialer_AllAddressesFail(t *testing.T) {
	ft := &fakeTransport{}
	d, target := newTestDialer(t, ft, nil)

	addrs := testAddrs[:3]
	_, err := d.Dial(context.Background(), DialRequest{NodeID: target, Addresses: addrs})
	require.ErrorIs(t, err, ErrDialConnectFailedAllAddresses)
	assert.Equal(t, addrs, ft.dialed())

	t.Log("✅ 所有地址失败后返回 DialConnectFailedAllAddresses")
}

// TestDialer_Duplicates 重复地址只尝试一次
func TestDialer_Duplicates(t *testing.T) {
	ft := &fakeTransport{}
	d, target := newTestDialer(t, ft, nil)

	_, err := d.Dial(context.Background(), DialRequest{
		NodeID:    target,
		Addresses: []string{testAddrs[0], testAddrs[1], testAddrs[0]},
	})
	require.ErrorIs(t, err, ErrDialConnectFailedAllAddresses)
	assert.Equal(t, testAddrs[:2], ft.dialed())
}

// TestDialer_MaxAttempts 全局尝试次数上限
func TestDialer_MaxAttempts(t *testing.T) {
	ft := &fakeTransport{}
	d, target := newTestDialer(t, ft, func(c *Config) {
		c.MaxDialAttempts = 2
	})

	_, err := d.Dial(context.Background(), DialRequest{NodeID: target, Addresses: testAddrs})
	require.ErrorIs(t, err, ErrConnectFailedMaximumAttemptsReached)
	assert.Len(t, ft.dialed(), 2)
}

// TestDialer_NoContactableAddresses 地址无法解析或没有传输
func TestDialer_NoContactableAddresses(t *testing.T) {
	ft := &fakeTransport{}
	d, target := newTestDialer(t, ft, nil)

	_, err := d.Dial(context.Background(), DialRequest{
		NodeID:    target,
		Addresses: []string{"not-a-multiaddr", "/ip4/127.0.0.1/udp/4001/quic-v1"},
	})
	require.ErrorIs(t, err, ErrNoContactableAddressesForPeer)
	assert.Empty(t, ft.dialed())
}

// TestDialer_LastGoodFirst 最近成功的地址优先
func TestDialer_LastGoodFirst(t *testing.T) {
	ft := &fakeTransport{}
	d, target := newTestDialer(t, ft, nil)
	d.lastGood.Add(target, testAddrs[2])

	_, err := d.Dial(context.Background(), DialRequest{NodeID: target, Addresses: testAddrs[:3]})
	require.ErrorIs(t, err, ErrDialConnectFailedAllAddresses)
	assert.Equal(t, []string{testAddrs[2], testAddrs[0], testAddrs[1]}, ft.dialed())
}

// TestDialer_CancelMidHandshake 握手中取消释放底层连接
func TestDialer_CancelMidHandshake(t *testing.T) {
	started := make(chan struct{})
	ft := &fakeTransport{dialFn: stalledHandshake(started)}
	d, target := newTestDialer(t, ft, nil)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := d.Dial(ctx, DialRequest{NodeID: target, Addresses: testAddrs[:2]})
		errCh <- err
	}()

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("handshake did not start")
	}
	cancel()

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, ErrDialCancelled)
		assert.NotErrorIs(t, err, ErrProtocolNegotiationTimeout)
	case <-time.After(5 * time.Second):
		t.Fatal("dial did not return after cancel")
	}

	assert.Equal(t, int32(1), ft.closes.Load())
	assert.Len(t, ft.dialed(), 1, "取消后不再尝试后续地址")
}

// TestDialer_HandshakeFailureAdvances 握手失败后推进到下一个地址
func TestDialer_HandshakeFailureAdvances(t *testing.T) {
	ft := &fakeTransport{}
	ft.dialFn = func(context.Context, string) (net.Conn, error) {
		local, remote := net.Pipe()
		_ = remote.Close()
		return local, nil
	}
	d, target := newTestDialer(t, ft, nil)

	_, err := d.Dial(context.Background(), DialRequest{NodeID: target, Addresses: testAddrs[:3]})
	require.ErrorIs(t, err, ErrDialConnectFailedAllAddresses)
	assert.Len(t, ft.dialed(), 3)
	assert.Equal(t, int32(3), ft.closes.Load())
}
