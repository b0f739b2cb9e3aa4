package peermanager

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-comms/pkg/types"
)

func testIdentity(b byte) types.PeerIdentity {
	var pk types.PublicKey
	for i := range pk {
		pk[i] = b + byte(i)
	}
	return types.NewPeerIdentity(pk)
}

func TestBan_Expiry(t *testing.T) {
	mock := clock.NewMock()
	m := New(WithClock(mock))
	ctx := context.Background()
	id := testIdentity(1).NodeID

	_, banned, err := m.IsBanned(ctx, id)
	require.NoError(t, err)
	assert.False(t, banned)

	require.NoError(t, m.BanPeer(ctx, types.BanEntry{NodeID: id, Reason: "spam", Until: mock.Now().Add(time.Minute)}))
	entry, banned, err := m.IsBanned(ctx, id)
	require.NoError(t, err)
	assert.True(t, banned)
	assert.Equal(t, "spam", entry.Reason)

	mock.Add(2 * time.Minute)
	_, banned, err = m.IsBanned(ctx, id)
	require.NoError(t, err)
	assert.False(t, banned)

	// 永久封禁与解除
	require.NoError(t, m.BanPeer(ctx, types.BanEntry{NodeID: id}))
	mock.Add(24 * time.Hour)
	_, banned, _ = m.IsBanned(ctx, id)
	assert.True(t, banned)
	require.NoError(t, m.UnbanPeer(ctx, id))
	_, banned, _ = m.IsBanned(ctx, id)
	assert.False(t, banned)

	assert.ErrorIs(t, m.BanPeer(ctx, types.BanEntry{}), types.ErrEmptyNodeID)
}

func TestAddPeer_Merge(t *testing.T) {
	m := New()
	ctx := context.Background()
	id := testIdentity(2)

	_, err := m.FindByNodeID(ctx, id.NodeID)
	assert.ErrorIs(t, err, types.ErrPeerNotFound)

	require.NoError(t, m.AddPeer(ctx, types.PeerRecord{NodeID: id.NodeID, PublicKey: id.PublicKey, Addresses: []string{"a", "b"}}))
	require.NoError(t, m.AddPeer(ctx, types.PeerRecord{NodeID: id.NodeID, Addresses: []string{"b", "c"}, UserAgent: "ua"}))

	rec, err := m.FindByNodeID(ctx, id.NodeID)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, rec.Addresses)
	assert.Equal(t, "ua", rec.UserAgent)
	assert.Equal(t, id, rec.Identity())

	// 返回副本
	rec.Addresses[0] = "mutated"
	again, _ := m.FindByNodeID(ctx, id.NodeID)
	assert.Equal(t, "a", again.Addresses[0])

	assert.Len(t, m.Peers(), 1)
}

func TestAddPeer_Invalid(t *testing.T) {
	m := New()
	ctx := context.Background()
	id, other := testIdentity(3), testIdentity(4)

	assert.ErrorIs(t, m.AddPeer(ctx, types.PeerRecord{}), types.ErrEmptyNodeID)
	assert.ErrorIs(t, m.AddPeer(ctx, types.PeerRecord{NodeID: id.NodeID, PublicKey: other.PublicKey}), types.ErrInvalidNodeID)

	// 只有 NodeID 的记录之后可以补充公钥
	require.NoError(t, m.AddPeer(ctx, types.PeerRecord{NodeID: id.NodeID}))
	require.NoError(t, m.AddPeer(ctx, types.PeerRecord{NodeID: id.NodeID, PublicKey: id.PublicKey}))
}

func TestCancelledContext(t *testing.T) {
	m := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := m.IsBanned(ctx, testIdentity(5).NodeID)
	assert.ErrorIs(t, err, context.Canceled)
}
