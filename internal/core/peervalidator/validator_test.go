package peervalidator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-comms/internal/core/peermanager"
	"github.com/dep2p/go-comms/pkg/types"
)

func testIdentity(b byte) types.PeerIdentity {
	var pk types.PublicKey
	for i := range pk {
		pk[i] = b + byte(i)
	}
	return types.NewPeerIdentity(pk)
}

// failingPeers 总是返回错误的目录
type failingPeers struct{ *peermanager.Manager }

func (*failingPeers) IsBanned(context.Context, types.NodeID) (types.BanEntry, bool, error) {
	return types.BanEntry{}, false, errors.New("db offline")
}

func TestValidate(t *testing.T) {
	ctx := context.Background()
	local, remote := testIdentity(1), testIdentity(2)
	mock := clock.NewMock()
	pm := peermanager.New(peermanager.WithClock(mock))
	v := New(local.NodeID, pm, mock)

	require.NoError(t, v.Validate(ctx, remote))

	// 连接自己
	var verr *Error
	require.ErrorAs(t, v.Validate(ctx, local), &verr)

	// 伪造的节点 ID
	forged := remote
	forged.NodeID = testIdentity(3).NodeID
	require.ErrorAs(t, v.Validate(ctx, forged), &verr)
}

func TestValidate_Banned(t *testing.T) {
	ctx := context.Background()
	local, remote := testIdentity(1), testIdentity(2)
	mock := clock.NewMock()
	pm := peermanager.New(peermanager.WithClock(mock))
	v := New(local.NodeID, pm, mock)

	require.NoError(t, pm.BanPeer(ctx, types.BanEntry{NodeID: remote.NodeID, Reason: "abuse", Until: mock.Now().Add(time.Hour)}))

	var banned *BannedError
	require.ErrorAs(t, v.Validate(ctx, remote), &banned)
	assert.Equal(t, "abuse", banned.Reason)
	assert.Contains(t, banned.Error(), "until")

	mock.Add(2 * time.Hour)
	require.NoError(t, v.Validate(ctx, remote))
}

func TestValidate_DirectoryMismatch(t *testing.T) {
	ctx := context.Background()
	remote := testIdentity(2)
	pm := peermanager.New()
	v := New(testIdentity(1).NodeID, pm, nil)

	require.NoError(t, pm.AddPeer(ctx, types.PeerRecord{NodeID: remote.NodeID, PublicKey: remote.PublicKey}))
	require.NoError(t, v.Validate(ctx, remote))

	// 目录记录的公钥与认证结果不符（绕过 AddPeer 的派生检查）
	stub := &stubPeers{Manager: peermanager.New(), rec: &types.PeerRecord{NodeID: remote.NodeID, PublicKey: testIdentity(9).PublicKey}}
	var verr *Error
	require.ErrorAs(t, New(testIdentity(1).NodeID, stub, nil).Validate(ctx, remote), &verr)
}

func TestValidate_PeerManagerError(t *testing.T) {
	v := New(testIdentity(1).NodeID, &failingPeers{Manager: peermanager.New()}, nil)

	var pmErr *types.PeerManagerError
	require.ErrorAs(t, v.Validate(context.Background(), testIdentity(2)), &pmErr)
	assert.Equal(t, "is banned", pmErr.Op)
	assert.Equal(t, "db offline", pmErr.Cause)
}

type stubPeers struct {
	*peermanager.Manager
	rec *types.PeerRecord
}

func (s *stubPeers) IsBanned(context.Context, types.NodeID) (types.BanEntry, bool, error) {
	return types.BanEntry{}, false, nil
}

func (s *stubPeers) FindByNodeID(context.Context, types.NodeID) (*types.PeerRecord, error) {
	return s.rec, nil
}
