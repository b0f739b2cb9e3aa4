package peervalidator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/dep2p/go-comms/pkg/interfaces"
	"github.com/dep2p/go-comms/pkg/lib/log"
	"github.com/dep2p/go-comms/pkg/types"
)

var logger = log.Logger("core/peervalidator")

// Error 目录一致性校验失败
type Error struct {
	Cause string
}

func (e *Error) Error() string {
	return "peer validation failed: " + e.Cause
}

// BannedError 对端被封禁
type BannedError struct {
	NodeID types.NodeID
	Reason string
	Until  time.Time
}

func (e *BannedError) Error() string {
	if e.Until.IsZero() {
		return fmt.Sprintf("peer %s is banned: %s", e.NodeID, e.Reason)
	}
	return fmt.Sprintf("peer %s is banned until %s: %s", e.NodeID, e.Until.Format(time.RFC3339), e.Reason)
}

// Validator 节点校验器
type Validator struct {
	local types.NodeID
	peers interfaces.PeerManager
	clock clock.Clock
}

// New 创建校验器
//
// peers 为 nil 时跳过封禁和目录检查。
func New(local types.NodeID, peers interfaces.PeerManager, clk clock.Clock) *Validator {
	if clk == nil {
		clk = clock.New()
	}
	return &Validator{local: local, peers: peers, clock: clk}
}

// Validate 检查经过认证的对端
func (v *Validator) Validate(ctx context.Context, remote types.PeerIdentity) error {
	if types.NodeIDFromPublicKey(remote.PublicKey) != remote.NodeID {
		return &Error{Cause: "node id is not derived from public key"}
	}
	if remote.NodeID == v.local {
		return &Error{Cause: "connection to self"}
	}
	if v.peers == nil {
		return nil
	}

	ban, banned, err := v.peers.IsBanned(ctx, remote.NodeID)
	if err != nil {
		return types.NewPeerManagerError("is banned", err)
	}
	if banned && ban.Active(v.clock.Now()) {
		logger.Debug("拒绝被封禁的节点", "nodeID", remote.NodeID.ShortString(), "reason", ban.Reason)
		return &BannedError{NodeID: remote.NodeID, Reason: ban.Reason, Until: ban.Until}
	}

	rec, err := v.peers.FindByNodeID(ctx, remote.NodeID)
	switch {
	case errors.Is(err, types.ErrPeerNotFound):
		return nil
	case err != nil:
		return types.NewPeerManagerError("find by node id", err)
	}
	if !rec.PublicKey.IsZero() && rec.PublicKey != remote.PublicKey {
		return &Error{Cause: "public key does not match directory record"}
	}
	return nil
}
