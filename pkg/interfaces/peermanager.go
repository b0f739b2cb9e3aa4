package interfaces

import (
	"context"

	"github.com/dep2p/go-comms/pkg/types"
)

// PeerManager 节点目录与封禁列表
//
// 由外部组件实现，连接管理器只读取封禁状态和目录记录。
// 返回的错误原样透传给调用方。
type PeerManager interface {
	// IsBanned 查询封禁状态，未封禁时 ok 为 false
	IsBanned(ctx context.Context, id types.NodeID) (entry types.BanEntry, ok bool, err error)

	// FindByNodeID 查询目录记录，不存在时返回 types.ErrPeerNotFound
	FindByNodeID(ctx context.Context, id types.NodeID) (*types.PeerRecord, error)

	// AddPeer 添加或更新目录记录
	AddPeer(ctx context.Context, rec types.PeerRecord) error

	// BanPeer 封禁节点
	BanPeer(ctx context.Context, entry types.BanEntry) error
}
