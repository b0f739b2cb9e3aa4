package comms

import (
	"github.com/dep2p/go-comms/internal/core/connmgr"
	"github.com/dep2p/go-comms/internal/core/protocol"
)

// ════════════════════════════════════════════════════════════════════════════
//                              类型别名
// ════════════════════════════════════════════════════════════════════════════

type (
	// PeerConnection 到单个对端的已建立连接句柄
	PeerConnection = connmgr.PeerConnection

	// DialOption Connect 选项
	DialOption = connmgr.DialOption

	// Substream 已协商协议的子流
	Substream = protocol.Substream

	// StreamHandler 入站子流处理器
	StreamHandler = protocol.StreamHandler

	// ConnectionManagerError 连接管理器错误，Kind 标识分类
	ConnectionManagerError = connmgr.ConnectionManagerError

	// PeerConnectionError 连接句柄上的操作错误
	PeerConnectionError = connmgr.PeerConnectionError
)

var (
	// WithExpectedKey 要求对端认证出的公钥等于 pk
	WithExpectedKey = connmgr.WithExpectedKey

	// WithExclusions 本次 Connect 额外排除的地址
	WithExclusions = connmgr.WithExclusions
)
