package types

import "time"

// ============================================================================
//                              连接事件
// ============================================================================

// DisconnectReason 断开原因
type DisconnectReason int

const (
	// DisconnectReasonUnknown 未知原因
	DisconnectReasonUnknown DisconnectReason = iota
	// DisconnectReasonLocal 本地主动断开
	DisconnectReasonLocal
	// DisconnectReasonRemote 对端关闭或会话失效
	DisconnectReasonRemote
	// DisconnectReasonShutdown 连接管理器关闭
	DisconnectReasonShutdown
	// DisconnectReasonDuplicate 与同一节点的另一条连接重复，被替换
	DisconnectReasonDuplicate
)

// String 返回断开原因的字符串表示
func (r DisconnectReason) String() string {
	switch r {
	case DisconnectReasonLocal:
		return "local"
	case DisconnectReasonRemote:
		return "remote"
	case DisconnectReasonShutdown:
		return "shutdown"
	case DisconnectReasonDuplicate:
		return "duplicate"
	default:
		return "unknown"
	}
}

// EvtPeerConnected 节点连接建立事件
type EvtPeerConnected struct {
	NodeID    NodeID
	ConnID    string
	Direction Direction
	Address   string
	Time      time.Time
}

// EvtPeerDisconnected 节点断开事件
type EvtPeerDisconnected struct {
	NodeID    NodeID
	ConnID    string
	Direction Direction
	Reason    DisconnectReason
	Time      time.Time
}

// EvtPeerConnectFailed 连接建立失败事件
//
// Err 为不可变错误值，可安全共享。
type EvtPeerConnectFailed struct {
	NodeID    NodeID
	Direction Direction
	Err       error
	Time      time.Time
}
