package types

// ============================================================================
//                              Direction - 连接方向
// ============================================================================

// Direction 连接方向，创建时确定，之后不可变
type Direction int

const (
	// DirUnknown 未知方向
	DirUnknown Direction = iota
	// DirInbound 入站连接
	DirInbound
	// DirOutbound 出站连接
	DirOutbound
)

// String 返回方向的字符串表示
func (d Direction) String() string {
	switch d {
	case DirInbound:
		return "inbound"
	case DirOutbound:
		return "outbound"
	default:
		return "unknown"
	}
}

// IsInitiator 本端是否为发起者
func (d Direction) IsInitiator() bool {
	return d == DirOutbound
}

// ============================================================================
//                              ConnState - 连接状态
// ============================================================================

// ConnState 单个连接尝试的生命周期状态
//
//	Connecting → Authenticating → Validating → Multiplexing → Negotiating → Established → Disconnected
//
// 任何非终态都可以直接进入 Failed。Disconnected 和 Failed 为终态。
type ConnState int32

const (
	// StateConnecting 传输层连接中
	StateConnecting ConnState = iota
	// StateAuthenticating Noise 握手中
	StateAuthenticating
	// StateValidating 节点校验中
	StateValidating
	// StateMultiplexing Yamux 升级中
	StateMultiplexing
	// StateNegotiating 身份/协议协商中
	StateNegotiating
	// StateEstablished 已建立，唯一允许子流操作的状态
	StateEstablished
	// StateDisconnected 已断开（终态）
	StateDisconnected
	// StateFailed 失败（终态）
	StateFailed
)

// String 返回状态名称
func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateValidating:
		return "validating"
	case StateMultiplexing:
		return "multiplexing"
	case StateNegotiating:
		return "negotiating"
	case StateEstablished:
		return "established"
	case StateDisconnected:
		return "disconnected"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// IsTerminal 是否为终态
func (s ConnState) IsTerminal() bool {
	return s == StateDisconnected || s == StateFailed
}

// CanTransitionTo 检查状态迁移是否合法
func (s ConnState) CanTransitionTo(next ConnState) bool {
	if s.IsTerminal() {
		return false
	}
	switch next {
	case StateFailed:
		// Established 之后的断开走 Disconnected
		return s != StateEstablished
	case StateDisconnected:
		return s == StateEstablished
	default:
		return next == s+1
	}
}
