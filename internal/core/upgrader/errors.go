package upgrader

import (
	"errors"
	"fmt"
)

// Phase 升级阶段
type Phase int

const (
	// PhaseHandshake Noise 握手
	PhaseHandshake Phase = iota + 1
	// PhaseValidation 节点校验
	PhaseValidation
	// PhaseMultiplexing 多路复用升级
	PhaseMultiplexing
	// PhaseNegotiation 身份交换
	PhaseNegotiation
)

// String 返回阶段名称
func (p Phase) String() string {
	switch p {
	case PhaseHandshake:
		return "handshake"
	case PhaseValidation:
		return "validation"
	case PhaseMultiplexing:
		return "multiplexing"
	case PhaseNegotiation:
		return "negotiation"
	default:
		return "unknown"
	}
}

// PhaseError 阶段失败
type PhaseError struct {
	Phase Phase
	Err   error
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("upgrade %s: %v", e.Phase, e.Err)
}

func (e *PhaseError) Unwrap() error {
	return e.Err
}

// ErrNilComponent 缺少必需组件
var ErrNilComponent = errors.New("upgrader: missing component")
