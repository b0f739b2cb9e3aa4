package upgrader

import (
	"time"

	"github.com/dep2p/go-comms/config"
)

// Timeouts 各阶段超时
type Timeouts struct {
	// Handshake Noise 握手超时（同时约束节点校验）
	Handshake time.Duration

	// Multiplexing 多路复用升级超时
	Multiplexing time.Duration

	// Negotiation 身份交换超时
	Negotiation time.Duration
}

// DefaultTimeouts 返回默认超时
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Handshake:    10 * time.Second,
		Multiplexing: 5 * time.Second,
		Negotiation:  10 * time.Second,
	}
}

// TimeoutsFromConfig 从配置读取超时
func TimeoutsFromConfig(cfg config.PhaseTimeouts) Timeouts {
	t := DefaultTimeouts()
	if cfg.Handshake > 0 {
		t.Handshake = cfg.Handshake.Duration()
	}
	if cfg.Multiplexing > 0 {
		t.Multiplexing = cfg.Multiplexing.Duration()
	}
	if cfg.Negotiation > 0 {
		t.Negotiation = cfg.Negotiation.Duration()
	}
	return t
}

// Total 返回升级总时长上限
func (t Timeouts) Total() time.Duration {
	return t.Handshake + t.Multiplexing + t.Negotiation
}
