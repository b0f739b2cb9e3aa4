package peermanager

import (
	"go.uber.org/fx"

	"github.com/dep2p/go-comms/pkg/interfaces"
)

// ModuleOutput 模块输出
type ModuleOutput struct {
	fx.Out

	Manager     *Manager
	PeerManager interfaces.PeerManager
}

// ProvidePeerManager 提供内存节点目录
func ProvidePeerManager() ModuleOutput {
	m := New()
	return ModuleOutput{Manager: m, PeerManager: m}
}

// Module 是 peermanager 的 Fx 模块
var Module = fx.Module("peermanager",
	fx.Provide(ProvidePeerManager),
)
