package connmgr

import (
	"context"

	"go.uber.org/fx"

	"github.com/dep2p/go-comms/config"
	"github.com/dep2p/go-comms/internal/core/identity"
	"github.com/dep2p/go-comms/internal/core/metrics"
	"github.com/dep2p/go-comms/internal/core/upgrader"
	"github.com/dep2p/go-comms/pkg/interfaces"
)

// ModuleInput 模块输入
type ModuleInput struct {
	fx.In

	Config      *config.Config `optional:"true"`
	Identity    *identity.Identity
	Transport   interfaces.Transport
	Upgrader    *upgrader.Upgrader
	PeerManager interfaces.PeerManager `optional:"true"`
	EventBus    interfaces.EventBus    `optional:"true"`
	Metrics     *metrics.Metrics       `optional:"true"`
}

// ProvideManager 提供连接管理器
//
// 启动时绑定监听地址。部分地址绑定失败只记录警告，全部失败时启动失败。
func ProvideManager(lc fx.Lifecycle, input ModuleInput) (*Manager, error) {
	cfg := ConfigFromUnified(input.Config)
	m, err := New(cfg, input.Identity.PeerIdentity(), input.Transport, input.Upgrader,
		WithPeerManager(input.PeerManager),
		WithEventBus(input.EventBus),
		WithMetrics(input.Metrics),
	)
	if err != nil {
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			err := m.Start(ctx)
			if err != nil && len(m.ListenAddrs()) == 0 && len(cfg.ListenAddrs) > 0 {
				return err
			}
			if err != nil {
				logger.Warn("部分监听地址不可用", "error", err)
			}
			logger.Info("连接管理器已启动",
				"node", input.Identity.NodeID().String(),
				"addrs", m.ListenAddrs())
			return nil
		},
		OnStop: func(context.Context) error {
			return m.Close()
		},
	})
	return m, nil
}

// Module 是 connmgr 的 Fx 模块
var Module = fx.Module("connmgr",
	fx.Provide(ProvideManager),
)
