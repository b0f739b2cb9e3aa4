package upgrader

import (
	"github.com/benbjohnson/clock"
	"go.uber.org/fx"

	"github.com/dep2p/go-comms/config"
	"github.com/dep2p/go-comms/internal/core/identity"
	"github.com/dep2p/go-comms/internal/core/metrics"
	"github.com/dep2p/go-comms/internal/core/muxer/yamux"
	"github.com/dep2p/go-comms/internal/core/peervalidator"
	"github.com/dep2p/go-comms/internal/core/protocol"
	"github.com/dep2p/go-comms/internal/core/security/noise"
	"github.com/dep2p/go-comms/pkg/interfaces"
)

// ModuleInput 模块输入
type ModuleInput struct {
	fx.In

	Identity    *identity.Identity
	Config      *config.Config         `optional:"true"`
	PeerManager interfaces.PeerManager `optional:"true"`
	Registry    *protocol.Registry
	Metrics     *metrics.Metrics `optional:"true"`
	Clock       clock.Clock      `optional:"true"`
}

// ProvideUpgrader 组装升级流水线
//
// 身份交换中通告的地址由 connmgr 通过 Negotiator().SetAddrSource 提供。
func ProvideUpgrader(input ModuleInput) (*Upgrader, error) {
	cfg := input.Config
	if cfg == nil {
		cfg = config.NewConfig()
	}

	clk := input.Clock
	if clk == nil {
		clk = clock.New()
	}

	local := input.Identity.PeerIdentity()
	return New(
		noise.New(input.Identity),
		peervalidator.New(local.NodeID, input.PeerManager, clk),
		yamux.New(cfg.Muxer),
		protocol.NewNegotiator(local, input.Registry, cfg.ConnMgr.UserAgent, nil),
		TimeoutsFromConfig(cfg.ConnMgr.Timeouts),
		input.Metrics,
		WithClock(clk),
	)
}

// Module 是 upgrader 的 Fx 模块
var Module = fx.Module("upgrader",
	fx.Provide(
		ProvideUpgrader,
		protocol.NewRegistry,
	),
)
