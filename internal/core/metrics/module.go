package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"

	"github.com/dep2p/go-comms/config"
)

// ModuleInput 模块输入
type ModuleInput struct {
	fx.In

	Config     *config.Config        `optional:"true"`
	Registerer prometheus.Registerer `optional:"true"`
}

// ProvideMetrics 提供指标，配置禁用时返回 nil
func ProvideMetrics(input ModuleInput) *Metrics {
	if input.Config != nil && !input.Config.Metrics.Enabled {
		return nil
	}
	reg := input.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	return New(reg)
}

// Module 是 metrics 的 Fx 模块
var Module = fx.Module("metrics",
	fx.Provide(ProvideMetrics),
)
