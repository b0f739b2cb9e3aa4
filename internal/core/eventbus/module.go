package eventbus

import (
	"context"

	"go.uber.org/fx"

	pkgif "github.com/dep2p/go-comms/pkg/interfaces"
)

// Result Fx 模块输出结果
type Result struct {
	fx.Out

	Bus      *Bus
	EventBus pkgif.EventBus
}

// ProvideEventBus 提供 EventBus 实例，停止时关闭所有订阅
func ProvideEventBus(lc fx.Lifecycle) Result {
	bus := NewBus()
	lc.Append(fx.Hook{
		OnStop: func(_ context.Context) error {
			return bus.Close()
		},
	})
	return Result{Bus: bus, EventBus: bus}
}

// Module 是 eventbus 的 Fx 模块
var Module = fx.Module("eventbus",
	fx.Provide(ProvideEventBus),
)
