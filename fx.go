package comms

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/dep2p/go-comms/config"
	"github.com/dep2p/go-comms/internal/core/connmgr"
	"github.com/dep2p/go-comms/internal/core/eventbus"
	"github.com/dep2p/go-comms/internal/core/identity"
	"github.com/dep2p/go-comms/internal/core/metrics"
	"github.com/dep2p/go-comms/internal/core/peermanager"
	"github.com/dep2p/go-comms/internal/core/transport"
	"github.com/dep2p/go-comms/internal/core/upgrader"
	"github.com/dep2p/go-comms/pkg/lib/log"
)

var fxLogger = log.Logger("comms/fx")

// buildFxApp 构建 Fx 应用
//
// 加载顺序（按依赖）：
//
//	Identity → EventBus → Metrics → PeerManager → Transport → Upgrader → ConnMgr
//
// OnStop 按注册的反向顺序执行：连接管理器先关闭，传输最后关闭。
func buildFxApp(cfg *nodeConfig, node *Node) (*fx.App, error) {
	// ════════════════════════════════════════════════════════════════════════
	// 1. 配置验证（前置）
	// ════════════════════════════════════════════════════════════════════════
	if err := config.ValidateAll(cfg.config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	if !hasAnyTransport(cfg.config) {
		return nil, errors.New("at least one transport must be enabled (TCP, QUIC or WebSocket)")
	}

	registry := cfg.registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	node.registry = registry

	// ════════════════════════════════════════════════════════════════════════
	// 2. 配置注入
	// ════════════════════════════════════════════════════════════════════════
	modules := []fx.Option{
		fx.Supply(cfg.config),
		fx.Supply(&identity.Config{
			Path:       cfg.config.Identity.KeyFile,
			AutoCreate: cfg.config.Identity.AutoGenerate,
		}),
		fx.Provide(func() prometheus.Registerer { return registry }),
	}
	if cfg.identity != nil {
		modules = append(modules, fx.Supply(fx.Annotated{Name: "preset_identity", Target: cfg.identity}))
	}

	// ════════════════════════════════════════════════════════════════════════
	// 3. 核心模块
	// ════════════════════════════════════════════════════════════════════════
	modules = append(modules,
		identity.Module,
		eventbus.Module,
		metrics.Module,
		peermanager.Module,
		transport.Module,
		upgrader.Module,
		connmgr.Module,
		fx.Invoke(func(m *metrics.Metrics, bus *eventbus.Bus) {
			m.WatchDroppedEvents(bus.Dropped)
		}),
	)

	// ════════════════════════════════════════════════════════════════════════
	// 4. 指标 HTTP 服务（条件加载）
	// ════════════════════════════════════════════════════════════════════════
	if cfg.config.Metrics.Enabled && cfg.config.Metrics.ListenAddr != "" {
		modules = append(modules, fx.Invoke(serveMetrics(cfg.config.Metrics.ListenAddr, registry)))
	}

	// ════════════════════════════════════════════════════════════════════════
	// 5. 用户扩展（Fx Options）
	// ════════════════════════════════════════════════════════════════════════
	if len(cfg.userFxOptions) > 0 {
		modules = append(modules, cfg.userFxOptions...)
	}

	// ════════════════════════════════════════════════════════════════════════
	// 6. Node 组件注入
	// ════════════════════════════════════════════════════════════════════════
	modules = append(modules, fx.Invoke(injectNodeComponents(node)))

	// ════════════════════════════════════════════════════════════════════════
	// 7. Fx 配置
	// ════════════════════════════════════════════════════════════════════════
	modules = append(modules,
		// 禁用 Fx 日志输出（避免干扰用户日志）
		fx.WithLogger(func() fxevent.Logger {
			return &fxevent.ZapLogger{Logger: zap.NewNop()}
		}),
	)

	return fx.New(modules...), nil
}

// hasAnyTransport 检查是否启用任何传输协议
func hasAnyTransport(cfg *config.Config) bool {
	return cfg.Transport.EnableTCP ||
		cfg.Transport.EnableQUIC ||
		cfg.Transport.EnableWebSocket
}

// ════════════════════════════════════════════════════════════════════════════
// 组件注入
// ════════════════════════════════════════════════════════════════════════════

// nodeInjectParams Node 组件注入参数
type nodeInjectParams struct {
	fx.In

	Identity    *identity.Identity
	Manager     *connmgr.Manager
	Bus         *eventbus.Bus
	PeerManager *peermanager.Manager
}

// injectNodeComponents 创建 Node 组件注入函数
func injectNodeComponents(node *Node) interface{} {
	return func(params nodeInjectParams) {
		node.identity = params.Identity
		node.manager = params.Manager
		node.bus = params.Bus
		node.peers = params.PeerManager
	}
}

// serveMetrics 在 addr 上提供 /metrics
func serveMetrics(addr string, gatherer prometheus.Gatherer) interface{} {
	return func(lc fx.Lifecycle) {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
		srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

		lc.Append(fx.Hook{
			OnStart: func(context.Context) error {
				ln, err := net.Listen("tcp", addr)
				if err != nil {
					return fmt.Errorf("metrics listen: %w", err)
				}
				go func() {
					if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
						fxLogger.Warn("指标服务退出", "error", err)
					}
				}()
				fxLogger.Info("指标服务已启动", "addr", ln.Addr().String())
				return nil
			},
			OnStop: func(ctx context.Context) error {
				return srv.Shutdown(ctx)
			},
		})
	}
}
