package transport

import (
	"context"
	"time"

	"go.uber.org/fx"

	"github.com/dep2p/go-comms/config"
	"github.com/dep2p/go-comms/internal/core/transport/quic"
	"github.com/dep2p/go-comms/internal/core/transport/tcp"
	"github.com/dep2p/go-comms/internal/core/transport/websocket"
	"github.com/dep2p/go-comms/pkg/interfaces"
	"github.com/dep2p/go-comms/pkg/lib/log"
)

var logger = log.Logger("core/transport")

// Config 传输层配置
type Config struct {
	EnableTCP       bool
	EnableQUIC      bool
	EnableWebSocket bool

	TCPKeepAlive time.Duration
	QUIC         quic.Config
}

// NewConfig 创建默认配置
func NewConfig() Config {
	return ConfigFromUnified(nil)
}

// ConfigFromUnified 从统一配置创建传输配置
func ConfigFromUnified(cfg *config.Config) Config {
	if cfg == nil {
		cfg = config.NewConfig()
	}
	t := cfg.Transport
	return Config{
		EnableTCP:       t.EnableTCP,
		EnableQUIC:      t.EnableQUIC,
		EnableWebSocket: t.EnableWebSocket,
		TCPKeepAlive:    t.TCP.KeepAlivePeriod.Duration(),
		QUIC: quic.Config{
			MaxIdleTimeout:  t.QUIC.MaxIdleTimeout.Duration(),
			KeepAlivePeriod: t.QUIC.KeepAlivePeriod.Duration(),
		},
	}
}

// NewRegistryFromConfig 按配置创建注册表
func NewRegistryFromConfig(cfg Config) (*Registry, error) {
	r := NewRegistry()
	if cfg.EnableTCP {
		r.Add(tcp.New(cfg.TCPKeepAlive))
	}
	if cfg.EnableQUIC {
		q, err := quic.New(cfg.QUIC)
		if err != nil {
			_ = r.Close()
			return nil, err
		}
		r.Add(q)
	}
	if cfg.EnableWebSocket {
		r.Add(websocket.New())
	}

	logger.Debug("创建传输注册表", "transports", r.Transports())
	return r, nil
}

// ModuleInput 定义模块输入依赖
type ModuleInput struct {
	fx.In

	Config *config.Config `optional:"true"`
}

// ModuleOutput 定义模块输出服务
type ModuleOutput struct {
	fx.Out

	Registry  *Registry
	Transport interfaces.Transport
}

// ProvideTransport 提供传输注册表
func ProvideTransport(lc fx.Lifecycle, input ModuleInput) (ModuleOutput, error) {
	r, err := NewRegistryFromConfig(ConfigFromUnified(input.Config))
	if err != nil {
		return ModuleOutput{}, err
	}

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return r.Close()
		},
	})
	return ModuleOutput{Registry: r, Transport: r}, nil
}

// Module 传输层模块
var Module = fx.Module("transport",
	fx.Provide(ProvideTransport),
)
