package yamux

import (
	"io"
	"time"

	"github.com/hashicorp/yamux"

	"github.com/dep2p/go-comms/config"
)

// DefaultYamuxConfig 返回默认的 yamux 配置
func DefaultYamuxConfig() *yamux.Config {
	return &yamux.Config{
		AcceptBacklog:          256,
		EnableKeepAlive:        true,
		KeepAliveInterval:      30 * time.Second,
		ConnectionWriteTimeout: 10 * time.Second,
		MaxStreamWindowSize:    16 * 1024 * 1024,
		StreamOpenTimeout:      75 * time.Second,
		StreamCloseTimeout:     5 * time.Minute,
		LogOutput:              io.Discard, // 禁用日志输出
	}
}

// ConfigToYamux 将 config.MuxerConfig 转换为 yamux.Config
//
// 零值字段保留默认值。
func ConfigToYamux(cfg config.MuxerConfig) *yamux.Config {
	yamuxCfg := DefaultYamuxConfig()

	if cfg.MaxStreamWindowSize > 0 {
		yamuxCfg.MaxStreamWindowSize = cfg.MaxStreamWindowSize
	}
	if cfg.AcceptBacklog > 0 {
		yamuxCfg.AcceptBacklog = cfg.AcceptBacklog
	}
	if cfg.KeepAliveInterval > 0 {
		yamuxCfg.KeepAliveInterval = cfg.KeepAliveInterval.Duration()
	}
	if cfg.ConnectionWriteTimeout > 0 {
		yamuxCfg.ConnectionWriteTimeout = cfg.ConnectionWriteTimeout.Duration()
	}
	yamuxCfg.EnableKeepAlive = cfg.EnableKeepAlive

	return yamuxCfg
}
