package config

import (
	"errors"
	"time"
)

// TransportConfig 传输层配置
//
// 配置节点支持的传输协议及其参数：
//   - TCP: 默认启用
//   - QUIC: 基于 UDP，每个连接使用一条双向流承载字节流
//   - WebSocket: 用于穿越只放行 HTTP 的网络
type TransportConfig struct {
	EnableTCP bool      `json:"enable_tcp" yaml:"enable_tcp"`
	TCP       TCPConfig `json:"tcp,omitempty" yaml:"tcp,omitempty"`

	EnableQUIC bool       `json:"enable_quic" yaml:"enable_quic"`
	QUIC       QUICConfig `json:"quic,omitempty" yaml:"quic,omitempty"`

	EnableWebSocket bool `json:"enable_websocket" yaml:"enable_websocket"`
}

// TCPConfig TCP 传输配置
type TCPConfig struct {
	// KeepAlivePeriod KeepAlive 周期，0 使用系统默认
	KeepAlivePeriod Duration `json:"keep_alive_period" yaml:"keep_alive_period"`
}

// QUICConfig QUIC 传输配置
type QUICConfig struct {
	// MaxIdleTimeout 最大空闲超时
	MaxIdleTimeout Duration `json:"max_idle_timeout" yaml:"max_idle_timeout"`

	// KeepAlivePeriod KeepAlive 周期
	KeepAlivePeriod Duration `json:"keep_alive_period" yaml:"keep_alive_period"`
}

// DefaultTransportConfig 返回默认传输配置
func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		EnableTCP: true,
		TCP: TCPConfig{
			KeepAlivePeriod: Duration(15 * time.Second),
		},
		EnableQUIC: true,
		QUIC: QUICConfig{
			MaxIdleTimeout:  Duration(30 * time.Second),
			KeepAlivePeriod: Duration(10 * time.Second),
		},
		EnableWebSocket: false,
	}
}

// Validate 验证传输配置
func (c TransportConfig) Validate() error {
	if !c.EnableTCP && !c.EnableQUIC && !c.EnableWebSocket {
		return errors.New("transport: at least one transport must be enabled")
	}
	if c.TCP.KeepAlivePeriod < 0 {
		return errors.New("transport: tcp keep alive period must be non-negative")
	}
	if c.EnableQUIC && c.QUIC.MaxIdleTimeout <= 0 {
		return errors.New("transport: quic max idle timeout must be positive")
	}
	if c.QUIC.KeepAlivePeriod < 0 {
		return errors.New("transport: quic keep alive period must be non-negative")
	}
	return nil
}
