package config

import (
	"errors"
	"time"
)

// MuxerConfig Yamux 多路复用配置
type MuxerConfig struct {
	// MaxStreamWindowSize 单流最大接收窗口
	MaxStreamWindowSize uint32 `json:"max_stream_window_size" yaml:"max_stream_window_size"`

	// AcceptBacklog 未接受的入站流上限
	AcceptBacklog int `json:"accept_backlog" yaml:"accept_backlog"`

	// EnableKeepAlive 启用会话保活
	EnableKeepAlive bool `json:"enable_keep_alive" yaml:"enable_keep_alive"`

	// KeepAliveInterval 保活间隔
	KeepAliveInterval Duration `json:"keep_alive_interval" yaml:"keep_alive_interval"`

	// ConnectionWriteTimeout 单次写超时
	ConnectionWriteTimeout Duration `json:"connection_write_timeout" yaml:"connection_write_timeout"`
}

// DefaultMuxerConfig 返回默认多路复用配置
func DefaultMuxerConfig() MuxerConfig {
	return MuxerConfig{
		MaxStreamWindowSize:    16 * 1024 * 1024,
		AcceptBacklog:          256,
		EnableKeepAlive:        true,
		KeepAliveInterval:      Duration(30 * time.Second),
		ConnectionWriteTimeout: Duration(10 * time.Second),
	}
}

// Validate 验证多路复用配置
func (c MuxerConfig) Validate() error {
	// yamux 要求窗口不小于初始窗口 256KB
	if c.MaxStreamWindowSize < 256*1024 {
		return errors.New("muxer: max stream window size must be at least 256KiB")
	}
	if c.AcceptBacklog <= 0 {
		return errors.New("muxer: accept backlog must be positive")
	}
	if c.EnableKeepAlive && c.KeepAliveInterval <= 0 {
		return errors.New("muxer: keep alive interval must be positive")
	}
	if c.ConnectionWriteTimeout <= 0 {
		return errors.New("muxer: connection write timeout must be positive")
	}
	return nil
}
