package config

import (
	"errors"
	"fmt"
	"time"
)

// ConnManagerConfig 连接管理配置
//
// 对应连接管理器的全部配置面：
//   - 监听地址（有序列表）
//   - 连接上限与单次 Connect 的拨号尝试上限
//   - 拨号总超时与各阶段超时
//   - 地址排除列表
type ConnManagerConfig struct {
	// ListenAddrs 监听地址（multiaddr），按顺序绑定
	ListenAddrs []string `json:"listen_addrs" yaml:"listen_addrs"`

	// MaxConnections 最大同时连接数
	MaxConnections int `json:"max_connections" yaml:"max_connections"`

	// MaxDialAttempts 单次 Connect 的全局拨号尝试上限（跨所有地址）
	MaxDialAttempts int `json:"max_dial_attempts" yaml:"max_dial_attempts"`

	// DialTimeout 单次 Connect 的总超时
	DialTimeout Duration `json:"dial_timeout" yaml:"dial_timeout"`

	// Timeouts 各阶段超时
	Timeouts PhaseTimeouts `json:"timeouts" yaml:"timeouts"`

	// ExcludedAddresses 永不拨号的地址
	ExcludedAddresses []string `json:"excluded_addresses,omitempty" yaml:"excluded_addresses,omitempty"`

	// MailboxSize Actor 邮箱容量
	MailboxSize int `json:"mailbox_size" yaml:"mailbox_size"`

	// InboundRateLimit 每个监听器每秒接受的入站连接数，0 表示不限
	InboundRateLimit float64 `json:"inbound_rate_limit" yaml:"inbound_rate_limit"`

	// InboundBurst 入站突发上限
	InboundBurst int `json:"inbound_burst" yaml:"inbound_burst"`

	// AddressCacheSize 最近成功地址缓存的节点数
	AddressCacheSize int `json:"address_cache_size" yaml:"address_cache_size"`

	// UserAgent 身份交换中通告的 user agent
	UserAgent string `json:"user_agent" yaml:"user_agent"`
}

// PhaseTimeouts 连接建立各阶段超时
type PhaseTimeouts struct {
	Transport    Duration `json:"transport" yaml:"transport"`
	Handshake    Duration `json:"handshake" yaml:"handshake"`
	Multiplexing Duration `json:"multiplexing" yaml:"multiplexing"`
	Negotiation  Duration `json:"negotiation" yaml:"negotiation"`
}

// DefaultConnManagerConfig 返回默认连接管理配置
func DefaultConnManagerConfig() ConnManagerConfig {
	return ConnManagerConfig{
		ListenAddrs:     []string{"/ip4/0.0.0.0/tcp/0"},
		MaxConnections:  256,
		MaxDialAttempts: 10,
		DialTimeout:     Duration(60 * time.Second),
		Timeouts: PhaseTimeouts{
			Transport:    Duration(10 * time.Second),
			Handshake:    Duration(10 * time.Second),
			Multiplexing: Duration(5 * time.Second),
			Negotiation:  Duration(10 * time.Second),
		},
		MailboxSize:      128,
		InboundRateLimit: 50,
		InboundBurst:     100,
		AddressCacheSize: 1024,
		UserAgent:        "go-comms/0.1",
	}
}

// Validate 验证连接管理配置
func (c ConnManagerConfig) Validate() error {
	if c.MaxConnections <= 0 {
		return errors.New("conn_mgr: max connections must be positive")
	}
	if c.MaxDialAttempts <= 0 {
		return errors.New("conn_mgr: max dial attempts must be positive")
	}
	if c.DialTimeout <= 0 {
		return errors.New("conn_mgr: dial timeout must be positive")
	}
	for name, d := range map[string]Duration{
		"transport":    c.Timeouts.Transport,
		"handshake":    c.Timeouts.Handshake,
		"multiplexing": c.Timeouts.Multiplexing,
		"negotiation":  c.Timeouts.Negotiation,
	} {
		if d <= 0 {
			return fmt.Errorf("conn_mgr: %s timeout must be positive", name)
		}
	}
	if c.MailboxSize <= 0 {
		return errors.New("conn_mgr: mailbox size must be positive")
	}
	if c.InboundRateLimit < 0 {
		return errors.New("conn_mgr: inbound rate limit must be non-negative")
	}
	if c.InboundRateLimit > 0 && c.InboundBurst <= 0 {
		return errors.New("conn_mgr: inbound burst must be positive when rate limited")
	}
	if c.AddressCacheSize <= 0 {
		return errors.New("conn_mgr: address cache size must be positive")
	}
	return nil
}

// WithListenAddrs 设置监听地址
func (c ConnManagerConfig) WithListenAddrs(addrs ...string) ConnManagerConfig {
	c.ListenAddrs = append([]string(nil), addrs...)
	return c
}

// WithMaxConnections 设置连接上限
func (c ConnManagerConfig) WithMaxConnections(n int) ConnManagerConfig {
	c.MaxConnections = n
	return c
}

// WithExcludedAddresses 设置排除地址
func (c ConnManagerConfig) WithExcludedAddresses(addrs ...string) ConnManagerConfig {
	c.ExcludedAddresses = append([]string(nil), addrs...)
	return c
}
