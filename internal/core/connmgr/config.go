package connmgr

import (
	"time"

	"github.com/dep2p/go-comms/config"
)

// Config 连接管理器配置
type Config struct {
	// ListenAddrs 监听地址，按顺序绑定
	ListenAddrs []string

	// MaxConnections 最大同时连接数
	MaxConnections int

	// MaxDialAttempts 单次 Connect 的拨号尝试上限（跨所有地址）
	MaxDialAttempts int

	// DialTimeout 单次拨号的总截止时间
	DialTimeout time.Duration

	// TransportTimeout 传输层建连超时
	TransportTimeout time.Duration

	// ExcludedAddresses 永不拨号的地址
	ExcludedAddresses []string

	// MailboxSize Actor 邮箱容量
	MailboxSize int

	// InboundRateLimit 每个监听器每秒接受的连接数，0 表示不限
	InboundRateLimit float64
	InboundBurst     int

	// AddressCacheSize 最近成功地址缓存容量
	AddressCacheSize int
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return ConfigFromUnified(nil)
}

// ConfigFromUnified 从统一配置创建连接管理器配置
func ConfigFromUnified(cfg *config.Config) Config {
	if cfg == nil {
		cfg = config.NewConfig()
	}
	c := cfg.ConnMgr
	return Config{
		ListenAddrs:       append([]string(nil), c.ListenAddrs...),
		MaxConnections:    c.MaxConnections,
		MaxDialAttempts:   c.MaxDialAttempts,
		DialTimeout:       c.DialTimeout.Duration(),
		TransportTimeout:  c.Timeouts.Transport.Duration(),
		ExcludedAddresses: append([]string(nil), c.ExcludedAddresses...),
		MailboxSize:       c.MailboxSize,
		InboundRateLimit:  c.InboundRateLimit,
		InboundBurst:      c.InboundBurst,
		AddressCacheSize:  c.AddressCacheSize,
	}
}

// withDefaults 补全未设置的字段
func (c Config) withDefaults() Config {
	def := config.DefaultConnManagerConfig()
	if c.MaxConnections <= 0 {
		c.MaxConnections = def.MaxConnections
	}
	if c.MaxDialAttempts <= 0 {
		c.MaxDialAttempts = def.MaxDialAttempts
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = def.DialTimeout.Duration()
	}
	if c.TransportTimeout <= 0 {
		c.TransportTimeout = def.Timeouts.Transport.Duration()
	}
	if c.MailboxSize <= 0 {
		c.MailboxSize = def.MailboxSize
	}
	if c.AddressCacheSize <= 0 {
		c.AddressCacheSize = def.AddressCacheSize
	}
	return c
}
