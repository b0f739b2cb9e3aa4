package comms

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"

	"github.com/dep2p/go-comms/config"
	"github.com/dep2p/go-comms/internal/core/identity"
)

// Option 节点配置选项
type Option func(*nodeConfig) error

// nodeConfig 内部选项结构
type nodeConfig struct {
	// config 统一配置，选项在其上覆盖
	config *config.Config

	// identity 直接注入的身份，优先于配置中的密钥文件
	identity *identity.Identity

	// registry 指标注册表，为空时每个节点使用独立注册表
	registry *prometheus.Registry

	// userFxOptions 用户扩展的 Fx 选项
	userFxOptions []fx.Option
}

func newNodeConfig() *nodeConfig {
	return &nodeConfig{config: config.NewConfig()}
}

// WithConfig 使用完整配置替换默认配置
//
// 应放在其他选项之前，后续选项在该配置上覆盖。
func WithConfig(cfg *config.Config) Option {
	return func(c *nodeConfig) error {
		if cfg == nil {
			return errors.New("nil config")
		}
		c.config = config.CloneConfig(cfg)
		return nil
	}
}

// WithConfigFile 从 JSON 或 YAML 文件加载配置
func WithConfigFile(path string) Option {
	return func(c *nodeConfig) error {
		cfg, err := config.LoadFile(path)
		if err != nil {
			return err
		}
		c.config = cfg
		return nil
	}
}

// WithListenAddrs 设置监听地址
func WithListenAddrs(addrs ...string) Option {
	return func(c *nodeConfig) error {
		c.config.ConnMgr.ListenAddrs = append([]string(nil), addrs...)
		return nil
	}
}

// WithMaxConnections 设置最大连接数
func WithMaxConnections(n int) Option {
	return func(c *nodeConfig) error {
		if n <= 0 {
			return fmt.Errorf("invalid max connections: %d", n)
		}
		c.config.ConnMgr.MaxConnections = n
		return nil
	}
}

// WithDialTimeout 设置单次 Connect 的总超时
func WithDialTimeout(d time.Duration) Option {
	return func(c *nodeConfig) error {
		if d <= 0 {
			return fmt.Errorf("invalid dial timeout: %s", d)
		}
		c.config.ConnMgr.DialTimeout = config.Duration(d)
		return nil
	}
}

// WithExcludedAddresses 设置永不拨号的地址
func WithExcludedAddresses(addrs ...string) Option {
	return func(c *nodeConfig) error {
		c.config.ConnMgr.ExcludedAddresses = append(c.config.ConnMgr.ExcludedAddresses, addrs...)
		return nil
	}
}

// WithIdentityKeyFile 从文件加载身份，文件不存在时生成并保存
func WithIdentityKeyFile(path string) Option {
	return func(c *nodeConfig) error {
		c.config.Identity.KeyFile = path
		c.config.Identity.AutoGenerate = true
		return nil
	}
}

// WithPrivateKey 使用给定的 X25519 私钥作为节点身份
func WithPrivateKey(priv []byte) Option {
	return func(c *nodeConfig) error {
		id, err := identity.FromPrivateKey(priv)
		if err != nil {
			return err
		}
		c.identity = id
		return nil
	}
}

// WithTransports 选择启用的传输协议
func WithTransports(tcp, quic, websocket bool) Option {
	return func(c *nodeConfig) error {
		c.config.Transport.EnableTCP = tcp
		c.config.Transport.EnableQUIC = quic
		c.config.Transport.EnableWebSocket = websocket
		return nil
	}
}

// WithMetrics 启用指标，addr 非空时在该地址提供 /metrics
func WithMetrics(addr string) Option {
	return func(c *nodeConfig) error {
		c.config.Metrics.Enabled = true
		c.config.Metrics.ListenAddr = addr
		return nil
	}
}

// WithoutMetrics 禁用指标
func WithoutMetrics() Option {
	return func(c *nodeConfig) error {
		c.config.Metrics.Enabled = false
		c.config.Metrics.ListenAddr = ""
		return nil
	}
}

// WithMetricsRegistry 使用给定的 Prometheus 注册表
func WithMetricsRegistry(reg *prometheus.Registry) Option {
	return func(c *nodeConfig) error {
		c.registry = reg
		return nil
	}
}

// WithFxOptions 追加用户自定义的 Fx 选项
func WithFxOptions(opts ...fx.Option) Option {
	return func(c *nodeConfig) error {
		c.userFxOptions = append(c.userFxOptions, opts...)
		return nil
	}
}
