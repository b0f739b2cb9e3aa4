// Package config 提供统一的配置管理
//
// 本包采用混合配置模式：
//   - 主 Config 结构体嵌入所有子配置
//   - 每个子配置在独立文件中定义
//   - 支持从 JSON 或 YAML 文件加载
//
// 使用示例：
//
//	cfg := config.NewConfig()
//	cfg.ConnMgr.ListenAddrs = []string{"/ip4/0.0.0.0/tcp/7000"}
//
//	// 从文件加载（按扩展名选择 JSON 或 YAML）
//	cfg, err := config.LoadFile("comms.yaml")
package config

// Config 是 go-comms 的完整配置结构
//
// 配置按照功能模块组织：
//   - Identity: 静态密钥
//   - Transport: 传输协议（TCP/QUIC/WebSocket）
//   - Muxer: Yamux 参数
//   - ConnMgr: 连接管理（监听地址、连接上限、拨号与阶段超时）
//   - Metrics: Prometheus 指标
type Config struct {
	// Identity 身份配置
	Identity IdentityConfig `json:"identity" yaml:"identity"`

	// Transport 传输层配置
	Transport TransportConfig `json:"transport" yaml:"transport"`

	// Muxer 多路复用配置
	Muxer MuxerConfig `json:"muxer" yaml:"muxer"`

	// ConnMgr 连接管理配置
	ConnMgr ConnManagerConfig `json:"conn_mgr" yaml:"conn_mgr"`

	// Metrics 指标配置
	Metrics MetricsConfig `json:"metrics" yaml:"metrics"`
}

// NewConfig 创建默认配置
func NewConfig() *Config {
	return &Config{
		Identity:  DefaultIdentityConfig(),
		Transport: DefaultTransportConfig(),
		Muxer:     DefaultMuxerConfig(),
		ConnMgr:   DefaultConnManagerConfig(),
		Metrics:   DefaultMetricsConfig(),
	}
}

// Validate 验证配置的有效性
//
// 检查所有子配置，返回第一个错误。
func (c *Config) Validate() error {
	if err := c.Identity.Validate(); err != nil {
		return err
	}
	if err := c.Transport.Validate(); err != nil {
		return err
	}
	if err := c.Muxer.Validate(); err != nil {
		return err
	}
	if err := c.ConnMgr.Validate(); err != nil {
		return err
	}
	return c.Metrics.Validate()
}
