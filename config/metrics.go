package config

import "errors"

// MetricsConfig Prometheus 指标配置
type MetricsConfig struct {
	// Enabled 是否启用指标
	Enabled bool `json:"enabled" yaml:"enabled"`

	// ListenAddr /metrics HTTP 监听地址，为空时不启动 HTTP 服务
	ListenAddr string `json:"listen_addr,omitempty" yaml:"listen_addr,omitempty"`
}

// DefaultMetricsConfig 返回默认指标配置
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{Enabled: true}
}

// Validate 验证指标配置
func (c MetricsConfig) Validate() error {
	if !c.Enabled && c.ListenAddr != "" {
		return errors.New("metrics: listen address set but metrics disabled")
	}
	return nil
}
