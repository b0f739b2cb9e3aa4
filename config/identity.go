package config

import "errors"

// IdentityConfig 身份配置
type IdentityConfig struct {
	// KeyFile 私钥文件路径，为空时每次启动使用临时身份
	KeyFile string `json:"key_file,omitempty" yaml:"key_file,omitempty"`

	// AutoGenerate 文件不存在时自动生成
	AutoGenerate bool `json:"auto_generate" yaml:"auto_generate"`
}

// DefaultIdentityConfig 返回默认身份配置
func DefaultIdentityConfig() IdentityConfig {
	return IdentityConfig{AutoGenerate: true}
}

// Validate 验证身份配置
func (c IdentityConfig) Validate() error {
	if c.KeyFile == "" && !c.AutoGenerate {
		return errors.New("identity: key file required when auto generate is disabled")
	}
	return nil
}
