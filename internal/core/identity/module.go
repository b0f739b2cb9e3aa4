package identity

import (
	"crypto/rand"
	"errors"
	"fmt"

	"go.uber.org/fx"

	"github.com/dep2p/go-comms/pkg/lib/log"
)

var logger = log.Logger("core/identity")

// Config 身份配置
type Config struct {
	// Path 私钥文件路径，为空时使用临时身份
	Path string

	// AutoCreate 文件不存在时自动生成并保存
	AutoCreate bool
}

// ModuleInput 定义模块输入依赖
type ModuleInput struct {
	fx.In

	Config *Config   `optional:"true"`
	Preset *Identity `name:"preset_identity" optional:"true"`
}

// ProvideIdentity 提供本地身份
//
// 优先级：注入的身份 > 文件 > 自动生成
func ProvideIdentity(input ModuleInput) (*Identity, error) {
	if input.Preset != nil {
		return input.Preset, nil
	}

	cfg := Config{AutoCreate: true}
	if input.Config != nil {
		cfg = *input.Config
	}

	if cfg.Path == "" {
		id, err := Generate(rand.Reader)
		if err != nil {
			return nil, err
		}
		logger.Info("使用临时身份", "nodeID", id.NodeID().ShortString())
		return id, nil
	}

	id, err := Load(cfg.Path)
	if err == nil {
		logger.Info("加载身份", "nodeID", id.NodeID().ShortString(), "path", cfg.Path)
		return id, nil
	}
	if !errors.Is(err, ErrKeyNotFound) || !cfg.AutoCreate {
		return nil, fmt.Errorf("加载身份失败: %w", err)
	}

	id, err = Generate(rand.Reader)
	if err != nil {
		return nil, err
	}
	if err := Save(id, cfg.Path); err != nil {
		return nil, fmt.Errorf("保存身份失败: %w", err)
	}
	logger.Info("生成新身份", "nodeID", id.NodeID().ShortString(), "path", cfg.Path)
	return id, nil
}

// Module 身份模块
var Module = fx.Module("identity",
	fx.Provide(ProvideIdentity),
)
