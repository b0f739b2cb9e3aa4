package identity

import (
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
)

// pemTypePrivate 私钥 PEM 块类型
const pemTypePrivate = "X25519 PRIVATE KEY"

// ============================================================================
//                              私钥持久化
// ============================================================================

// Save 保存私钥到 PEM 文件
//
// 使用原子写操作（临时文件 + rename），文件权限 0600。
func Save(id *Identity, path string) error {
	block := &pem.Block{
		Type:  pemTypePrivate,
		Bytes: id.PrivateKey(),
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("创建目录失败: %w", err)
		}
	}
	return atomicWriteFile(path, pem.EncodeToMemory(block), 0600)
}

// Load 从 PEM 文件加载身份
func Load(path string) (*Identity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrKeyNotFound
		}
		return nil, err
	}

	block, _ := pem.Decode(data)
	if block == nil || block.Type != pemTypePrivate {
		return nil, ErrInvalidPEM
	}
	return FromPrivateKey(block.Bytes)
}

// ============================================================================
//                              原子写操作
// ============================================================================

// atomicWriteFile 原子写文件
//
// 流程：
//  1. 写入临时文件（同目录下，前缀 .tmp-）
//  2. 同步到磁盘
//  3. 原子 rename 到目标路径
//
// 如果任何步骤失败，目标文件保持不变。
func atomicWriteFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmpFile, err := os.CreateTemp(dir, ".tmp-")
	if err != nil {
		return fmt.Errorf("创建临时文件失败: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("写入临时文件失败: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("同步临时文件失败: %w", err)
	}
	if err := tmpFile.Chmod(perm); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("设置文件权限失败: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("关闭临时文件失败: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("原子 rename 失败: %w", err)
	}

	success = true
	return nil
}
