package protocolids

import (
	"errors"
	"strings"

	"github.com/dep2p/go-comms/pkg/types"
)

// SysPrefix 系统协议前缀
const SysPrefix = "/comms/"

// SysIdentity 身份交换协议，多路复用建立后立即在专用子流上运行
const SysIdentity types.ProtocolID = "/comms/identity/1.0"

// SysPing Ping 协议，用于连通性测试
const SysPing types.ProtocolID = "/comms/ping/1.0"

// Yamux 多路复用升级协议（multistream-select 协商）
const Yamux = "/yamux/1.0.0"

var (
	// ErrReservedProtocol 应用协议使用了系统前缀
	ErrReservedProtocol = errors.New("protocol uses reserved prefix")

	// ErrInvalidProtocolFormat 无效的协议格式
	ErrInvalidProtocolFormat = errors.New("invalid protocol format")
)

// IsSystem 检查是否为系统协议
func IsSystem(p types.ProtocolID) bool {
	return strings.HasPrefix(string(p), SysPrefix)
}

// ValidateUserProtocol 验证应用协议是否合法
//
// 检查规则：
//   - 必须以 "/" 开头且不含空白
//   - 不能以 /comms/ 开头（系统协议保留）
func ValidateUserProtocol(p types.ProtocolID) error {
	s := string(p)
	if len(s) < 2 || s[0] != '/' || strings.ContainsAny(s, " \t\r\n") {
		return ErrInvalidProtocolFormat
	}
	if IsSystem(p) {
		return ErrReservedProtocol
	}
	return nil
}
