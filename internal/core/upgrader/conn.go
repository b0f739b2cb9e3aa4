package upgrader

import (
	"github.com/dep2p/go-comms/internal/core/muxer/yamux"
	"github.com/dep2p/go-comms/internal/core/protocol/system/identify"
	"github.com/dep2p/go-comms/pkg/types"
)

// Conn 升级完成的连接
type Conn struct {
	// Muxer 多路复用会话，所有权随 Conn 转移
	Muxer *yamux.Muxer

	// Remote 握手认证的对端身份
	Remote types.PeerIdentity

	// Info 对端在身份交换中声明的信息
	Info *identify.IdentityInfo

	// Direction 连接方向
	Direction types.Direction

	// RemoteAddr 对端地址（出站为拨号地址，入站为观测地址）
	RemoteAddr string
}

// Close 关闭多路复用会话及底层连接
func (c *Conn) Close() error {
	return c.Muxer.Close()
}
