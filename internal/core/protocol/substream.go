package protocol

import (
	"net"

	"github.com/dep2p/go-comms/pkg/types"
)

// Substream 已完成协议选择的子流
type Substream struct {
	net.Conn

	protocol types.ProtocolID
	remote   types.PeerIdentity
}

// NewSubstream 包装已协商的子流
func NewSubstream(conn net.Conn, protocol types.ProtocolID, remote types.PeerIdentity) *Substream {
	return &Substream{Conn: conn, protocol: protocol, remote: remote}
}

// Protocol 返回协商的协议
func (s *Substream) Protocol() types.ProtocolID {
	return s.protocol
}

// RemotePeer 返回对端身份
func (s *Substream) RemotePeer() types.PeerIdentity {
	return s.remote
}

// StreamHandler 入站子流处理器，负责关闭子流
type StreamHandler func(s *Substream)
