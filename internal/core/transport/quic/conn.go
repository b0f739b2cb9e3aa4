package quic

import (
	"net"

	"github.com/quic-go/quic-go"
)

// conn 把单条 QUIC 流适配为 net.Conn
//
// 关闭时同时关闭底层 QUIC 连接。
type conn struct {
	quic.Stream
	qconn quic.Connection
}

var _ net.Conn = (*conn)(nil)

func newConn(qconn quic.Connection, stream quic.Stream) *conn {
	return &conn{Stream: stream, qconn: qconn}
}

// LocalAddr 返回本地地址
func (c *conn) LocalAddr() net.Addr {
	return c.qconn.LocalAddr()
}

// RemoteAddr 返回远端地址
func (c *conn) RemoteAddr() net.Addr {
	return c.qconn.RemoteAddr()
}

// Close 关闭流和连接
func (c *conn) Close() error {
	_ = c.Stream.Close()
	return c.qconn.CloseWithError(0, "closed")
}
