package yamux

import (
	"net"
	"sync/atomic"
	"time"

	"github.com/hashicorp/yamux"
)

// Stream 封装 yamux.Stream
type Stream struct {
	stream  *yamux.Stream
	id      uint32
	closed  atomic.Bool
	onClose func()
}

var _ net.Conn = (*Stream)(nil)

func newStream(s *yamux.Stream, onClose func()) *Stream {
	return &Stream{
		stream:  s,
		id:      s.StreamID(),
		onClose: onClose,
	}
}

// Read 从流中读取数据
func (s *Stream) Read(p []byte) (int, error) {
	return s.stream.Read(p)
}

// Write 向流写入数据
func (s *Stream) Write(p []byte) (int, error) {
	return s.stream.Write(p)
}

// Close 关闭流（幂等）
func (s *Stream) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	if s.onClose != nil {
		s.onClose()
	}
	return s.stream.Close()
}

// ID 返回流 ID
func (s *Stream) ID() uint32 {
	return s.id
}

// IsClosed 检查流是否已关闭
func (s *Stream) IsClosed() bool {
	return s.closed.Load()
}

// LocalAddr 返回本地地址
func (s *Stream) LocalAddr() net.Addr {
	return s.stream.LocalAddr()
}

// RemoteAddr 返回远端地址
func (s *Stream) RemoteAddr() net.Addr {
	return s.stream.RemoteAddr()
}

// SetDeadline 设置读写超时
func (s *Stream) SetDeadline(t time.Time) error {
	return s.stream.SetDeadline(t)
}

// SetReadDeadline 设置读超时
func (s *Stream) SetReadDeadline(t time.Time) error {
	return s.stream.SetReadDeadline(t)
}

// SetWriteDeadline 设置写超时
func (s *Stream) SetWriteDeadline(t time.Time) error {
	return s.stream.SetWriteDeadline(t)
}
