package tcp

import (
	"context"
	"net"
	"sync/atomic"
	"time"

	"github.com/dep2p/go-comms/internal/core/transport/addrutil"
	"github.com/dep2p/go-comms/pkg/interfaces"
)

// ============================================================================
//                              Listener 实现
// ============================================================================

// Listener TCP 监听器
type Listener struct {
	listener net.Listener
	addr     string
	closed   atomic.Bool
	onClose  func(*Listener)
}

// 确保实现接口
var _ interfaces.Listener = (*Listener)(nil)

func newListener(network, hostport string, keepAlive time.Duration) (*Listener, error) {
	lc := net.ListenConfig{KeepAlive: keepAlive}
	l, err := lc.Listen(context.Background(), network, hostport)
	if err != nil {
		return nil, err
	}

	// 端口可能是 0，使用实际绑定地址
	addr, err := addrutil.FromNetAddr(l.Addr(), "")
	if err != nil {
		_ = l.Close()
		return nil, err
	}

	return &Listener{listener: l, addr: addr}, nil
}

// Accept 接受连接
func (l *Listener) Accept() (net.Conn, error) {
	conn, err := l.listener.Accept()
	if err != nil {
		return nil, err
	}
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		_ = tcpConn.SetNoDelay(true)
	}
	return conn, nil
}

// Addr 返回实际监听地址
func (l *Listener) Addr() string {
	return l.addr
}

// Close 关闭监听器
func (l *Listener) Close() error {
	if !l.closed.CompareAndSwap(false, true) {
		return nil
	}
	if l.onClose != nil {
		l.onClose(l)
	}
	return l.listener.Close()
}
