package tcp

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	ma "github.com/multiformats/go-multiaddr"
	"go.uber.org/multierr"

	"github.com/dep2p/go-comms/internal/core/transport/addrutil"
	"github.com/dep2p/go-comms/pkg/interfaces"
	"github.com/dep2p/go-comms/pkg/lib/log"
)

var logger = log.Logger("core/transport/tcp")

// ============================================================================
//                              Transport 实现
// ============================================================================

// Transport TCP 传输层实现
type Transport struct {
	keepAlive time.Duration

	listeners   map[*Listener]struct{}
	listenersMu sync.Mutex

	closed atomic.Bool
}

// 确保实现接口
var _ interfaces.Transport = (*Transport)(nil)

// New 创建 TCP 传输层
//
// keepAlive 为 0 时使用系统默认。
func New(keepAlive time.Duration) *Transport {
	return &Transport{
		keepAlive: keepAlive,
		listeners: make(map[*Listener]struct{}),
	}
}

// Name 返回传输名称
func (t *Transport) Name() string {
	return "tcp"
}

// CanDial 检查是否可以拨号到指定地址
//
// WebSocket 地址同样包含 /tcp/，由 websocket 传输负责。
func (t *Transport) CanDial(addr string) bool {
	if t.closed.Load() {
		return false
	}
	m, err := addrutil.Parse(addr)
	if err != nil {
		return false
	}
	return isTCP(m)
}

// Dial 建立出站连接
func (t *Transport) Dial(ctx context.Context, addr string) (net.Conn, error) {
	if t.closed.Load() {
		return nil, ErrTransportClosed
	}

	m, network, hostport, err := addrutil.ParseHostPort(addr)
	if err != nil {
		return nil, err
	}
	if !isTCP(m) {
		return nil, fmt.Errorf("%w: %s", ErrNotTCPAddress, addr)
	}

	dialer := &net.Dialer{KeepAlive: t.keepAlive}
	conn, err := dialer.DialContext(ctx, network, hostport)
	if err != nil {
		return nil, fmt.Errorf("tcp dial %s: %w", addr, err)
	}

	if tcpConn, ok := conn.(*net.TCPConn); ok {
		_ = tcpConn.SetNoDelay(true)
	}

	logger.Debug("TCP 拨号成功", "addr", addr, "local", conn.LocalAddr().String())
	return conn, nil
}

// Listen 监听入站连接
func (t *Transport) Listen(addr string) (interfaces.Listener, error) {
	if t.closed.Load() {
		return nil, ErrTransportClosed
	}

	m, network, hostport, err := addrutil.ParseHostPort(addr)
	if err != nil {
		return nil, err
	}
	if !isTCP(m) {
		return nil, fmt.Errorf("%w: %s", ErrNotTCPAddress, addr)
	}

	l, err := newListener(network, hostport, t.keepAlive)
	if err != nil {
		return nil, err
	}
	l.onClose = t.removeListener

	t.listenersMu.Lock()
	t.listeners[l] = struct{}{}
	t.listenersMu.Unlock()

	logger.Info("TCP 监听已启动", "addr", l.Addr())
	return l, nil
}

// Close 关闭传输层及其所有监听器
func (t *Transport) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}

	t.listenersMu.Lock()
	listeners := make([]*Listener, 0, len(t.listeners))
	for l := range t.listeners {
		listeners = append(listeners, l)
	}
	t.listenersMu.Unlock()

	var err error
	for _, l := range listeners {
		err = multierr.Append(err, l.Close())
	}
	return err
}

func (t *Transport) removeListener(l *Listener) {
	t.listenersMu.Lock()
	delete(t.listeners, l)
	t.listenersMu.Unlock()
}

func isTCP(m ma.Multiaddr) bool {
	return addrutil.Has(m, ma.P_TCP) && !addrutil.Has(m, ma.P_WS) && !addrutil.Has(m, ma.P_WSS)
}
