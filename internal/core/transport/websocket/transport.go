package websocket

import (
	"context"
	"fmt"
	"net"
	"sync"

	ma "github.com/multiformats/go-multiaddr"
	"go.uber.org/multierr"
	"nhooyr.io/websocket"

	"github.com/dep2p/go-comms/internal/core/transport/addrutil"
	"github.com/dep2p/go-comms/pkg/interfaces"
	"github.com/dep2p/go-comms/pkg/lib/log"
)

var logger = log.Logger("core/transport/websocket")

const (
	// wsPath HTTP 升级路径
	wsPath = "/comms"

	// wsSubprotocol WebSocket 子协议
	wsSubprotocol = "comms"

	// wsReadLimit 单条消息上限
	wsReadLimit = 4 * 1024 * 1024
)

// Transport WebSocket 传输
type Transport struct {
	mu        sync.Mutex
	listeners map[*Listener]struct{}
	closed    bool
}

// 确保实现接口
var _ interfaces.Transport = (*Transport)(nil)

// New 创建 WebSocket 传输
func New() *Transport {
	return &Transport{listeners: make(map[*Listener]struct{})}
}

// Name 返回传输名称
func (t *Transport) Name() string {
	return "ws"
}

// CanDial 检查是否可以拨号到指定地址
func (t *Transport) CanDial(addr string) bool {
	if t.isClosed() {
		return false
	}
	m, err := addrutil.Parse(addr)
	if err != nil {
		return false
	}
	return isWS(m)
}

// Dial 拨号连接
func (t *Transport) Dial(ctx context.Context, addr string) (net.Conn, error) {
	if t.isClosed() {
		return nil, ErrTransportClosed
	}

	m, _, hostport, err := addrutil.ParseHostPort(addr)
	if err != nil {
		return nil, err
	}
	if !isWS(m) {
		return nil, fmt.Errorf("%w: %s", ErrNotWSAddress, addr)
	}

	c, _, err := websocket.Dial(ctx, "ws://"+hostport+wsPath, &websocket.DialOptions{
		Subprotocols: []string{wsSubprotocol},
	})
	if err != nil {
		return nil, fmt.Errorf("websocket dial %s: %w", addr, err)
	}
	c.SetReadLimit(wsReadLimit)

	logger.Debug("WebSocket 拨号成功", "addr", addr)
	// 连接生命周期独立于拨号 ctx
	return websocket.NetConn(context.Background(), c, websocket.MessageBinary), nil
}

// Listen 在指定地址监听
func (t *Transport) Listen(addr string) (interfaces.Listener, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, ErrTransportClosed
	}

	m, network, hostport, err := addrutil.ParseHostPort(addr)
	if err != nil {
		return nil, err
	}
	if !isWS(m) {
		return nil, fmt.Errorf("%w: %s", ErrNotWSAddress, addr)
	}

	l, err := newListener(network, hostport, t.removeListener)
	if err != nil {
		return nil, err
	}
	t.listeners[l] = struct{}{}

	logger.Info("WebSocket 监听已启动", "addr", l.Addr())
	return l, nil
}

// Close 关闭传输及其所有监听器
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	listeners := make([]*Listener, 0, len(t.listeners))
	for l := range t.listeners {
		listeners = append(listeners, l)
	}
	t.mu.Unlock()

	var err error
	for _, l := range listeners {
		err = multierr.Append(err, l.Close())
	}
	return err
}

func (t *Transport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *Transport) removeListener(l *Listener) {
	t.mu.Lock()
	delete(t.listeners, l)
	t.mu.Unlock()
}

func isWS(m ma.Multiaddr) bool {
	return addrutil.Has(m, ma.P_TCP) && addrutil.Has(m, ma.P_WS)
}
