package websocket

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"github.com/dep2p/go-comms/internal/core/transport/addrutil"
	"github.com/dep2p/go-comms/pkg/interfaces"
)

// Listener WebSocket 监听器
//
// 内部运行一个 HTTP 服务，升级成功的连接通过 conns 交给 Accept。
type Listener struct {
	netLn   net.Listener
	server  *http.Server
	addr    string
	conns   chan net.Conn
	closeCh chan struct{}
	once    sync.Once
	onClose func(*Listener)
}

// 确保实现接口
var _ interfaces.Listener = (*Listener)(nil)

func newListener(network, hostport string, onClose func(*Listener)) (*Listener, error) {
	ln, err := net.Listen(network, hostport)
	if err != nil {
		return nil, err
	}

	bound, err := addrutil.FromNetAddr(ln.Addr(), "/ws")
	if err != nil {
		_ = ln.Close()
		return nil, err
	}

	l := &Listener{
		netLn:   ln,
		addr:    bound,
		conns:   make(chan net.Conn, 16),
		closeCh: make(chan struct{}),
		onClose: onClose,
	}

	mux := http.NewServeMux()
	mux.HandleFunc(wsPath, l.handleWebSocket)
	l.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := l.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("WebSocket 服务退出", "addr", bound, "err", err)
		}
	}()
	return l, nil
}

func (l *Listener) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	select {
	case <-l.closeCh:
		http.Error(w, "listener closed", http.StatusServiceUnavailable)
		return
	default:
	}

	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols: []string{wsSubprotocol},
	})
	if err != nil {
		logger.Debug("WebSocket 升级失败", "remote", r.RemoteAddr, "err", err)
		return
	}
	c.SetReadLimit(wsReadLimit)

	// 请求 ctx 在 handler 返回后取消，连接使用独立 ctx
	nc := websocket.NetConn(context.Background(), c, websocket.MessageBinary)
	select {
	case l.conns <- nc:
	case <-l.closeCh:
		_ = c.Close(websocket.StatusGoingAway, "listener closed")
	}
}

// Accept 接受新连接
func (l *Listener) Accept() (net.Conn, error) {
	select {
	case c := <-l.conns:
		return c, nil
	case <-l.closeCh:
		return nil, ErrListenerClosed
	}
}

// Addr 返回实际监听地址
func (l *Listener) Addr() string {
	return l.addr
}

// Close 关闭监听器，已接受的连接不受影响
func (l *Listener) Close() error {
	var err error
	l.once.Do(func() {
		close(l.closeCh)
		if l.onClose != nil {
			l.onClose(l)
		}
		// Close 而不是 Shutdown：已劫持的连接不归 HTTP 服务管理
		err = l.server.Close()
	})
	return err
}
