package quic

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"time"

	ma "github.com/multiformats/go-multiaddr"
	"github.com/quic-go/quic-go"
	"go.uber.org/multierr"

	"github.com/dep2p/go-comms/internal/core/transport/addrutil"
	"github.com/dep2p/go-comms/pkg/interfaces"
	"github.com/dep2p/go-comms/pkg/lib/log"
)

var logger = log.Logger("core/transport/quic")

// Config QUIC 传输配置
type Config struct {
	MaxIdleTimeout  time.Duration
	KeepAlivePeriod time.Duration
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		MaxIdleTimeout:  30 * time.Second,
		KeepAlivePeriod: 10 * time.Second,
	}
}

// Transport QUIC 传输
type Transport struct {
	serverTLS *tls.Config
	clientTLS *tls.Config
	config    *quic.Config

	mu        sync.Mutex
	listeners map[*Listener]struct{}
	closed    bool
}

// 确保实现接口
var _ interfaces.Transport = (*Transport)(nil)

// New 创建 QUIC 传输
func New(cfg Config) (*Transport, error) {
	serverTLS, clientTLS, err := newTLSConfigs()
	if err != nil {
		return nil, err
	}

	return &Transport{
		serverTLS: serverTLS,
		clientTLS: clientTLS,
		config: &quic.Config{
			MaxIdleTimeout:        cfg.MaxIdleTimeout,
			KeepAlivePeriod:       cfg.KeepAlivePeriod,
			MaxIncomingStreams:    1,
			MaxIncomingUniStreams: -1,
		},
		listeners: make(map[*Listener]struct{}),
	}, nil
}

// Name 返回传输名称
func (t *Transport) Name() string {
	return "quic"
}

// CanDial 检查是否可以拨号到指定地址
func (t *Transport) CanDial(addr string) bool {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return false
	}
	m, err := addrutil.Parse(addr)
	if err != nil {
		return false
	}
	return isQUIC(m)
}

// Dial 拨号连接
//
// 建立 QUIC 连接后立即打开唯一的双向流。任何一步失败都会关闭连接。
func (t *Transport) Dial(ctx context.Context, addr string) (net.Conn, error) {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return nil, ErrTransportClosed
	}

	m, _, hostport, err := addrutil.ParseHostPort(addr)
	if err != nil {
		return nil, err
	}
	if !isQUIC(m) {
		return nil, fmt.Errorf("%w: %s", ErrNotQUICAddress, addr)
	}

	qconn, err := quic.DialAddr(ctx, hostport, t.clientTLS, t.config)
	if err != nil {
		return nil, fmt.Errorf("quic dial %s: %w", addr, err)
	}

	stream, err := qconn.OpenStreamSync(ctx)
	if err != nil {
		_ = qconn.CloseWithError(0, "open stream failed")
		return nil, fmt.Errorf("quic open stream %s: %w", addr, err)
	}

	logger.Debug("QUIC 拨号成功", "addr", addr)
	return newConn(qconn, stream), nil
}

// Listen 在指定地址监听
func (t *Transport) Listen(addr string) (interfaces.Listener, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, ErrTransportClosed
	}

	m, _, hostport, err := addrutil.ParseHostPort(addr)
	if err != nil {
		return nil, err
	}
	if !isQUIC(m) {
		return nil, fmt.Errorf("%w: %s", ErrNotQUICAddress, addr)
	}

	ln, err := quic.ListenAddr(hostport, t.serverTLS, t.config)
	if err != nil {
		return nil, fmt.Errorf("quic listen %s: %w", addr, err)
	}

	bound, err := addrutil.FromNetAddr(ln.Addr(), "/quic-v1")
	if err != nil {
		_ = ln.Close()
		return nil, err
	}

	l := newListener(ln, bound, t.removeListener)
	t.listeners[l] = struct{}{}

	logger.Info("QUIC 监听已启动", "addr", bound)
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

func (t *Transport) removeListener(l *Listener) {
	t.mu.Lock()
	delete(t.listeners, l)
	t.mu.Unlock()
}

func isQUIC(m ma.Multiaddr) bool {
	return addrutil.Has(m, ma.P_UDP) && addrutil.Has(m, ma.P_QUIC_V1)
}
