package quic

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/dep2p/go-comms/pkg/interfaces"
)

// streamAcceptTimeout 新连接打开首条流的最长等待时间
const streamAcceptTimeout = 10 * time.Second

// Listener QUIC 监听器
//
// 后台 goroutine 接受 QUIC 连接，并为每个连接等待首条流；
// 就绪的连接通过 conns 交给 Accept。
type Listener struct {
	ln      *quic.Listener
	addr    string
	conns   chan net.Conn
	ctx     context.Context
	cancel  context.CancelFunc
	once    sync.Once
	onClose func(*Listener)
}

// 确保实现接口
var _ interfaces.Listener = (*Listener)(nil)

func newListener(ln *quic.Listener, addr string, onClose func(*Listener)) *Listener {
	ctx, cancel := context.WithCancel(context.Background())
	l := &Listener{
		ln:      ln,
		addr:    addr,
		conns:   make(chan net.Conn, 16),
		ctx:     ctx,
		cancel:  cancel,
		onClose: onClose,
	}
	go l.acceptLoop()
	return l
}

func (l *Listener) acceptLoop() {
	for {
		qconn, err := l.ln.Accept(l.ctx)
		if err != nil {
			return
		}
		go l.acceptStream(qconn)
	}
}

func (l *Listener) acceptStream(qconn quic.Connection) {
	ctx, cancel := context.WithTimeout(l.ctx, streamAcceptTimeout)
	defer cancel()

	stream, err := qconn.AcceptStream(ctx)
	if err != nil {
		logger.Debug("QUIC 等待首条流失败", "remote", qconn.RemoteAddr().String(), "err", err)
		_ = qconn.CloseWithError(0, "no stream")
		return
	}

	c := newConn(qconn, stream)
	select {
	case l.conns <- c:
	case <-l.ctx.Done():
		_ = c.Close()
	}
}

// Accept 接受新连接
func (l *Listener) Accept() (net.Conn, error) {
	select {
	case c := <-l.conns:
		return c, nil
	case <-l.ctx.Done():
		return nil, ErrListenerClosed
	}
}

// Addr 返回实际监听地址
func (l *Listener) Addr() string {
	return l.addr
}

// Close 关闭监听器
func (l *Listener) Close() error {
	var err error
	l.once.Do(func() {
		l.cancel()
		if l.onClose != nil {
			l.onClose(l)
		}
		err = l.ln.Close()
	})
	return err
}
