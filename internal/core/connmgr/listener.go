package connmgr

import (
	"context"
	"errors"
	"net"
	"sync/atomic"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/dep2p/go-comms/pkg/interfaces"
	"github.com/dep2p/go-comms/pkg/types"
)

// inboundListener 单个监听地址
type inboundListener struct {
	addr    string
	ln      interfaces.Listener
	limiter *rate.Limiter
	closing atomic.Bool
}

func (l *inboundListener) close() error {
	if l.closing.Swap(true) {
		return nil
	}
	return l.ln.Close()
}

func listenerError(addr string, err error) *ConnectionManagerError {
	return &ConnectionManagerError{Kind: KindListenerError, Address: addr, Details: err.Error()}
}

// Start 绑定所有配置的监听地址并开始接受入站连接
//
// 每个地址的绑定失败以 ListenerError 返回（多个失败合并），不影响其他地址；
// 成功绑定的监听器在返回后继续运行。ctx 在所有地址公布之前结束时，尚未公布的
// 监听器被关闭并报告 ListenerOneshotCancelled。
func (m *Manager) Start(ctx context.Context) error {
	select {
	case <-m.done:
		return newError(KindSendToActorFailed, "connection manager closed")
	default:
	}

	addrs := m.cfg.ListenAddrs
	errs := make([]error, len(addrs))
	ready := make([]chan *inboundListener, len(addrs))

	var binds errgroup.Group
	for i, addr := range addrs {
		i, addr := i, addr
		ready[i] = make(chan *inboundListener)
		binds.Go(func() error {
			ln, err := m.transport.Listen(addr)
			if err != nil {
				errs[i] = listenerError(addr, err)
				close(ready[i])
				return nil
			}
			l := &inboundListener{addr: ln.Addr(), ln: ln}
			if m.cfg.InboundRateLimit > 0 {
				l.limiter = rate.NewLimiter(rate.Limit(m.cfg.InboundRateLimit), m.cfg.InboundBurst)
			}

			// 一次性就绪信号
			select {
			case ready[i] <- l:
				return nil
			case <-ctx.Done():
				_ = ln.Close()
				errs[i] = &ConnectionManagerError{
					Kind:    KindListenerOneshotCancelled,
					Address: addr,
					Details: "listener bound after the readiness consumer went away",
				}
				return nil
			}
		})
	}

	var bound []*inboundListener
	for i := range ready {
		select {
		case l, ok := <-ready[i]:
			if ok {
				bound = append(bound, l)
			}
		case <-ctx.Done():
		}
	}
	_ = binds.Wait()

	m.listenMu.Lock()
	select {
	case <-m.done:
		m.listenMu.Unlock()
		for _, l := range bound {
			_ = l.close()
		}
		return newError(KindSendToActorFailed, "connection manager closed")
	default:
	}
	m.listeners = append(m.listeners, bound...)
	all := make([]string, 0, len(m.listeners))
	for _, l := range m.listeners {
		all = append(all, l.addr)
	}
	m.listenAddrs.Store(&all)
	for _, l := range bound {
		l := l
		m.accepts.Go(func() error {
			return m.serve(l)
		})
	}
	m.listenMu.Unlock()

	err := multierr.Combine(errs...)
	for _, e := range multierr.Errors(err) {
		m.metrics.RecordListenerError()
		logger.Warn("监听失败", "error", e)
	}
	for _, l := range bound {
		logger.Info("开始监听", "addr", l.addr)
	}
	return err
}

// serve 接受循环，监听器被关闭时正常返回
func (m *Manager) serve(l *inboundListener) error {
	for {
		raw, err := l.ln.Accept()
		if err != nil {
			if l.closing.Load() {
				return nil
			}
			m.metrics.RecordListenerError()
			logger.Warn("接受连接失败，监听器停止", "addr", l.addr, "error", err)
			return listenerError(l.addr, err)
		}
		if l.limiter != nil && !l.limiter.Allow() {
			_ = raw.Close()
			m.metrics.RecordInboundRejected("rate_limited")
			continue
		}

		m.workers.Add(1)
		go func() {
			defer m.workers.Done()
			m.upgradeInbound(l.addr, raw)
		}()
	}
}

// upgradeInbound 对入站连接执行 握手 → 校验 → 多路复用 → 协商，然后交给 Actor 登记
func (m *Manager) upgradeInbound(listenAddr string, raw net.Conn) {
	ctx, cancel := context.WithTimeout(m.ctx, m.upgrader.Timeouts().Total())
	defer cancel()

	st := newAttemptState(types.EmptyNodeID, raw.RemoteAddr().String(), types.DirInbound)
	conn, err := m.upgrader.UpgradeObserved(ctx, raw, types.DirInbound, nil, st.transition)
	if err != nil {
		st.fail(err)
		cmErr := fromUpgrade(err)
		m.metrics.RecordInboundRejected(cmErr.Kind.String())
		m.events.emitConnectFailed(types.EmptyNodeID, types.DirInbound, cmErr, m.clock.Now())
		if !errors.Is(m.ctx.Err(), context.Canceled) {
			logger.Debug("入站升级失败", "listener", listenAddr, "error", cmErr)
		}
		return
	}
	st.transition(types.StateEstablished)

	m.recordPeer(ctx, conn)
	if !m.trySend(inboundMsg{conn: conn}) {
		_ = conn.Close()
	}
}
