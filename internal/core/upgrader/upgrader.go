package upgrader

import (
	"context"
	"net"

	"github.com/benbjohnson/clock"

	"github.com/dep2p/go-comms/internal/core/metrics"
	"github.com/dep2p/go-comms/internal/core/muxer/yamux"
	"github.com/dep2p/go-comms/internal/core/peervalidator"
	"github.com/dep2p/go-comms/internal/core/protocol"
	"github.com/dep2p/go-comms/internal/core/security/noise"
	"github.com/dep2p/go-comms/pkg/lib/log"
	"github.com/dep2p/go-comms/pkg/types"
)

var logger = log.Logger("core/upgrader")

// Upgrader 连接升级器
type Upgrader struct {
	security   *noise.Transport
	validator  *peervalidator.Validator
	muxer      *yamux.Transport
	negotiator *protocol.Negotiator

	timeouts Timeouts
	metrics  *metrics.Metrics
	clock    clock.Clock
}

// Option 升级器选项
type Option func(*Upgrader)

// WithClock 设置阶段计时使用的时钟
func WithClock(c clock.Clock) Option {
	return func(u *Upgrader) {
		if c != nil {
			u.clock = c
		}
	}
}

// New 创建连接升级器，m 可为 nil
func New(
	security *noise.Transport,
	validator *peervalidator.Validator,
	muxer *yamux.Transport,
	negotiator *protocol.Negotiator,
	timeouts Timeouts,
	m *metrics.Metrics,
	opts ...Option,
) (*Upgrader, error) {
	if security == nil || validator == nil || muxer == nil || negotiator == nil {
		return nil, ErrNilComponent
	}
	u := &Upgrader{
		security:   security,
		validator:  validator,
		muxer:      muxer,
		negotiator: negotiator,
		timeouts:   timeouts,
		metrics:    m,
		clock:      clock.New(),
	}
	for _, opt := range opts {
		opt(u)
	}
	return u, nil
}

// Negotiator 返回身份交换协商器
func (u *Upgrader) Negotiator() *protocol.Negotiator {
	return u.negotiator
}

// Timeouts 返回阶段超时
func (u *Upgrader) Timeouts() Timeouts {
	return u.timeouts
}

// StateFunc 在进入每个升级阶段时被调用
type StateFunc func(next types.ConnState)

// Upgrade 升级原始连接
//
// expected 仅对出站连接有意义，不为 nil 时握手得到的公钥必须与之相同。
// 失败时 raw 及其上的所有资源都已释放。
func (u *Upgrader) Upgrade(ctx context.Context, raw net.Conn, dir types.Direction, expected *types.PublicKey) (*Conn, error) {
	return u.UpgradeObserved(ctx, raw, dir, expected, nil)
}

// UpgradeObserved 与 Upgrade 相同，并在每个阶段开始前调用 observe
func (u *Upgrader) UpgradeObserved(ctx context.Context, raw net.Conn, dir types.Direction, expected *types.PublicKey, observe StateFunc) (*Conn, error) {
	if observe == nil {
		observe = func(types.ConnState) {}
	}
	initiator := dir.IsInitiator()
	remoteAddr := raw.RemoteAddr().String()

	// 1. Noise 握手
	observe(types.StateAuthenticating)
	start := u.clock.Now()
	hctx, cancel := context.WithTimeout(ctx, u.timeouts.Handshake)
	var (
		secConn *noise.Conn
		err     error
	)
	if initiator {
		secConn, err = u.security.SecureOutbound(hctx, raw, expected)
	} else {
		secConn, err = u.security.SecureInbound(hctx, raw)
	}
	if err != nil {
		cancel()
		return nil, &PhaseError{Phase: PhaseHandshake, Err: err}
	}
	remote := secConn.RemoteIdentity()
	u.metrics.ObservePhase(PhaseHandshake.String(), u.clock.Since(start))

	// 2. 节点校验（与握手共用超时）
	observe(types.StateValidating)
	err = u.validator.Validate(hctx, remote)
	cancel()
	if err != nil {
		_ = secConn.Close()
		return nil, &PhaseError{Phase: PhaseValidation, Err: err}
	}

	// 3. 多路复用
	observe(types.StateMultiplexing)
	start = u.clock.Now()
	mctx, cancel := context.WithTimeout(ctx, u.timeouts.Multiplexing)
	mux, err := u.muxer.Upgrade(mctx, secConn, !initiator)
	cancel()
	if err != nil {
		_ = secConn.Close()
		return nil, &PhaseError{Phase: PhaseMultiplexing, Err: err}
	}
	u.metrics.ObservePhase(PhaseMultiplexing.String(), u.clock.Since(start))

	// 4. 身份交换
	observe(types.StateNegotiating)
	start = u.clock.Now()
	nctx, cancel := context.WithTimeout(ctx, u.timeouts.Negotiation)
	info, err := u.negotiator.Exchange(nctx, mux, remote, initiator)
	cancel()
	if err != nil {
		_ = mux.Close()
		return nil, &PhaseError{Phase: PhaseNegotiation, Err: err}
	}
	u.metrics.ObservePhase(PhaseNegotiation.String(), u.clock.Since(start))

	logger.Debug("连接升级成功",
		"remote", remote.NodeID.ShortString(),
		"direction", dir.String(),
		"addr", remoteAddr)

	return &Conn{
		Muxer:      mux,
		Remote:     remote,
		Info:       info,
		Direction:  dir,
		RemoteAddr: remoteAddr,
	}, nil
}
