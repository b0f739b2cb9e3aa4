package connmgr

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dep2p/go-comms/internal/core/metrics"
	"github.com/dep2p/go-comms/internal/core/transport/addrutil"
	"github.com/dep2p/go-comms/internal/core/upgrader"
	"github.com/dep2p/go-comms/pkg/interfaces"
	"github.com/dep2p/go-comms/pkg/types"
)

// DialRequest 一次拨号请求
type DialRequest struct {
	NodeID    types.NodeID
	Addresses []string

	// Expected 期望的对端静态公钥，nil 表示只校验 NodeID
	Expected *types.PublicKey

	// Exclusions 本次拨号额外排除的地址
	Exclusions []string
}

// DialOption 拨号选项
type DialOption func(*DialRequest)

// WithExpectedKey 要求握手得到的公钥与 pk 相同
func WithExpectedKey(pk types.PublicKey) DialOption {
	return func(r *DialRequest) {
		r.Expected = &pk
	}
}

// WithExclusions 本次拨号额外排除的地址
func WithExclusions(addrs ...string) DialOption {
	return func(r *DialRequest) {
		r.Exclusions = append(r.Exclusions, addrs...)
	}
}

// ============================================================================
//                              Dialer
// ============================================================================

// Dialer 按优先级依次尝试候选地址
type Dialer struct {
	transport interfaces.Transport
	upgrader  *upgrader.Upgrader

	excluded         map[string]struct{}
	maxAttempts      int
	transportTimeout time.Duration

	// lastGood 每个节点最近一次成功的地址
	lastGood *lru.Cache[types.NodeID, string]

	clock   clock.Clock
	metrics *metrics.Metrics
}

// NewDialer 创建拨号器
func NewDialer(t interfaces.Transport, up *upgrader.Upgrader, cfg Config, clk clock.Clock, m *metrics.Metrics) (*Dialer, error) {
	cfg = cfg.withDefaults()
	cache, err := lru.New[types.NodeID, string](cfg.AddressCacheSize)
	if err != nil {
		return nil, err
	}
	if clk == nil {
		clk = clock.New()
	}

	excluded := make(map[string]struct{}, len(cfg.ExcludedAddresses))
	for _, a := range cfg.ExcludedAddresses {
		excluded[normalize(a)] = struct{}{}
	}

	return &Dialer{
		transport:        t,
		upgrader:         up,
		excluded:         excluded,
		maxAttempts:      cfg.MaxDialAttempts,
		transportTimeout: cfg.TransportTimeout,
		lastGood:         cache,
		clock:            clk,
		metrics:          m,
	}, nil
}

// Dial 建立到 req.NodeID 的已升级连接
//
// 地址按优先级顺序逐个尝试。不可重试的失败（封禁、身份不符等）立即终止；
// ctx 取消或超过截止时间返回 DialCancelled，已打开的资源在返回前释放。
func (d *Dialer) Dial(ctx context.Context, req DialRequest) (*upgrader.Conn, error) {
	start := d.clock.Now()
	conn, err := d.dial(ctx, req)

	if err != nil {
		logger.Debug("拨号失败", "peer", req.NodeID.ShortString(), "error", err)
		d.metrics.RecordDial(err.Kind.String(), d.clock.Since(start))
		return nil, err
	}
	d.metrics.RecordDial("", d.clock.Since(start))
	return conn, nil
}

func (d *Dialer) dial(ctx context.Context, req DialRequest) (*upgrader.Conn, *ConnectionManagerError) {
	candidates := d.filter(req)
	if len(candidates) == 0 {
		return nil, newError(KindAllPeerAddressesAreExcluded, "%d addresses for %s", len(req.Addresses), req.NodeID)
	}
	candidates = d.order(req.NodeID, candidates)

	var (
		attempts  int
		contacted bool
		lastErr   *ConnectionManagerError
	)
	for _, addr := range candidates {
		if ctx.Err() != nil {
			return nil, dialCancelled(ctx)
		}
		if attempts >= d.maxAttempts {
			return nil, newError(KindConnectFailedMaximumAttemptsReached,
				"%d attempts for %s, last error: %v", attempts, req.NodeID, lastErr)
		}
		attempts++

		conn, reached, err := d.attempt(ctx, req, addr)
		contacted = contacted || reached
		if err == nil {
			d.lastGood.Add(req.NodeID, addr)
			return conn, nil
		}
		if ctx.Err() != nil {
			return nil, dialCancelled(ctx)
		}

		logger.Debug("地址拨号失败",
			"peer", req.NodeID.ShortString(),
			"addr", addr,
			"attempt", attempts,
			"error", err)

		if !err.Retryable() {
			return nil, err
		}
		lastErr = err
	}

	if !contacted {
		return nil, newError(KindNoContactableAddressesForPeer, "%s: %v", req.NodeID, lastErr)
	}
	return nil, newError(KindDialConnectFailedAllAddresses, "%s: %d addresses, last error: %v",
		req.NodeID, len(candidates), lastErr)
}

// attempt 对单个地址执行 传输建连 → 握手 → 校验 → 多路复用 → 协商
//
// reached 表示是否实际发起了网络连接。
func (d *Dialer) attempt(ctx context.Context, req DialRequest, addr string) (conn *upgrader.Conn, reached bool, err *ConnectionManagerError) {
	st := newAttemptState(req.NodeID, addr, types.DirOutbound)

	if _, perr := addrutil.Parse(addr); perr != nil {
		st.fail(perr)
		return nil, false, fromTransport(addr, perr)
	}
	if !d.transport.CanDial(addr) {
		st.fail(nil)
		return nil, false, &ConnectionManagerError{Kind: KindTransportError, Address: addr, Details: "no transport can dial address"}
	}

	tctx, cancel := context.WithTimeout(ctx, d.transportTimeout)
	raw, derr := d.transport.Dial(tctx, addr)
	cancel()
	if derr != nil {
		st.fail(derr)
		return nil, true, fromTransport(addr, derr)
	}

	c, uerr := d.upgrader.UpgradeObserved(ctx, raw, types.DirOutbound, req.Expected, st.transition)
	if uerr != nil {
		st.fail(uerr)
		return nil, true, fromUpgrade(uerr)
	}

	if c.Remote.NodeID != req.NodeID {
		_ = c.Close()
		st.fail(nil)
		return nil, true, newError(KindPeerValidationError,
			"dialed %s but authenticated %s", req.NodeID, c.Remote.NodeID)
	}

	st.transition(types.StateEstablished)
	return c, true, nil
}

// filter 去除排除地址和重复地址，保持原有顺序
func (d *Dialer) filter(req DialRequest) []string {
	extra := make(map[string]struct{}, len(req.Exclusions))
	for _, a := range req.Exclusions {
		extra[normalize(a)] = struct{}{}
	}

	seen := make(map[string]struct{}, len(req.Addresses))
	out := make([]string, 0, len(req.Addresses))
	for _, a := range req.Addresses {
		key := normalize(a)
		if _, ok := d.excluded[key]; ok {
			continue
		}
		if _, ok := extra[key]; ok {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, a)
	}
	return out
}

// order 最近成功的地址排在最前，其余保持列表顺序
func (d *Dialer) order(id types.NodeID, addrs []string) []string {
	good, ok := d.lastGood.Get(id)
	if !ok {
		return addrs
	}
	good = normalize(good)
	for i, a := range addrs {
		if normalize(a) != good {
			continue
		}
		if i == 0 {
			return addrs
		}
		out := make([]string, 0, len(addrs))
		out = append(out, a)
		out = append(out, addrs[:i]...)
		return append(out, addrs[i+1:]...)
	}
	return addrs
}

// normalize 返回地址的规范形式，无法解析时原样返回
func normalize(addr string) string {
	m, err := addrutil.Parse(addr)
	if err != nil {
		return addr
	}
	return m.String()
}

// ============================================================================
//                              连接尝试状态
// ============================================================================

// attemptState 单次连接尝试的状态机
type attemptState struct {
	nodeID types.NodeID
	addr   string
	dir    types.Direction
	state  types.ConnState
}

func newAttemptState(id types.NodeID, addr string, dir types.Direction) *attemptState {
	return &attemptState{nodeID: id, addr: addr, dir: dir, state: types.StateConnecting}
}

func (a *attemptState) transition(next types.ConnState) {
	if !a.state.CanTransitionTo(next) {
		logger.Warn("非法状态转换",
			"peer", a.nodeID.ShortString(),
			"from", a.state.String(),
			"to", next.String())
		return
	}
	a.state = next
}

func (a *attemptState) fail(err error) {
	from := a.state
	a.transition(types.StateFailed)
	if err != nil {
		logger.Debug("连接尝试失败",
			"peer", a.nodeID.ShortString(),
			"addr", a.addr,
			"direction", a.dir.String(),
			"state", from.String(),
			"error", err)
	}
}
