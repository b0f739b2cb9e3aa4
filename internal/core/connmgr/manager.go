package connmgr

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/dep2p/go-comms/internal/core/metrics"
	"github.com/dep2p/go-comms/internal/core/protocol"
	"github.com/dep2p/go-comms/internal/core/upgrader"
	"github.com/dep2p/go-comms/pkg/interfaces"
	"github.com/dep2p/go-comms/pkg/lib/log"
	"github.com/dep2p/go-comms/pkg/types"
)

var logger = log.Logger("core/connmgr")

// ============================================================================
//                              Manager
// ============================================================================

// Manager 连接管理器
//
// 连接表和进行中的拨号表只由 Actor goroutine 访问，外部操作都是投递到
// 单一有序邮箱的请求。Actor 本身不做任何网络 I/O。
type Manager struct {
	cfg   Config
	local types.PeerIdentity

	transport interfaces.Transport
	upgrader  *upgrader.Upgrader
	dialer    *Dialer
	registry  *protocol.Registry
	peers     interfaces.PeerManager

	clock   clock.Clock
	metrics *metrics.Metrics
	events  *emitters

	mailbox chan request
	done    chan struct{}

	// ctx 管理器生命周期，关闭时取消所有拨号和入站升级
	ctx    context.Context
	cancel context.CancelFunc

	listenMu    sync.Mutex
	listeners   []*inboundListener
	accepts     errgroup.Group
	listenAddrs atomic.Pointer[[]string]

	workers   sync.WaitGroup
	closeOnce sync.Once
	closeErr  error

	// 以下字段只由 Actor goroutine 访问
	conns    map[types.NodeID]*PeerConnection
	pending  map[types.NodeID]*pendingDial
	nextDial uint64
}

// pendingDial 进行中的拨号，合并同一节点的并发 Connect
type pendingDial struct {
	id      uint64
	cancel  context.CancelFunc
	waiters []chan connectResult
}

func (p *pendingDial) resolve(pc *PeerConnection, err error) {
	for _, w := range p.waiters {
		w <- connectResult{conn: pc, err: err}
	}
	p.waiters = nil
}

// Option 管理器选项
type Option func(*Manager)

// WithClock 设置时钟
func WithClock(c clock.Clock) Option {
	return func(m *Manager) {
		m.clock = c
	}
}

// WithMetrics 设置指标
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) {
		m.metrics = mt
	}
}

// WithEventBus 设置事件总线
func WithEventBus(bus interfaces.EventBus) Option {
	return func(m *Manager) {
		if bus == nil {
			return
		}
		ev, err := newEmitters(bus)
		if err != nil {
			logger.Warn("创建事件发射器失败", "error", err)
			return
		}
		m.events = ev
	}
}

// WithPeerManager 设置 Peer Manager，连接建立后把对端写入目录
func WithPeerManager(pm interfaces.PeerManager) Option {
	return func(m *Manager) {
		m.peers = pm
	}
}

// New 创建连接管理器并启动 Actor
//
// 监听器在 Start 中绑定。
func New(cfg Config, local types.PeerIdentity, t interfaces.Transport, up *upgrader.Upgrader, opts ...Option) (*Manager, error) {
	if t == nil || up == nil {
		return nil, errors.New("connmgr: transport and upgrader are required")
	}
	cfg = cfg.withDefaults()

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		cfg:       cfg,
		local:     local,
		transport: t,
		upgrader:  up,
		registry:  up.Negotiator().Registry(),
		clock:     clock.New(),
		mailbox:   make(chan request, cfg.MailboxSize),
		done:      make(chan struct{}),
		ctx:       ctx,
		cancel:    cancel,
		conns:     make(map[types.NodeID]*PeerConnection),
		pending:   make(map[types.NodeID]*pendingDial),
	}
	for _, opt := range opts {
		opt(m)
	}

	d, err := NewDialer(t, up, cfg, m.clock, m.metrics)
	if err != nil {
		cancel()
		return nil, err
	}
	m.dialer = d
	m.listenAddrs.Store(&[]string{})
	up.Negotiator().SetAddrSource(m.ListenAddrs)

	go m.loop()
	m.metrics.WatchOpenSubstreams(m.openSubstreams)
	return m, nil
}

// openSubstreams 统计所有连接上打开的子流，供指标采集调用
func (m *Manager) openSubstreams() int {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	conns, err := m.ListConnections(ctx)
	if err != nil {
		return 0
	}
	n := 0
	for _, pc := range conns {
		n += pc.NumSubstreams()
	}
	return n
}

// LocalIdentity 返回本地身份
func (m *Manager) LocalIdentity() types.PeerIdentity {
	return m.local
}

// Registry 返回入站子流协议注册表
func (m *Manager) Registry() *protocol.Registry {
	return m.registry
}

// SetProtocolHandler 注册入站子流处理器
func (m *Manager) SetProtocolHandler(proto types.ProtocolID, handler protocol.StreamHandler) error {
	return m.registry.Register(proto, handler)
}

// ListenAddrs 返回已绑定的监听地址
func (m *Manager) ListenAddrs() []string {
	return append([]string(nil), (*m.listenAddrs.Load())...)
}

// ============================================================================
//                              公共操作
// ============================================================================

// Connect 返回到 nodeID 的连接
//
// 已有连接时直接返回；否则同一节点的并发调用合并为一次拨号，结果交付给
// 所有等待者。ctx 结束时本调用返回 DialCancelled，最后一个等待者离开时拨号被取消。
func (m *Manager) Connect(ctx context.Context, nodeID types.NodeID, addrs []string, opts ...DialOption) (*PeerConnection, error) {
	req := DialRequest{NodeID: nodeID, Addresses: append([]string(nil), addrs...)}
	for _, opt := range opts {
		opt(&req)
	}

	reply := make(chan connectResult, 1)
	if err := m.send(ctx, connectReq{req: req, reply: reply}); err != nil {
		return nil, err
	}

	select {
	case r := <-reply:
		return r.conn, r.err
	case <-m.done:
		return m.drainConnect(reply)
	case <-ctx.Done():
		m.trySend(leaveReq{nodeID: nodeID, reply: reply})
		return nil, dialCancelled(ctx)
	}
}

// drainConnect Actor 退出时优先取已经送达的结果
func (m *Manager) drainConnect(reply chan connectResult) (*PeerConnection, error) {
	select {
	case r := <-reply:
		return r.conn, r.err
	default:
		return nil, newError(KindActorRequestCanceled, "actor stopped before replying")
	}
}

// Disconnect 断开到 nodeID 的连接，未连接时为空操作
func (m *Manager) Disconnect(ctx context.Context, nodeID types.NodeID) error {
	reply := make(chan struct{}, 1)
	if err := m.send(ctx, disconnectReq{nodeID: nodeID, reply: reply}); err != nil {
		return err
	}
	_, err := await(ctx, m, reply)
	return err
}

// ListConnections 返回当前连接快照，按建立时间排序
func (m *Manager) ListConnections(ctx context.Context) ([]*PeerConnection, error) {
	reply := make(chan []*PeerConnection, 1)
	if err := m.send(ctx, listReq{reply: reply}); err != nil {
		return nil, err
	}
	return await(ctx, m, reply)
}

// GetConnection 返回到 nodeID 的连接，不存在时返回 ErrNotConnected
func (m *Manager) GetConnection(ctx context.Context, nodeID types.NodeID) (*PeerConnection, error) {
	reply := make(chan *PeerConnection, 1)
	if err := m.send(ctx, getReq{nodeID: nodeID, reply: reply}); err != nil {
		return nil, err
	}
	pc, err := await(ctx, m, reply)
	if err != nil {
		return nil, err
	}
	if pc == nil {
		return nil, ErrNotConnected
	}
	return pc, nil
}

// CancelDial 取消到 nodeID 的进行中拨号，所有等待者收到 DialCancelled
//
// 返回是否存在被取消的拨号。
func (m *Manager) CancelDial(ctx context.Context, nodeID types.NodeID) (bool, error) {
	reply := make(chan bool, 1)
	if err := m.send(ctx, cancelDialReq{nodeID: nodeID, reply: reply}); err != nil {
		return false, err
	}
	return await(ctx, m, reply)
}

// Close 关闭管理器
//
// 进行中的拨号等待者收到 ActorRequestCanceled，所有连接以 shutdown 原因断开，
// 监听器关闭。可重复调用。
func (m *Manager) Close() error {
	m.closeOnce.Do(func() {
		reply := make(chan struct{})
		select {
		case m.mailbox <- shutdownReq{reply: reply}:
			select {
			case <-reply:
			case <-m.done:
			}
		case <-m.done:
		}

		m.listenMu.Lock()
		var err error
		for _, l := range m.listeners {
			err = multierr.Append(err, l.close())
		}
		m.listeners = nil
		m.listenMu.Unlock()

		err = multierr.Append(err, m.accepts.Wait())
		m.workers.Wait()
		m.drainMailbox()
		m.closeErr = err
		logger.Info("连接管理器已关闭")
	})
	return m.closeErr
}

// drainMailbox 关闭 Actor 退出后仍留在邮箱中的已升级连接
func (m *Manager) drainMailbox() {
	for {
		select {
		case req := <-m.mailbox:
			switch r := req.(type) {
			case dialDoneMsg:
				if r.conn != nil {
					_ = r.conn.Close()
				}
			case inboundMsg:
				_ = r.conn.Close()
			}
		default:
			return
		}
	}
}

// ============================================================================
//                              邮箱
// ============================================================================

type request interface{}

type connectReq struct {
	req   DialRequest
	reply chan connectResult
}

type connectResult struct {
	conn *PeerConnection
	err  error
}

// leaveReq 等待者放弃等待
type leaveReq struct {
	nodeID types.NodeID
	reply  chan connectResult
}

type disconnectReq struct {
	nodeID types.NodeID
	reply  chan struct{}
}

type listReq struct {
	reply chan []*PeerConnection
}

type getReq struct {
	nodeID types.NodeID
	reply  chan *PeerConnection
}

type cancelDialReq struct {
	nodeID types.NodeID
	reply  chan bool
}

type shutdownReq struct {
	reply chan struct{}
}

// dialDoneMsg 拨号 goroutine 回报结果
type dialDoneMsg struct {
	nodeID types.NodeID
	dialID uint64
	conn   *upgrader.Conn
	err    error
}

// inboundMsg 入站连接升级完成
type inboundMsg struct {
	conn *upgrader.Conn
}

// connClosedMsg 监督 goroutine 回报连接结束
type connClosedMsg struct {
	nodeID types.NodeID
	connID string
	reason types.DisconnectReason
}

// send 投递请求，Actor 未运行时返回 SendToActorFailed
func (m *Manager) send(ctx context.Context, r request) error {
	select {
	case <-m.done:
		return newError(KindSendToActorFailed, "actor is not running")
	default:
	}

	select {
	case m.mailbox <- r:
		return nil
	case <-m.done:
		return newError(KindSendToActorFailed, "actor is not running")
	case <-ctx.Done():
		return newError(KindSendToActorFailed, "%v", ctx.Err())
	}
}

// trySend 内部消息投递，Actor 退出后丢弃
func (m *Manager) trySend(r request) bool {
	select {
	case <-m.done:
		return false
	default:
	}
	select {
	case m.mailbox <- r:
		return true
	case <-m.done:
		return false
	}
}

// await 等待 Actor 回复
func await[T any](ctx context.Context, m *Manager, reply chan T) (T, error) {
	var zero T
	select {
	case v := <-reply:
		return v, nil
	case <-m.done:
		select {
		case v := <-reply:
			return v, nil
		default:
			return zero, newError(KindActorRequestCanceled, "actor stopped before replying")
		}
	case <-ctx.Done():
		return zero, newError(KindActorRequestCanceled, "%v", ctx.Err())
	}
}

// ============================================================================
//                              Actor
// ============================================================================

func (m *Manager) loop() {
	for req := range m.mailbox {
		switch r := req.(type) {
		case connectReq:
			m.handleConnect(r)
		case leaveReq:
			m.handleLeave(r)
		case dialDoneMsg:
			m.handleDialDone(r)
		case inboundMsg:
			m.handleInbound(r)
		case connClosedMsg:
			m.handleConnClosed(r)
		case disconnectReq:
			m.removeConn(r.nodeID, types.DisconnectReasonLocal)
			r.reply <- struct{}{}
		case listReq:
			r.reply <- m.snapshot()
		case getReq:
			r.reply <- m.conns[r.nodeID]
		case cancelDialReq:
			r.reply <- m.cancelPending(r.nodeID, newError(KindDialCancelled, "cancelled by request"))
		case shutdownReq:
			m.shutdown()
			close(r.reply)
			return
		}
	}
}

func (m *Manager) handleConnect(r connectReq) {
	id := r.req.NodeID
	if pc, ok := m.conns[id]; ok {
		r.reply <- connectResult{conn: pc}
		return
	}
	if p, ok := m.pending[id]; ok {
		p.waiters = append(p.waiters, r.reply)
		return
	}
	if id == m.local.NodeID {
		r.reply <- connectResult{err: newError(KindPeerValidationError, "cannot dial self")}
		return
	}
	if len(m.conns) >= m.cfg.MaxConnections {
		r.reply <- connectResult{err: newError(KindMaximumConnectionsReached, "%d connections", len(m.conns))}
		return
	}

	m.nextDial++
	ctx, cancel := context.WithTimeout(m.ctx, m.cfg.DialTimeout)
	p := &pendingDial{id: m.nextDial, cancel: cancel, waiters: []chan connectResult{r.reply}}
	m.pending[id] = p

	logger.Debug("开始拨号", "peer", id.ShortString(), "addrs", len(r.req.Addresses))

	m.workers.Add(1)
	go func(dialID uint64, req DialRequest) {
		defer m.workers.Done()
		defer cancel()

		conn, err := m.dialer.Dial(ctx, req)
		if err == nil {
			m.recordPeer(ctx, conn)
		}
		if !m.trySend(dialDoneMsg{nodeID: req.NodeID, dialID: dialID, conn: conn, err: err}) && conn != nil {
			_ = conn.Close()
		}
	}(p.id, r.req)
}

func (m *Manager) handleLeave(r leaveReq) {
	p, ok := m.pending[r.nodeID]
	if !ok {
		return
	}
	for i, w := range p.waiters {
		if w == r.reply {
			p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
			break
		}
	}
	if len(p.waiters) == 0 {
		logger.Debug("所有等待者已离开，取消拨号", "peer", r.nodeID.ShortString())
		p.cancel()
		delete(m.pending, r.nodeID)
	}
}

func (m *Manager) handleDialDone(msg dialDoneMsg) {
	p, ok := m.pending[msg.nodeID]
	if !ok || p.id != msg.dialID {
		// 拨号已被取消或已由入站连接满足
		if msg.conn != nil {
			_ = msg.conn.Close()
		}
		return
	}
	delete(m.pending, msg.nodeID)
	p.cancel()

	if msg.err != nil {
		m.events.emitConnectFailed(msg.nodeID, types.DirOutbound, msg.err, m.clock.Now())
		// 等待期间登记的入站连接仍然可用
		if existing, ok := m.conns[msg.nodeID]; ok {
			p.resolve(existing, nil)
			return
		}
		p.resolve(nil, msg.err)
		return
	}

	pc, err := m.register(msg.conn)
	if err != nil {
		if existing, ok := m.conns[msg.nodeID]; ok && errors.Is(err, ErrDuplicateConnection) {
			p.resolve(existing, nil)
			return
		}
		m.events.emitConnectFailed(msg.nodeID, types.DirOutbound, err, m.clock.Now())
	}
	p.resolve(pc, err)
}

func (m *Manager) handleInbound(msg inboundMsg) {
	id := msg.conn.Remote.NodeID
	pc, err := m.register(msg.conn)
	if err != nil {
		m.metrics.RecordInboundRejected(rejectReason(err))
		logger.Debug("拒绝入站连接", "peer", id.ShortString(), "error", err)
		return
	}

	// 入站连接满足等待中的出站拨号。本端拨出的连接在冲突中胜出时继续等待拨号，
	// 拨号完成后替换这条入站连接。
	if p, ok := m.pending[id]; ok && m.winningDirection(id) == types.DirInbound {
		delete(m.pending, id)
		p.cancel()
		p.resolve(pc, nil)
	}
}

func (m *Manager) handleConnClosed(msg connClosedMsg) {
	pc, ok := m.conns[msg.nodeID]
	if !ok || pc.id != msg.connID {
		return
	}
	m.removeConn(msg.nodeID, msg.reason)
}

// register 把已升级的连接加入连接表
//
// 同一节点已有连接时按 prefers 决定替换还是拒绝，表中始终至多一条连接。
func (m *Manager) register(c *upgrader.Conn) (*PeerConnection, error) {
	id := c.Remote.NodeID
	if existing, ok := m.conns[id]; ok {
		if !m.prefers(c, existing) {
			_ = c.Close()
			return nil, newError(KindDuplicateConnection, "%s already connected", id)
		}
		return m.replace(existing, c), nil
	}
	if len(m.conns) >= m.cfg.MaxConnections {
		_ = c.Close()
		return nil, newError(KindMaximumConnectionsReached, "%d connections", len(m.conns))
	}
	pc := m.newConn(c)
	m.install(pc)
	return pc, nil
}

// prefers 同一节点出现两条连接时是否用 c 替换 existing
//
// 方向相同时保留已有连接；方向不同时保留由 NodeID 较小一方拨出的连接，
// 两端据此得出同一结论。
func (m *Manager) prefers(c *upgrader.Conn, existing *PeerConnection) bool {
	if c.Direction == existing.direction {
		return false
	}
	return c.Direction == m.winningDirection(c.Remote.NodeID)
}

// winningDirection 与 remote 同时互拨时保留的连接方向
func (m *Manager) winningDirection(remote types.NodeID) types.Direction {
	if m.local.NodeID.Less(remote) {
		return types.DirOutbound
	}
	return types.DirInbound
}

// replace 用 c 替换 old，old 上的句柄操作转交给新连接
func (m *Manager) replace(old *PeerConnection, c *upgrader.Conn) *PeerConnection {
	pc := m.newConn(c)
	old.supersede(pc)
	logger.Debug("替换重复连接",
		"peer", old.remote.NodeID.ShortString(),
		"old", old.direction.String(),
		"new", pc.direction.String())
	m.removeConn(old.remote.NodeID, types.DisconnectReasonDuplicate)
	m.install(pc)
	return pc
}

func (m *Manager) newConn(c *upgrader.Conn) *PeerConnection {
	return newPeerConnection(uuid.NewString(), c, m.clock.Now(), m.registry, m.metrics, func(msg connClosedMsg) {
		m.trySend(msg)
	})
}

// install 加入连接表并启动监督 goroutine
func (m *Manager) install(pc *PeerConnection) {
	id := pc.remote.NodeID
	m.conns[id] = pc

	m.workers.Add(1)
	go func() {
		defer m.workers.Done()
		pc.run()
	}()

	m.metrics.RecordConnected(pc.direction.String())
	m.events.emitConnected(pc, pc.createdAt)
	logger.Info("连接已建立",
		"peer", id.ShortString(),
		"direction", pc.direction.String(),
		"addr", pc.remoteAddr,
		"conns", len(m.conns))
}

// removeConn 移除表项并关闭连接
func (m *Manager) removeConn(id types.NodeID, reason types.DisconnectReason) {
	pc, ok := m.conns[id]
	if !ok {
		return
	}
	delete(m.conns, id)
	pc.shutdown(reason)

	m.metrics.RecordDisconnected(pc.direction.String(), reason.String())
	m.events.emitDisconnected(pc, reason, m.clock.Now())
	logger.Info("连接已断开",
		"peer", id.ShortString(),
		"reason", reason.String(),
		"conns", len(m.conns))
}

// cancelPending 取消进行中的拨号并以 err 回复所有等待者
func (m *Manager) cancelPending(id types.NodeID, err error) bool {
	p, ok := m.pending[id]
	if !ok {
		return false
	}
	delete(m.pending, id)
	p.cancel()
	p.resolve(nil, err)
	return true
}

func (m *Manager) snapshot() []*PeerConnection {
	out := make([]*PeerConnection, 0, len(m.conns))
	for _, pc := range m.conns {
		out = append(out, pc)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].createdAt.Before(out[j].createdAt)
	})
	return out
}

// shutdown Actor 退出前释放所有状态
func (m *Manager) shutdown() {
	for id := range m.pending {
		m.cancelPending(id, newError(KindActorRequestCanceled, "connection manager closed"))
	}
	for id := range m.conns {
		m.removeConn(id, types.DisconnectReasonShutdown)
	}
	m.cancel()
	close(m.done)
	m.events.close()
}

// recordPeer 把新连接的对端写入 Peer Manager 目录，在拨号或入站 goroutine 中执行
func (m *Manager) recordPeer(ctx context.Context, c *upgrader.Conn) {
	if m.peers == nil {
		return
	}
	rec := types.PeerRecord{
		NodeID:    c.Remote.NodeID,
		PublicKey: c.Remote.PublicKey,
		LastSeen:  m.clock.Now(),
	}
	if c.Info != nil {
		rec.Addresses = c.Info.Addresses
		rec.UserAgent = c.Info.UserAgent
	}
	if err := m.peers.AddPeer(ctx, rec); err != nil {
		logger.Debug("写入节点目录失败", "peer", rec.NodeID.ShortString(), "error", err)
	}
}

func rejectReason(err error) string {
	var cmErr *ConnectionManagerError
	if errors.As(err, &cmErr) {
		return cmErr.Kind.String()
	}
	return "unknown"
}

// ============================================================================
//                              事件
// ============================================================================

type emitters struct {
	connected    interfaces.Emitter
	disconnected interfaces.Emitter
	failed       interfaces.Emitter
}

func newEmitters(bus interfaces.EventBus) (*emitters, error) {
	connected, err := bus.Emitter(new(types.EvtPeerConnected))
	if err != nil {
		return nil, err
	}
	disconnected, err := bus.Emitter(new(types.EvtPeerDisconnected))
	if err != nil {
		_ = connected.Close()
		return nil, err
	}
	failed, err := bus.Emitter(new(types.EvtPeerConnectFailed))
	if err != nil {
		_ = connected.Close()
		_ = disconnected.Close()
		return nil, err
	}
	return &emitters{connected: connected, disconnected: disconnected, failed: failed}, nil
}

func (e *emitters) emitConnected(pc *PeerConnection, now time.Time) {
	if e == nil {
		return
	}
	_ = e.connected.Emit(types.EvtPeerConnected{
		NodeID:    pc.remote.NodeID,
		ConnID:    pc.id,
		Direction: pc.direction,
		Address:   pc.remoteAddr,
		Time:      now,
	})
}

func (e *emitters) emitDisconnected(pc *PeerConnection, reason types.DisconnectReason, now time.Time) {
	if e == nil {
		return
	}
	_ = e.disconnected.Emit(types.EvtPeerDisconnected{
		NodeID:    pc.remote.NodeID,
		ConnID:    pc.id,
		Direction: pc.direction,
		Reason:    reason,
		Time:      now,
	})
}

func (e *emitters) emitConnectFailed(id types.NodeID, dir types.Direction, err error, now time.Time) {
	if e == nil {
		return
	}
	_ = e.failed.Emit(types.EvtPeerConnectFailed{
		NodeID:    id,
		Direction: dir,
		Err:       err,
		Time:      now,
	})
}

func (e *emitters) close() {
	if e == nil {
		return
	}
	_ = e.connected.Close()
	_ = e.disconnected.Close()
	_ = e.failed.Close()
}
