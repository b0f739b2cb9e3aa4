package connmgr

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dep2p/go-comms/internal/core/metrics"
	"github.com/dep2p/go-comms/internal/core/muxer/yamux"
	"github.com/dep2p/go-comms/internal/core/protocol"
	"github.com/dep2p/go-comms/internal/core/protocol/system/ping"
	"github.com/dep2p/go-comms/internal/core/upgrader"
	"github.com/dep2p/go-comms/pkg/types"
)

// PeerConnection 已建立连接的句柄
//
// 句柄可以被多个持有者共享，但不拥有连接：多路复用会话只由连接自己的监督
// goroutine 持有，所有操作都以消息形式转发给它。Actor 移除表项后句柄即失效；
// 因重复连接被替换的句柄例外，其上的 OpenSubstream、Ping、Disconnect 转交给替代连接。
type PeerConnection struct {
	id         string
	remote     types.PeerIdentity
	direction  types.Direction
	remoteAddr string
	createdAt  time.Time

	userAgent string
	protocols []types.ProtocolID
	addresses []string

	state  atomic.Int32
	reason atomic.Int32

	// successor 替代本连接的新连接
	successor atomic.Pointer[PeerConnection]

	requests  chan connRequest
	quit      chan struct{}
	quitOnce  sync.Once
	done      chan struct{}
	closeWait sync.WaitGroup

	// 仅监督 goroutine 使用
	muxer    *yamux.Muxer
	registry *protocol.Registry
	metrics  *metrics.Metrics

	// notify 以节点 ID 回报给 Actor，不持有 Actor 本身
	notify func(connClosedMsg)
}

type connRequest interface{}

type openReq struct {
	ctx   context.Context
	proto types.ProtocolID
	reply chan openResult
}

type openResult struct {
	stream *protocol.Substream
	err    error
}

type closeConnReq struct {
	reply chan struct{}
}

func newPeerConnection(id string, c *upgrader.Conn, created time.Time, registry *protocol.Registry, m *metrics.Metrics, notify func(connClosedMsg)) *PeerConnection {
	pc := &PeerConnection{
		id:         id,
		remote:     c.Remote,
		direction:  c.Direction,
		remoteAddr: c.RemoteAddr,
		createdAt:  created,
		requests:   make(chan connRequest),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
		muxer:      c.Muxer,
		registry:   registry,
		metrics:    m,
		notify:     notify,
	}
	if c.Info != nil {
		pc.userAgent = c.Info.UserAgent
		pc.protocols = c.Info.ProtocolIDs()
		pc.addresses = append([]string(nil), c.Info.Addresses...)
	}
	pc.state.Store(int32(types.StateEstablished))
	return pc
}

// ID 返回连接 ID
func (pc *PeerConnection) ID() string { return pc.id }

// NodeID 返回对端节点 ID
func (pc *PeerConnection) NodeID() types.NodeID { return pc.remote.NodeID }

// RemoteIdentity 返回握手认证的对端身份
func (pc *PeerConnection) RemoteIdentity() types.PeerIdentity { return pc.remote }

// Direction 返回连接方向
func (pc *PeerConnection) Direction() types.Direction { return pc.direction }

// RemoteAddr 返回对端地址
func (pc *PeerConnection) RemoteAddr() string { return pc.remoteAddr }

// CreatedAt 返回建立时间
func (pc *PeerConnection) CreatedAt() time.Time { return pc.createdAt }

// UserAgent 返回对端在身份交换中声明的 user agent
func (pc *PeerConnection) UserAgent() string { return pc.userAgent }

// Protocols 返回对端声明支持的协议
func (pc *PeerConnection) Protocols() []types.ProtocolID {
	return append([]types.ProtocolID(nil), pc.protocols...)
}

// ListenAddrs 返回对端声明的监听地址
func (pc *PeerConnection) ListenAddrs() []string {
	return append([]string(nil), pc.addresses...)
}

// NumSubstreams 返回当前打开的子流数
func (pc *PeerConnection) NumSubstreams() int {
	return pc.muxer.NumStreams()
}

// State 返回当前状态
func (pc *PeerConnection) State() types.ConnState {
	return types.ConnState(pc.state.Load())
}

// Done 返回连接结束时关闭的通道
func (pc *PeerConnection) Done() <-chan struct{} {
	return pc.done
}

// ============================================================================
//                              句柄操作
// ============================================================================

// OpenSubstream 打开出站子流并选择协议
func (pc *PeerConnection) OpenSubstream(ctx context.Context, proto types.ProtocolID) (*protocol.Substream, error) {
	if next := pc.successor.Load(); next != nil {
		return next.OpenSubstream(ctx, proto)
	}
	if pc.State() != types.StateEstablished {
		return nil, &PeerConnectionError{Kind: ConnKindInternalRequestSendFailed, Details: "connection " + pc.State().String()}
	}

	reply := make(chan openResult, 1)
	select {
	case pc.requests <- openReq{ctx: ctx, proto: proto, reply: reply}:
	case <-pc.done:
		if next := pc.successor.Load(); next != nil {
			return next.OpenSubstream(ctx, proto)
		}
		return nil, &PeerConnectionError{Kind: ConnKindInternalRequestSendFailed, Details: "connection closed"}
	case <-ctx.Done():
		return nil, fromContext(ctx)
	}

	select {
	case r := <-reply:
		return r.stream, r.err
	case <-pc.done:
		select {
		case r := <-reply:
			return r.stream, r.err
		default:
			return nil, &PeerConnectionError{Kind: ConnKindInternalReplyCancelled, Details: "connection closed before reply"}
		}
	}
}

// Ping 通过 ping 协议测量往返时间
func (pc *PeerConnection) Ping(ctx context.Context) (time.Duration, error) {
	s, err := pc.OpenSubstream(ctx, ping.ProtocolID)
	if err != nil {
		return 0, err
	}
	defer s.Close()
	return ping.Ping(ctx, s)
}

// Disconnect 关闭连接，对已关闭的连接是空操作
//
// 监督 goroutine 关闭会话后通知 Actor 移除表项。
func (pc *PeerConnection) Disconnect(ctx context.Context) error {
	if next := pc.successor.Load(); next != nil {
		return next.Disconnect(ctx)
	}
	reply := make(chan struct{})
	select {
	case pc.requests <- closeConnReq{reply: reply}:
	case <-pc.done:
		return nil
	case <-ctx.Done():
		return fromContext(ctx)
	}

	select {
	case <-reply:
		return nil
	case <-pc.done:
		return nil
	}
}

// ============================================================================
//                              监督 goroutine
// ============================================================================

// run 监督 goroutine，独占多路复用会话
func (pc *PeerConnection) run() {
	pc.closeWait.Add(1)
	go pc.acceptLoop()

	for {
		select {
		case req := <-pc.requests:
			switch r := req.(type) {
			case openReq:
				if pc.State() != types.StateEstablished {
					// 已进入关闭流程，请求被丢弃
					continue
				}
				pc.closeWait.Add(1)
				go pc.open(r)
			case closeConnReq:
				pc.shutdown(types.DisconnectReasonLocal)
				close(r.reply)
			}
		case <-pc.muxer.CloseChan():
			pc.shutdown(types.DisconnectReasonRemote)
		case <-pc.quit:
			_ = pc.muxer.Close()
			close(pc.done)
			pc.closeWait.Wait()

			logger.Debug("连接已关闭",
				"peer", pc.remote.NodeID.ShortString(),
				"conn", pc.id,
				"reason", pc.Reason().String())
			pc.notify(connClosedMsg{nodeID: pc.remote.NodeID, connID: pc.id, reason: pc.Reason()})
			return
		}
	}
}

// shutdown 进入断开状态并通知监督 goroutine 退出，可重复调用
func (pc *PeerConnection) shutdown(reason types.DisconnectReason) {
	pc.quitOnce.Do(func() {
		pc.reason.Store(int32(reason))
		pc.state.Store(int32(types.StateDisconnected))
		close(pc.quit)
	})
}

// supersede 记录替代连接，须在 shutdown 之前调用
func (pc *PeerConnection) supersede(next *PeerConnection) {
	pc.successor.Store(next)
}

// Current 返回句柄当前指向的连接，未被替换时为自身
func (pc *PeerConnection) Current() *PeerConnection {
	c := pc
	for {
		next := c.successor.Load()
		if next == nil {
			return c
		}
		c = next
	}
}

// Reason 返回断开原因，连接未断开时为 DisconnectReasonUnknown
func (pc *PeerConnection) Reason() types.DisconnectReason {
	return types.DisconnectReason(pc.reason.Load())
}

func (pc *PeerConnection) open(r openReq) {
	defer pc.closeWait.Done()

	s, err := protocol.SelectProtocol(r.ctx, pc.muxer, r.proto, pc.remote)
	if err != nil {
		r.reply <- openResult{err: fromSubstream(err)}
		return
	}
	pc.metrics.RecordSubstream("outbound")
	r.reply <- openResult{stream: s}
}

// acceptLoop 接受入站子流并交给协议注册表分发
func (pc *PeerConnection) acceptLoop() {
	defer pc.closeWait.Done()

	for {
		s, err := pc.muxer.AcceptStream()
		if err != nil {
			return
		}
		pc.metrics.RecordSubstream("inbound")
		go func() {
			if err := pc.registry.Handle(context.Background(), s, pc.remote); err != nil {
				logger.Debug("入站子流协商失败",
					"peer", pc.remote.NodeID.ShortString(),
					"error", err)
			}
		}()
	}
}
