package comms

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"

	"github.com/dep2p/go-comms/internal/core/connmgr"
	"github.com/dep2p/go-comms/internal/core/eventbus"
	"github.com/dep2p/go-comms/internal/core/identity"
	"github.com/dep2p/go-comms/internal/core/peermanager"
	"github.com/dep2p/go-comms/pkg/interfaces"
	"github.com/dep2p/go-comms/pkg/lib/log"
	"github.com/dep2p/go-comms/pkg/types"
)

var logger = log.Logger("comms")

// startTimeout Fx 应用启动超时
const startTimeout = 30 * time.Second

// ════════════════════════════════════════════════════════════════════════════
//                              Node
// ════════════════════════════════════════════════════════════════════════════

// Node 节点门面
//
// 持有 Fx 应用和注入的核心组件，对外暴露连接管理操作。
type Node struct {
	config *nodeConfig
	app    *fx.App

	// 由 Fx 注入
	identity *identity.Identity
	manager  *connmgr.Manager
	bus      *eventbus.Bus
	peers    *peermanager.Manager

	registry *prometheus.Registry

	mu      sync.Mutex
	started bool
	closed  bool
}

// New 创建节点，不启动
func New(opts ...Option) (*Node, error) {
	cfg := newNodeConfig()
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, fmt.Errorf("apply option: %w", err)
		}
	}

	node := &Node{config: cfg}
	app, err := buildFxApp(cfg, node)
	if err != nil {
		return nil, fmt.Errorf("build fx app: %w", err)
	}
	if err := app.Err(); err != nil {
		return nil, fmt.Errorf("build fx app: %w", err)
	}
	node.app = app
	return node, nil
}

// Start 快捷启动函数，创建并启动节点
func Start(ctx context.Context, opts ...Option) (*Node, error) {
	node, err := New(opts...)
	if err != nil {
		return nil, err
	}
	if err := node.Start(ctx); err != nil {
		return nil, err
	}
	return node, nil
}

// Start 启动节点：绑定监听地址并开始接受连接
func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return ErrNodeClosed
	}
	if n.started {
		return ErrAlreadyStarted
	}

	startCtx, cancel := context.WithTimeout(ctx, startTimeout)
	defer cancel()

	if err := n.app.Start(startCtx); err != nil {
		logger.Error("节点启动失败", "error", err)
		return fmt.Errorf("start fx app: %w", err)
	}
	n.started = true
	logger.Info("节点已启动",
		"nodeID", n.identity.NodeID().ShortString(),
		"addrs", n.manager.ListenAddrs())
	return nil
}

// Close 关闭节点，断开所有连接并释放监听器，可重复调用
func (n *Node) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return nil
	}
	n.closed = true
	if !n.started {
		return nil
	}
	n.started = false

	ctx, cancel := context.WithTimeout(context.Background(), startTimeout)
	defer cancel()
	if err := n.app.Stop(ctx); err != nil {
		logger.Error("停止节点失败", "error", err)
		return fmt.Errorf("stop fx app: %w", err)
	}
	logger.Info("节点已关闭")
	return nil
}

// ════════════════════════════════════════════════════════════════════════════
//                              身份与地址
// ════════════════════════════════════════════════════════════════════════════

// ID 返回节点 ID
func (n *Node) ID() types.NodeID {
	return n.identity.NodeID()
}

// PublicKey 返回节点静态公钥
func (n *Node) PublicKey() types.PublicKey {
	return n.identity.PublicKey()
}

// ListenAddrs 返回已绑定的监听地址
func (n *Node) ListenAddrs() []string {
	return n.manager.ListenAddrs()
}

// FullAddrs 返回 "nodeid@addr" 形式的可拨号地址
func (n *Node) FullAddrs() []string {
	addrs := n.manager.ListenAddrs()
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, FormatPeerAddr(n.ID(), a))
	}
	return out
}

// ════════════════════════════════════════════════════════════════════════════
//                              连接管理
// ════════════════════════════════════════════════════════════════════════════

// Connect 建立或复用到 nodeID 的连接
func (n *Node) Connect(ctx context.Context, nodeID types.NodeID, addrs []string, opts ...DialOption) (*PeerConnection, error) {
	if err := n.checkRunning(); err != nil {
		return nil, err
	}
	return n.manager.Connect(ctx, nodeID, addrs, opts...)
}

// ConnectAddr 连接 "nodeid@addr" 形式的地址
func (n *Node) ConnectAddr(ctx context.Context, full string, opts ...DialOption) (*PeerConnection, error) {
	id, addr, err := ParsePeerAddr(full)
	if err != nil {
		return nil, err
	}
	return n.Connect(ctx, id, []string{addr}, opts...)
}

// Disconnect 断开到 nodeID 的连接
func (n *Node) Disconnect(ctx context.Context, nodeID types.NodeID) error {
	if err := n.checkRunning(); err != nil {
		return err
	}
	return n.manager.Disconnect(ctx, nodeID)
}

// Connections 返回当前连接快照
func (n *Node) Connections(ctx context.Context) ([]*PeerConnection, error) {
	if err := n.checkRunning(); err != nil {
		return nil, err
	}
	return n.manager.ListConnections(ctx)
}

// Connection 返回到 nodeID 的连接
func (n *Node) Connection(ctx context.Context, nodeID types.NodeID) (*PeerConnection, error) {
	if err := n.checkRunning(); err != nil {
		return nil, err
	}
	return n.manager.GetConnection(ctx, nodeID)
}

// CancelDial 取消到 nodeID 的进行中拨号
func (n *Node) CancelDial(ctx context.Context, nodeID types.NodeID) (bool, error) {
	if err := n.checkRunning(); err != nil {
		return false, err
	}
	return n.manager.CancelDial(ctx, nodeID)
}

// SetProtocolHandler 注册入站子流处理器
//
// 已注册的协议在身份交换中通告给对端。
func (n *Node) SetProtocolHandler(proto types.ProtocolID, handler StreamHandler) error {
	return n.manager.SetProtocolHandler(proto, handler)
}

// ════════════════════════════════════════════════════════════════════════════
//                              节点目录与事件
// ════════════════════════════════════════════════════════════════════════════

// BanPeer 封禁节点，d 为 0 时永久封禁；已有连接同时断开
func (n *Node) BanPeer(ctx context.Context, nodeID types.NodeID, reason string, d time.Duration) error {
	entry := types.BanEntry{NodeID: nodeID, Reason: reason}
	if d > 0 {
		entry.Until = time.Now().Add(d)
	}
	if err := n.peers.BanPeer(ctx, entry); err != nil {
		return err
	}
	if n.checkRunning() != nil {
		return nil
	}
	return n.manager.Disconnect(ctx, nodeID)
}

// UnbanPeer 解除封禁
func (n *Node) UnbanPeer(ctx context.Context, nodeID types.NodeID) error {
	return n.peers.UnbanPeer(ctx, nodeID)
}

// Peers 返回节点目录中的所有记录
func (n *Node) Peers() []types.PeerRecord {
	return n.peers.Peers()
}

// Subscribe 订阅连接生命周期事件，如 new(types.EvtPeerConnected)
func (n *Node) Subscribe(eventType interface{}, opts ...interfaces.SubscriptionOpt) (interfaces.Subscription, error) {
	return n.bus.Subscribe(eventType, opts...)
}

// MetricsGatherer 返回节点的指标注册表
func (n *Node) MetricsGatherer() prometheus.Gatherer {
	return n.registry
}

func (n *Node) checkRunning() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return ErrNodeClosed
	}
	if !n.started {
		return ErrNotStarted
	}
	return nil
}
