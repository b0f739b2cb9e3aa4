package protocol

import (
	"context"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/multiformats/go-multistream"

	"github.com/dep2p/go-comms/internal/core/protocol/system/ping"
	"github.com/dep2p/go-comms/pkg/lib/log"
	"github.com/dep2p/go-comms/pkg/protocolids"
	"github.com/dep2p/go-comms/pkg/types"
)

var logger = log.Logger("core/protocol")

// DefaultHandleTimeout 入站子流协议选择超时
const DefaultHandleTimeout = 10 * time.Second

// Registry 协议注册表
//
// 同时维护一个 multistream 多路器，用于入站子流的协议选择。
type Registry struct {
	mu       sync.RWMutex
	handlers map[types.ProtocolID]StreamHandler
	matchers []matcher

	mux *multistream.MultistreamMuxer[types.ProtocolID]
}

// matcher 模式匹配器
type matcher struct {
	protocol types.ProtocolID
	match    func(types.ProtocolID) bool
	handler  StreamHandler
}

// NewRegistry 创建协议注册表，系统 Ping 协议默认注册
func NewRegistry() *Registry {
	r := &Registry{
		handlers: make(map[types.ProtocolID]StreamHandler),
		mux:      multistream.NewMultistreamMuxer[types.ProtocolID](),
	}
	r.add(ping.ProtocolID, func(s *Substream) { ping.Handler(s) })
	return r
}

// Register 注册应用协议处理器
//
// 系统前缀 /comms/ 保留，不能注册。
func (r *Registry) Register(protocolID types.ProtocolID, handler StreamHandler) error {
	if err := protocolids.ValidateUserProtocol(protocolID); err != nil {
		return err
	}
	if handler == nil {
		return ErrNilHandler
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[protocolID]; exists {
		return ErrDuplicateProtocol
	}
	r.handlers[protocolID] = handler
	r.mux.AddHandler(protocolID, nil)

	logger.Debug("注册协议", "protocol", protocolID)
	return nil
}

// Unregister 注销协议处理器
func (r *Registry) Unregister(protocolID types.ProtocolID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[protocolID]; !exists || protocolids.IsSystem(protocolID) {
		return ErrProtocolNotRegistered
	}
	delete(r.handlers, protocolID)
	r.mux.RemoveHandler(protocolID)
	return nil
}

// GetHandler 获取协议处理器，先精确匹配再模式匹配
func (r *Registry) GetHandler(protocolID types.ProtocolID) (StreamHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if handler, ok := r.handlers[protocolID]; ok {
		return handler, true
	}
	for _, m := range r.matchers {
		if m.match(protocolID) {
			return m.handler, true
		}
	}
	return nil, false
}

// Protocols 返回所有已注册的协议（有序）
func (r *Registry) Protocols() []types.ProtocolID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	protocols := make([]types.ProtocolID, 0, len(r.handlers))
	for id := range r.handlers {
		protocols = append(protocols, id)
	}
	sort.Slice(protocols, func(i, j int) bool { return protocols[i] < protocols[j] })
	return protocols
}

// AddMatcher 添加模式匹配器
func (r *Registry) AddMatcher(protocol types.ProtocolID, match func(types.ProtocolID) bool, handler StreamHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.matchers = append(r.matchers, matcher{
		protocol: protocol,
		match:    match,
		handler:  handler,
	})
	r.mux.AddHandlerWithFunc(protocol, match, nil)
}

// RemoveMatcher 移除模式匹配器
func (r *Registry) RemoveMatcher(protocol types.ProtocolID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, m := range r.matchers {
		if m.protocol == protocol {
			r.matchers = append(r.matchers[:i], r.matchers[i+1:]...)
			r.mux.RemoveHandler(protocol)
			return
		}
	}
}

// Handle 对入站子流执行协议选择并调用处理器
//
// 协商在 ctx 截止时间（缺省 DefaultHandleTimeout）内完成。处理器在调用方
// goroutine 中运行，并负责关闭子流；协商失败时关闭子流并返回错误。
func (r *Registry) Handle(ctx context.Context, conn net.Conn, remote types.PeerIdentity) error {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(DefaultHandleTimeout)
	}
	_ = conn.SetDeadline(deadline)

	proto, _, err := r.mux.Negotiate(conn)
	if err != nil {
		_ = conn.Close()
		return classify(ctx, "negotiate inbound", err)
	}
	_ = conn.SetDeadline(time.Time{})

	handler, ok := r.GetHandler(proto)
	if !ok {
		_ = conn.Close()
		return &Error{Kind: KindProtocol, Cause: "no handler for " + string(proto)}
	}

	logger.Debug("入站子流", "protocol", proto, "remote", remote.NodeID.ShortString())
	handler(NewSubstream(conn, proto, remote))
	return nil
}

func (r *Registry) add(protocolID types.ProtocolID, handler StreamHandler) {
	r.handlers[protocolID] = handler
	r.mux.AddHandler(protocolID, nil)
}
