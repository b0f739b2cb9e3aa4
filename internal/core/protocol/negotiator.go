package protocol

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/multiformats/go-multistream"

	"github.com/dep2p/go-comms/internal/core/muxer/yamux"
	"github.com/dep2p/go-comms/internal/core/protocol/system/identify"
	"github.com/dep2p/go-comms/pkg/types"
)

// DefaultNegotiationTimeout 默认协商超时
const DefaultNegotiationTimeout = 10 * time.Second

// ============================================================================
//                              出站协议选择
// ============================================================================

// SelectProtocol 打开出站子流并选择协议
//
// 打开子流失败时原样返回 yamux 错误；协议选择失败返回 *Error。
func SelectProtocol(ctx context.Context, mux *yamux.Muxer, proto types.ProtocolID, remote types.PeerIdentity) (*Substream, error) {
	s, err := mux.OpenStream(ctx)
	if err != nil {
		return nil, err
	}

	if err := withDeadline(ctx, s, func() error {
		return multistream.SelectProtoOrFail(proto, s)
	}); err != nil {
		_ = s.Close()
		return nil, classify(ctx, "select "+string(proto), err)
	}
	return NewSubstream(s, proto, remote), nil
}

// withDeadline 在 ctx 截止时间内执行 fn，ctx 取消时打断阻塞的读写
func withDeadline(ctx context.Context, s *yamux.Stream, fn func() error) error {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(DefaultNegotiationTimeout)
	}
	_ = s.SetDeadline(deadline)
	stop := context.AfterFunc(ctx, func() {
		_ = s.SetDeadline(time.Now())
	})
	err := fn()
	stop()
	_ = s.SetDeadline(time.Time{})
	return err
}

// ============================================================================
//                              身份交换
// ============================================================================

// Negotiator 连接建立时的身份交换
type Negotiator struct {
	local     types.PeerIdentity
	registry  *Registry
	userAgent string

	mu    sync.RWMutex
	addrs func() []string
}

// NewNegotiator 创建协商器
//
// addrs 返回本地可联系地址，可为 nil。
func NewNegotiator(local types.PeerIdentity, registry *Registry, userAgent string, addrs func() []string) *Negotiator {
	return &Negotiator{
		local:     local,
		registry:  registry,
		userAgent: userAgent,
		addrs:     addrs,
	}
}

// SetAddrSource 设置本地可联系地址的来源
func (n *Negotiator) SetAddrSource(addrs func() []string) {
	n.mu.Lock()
	n.addrs = addrs
	n.mu.Unlock()
}

// Registry 返回协议注册表
func (n *Negotiator) Registry() *Registry {
	return n.registry
}

// Exchange 在专用子流上交换身份信息
//
// 发起方打开子流，响应方接受第一个子流。返回经过校验的对端信息。
func (n *Negotiator) Exchange(ctx context.Context, mux *yamux.Muxer, remote types.PeerIdentity, initiator bool) (*identify.IdentityInfo, error) {
	var (
		s   *yamux.Stream
		err error
	)
	if initiator {
		s, err = mux.OpenStream(ctx)
	} else {
		s, err = acceptStream(ctx, mux)
	}
	if err != nil {
		return nil, classify(ctx, "identity substream", err)
	}
	defer s.Close()

	var info *identify.IdentityInfo
	err = withDeadline(ctx, s, func() error {
		if err := selectIdentity(s, initiator); err != nil {
			return err
		}
		if err := identify.WriteMessage(s, n.localInfo()); err != nil {
			return err
		}
		info, err = identify.ReadMessage(s)
		return err
	})
	if err != nil {
		if errors.Is(err, identify.ErrMalformedMessage) || errors.Is(err, identify.ErrMessageTooLarge) {
			return nil, &Error{Kind: KindIdentity, Cause: err.Error()}
		}
		return nil, classify(ctx, "identity exchange", err)
	}

	if err := info.Validate(remote); err != nil {
		return nil, &Error{Kind: KindIdentity, Cause: err.Error()}
	}

	logger.Debug("身份交换完成",
		"remote", remote.NodeID.ShortString(),
		"userAgent", info.UserAgent,
		"protocols", len(info.Protocols))
	return info, nil
}

func (n *Negotiator) localInfo() *identify.IdentityInfo {
	n.mu.RLock()
	source := n.addrs
	n.mu.RUnlock()

	var addrs []string
	if source != nil {
		addrs = source()
	}
	if len(addrs) > identify.MaxAddresses {
		addrs = addrs[:identify.MaxAddresses]
	}
	var protocols []types.ProtocolID
	if n.registry != nil {
		protocols = n.registry.Protocols()
	}
	return identify.NewIdentityInfo(n.local, addrs, protocols, n.userAgent)
}

// selectIdentity 在子流上选择身份协议
func selectIdentity(s *yamux.Stream, initiator bool) error {
	if initiator {
		return multistream.SelectProtoOrFail(identify.ProtocolID, s)
	}

	m := multistream.NewMultistreamMuxer[types.ProtocolID]()
	m.AddHandler(identify.ProtocolID, nil)
	_, _, err := m.Negotiate(s)
	return err
}

// acceptStream 在 ctx 约束下接受入站子流
func acceptStream(ctx context.Context, mux *yamux.Muxer) (*yamux.Stream, error) {
	type result struct {
		s   *yamux.Stream
		err error
	}
	resultCh := make(chan result, 1)
	abandoned := make(chan struct{})

	go func() {
		s, err := mux.AcceptStream()
		select {
		case resultCh <- result{s, err}:
		case <-abandoned:
			if s != nil {
				_ = s.Close()
			}
		}
	}()

	select {
	case <-ctx.Done():
		close(abandoned)
		return nil, ctx.Err()
	case r := <-resultCh:
		return r.s, r.err
	}
}
