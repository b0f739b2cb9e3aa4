package yamux

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/hashicorp/yamux"
)

// Muxer 封装 yamux.Session
type Muxer struct {
	session *yamux.Session

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error

	numStreams atomic.Int32
}

// NewMuxer 从 yamux.Session 创建 Muxer 封装
func NewMuxer(session *yamux.Session) *Muxer {
	return &Muxer{session: session}
}

// OpenStream 打开出站流
func (m *Muxer) OpenStream(ctx context.Context) (*Stream, error) {
	if m.IsClosed() {
		return nil, controlError("open stream", ErrMuxerClosed)
	}

	// yamux 的 OpenStream 不支持 context，我们需要在单独的 goroutine 中处理
	type result struct {
		stream *yamux.Stream
		err    error
	}
	resultCh := make(chan result, 1)
	abandoned := make(chan struct{})

	go func() {
		s, err := m.session.OpenStream()
		select {
		case resultCh <- result{stream: s, err: err}:
		case <-abandoned:
			// context 已取消，关闭孤立的流以防止泄漏
			if s != nil {
				_ = s.Close()
			}
		}
	}()

	select {
	case <-ctx.Done():
		close(abandoned)
		return nil, controlError("open stream", ctx.Err())
	case r := <-resultCh:
		if r.err != nil {
			return nil, controlError("open stream", r.err)
		}
		return m.track(r.stream), nil
	}
}

// AcceptStream 接受入站流，阻塞直到有流到达或会话关闭
func (m *Muxer) AcceptStream() (*Stream, error) {
	if m.IsClosed() {
		return nil, controlError("accept stream", ErrMuxerClosed)
	}

	s, err := m.session.AcceptStream()
	if err != nil {
		return nil, controlError("accept stream", err)
	}
	return m.track(s), nil
}

// Close 关闭会话（幂等）
func (m *Muxer) Close() error {
	m.closeOnce.Do(func() {
		m.closed.Store(true)
		m.closeErr = m.session.Close()
	})
	return m.closeErr
}

// IsClosed 检查是否已关闭
func (m *Muxer) IsClosed() bool {
	return m.closed.Load() || m.session.IsClosed()
}

// CloseChan 返回会话关闭时关闭的通道
func (m *Muxer) CloseChan() <-chan struct{} {
	return m.session.CloseChan()
}

// NumStreams 返回当前打开且未关闭的流数量
func (m *Muxer) NumStreams() int {
	return int(m.numStreams.Load())
}

func (m *Muxer) track(s *yamux.Stream) *Stream {
	m.numStreams.Add(1)
	return newStream(s, func() { m.numStreams.Add(-1) })
}
