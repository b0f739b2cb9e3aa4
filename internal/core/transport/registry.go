package transport

import (
	"context"
	"fmt"
	"net"
	"sync"

	"go.uber.org/multierr"

	"github.com/dep2p/go-comms/internal/core/transport/addrutil"
	"github.com/dep2p/go-comms/pkg/interfaces"
)

// Registry 传输注册表
type Registry struct {
	mu         sync.RWMutex
	transports []interfaces.Transport
	closed     bool
}

// 确保实现接口
var _ interfaces.Transport = (*Registry)(nil)

// NewRegistry 创建传输注册表，按顺序匹配
func NewRegistry(transports ...interfaces.Transport) *Registry {
	return &Registry{transports: transports}
}

// Add 添加传输
func (r *Registry) Add(t interfaces.Transport) {
	r.mu.Lock()
	r.transports = append(r.transports, t)
	r.mu.Unlock()
}

// Name 返回注册表名称
func (r *Registry) Name() string {
	return "registry"
}

// Transports 返回已注册的传输名称
func (r *Registry) Transports() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.transports))
	for _, t := range r.transports {
		names = append(names, t.Name())
	}
	return names
}

// TransportFor 选择能处理该地址的传输
//
// 地址无法解析返回 addrutil.ErrInvalidAddress，无匹配传输返回 ErrNoTransport。
func (r *Registry) TransportFor(addr string) (interfaces.Transport, error) {
	if _, err := addrutil.Parse(addr); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return nil, ErrRegistryClosed
	}
	for _, t := range r.transports {
		if t.CanDial(addr) {
			return t, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNoTransport, addr)
}

// CanDial 检查是否有传输能拨号该地址
func (r *Registry) CanDial(addr string) bool {
	_, err := r.TransportFor(addr)
	return err == nil
}

// Dial 使用匹配的传输拨号
func (r *Registry) Dial(ctx context.Context, addr string) (net.Conn, error) {
	t, err := r.TransportFor(addr)
	if err != nil {
		return nil, err
	}
	return t.Dial(ctx, addr)
}

// Listen 使用匹配的传输监听
func (r *Registry) Listen(addr string) (interfaces.Listener, error) {
	t, err := r.TransportFor(addr)
	if err != nil {
		return nil, err
	}
	return t.Listen(addr)
}

// Close 关闭所有传输
func (r *Registry) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	transports := r.transports
	r.mu.Unlock()

	var err error
	for _, t := range transports {
		err = multierr.Append(err, t.Close())
	}
	return err
}
