package interfaces

// EventBus 进程内事件总线
//
// 事件以值类型发射，订阅时传入事件类型的指针，如 new(types.EvtPeerConnected)。
type EventBus interface {
	// Subscribe 订阅事件
	Subscribe(eventType interface{}, opts ...SubscriptionOpt) (Subscription, error)

	// Emitter 获取事件发射器
	Emitter(eventType interface{}) (Emitter, error)
}

// Subscription 事件订阅
type Subscription interface {
	// Out 返回事件通道，Close 后关闭
	Out() <-chan interface{}

	// Close 取消订阅
	Close() error
}

// Emitter 事件发射器
type Emitter interface {
	// Emit 发射事件，从不阻塞；订阅者缓冲区满时丢弃
	Emit(event interface{}) error

	// Close 关闭发射器
	Close() error
}

// SubscriptionSettings 订阅设置
type SubscriptionSettings struct {
	Buffer int
}

// SubscriptionOpt 订阅选项
type SubscriptionOpt func(*SubscriptionSettings)

// BufSize 设置订阅缓冲区大小
func BufSize(size int) SubscriptionOpt {
	return func(s *SubscriptionSettings) {
		s.Buffer = size
	}
}
