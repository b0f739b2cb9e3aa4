// Package eventbus 实现进程内事件总线
//
// 连接管理器通过它发布 EvtPeerConnected、EvtPeerDisconnected 和
// EvtPeerConnectFailed。发射从不阻塞：订阅者缓冲区满时事件被丢弃并计数。
//
// # 快速开始
//
//	bus := eventbus.NewBus()
//
//	sub, _ := bus.Subscribe(new(types.EvtPeerConnected), interfaces.BufSize(64))
//	defer sub.Close()
//
//	go func() {
//	    for evt := range sub.Out() {
//	        e := evt.(types.EvtPeerConnected)
//	        // 处理事件
//	    }
//	}()
//
// Dropped 返回累计丢弃数，节点门面把它导出为 comms_events_dropped_total。
package eventbus
