// Package comms 提供点对点连接管理
//
// 每个节点由一对静态 X25519 密钥标识，NodeID 由公钥派生。节点之间的连接经过
// 以下流水线建立：
//
//	传输（TCP/QUIC/WebSocket）→ Noise XX 握手 → 节点校验 → Yamux 多路复用 → 身份交换
//
// 建立后的连接由单一 Actor 管理，同一节点的并发 Connect 合并为一次拨号，
// 每个对端至多保留一个连接。
//
// # 快速开始
//
//	import "github.com/dep2p/go-comms"
//
//	node, err := comms.Start(ctx,
//	    comms.WithListenAddrs("/ip4/0.0.0.0/tcp/4001"),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer node.Close()
//
//	// 注册入站子流处理器
//	node.SetProtocolHandler("/chat/1.0", func(s *comms.Substream) {
//	    defer s.Close()
//	    // ...
//	})
//
//	// 连接对端并打开子流
//	conn, err := node.ConnectAddr(ctx, "<nodeid>@/ip4/1.2.3.4/tcp/4001")
//	s, err := conn.OpenSubstream(ctx, "/chat/1.0")
//
// # 错误
//
// 连接管理错误是 *ConnectionManagerError，按分类用 errors.Is 比较：
//
//	if errors.Is(err, comms.ErrPeerBanned) { ... }
//
// 连接句柄上的操作返回 *PeerConnectionError，同样按分类比较。
//
// # 事件
//
// 通过 Subscribe 订阅 types.EvtPeerConnected、types.EvtPeerDisconnected、
// types.EvtPeerConnectFailed。订阅者缓冲区满时事件被丢弃，不阻塞连接管理。
package comms
