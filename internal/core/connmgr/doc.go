// Package connmgr 实现节点连接管理器
//
// # 架构
//
//	调用方 ──► Manager 邮箱 ──► Actor goroutine ──► Dialer / Listener
//	                                    ▲                   │
//	                                    └── 升级完成回报 ◄───┘
//	                                          │
//	                                          ▼
//	                              PeerConnection（监督 goroutine 独占会话）
//
// 连接表只由 Actor goroutine 修改，所有外部操作都是投递到单一有序邮箱的请求，
// 因此同一节点的并发 Connect 只会触发一次拨号，结果交付给所有等待者。
//
// # 连接建立
//
// 出站与入站连接都经过同一条升级流水线：
//
//	传输建连 → Noise 握手 → 节点校验 → Yamux 升级 → 身份交换 → 登记
//
// 拨号时候选地址依次尝试，最近一次成功的地址排在最前。单个地址的可重试失败
// 只会推进到下一个地址；封禁、身份不符等失败立即终止整次拨号。
//
// # 使用示例
//
//	m, err := connmgr.New(cfg, local, transport, up)
//	if err != nil {
//	    return err
//	}
//	defer m.Close()
//
//	if err := m.Start(ctx); err != nil {
//	    log.Warn("部分监听地址不可用", "error", err)
//	}
//
//	pc, err := m.Connect(ctx, nodeID, []string{"/ip4/10.0.0.2/tcp/7000"})
//	if errors.Is(err, connmgr.ErrPeerBanned) {
//	    // 对端被封禁
//	}
//
//	s, err := pc.OpenSubstream(ctx, "/app/chat/1.0")
//
// # 错误
//
// 所有错误都是 *ConnectionManagerError 或 *PeerConnectionError，只包含字符串
// 和枚举，可用 errors.Is 按分类匹配（例如 ErrDialCancelled）。
package connmgr
