package types

import "time"

// BanEntry 封禁条目
//
// 由 Peer Manager 维护，本核心只读。
type BanEntry struct {
	NodeID NodeID
	Reason string
	// Until 封禁截止时间，零值表示永久
	Until time.Time
}

// Active 检查封禁在 now 时刻是否生效
func (b BanEntry) Active(now time.Time) bool {
	return b.Until.IsZero() || now.Before(b.Until)
}

// PeerRecord 节点目录记录
type PeerRecord struct {
	NodeID    NodeID
	PublicKey PublicKey
	Addresses []string
	UserAgent string
	LastSeen  time.Time
}

// Identity 返回记录中的身份
func (r *PeerRecord) Identity() PeerIdentity {
	return PeerIdentity{PublicKey: r.PublicKey, NodeID: r.NodeID}
}
