package peermanager

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/benbjohnson/clock"

	"github.com/dep2p/go-comms/pkg/interfaces"
	"github.com/dep2p/go-comms/pkg/lib/log"
	"github.com/dep2p/go-comms/pkg/types"
)

var logger = log.Logger("core/peermanager")

// Manager 内存节点目录
type Manager struct {
	mu    sync.RWMutex
	peers map[types.NodeID]*types.PeerRecord
	bans  map[types.NodeID]types.BanEntry

	clock clock.Clock
}

var _ interfaces.PeerManager = (*Manager)(nil)

// Option 配置选项
type Option func(*Manager)

// WithClock 设置时钟（测试使用 clock.NewMock）
func WithClock(c clock.Clock) Option {
	return func(m *Manager) {
		m.clock = c
	}
}

// New 创建节点目录
func New(opts ...Option) *Manager {
	m := &Manager{
		peers: make(map[types.NodeID]*types.PeerRecord),
		bans:  make(map[types.NodeID]types.BanEntry),
		clock: clock.New(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// IsBanned 查询封禁状态，过期的封禁被清除
func (m *Manager) IsBanned(ctx context.Context, id types.NodeID) (types.BanEntry, bool, error) {
	if err := ctx.Err(); err != nil {
		return types.BanEntry{}, false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.bans[id]
	if !ok {
		return types.BanEntry{}, false, nil
	}
	if !entry.Active(m.clock.Now()) {
		delete(m.bans, id)
		return types.BanEntry{}, false, nil
	}
	return entry, true, nil
}

// BanPeer 封禁节点
func (m *Manager) BanPeer(ctx context.Context, entry types.BanEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if entry.NodeID.IsEmpty() {
		return types.ErrEmptyNodeID
	}

	m.mu.Lock()
	m.bans[entry.NodeID] = entry
	m.mu.Unlock()

	logger.Info("封禁节点", "nodeID", entry.NodeID.ShortString(), "reason", entry.Reason)
	return nil
}

// UnbanPeer 解除封禁
func (m *Manager) UnbanPeer(ctx context.Context, id types.NodeID) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	delete(m.bans, id)
	m.mu.Unlock()
	return nil
}

// FindByNodeID 查找目录记录，不存在时返回 types.ErrPeerNotFound
func (m *Manager) FindByNodeID(ctx context.Context, id types.NodeID) (*types.PeerRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.peers[id]
	if !ok {
		return nil, types.ErrPeerNotFound
	}
	return cloneRecord(rec), nil
}

// AddPeer 添加或合并目录记录
//
// 节点 ID 必须由公钥派生；已有记录的公钥不能被替换。地址按首次出现顺序合并。
func (m *Manager) AddPeer(ctx context.Context, rec types.PeerRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if rec.NodeID.IsEmpty() {
		return types.ErrEmptyNodeID
	}
	if !rec.PublicKey.IsZero() && types.NodeIDFromPublicKey(rec.PublicKey) != rec.NodeID {
		return fmt.Errorf("%w: not derived from public key", types.ErrInvalidNodeID)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.peers[rec.NodeID]
	if !ok {
		stored := cloneRecord(&rec)
		if stored.LastSeen.IsZero() {
			stored.LastSeen = m.clock.Now()
		}
		m.peers[rec.NodeID] = stored
		return nil
	}

	if !rec.PublicKey.IsZero() {
		if !existing.PublicKey.IsZero() && existing.PublicKey != rec.PublicKey {
			return fmt.Errorf("%w: public key changed", types.ErrInvalidPublicKey)
		}
		existing.PublicKey = rec.PublicKey
	}
	existing.Addresses = mergeAddresses(existing.Addresses, rec.Addresses)
	if rec.UserAgent != "" {
		existing.UserAgent = rec.UserAgent
	}
	existing.LastSeen = m.clock.Now()
	return nil
}

// Peers 返回所有记录（按节点 ID 排序）
func (m *Manager) Peers() []types.PeerRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]types.PeerRecord, 0, len(m.peers))
	for _, rec := range m.peers {
		out = append(out, *cloneRecord(rec))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NodeID.String() < out[j].NodeID.String() })
	return out
}

func cloneRecord(rec *types.PeerRecord) *types.PeerRecord {
	c := *rec
	c.Addresses = append([]string(nil), rec.Addresses...)
	return &c
}

func mergeAddresses(existing, added []string) []string {
	seen := make(map[string]struct{}, len(existing))
	for _, a := range existing {
		seen[a] = struct{}{}
	}
	for _, a := range added {
		if _, ok := seen[a]; ok {
			continue
		}
		seen[a] = struct{}{}
		existing = append(existing, a)
	}
	return existing
}
