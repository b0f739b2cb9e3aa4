package types

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/mr-tron/base58"
	"lukechampine.com/blake3"
)

const (
	// PublicKeySize 静态公钥长度（Curve25519）
	PublicKeySize = 32

	// NodeIDSize NodeID 长度
	NodeIDSize = 13
)

// ============================================================================
//                              PublicKey
// ============================================================================

// PublicKey 节点静态公钥（Curve25519）
type PublicKey [PublicKeySize]byte

// PublicKeyFromBytes 从字节创建公钥
func PublicKeyFromBytes(b []byte) (PublicKey, error) {
	var pk PublicKey
	if len(b) != PublicKeySize {
		return pk, fmt.Errorf("%w: length %d", ErrInvalidPublicKey, len(b))
	}
	copy(pk[:], b)
	if pk.IsZero() {
		return pk, fmt.Errorf("%w: all-zero key", ErrInvalidPublicKey)
	}
	return pk, nil
}

// ParsePublicKey 从十六进制字符串解析公钥
func ParsePublicKey(s string) (PublicKey, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return PublicKey{}, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	return PublicKeyFromBytes(b)
}

// String 返回十六进制表示
func (k PublicKey) String() string {
	return hex.EncodeToString(k[:])
}

// Bytes 返回字节副本
func (k PublicKey) Bytes() []byte {
	b := make([]byte, PublicKeySize)
	copy(b, k[:])
	return b
}

// IsZero 检查是否为零值
func (k PublicKey) IsZero() bool {
	return k == PublicKey{}
}

// ============================================================================
//                              NodeID
// ============================================================================

// NodeID 节点标识
//
// 由静态公钥派生：BLAKE3(PublicKey) 的前 13 字节，字符串形式为 Base58。
type NodeID [NodeIDSize]byte

// EmptyNodeID 空 NodeID
var EmptyNodeID NodeID

// NodeIDFromPublicKey 从公钥派生 NodeID
func NodeIDFromPublicKey(pk PublicKey) NodeID {
	sum := blake3.Sum256(pk[:])
	var id NodeID
	copy(id[:], sum[:NodeIDSize])
	return id
}

// ParseNodeID 从 Base58 字符串解析 NodeID
func ParseNodeID(s string) (NodeID, error) {
	if s == "" {
		return EmptyNodeID, ErrEmptyNodeID
	}
	b, err := base58.Decode(s)
	if err != nil {
		return EmptyNodeID, fmt.Errorf("%w: %v", ErrInvalidNodeID, err)
	}
	if len(b) != NodeIDSize {
		return EmptyNodeID, fmt.Errorf("%w: length %d", ErrInvalidNodeID, len(b))
	}
	var id NodeID
	copy(id[:], b)
	return id, nil
}

// String 返回 Base58 表示
func (id NodeID) String() string {
	return base58.Encode(id[:])
}

// ShortString 返回用于日志的短格式
func (id NodeID) ShortString() string {
	s := id.String()
	if len(s) <= 8 {
		return s
	}
	return s[:8]
}

// Less 按字节序比较
func (id NodeID) Less(other NodeID) bool {
	return bytes.Compare(id[:], other[:]) < 0
}

// IsEmpty 检查是否为空
func (id NodeID) IsEmpty() bool {
	return id == EmptyNodeID
}

// MarshalText 实现 encoding.TextMarshaler
func (id NodeID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText 实现 encoding.TextUnmarshaler
func (id *NodeID) UnmarshalText(text []byte) error {
	parsed, err := ParseNodeID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// ============================================================================
//                              PeerIdentity
// ============================================================================

// PeerIdentity 经过验证的节点身份
//
// 只有在握手成功后才具有权威性。
type PeerIdentity struct {
	PublicKey PublicKey
	NodeID    NodeID
}

// NewPeerIdentity 从公钥创建身份
func NewPeerIdentity(pk PublicKey) PeerIdentity {
	return PeerIdentity{PublicKey: pk, NodeID: NodeIDFromPublicKey(pk)}
}

// String 返回身份描述
func (p PeerIdentity) String() string {
	return fmt.Sprintf("%s(%s)", p.NodeID.ShortString(), p.PublicKey.String()[:16])
}

// ============================================================================
//                              ProtocolID
// ============================================================================

// ProtocolID 子流协议标识，如 "/comms/identity/1.0"
type ProtocolID string

// String 返回协议字符串
func (p ProtocolID) String() string {
	return string(p)
}
