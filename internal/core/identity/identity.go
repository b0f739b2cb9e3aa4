package identity

import (
	"fmt"
	"io"

	"golang.org/x/crypto/curve25519"

	"github.com/dep2p/go-comms/pkg/types"
)

// PrivateKeySize 私钥长度
const PrivateKeySize = curve25519.ScalarSize

// ============================================================================
//                              Identity
// ============================================================================

// Identity 本地节点身份
type Identity struct {
	private [PrivateKeySize]byte
	public  types.PublicKey
	nodeID  types.NodeID
}

// Generate 生成新的身份
func Generate(rng io.Reader) (*Identity, error) {
	var priv [PrivateKeySize]byte
	if _, err := io.ReadFull(rng, priv[:]); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFailedToGenerateKey, err)
	}
	return FromPrivateKey(priv[:])
}

// FromPrivateKey 从私钥恢复身份，公钥通过 X25519 基点乘法派生
func FromPrivateKey(priv []byte) (*Identity, error) {
	if len(priv) != PrivateKeySize {
		return nil, ErrInvalidKeySize
	}
	pubBytes, err := curve25519.X25519(priv, curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFailedToGenerateKey, err)
	}
	pub, err := types.PublicKeyFromBytes(pubBytes)
	if err != nil {
		return nil, err
	}

	id := &Identity{public: pub, nodeID: types.NodeIDFromPublicKey(pub)}
	copy(id.private[:], priv)
	return id, nil
}

// NodeID 返回节点 ID
func (i *Identity) NodeID() types.NodeID {
	return i.nodeID
}

// PublicKey 返回静态公钥
func (i *Identity) PublicKey() types.PublicKey {
	return i.public
}

// PrivateKey 返回私钥副本
func (i *Identity) PrivateKey() []byte {
	b := make([]byte, PrivateKeySize)
	copy(b, i.private[:])
	return b
}

// PeerIdentity 返回公开身份
func (i *Identity) PeerIdentity() types.PeerIdentity {
	return types.PeerIdentity{PublicKey: i.public, NodeID: i.nodeID}
}
