package types

import (
	"errors"
	"fmt"
)

// ============================================================================
//                              ID 相关错误
// ============================================================================

var (
	// ErrEmptyNodeID 空节点 ID
	ErrEmptyNodeID = errors.New("empty node ID")

	// ErrInvalidNodeID 无效的节点 ID
	ErrInvalidNodeID = errors.New("invalid node ID")

	// ErrInvalidPublicKey 无效的公钥
	ErrInvalidPublicKey = errors.New("invalid public key")
)

// ============================================================================
//                              Peer Manager 错误
// ============================================================================

// ErrPeerNotFound 目录中没有该节点
var ErrPeerNotFound = errors.New("peer not found")

// PeerManagerError Peer Manager 协作方返回的错误
//
// 只包含字符串，可在多个等待者之间共享；连接管理器原样透传。
type PeerManagerError struct {
	Op    string
	Cause string
}

// NewPeerManagerError 包装 Peer Manager 错误
func NewPeerManagerError(op string, err error) *PeerManagerError {
	if err == nil {
		return nil
	}
	var pmErr *PeerManagerError
	if errors.As(err, &pmErr) {
		return pmErr
	}
	return &PeerManagerError{Op: op, Cause: err.Error()}
}

func (e *PeerManagerError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("peer manager: %s", e.Cause)
	}
	return fmt.Sprintf("peer manager %s: %s", e.Op, e.Cause)
}
