package comms

import (
	"fmt"
	"strings"

	"github.com/dep2p/go-comms/internal/core/transport/addrutil"
	"github.com/dep2p/go-comms/pkg/types"
)

// ParsePeerAddr 解析 "nodeid@multiaddr" 形式的地址
func ParsePeerAddr(s string) (types.NodeID, string, error) {
	idPart, addr, ok := strings.Cut(s, "@")
	if !ok || idPart == "" || addr == "" {
		return types.EmptyNodeID, "", fmt.Errorf("%w: %q", ErrInvalidPeerAddr, s)
	}
	id, err := types.ParseNodeID(idPart)
	if err != nil {
		return types.EmptyNodeID, "", fmt.Errorf("%w: %v", ErrInvalidPeerAddr, err)
	}
	if _, err := addrutil.Parse(addr); err != nil {
		return types.EmptyNodeID, "", fmt.Errorf("%w: %v", ErrInvalidPeerAddr, err)
	}
	return id, addr, nil
}

// FormatPeerAddr 格式化为 "nodeid@multiaddr"
func FormatPeerAddr(id types.NodeID, addr string) string {
	return id.String() + "@" + addr
}
