package noise

import (
	"context"
	"net"

	"github.com/flynn/noise"

	"github.com/dep2p/go-comms/internal/core/identity"
	"github.com/dep2p/go-comms/pkg/lib/log"
	"github.com/dep2p/go-comms/pkg/types"
)

var logger = log.Logger("core/security/noise")

// Transport Noise 握手升级器
type Transport struct {
	static   noise.DHKey
	localKey types.PublicKey
}

// New 创建 Noise 传输
func New(id *identity.Identity) *Transport {
	pub := id.PublicKey()
	return &Transport{
		static:   noise.DHKey{Private: id.PrivateKey(), Public: pub.Bytes()},
		localKey: pub,
	}
}

// ID 返回协议标识
func (t *Transport) ID() string {
	return "/noise"
}

// LocalPublicKey 返回本地静态公钥
func (t *Transport) LocalPublicKey() types.PublicKey {
	return t.localKey
}

// SecureInbound 保护入站连接（响应者）
//
// 失败时关闭 conn。
func (t *Transport) SecureInbound(ctx context.Context, conn net.Conn) (*Conn, error) {
	logger.Debug("Noise 入站握手", "remote", conn.RemoteAddr().String())
	return t.secure(ctx, conn, false, nil)
}

// SecureOutbound 保护出站连接（发起者）
//
// expected 不为 nil 时，对端静态公钥必须与之完全相同。失败时关闭 conn。
func (t *Transport) SecureOutbound(ctx context.Context, conn net.Conn, expected *types.PublicKey) (*Conn, error) {
	logger.Debug("Noise 出站握手", "remote", conn.RemoteAddr().String())
	return t.secure(ctx, conn, true, expected)
}

func (t *Transport) secure(ctx context.Context, conn net.Conn, initiator bool, expected *types.PublicKey) (*Conn, error) {
	res, err := performHandshake(ctx, conn, t.static, initiator)
	if err != nil {
		_ = conn.Close()
		logger.Debug("Noise 握手失败", "remote", conn.RemoteAddr().String(), "err", err)
		return nil, err
	}

	if expected != nil && res.remoteKey != *expected {
		_ = conn.Close()
		logger.Warn("Noise 对端公钥不匹配",
			"remote", conn.RemoteAddr().String(),
			"authenticated", res.remoteKey.String(),
			"expected", expected.String())
		return nil, &PublicKeyMismatchError{Authenticated: res.remoteKey, Expected: *expected}
	}

	logger.Debug("Noise 握手成功", "remoteNode", types.NodeIDFromPublicKey(res.remoteKey).ShortString())
	return &Conn{
		Conn:      conn,
		sendCS:    res.send,
		recvCS:    res.recv,
		localKey:  t.localKey,
		remoteKey: res.remoteKey,
	}, nil
}
