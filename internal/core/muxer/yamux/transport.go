package yamux

import (
	"context"
	"fmt"
	"net"

	"github.com/hashicorp/yamux"
	"github.com/multiformats/go-multistream"

	"github.com/dep2p/go-comms/config"
	"github.com/dep2p/go-comms/pkg/lib/log"
	"github.com/dep2p/go-comms/pkg/protocolids"
)

var logger = log.Logger("core/muxer/yamux")

// Transport yamux 升级器
type Transport struct {
	config *yamux.Config
}

// New 创建 yamux 升级器
func New(cfg config.MuxerConfig) *Transport {
	return &Transport{config: ConfigToYamux(cfg)}
}

// NewWithYamuxConfig 使用 yamux 原生配置创建升级器
func NewWithYamuxConfig(cfg *yamux.Config) *Transport {
	return &Transport{config: cfg}
}

// ID 返回多路复用协议标识
func (t *Transport) ID() string {
	return protocolids.Yamux
}

// Upgrade 在加密连接上建立 yamux 会话
//
// isServer 为 true 时作为响应方。ctx 在协商期间取消会关闭 conn。
// 失败时调用方负责关闭 conn。
func (t *Transport) Upgrade(ctx context.Context, conn net.Conn, isServer bool) (*Muxer, error) {
	if err := ctx.Err(); err != nil {
		return nil, &Error{Kind: KindUpgrade, Cause: fmt.Sprintf("upgrade aborted: %v", err)}
	}

	stop := context.AfterFunc(ctx, func() {
		_ = conn.Close()
	})
	err := negotiate(conn, isServer)
	if !stop() {
		return nil, &Error{Kind: KindUpgrade, Cause: fmt.Sprintf("upgrade aborted: %v", ctx.Err())}
	}
	if err != nil {
		logger.Debug("yamux 协商失败", "remote", conn.RemoteAddr().String(), "err", err)
		return nil, &Error{Kind: KindUpgrade, Cause: err.Error()}
	}

	var session *yamux.Session
	if isServer {
		session, err = yamux.Server(conn, t.config)
	} else {
		session, err = yamux.Client(conn, t.config)
	}
	if err != nil {
		return nil, &Error{Kind: KindConnection, Cause: fmt.Sprintf("create session: %v", err)}
	}

	logger.Debug("yamux 会话已建立", "remote", conn.RemoteAddr().String(), "server", isServer)
	return NewMuxer(session), nil
}

// negotiate 用 multistream-select 协商 yamux 协议
func negotiate(conn net.Conn, isServer bool) error {
	if !isServer {
		return multistream.SelectProtoOrFail(protocolids.Yamux, conn)
	}

	mux := multistream.NewMultistreamMuxer[string]()
	mux.AddHandler(protocolids.Yamux, nil)
	proto, _, err := mux.Negotiate(conn)
	if err != nil {
		return err
	}
	if proto != protocolids.Yamux {
		return fmt.Errorf("unexpected muxer protocol %q", proto)
	}
	return nil
}
