// Package ping 实现 /comms/ping/1.0 协议
//
// 客户端发送 32 字节随机数据，服务端原样回显，用于连通性测试和 RTT 测量。
package ping

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"io"
	"time"

	"github.com/dep2p/go-comms/pkg/protocolids"
)

// ProtocolID Ping 协议 ID
var ProtocolID = protocolids.SysPing

const (
	// PingSize Ping 消息大小（32 字节）
	PingSize = 32

	// PingTimeout 未设置截止时间时的默认超时
	PingTimeout = 10 * time.Second

	// HandlerIdleTimeout Handler 空闲超时时间
	HandlerIdleTimeout = 60 * time.Second
)

// ErrDataMismatch Ping 回显数据不匹配
var ErrDataMismatch = errors.New("ping: echo data mismatch")

// Stream Ping 所需的流能力
type Stream interface {
	io.ReadWriteCloser
	SetDeadline(t time.Time) error
	SetReadDeadline(t time.Time) error
}

// Handler 处理 Ping 请求（服务器端），读取数据并回显
func Handler(stream Stream) {
	defer stream.Close()

	buf := make([]byte, PingSize)

	// 循环处理 Ping 请求（支持连续 ping）
	for {
		_ = stream.SetReadDeadline(time.Now().Add(HandlerIdleTimeout))

		if _, err := io.ReadFull(stream, buf); err != nil {
			return
		}
		if _, err := stream.Write(buf); err != nil {
			return
		}
	}
}

// Ping 在已协商的流上执行一次 Ping（客户端），返回往返时间
func Ping(ctx context.Context, stream Stream) (time.Duration, error) {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(PingTimeout)
	}
	_ = stream.SetDeadline(deadline)
	defer stream.SetDeadline(time.Time{})

	buf := make([]byte, PingSize)
	if _, err := rand.Read(buf); err != nil {
		return 0, err
	}

	start := time.Now()
	if _, err := stream.Write(buf); err != nil {
		return 0, err
	}

	echo := make([]byte, PingSize)
	if _, err := io.ReadFull(stream, echo); err != nil {
		return 0, err
	}
	rtt := time.Since(start)

	if !bytes.Equal(buf, echo) {
		return 0, ErrDataMismatch
	}
	return rtt, nil
}
