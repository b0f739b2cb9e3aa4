package noise

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net"

	"github.com/flynn/noise"

	"github.com/dep2p/go-comms/pkg/types"
)

// prologue 双方必须一致的握手前言
var prologue = []byte("comms-noise-xx/1")

// cipherSuite Noise_XX_25519_ChaChaPoly_BLAKE2b
var cipherSuite = noise.NewCipherSuite(noise.DH25519, noise.CipherChaChaPoly, noise.HashBLAKE2b)

// handshakeResult 握手结果
type handshakeResult struct {
	send      *noise.CipherState
	recv      *noise.CipherState
	remoteKey types.PublicKey
}

// performHandshake 执行 Noise XX 握手
//
// ctx 取消或超时时关闭 conn 以中断阻塞的读写。
func performHandshake(ctx context.Context, conn net.Conn, static noise.DHKey, initiator bool) (*handshakeResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, snowError("handshake aborted", err)
	}

	hs, err := noise.NewHandshakeState(noise.Config{
		CipherSuite:   cipherSuite,
		Pattern:       noise.HandshakeXX,
		Initiator:     initiator,
		Prologue:      prologue,
		StaticKeypair: static,
	})
	if err != nil {
		return nil, snowError("create handshake state", err)
	}

	stop := context.AfterFunc(ctx, func() {
		_ = conn.Close()
	})

	var send, recv *noise.CipherState
	if initiator {
		send, recv, err = clientHandshake(conn, hs)
	} else {
		send, recv, err = serverHandshake(conn, hs)
	}

	if !stop() {
		// ctx 已触发，conn 已被关闭
		return nil, snowError("handshake aborted", ctx.Err())
	}
	if err != nil {
		return nil, err
	}

	remoteKey, err := types.PublicKeyFromBytes(hs.PeerStatic())
	if err != nil {
		return nil, ErrInvalidStaticKey
	}

	return &handshakeResult{send: send, recv: recv, remoteKey: remoteKey}, nil
}

// ============================================================================
// 握手流程
// ============================================================================

// clientHandshake 客户端握手（发起者）
//
//  1. -> e
//  2. <- e, ee, s, es
//  3. -> s, se
func clientHandshake(conn net.Conn, hs *noise.HandshakeState) (*noise.CipherState, *noise.CipherState, error) {
	msg1, _, _, err := hs.WriteMessage(nil, nil)
	if err != nil {
		return nil, nil, snowError("write message 1", err)
	}
	if err := writeFrame(conn, msg1); err != nil {
		return nil, nil, snowError("send message 1", err)
	}

	msg2, err := readFrame(conn)
	if err != nil {
		return nil, nil, classifyRead("receive message 2", err)
	}
	if _, _, _, err := hs.ReadMessage(nil, msg2); err != nil {
		return nil, nil, classifyMessage("read message 2", err)
	}

	msg3, cs1, cs2, err := hs.WriteMessage(nil, nil)
	if err != nil {
		return nil, nil, snowError("write message 3", err)
	}
	if err := writeFrame(conn, msg3); err != nil {
		return nil, nil, snowError("send message 3", err)
	}

	// 发起者：cs1 发送，cs2 接收
	return cs1, cs2, nil
}

// serverHandshake 服务器握手（响应者）
//
//  1. <- e
//  2. -> e, ee, s, es
//  3. <- s, se
func serverHandshake(conn net.Conn, hs *noise.HandshakeState) (*noise.CipherState, *noise.CipherState, error) {
	msg1, err := readFrame(conn)
	if err != nil {
		return nil, nil, classifyRead("receive message 1", err)
	}
	if _, _, _, err := hs.ReadMessage(nil, msg1); err != nil {
		return nil, nil, classifyMessage("read message 1", err)
	}

	msg2, _, _, err := hs.WriteMessage(nil, nil)
	if err != nil {
		return nil, nil, snowError("write message 2", err)
	}
	if err := writeFrame(conn, msg2); err != nil {
		return nil, nil, snowError("send message 2", err)
	}

	msg3, err := readFrame(conn)
	if err != nil {
		return nil, nil, classifyRead("receive message 3", err)
	}
	_, cs1, cs2, err := hs.ReadMessage(nil, msg3)
	if err != nil {
		return nil, nil, classifyMessage("read message 3", err)
	}

	// 响应者：cs1 接收，cs2 发送
	return cs2, cs1, nil
}

// classifyRead 分类读帧错误
func classifyRead(stage string, err error) *Error {
	if errors.Is(err, errEmptyFrame) {
		return handshakeError(stage, err)
	}
	return snowError(stage, err)
}

// classifyMessage 分类握手消息处理错误
//
// 消息过短属于协议序列错误，其余（解密、DH）属于原语失败。
func classifyMessage(stage string, err error) *Error {
	if errors.Is(err, noise.ErrShortMessage) {
		return handshakeError(stage, err)
	}
	return snowError(stage, err)
}

// ============================================================================
// 分帧
// ============================================================================

// writeFrame 写入帧（2 字节长度 + 数据）
func writeFrame(w io.Writer, data []byte) error {
	buf := make([]byte, 2+len(data))
	binary.BigEndian.PutUint16(buf, uint16(len(data)))
	copy(buf[2:], data)
	_, err := w.Write(buf)
	return err
}

// readFrame 读取帧（2 字节长度 + 数据）
func readFrame(r io.Reader) ([]byte, error) {
	var lenBuf [2]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}

	length := binary.BigEndian.Uint16(lenBuf[:])
	if length == 0 {
		return nil, errEmptyFrame
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, err
	}
	return data, nil
}
