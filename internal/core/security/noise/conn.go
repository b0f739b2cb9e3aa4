package noise

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/flynn/noise"

	"github.com/dep2p/go-comms/pkg/types"
)

const (
	// maxFrameSize Noise 消息上限
	maxFrameSize = 65535

	// maxPlaintext 单帧明文上限（扣除 16 字节 AEAD 标签）
	maxPlaintext = maxFrameSize - 16
)

// ============================================================================
// Secure Connection 实现
// ============================================================================

// Conn Noise 加密连接
type Conn struct {
	net.Conn

	sendCS *noise.CipherState
	recvCS *noise.CipherState

	localKey  types.PublicKey
	remoteKey types.PublicKey

	readMu  sync.Mutex
	writeMu sync.Mutex

	readBuf []byte
}

var _ net.Conn = (*Conn)(nil)

// Read 从连接读取数据（解密）
func (c *Conn) Read(p []byte) (int, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	if len(c.readBuf) > 0 {
		n := copy(p, c.readBuf)
		c.readBuf = c.readBuf[n:]
		return n, nil
	}

	var lenBuf [2]byte
	if _, err := io.ReadFull(c.Conn, lenBuf[:]); err != nil {
		return 0, err
	}

	msgLen := binary.BigEndian.Uint16(lenBuf[:])
	if msgLen == 0 {
		return 0, io.EOF
	}

	encMsg := make([]byte, msgLen)
	if _, err := io.ReadFull(c.Conn, encMsg); err != nil {
		return 0, err
	}

	plaintext, err := c.recvCS.Decrypt(encMsg[:0], nil, encMsg)
	if err != nil {
		return 0, fmt.Errorf("decrypt: %w", err)
	}

	n := copy(p, plaintext)
	if n < len(plaintext) {
		c.readBuf = plaintext[n:]
	}
	return n, nil
}

// Write 向连接写入数据（加密），超过单帧上限时分片
func (c *Conn) Write(p []byte) (int, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	written := 0
	for written < len(p) {
		end := written + maxPlaintext
		if end > len(p) {
			end = len(p)
		}

		frame := make([]byte, 2, 2+end-written+16)
		frame, err := c.sendCS.Encrypt(frame, nil, p[written:end])
		if err != nil {
			return written, fmt.Errorf("encrypt: %w", err)
		}
		binary.BigEndian.PutUint16(frame, uint16(len(frame)-2))

		if _, err := c.Conn.Write(frame); err != nil {
			return written, err
		}
		written = end
	}
	return written, nil
}

// LocalPublicKey 返回本地静态公钥
func (c *Conn) LocalPublicKey() types.PublicKey {
	return c.localKey
}

// RemotePublicKey 返回经过认证的对端静态公钥
func (c *Conn) RemotePublicKey() types.PublicKey {
	return c.remoteKey
}

// RemoteIdentity 返回经过认证的对端身份
func (c *Conn) RemoteIdentity() types.PeerIdentity {
	return types.NewPeerIdentity(c.remoteKey)
}
