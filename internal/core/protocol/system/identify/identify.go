// Package identify 实现 /comms/identity/1.0 身份交换消息
//
// 消息格式：varint 长度前缀 + protobuf 线格式编码的 IdentityInfo。
// 双方在多路复用建立后立即在专用子流上交换一次。
package identify

import (
	"errors"
	"fmt"
	"io"

	"github.com/multiformats/go-varint"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/dep2p/go-comms/internal/core/transport/addrutil"
	"github.com/dep2p/go-comms/pkg/protocolids"
	"github.com/dep2p/go-comms/pkg/types"
)

// ProtocolID 身份交换协议 ID
var ProtocolID = protocolids.SysIdentity

const (
	// MaxMessageSize 身份消息最大长度
	MaxMessageSize = 64 * 1024

	// MaxAddresses 单条消息允许的最大地址数
	MaxAddresses = 32

	// MaxProtocols 单条消息允许的最大协议数
	MaxProtocols = 256

	// MaxUserAgentLength 用户代理最大长度
	MaxUserAgentLength = 256
)

var (
	// ErrMessageTooLarge 消息超过长度上限
	ErrMessageTooLarge = errors.New("identify: message too large")

	// ErrMalformedMessage 消息无法解码
	ErrMalformedMessage = errors.New("identify: malformed message")

	// ErrIdentityMismatch 声明的身份与握手认证的身份不一致
	ErrIdentityMismatch = errors.New("identify: claimed identity does not match authenticated peer")

	// ErrTooManyAddresses 地址过多
	ErrTooManyAddresses = errors.New("identify: too many addresses")

	// ErrTooManyProtocols 协议过多
	ErrTooManyProtocols = errors.New("identify: too many protocols")

	// ErrUserAgentTooLong 用户代理过长
	ErrUserAgentTooLong = errors.New("identify: user agent too long")
)

// IdentityInfo 节点身份信息
//
// 字段编号：1 node_id，2 public_key，3 addresses（repeated），
// 4 protocols（repeated），5 user_agent。
type IdentityInfo struct {
	// NodeID 节点 ID（Base58）
	NodeID string

	// PublicKey 静态公钥（十六进制）
	PublicKey string

	// Addresses 可联系地址
	Addresses []string

	// Protocols 支持的协议列表
	Protocols []string

	// UserAgent 代理版本
	UserAgent string
}

// NewIdentityInfo 从本地身份构造消息
func NewIdentityInfo(id types.PeerIdentity, addrs []string, protocols []types.ProtocolID, userAgent string) *IdentityInfo {
	protos := make([]string, len(protocols))
	for i, p := range protocols {
		protos[i] = string(p)
	}
	return &IdentityInfo{
		NodeID:    id.NodeID.String(),
		PublicKey: id.PublicKey.String(),
		Addresses: addrs,
		Protocols: protos,
		UserAgent: userAgent,
	}
}

// Validate 对照握手认证的身份检查消息
//
// 无法解析的地址被丢弃而不是拒绝整条消息。
func (info *IdentityInfo) Validate(authenticated types.PeerIdentity) error {
	nodeID, err := types.ParseNodeID(info.NodeID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	pk, err := types.ParsePublicKey(info.PublicKey)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if pk != authenticated.PublicKey || nodeID != authenticated.NodeID {
		return ErrIdentityMismatch
	}
	if len(info.Addresses) > MaxAddresses {
		return fmt.Errorf("%w: %d", ErrTooManyAddresses, len(info.Addresses))
	}
	if len(info.Protocols) > MaxProtocols {
		return fmt.Errorf("%w: %d", ErrTooManyProtocols, len(info.Protocols))
	}
	if len(info.UserAgent) > MaxUserAgentLength {
		return ErrUserAgentTooLong
	}

	valid := info.Addresses[:0]
	for _, a := range info.Addresses {
		if _, err := addrutil.Parse(a); err == nil {
			valid = append(valid, a)
		}
	}
	info.Addresses = valid
	return nil
}

// ProtocolIDs 返回声明的协议列表
func (info *IdentityInfo) ProtocolIDs() []types.ProtocolID {
	out := make([]types.ProtocolID, len(info.Protocols))
	for i, p := range info.Protocols {
		out[i] = types.ProtocolID(p)
	}
	return out
}

// ============================================================================
//                              编解码
// ============================================================================

// WriteMessage 写入一条身份消息
func WriteMessage(w io.Writer, info *IdentityInfo) error {
	data := info.marshal()
	if len(data) > MaxMessageSize {
		return ErrMessageTooLarge
	}

	buf := append(varint.ToUvarint(uint64(len(data))), data...)
	_, err := w.Write(buf)
	return err
}

// ReadMessage 读取一条身份消息
//
// I/O 错误原样返回，格式错误包装为 ErrMalformedMessage 或 ErrMessageTooLarge。
func ReadMessage(r io.Reader) (*IdentityInfo, error) {
	br, ok := r.(io.ByteReader)
	if !ok {
		br = &byteReader{r: r}
	}

	length, err := varint.ReadUvarint(br)
	if err != nil {
		if errors.Is(err, varint.ErrOverflow) || errors.Is(err, varint.ErrNotMinimal) {
			return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
		}
		return nil, err
	}
	if length == 0 {
		return nil, fmt.Errorf("%w: empty message", ErrMalformedMessage)
	}
	if length > MaxMessageSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrMessageTooLarge, length)
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, err
	}

	info := &IdentityInfo{}
	if err := info.unmarshal(data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	return info, nil
}

const (
	fieldNodeID    protowire.Number = 1
	fieldPublicKey protowire.Number = 2
	fieldAddresses protowire.Number = 3
	fieldProtocols protowire.Number = 4
	fieldUserAgent protowire.Number = 5
)

func (info *IdentityInfo) marshal() []byte {
	var b []byte
	appendString := func(num protowire.Number, v string) {
		b = protowire.AppendTag(b, num, protowire.BytesType)
		b = protowire.AppendString(b, v)
	}
	if info.NodeID != "" {
		appendString(fieldNodeID, info.NodeID)
	}
	if info.PublicKey != "" {
		appendString(fieldPublicKey, info.PublicKey)
	}
	for _, a := range info.Addresses {
		appendString(fieldAddresses, a)
	}
	for _, p := range info.Protocols {
		appendString(fieldProtocols, p)
	}
	if info.UserAgent != "" {
		appendString(fieldUserAgent, info.UserAgent)
	}
	return b
}

// unmarshal 解码消息体，未知字段跳过
func (info *IdentityInfo) unmarshal(b []byte) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		if typ != protowire.BytesType || num < fieldNodeID || num > fieldUserAgent {
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			b = b[n:]
			continue
		}

		v, n := protowire.ConsumeString(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		switch num {
		case fieldNodeID:
			info.NodeID = v
		case fieldPublicKey:
			info.PublicKey = v
		case fieldAddresses:
			info.Addresses = append(info.Addresses, v)
		case fieldProtocols:
			info.Protocols = append(info.Protocols, v)
		case fieldUserAgent:
			info.UserAgent = v
		}
	}
	return nil
}

// byteReader 逐字节读取，不预读，保证长度前缀之后的数据留在流中
type byteReader struct {
	r   io.Reader
	buf [1]byte
}

func (b *byteReader) ReadByte() (byte, error) {
	if _, err := io.ReadFull(b.r, b.buf[:]); err != nil {
		return 0, err
	}
	return b.buf[0], nil
}
