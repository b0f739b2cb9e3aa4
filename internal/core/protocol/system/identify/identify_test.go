package identify

import (
	"bytes"
	"strings"
	"testing"

	"github.com/multiformats/go-varint"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/dep2p/go-comms/pkg/types"
)

func testIdentity(b byte) types.PeerIdentity {
	var pk types.PublicKey
	for i := range pk {
		pk[i] = b + byte(i)
	}
	return types.NewPeerIdentity(pk)
}

func TestMessage_RoundTrip(t *testing.T) {
	id := testIdentity(1)
	info := NewIdentityInfo(id, []string{"/ip4/1.2.3.4/tcp/1"}, []types.ProtocolID{"/a/1"}, "ua")

	var buf bytes.Buffer
	require.NoError(t, WriteMessage(&buf, info))
	buf.WriteString("trailing")

	got, err := ReadMessage(&buf)
	require.NoError(t, err)
	assert.Equal(t, info, got)
	// 长度前缀之后的数据留在流中
	assert.Equal(t, "trailing", buf.String())
	require.NoError(t, got.Validate(id))
}

func TestReadMessage_Malformed(t *testing.T) {
	_, err := ReadMessage(bytes.NewReader(varint.ToUvarint(0)))
	assert.ErrorIs(t, err, ErrMalformedMessage)

	_, err = ReadMessage(bytes.NewReader(varint.ToUvarint(MaxMessageSize + 1)))
	assert.ErrorIs(t, err, ErrMessageTooLarge)

	// 字段 1 声明 5 字节但只有 1 字节
	body := []byte{0x0a, 0x05, 'a'}
	_, err = ReadMessage(bytes.NewReader(append(varint.ToUvarint(uint64(len(body))), body...)))
	assert.ErrorIs(t, err, ErrMalformedMessage)
}

func TestReadMessage_SkipsUnknownFields(t *testing.T) {
	id := testIdentity(3)
	body := NewIdentityInfo(id, nil, nil, "ua").marshal()
	body = protowire.AppendTag(body, 9, protowire.VarintType)
	body = protowire.AppendVarint(body, 42)
	body = protowire.AppendTag(body, 10, protowire.BytesType)
	body = protowire.AppendString(body, "future")

	got, err := ReadMessage(bytes.NewReader(append(varint.ToUvarint(uint64(len(body))), body...)))
	require.NoError(t, err)
	assert.Equal(t, "ua", got.UserAgent)
	require.NoError(t, got.Validate(id))
}

func TestValidate(t *testing.T) {
	id, other := testIdentity(1), testIdentity(2)

	info := NewIdentityInfo(other, nil, nil, "")
	assert.ErrorIs(t, info.Validate(id), ErrIdentityMismatch)

	info = NewIdentityInfo(id, nil, nil, "")
	info.NodeID = "bad!"
	assert.ErrorIs(t, info.Validate(id), ErrMalformedMessage)

	info = NewIdentityInfo(id, make([]string, MaxAddresses+1), nil, "")
	assert.ErrorIs(t, info.Validate(id), ErrTooManyAddresses)

	info = NewIdentityInfo(id, nil, nil, strings.Repeat("x", MaxUserAgentLength+1))
	assert.ErrorIs(t, info.Validate(id), ErrUserAgentTooLong)
}
