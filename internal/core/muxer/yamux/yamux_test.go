package yamux

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-comms/config"
)

// createConnPair 创建一对 TCP 连接
func createConnPair(t *testing.T) (net.Conn, net.Conn) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := listener.Accept()
		if err != nil {
			close(accepted)
			return
		}
		accepted <- c
	}()

	client, err := net.Dial("tcp", listener.Addr().String())
	require.NoError(t, err)
	server, ok := <-accepted
	require.True(t, ok)
	return server, client
}

// upgradePair 在两端同时执行升级
func upgradePair(t *testing.T) (*Muxer, *Muxer) {
	t.Helper()
	serverConn, clientConn := createConnPair(t)
	tr := New(config.DefaultMuxerConfig())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	type result struct {
		m   *Muxer
		err error
	}
	ch := make(chan result, 1)
	go func() {
		m, err := tr.Upgrade(ctx, serverConn, true)
		ch <- result{m, err}
	}()

	client, err := tr.Upgrade(ctx, clientConn, false)
	require.NoError(t, err)
	r := <-ch
	require.NoError(t, r.err)

	t.Cleanup(func() {
		client.Close()
		r.m.Close()
	})
	return client, r.m
}

func TestConfigToYamux(t *testing.T) {
	cfg := config.MuxerConfig{
		MaxStreamWindowSize:    512 * 1024,
		AcceptBacklog:          100,
		EnableKeepAlive:        true,
		KeepAliveInterval:      config.Duration(60 * time.Second),
		ConnectionWriteTimeout: config.Duration(15 * time.Second),
	}

	yamuxCfg := ConfigToYamux(cfg)
	assert.Equal(t, 100, yamuxCfg.AcceptBacklog)
	assert.Equal(t, uint32(512*1024), yamuxCfg.MaxStreamWindowSize)
	assert.Equal(t, 60*time.Second, yamuxCfg.KeepAliveInterval)
	assert.Equal(t, 15*time.Second, yamuxCfg.ConnectionWriteTimeout)
	assert.True(t, yamuxCfg.EnableKeepAlive)

	// 零值使用默认配置
	def := ConfigToYamux(config.MuxerConfig{})
	assert.Equal(t, 256, def.AcceptBacklog)
	assert.False(t, def.EnableKeepAlive)
}

func TestUpgrade_OpenAccept(t *testing.T) {
	client, server := upgradePair(t)

	accepted := make(chan *Stream, 1)
	go func() {
		s, err := server.AcceptStream()
		if err == nil {
			accepted <- s
		}
	}()

	s, err := client.OpenStream(context.Background())
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Write([]byte("ping"))
	require.NoError(t, err)

	var remote *Stream
	select {
	case remote = <-accepted:
	case <-time.After(5 * time.Second):
		t.Fatal("no stream accepted")
	}
	defer remote.Close()

	buf := make([]byte, 4)
	_, err = io.ReadFull(remote, buf)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(buf))
	assert.Equal(t, 1, client.NumStreams())

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.Equal(t, 0, client.NumStreams())
}

func TestMuxer_CloseIdempotent(t *testing.T) {
	client, server := upgradePair(t)

	require.NoError(t, client.Close())
	require.NoError(t, client.Close())
	assert.True(t, client.IsClosed())

	_, err := client.OpenStream(context.Background())
	var yerr *Error
	require.ErrorAs(t, err, &yerr)
	assert.Equal(t, KindControl, yerr.Kind)

	// 对端会话随之关闭，挂起的 Accept 失败
	select {
	case <-server.CloseChan():
	case <-time.After(5 * time.Second):
		t.Fatal("remote session not closed")
	}
	_, err = server.AcceptStream()
	require.ErrorAs(t, err, &yerr)
	assert.Equal(t, KindControl, yerr.Kind)
}

func TestUpgrade_ProtocolMismatch(t *testing.T) {
	serverConn, clientConn := createConnPair(t)
	defer serverConn.Close()
	defer clientConn.Close()

	// 对端发送的不是 multistream 报文
	go func() {
		_, _ = serverConn.Write([]byte("\x05junk\n"))
		serverConn.Close()
	}()

	tr := New(config.DefaultMuxerConfig())
	_, err := tr.Upgrade(context.Background(), clientConn, false)
	var yerr *Error
	require.ErrorAs(t, err, &yerr)
	assert.Equal(t, KindUpgrade, yerr.Kind)
}

func TestUpgrade_Cancelled(t *testing.T) {
	serverConn, clientConn := createConnPair(t)
	defer serverConn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := New(config.DefaultMuxerConfig()).Upgrade(ctx, clientConn, false)
		errCh <- err
	}()

	// 对端不响应，协商阻塞
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		var yerr *Error
		require.ErrorAs(t, err, &yerr)
		assert.Equal(t, KindUpgrade, yerr.Kind)
		assert.Contains(t, yerr.Cause, "aborted")
	case <-time.After(5 * time.Second):
		t.Fatal("upgrade did not abort")
	}
}

func TestErrorKindString(t *testing.T) {
	assert.Equal(t, "connection", KindConnection.String())
	assert.Equal(t, "upgrade", KindUpgrade.String())
	assert.Equal(t, "control", KindControl.String())
	assert.Equal(t, "yamux control error: x", (&Error{Kind: KindControl, Cause: "x"}).Error())
}
