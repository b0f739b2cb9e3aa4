package eventbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgif "github.com/dep2p/go-comms/pkg/interfaces"
	"github.com/dep2p/go-comms/pkg/types"
)

func TestBus_EmitSubscribe(t *testing.T) {
	bus := NewBus()

	sub, err := bus.Subscribe(new(types.EvtPeerConnected))
	require.NoError(t, err)
	defer sub.Close()

	em, err := bus.Emitter(new(types.EvtPeerConnected))
	require.NoError(t, err)
	defer em.Close()

	evt := types.EvtPeerConnected{ConnID: "c1", Direction: types.DirOutbound}
	require.NoError(t, em.Emit(evt))

	select {
	case got := <-sub.Out():
		assert.Equal(t, evt, got.(types.EvtPeerConnected))
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestBus_InvalidTypes(t *testing.T) {
	bus := NewBus()

	_, err := bus.Subscribe(nil)
	assert.ErrorIs(t, err, ErrInvalidEventType)

	_, err = bus.Subscribe(types.EvtPeerConnected{})
	assert.ErrorIs(t, err, ErrNonPointerType)

	em, err := bus.Emitter(new(types.EvtPeerConnected))
	require.NoError(t, err)
	assert.ErrorIs(t, em.Emit(types.EvtPeerDisconnected{}), ErrWrongEventType)

	require.NoError(t, em.Close())
	assert.ErrorIs(t, em.Emit(types.EvtPeerConnected{}), ErrEmitterClosed)
}

func TestBus_SlowSubscriberDrops(t *testing.T) {
	bus := NewBus()

	sub, err := bus.Subscribe(new(types.EvtPeerDisconnected), pkgif.BufSize(1))
	require.NoError(t, err)
	defer sub.Close()

	em, err := bus.Emitter(new(types.EvtPeerDisconnected))
	require.NoError(t, err)
	defer em.Close()

	for i := 0; i < 3; i++ {
		require.NoError(t, em.Emit(types.EvtPeerDisconnected{}))
	}
	assert.Equal(t, int64(2), bus.Dropped())

	// 订阅和发射器全部关闭后计数仍然保留
	require.NoError(t, sub.Close())
	require.NoError(t, em.Close())
	assert.Equal(t, int64(2), bus.Dropped())
}

func TestBus_Close(t *testing.T) {
	bus := NewBus()

	sub, err := bus.Subscribe(new(types.EvtPeerConnected))
	require.NoError(t, err)

	require.NoError(t, bus.Close())
	require.NoError(t, bus.Close())

	_, ok := <-sub.Out()
	assert.False(t, ok)
	require.NoError(t, sub.Close())

	_, err = bus.Subscribe(new(types.EvtPeerConnected))
	assert.ErrorIs(t, err, ErrClosed)
}
