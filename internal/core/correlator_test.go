package core

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/waconnect/waconnect-core/internal/core/binary"
)

func TestCorrelatorResolvesPendingRequest(t *testing.T) {
	c := NewCorrelator()
	require.NoError(t, c.Register("req-1"))

	resp := binary.Node{Tag: "iq", Attrs: binary.NewAttrList().SetString("id", "req-1").SetString("type", "result")}

	go func() {
		time.Sleep(10 * time.Millisecond)
		assert.True(t, c.Resolve(resp))
	}()

	got, err := c.Wait(context.Background(), "req-1")
	require.NoError(t, err)
	assert.Equal(t, "result", got.Attrs.GetString("type"))
}

func TestCorrelatorResolveWithNoPendingRequestReturnsFalse(t *testing.T) {
	c := NewCorrelator()
	node := binary.Node{Tag: "iq", Attrs: binary.NewAttrList().SetString("id", "unknown")}
	assert.False(t, c.Resolve(node))
}

func TestCorrelatorDuplicateRegisterFails(t *testing.T) {
	c := NewCorrelator()
	require.NoError(t, c.Register("req-1"))
	assert.Error(t, c.Register("req-1"))
}

func TestCorrelatorFailAllUnblocksWaiters(t *testing.T) {
	c := NewCorrelator()
	require.NoError(t, c.Register("req-1"))

	done := make(chan error, 1)
	go func() {
		_, err := c.Wait(context.Background(), "req-1")
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	c.FailAll(ErrDisconnected)

	select {
	case err := <-done:
		require.Error(t, err)
		var transportErr *TransportError
		assert.ErrorAs(t, err, &transportErr)
	case <-time.After(time.Second):
		t.Fatal("Wait did not unblock after FailAll")
	}
}

func TestCorrelatorFailDeliversTypedError(t *testing.T) {
	c := NewCorrelator()
	require.NoError(t, c.Register("req-1"))

	done := make(chan error, 1)
	go func() {
		_, err := c.Wait(context.Background(), "req-1")
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	assert.True(t, c.Fail("req-1", &StreamError{Code: "503"}))
	assert.False(t, c.Fail("unknown", &StreamError{Code: "503"}))

	select {
	case err := <-done:
		var streamErr *StreamError
		require.ErrorAs(t, err, &streamErr)
		assert.Equal(t, "503", streamErr.Code)
	case <-time.After(time.Second):
		t.Fatal("Wait did not unblock after Fail")
	}
}
