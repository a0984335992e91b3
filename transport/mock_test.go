package transport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockPairRoundTrip(t *testing.T) {
	client, server := NewMockPair()
	defer client.Shutdown()
	defer server.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		buf := make([]byte, 5)
		done <- server.ReadExact(ctx, buf)
	}()

	require.NoError(t, client.WriteAll(ctx, []byte{1, 2, 3, 4, 5}))
	require.NoError(t, <-done)
}

func TestMockPairWithRolesExposesPeerRoles(t *testing.T) {
	_, server := NewMockPairWithRoles([]string{"operator", "engineer"})
	defer server.Shutdown()

	roleSource, ok := server.(RoleSource)
	require.True(t, ok)
	assert.Equal(t, []string{"operator", "engineer"}, roleSource.PeerRoles())
}

func TestMockPairShutdownUnblocksRead(t *testing.T) {
	client, server := NewMockPair()
	defer client.Shutdown()

	ctx := context.Background()
	done := make(chan error, 1)
	go func() {
		buf := make([]byte, 1)
		done <- server.ReadExact(ctx, buf)
	}()

	require.NoError(t, server.Shutdown())
	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("ReadExact did not unblock after Shutdown")
	}
}
