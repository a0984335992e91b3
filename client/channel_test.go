package client

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modbuscore/modbus"
	"github.com/modbuscore/modbus/frame"
	"github.com/modbuscore/modbus/logging"
	"github.com/modbuscore/modbus/server"
	"github.com/modbuscore/modbus/transport"
)

// newTestChannel builds a Channel wired directly to one half of stream
// (bypassing NewTCPChannel/NewRTUChannel's real dialers, which is the only
// thing that differs between production and test construction).
func newTestChannel(stream transport.Stream, codec frame.Codec, isRTU bool, options ...Option) *Channel {
	c := newChannel(options...)
	c.dial = func(ctx context.Context) (transport.Stream, frame.Codec, bool, error) {
		return stream, codec, isRTU, nil
	}
	return c
}

func TestChannelReadCoilsRoundTrip(t *testing.T) {
	device := server.NewDevice(nil)
	device.Update(func(tx *server.Tx) {
		tx.AddCoil(0, true)
		tx.AddCoil(1, false)
		tx.AddCoil(2, true)
	})
	devices := server.NewDeviceMap()
	devices.AddDevice(1, device)

	channelSide, serverSide := transport.NewMockPair()
	session := server.NewTCPSession("t1", serverSide, devices, logging.NewNoopLogger())
	sessionCtx, sessionCancel := context.WithCancel(context.Background())
	defer sessionCancel()
	go session.Run(sessionCtx)

	c := newTestChannel(channelSide, frame.MBAPCodec{}, false, WithUnitID(1), WithDefaultTimeout(time.Second))
	require.NoError(t, c.Enable(context.Background()))
	defer c.Disable()

	waitForState(t, c, StateRunning)

	bits, err := c.ReadCoils(context.Background(), 0, 3)
	require.NoError(t, err)
	assert.Equal(t, []bool{true, false, true}, bits)
}

func TestChannelWriteSingleRegisterRoundTrip(t *testing.T) {
	device := server.NewDevice(nil)
	device.Update(func(tx *server.Tx) {
		tx.AddHoldingRegister(5, 0)
	})
	devices := server.NewDeviceMap()
	devices.AddDevice(1, device)

	channelSide, serverSide := transport.NewMockPair()
	session := server.NewTCPSession("t2", serverSide, devices, logging.NewNoopLogger())
	sessionCtx, sessionCancel := context.WithCancel(context.Background())
	defer sessionCancel()
	go session.Run(sessionCtx)

	c := newTestChannel(channelSide, frame.MBAPCodec{}, false, WithUnitID(1), WithDefaultTimeout(time.Second))
	require.NoError(t, c.Enable(context.Background()))
	defer c.Disable()

	waitForState(t, c, StateRunning)

	require.NoError(t, c.WriteSingleRegister(context.Background(), 5, 0x1234))

	regs, err := c.ReadHoldingRegisters(context.Background(), 5, 1)
	require.NoError(t, err)
	assert.Equal(t, []uint16{0x1234}, regs)
}

func TestChannelFailsImmediatelyBeforeEnable(t *testing.T) {
	c := newChannel(WithUnitID(1))
	_, err := c.ReadCoils(context.Background(), 0, 1)
	require.Error(t, err)
	var reqErr *modbus.RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, modbus.NoConnection, reqErr.Kind)
}

func TestChannelRTUBroadcastWriteSkipsResponse(t *testing.T) {
	channelSide, serverSide := transport.NewMockPair()
	defer serverSide.Shutdown()
	go io.Copy(io.Discard, serverSide) //nolint:errcheck

	c := newTestChannel(channelSide, frame.RTUCodec{}, true, WithUnitID(modbus.BroadcastUnitId), WithDefaultTimeout(time.Second))
	require.NoError(t, c.Enable(context.Background()))
	defer c.Disable()

	waitForState(t, c, StateRunning)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, c.WriteSingleCoil(ctx, 0, true))
}

func TestChannelRTUBroadcastReadFailsLocally(t *testing.T) {
	channelSide, serverSide := transport.NewMockPair()
	defer serverSide.Shutdown()
	go io.Copy(io.Discard, serverSide) //nolint:errcheck

	c := newTestChannel(channelSide, frame.RTUCodec{}, true, WithUnitID(modbus.BroadcastUnitId))
	require.NoError(t, c.Enable(context.Background()))
	defer c.Disable()

	waitForState(t, c, StateRunning)

	_, err := c.ReadCoils(context.Background(), 0, 1)
	require.Error(t, err)
	var reqErr *modbus.RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, modbus.BadRequest, reqErr.Kind)
}

func waitForState(t *testing.T, c *Channel, want State) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if c.State() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("channel did not reach state %s within deadline (stuck at %s)", want, c.State())
}
