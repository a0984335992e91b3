package modbus_test

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modbuscore/modbus/client"
	"github.com/modbuscore/modbus/logging"
	"github.com/modbuscore/modbus/server"
)

// TestClientServerIntegration drives a real TCP client channel against a
// real TCP server over a loopback socket, exercising the full transport +
// frame + PDU + session stack end to end rather than against a mock pair.
func TestClientServerIntegration(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	device := server.NewDevice(nil)
	device.Update(func(tx *server.Tx) {
		tx.AddCoil(1000, true)
		tx.AddCoil(1001, false)
		tx.AddCoil(1002, true)
		tx.AddHoldingRegister(2000, 0x1234)
		tx.AddHoldingRegister(2001, 0x5678)
		tx.AddInputRegister(3000, 0xABCD)
		tx.AddInputRegister(3001, 0xEF01)
		for addr := uint16(1010); addr <= 1024; addr++ {
			tx.AddCoil(addr, false)
		}
		for addr := uint16(2010); addr <= 2024; addr++ {
			tx.AddHoldingRegister(addr, 0)
		}
	})
	devices := server.NewDeviceMap()
	devices.AddDevice(1, device)

	port := freePort(t)
	modbusServer := server.NewServer(devices, server.WithLogger(logging.NewNoopLogger()))
	require.NoError(t, modbusServer.CreateTCP(ctx, "127.0.0.1", port))
	defer modbusServer.Shutdown(5 * time.Second)

	channel := client.NewTCPChannel("127.0.0.1", port,
		client.WithUnitID(1),
		client.WithDefaultTimeout(5*time.Second),
		client.WithLogger(logging.NewNoopLogger()),
	)
	require.NoError(t, channel.Enable(ctx))
	defer channel.Disable()
	waitForRunning(t, channel)

	coils, err := channel.ReadCoils(ctx, 1000, 3)
	require.NoError(t, err)
	assert.Equal(t, []bool{true, false, true}, coils)

	holdingRegisters, err := channel.ReadHoldingRegisters(ctx, 2000, 2)
	require.NoError(t, err)
	assert.Equal(t, []uint16{0x1234, 0x5678}, holdingRegisters)

	inputRegisters, err := channel.ReadInputRegisters(ctx, 3000, 2)
	require.NoError(t, err)
	assert.Equal(t, []uint16{0xABCD, 0xEF01}, inputRegisters)

	require.NoError(t, channel.WriteSingleCoil(ctx, 1010, true))
	require.NoError(t, channel.WriteSingleRegister(ctx, 2010, 0x4321))

	coilBack, err := channel.ReadCoils(ctx, 1010, 1)
	require.NoError(t, err)
	assert.Equal(t, []bool{true}, coilBack)

	registerBack, err := channel.ReadHoldingRegisters(ctx, 2010, 1)
	require.NoError(t, err)
	assert.Equal(t, []uint16{0x4321}, registerBack)

	coilValues := []bool{true, false, true, false}
	require.NoError(t, channel.WriteMultipleCoils(ctx, 1020, coilValues))
	coilsAfter, err := channel.ReadCoils(ctx, 1020, uint16(len(coilValues)))
	require.NoError(t, err)
	assert.Equal(t, coilValues, coilsAfter)

	registerValues := []uint16{0x1111, 0x2222, 0x3333}
	require.NoError(t, channel.WriteMultipleRegisters(ctx, 2020, registerValues))
	registersAfter, err := channel.ReadHoldingRegisters(ctx, 2020, uint16(len(registerValues)))
	require.NoError(t, err)
	assert.Equal(t, registerValues, registersAfter)

	// Reading past the pre-populated range surfaces IllegalDataAddress.
	_, err = channel.ReadHoldingRegisters(ctx, 9000, 1)
	require.Error(t, err)
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	_, portStr, err := net.SplitHostPort(l.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return port
}

func waitForRunning(t *testing.T, c *client.Channel) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if c.State() == client.StateRunning {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("channel never reached Running state (stuck at %s)", c.State())
}
