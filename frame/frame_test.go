package frame

import (
	"bytes"
	"testing"

	"github.com/modbuscore/modbus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCRC16SanityValue(t *testing.T) {
	// spec.md Section 8 invariant: CRC-16/Modbus of {0x01,0x04,0x02,0xFF,0xFF} == 0x80B8
	got := CRC16([]byte{0x01, 0x04, 0x02, 0xFF, 0xFF})
	assert.Equal(t, uint16(0x80B8), got)
}

func TestMBAPRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	pdu := []byte{0x01, 0x00, 0x00, 0x00, 0x05}
	require.NoError(t, WriteMBAPFrame(&buf, 1, pdu, 42))

	unit, got, txID, err := ReadMBAPFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, modbus.UnitId(1), unit)
	assert.Equal(t, pdu, got)
	assert.Equal(t, uint16(42), txID)
}

func TestMBAPRejectsUnknownProtocolID(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0x00, 0x01, 0x00, 0x01, 0x00, 0x02, 0x01, 0x01, 0x02})
	_, _, _, err := ReadMBAPFrame(&buf)
	require.Error(t, err)
	var reqErr *modbus.RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, modbus.BadFrame, reqErr.Kind)
}

func TestRTURoundTripRequest(t *testing.T) {
	var buf bytes.Buffer
	pdu := []byte{0x01, 0x00, 0x00, 0x00, 0x05}
	require.NoError(t, WriteRTUFrame(&buf, 1, pdu))

	unit, got, err := ReadRTUFrame(&buf, RoleRequest)
	require.NoError(t, err)
	assert.Equal(t, modbus.UnitId(1), unit)
	assert.Equal(t, pdu, got)
}

func TestRTURoundTripReadResponse(t *testing.T) {
	var buf bytes.Buffer
	pdu := []byte{0x01, 0x01, 0x0A} // byte count 1, packed bits 0x0A
	require.NoError(t, WriteRTUFrame(&buf, 1, pdu))

	unit, got, err := ReadRTUFrame(&buf, RoleResponse)
	require.NoError(t, err)
	assert.Equal(t, modbus.UnitId(1), unit)
	assert.Equal(t, pdu, got)
}

func TestRTUExceptionResponseIsAlwaysFiveBytes(t *testing.T) {
	var buf bytes.Buffer
	pdu := []byte{0x81, 0x02}
	require.NoError(t, WriteRTUFrame(&buf, 1, pdu))
	assert.Equal(t, 5, buf.Len())

	_, got, err := ReadRTUFrame(&buf, RoleResponse)
	require.NoError(t, err)
	assert.Equal(t, pdu, got)
}

func TestRTUResyncsAfterGarbageByte(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteByte(0xAA) // one byte of line noise before a well-formed frame
	pdu := []byte{0x01, 0x01, 0x0A}
	require.NoError(t, WriteRTUFrame(&buf, 1, pdu))

	unit, got, err := ReadRTUFrame(&buf, RoleResponse)
	require.NoError(t, err)
	assert.Equal(t, modbus.UnitId(1), unit)
	assert.Equal(t, pdu, got)
}
