package pdu

import (
	"testing"

	"github.com/modbuscore/modbus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadCoilsRoundTrip(t *testing.T) {
	rng, err := modbus.NewAddressRange(0, 5, modbus.MaxReadBitCount)
	require.NoError(t, err)

	req := Request{Function: modbus.ReadCoils, Range: rng}
	wire, err := Encode(req)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x00, 0x00, 0x00, 0x05}, wire)

	decodedReq, err := DecodeRequest(wire)
	require.NoError(t, err)
	assert.Equal(t, req, decodedReq)
}

func TestReadCoilsResponseWireFormat(t *testing.T) {
	// spec.md Section 8 scenario 1: coils {0:false,1:true,2:false,3:true,4:false}
	resp := Response{Function: modbus.ReadCoils, Bits: []bool{false, true, false, true, false}}
	wire, err := EncodeResponse(resp)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x01, 0x0A}, wire)

	rng, _ := modbus.NewAddressRange(0, 5, modbus.MaxReadBitCount)
	decoded, err := DecodeResponse(wire, Request{Function: modbus.ReadCoils, Range: rng})
	require.NoError(t, err)
	assert.Equal(t, resp.Bits, decoded.Bits)
}

func TestIllegalDataAddressWireFormat(t *testing.T) {
	// spec.md Section 8 scenario 2
	resp := Response{Function: modbus.ReadCoils, IsException: true, Exception: modbus.IllegalDataAddress}
	wire, err := EncodeResponse(resp)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x81, 0x02}, wire)

	rng, _ := modbus.NewAddressRange(9, 2, modbus.MaxReadBitCount)
	decoded, err := DecodeResponse(wire, Request{Function: modbus.ReadCoils, Range: rng})
	require.NoError(t, err)
	assert.True(t, decoded.IsException)
	assert.Equal(t, modbus.IllegalDataAddress, decoded.Exception)
}

func TestWriteMultipleRegistersRoundTrip(t *testing.T) {
	// spec.md Section 8 scenario 3
	rng, err := modbus.NewAddressRange(0, 3, modbus.MaxWriteRegisterCount)
	require.NoError(t, err)
	req := Request{Function: modbus.WriteMultipleRegisters, Range: rng, Registers: []uint16{0xCAFE, 21, 0xFFFF}}

	wire, err := Encode(req)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x10, 0x00, 0x00, 0x00, 0x03, 0x06, 0xCA, 0xFE, 0x00, 0x15, 0xFF, 0xFF}, wire)

	decodedReq, err := DecodeRequest(wire)
	require.NoError(t, err)
	assert.Equal(t, req, decodedReq)

	resp := Response{Function: modbus.WriteMultipleRegisters, Range: rng}
	respWire, err := EncodeResponse(resp)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x10, 0x00, 0x00, 0x00, 0x03}, respWire)

	decodedResp, err := DecodeResponse(respWire, req)
	require.NoError(t, err)
	assert.Equal(t, rng, decodedResp.Range)
}

func TestWriteSingleCoilInvalidValueIsIllegalDataValue(t *testing.T) {
	wire := []byte{0x05, 0x00, 0x01, 0x12, 0x34}
	_, err := DecodeRequest(wire)
	require.Error(t, err)
	var reqErr *modbus.RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, modbus.IllegalDataValue, reqErr.Exception)
}

func TestWriteMultipleCoilsByteCountMismatch(t *testing.T) {
	// quantity=5 needs byte count 1, but claims 2
	wire := []byte{0x0F, 0x00, 0x00, 0x00, 0x05, 0x02, 0x0A, 0x00}
	_, err := DecodeRequest(wire)
	require.Error(t, err)
}

func TestAddressRangeOverflowRejected(t *testing.T) {
	_, err := modbus.NewAddressRange(65530, 10, modbus.MaxReadRegisterCount)
	require.Error(t, err)
}

func TestResponseFunctionMismatchIsBadResponse(t *testing.T) {
	rng, _ := modbus.NewAddressRange(0, 1, modbus.MaxReadRegisterCount)
	req := Request{Function: modbus.ReadHoldingRegisters, Range: rng}
	wire := []byte{0x04, 0x02, 0x00, 0x01}
	_, err := DecodeResponse(wire, req)
	require.Error(t, err)
	var reqErr *modbus.RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, modbus.BadResponse, reqErr.Kind)
}
