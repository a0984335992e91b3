// Package pdu encodes and decodes Modbus Protocol Data Units: the function
// code plus data that is identical across every transport (TCP, TLS, RTU).
// Framing (MBAP or RTU+CRC) lives one layer up, in package frame.
//
// Ref: Modbus_Application_Protocol_V1_1b3.pdf, Section 6 (Function Codes)
package pdu

import (
	"encoding/binary"
	"fmt"

	"github.com/modbuscore/modbus"
)

// Request is the decoded, typed form of a request PDU.
type Request struct {
	Function modbus.FunctionCode

	// Read requests (0x01-0x04), WriteMultiple* (address of the range).
	Range modbus.AddressRange

	// WriteSingleCoil / WriteSingleRegister.
	Address uint16
	Value   uint16 // for WriteSingleCoil: zero is OFF, any non-zero value ON (DecodeRequest yields 0 or 1)

	// WriteMultipleCoils / WriteMultipleRegisters payloads.
	Bits      []bool
	Registers []uint16
}

// Encode renders req as a request PDU: function byte followed by
// function-specific data, per spec.md Section 4.1.
func Encode(req Request) ([]byte, error) {
	switch req.Function {
	case modbus.ReadCoils, modbus.ReadDiscreteInputs, modbus.ReadHoldingRegisters, modbus.ReadInputRegisters:
		buf := make([]byte, 5)
		buf[0] = byte(req.Function)
		binary.BigEndian.PutUint16(buf[1:3], req.Range.Start)
		binary.BigEndian.PutUint16(buf[3:5], req.Range.Count)
		return buf, nil

	case modbus.WriteSingleCoil:
		value := uint16(0x0000)
		if req.Value != 0 {
			value = 0xFF00
		}
		buf := make([]byte, 5)
		buf[0] = byte(req.Function)
		binary.BigEndian.PutUint16(buf[1:3], req.Address)
		binary.BigEndian.PutUint16(buf[3:5], value)
		return buf, nil

	case modbus.WriteSingleRegister:
		buf := make([]byte, 5)
		buf[0] = byte(req.Function)
		binary.BigEndian.PutUint16(buf[1:3], req.Address)
		binary.BigEndian.PutUint16(buf[3:5], req.Value)
		return buf, nil

	case modbus.WriteMultipleCoils:
		byteCount := req.Range.ByteCount()
		buf := make([]byte, 6+byteCount)
		buf[0] = byte(req.Function)
		binary.BigEndian.PutUint16(buf[1:3], req.Range.Start)
		binary.BigEndian.PutUint16(buf[3:5], req.Range.Count)
		buf[5] = byte(byteCount)
		packBits(buf[6:], req.Bits)
		return buf, nil

	case modbus.WriteMultipleRegisters:
		byteCount := int(req.Range.Count) * 2
		buf := make([]byte, 6+byteCount)
		buf[0] = byte(req.Function)
		binary.BigEndian.PutUint16(buf[1:3], req.Range.Start)
		binary.BigEndian.PutUint16(buf[3:5], req.Range.Count)
		buf[5] = byte(byteCount)
		for i, v := range req.Registers {
			binary.BigEndian.PutUint16(buf[6+2*i:8+2*i], v)
		}
		return buf, nil

	default:
		return nil, fmt.Errorf("pdu: unsupported function code %s", req.Function)
	}
}

// DecodeRequest parses a request PDU on the server side of the wire. Callers
// already know which function code was received (data[0]).
func DecodeRequest(data []byte) (Request, error) {
	if len(data) == 0 {
		return Request{}, fmt.Errorf("pdu: empty request PDU")
	}
	fc := modbus.FunctionCode(data[0])

	switch fc {
	case modbus.ReadCoils, modbus.ReadDiscreteInputs, modbus.ReadHoldingRegisters, modbus.ReadInputRegisters:
		if len(data) != 5 {
			return Request{}, fmt.Errorf("pdu: %s request must be 5 bytes, got %d", fc, len(data))
		}
		start := binary.BigEndian.Uint16(data[1:3])
		count := binary.BigEndian.Uint16(data[3:5])
		max := readMax(fc)
		rng, err := modbus.NewAddressRange(start, count, max)
		if err != nil {
			return Request{}, err
		}
		return Request{Function: fc, Range: rng}, nil

	case modbus.WriteSingleCoil:
		if len(data) != 5 {
			return Request{}, fmt.Errorf("pdu: WriteSingleCoil request must be 5 bytes, got %d", len(data))
		}
		addr := binary.BigEndian.Uint16(data[1:3])
		raw := binary.BigEndian.Uint16(data[3:5])
		if raw != 0xFF00 && raw != 0x0000 {
			return Request{}, modbus.NewExceptionError(modbus.IllegalDataValue)
		}
		value := uint16(0)
		if raw == 0xFF00 {
			value = 1
		}
		return Request{Function: fc, Address: addr, Value: value}, nil

	case modbus.WriteSingleRegister:
		if len(data) != 5 {
			return Request{}, fmt.Errorf("pdu: WriteSingleRegister request must be 5 bytes, got %d", len(data))
		}
		addr := binary.BigEndian.Uint16(data[1:3])
		value := binary.BigEndian.Uint16(data[3:5])
		return Request{Function: fc, Address: addr, Value: value}, nil

	case modbus.WriteMultipleCoils:
		if len(data) < 6 {
			return Request{}, fmt.Errorf("pdu: WriteMultipleCoils request too short")
		}
		start := binary.BigEndian.Uint16(data[1:3])
		count := binary.BigEndian.Uint16(data[3:5])
		byteCount := int(data[5])
		rng, err := modbus.NewAddressRange(start, count, modbus.MaxWriteBitCount)
		if err != nil {
			return Request{}, err
		}
		if byteCount != rng.ByteCount() {
			return Request{}, modbus.NewExceptionError(modbus.IllegalDataValue)
		}
		if len(data) != 6+byteCount {
			return Request{}, fmt.Errorf("pdu: WriteMultipleCoils payload length mismatch: expected %d, got %d", byteCount, len(data)-6)
		}
		bits := unpackBits(data[6:], int(count))
		return Request{Function: fc, Range: rng, Bits: bits}, nil

	case modbus.WriteMultipleRegisters:
		if len(data) < 6 {
			return Request{}, fmt.Errorf("pdu: WriteMultipleRegisters request too short")
		}
		start := binary.BigEndian.Uint16(data[1:3])
		count := binary.BigEndian.Uint16(data[3:5])
		byteCount := int(data[5])
		rng, err := modbus.NewAddressRange(start, count, modbus.MaxWriteRegisterCount)
		if err != nil {
			return Request{}, err
		}
		if byteCount != int(count)*2 {
			return Request{}, modbus.NewExceptionError(modbus.IllegalDataValue)
		}
		if len(data) != 6+byteCount {
			return Request{}, fmt.Errorf("pdu: WriteMultipleRegisters payload length mismatch: expected %d, got %d", byteCount, len(data)-6)
		}
		regs := make([]uint16, count)
		for i := range regs {
			regs[i] = binary.BigEndian.Uint16(data[6+2*i : 8+2*i])
		}
		return Request{Function: fc, Range: rng, Registers: regs}, nil

	default:
		return Request{}, modbus.NewExceptionError(modbus.IllegalFunction)
	}
}

func readMax(fc modbus.FunctionCode) uint16 {
	switch fc {
	case modbus.ReadCoils, modbus.ReadDiscreteInputs:
		return modbus.MaxReadBitCount
	default:
		return modbus.MaxReadRegisterCount
	}
}

// packBits packs bits little-endian within each byte (bit 0 = first
// address), zero-padding the final byte.
func packBits(dst []byte, bits []bool) {
	for i, b := range bits {
		if !b {
			continue
		}
		dst[i/8] |= 1 << uint(i%8)
	}
}

func unpackBits(src []byte, count int) []bool {
	out := make([]bool, count)
	for i := range out {
		out[i] = (src[i/8]>>uint(i%8))&0x01 == 1
	}
	return out
}
