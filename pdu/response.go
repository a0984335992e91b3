package pdu

import (
	"encoding/binary"
	"fmt"

	"github.com/modbuscore/modbus"
)

// Response is the decoded, typed form of a response PDU.
type Response struct {
	Function modbus.FunctionCode

	// ReadCoils / ReadDiscreteInputs.
	Bits []bool
	// ReadHoldingRegisters / ReadInputRegisters.
	Registers []uint16

	// WriteSingleCoil / WriteSingleRegister echoed fields.
	Address uint16
	Value   uint16

	// WriteMultiple* echoed range.
	Range modbus.AddressRange

	// Exception is set, and Function carries the exception bit, when the
	// server responded with an exception.
	IsException bool
	Exception   modbus.ModbusException
}

// EncodeResponse renders resp as a response PDU (server side).
func EncodeResponse(resp Response) ([]byte, error) {
	if resp.IsException {
		return []byte{byte(resp.Function.WithException()), byte(resp.Exception)}, nil
	}

	switch resp.Function {
	case modbus.ReadCoils, modbus.ReadDiscreteInputs:
		byteCount := (len(resp.Bits) + 7) / 8
		buf := make([]byte, 2+byteCount)
		buf[0] = byte(resp.Function)
		buf[1] = byte(byteCount)
		packBits(buf[2:], resp.Bits)
		return buf, nil

	case modbus.ReadHoldingRegisters, modbus.ReadInputRegisters:
		buf := make([]byte, 2+2*len(resp.Registers))
		buf[0] = byte(resp.Function)
		buf[1] = byte(2 * len(resp.Registers))
		for i, v := range resp.Registers {
			binary.BigEndian.PutUint16(buf[2+2*i:4+2*i], v)
		}
		return buf, nil

	case modbus.WriteSingleCoil:
		value := uint16(0x0000)
		if resp.Value != 0 {
			value = 0xFF00
		}
		buf := make([]byte, 5)
		buf[0] = byte(resp.Function)
		binary.BigEndian.PutUint16(buf[1:3], resp.Address)
		binary.BigEndian.PutUint16(buf[3:5], value)
		return buf, nil

	case modbus.WriteSingleRegister:
		buf := make([]byte, 5)
		buf[0] = byte(resp.Function)
		binary.BigEndian.PutUint16(buf[1:3], resp.Address)
		binary.BigEndian.PutUint16(buf[3:5], resp.Value)
		return buf, nil

	case modbus.WriteMultipleCoils, modbus.WriteMultipleRegisters:
		buf := make([]byte, 5)
		buf[0] = byte(resp.Function)
		binary.BigEndian.PutUint16(buf[1:3], resp.Range.Start)
		binary.BigEndian.PutUint16(buf[3:5], resp.Range.Count)
		return buf, nil

	default:
		return nil, fmt.Errorf("pdu: unsupported function code %s", resp.Function)
	}
}

// DecodeResponse parses a response PDU on the client side, validating it
// against the request that produced it. req is the in-flight request; its
// Function and Range/Address/Value fields are used to check the echoed
// fields match.
func DecodeResponse(data []byte, req Request) (Response, error) {
	if len(data) < 2 {
		return Response{}, modbus.NewError(modbus.BadResponse, fmt.Errorf("pdu: response too short (%d bytes)", len(data)))
	}

	fc := modbus.FunctionCode(data[0])
	if fc.IsException() {
		if fc.Base() != req.Function {
			return Response{}, modbus.NewError(modbus.BadResponse, fmt.Errorf("pdu: exception response function %s does not match request %s", fc.Base(), req.Function))
		}
		if len(data) != 2 {
			return Response{}, modbus.NewError(modbus.BadResponse, fmt.Errorf("pdu: exception response must be 2 bytes, got %d", len(data)))
		}
		return Response{Function: fc, IsException: true, Exception: modbus.ModbusException(data[1])}, nil
	}

	if fc != req.Function {
		return Response{}, modbus.NewError(modbus.BadResponse, fmt.Errorf("pdu: response function %s does not match request %s", fc, req.Function))
	}

	switch fc {
	case modbus.ReadCoils, modbus.ReadDiscreteInputs:
		if len(data) < 2 {
			return Response{}, modbus.NewError(modbus.BadResponse, fmt.Errorf("pdu: %s response too short", fc))
		}
		byteCount := int(data[1])
		if len(data) != 2+byteCount {
			return Response{}, modbus.NewError(modbus.BadResponse, fmt.Errorf("pdu: %s byte count %d does not match payload length %d", fc, byteCount, len(data)-2))
		}
		if byteCount != req.Range.ByteCount() {
			return Response{}, modbus.NewError(modbus.BadResponse, fmt.Errorf("pdu: %s byte count %d does not match requested quantity %d", fc, byteCount, req.Range.Count))
		}
		bits := unpackBits(data[2:], int(req.Range.Count))
		return Response{Function: fc, Bits: bits}, nil

	case modbus.ReadHoldingRegisters, modbus.ReadInputRegisters:
		byteCount := int(data[1])
		if len(data) != 2+byteCount {
			return Response{}, modbus.NewError(modbus.BadResponse, fmt.Errorf("pdu: %s byte count %d does not match payload length %d", fc, byteCount, len(data)-2))
		}
		if byteCount != int(req.Range.Count)*2 {
			return Response{}, modbus.NewError(modbus.BadResponse, fmt.Errorf("pdu: %s byte count %d does not match requested quantity %d", fc, byteCount, req.Range.Count))
		}
		regs := make([]uint16, req.Range.Count)
		for i := range regs {
			regs[i] = binary.BigEndian.Uint16(data[2+2*i : 4+2*i])
		}
		return Response{Function: fc, Registers: regs}, nil

	case modbus.WriteSingleCoil:
		if len(data) != 5 {
			return Response{}, modbus.NewError(modbus.BadResponse, fmt.Errorf("pdu: WriteSingleCoil response must be 5 bytes"))
		}
		addr := binary.BigEndian.Uint16(data[1:3])
		raw := binary.BigEndian.Uint16(data[3:5])
		if addr != req.Address || raw != echoCoilValue(req.Value) {
			return Response{}, modbus.NewError(modbus.BadResponse, fmt.Errorf("pdu: WriteSingleCoil response does not echo request"))
		}
		return Response{Function: fc, Address: addr, Value: req.Value}, nil

	case modbus.WriteSingleRegister:
		if len(data) != 5 {
			return Response{}, modbus.NewError(modbus.BadResponse, fmt.Errorf("pdu: WriteSingleRegister response must be 5 bytes"))
		}
		addr := binary.BigEndian.Uint16(data[1:3])
		value := binary.BigEndian.Uint16(data[3:5])
		if addr != req.Address || value != req.Value {
			return Response{}, modbus.NewError(modbus.BadResponse, fmt.Errorf("pdu: WriteSingleRegister response does not echo request"))
		}
		return Response{Function: fc, Address: addr, Value: value}, nil

	case modbus.WriteMultipleCoils, modbus.WriteMultipleRegisters:
		if len(data) != 5 {
			return Response{}, modbus.NewError(modbus.BadResponse, fmt.Errorf("pdu: %s response must be 5 bytes", fc))
		}
		start := binary.BigEndian.Uint16(data[1:3])
		count := binary.BigEndian.Uint16(data[3:5])
		if start != req.Range.Start || count != req.Range.Count {
			return Response{}, modbus.NewError(modbus.BadResponse, fmt.Errorf("pdu: %s response range does not echo request", fc))
		}
		return Response{Function: fc, Range: req.Range}, nil

	default:
		return Response{}, modbus.NewError(modbus.BadResponse, fmt.Errorf("pdu: unsupported function code %s", fc))
	}
}

func echoCoilValue(value uint16) uint16 {
	if value != 0 {
		return 0xFF00
	}
	return 0x0000
}
