// Package modbus defines the shared wire-level types used by every other
// package in this module: addresses, function codes, exception codes and the
// request-error taxonomy. It has no dependencies on the rest of the tree so
// that pdu, frame, transport, client and server can all import it without
// creating cycles.
//
// Ref: Modbus_Application_Protocol_V1_1b3.pdf, Section 4 (MODBUS Data Model)
package modbus

import "fmt"

// UnitId identifies a device on a Modbus network (a single byte on the wire).
//
// 0x00 is the broadcast address: on RTU, write requests sent to it receive
// no response. 0xF8-0xFF are reserved; a server must still serve them, only
// logging a warning.
type UnitId byte

const (
	// BroadcastUnitId is the RTU broadcast address. Write-only, no response.
	BroadcastUnitId UnitId = 0x00
	// ReservedUnitIdLow is the first of the reserved unit id range 0xF8-0xFF.
	ReservedUnitIdLow UnitId = 0xF8
)

// IsReserved reports whether id falls in the 0xF8-0xFF reserved range.
func (u UnitId) IsReserved() bool {
	return u >= ReservedUnitIdLow
}

// FunctionCode identifies the Modbus operation carried by a PDU.
//
// Ref: Modbus_Application_Protocol_V1_1b3.pdf, Section 6 (Function Codes)
type FunctionCode byte

const (
	ReadCoils              FunctionCode = 0x01
	ReadDiscreteInputs     FunctionCode = 0x02
	ReadHoldingRegisters   FunctionCode = 0x03
	ReadInputRegisters     FunctionCode = 0x04
	WriteSingleCoil        FunctionCode = 0x05
	WriteSingleRegister    FunctionCode = 0x06
	WriteMultipleCoils     FunctionCode = 0x0F
	WriteMultipleRegisters FunctionCode = 0x10
)

// ExceptionBit is OR-ed into a FunctionCode to mark an exception response.
const ExceptionBit FunctionCode = 0x80

// WithException returns fc with the exception bit set.
func (fc FunctionCode) WithException() FunctionCode { return fc | ExceptionBit }

// IsException reports whether the exception bit is set.
func (fc FunctionCode) IsException() bool { return fc&ExceptionBit != 0 }

// Base strips the exception bit, returning the underlying function code.
func (fc FunctionCode) Base() FunctionCode { return fc &^ ExceptionBit }

func (fc FunctionCode) String() string {
	switch fc.Base() {
	case ReadCoils:
		if fc.IsException() {
			return "ReadCoils(exception)"
		}
		return "ReadCoils"
	case ReadDiscreteInputs:
		if fc.IsException() {
			return "ReadDiscreteInputs(exception)"
		}
		return "ReadDiscreteInputs"
	case ReadHoldingRegisters:
		if fc.IsException() {
			return "ReadHoldingRegisters(exception)"
		}
		return "ReadHoldingRegisters"
	case ReadInputRegisters:
		if fc.IsException() {
			return "ReadInputRegisters(exception)"
		}
		return "ReadInputRegisters"
	case WriteSingleCoil:
		if fc.IsException() {
			return "WriteSingleCoil(exception)"
		}
		return "WriteSingleCoil"
	case WriteSingleRegister:
		if fc.IsException() {
			return "WriteSingleRegister(exception)"
		}
		return "WriteSingleRegister"
	case WriteMultipleCoils:
		if fc.IsException() {
			return "WriteMultipleCoils(exception)"
		}
		return "WriteMultipleCoils"
	case WriteMultipleRegisters:
		if fc.IsException() {
			return "WriteMultipleRegisters(exception)"
		}
		return "WriteMultipleRegisters"
	default:
		return fmt.Sprintf("FunctionCode(0x%02X)", byte(fc))
	}
}

// ModbusException is one of the standard Modbus exception codes.
//
// Ref: Modbus_Application_Protocol_V1_1b3.pdf, Section 7 (Exception Responses)
type ModbusException byte

const (
	IllegalFunction              ModbusException = 0x01
	IllegalDataAddress           ModbusException = 0x02
	IllegalDataValue             ModbusException = 0x03
	ServerDeviceFailure          ModbusException = 0x04
	Acknowledge                  ModbusException = 0x05
	ServerDeviceBusy             ModbusException = 0x06
	MemoryParityError            ModbusException = 0x08
	GatewayPathUnavailable       ModbusException = 0x0A
	GatewayTargetFailedToRespond ModbusException = 0x0B
)

func (e ModbusException) String() string {
	switch e {
	case IllegalFunction:
		return "IllegalFunction"
	case IllegalDataAddress:
		return "IllegalDataAddress"
	case IllegalDataValue:
		return "IllegalDataValue"
	case ServerDeviceFailure:
		return "ServerDeviceFailure"
	case Acknowledge:
		return "Acknowledge"
	case ServerDeviceBusy:
		return "ServerDeviceBusy"
	case MemoryParityError:
		return "MemoryParityError"
	case GatewayPathUnavailable:
		return "GatewayPathUnavailable"
	case GatewayTargetFailedToRespond:
		return "GatewayTargetFailedToRespond"
	default:
		return fmt.Sprintf("ModbusException(0x%02X)", byte(e))
	}
}

// Protocol-wide limits.
//
// Ref: Modbus_Application_Protocol_V1_1b3.pdf, Section 6 (per-function limits)
const (
	MaxReadBitCount       = 2000
	MaxWriteBitCount      = 1968
	MaxReadRegisterCount  = 125
	MaxWriteRegisterCount = 123

	MaxAddress = 0xFFFF

	TCPHeaderLength = 7
	MaxPDULength    = 253
	DefaultTCPPort  = 502
)

// BitValue pairs a 16-bit address with the bit (coil or discrete input) held
// there.
type BitValue struct {
	Index uint16
	Value bool
}

// RegisterValue pairs a 16-bit address with the register value held there.
type RegisterValue struct {
	Index uint16
	Value uint16
}
