package server

import "github.com/modbuscore/modbus"

// Target describes what a request addresses, passed to the authorization
// gate so a callback can make a role decision without re-decoding the PDU.
type Target struct {
	Unit     modbus.UnitId
	Function modbus.FunctionCode
	// Range is valid for every function except WriteSingleCoil/
	// WriteSingleRegister, which set Index instead.
	Range modbus.AddressRange
	Index uint16
	Role  string
}

// Authorizer is consulted once per request on TLS sessions, before the
// device map transaction runs. It must be synchronous and must not block.
//
// Ref: spec.md Section 4.7 (Authorization Gate)
type Authorizer struct {
	ReadCoils                   func(Target) bool
	ReadDiscreteInputs           func(Target) bool
	ReadHoldingRegisters         func(Target) bool
	ReadInputRegisters           func(Target) bool
	WriteSingleCoil              func(Target) bool
	WriteSingleRegister          func(Target) bool
	WriteMultipleCoils           func(Target) bool
	WriteMultipleRegisters       func(Target) bool
}

// AllowAll is the default authorizer used for plain TCP/RTU servers and for
// create_tls calls that supply no explicit authorizer: every request is
// allowed.
func AllowAll() *Authorizer {
	allow := func(Target) bool { return true }
	return &Authorizer{
		ReadCoils:             allow,
		ReadDiscreteInputs:    allow,
		ReadHoldingRegisters:  allow,
		ReadInputRegisters:    allow,
		WriteSingleCoil:       allow,
		WriteSingleRegister:   allow,
		WriteMultipleCoils:    allow,
		WriteMultipleRegisters: allow,
	}
}

// Allow dispatches to the callback matching fc, defaulting to true if the
// Authorizer was built with a nil field for that function.
func (a *Authorizer) Allow(fc modbus.FunctionCode, t Target) bool {
	var cb func(Target) bool
	switch fc {
	case modbus.ReadCoils:
		cb = a.ReadCoils
	case modbus.ReadDiscreteInputs:
		cb = a.ReadDiscreteInputs
	case modbus.ReadHoldingRegisters:
		cb = a.ReadHoldingRegisters
	case modbus.ReadInputRegisters:
		cb = a.ReadInputRegisters
	case modbus.WriteSingleCoil:
		cb = a.WriteSingleCoil
	case modbus.WriteSingleRegister:
		cb = a.WriteSingleRegister
	case modbus.WriteMultipleCoils:
		cb = a.WriteMultipleCoils
	case modbus.WriteMultipleRegisters:
		cb = a.WriteMultipleRegisters
	}
	if cb == nil {
		return true
	}
	return cb(t)
}
