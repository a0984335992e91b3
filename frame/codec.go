package frame

import (
	"io"

	"github.com/modbuscore/modbus"
)

// Codec is the common contract the client channel and the server session
// loop use to move ADUs over whichever transport is configured. TCP/TLS
// share MBAPCodec; serial uses RTUCodec.
//
// Ref: spec.md Section 4.2
type Codec interface {
	// ReadRequest reads one request ADU (server side).
	ReadRequest(r io.Reader) (unit modbus.UnitId, pdu []byte, txID uint16, err error)
	// ReadResponse reads one response ADU (client side).
	ReadResponse(r io.Reader) (unit modbus.UnitId, pdu []byte, txID uint16, err error)
	// WriteRequest writes one request ADU (client side).
	WriteRequest(w io.Writer, unit modbus.UnitId, pdu []byte, txID uint16) error
	// WriteResponse writes one response ADU (server side).
	WriteResponse(w io.Writer, unit modbus.UnitId, pdu []byte, txID uint16) error
	// UsesTransactionIDs reports whether this codec assigns/validates
	// transaction ids (true for MBAP, false for RTU).
	UsesTransactionIDs() bool
}

// MBAPCodec implements Codec for Modbus TCP and TLS.
type MBAPCodec struct{}

func (MBAPCodec) ReadRequest(r io.Reader) (modbus.UnitId, []byte, uint16, error) {
	return ReadMBAPFrame(r)
}

func (MBAPCodec) ReadResponse(r io.Reader) (modbus.UnitId, []byte, uint16, error) {
	return ReadMBAPFrame(r)
}

func (MBAPCodec) WriteRequest(w io.Writer, unit modbus.UnitId, pdu []byte, txID uint16) error {
	return WriteMBAPFrame(w, unit, pdu, txID)
}

func (MBAPCodec) WriteResponse(w io.Writer, unit modbus.UnitId, pdu []byte, txID uint16) error {
	return WriteMBAPFrame(w, unit, pdu, txID)
}

func (MBAPCodec) UsesTransactionIDs() bool { return true }

// RTUCodec implements Codec for Modbus serial RTU.
type RTUCodec struct{}

func (RTUCodec) ReadRequest(r io.Reader) (modbus.UnitId, []byte, uint16, error) {
	unit, pdu, err := ReadRTUFrame(r, RoleRequest)
	return unit, pdu, 0, err
}

func (RTUCodec) ReadResponse(r io.Reader) (modbus.UnitId, []byte, uint16, error) {
	unit, pdu, err := ReadRTUFrame(r, RoleResponse)
	return unit, pdu, 0, err
}

func (RTUCodec) WriteRequest(w io.Writer, unit modbus.UnitId, pdu []byte, _ uint16) error {
	return WriteRTUFrame(w, unit, pdu)
}

func (RTUCodec) WriteResponse(w io.Writer, unit modbus.UnitId, pdu []byte, _ uint16) error {
	return WriteRTUFrame(w, unit, pdu)
}

func (RTUCodec) UsesTransactionIDs() bool { return false }
