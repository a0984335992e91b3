package frame

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/modbuscore/modbus"
)

// mbapProtocolID is the only valid MBAP protocol identifier value.
//
// Ref: spec.md Section 4.2 ("MBAP header ... protocol id (u16, must be 0)")
const mbapProtocolID = 0

// ReadMBAPFrame reads one Modbus TCP/TLS ADU from r: a 7-byte MBAP header
// followed by length-1 bytes of PDU. An unknown protocol id is fatal (it
// indicates the peer is not speaking Modbus TCP) and the caller should close
// the session.
//
// Ref: spec.md Section 4.2 (MBAP framer), Section 6.1 (wire format)
func ReadMBAPFrame(r io.Reader) (unit modbus.UnitId, pdu []byte, txID uint16, err error) {
	header := make([]byte, modbus.TCPHeaderLength)
	if _, err = io.ReadFull(r, header); err != nil {
		return 0, nil, 0, err
	}

	txID = binary.BigEndian.Uint16(header[0:2])
	protoID := binary.BigEndian.Uint16(header[2:4])
	length := binary.BigEndian.Uint16(header[4:6])
	unit = modbus.UnitId(header[6])

	if protoID != mbapProtocolID {
		return 0, nil, 0, modbus.NewError(modbus.BadFrame, fmt.Errorf("frame: MBAP protocol id %d is not Modbus TCP (expected 0)", protoID))
	}
	if length < 1 || length > 254 {
		return 0, nil, 0, modbus.NewError(modbus.BadFrame, fmt.Errorf("frame: MBAP length %d out of range [1, 254]", length))
	}

	pdu = make([]byte, length-1)
	if _, err = io.ReadFull(r, pdu); err != nil {
		return 0, nil, 0, err
	}

	return unit, pdu, txID, nil
}

// WriteMBAPFrame writes an MBAP header (with the given transaction id) and
// the PDU to w in one call.
func WriteMBAPFrame(w io.Writer, unit modbus.UnitId, pdu []byte, txID uint16) error {
	if len(pdu) > modbus.MaxPDULength {
		return fmt.Errorf("frame: PDU of %d bytes exceeds the %d byte maximum", len(pdu), modbus.MaxPDULength)
	}

	out := make([]byte, modbus.TCPHeaderLength+len(pdu))
	binary.BigEndian.PutUint16(out[0:2], txID)
	binary.BigEndian.PutUint16(out[2:4], mbapProtocolID)
	binary.BigEndian.PutUint16(out[4:6], uint16(len(pdu)+1))
	out[6] = byte(unit)
	copy(out[7:], pdu)

	_, err := w.Write(out)
	return err
}
