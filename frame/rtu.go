package frame

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/modbuscore/modbus"
)

// Role distinguishes which side of the wire an RTU frame is read as: the
// same function code has a different data layout for a request than for a
// response (e.g. ReadCoils request data is a fixed 4 bytes, but its response
// is a byte-count-prefixed variable payload).
type Role int

const (
	RoleRequest Role = iota
	RoleResponse
)

const maxRTUResyncAttempts = 16

// errBadCRC is an internal sentinel distinguishing a CRC failure (which
// triggers resync) from every other read error (which does not).
var errBadCRC = fmt.Errorf("frame: rtu crc mismatch")

// rtuCursor reads bytes from an underlying stream while retaining the
// history of everything read for the current frame attempt, so that on a
// CRC failure the framer can discard exactly one byte and retry without
// losing already-buffered bytes.
type rtuCursor struct {
	r   io.Reader
	buf []byte
	pos int
}

func (c *rtuCursor) readByte() (byte, error) {
	if c.pos < len(c.buf) {
		b := c.buf[c.pos]
		c.pos++
		return b, nil
	}
	one := make([]byte, 1)
	if _, err := io.ReadFull(c.r, one); err != nil {
		return 0, err
	}
	c.buf = append(c.buf, one[0])
	c.pos++
	return one[0], nil
}

func (c *rtuCursor) readBytes(n int) ([]byte, error) {
	out := make([]byte, n)
	for i := range out {
		b, err := c.readByte()
		if err != nil {
			return nil, err
		}
		out[i] = b
	}
	return out, nil
}

// resync discards the oldest byte of this frame attempt and rewinds to the
// start of the (now shorter) buffered history.
func (c *rtuCursor) resync() {
	if len(c.buf) > 0 {
		c.buf = c.buf[1:]
	}
	c.pos = 0
}

// ReadRTUFrame reads one RTU ADU (unit + PDU + CRC16) from r, resynchronizing
// on CRC failure by discarding one byte at a time, bounded by
// maxRTUResyncAttempts.
//
// Ref: spec.md Section 4.2 (RTU framer), Section 6.1 (wire format)
func ReadRTUFrame(r io.Reader, role Role) (modbus.UnitId, []byte, error) {
	cursor := &rtuCursor{r: r}

	for attempt := 0; attempt < maxRTUResyncAttempts; attempt++ {
		unit, pdu, err := readOneRTUAttempt(cursor, role)
		if err == errBadCRC {
			cursor.resync()
			continue
		}
		if err != nil {
			return 0, nil, err
		}
		return unit, pdu, nil
	}
	return 0, nil, modbus.NewError(modbus.BadFrame, fmt.Errorf("frame: could not resynchronize RTU stream after %d attempts", maxRTUResyncAttempts))
}

func readOneRTUAttempt(cursor *rtuCursor, role Role) (modbus.UnitId, []byte, error) {
	unitByte, err := cursor.readByte()
	if err != nil {
		return 0, nil, err
	}
	fnByte, err := cursor.readByte()
	if err != nil {
		return 0, nil, err
	}
	fc := modbus.FunctionCode(fnByte)

	var data []byte
	switch {
	case fc.IsException():
		// Exception responses are always 5 bytes total: unit + function|0x80
		// + code + CRC(2). Ref: spec.md Section 4.2.
		data, err = cursor.readBytes(1)
	case role == RoleRequest:
		data, err = readRTURequestData(cursor, fc)
	default:
		data, err = readRTUResponseData(cursor, fc)
	}
	if err != nil {
		return 0, nil, err
	}

	crcBytes, err := cursor.readBytes(2)
	if err != nil {
		return 0, nil, err
	}

	pdu := append([]byte{fnByte}, data...)
	frameBody := append([]byte{unitByte}, pdu...)
	want := binary.LittleEndian.Uint16(crcBytes)
	got := CRC16(frameBody)
	if want != got {
		return 0, nil, errBadCRC
	}

	return modbus.UnitId(unitByte), pdu, nil
}

func readRTURequestData(cursor *rtuCursor, fc modbus.FunctionCode) ([]byte, error) {
	switch fc {
	case modbus.ReadCoils, modbus.ReadDiscreteInputs, modbus.ReadHoldingRegisters, modbus.ReadInputRegisters:
		return cursor.readBytes(4) // start(2) + quantity(2)
	case modbus.WriteSingleCoil, modbus.WriteSingleRegister:
		return cursor.readBytes(4) // address(2) + value(2)
	case modbus.WriteMultipleCoils, modbus.WriteMultipleRegisters:
		head, err := cursor.readBytes(5) // start(2) + quantity(2) + byteCount(1)
		if err != nil {
			return nil, err
		}
		rest, err := cursor.readBytes(int(head[4]))
		if err != nil {
			return nil, err
		}
		return append(head, rest...), nil
	default:
		return nil, modbus.NewError(modbus.BadFrame, fmt.Errorf("frame: unsupported function code 0x%02X in RTU request", byte(fc)))
	}
}

func readRTUResponseData(cursor *rtuCursor, fc modbus.FunctionCode) ([]byte, error) {
	switch fc {
	case modbus.ReadCoils, modbus.ReadDiscreteInputs, modbus.ReadHoldingRegisters, modbus.ReadInputRegisters:
		countByte, err := cursor.readBytes(1)
		if err != nil {
			return nil, err
		}
		rest, err := cursor.readBytes(int(countByte[0]))
		if err != nil {
			return nil, err
		}
		return append(countByte, rest...), nil
	case modbus.WriteSingleCoil, modbus.WriteSingleRegister, modbus.WriteMultipleCoils, modbus.WriteMultipleRegisters:
		return cursor.readBytes(4)
	default:
		return nil, modbus.NewError(modbus.BadFrame, fmt.Errorf("frame: unsupported function code 0x%02X in RTU response", byte(fc)))
	}
}

// WriteRTUFrame appends unit id, then pdu, then its CRC16 (little-endian) and
// writes the whole ADU to w in one call.
func WriteRTUFrame(w io.Writer, unit modbus.UnitId, pdu []byte) error {
	body := make([]byte, 1+len(pdu))
	body[0] = byte(unit)
	copy(body[1:], pdu)

	crc := CRC16(body)
	out := make([]byte, len(body)+2)
	copy(out, body)
	binary.LittleEndian.PutUint16(out[len(body):], crc)

	_, err := w.Write(out)
	return err
}
