package pdu

import (
	"encoding/binary"
	"fmt"

	"github.com/modbuscore/modbus"
)

// ReadWriteMultipleRegistersRequest is the 0x17 extension request.
//
// Ref: Modbus_Application_Protocol_V1_1b3.pdf, Section 6.17
type ReadWriteMultipleRegistersRequest struct {
	ReadRange  modbus.AddressRange
	WriteRange modbus.AddressRange
	WriteData  []uint16
}

// ReadWriteMultipleRegistersResponse is the 0x17 extension response; its
// wire shape is identical to a ReadHoldingRegisters response.
type ReadWriteMultipleRegistersResponse struct {
	Registers []uint16
}

const funcReadWriteMultipleRegisters modbus.FunctionCode = 0x17
const funcReadDeviceIdentification modbus.FunctionCode = 0x2B
const meiReadDeviceID = 0x0E

// DeviceIdentificationRequest is the 0x2B/0x0E extension request.
//
// Ref: Modbus_Application_Protocol_V1_1b3.pdf, Section 6.21
type DeviceIdentificationRequest struct {
	Code     byte
	ObjectID byte
}

// DeviceIdentificationObject is a single vendor-name/product-code/... object
// in a device identification response.
type DeviceIdentificationObject struct {
	ID    byte
	Value string
}

// DeviceIdentificationResponse is the 0x2B/0x0E extension response.
type DeviceIdentificationResponse struct {
	ReadDeviceIDCode byte
	ConformityLevel  byte
	MoreFollows      bool
	NextObjectID     byte
	Objects          []DeviceIdentificationObject
}

// Basic device identification object ids (Modbus_Application_Protocol_V1_1b3.pdf,
// Section 6.21, Table "Basic Device Identification").
const (
	DeviceIDVendorName         = 0x00
	DeviceIDProductCode        = 0x01
	DeviceIDMajorMinorRevision = 0x02
)

func init() {
	RegisterExtension(funcReadWriteMultipleRegisters, ExtensionCodec{
		EncodeRequest: func(reqAny any) ([]byte, error) {
			req := reqAny.(ReadWriteMultipleRegistersRequest)
			byteCount := len(req.WriteData) * 2
			buf := make([]byte, 10+byteCount)
			buf[0] = byte(funcReadWriteMultipleRegisters)
			binary.BigEndian.PutUint16(buf[1:3], req.ReadRange.Start)
			binary.BigEndian.PutUint16(buf[3:5], req.ReadRange.Count)
			binary.BigEndian.PutUint16(buf[5:7], req.WriteRange.Start)
			binary.BigEndian.PutUint16(buf[7:9], req.WriteRange.Count)
			buf[9] = byte(byteCount)
			for i, v := range req.WriteData {
				binary.BigEndian.PutUint16(buf[10+2*i:12+2*i], v)
			}
			return buf, nil
		},
		DecodeResponse: func(data []byte, _ any) (any, error) {
			if len(data) < 2 {
				return nil, fmt.Errorf("pdu: ReadWriteMultipleRegisters response too short")
			}
			byteCount := int(data[1])
			if len(data) != 2+byteCount || byteCount%2 != 0 {
				return nil, fmt.Errorf("pdu: ReadWriteMultipleRegisters response byte count mismatch")
			}
			regs := make([]uint16, byteCount/2)
			for i := range regs {
				regs[i] = binary.BigEndian.Uint16(data[2+2*i : 4+2*i])
			}
			return ReadWriteMultipleRegistersResponse{Registers: regs}, nil
		},
		// DecodeRequest/EncodeResponse are the server-side half, letting
		// server.Session.dispatch answer 0x17 through the same Extension
		// lookup a client uses to build/parse it.
		DecodeRequest: func(data []byte) (any, error) {
			if len(data) < 10 {
				return nil, modbus.NewExceptionError(modbus.IllegalDataValue)
			}
			readStart := binary.BigEndian.Uint16(data[1:3])
			readCount := binary.BigEndian.Uint16(data[3:5])
			writeStart := binary.BigEndian.Uint16(data[5:7])
			writeCount := binary.BigEndian.Uint16(data[7:9])
			byteCount := int(data[9])
			if byteCount != int(writeCount)*2 || len(data) != 10+byteCount {
				return nil, modbus.NewExceptionError(modbus.IllegalDataValue)
			}
			readRange, err := modbus.NewAddressRange(readStart, readCount, modbus.MaxReadRegisterCount)
			if err != nil {
				return nil, err
			}
			writeRange, err := modbus.NewAddressRange(writeStart, writeCount, modbus.MaxWriteRegisterCount)
			if err != nil {
				return nil, err
			}
			writeData := make([]uint16, writeCount)
			for i := range writeData {
				writeData[i] = binary.BigEndian.Uint16(data[10+2*i : 12+2*i])
			}
			return ReadWriteMultipleRegistersRequest{ReadRange: readRange, WriteRange: writeRange, WriteData: writeData}, nil
		},
		EncodeResponse: func(respAny any) ([]byte, error) {
			resp := respAny.(ReadWriteMultipleRegistersResponse)
			buf := make([]byte, 2+2*len(resp.Registers))
			buf[0] = byte(funcReadWriteMultipleRegisters)
			buf[1] = byte(2 * len(resp.Registers))
			for i, v := range resp.Registers {
				binary.BigEndian.PutUint16(buf[2+2*i:4+2*i], v)
			}
			return buf, nil
		},
	})

	RegisterExtension(funcReadDeviceIdentification, ExtensionCodec{
		EncodeRequest: func(reqAny any) ([]byte, error) {
			req := reqAny.(DeviceIdentificationRequest)
			return []byte{byte(funcReadDeviceIdentification), meiReadDeviceID, req.Code, req.ObjectID}, nil
		},
		DecodeResponse: func(data []byte, _ any) (any, error) {
			if len(data) < 7 || data[1] != meiReadDeviceID {
				return nil, fmt.Errorf("pdu: malformed ReadDeviceIdentification response")
			}
			resp := DeviceIdentificationResponse{
				ReadDeviceIDCode: data[2],
				ConformityLevel:  data[3],
				MoreFollows:      data[4] != 0,
				NextObjectID:     data[5],
			}
			count := int(data[6])
			offset := 7
			for i := 0; i < count; i++ {
				if offset+2 > len(data) {
					return nil, fmt.Errorf("pdu: truncated ReadDeviceIdentification object header")
				}
				id := data[offset]
				length := int(data[offset+1])
				offset += 2
				if offset+length > len(data) {
					return nil, fmt.Errorf("pdu: truncated ReadDeviceIdentification object value")
				}
				resp.Objects = append(resp.Objects, DeviceIdentificationObject{ID: id, Value: string(data[offset : offset+length])})
				offset += length
			}
			return resp, nil
		},
		// DecodeRequest/EncodeResponse are the server-side half, mirroring
		// the wire layout the client-side codec above produces/consumes.
		DecodeRequest: func(data []byte) (any, error) {
			if len(data) != 4 || data[1] != meiReadDeviceID {
				return nil, modbus.NewExceptionError(modbus.IllegalDataValue)
			}
			return DeviceIdentificationRequest{Code: data[2], ObjectID: data[3]}, nil
		},
		EncodeResponse: func(respAny any) ([]byte, error) {
			resp := respAny.(DeviceIdentificationResponse)
			buf := make([]byte, 7)
			buf[0] = byte(funcReadDeviceIdentification)
			buf[1] = meiReadDeviceID
			buf[2] = resp.ReadDeviceIDCode
			buf[3] = resp.ConformityLevel
			if resp.MoreFollows {
				buf[4] = 0xFF
			}
			buf[5] = resp.NextObjectID
			buf[6] = byte(len(resp.Objects))
			for _, obj := range resp.Objects {
				buf = append(buf, obj.ID, byte(len(obj.Value)))
				buf = append(buf, []byte(obj.Value)...)
			}
			return buf, nil
		},
	})
}
