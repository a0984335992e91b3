package pdu

import "github.com/modbuscore/modbus"

// ExtensionCodec lets a caller plug in encode/decode for a function code
// outside the eight standard codes handled by Encode/DecodeRequest.
// server.Session.dispatch consults Extension for any function code outside
// the core eight before falling back to IllegalFunction, so a registered
// codec is reachable from a live TCP/TLS session, not just from callers that
// look it up directly. The RTU framer only recognizes the core eight
// function codes, so extension requests are not read over RTU.
type ExtensionCodec struct {
	EncodeRequest  func(req any) ([]byte, error)
	DecodeRequest  func(data []byte) (any, error)
	EncodeResponse func(resp any) ([]byte, error)
	DecodeResponse func(data []byte, req any) (any, error)
}

var extensions = map[modbus.FunctionCode]ExtensionCodec{}

// RegisterExtension installs a codec for a non-core function code (the
// corpus's own ReadWriteMultipleRegisters 0x17 and ReadDeviceIdentification
// 0x2B are the two concrete examples this module ships registrars for, in
// extension_registrars.go).
func RegisterExtension(fc modbus.FunctionCode, codec ExtensionCodec) {
	extensions[fc] = codec
}

// Extension looks up a previously registered codec.
func Extension(fc modbus.FunctionCode) (ExtensionCodec, bool) {
	c, ok := extensions[fc]
	return c, ok
}
