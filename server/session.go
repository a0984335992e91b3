package server

import (
	"context"
	"errors"
	"io"

	"github.com/modbuscore/modbus"
	"github.com/modbuscore/modbus/frame"
	"github.com/modbuscore/modbus/logging"
	"github.com/modbuscore/modbus/pdu"
	"github.com/modbuscore/modbus/transport"
)

// unknownUnitPolicy decides how a session answers a request whose unit id
// has no entry in the DeviceMap. TCP/TLS reply with GatewayPathUnavailable;
// RTU drops the request silently, since there is no gateway semantics on a
// multi-drop serial bus.
//
// Ref: spec.md Section 4.5 ("the reference policy is: reply with
// GatewayPathUnavailable for unknown unit id on TCP, and silently drop on
// RTU"), resolving the Open Question in Section 9.
type unknownUnitPolicy int

const (
	unknownUnitGatewayUnavailable unknownUnitPolicy = iota
	unknownUnitDrop
)

// Session handles one accepted connection end to end: read request, decode,
// authorize, dispatch against the device map, encode, write response.
//
// Ref: spec.md Section 4.5 (Server Session Core, "Session loop" steps 1-7)
type Session struct {
	ID     string
	stream transport.Stream
	codec  frame.Codec
	policy unknownUnitPolicy
	isRTU  bool

	devices *DeviceMap
	authz   *Authorizer
	role    string

	logger      logging.LoggerInterface
	decodeLevel modbus.DecodeLevel
}

// NewTCPSession builds a session for an MBAP-framed stream (plain TCP).
func NewTCPSession(id string, stream transport.Stream, devices *DeviceMap, logger logging.LoggerInterface) *Session {
	return &Session{
		ID:      id,
		stream:  stream,
		codec:   frame.MBAPCodec{},
		policy:  unknownUnitGatewayUnavailable,
		devices: devices,
		authz:   AllowAll(),
		logger:  logger,
	}
}

// NewTLSSession is NewTCPSession plus a role extracted from the TLS peer
// certificate and an authorizer consulted on every request.
func NewTLSSession(id string, stream transport.Stream, devices *DeviceMap, authz *Authorizer, logger logging.LoggerInterface) *Session {
	role := ""
	if src, ok := stream.(transport.RoleSource); ok {
		if roles := src.PeerRoles(); len(roles) > 0 {
			role = roles[0]
		}
	}
	if authz == nil {
		authz = AllowAll()
	}
	return &Session{
		ID:      id,
		stream:  stream,
		codec:   frame.MBAPCodec{},
		policy:  unknownUnitGatewayUnavailable,
		devices: devices,
		authz:   authz,
		role:    role,
		logger:  logger,
	}
}

// NewRTUSession builds a session for an RTU-framed serial stream.
func NewRTUSession(id string, stream transport.Stream, devices *DeviceMap, logger logging.LoggerInterface) *Session {
	return &Session{
		ID:      id,
		stream:  stream,
		codec:   frame.RTUCodec{},
		policy:  unknownUnitDrop,
		isRTU:   true,
		devices: devices,
		authz:   AllowAll(),
		logger:  logger,
	}
}

// SetDecodeLevel hot-reconfigures this session's logging verbosity.
func (s *Session) SetDecodeLevel(level modbus.DecodeLevel) {
	s.decodeLevel = level
}

// Run processes requests until the stream closes, ctx is cancelled, or a
// framing violation forces the session to drop. It never panics on
// malformed input. A genuinely malformed (non-exception) TCP request makes
// dispatch return a non-nil error, which Run propagates so the caller tears
// the session down; the equivalent RTU case instead drops the frame and
// keeps the loop running, since a multi-drop serial bus has no session to
// close.
//
// Ref: spec.md Section 4.5, Session loop step 2.
func (s *Session) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		unit, pduBytes, txID, err := s.codec.ReadRequest(s.stream)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			s.logger.Debug(ctx, "session %s: read failed: %v", s.ID, err)
			return err
		}
		s.logDecode(ctx, "rx", unit, pduBytes)

		out, skipWrite, err := s.dispatch(ctx, unit, pduBytes)
		if err != nil {
			return err
		}
		if skipWrite {
			continue
		}

		s.logDecode(ctx, "tx", unit, out)
		if err := s.codec.WriteResponse(s.stream, unit, out, txID); err != nil {
			s.logger.Debug(ctx, "session %s: write failed: %v", s.ID, err)
			return err
		}
	}
}

// dispatch decodes, authorizes and executes one request PDU, returning the
// encoded response to write, whether the caller should skip writing
// entirely (unknown unit on RTU, or a broadcast write), and a non-nil error
// only when the session must close (malformed TCP request, or a response
// that fails to encode).
func (s *Session) dispatch(ctx context.Context, unit modbus.UnitId, pduBytes []byte) ([]byte, bool, error) {
	if unit.IsReserved() {
		s.logger.Warn(ctx, "session %s: request for reserved unit id 0x%02X", s.ID, byte(unit))
	}

	if len(pduBytes) == 0 {
		return nil, true, nil
	}
	fc := modbus.FunctionCode(pduBytes[0])

	if !isCoreFunction(fc) {
		return s.dispatchExtension(ctx, unit, fc, pduBytes)
	}

	req, decodeErr := pdu.DecodeRequest(pduBytes)
	if decodeErr != nil {
		var reqErr *modbus.RequestError
		if !errors.As(decodeErr, &reqErr) || reqErr.Kind != modbus.Exception {
			// Truly malformed, not just an out-of-range value: the framing
			// layer handed us well-formed bytes but the PDU itself can't be
			// parsed against the function's shape.
			if s.isRTU {
				s.logger.Debug(ctx, "session %s: dropping malformed RTU request: %v", s.ID, decodeErr)
				return nil, true, nil
			}
			s.logger.Debug(ctx, "session %s: malformed TCP request, closing: %v", s.ID, decodeErr)
			return nil, false, decodeErr
		}
		resp := exceptionResponse(fc, reqErr.Exception)
		return s.encodeResponse(ctx, resp, s.skipBroadcast(unit))
	}

	device, ok := s.devices.Device(unit)
	if !ok {
		if s.policy == unknownUnitDrop {
			return nil, true, nil
		}
		resp := exceptionResponse(fc, modbus.GatewayPathUnavailable)
		return s.encodeResponse(ctx, resp, s.skipBroadcast(unit))
	}

	if !s.authorize(unit, req) {
		resp := exceptionResponse(fc, modbus.IllegalFunction)
		return s.encodeResponse(ctx, resp, s.skipBroadcast(unit))
	}

	resp := s.execute(device, req)
	return s.encodeResponse(ctx, resp, s.skipBroadcast(unit))
}

// encodeResponse serializes resp, or reports skip=true for a suppressed
// broadcast reply without encoding at all. A non-nil error means encoding
// itself failed, which Run treats the same as a malformed request: close
// the session rather than write a truncated reply.
func (s *Session) encodeResponse(ctx context.Context, resp pdu.Response, skip bool) ([]byte, bool, error) {
	if skip {
		return nil, true, nil
	}
	out, err := pdu.EncodeResponse(resp)
	if err != nil {
		s.logger.Error(ctx, "session %s: failed to encode response: %v", s.ID, err)
		return nil, false, err
	}
	return out, false, nil
}

// isCoreFunction reports whether fc is one of the eight function codes
// execute handles directly, as opposed to one consulted through
// pdu.Extension.
func isCoreFunction(fc modbus.FunctionCode) bool {
	switch fc {
	case modbus.ReadCoils, modbus.ReadDiscreteInputs, modbus.ReadHoldingRegisters, modbus.ReadInputRegisters,
		modbus.WriteSingleCoil, modbus.WriteSingleRegister, modbus.WriteMultipleCoils, modbus.WriteMultipleRegisters:
		return true
	default:
		return false
	}
}

// dispatchExtension answers a function code outside the core eight by
// consulting pdu.Extension, the same codec registry a client uses to build
// and parse these requests (pdu/extension_registrars.go registers
// ReadWriteMultipleRegisters and ReadDeviceIdentification). A function code
// with no registered extension, or one missing the server-side half of its
// codec, falls through to IllegalFunction exactly like the core path's
// default case.
func (s *Session) dispatchExtension(ctx context.Context, unit modbus.UnitId, fc modbus.FunctionCode, pduBytes []byte) ([]byte, bool, error) {
	ext, ok := pdu.Extension(fc)
	if !ok || ext.DecodeRequest == nil || ext.EncodeResponse == nil {
		resp := exceptionResponse(fc, modbus.IllegalFunction)
		return s.encodeResponse(ctx, resp, s.skipBroadcast(unit))
	}

	reqAny, decodeErr := ext.DecodeRequest(pduBytes)
	if decodeErr != nil {
		var reqErr *modbus.RequestError
		if !errors.As(decodeErr, &reqErr) || reqErr.Kind != modbus.Exception {
			if s.isRTU {
				s.logger.Debug(ctx, "session %s: dropping malformed RTU extension request: %v", s.ID, decodeErr)
				return nil, true, nil
			}
			s.logger.Debug(ctx, "session %s: malformed TCP extension request, closing: %v", s.ID, decodeErr)
			return nil, false, decodeErr
		}
		resp := exceptionResponse(fc, reqErr.Exception)
		return s.encodeResponse(ctx, resp, s.skipBroadcast(unit))
	}

	device, ok := s.devices.Device(unit)
	if !ok {
		if s.policy == unknownUnitDrop {
			return nil, true, nil
		}
		resp := exceptionResponse(fc, modbus.GatewayPathUnavailable)
		return s.encodeResponse(ctx, resp, s.skipBroadcast(unit))
	}

	target := Target{Unit: unit, Function: fc, Role: s.role}
	if !s.authz.Allow(fc, target) {
		resp := exceptionResponse(fc, modbus.IllegalFunction)
		return s.encodeResponse(ctx, resp, s.skipBroadcast(unit))
	}

	respAny, exc := s.executeExtension(device, reqAny)
	if exc != 0 {
		resp := exceptionResponse(fc, exc)
		return s.encodeResponse(ctx, resp, s.skipBroadcast(unit))
	}

	if s.skipBroadcast(unit) {
		return nil, true, nil
	}
	out, err := ext.EncodeResponse(respAny)
	if err != nil {
		s.logger.Error(ctx, "session %s: failed to encode extension response: %v", s.ID, err)
		return nil, false, err
	}
	return out, false, nil
}

// executeExtension runs a decoded extension request against device. Like
// execute, it never returns a Go error: a non-zero ModbusException means
// "write an exception response".
func (s *Session) executeExtension(device *Device, reqAny any) (any, modbus.ModbusException) {
	switch req := reqAny.(type) {
	case pdu.ReadWriteMultipleRegistersRequest:
		regs, exc := device.readWriteMultipleRegisters(req.WriteRange.Addresses(), req.WriteData, req.ReadRange.Addresses())
		if exc != 0 {
			return nil, exc
		}
		return pdu.ReadWriteMultipleRegistersResponse{Registers: regs}, 0

	case pdu.DeviceIdentificationRequest:
		resp, exc := device.readDeviceIdentification(req)
		if exc != 0 {
			return nil, exc
		}
		return resp, 0

	default:
		return nil, modbus.IllegalFunction
	}
}

// logDecode emits decode-level-gated structured logging for one PDU
// crossing the wire, adapting the teacher's Hexdump-gated logging at the
// frame boundary (transport/tcp_transport.go in the pack's Modbus teacher)
// to this module's DecodeLevel axes.
func (s *Session) logDecode(ctx context.Context, direction string, unit modbus.UnitId, pduBytes []byte) {
	if len(pduBytes) == 0 {
		return
	}
	if s.decodeLevel.PDU >= modbus.PduFunctionCode {
		s.logger.WithFields(map[string]interface{}{
			"session_id": s.ID,
			"direction":  direction,
			"unit":       unit,
			"function":   modbus.FunctionCode(pduBytes[0]),
		}).Debug(ctx, "pdu %s", direction)
	}
	if s.decodeLevel.Physical >= modbus.PhysicalData {
		s.logger.Hexdump(ctx, pduBytes)
	}
}

// skipBroadcast reports whether the response to a broadcast RTU request
// (unit id 0) should be suppressed entirely.
func (s *Session) skipBroadcast(unit modbus.UnitId) bool {
	return s.isRTU && unit == modbus.BroadcastUnitId
}

func (s *Session) authorize(unit modbus.UnitId, req pdu.Request) bool {
	target := Target{Unit: unit, Function: req.Function, Range: req.Range, Role: s.role}
	if req.Function == modbus.WriteSingleCoil || req.Function == modbus.WriteSingleRegister {
		target.Index = req.Address
	}
	return s.authz.Allow(req.Function, target)
}

// execute runs the request against device, returning either a successful
// response or an exception response. It never returns a Go error: every
// failure mode at this point is a well-formed Modbus exception.
func (s *Session) execute(device *Device, req pdu.Request) pdu.Response {
	switch req.Function {
	case modbus.ReadCoils:
		bits, ok := device.readCoilRange(req.Range.Addresses())
		if !ok {
			return exceptionResponse(req.Function, modbus.IllegalDataAddress)
		}
		return pdu.Response{Function: req.Function, Bits: bits}

	case modbus.ReadDiscreteInputs:
		bits, ok := device.readDiscreteInputRange(req.Range.Addresses())
		if !ok {
			return exceptionResponse(req.Function, modbus.IllegalDataAddress)
		}
		return pdu.Response{Function: req.Function, Bits: bits}

	case modbus.ReadHoldingRegisters:
		regs, ok := device.readHoldingRegisterRange(req.Range.Addresses())
		if !ok {
			return exceptionResponse(req.Function, modbus.IllegalDataAddress)
		}
		return pdu.Response{Function: req.Function, Registers: regs}

	case modbus.ReadInputRegisters:
		regs, ok := device.readInputRegisterRange(req.Range.Addresses())
		if !ok {
			return exceptionResponse(req.Function, modbus.IllegalDataAddress)
		}
		return pdu.Response{Function: req.Function, Registers: regs}

	case modbus.WriteSingleCoil:
		var exc modbus.ModbusException
		device.Update(func(tx *Tx) {
			if _, existed := tx.GetCoil(req.Address); !existed {
				exc = modbus.IllegalDataAddress
				return
			}
			tx.UpdateCoil(req.Address, req.Value != 0)
			if device.write != nil {
				exc = device.write(tx)
			}
		})
		if exc != 0 {
			return exceptionResponse(req.Function, exc)
		}
		return pdu.Response{Function: req.Function, Address: req.Address, Value: req.Value}

	case modbus.WriteSingleRegister:
		var exc modbus.ModbusException
		device.Update(func(tx *Tx) {
			if _, existed := tx.GetHoldingRegister(req.Address); !existed {
				exc = modbus.IllegalDataAddress
				return
			}
			tx.UpdateHoldingRegister(req.Address, req.Value)
			if device.write != nil {
				exc = device.write(tx)
			}
		})
		if exc != 0 {
			return exceptionResponse(req.Function, exc)
		}
		return pdu.Response{Function: req.Function, Address: req.Address, Value: req.Value}

	case modbus.WriteMultipleCoils:
		var exc modbus.ModbusException
		addrs := req.Range.Addresses()
		device.Update(func(tx *Tx) {
			for _, a := range addrs {
				if _, existed := tx.GetCoil(a); !existed {
					exc = modbus.IllegalDataAddress
					return
				}
			}
			for i, a := range addrs {
				tx.UpdateCoil(a, req.Bits[i])
			}
			if device.write != nil {
				exc = device.write(tx)
			}
		})
		if exc != 0 {
			return exceptionResponse(req.Function, exc)
		}
		return pdu.Response{Function: req.Function, Range: req.Range}

	case modbus.WriteMultipleRegisters:
		var exc modbus.ModbusException
		addrs := req.Range.Addresses()
		device.Update(func(tx *Tx) {
			for _, a := range addrs {
				if _, existed := tx.GetHoldingRegister(a); !existed {
					exc = modbus.IllegalDataAddress
					return
				}
			}
			for i, a := range addrs {
				tx.UpdateHoldingRegister(a, req.Registers[i])
			}
			if device.write != nil {
				exc = device.write(tx)
			}
		})
		if exc != 0 {
			return exceptionResponse(req.Function, exc)
		}
		return pdu.Response{Function: req.Function, Range: req.Range}

	default:
		return exceptionResponse(req.Function, modbus.IllegalFunction)
	}
}

func exceptionResponse(fc modbus.FunctionCode, exc modbus.ModbusException) pdu.Response {
	return pdu.Response{Function: fc.WithException(), IsException: true, Exception: exc}
}
