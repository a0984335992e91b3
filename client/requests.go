package client

import (
	"context"
	"errors"

	"github.com/modbuscore/modbus"
	"github.com/modbuscore/modbus/pdu"
)

var errBroadcastRead = errors.New("client: read requests cannot target the RTU broadcast unit id")

// ReadCoils reads count coils starting at start from the channel's default
// unit.
func (c *Channel) ReadCoils(ctx context.Context, start, count uint16) ([]bool, error) {
	rng, err := modbus.NewAddressRange(start, count, modbus.MaxReadBitCount)
	if err != nil {
		return nil, modbus.NewError(modbus.BadRequest, err)
	}
	resp, err := c.doRead(ctx, pdu.Request{Function: modbus.ReadCoils, Range: rng})
	if err != nil {
		return nil, err
	}
	return resp.Bits, nil
}

// ReadDiscreteInputs reads count discrete inputs starting at start.
func (c *Channel) ReadDiscreteInputs(ctx context.Context, start, count uint16) ([]bool, error) {
	rng, err := modbus.NewAddressRange(start, count, modbus.MaxReadBitCount)
	if err != nil {
		return nil, modbus.NewError(modbus.BadRequest, err)
	}
	resp, err := c.doRead(ctx, pdu.Request{Function: modbus.ReadDiscreteInputs, Range: rng})
	if err != nil {
		return nil, err
	}
	return resp.Bits, nil
}

// ReadHoldingRegisters reads count holding registers starting at start.
func (c *Channel) ReadHoldingRegisters(ctx context.Context, start, count uint16) ([]uint16, error) {
	rng, err := modbus.NewAddressRange(start, count, modbus.MaxReadRegisterCount)
	if err != nil {
		return nil, modbus.NewError(modbus.BadRequest, err)
	}
	resp, err := c.doRead(ctx, pdu.Request{Function: modbus.ReadHoldingRegisters, Range: rng})
	if err != nil {
		return nil, err
	}
	return resp.Registers, nil
}

// ReadInputRegisters reads count input registers starting at start.
func (c *Channel) ReadInputRegisters(ctx context.Context, start, count uint16) ([]uint16, error) {
	rng, err := modbus.NewAddressRange(start, count, modbus.MaxReadRegisterCount)
	if err != nil {
		return nil, modbus.NewError(modbus.BadRequest, err)
	}
	resp, err := c.doRead(ctx, pdu.Request{Function: modbus.ReadInputRegisters, Range: rng})
	if err != nil {
		return nil, err
	}
	return resp.Registers, nil
}

// doRead rejects reads addressed to the RTU broadcast unit locally, per
// spec.md Section 4.4 ("Read requests with unit id 0 fail locally with
// BadRequest"), then submits the request and awaits a response.
func (c *Channel) doRead(ctx context.Context, req pdu.Request) (pdu.Response, error) {
	if c.IsRTU() && c.defaultUnit == modbus.BroadcastUnitId {
		return pdu.Response{}, modbus.NewError(modbus.BadRequest, errBroadcastRead)
	}
	return c.submit(ctx, c.defaultUnit, req, false)
}

// WriteSingleCoil writes a single coil. On RTU with the broadcast unit id,
// the request is sent but no response is awaited; it completes as soon as
// the bytes are written.
func (c *Channel) WriteSingleCoil(ctx context.Context, address uint16, value bool) error {
	raw := uint16(0x0000)
	if value {
		raw = 0xFF00
	}
	req := pdu.Request{Function: modbus.WriteSingleCoil, Address: address, Value: raw}
	_, err := c.submit(ctx, c.defaultUnit, req, c.isBroadcast())
	return err
}

// WriteSingleRegister writes a single holding register.
func (c *Channel) WriteSingleRegister(ctx context.Context, address uint16, value uint16) error {
	req := pdu.Request{Function: modbus.WriteSingleRegister, Address: address, Value: value}
	_, err := c.submit(ctx, c.defaultUnit, req, c.isBroadcast())
	return err
}

// WriteMultipleCoils writes a contiguous run of coils starting at start.
func (c *Channel) WriteMultipleCoils(ctx context.Context, start uint16, values []bool) error {
	rng, err := modbus.NewAddressRange(start, uint16(len(values)), modbus.MaxWriteBitCount)
	if err != nil {
		return modbus.NewError(modbus.BadRequest, err)
	}
	req := pdu.Request{Function: modbus.WriteMultipleCoils, Range: rng, Bits: values}
	_, err = c.submit(ctx, c.defaultUnit, req, c.isBroadcast())
	return err
}

// WriteMultipleRegisters writes a contiguous run of holding registers
// starting at start.
func (c *Channel) WriteMultipleRegisters(ctx context.Context, start uint16, values []uint16) error {
	rng, err := modbus.NewAddressRange(start, uint16(len(values)), modbus.MaxWriteRegisterCount)
	if err != nil {
		return modbus.NewError(modbus.BadRequest, err)
	}
	req := pdu.Request{Function: modbus.WriteMultipleRegisters, Range: rng, Registers: values}
	_, err = c.submit(ctx, c.defaultUnit, req, c.isBroadcast())
	return err
}

func (c *Channel) isBroadcast() bool {
	return c.IsRTU() && c.defaultUnit == modbus.BroadcastUnitId
}
