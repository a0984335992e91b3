package server

import (
	"sync"

	"github.com/modbuscore/modbus"
	"github.com/modbuscore/modbus/pdu"
)

// Device is one unit id's point storage: four ordered maps holding only the
// addresses that have been explicitly added. Reading or writing an address
// that was never added is reported by the caller as IllegalDataAddress; the
// map itself never fabricates a zero value for a missing key.
//
// Ref: server/memory_store.go in the pack's Modbus teacher, reworked so that
// undefined addresses are visibly absent rather than defaulting to
// false/0 (per spec.md Section 3: "Only explicitly added addresses exist;
// reading/writing an undefined address yields IllegalDataAddress.")
type Device struct {
	mu sync.Mutex

	coils            map[uint16]bool
	discreteInputs   map[uint16]bool
	holdingRegisters map[uint16]uint16
	inputRegisters   map[uint16]uint16

	// write is invoked inside the transaction for every write-class
	// request after the update has been applied to the maps above, giving
	// callers a hook to reject a write with a Modbus exception.
	write WriteHandler

	identity Identity
}

// Identity is the basic device identification exposed through the
// ReadDeviceIdentification extension (function code 0x2B/0x0E). Only the
// three mandatory "basic" objects are modeled; regular/extended streams are
// not.
type Identity struct {
	VendorName  string
	ProductCode string
	Revision    string
}

// WriteHandler lets an embedder veto or react to an update. Returning a
// non-zero ModbusException rejects the write; the maps are not rolled back
// automatically, so handlers that need atomicity should validate before
// calling Tx's Update* methods rather than after.
type WriteHandler func(tx *Tx) modbus.ModbusException

// NewDevice creates an empty device entry. handler may be nil, meaning every
// write succeeds unconditionally.
func NewDevice(handler WriteHandler) *Device {
	return &Device{
		coils:            make(map[uint16]bool),
		discreteInputs:   make(map[uint16]bool),
		holdingRegisters: make(map[uint16]uint16),
		inputRegisters:   make(map[uint16]uint16),
		write:            handler,
	}
}

// SetIdentity configures the basic device identification objects returned by
// ReadDeviceIdentification. The zero value yields empty strings.
func (d *Device) SetIdentity(id Identity) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.identity = id
}

// Tx is the callback-style transaction handle passed to update_database-style
// callers. Only one Tx per Device may be open at a time; the Device's mutex
// is held for the transaction's entire duration.
//
// Ref: spec.md Section 4.6 ("A transaction is a callback-style operation ...
// update_*/add_*/get_*/remove_*")
type Tx struct {
	d *Device
}

// Update runs fn with exclusive access to the device entry. It is the only
// way to mutate or read a Device outside of the snapshot helpers below.
func (d *Device) Update(fn func(tx *Tx)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fn(&Tx{d: d})
}

// GetCoil returns the coil's value and whether it was defined.
func (tx *Tx) GetCoil(addr uint16) (bool, bool) {
	v, ok := tx.d.coils[addr]
	return v, ok
}

// AddCoil defines addr if absent, leaving any existing value untouched.
// Returns true iff the address was newly added.
func (tx *Tx) AddCoil(addr uint16, value bool) bool {
	if _, exists := tx.d.coils[addr]; exists {
		return false
	}
	tx.d.coils[addr] = value
	return true
}

// UpdateCoil overwrites addr's value. Returns true iff the address was
// already defined.
func (tx *Tx) UpdateCoil(addr uint16, value bool) bool {
	_, existed := tx.d.coils[addr]
	tx.d.coils[addr] = value
	return existed
}

// RemoveCoil deletes addr. Returns true iff it had been defined.
func (tx *Tx) RemoveCoil(addr uint16) bool {
	_, existed := tx.d.coils[addr]
	delete(tx.d.coils, addr)
	return existed
}

func (tx *Tx) GetDiscreteInput(addr uint16) (bool, bool) {
	v, ok := tx.d.discreteInputs[addr]
	return v, ok
}

func (tx *Tx) AddDiscreteInput(addr uint16, value bool) bool {
	if _, exists := tx.d.discreteInputs[addr]; exists {
		return false
	}
	tx.d.discreteInputs[addr] = value
	return true
}

func (tx *Tx) UpdateDiscreteInput(addr uint16, value bool) bool {
	_, existed := tx.d.discreteInputs[addr]
	tx.d.discreteInputs[addr] = value
	return existed
}

func (tx *Tx) RemoveDiscreteInput(addr uint16) bool {
	_, existed := tx.d.discreteInputs[addr]
	delete(tx.d.discreteInputs, addr)
	return existed
}

func (tx *Tx) GetHoldingRegister(addr uint16) (uint16, bool) {
	v, ok := tx.d.holdingRegisters[addr]
	return v, ok
}

func (tx *Tx) AddHoldingRegister(addr uint16, value uint16) bool {
	if _, exists := tx.d.holdingRegisters[addr]; exists {
		return false
	}
	tx.d.holdingRegisters[addr] = value
	return true
}

func (tx *Tx) UpdateHoldingRegister(addr uint16, value uint16) bool {
	_, existed := tx.d.holdingRegisters[addr]
	tx.d.holdingRegisters[addr] = value
	return existed
}

func (tx *Tx) RemoveHoldingRegister(addr uint16) bool {
	_, existed := tx.d.holdingRegisters[addr]
	delete(tx.d.holdingRegisters, addr)
	return existed
}

func (tx *Tx) GetInputRegister(addr uint16) (uint16, bool) {
	v, ok := tx.d.inputRegisters[addr]
	return v, ok
}

func (tx *Tx) AddInputRegister(addr uint16, value uint16) bool {
	if _, exists := tx.d.inputRegisters[addr]; exists {
		return false
	}
	tx.d.inputRegisters[addr] = value
	return true
}

func (tx *Tx) UpdateInputRegister(addr uint16, value uint16) bool {
	_, existed := tx.d.inputRegisters[addr]
	tx.d.inputRegisters[addr] = value
	return existed
}

func (tx *Tx) RemoveInputRegister(addr uint16) bool {
	_, existed := tx.d.inputRegisters[addr]
	delete(tx.d.inputRegisters, addr)
	return existed
}

// readCoilRange and its three siblings below snapshot a contiguous address
// range for a read response. ok is false the moment any address in the range
// is undefined, per the IllegalDataAddress invariant; the partially built
// slice is discarded by the caller in that case.
func (d *Device) readCoilRange(addrs []uint16) ([]bool, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]bool, len(addrs))
	for i, a := range addrs {
		v, ok := d.coils[a]
		if !ok {
			return nil, false
		}
		out[i] = v
	}
	return out, true
}

func (d *Device) readDiscreteInputRange(addrs []uint16) ([]bool, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]bool, len(addrs))
	for i, a := range addrs {
		v, ok := d.discreteInputs[a]
		if !ok {
			return nil, false
		}
		out[i] = v
	}
	return out, true
}

func (d *Device) readHoldingRegisterRange(addrs []uint16) ([]uint16, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]uint16, len(addrs))
	for i, a := range addrs {
		v, ok := d.holdingRegisters[a]
		if !ok {
			return nil, false
		}
		out[i] = v
	}
	return out, true
}

func (d *Device) readInputRegisterRange(addrs []uint16) ([]uint16, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]uint16, len(addrs))
	for i, a := range addrs {
		v, ok := d.inputRegisters[a]
		if !ok {
			return nil, false
		}
		out[i] = v
	}
	return out, true
}

// readWriteMultipleRegisters performs the 0x17 extension's write-then-read
// sequence as one atomic update: every write address must already exist (or
// the whole call fails with IllegalDataAddress, mirroring WriteMultipleRegisters
// above), then the read range is snapshotted, even when it overlaps the
// addresses just written.
//
// Ref: Modbus_Application_Protocol_V1_1b3.pdf, Section 6.17
func (d *Device) readWriteMultipleRegisters(writeAddrs, writeValues, readAddrs []uint16) ([]uint16, modbus.ModbusException) {
	var exc modbus.ModbusException
	var out []uint16
	d.Update(func(tx *Tx) {
		for _, a := range writeAddrs {
			if _, existed := tx.GetHoldingRegister(a); !existed {
				exc = modbus.IllegalDataAddress
				return
			}
		}
		for i, a := range writeAddrs {
			tx.UpdateHoldingRegister(a, writeValues[i])
		}
		if d.write != nil {
			if e := d.write(tx); e != 0 {
				exc = e
				return
			}
		}
		out = make([]uint16, len(readAddrs))
		for i, a := range readAddrs {
			v, ok := tx.GetHoldingRegister(a)
			if !ok {
				exc = modbus.IllegalDataAddress
				return
			}
			out[i] = v
		}
	})
	return out, exc
}

// readDeviceIdentification answers the 0x2B/0x0E extension for the basic
// identification stream (ReadDeviceIDCode 0x01) and individual object access
// (0x04); regular/extended streams (0x02/0x03) are rejected with
// IllegalDataValue rather than modeled, since this device only carries the
// three mandatory basic objects.
func (d *Device) readDeviceIdentification(req pdu.DeviceIdentificationRequest) (pdu.DeviceIdentificationResponse, modbus.ModbusException) {
	d.mu.Lock()
	id := d.identity
	d.mu.Unlock()

	basic := []pdu.DeviceIdentificationObject{
		{ID: pdu.DeviceIDVendorName, Value: id.VendorName},
		{ID: pdu.DeviceIDProductCode, Value: id.ProductCode},
		{ID: pdu.DeviceIDMajorMinorRevision, Value: id.Revision},
	}

	switch req.Code {
	case 0x01:
		return pdu.DeviceIdentificationResponse{ReadDeviceIDCode: req.Code, ConformityLevel: 0x01, Objects: basic}, 0

	case 0x04:
		for _, obj := range basic {
			if obj.ID == req.ObjectID {
				return pdu.DeviceIdentificationResponse{
					ReadDeviceIDCode: req.Code,
					ConformityLevel:  0x01,
					Objects:          []pdu.DeviceIdentificationObject{obj},
				}, 0
			}
		}
		return pdu.DeviceIdentificationResponse{}, modbus.IllegalDataAddress

	default:
		return pdu.DeviceIdentificationResponse{}, modbus.IllegalDataValue
	}
}
