package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeviceAddUpdateReturnValues(t *testing.T) {
	d := NewDevice(nil)

	var addedFirst, addedSecond, updatedExisting, updatedMissing bool
	d.Update(func(tx *Tx) {
		addedFirst = tx.AddCoil(10, true)
		addedSecond = tx.AddCoil(10, false) // already exists, value untouched
		updatedExisting = tx.UpdateCoil(10, false)
		updatedMissing = tx.UpdateCoil(99, true)
	})

	assert.True(t, addedFirst)
	assert.False(t, addedSecond)
	assert.True(t, updatedExisting)
	assert.False(t, updatedMissing) // created address 99 as a side effect, but it didn't previously exist

	var value bool
	var ok bool
	d.Update(func(tx *Tx) {
		value, ok = tx.GetCoil(10)
	})
	assert.True(t, ok)
	assert.False(t, value) // AddCoil(10, false) was a no-op (value stayed true); UpdateCoil(10, false) then set it to false
}

func TestDeviceUndefinedAddressRangeReadFails(t *testing.T) {
	d := NewDevice(nil)
	d.Update(func(tx *Tx) {
		tx.AddHoldingRegister(0, 10)
		tx.AddHoldingRegister(1, 20)
		// address 2 intentionally left undefined
	})

	_, ok := d.readHoldingRegisterRange([]uint16{0, 1, 2})
	assert.False(t, ok)

	values, ok := d.readHoldingRegisterRange([]uint16{0, 1})
	assert.True(t, ok)
	assert.Equal(t, []uint16{10, 20}, values)
}

func TestDeviceRemove(t *testing.T) {
	d := NewDevice(nil)
	var existed, existedAfterRemove bool
	d.Update(func(tx *Tx) {
		tx.AddDiscreteInput(5, true)
		existed = tx.RemoveDiscreteInput(5)
		existedAfterRemove = tx.RemoveDiscreteInput(5)
	})
	assert.True(t, existed)
	assert.False(t, existedAfterRemove)
}
