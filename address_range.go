package modbus

import "fmt"

// AddressRange is a validated, contiguous run of 16-bit addresses.
//
// Construction enforces start+count <= 65536 (Section 4.4 addressing model)
// plus whichever function-specific quantity bound the caller names.
type AddressRange struct {
	Start uint16
	Count uint16
}

// NewAddressRange validates start/count against the 16-bit address space and
// against max, the function-specific upper bound on count (e.g. 2000 for a
// coil read, 125 for a register read).
func NewAddressRange(start, count uint16, max uint16) (AddressRange, error) {
	if count == 0 {
		return AddressRange{}, fmt.Errorf("modbus: quantity must be at least 1")
	}
	if count > max {
		return AddressRange{}, fmt.Errorf("modbus: quantity %d exceeds maximum %d", count, max)
	}
	if uint32(start)+uint32(count) > 65536 {
		return AddressRange{}, fmt.Errorf("modbus: address range [%d, %d) overflows the 16-bit address space", start, uint32(start)+uint32(count))
	}
	return AddressRange{Start: start, Count: count}, nil
}

// End returns the first address past the end of the range.
func (r AddressRange) End() uint32 {
	return uint32(r.Start) + uint32(r.Count)
}

// Contains reports whether addr falls within the range.
func (r AddressRange) Contains(addr uint16) bool {
	return uint32(addr) >= uint32(r.Start) && uint32(addr) < r.End()
}

// Addresses returns an iterator-friendly slice of every address in the
// range, in ascending order. Used by codec and device-map code that needs to
// walk a range one point at a time.
func (r AddressRange) Addresses() []uint16 {
	out := make([]uint16, r.Count)
	for i := range out {
		out[i] = r.Start + uint16(i)
	}
	return out
}

// ByteCount returns the number of bytes needed to pack r.Count bits,
// little-endian within each byte, zero-padded in the last byte.
func (r AddressRange) ByteCount() int {
	return int((r.Count + 7) / 8)
}
