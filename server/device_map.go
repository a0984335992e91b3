package server

import (
	"sync"

	"github.com/modbuscore/modbus"
)

// DeviceMap owns the set of Device entries keyed by unit id. It is built once
// before a server is started and shared read-only across all sessions; each
// Device guards its own mutation with its own mutex, so the map itself only
// needs to protect the set of keys.
//
// Ref: spec.md Section 4.6 (Device Map & Database)
type DeviceMap struct {
	mu      sync.RWMutex
	devices map[modbus.UnitId]*Device
}

// NewDeviceMap returns an empty device map.
func NewDeviceMap() *DeviceMap {
	return &DeviceMap{devices: make(map[modbus.UnitId]*Device)}
}

// AddDevice registers a device entry for unit, replacing any existing entry.
func (m *DeviceMap) AddDevice(unit modbus.UnitId, device *Device) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.devices[unit] = device
}

// Device returns the entry for unit, or (nil, false) if no entry was added
// for it. The session loop treats a missing entry per the unknown-unit-id
// policy in spec.md Section 4.5.
func (m *DeviceMap) Device(unit modbus.UnitId) (*Device, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.devices[unit]
	return d, ok
}
