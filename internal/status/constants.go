// internal/status/constants.go
package status

// Device status block layout, as mirrored to Modbus memory.
// These values define the register protocol and are not configurable.

// ---- BLOCK GEOMETRY ----

// SlotsPerDevice is the fixed number of registers per device status block.
const SlotsPerDevice = 20

// ---- SLOT INDICES ----

// SlotHealthCode holds the device health code.
const SlotHealthCode = 0

// SlotLastErrorCode holds the category code of the last error.
const SlotLastErrorCode = 1

// SlotSecondsInError holds how long (in seconds) the device has been unhealthy.
const SlotSecondsInError = 2

// SlotConnectionState holds the raw connection State.
const SlotConnectionState = 3

// Slots 4..10 are reserved.
const SlotReservedStart = 4
const SlotReservedEnd = 10

// ---- DEVICE NAME ----

// SlotDeviceNameStart is the first register of the device name.
// The name always sits at the end of the block.
const SlotDeviceNameStart = 11

// SlotDeviceNameSlots is the number of registers reserved for the name.
const SlotDeviceNameSlots = 8

// SlotDeviceNameEnd is the last name register (inclusive).
const SlotDeviceNameEnd = SlotDeviceNameStart + SlotDeviceNameSlots - 1

// DeviceNameMaxChars is the maximum number of ASCII characters stored.
const DeviceNameMaxChars = 16

// ---- HEALTH CODES ----

const (
	HealthUnknown  uint16 = 0
	HealthOK       uint16 = 1
	HealthError    uint16 = 2
	HealthStale    uint16 = 3
	HealthDisabled uint16 = 4
)
