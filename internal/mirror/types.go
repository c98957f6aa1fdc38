// internal/mirror/types.go
package mirror

// DeviceTarget places one device in the mirror's holding registers.
type DeviceTarget struct {
	Source string // poller source name ("fms", "mks")
	Name   string // stored in the status block, max 16 ASCII chars

	// ValueAddress is the first register of the values, two per channel.
	ValueAddress uint16

	// StatusSlot selects the status block: StatusBase + StatusSlot*SlotsPerDevice.
	StatusSlot uint16
}

// Plan is the fully-built mirror layout on one Modbus memory server.
type Plan struct {
	Endpoint   string
	UnitID     uint8
	StatusBase uint16
	Devices    []DeviceTarget
}

// endpointClient is the exact contract the mirror uses.
// *modbus.EndpointClient satisfies it.
type endpointClient interface {
	WriteRegisters(unitID uint8, addr uint16, regs []uint16) error
}
