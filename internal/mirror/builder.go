// internal/mirror/builder.go
package mirror

import (
	"errors"
	"time"

	cfg "github.com/tamzrod/pump-monitor/internal/config"
	mmodbus "github.com/tamzrod/pump-monitor/internal/mirror/modbus"
)

// BuildPlan converts the mirror config into a Plan.
// Assumes config has already passed validation.
func BuildPlan(m cfg.MirrorConfig) (Plan, error) {
	if m.Endpoint == "" {
		return Plan{}, errors.New("mirror: endpoint required")
	}

	plan := Plan{
		Endpoint:   m.Endpoint,
		UnitID:     m.UnitID,
		StatusBase: m.StatusBase,
	}
	for _, d := range m.Devices {
		plan.Devices = append(plan.Devices, DeviceTarget{
			Source:       d.Source,
			Name:         d.Name,
			ValueAddress: d.ValueAddress,
			StatusSlot:   d.StatusSlot,
		})
	}
	return plan, nil
}

// BuildEndpointClient creates the Modbus TCP client for the plan endpoint.
func BuildEndpointClient(m cfg.MirrorConfig) (*mmodbus.EndpointClient, error) {
	return mmodbus.NewEndpointClient(mmodbus.Config{
		Endpoint: m.Endpoint,
		Timeout:  time.Duration(m.TimeoutMs) * time.Millisecond,
	})
}

// Target returns the device target for source.
func (p Plan) Target(source string) (DeviceTarget, bool) {
	for _, d := range p.Devices {
		if d.Source == source {
			return d, true
		}
	}
	return DeviceTarget{}, false
}
