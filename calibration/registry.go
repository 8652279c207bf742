// Package calibration holds the read-only registry of device identities and
// channel calibrations the publisher attaches to every reading.
package calibration

import (
	"sort"

	"github.com/c360/photgw/errors"
	"github.com/c360/photgw/message"
)

// Entry is everything the publisher needs to know about a device.
type Entry struct {
	Name     string
	MAC      string
	Model    message.Model
	Firmware string
	Channels []message.ChannelCalibration
}

// ChannelCount is the number of channels published for the device.
func (e Entry) ChannelCount() int {
	return len(e.Channels)
}

func (e Entry) clone() Entry {
	e.Channels = append([]message.ChannelCalibration(nil), e.Channels...)
	return e
}

// Registry maps device names to entries. It is built once and never
// modified, so lookups need no locking.
type Registry struct {
	entries map[string]Entry
	names   []string
}

// NewRegistry builds a registry from normalized device configs. Duplicate
// names or MAC addresses are configuration errors.
func NewRegistry(devices []message.DeviceConfig) (*Registry, error) {
	r := &Registry{entries: make(map[string]Entry, len(devices))}
	macs := make(map[string]string, len(devices))

	for _, d := range devices {
		if _, dup := r.entries[d.Name]; dup {
			return nil, errors.Config("calibration", "devices", "device %q configured twice", d.Name)
		}
		if other, dup := macs[d.MAC]; dup {
			return nil, errors.Config("calibration", "devices", "MAC %s used by both %q and %q", d.MAC, other, d.Name)
		}
		if len(d.Calibration) == 0 {
			return nil, errors.Config("calibration", "devices", "device %q has no calibration", d.Name)
		}
		macs[d.MAC] = d.Name

		r.entries[d.Name] = Entry{
			Name:     d.Name,
			MAC:      d.MAC,
			Model:    d.Model,
			Firmware: d.Firmware,
			Channels: append([]message.ChannelCalibration(nil), d.Calibration...),
		}
		r.names = append(r.names, d.Name)
	}

	sort.Strings(r.names)
	return r, nil
}

// Lookup returns a copy of the entry for device. Callers may keep or modify
// the result without affecting the registry.
func (r *Registry) Lookup(device string) (Entry, bool) {
	e, ok := r.entries[device]
	if !ok {
		return Entry{}, false
	}
	return e.clone(), true
}

// Names lists the registered devices in sorted order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.names...)
}

// Len returns the number of registered devices.
func (r *Registry) Len() int {
	return len(r.entries)
}
