package fesd

import (
	"sync/atomic"
)

// Registry holds the devices found by the latest discovery pass. The table is
// swapped as a whole, so readers always see one consistent snapshot.
type Registry struct {
	snapshot atomic.Pointer[registrySnapshot]
}

type registrySnapshot struct {
	order   []string
	devices map[string]Device
}

func NewRegistry() *Registry {
	r := &Registry{}
	r.snapshot.Store(&registrySnapshot{devices: map[string]Device{}})
	return r
}

// Replace installs the devices of a discovery pass. A serial number seen
// twice keeps its first position and the latest record.
func (r *Registry) Replace(devices []Device) {
	next := &registrySnapshot{devices: make(map[string]Device, len(devices))}
	for _, d := range devices {
		if _, ok := next.devices[d.SerialNumber]; !ok {
			next.order = append(next.order, d.SerialNumber)
		}
		next.devices[d.SerialNumber] = d
	}
	r.snapshot.Store(next)
}

func (r *Registry) Devices() []Device {
	s := r.snapshot.Load()
	out := make([]Device, 0, len(s.order))
	for _, serial := range s.order {
		out = append(out, s.devices[serial])
	}
	return out
}

func (r *Registry) Lookup(serial string) (Device, bool) {
	d, ok := r.snapshot.Load().devices[serial]
	return d, ok
}

func (r *Registry) LookupSlot(slot uint16) (Device, bool) {
	s := r.snapshot.Load()
	for _, serial := range s.order {
		if d := s.devices[serial]; d.SlotID == slot {
			return d, true
		}
	}
	return Device{}, false
}

func (r *Registry) Len() int {
	return len(r.snapshot.Load().order)
}
