package tensor

import "strings"

// Device represents the hardware family a tensor lives on and a kernel runs on.
type Device int

// Supported devices.
const (
	CPU Device = iota
	CUDA
	BANG
	WebGPU
)

// Devices lists every known device in declaration order.
var Devices = []Device{CPU, CUDA, BANG, WebGPU}

// String returns a human-readable device name.
func (d Device) String() string {
	switch d {
	case CPU:
		return "CPU"
	case CUDA:
		return "CUDA"
	case BANG:
		return "BANG"
	case WebGPU:
		return "WebGPU"
	default:
		return "Unknown"
	}
}

// ParseDevice resolves a device name case-insensitively.
func ParseDevice(s string) (Device, bool) {
	for _, d := range Devices {
		if strings.EqualFold(d.String(), s) {
			return d, true
		}
	}
	return 0, false
}
