//go:build !windows

package device

// NewWebGPU is only available on windows builds.
func NewWebGPU(...Option) (Context, error) {
	return nil, ErrDeviceUnavailable
}
