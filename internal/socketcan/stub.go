//go:build !linux

package socketcan

import "errors"

// Device is unavailable off Linux.
type Device struct{}

// Open always fails off Linux.
func Open(iface string) (*Device, error) {
	return nil, errors.New("socketcan unsupported on this platform")
}

func (d *Device) Close() error { return nil }
