//go:build js && wasm

// internal/transport/ports_js.go
package transport

import "errors"

// PortInfo describes a serial port present on the host
type PortInfo struct {
	Name         string `json:"name"`
	IsUSB        bool   `json:"is_usb"`
	VID          string `json:"vid,omitempty"`
	PID          string `json:"pid,omitempty"`
	SerialNumber string `json:"serial_number,omitempty"`
	Product      string `json:"product,omitempty"`
}

// ListPorts is not available in the browser; the page asks the user for a port instead
func ListPorts() ([]PortInfo, error) {
	return nil, errors.New("port listing is not available in the browser")
}
