package device

import "context"

// DeviceInfo identifies one reachable peripheral.
type DeviceInfo struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Address string `json:"address"`
}

// Conn is one established link to a peripheral. Close must unblock any
// in-flight ReadLine, which then returns an error.
type Conn interface {
	// ReadLine blocks until the next newline-terminated frame arrives.
	ReadLine(ctx context.Context) (string, error)
	// WriteLine sends one newline-terminated frame.
	WriteLine(ctx context.Context, line string) error
	Close() error
}

// Transport dials peripherals. The host environment supplies the real
// implementation (BLE serial, TCP bridge); tests and solo mode use the
// simulated one in internal/sim.
type Transport interface {
	Dial(ctx context.Context, target DeviceInfo) (Conn, error)
}

// Discoverer is an optional capability of a Transport that can scan for
// nearby peripherals.
type Discoverer interface {
	Discover(ctx context.Context) ([]DeviceInfo, error)
}
