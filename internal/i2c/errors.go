package i2c

import "fmt"

// TransportError is returned for any failed bus transfer. The core packages
// never retry; they pass it up unchanged so callers can match it with
// errors.As.
type TransportError struct {
	Addr uint16
	Reg  byte
	Op   string // "read" or "write"
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("i2c %s addr=0x%02X reg=0x%02X: %v", e.Op, e.Addr, e.Reg, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// BusPath returns the character device for a numbered bus, e.g. 1 -> /dev/i2c-1.
func BusPath(n int) string {
	return fmt.Sprintf("/dev/i2c-%d", n)
}
