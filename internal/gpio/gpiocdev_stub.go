//go:build !linux

package gpio

import "fmt"

// CDev is unavailable off Linux; Open always fails.
type CDev struct{}

func NewCDev(consumer string, chips ...string) *CDev { return &CDev{} }

func (c *CDev) Open(pin int, mode Mode) (Pin, error) {
	return nil, fmt.Errorf("gpio: character device unsupported on this platform")
}
