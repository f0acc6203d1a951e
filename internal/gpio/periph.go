package gpio

import (
	"fmt"

	pgpio "periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// Periph claims lines through periph.io's host drivers. Useful on boards
// where the character device is missing or the line names differ.
type Periph struct {
	claims
}

// NewPeriph initializes the periph.io host drivers.
func NewPeriph() (*Periph, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("gpio: periph host init: %w", err)
	}
	return &Periph{}, nil
}

func (p *Periph) Open(pin int, mode Mode) (Pin, error) {
	return p.openLine(pin, mode, func() (lineDriver, error) {
		name := fmt.Sprintf("GPIO%d", pin)
		io := gpioreg.ByName(name)
		if io == nil {
			return nil, fmt.Errorf("gpio: pin %d (%s) not found", pin, name)
		}
		return &periphLine{io: io}, nil
	})
}

type periphLine struct {
	io pgpio.PinIO
}

func (l *periphLine) setOutput(level bool) error {
	return l.io.Out(pgpio.Level(level))
}

func (l *periphLine) setInput() error {
	return l.io.In(pgpio.PullNoChange, pgpio.NoEdge)
}

func (l *periphLine) write(level bool) error {
	return l.io.Out(pgpio.Level(level))
}

func (l *periphLine) read() (bool, error) {
	return l.io.Read() == pgpio.High, nil
}

func (l *periphLine) release() error {
	return l.io.Halt()
}
