// Package gpio claims digital lines and tracks their direction.
//
// Every Pin is a two-state machine (output or input). Switching state is an
// explicit ArmOutput/ArmInput call; Write on an input and Read on an output are
// rejected with ErrWrongMode instead of silently reconfiguring the line.
//
// Pins are not safe for concurrent use.
package gpio

import (
	"errors"
	"fmt"
	"sync"
)

type Mode int

const (
	ModeUnset Mode = iota
	ModeOutput
	ModeInput
)

func (m Mode) String() string {
	switch m {
	case ModeOutput:
		return "output"
	case ModeInput:
		return "input"
	default:
		return "unset"
	}
}

var (
	ErrWrongMode = errors.New("gpio: wrong pin mode")
	ErrClosed    = errors.New("gpio: pin released")
	ErrBusy      = errors.New("gpio: pin already claimed")
)

// Pin is a claimed line.
type Pin interface {
	Number() int
	Mode() Mode
	// ArmOutput switches the line to output and drives level. On a line that is
	// already an output it only drives level.
	ArmOutput(level bool) error
	// ArmInput switches the line to input. No-op on an input.
	ArmInput() error
	Write(level bool) error
	Read() (bool, error)
	// Close releases the claim. Safe to call more than once.
	Close() error
}

// Opener claims lines from a backend.
type Opener interface {
	// Open claims pin in the given mode. Outputs start low.
	Open(pin int, mode Mode) (Pin, error)
}

// lineDriver is what a backend provides for one claimed line.
type lineDriver interface {
	setOutput(level bool) error
	setInput() error
	write(level bool) error
	read() (bool, error)
	release() error
}

type line struct {
	num     int
	mode    Mode
	drv     lineDriver
	closed  bool
	onClose func()
}

func (l *line) Number() int { return l.num }

func (l *line) Mode() Mode { return l.mode }

func (l *line) ArmOutput(level bool) error {
	if l.closed {
		return ErrClosed
	}
	if l.mode == ModeOutput {
		return l.drv.write(level)
	}
	if err := l.drv.setOutput(level); err != nil {
		return fmt.Errorf("gpio%d: arm output: %w", l.num, err)
	}
	l.mode = ModeOutput
	return nil
}

func (l *line) ArmInput() error {
	if l.closed {
		return ErrClosed
	}
	if l.mode == ModeInput {
		return nil
	}
	if err := l.drv.setInput(); err != nil {
		return fmt.Errorf("gpio%d: arm input: %w", l.num, err)
	}
	l.mode = ModeInput
	return nil
}

func (l *line) Write(level bool) error {
	if l.closed {
		return ErrClosed
	}
	if l.mode != ModeOutput {
		return fmt.Errorf("gpio%d: write while %s: %w", l.num, l.mode, ErrWrongMode)
	}
	return l.drv.write(level)
}

func (l *line) Read() (bool, error) {
	if l.closed {
		return false, ErrClosed
	}
	if l.mode != ModeInput {
		return false, fmt.Errorf("gpio%d: read while %s: %w", l.num, l.mode, ErrWrongMode)
	}
	return l.drv.read()
}

func (l *line) Close() error {
	if l.closed {
		return nil
	}
	l.closed = true
	l.mode = ModeUnset
	err := l.drv.release()
	if l.onClose != nil {
		l.onClose()
	}
	return err
}

// claims tracks which pins an Opener has handed out.
type claims struct {
	mu   sync.Mutex
	held map[int]bool
}

func (c *claims) claim(pin int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.held == nil {
		c.held = make(map[int]bool)
	}
	if c.held[pin] {
		return fmt.Errorf("gpio%d: %w", pin, ErrBusy)
	}
	c.held[pin] = true
	return nil
}

func (c *claims) unclaim(pin int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.held, pin)
}

func (c *claims) isHeld(pin int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.held[pin]
}

// openLine claims pin, asks newDriver for a backend line, and arms it.
func (c *claims) openLine(pin int, mode Mode, newDriver func() (lineDriver, error)) (Pin, error) {
	if mode != ModeOutput && mode != ModeInput {
		return nil, fmt.Errorf("gpio%d: cannot open in mode %s", pin, mode)
	}
	if err := c.claim(pin); err != nil {
		return nil, err
	}
	drv, err := newDriver()
	if err != nil {
		c.unclaim(pin)
		return nil, err
	}
	l := &line{num: pin, drv: drv, onClose: func() { c.unclaim(pin) }}
	if mode == ModeOutput {
		err = l.ArmOutput(false)
	} else {
		err = l.ArmInput()
	}
	if err != nil {
		_ = l.Close()
		return nil, err
	}
	return l, nil
}
