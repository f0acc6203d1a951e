//go:build linux

package gpio

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/warthog618/go-gpiocdev"
)

const defaultConsumer = "rovercore"

// CDev claims lines through the Linux GPIO character device. Pins are BCM
// numbers and are looked up by line name ("GPIO18") across the chips.
type CDev struct {
	claims

	chips    []string
	consumer string
}

// NewCDev returns a character-device backend. With no chips given it searches
// /dev/gpiochip0, /dev/gpiochip4 and then every other gpiochip under /dev
// (Pi 5 kernels can expose the header on a different chip).
func NewCDev(consumer string, chips ...string) *CDev {
	if consumer == "" {
		consumer = defaultConsumer
	}
	if len(chips) == 0 {
		chips = candidateChips()
	}
	return &CDev{chips: chips, consumer: consumer}
}

func candidateChips() []string {
	out := []string{"/dev/gpiochip0", "/dev/gpiochip4"}
	entries, _ := os.ReadDir("/dev")
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, "gpiochip") {
			continue
		}
		p := filepath.Join("/dev", name)
		if p != out[0] && p != out[1] {
			out = append(out, p)
		}
	}
	return out
}

func (c *CDev) Open(pin int, mode Mode) (Pin, error) {
	if pin < 0 {
		return nil, fmt.Errorf("gpio: invalid pin %d", pin)
	}
	return c.openLine(pin, mode, func() (lineDriver, error) {
		return c.find(pin)
	})
}

func (c *CDev) find(pin int) (*cdevLine, error) {
	name := fmt.Sprintf("GPIO%d", pin)
	for _, path := range c.chips {
		chip, err := gpiocdev.NewChip(path, gpiocdev.WithConsumer(c.consumer))
		if err != nil {
			continue
		}
		offset, err := chip.FindLine(name)
		if err != nil {
			_ = chip.Close()
			continue
		}
		return &cdevLine{chip: chip, offset: offset, consumer: c.consumer}, nil
	}
	return nil, fmt.Errorf("gpio: line %q not found", name)
}

// cdevLine requests the line on first arm and reconfigures it afterwards.
type cdevLine struct {
	chip     *gpiocdev.Chip
	offset   int
	consumer string
	line     *gpiocdev.Line
}

func (l *cdevLine) configure(req gpiocdev.LineReqOption, cfg gpiocdev.LineConfigOption) error {
	if l.line == nil {
		line, err := l.chip.RequestLine(l.offset, req, gpiocdev.WithConsumer(l.consumer))
		if err != nil {
			return err
		}
		l.line = line
		return nil
	}
	return l.line.Reconfigure(cfg)
}

func (l *cdevLine) setOutput(level bool) error {
	out := gpiocdev.AsOutput(levelInt(level))
	return l.configure(out, out)
}

func (l *cdevLine) setInput() error {
	return l.configure(gpiocdev.AsInput, gpiocdev.AsInput)
}

func (l *cdevLine) write(level bool) error {
	if l.line == nil {
		return fmt.Errorf("gpio: line not requested")
	}
	return l.line.SetValue(levelInt(level))
}

func (l *cdevLine) read() (bool, error) {
	if l.line == nil {
		return false, fmt.Errorf("gpio: line not requested")
	}
	v, err := l.line.Value()
	if err != nil {
		return false, err
	}
	return v != 0, nil
}

func (l *cdevLine) release() error {
	var err error
	if l.line != nil {
		// Leave outputs low on release.
		_ = l.line.SetValue(0)
		err = l.line.Close()
		l.line = nil
	}
	if l.chip != nil {
		_ = l.chip.Close()
		l.chip = nil
	}
	return err
}

func levelInt(level bool) int {
	if level {
		return 1
	}
	return 0
}
