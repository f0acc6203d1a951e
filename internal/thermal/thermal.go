// Package thermal provides ambient temperature sources in Kelvin for
// speed-of-sound compensation.
package thermal

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"rovercore/internal/clock"
)

const celsiusOffsetK = 273.15

// Source reports a temperature in Kelvin.
type Source interface {
	TemperatureK() (float64, error)
}

// Fixed always reports the same temperature.
type Fixed float64

func (f Fixed) TemperatureK() (float64, error) { return float64(f), nil }

// FromCelsius converts a Celsius reading to a Fixed source.
func FromCelsius(c float64) Fixed { return Fixed(c + celsiusOffsetK) }

const DefaultZonePath = "/sys/class/thermal/thermal_zone0/temp"

// Zone reads a Linux thermal zone. On a Pi zone0 is the SoC, which runs well
// above ambient; Offset (K, usually negative) corrects for that.
type Zone struct {
	Path   string
	Offset float64
}

func (z Zone) TemperatureK() (float64, error) {
	path := z.Path
	if path == "" {
		path = DefaultZonePath
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("thermal: read %s: %w", path, err)
	}
	c, err := parseZoneC(string(b))
	if err != nil {
		return 0, err
	}
	return c + celsiusOffsetK + z.Offset, nil
}

// parseZoneC accepts milli-degrees (52345) or, on some kernels, whole
// degrees (52).
func parseZoneC(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("thermal: zone temp empty")
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("thermal: parse zone temp %q: %w", s, err)
	}
	if n > 1000 || n < -1000 {
		return float64(n) / 1000.0, nil
	}
	return float64(n), nil
}

// Cached re-reads the wrapped source at most once per TTL. A failed read is
// not cached.
type Cached struct {
	src   Source
	ttl   time.Duration
	clock clock.Clock

	mu   sync.Mutex
	at   time.Time
	last float64
}

func NewCached(src Source, ttl time.Duration, c clock.Clock) *Cached {
	if c == nil {
		c = clock.System{}
	}
	return &Cached{src: src, ttl: ttl, clock: c}
}

func (c *Cached) TemperatureK() (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.clock.Now()
	if !c.at.IsZero() && now.Sub(c.at) < c.ttl {
		return c.last, nil
	}
	v, err := c.src.TemperatureK()
	if err != nil {
		return 0, err
	}
	c.at, c.last = now, v
	return v, nil
}
