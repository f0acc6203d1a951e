package gpio

import "sync"

// SimEvent is one recorded operation on a simulated line.
type SimEvent struct {
	Pin   int
	Op    string // "output", "input", "write", "release"
	Level bool
}

// Sim is an in-memory backend for dry runs and tests. Inputs read false
// unless a level function is installed with SetInput.
type Sim struct {
	claims

	mu       sync.Mutex
	levels   map[int]bool
	modes    map[int]Mode
	inputs   map[int]func() bool
	readErrs map[int]error
	events   []SimEvent
}

func NewSim() *Sim {
	return &Sim{
		levels:   make(map[int]bool),
		modes:    make(map[int]Mode),
		inputs:   make(map[int]func() bool),
		readErrs: make(map[int]error),
	}
}

func (s *Sim) Open(pin int, mode Mode) (Pin, error) {
	return s.openLine(pin, mode, func() (lineDriver, error) {
		return &simLine{sim: s, pin: pin}, nil
	})
}

// SetInput installs the level source sampled by Read on pin.
func (s *Sim) SetInput(pin int, fn func() bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inputs[pin] = fn
}

// SetReadError makes every Read on pin fail with err (nil clears it).
func (s *Sim) SetReadError(pin int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.readErrs, pin)
		return
	}
	s.readErrs[pin] = err
}

// Level is the last level driven on pin.
func (s *Sim) Level(pin int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.levels[pin]
}

// Mode is the current direction of pin as seen by the backend.
func (s *Sim) Mode(pin int) Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.modes[pin]
}

func (s *Sim) Claimed(pin int) bool { return s.isHeld(pin) }

func (s *Sim) Events() []SimEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]SimEvent(nil), s.events...)
}

func (s *Sim) record(ev SimEvent) {
	s.events = append(s.events, ev)
}

type simLine struct {
	sim *Sim
	pin int
}

func (l *simLine) setOutput(level bool) error {
	s := l.sim
	s.mu.Lock()
	defer s.mu.Unlock()
	s.modes[l.pin] = ModeOutput
	s.levels[l.pin] = level
	s.record(SimEvent{Pin: l.pin, Op: "output", Level: level})
	return nil
}

func (l *simLine) setInput() error {
	s := l.sim
	s.mu.Lock()
	defer s.mu.Unlock()
	s.modes[l.pin] = ModeInput
	s.record(SimEvent{Pin: l.pin, Op: "input"})
	return nil
}

func (l *simLine) write(level bool) error {
	s := l.sim
	s.mu.Lock()
	defer s.mu.Unlock()
	s.levels[l.pin] = level
	s.record(SimEvent{Pin: l.pin, Op: "write", Level: level})
	return nil
}

func (l *simLine) read() (bool, error) {
	s := l.sim
	s.mu.Lock()
	fn := s.inputs[l.pin]
	err := s.readErrs[l.pin]
	s.mu.Unlock()
	if err != nil {
		return false, err
	}
	if fn == nil {
		return false, nil
	}
	return fn(), nil
}

func (l *simLine) release() error {
	s := l.sim
	s.mu.Lock()
	defer s.mu.Unlock()
	s.modes[l.pin] = ModeUnset
	s.record(SimEvent{Pin: l.pin, Op: "release"})
	return nil
}
