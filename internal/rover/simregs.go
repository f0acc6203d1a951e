package rover

import "sync"

// simRegisters is a register file standing in for the PWM controller when
// the rover runs on the simulated GPIO backend.
type simRegisters struct {
	mu   sync.Mutex
	regs [256]byte
}

func (s *simRegisters) ReadRegU8(reg byte) (byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.regs[reg], nil
}

func (s *simRegisters) WriteReg(reg, value byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.regs[reg] = value
	return nil
}
