package rover

import (
	"context"
	"errors"
	"time"

	"rovercore/internal/motion"
)

var afterFn = time.After

// Step is one leg of a drive sequence.
type Step struct {
	Speed     int
	Maneuver  motion.Maneuver
	Reversing bool
}

// DemoSequence exercises every crab-walk row at low duty.
var DemoSequence = []Step{
	{Speed: 100, Maneuver: motion.Straight},
	{Speed: 1000, Maneuver: motion.Straight},
	{Speed: 100, Maneuver: motion.Straight, Reversing: true},
	{Speed: 100, Maneuver: motion.TurnLeft},
	{Speed: 100, Maneuver: motion.TurnLeft, Reversing: true},
	{Speed: 100, Maneuver: motion.TurnRight},
	{Speed: 100, Maneuver: motion.TurnRight, Reversing: true},
}

// RunSequence holds each step for hold and stops the wheels when the sequence
// ends, fails or ctx is cancelled.
func (r *Rover) RunSequence(ctx context.Context, steps []Step, hold time.Duration) (err error) {
	defer func() {
		err = errors.Join(err, r.Stop())
	}()
	for _, st := range steps {
		r.log.Info("sequence step", "maneuver", st.Maneuver.String(), "speed", st.Speed, "reversing", st.Reversing)
		if err := r.Move(st.Speed, st.Maneuver, st.Reversing); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-afterFn(hold):
		}
	}
	return nil
}
