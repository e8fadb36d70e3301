package core

// TickClock is the venue's logical clock. The engine advances it from
// each operation's versioned tick; components read it through their own
// Clock interfaces. The engine never calls time.Now() for domain logic.
type TickClock struct {
	tick int64
}

func NewTickClock() *TickClock {
	return &TickClock{}
}

// Now returns the current tick.
func (c *TickClock) Now() int64 {
	return c.tick
}

// Advance moves the clock forward; ticks never go backwards.
func (c *TickClock) Advance(t int64) {
	if t > c.tick {
		c.tick = t
	}
}
