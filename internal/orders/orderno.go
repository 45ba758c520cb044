package orders

import (
	"fmt"
	"math/rand/v2"
	"time"
)

// RandSource is satisfied by *rand.Rand from math/rand/v2.
type RandSource interface {
	IntN(n int) int
}

type globalRand struct{}

func (globalRand) IntN(n int) int { return rand.IntN(n) }

const (
	orderNoLayout = "20060102150405"
	suffixDigits  = 6
	suffixSpace   = 1_000_000
)

// NumberGenerator builds order numbers as a UTC timestamp followed by a
// fixed-width random suffix, e.g. 20260301120000042517.
type NumberGenerator struct {
	Now  func() time.Time
	Rand RandSource
}

func NewNumberGenerator(now func() time.Time, r RandSource) *NumberGenerator {
	if now == nil {
		now = time.Now
	}
	if r == nil {
		r = globalRand{}
	}
	return &NumberGenerator{Now: now, Rand: r}
}

func (g *NumberGenerator) Next() string {
	return fmt.Sprintf("%s%0*d", g.Now().UTC().Format(orderNoLayout), suffixDigits, g.Rand.IntN(suffixSpace))
}
