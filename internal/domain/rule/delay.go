package rule

import (
	"math"
	"math/rand"
	"time"
)

// DelayComputer turns a DelayPattern into a concrete duration. It owns a
// private PRNG so delay jitter can be made deterministic under replay by
// constructing it with a fixed seed.
type DelayComputer struct {
	rng *rand.Rand
}

// NewDelayComputer creates a DelayComputer seeded with seed. Replay passes
// a fixed seed so Jittered/Uniform delays reproduce identically across runs.
func NewDelayComputer(seed int64) *DelayComputer {
	return &DelayComputer{rng: rand.New(rand.NewSource(seed))}
}

// Compute returns the duration a Delay action should sleep for, given the
// frame's MatchContext (used only by DelayConditional).
func (d *DelayComputer) Compute(p DelayPattern, mc MatchContext) time.Duration {
	switch p.Kind {
	case DelayFixed:
		return p.Fixed
	case DelayUniform:
		span := p.Max - p.Min
		if span <= 0 {
			return p.Min
		}
		return p.Min + time.Duration(d.rng.Int63n(int64(span)))
	case DelayExponential:
		attempts := p.MaxAttempts
		if attempts < 1 {
			attempts = 1
		}
		factor := p.Factor
		if factor <= 0 {
			factor = 2
		}
		backoff := float64(p.Base) * math.Pow(factor, float64(attempts-1))
		return time.Duration(backoff)
	case DelayJittered:
		jitter := p.JitterPercent
		if jitter < 0 {
			jitter = 0
		}
		if jitter > 1 {
			jitter = 1
		}
		base := float64(p.Base)
		spread := base * jitter
		offset := (d.rng.Float64()*2 - 1) * spread
		result := base + offset
		if result < 0 {
			result = 0
		}
		return time.Duration(result)
	case DelayConditional:
		res, ok := ResolveJSONPath(mc.Body, p.JSONPath)
		if ok && res.Bool() {
			return p.TrueDuration
		}
		return p.FalseDur
	default:
		return 0
	}
}
