package alerts

import (
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dj-oyu/street-safety-monitor/internal/config"
)

// Policy evaluates the three alert rules. Apart from timestamps, IDs and
// location labels its output depends only on its inputs.
type Policy struct {
	cfg config.Policy

	mu    sync.Mutex
	now   func() time.Time
	rng   *rand.Rand
	newID func() uuid.UUID
}

// Option customizes a Policy.
type Option func(*Policy)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(p *Policy) { p.now = now }
}

// WithRand overrides the random source used for location labels.
func WithRand(rng *rand.Rand) Option {
	return func(p *Policy) { p.rng = rng }
}

// WithIDs overrides alert ID generation.
func WithIDs(newID func() uuid.UUID) Option {
	return func(p *Policy) { p.newID = newID }
}

// NewPolicy builds a policy from cfg.
func NewPolicy(cfg config.Policy, opts ...Option) *Policy {
	p := &Policy{
		cfg:   cfg,
		now:   time.Now,
		rng:   rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x5afe)),
		newID: uuid.New,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Config returns the rule constants in use.
func (p *Policy) Config() config.Policy { return p.cfg }

// Evaluate returns the alerts raised for one frame, in rule order:
// following pattern, rapid movement, person alone.
func (p *Policy) Evaluate(frameIndex, count int, motion float64) []Alert {
	var out []Alert

	if frameIndex%p.cfg.FollowingEvery == 0 && count >= p.cfg.FollowingMinCount {
		out = append(out, p.newAlert(frameIndex, TypeFollowing, LevelMedium,
			"Multiple people detected close together", p.cfg.FollowingConfidence))
	}
	if p.cfg.IsRapid(motion) {
		out = append(out, p.newAlert(frameIndex, TypeRapid, LevelHigh,
			"Sudden rapid movement detected", p.cfg.RapidConfidence))
	}
	if frameIndex%p.cfg.AloneEvery == 0 && count == 1 {
		out = append(out, p.newAlert(frameIndex, TypePersonAlone, LevelLow,
			"Single person detected", p.cfg.AloneConfidence))
	}
	return out
}

func (p *Policy) newAlert(frameIndex int, typ Type, level Level, msg string, confidence int) Alert {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := p.cfg.LocationMin + p.rng.IntN(p.cfg.LocationMax-p.cfg.LocationMin+1)
	return Alert{
		ID:         p.newID(),
		Type:       typ,
		Level:      level,
		Message:    msg,
		Confidence: confidence,
		Timestamp:  p.now(),
		Location:   fmt.Sprintf("%s %d", p.cfg.LocationPrefix, n),
		FrameIndex: frameIndex,
	}
}
