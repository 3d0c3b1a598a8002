// Package humanize synthesizes statistically human-like timing, typing and
// pointer-movement data. It knows nothing about what action is performed,
// only how long it should take and what path a pointer should follow.
package humanize

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/aquilax/go-perlin"
	"github.com/xkilldash9x/veilcore/internal/config"
	"go.uber.org/zap"
)

// Humanizer holds the statistical configuration and noise sources. All methods
// are safe for use from a single goroutine per instance; the mutex guards the
// shared rng for callers that ignore that advice.
type Humanizer struct {
	mu     sync.Mutex
	cfg    config.HumanizeConfig
	log    *zap.Logger
	rng    *rand.Rand
	noiseX *perlin.Perlin
	noiseY *perlin.Perlin
}

// New creates a Humanizer seeded from the wall clock.
func New(cfg config.HumanizeConfig, logger *zap.Logger) *Humanizer {
	seed := time.Now().UnixNano()
	return NewWithRand(cfg, logger, rand.New(rand.NewSource(seed)), seed)
}

// NewWithRand creates a Humanizer with a caller-supplied rng, for
// deterministic construction in tests. The seed feeds the Perlin noise.
func NewWithRand(cfg config.HumanizeConfig, logger *zap.Logger, rng *rand.Rand, seed int64) *Humanizer {
	// Standard Perlin noise parameters.
	alpha, beta, n := 2.0, 2.0, int32(3)
	return &Humanizer{
		cfg:    cfg,
		log:    logger.Named("humanize"),
		rng:    rng,
		noiseX: perlin.NewPerlin(alpha, beta, n, seed),
		noiseY: perlin.NewPerlin(alpha, beta, n, seed+1),
	}
}

// sample draws one normal variate with the given mean and deviation.
func (h *Humanizer) sample(mean, stdDev float64) float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rng.NormFloat64()*stdDev + mean
}

// sampleClamped draws a normal variate and clamps it to [min, max].
func (h *Humanizer) sampleClamped(mean, stdDev, min, max float64) float64 {
	return math.Max(min, math.Min(max, h.sample(mean, stdDev)))
}

func (h *Humanizer) chance(p float64) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rng.Float64() < p
}

// ActionDelay returns a pause suitable between two coarse user actions.
func (h *Humanizer) ActionDelay() time.Duration {
	ms := h.sampleClamped(
		h.cfg.ActionDelayMean, h.cfg.ActionDelayStdDev,
		h.cfg.ActionDelayMin, h.cfg.ActionDelayMax)
	return time.Duration(math.Round(ms)) * time.Millisecond
}

// ScrollAmount returns a plausible scroll distance in pixels.
func (h *Humanizer) ScrollAmount() int {
	px := h.sample(h.cfg.ScrollAmountMean, h.cfg.ScrollAmountStdDev)
	if px < 40 {
		px = 40
	}
	return int(math.Round(px))
}
