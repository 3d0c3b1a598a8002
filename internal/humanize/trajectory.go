package humanize

import (
	"context"
	"math"
	"time"

	"github.com/xkilldash9x/veilcore/api/schemas"
)

const (
	minTrajectorySteps = 10
	maxTrajectorySteps = 100
	noiseScale         = 0.02
)

// AimPoint picks a landing coordinate inside the box. The point is Gaussian
// around the center so clicks cluster naturally rather than hitting the exact
// middle every time, clamped to stay within the element.
func (h *Humanizer) AimPoint(box schemas.ElementBox) schemas.MousePosition {
	center := box.Center()
	x := h.sample(center.X, box.Width/6.0)
	y := h.sample(center.Y, box.Height/6.0)
	return schemas.MousePosition{
		X: clampF(x, box.X, box.X+box.Width),
		Y: clampF(y, box.Y, box.Y+box.Height),
	}
}

// MouseTrajectory plots a curved path from start toward end. When box is
// non-nil the final target is a randomized aim point inside it. The path is a
// quadratic Bezier with Perlin drift and Gaussian tremor layered on, and a
// fraction of trajectories overshoot the target before settling.
func (h *Humanizer) MouseTrajectory(start, end schemas.MousePosition, box *schemas.ElementBox) []schemas.MousePosition {
	target := end
	if box != nil {
		target = h.AimPoint(*box)
	}

	dx := target.X - start.X
	dy := target.Y - start.Y
	distance := math.Hypot(dx, dy)
	if distance < 1 {
		return []schemas.MousePosition{start, target}
	}

	speed := h.sample(h.cfg.MouseSpeedMean, h.cfg.MouseSpeedStdDev)
	if speed < 100 {
		speed = 100
	}
	steps := clampI(int(distance/speed*60), minTrajectorySteps, maxTrajectorySteps)

	control := h.controlPoint(start, target, distance)

	points := make([]schemas.MousePosition, 0, steps+maxTrajectorySteps/4)
	for i := 0; i <= steps; i++ {
		t := float64(i) / float64(steps)
		p := bezierQuad(start, control, target, t)

		// Drift and tremor fade near the endpoints so the cursor actually
		// lands where it aimed.
		fade := math.Sin(t * math.Pi)
		h.mu.Lock()
		drift := h.noiseX.Noise1D(t*distance*noiseScale) * h.cfg.WobbleAmplitude * fade
		driftY := h.noiseY.Noise1D(t*distance*noiseScale) * h.cfg.WobbleAmplitude * fade
		h.mu.Unlock()
		p.X += drift + h.sample(0, h.cfg.WobbleAmplitude/4.0)*fade
		p.Y += driftY + h.sample(0, h.cfg.WobbleAmplitude/4.0)*fade

		points = append(points, p)
	}

	if h.chance(h.cfg.OvershootChance) {
		points = append(points, h.overshoot(target, dx, dy, distance)...)
	}

	points = append(points, target)
	return points
}

// controlPoint bows the curve perpendicular to the travel direction by a
// randomized fraction of the distance.
func (h *Humanizer) controlPoint(start, target schemas.MousePosition, distance float64) schemas.MousePosition {
	mid := schemas.MousePosition{
		X: (start.X + target.X) / 2.0,
		Y: (start.Y + target.Y) / 2.0,
	}
	// Perpendicular unit vector.
	px := -(target.Y - start.Y) / distance
	py := (target.X - start.X) / distance
	bow := h.sample(0, distance*0.15)
	return schemas.MousePosition{X: mid.X + px*bow, Y: mid.Y + py*bow}
}

// overshoot extends roughly 10% past the target and eases back.
func (h *Humanizer) overshoot(target schemas.MousePosition, dx, dy, distance float64) []schemas.MousePosition {
	factor := 0.08 + math.Abs(h.sample(0.02, 0.01))
	over := schemas.MousePosition{X: target.X + dx*factor, Y: target.Y + dy*factor}

	var pts []schemas.MousePosition
	const returnSteps = 6
	for i := 1; i <= returnSteps; i++ {
		t := float64(i) / float64(returnSteps)
		if t < 1 {
			pts = append(pts, schemas.MousePosition{
				X: over.X + (target.X-over.X)*easeOut(t),
				Y: over.Y + (target.Y-over.Y)*easeOut(t),
			})
		}
	}
	return append([]schemas.MousePosition{over}, pts...)
}

// MoveAlongTrajectory replays the path through the move primitive with small
// per-point sleeps, honoring cancellation between points.
func (h *Humanizer) MoveAlongTrajectory(ctx context.Context, move schemas.MoveMouseFunc, trajectory []schemas.MousePosition) error {
	for _, p := range trajectory {
		if err := move(ctx, p); err != nil {
			return err
		}
		h.mu.Lock()
		jitter := time.Duration(2+h.rng.Intn(4)) * time.Millisecond
		h.mu.Unlock()
		if err := sleepContext(ctx, jitter); err != nil {
			return err
		}
	}
	return nil
}

func bezierQuad(p0, p1, p2 schemas.MousePosition, t float64) schemas.MousePosition {
	u := 1 - t
	return schemas.MousePosition{
		X: u*u*p0.X + 2*u*t*p1.X + t*t*p2.X,
		Y: u*u*p0.Y + 2*u*t*p1.Y + t*t*p2.Y,
	}
}

func easeOut(t float64) float64 {
	return 1 - (1-t)*(1-t)
}

func clampF(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}

func clampI(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
