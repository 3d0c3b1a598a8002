// File: api/schemas/humanize.go
package schemas

// MousePosition is a 2D pointer coordinate. Pure value, no identity.
type MousePosition struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// ElementBox is the bounding rectangle of an on-page element.
type ElementBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Center returns the geometric center of the box.
func (b ElementBox) Center() MousePosition {
	return MousePosition{X: b.X + b.Width/2.0, Y: b.Y + b.Height/2.0}
}

// TypoSimulation is the derived, non-persisted plan for typing a string with
// injected mistakes. Doubled or transposed characters are corrected by
// backspacing during playback.
type TypoSimulation struct {
	Original       string
	WithTypos      string
	TypoPositions  []int
	BackspaceCount int
}
