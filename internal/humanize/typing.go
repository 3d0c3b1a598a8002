package humanize

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode"

	"github.com/xkilldash9x/veilcore/api/schemas"
)

// keyboardNeighbors maps each key to its physical QWERTY neighbors, used for
// both adjacent-key substitution typos and insertion noise.
var keyboardNeighbors = map[rune]string{
	'1': "2q`", '2': "13wq", '3': "24we", '4': "35er", '5': "46rt", '6': "57ty",
	'7': "68yu", '8': "79ui", '9': "80io", '0': "9-op",
	'q': "wa1s", 'w': "qase23", 'e': "wsdr34", 'r': "edft45", 't': "rfgy56",
	'y': "tghu67", 'u': "yhji78", 'i': "ujko89", 'o': "iklp90", 'p': "ol;0-",
	'a': "qwsz", 's': "awedxz", 'd': "serfcx", 'f': "drtgvc", 'g': "ftyhbv",
	'h': "gyujnb", 'j': "huikmn", 'k': "jiol,m", 'l': "kop;.",
	'z': "asx", 'x': "zsdc", 'c': "xdfv", 'v': "cfgb", 'b': "vghn", 'n': "bhjm", 'm': "njk,",
}

// isPauseTrigger reports whether the previous character invites a thinking
// pause: word and sentence boundaries are where humans hesitate.
func isPauseTrigger(r rune) bool {
	return unicode.IsSpace(r) || strings.ContainsRune(".!?", r)
}

// TypingPattern returns one inter-key delay per character of text. Delays are
// Gaussian, clamped, and occasionally stretched by a thinking pause with an
// elevated chance right after a space or terminal punctuation.
func (h *Humanizer) TypingPattern(text string) []time.Duration {
	runes := []rune(text)
	delays := make([]time.Duration, len(runes))
	for i := range runes {
		ms := h.sampleClamped(
			h.cfg.TypingDelayMean, h.cfg.TypingDelayStdDev,
			h.cfg.TypingDelayMin, h.cfg.TypingDelayMax)

		pauseChance := h.cfg.ThinkingPauseChance / 3.0
		if i > 0 && isPauseTrigger(runes[i-1]) {
			pauseChance = h.cfg.ThinkingPauseChance
		}
		if h.chance(pauseChance) {
			pause := h.sample(h.cfg.ThinkingPauseMean, h.cfg.ThinkingPauseStdDev)
			if pause > 0 {
				ms += pause
			}
		}

		delays[i] = time.Duration(math.Round(ms)) * time.Millisecond
	}
	return delays
}

// SimulateTypos derives a typing plan with injected mistakes. Each character
// independently suffers a typo with the configured rate; the mistake is one of
// adjacent-key substitution, character doubling, or transposition with the
// next character. BackspaceCount tallies the corrective backspaces playback
// will need (1 for doubling and substitution, 2 for a transposed pair).
func (h *Humanizer) SimulateTypos(text string) schemas.TypoSimulation {
	runes := []rune(text)
	var out []rune
	sim := schemas.TypoSimulation{Original: text}

	for i := 0; i < len(runes); i++ {
		ch := runes[i]
		if !h.chance(h.cfg.TypoRate) {
			out = append(out, ch)
			continue
		}

		switch h.pickTypoKind(ch, i, runes) {
		case typoDouble:
			out = append(out, ch, ch)
			sim.TypoPositions = append(sim.TypoPositions, i)
			sim.BackspaceCount++
		case typoTranspose:
			out = append(out, runes[i+1], ch)
			sim.TypoPositions = append(sim.TypoPositions, i)
			sim.BackspaceCount += 2
			i++ // The pair is consumed together.
		case typoSubstitute:
			out = append(out, h.neighborOf(ch))
			sim.TypoPositions = append(sim.TypoPositions, i)
			sim.BackspaceCount++
		default:
			out = append(out, ch)
		}
	}

	sim.WithTypos = string(out)
	return sim
}

type typoKind int

const (
	typoNone typoKind = iota
	typoDouble
	typoTranspose
	typoSubstitute
)

// pickTypoKind chooses a feasible mistake for the character at index i.
func (h *Humanizer) pickTypoKind(ch rune, i int, runes []rune) typoKind {
	canTranspose := i+1 < len(runes) && !unicode.IsSpace(ch) && !unicode.IsSpace(runes[i+1])
	_, canSubstitute := keyboardNeighbors[unicode.ToLower(ch)]

	h.mu.Lock()
	roll := h.rng.Intn(3)
	h.mu.Unlock()

	switch roll {
	case 0:
		return typoDouble
	case 1:
		if canTranspose {
			return typoTranspose
		}
		return typoDouble
	default:
		if canSubstitute {
			return typoSubstitute
		}
		return typoDouble
	}
}

// neighborOf returns a random adjacent key, preserving case most of the time.
func (h *Humanizer) neighborOf(ch rune) rune {
	lower := unicode.ToLower(ch)
	neighbors, ok := keyboardNeighbors[lower]
	if !ok || len(neighbors) == 0 {
		return ch
	}
	h.mu.Lock()
	typo := rune(neighbors[h.rng.Intn(len(neighbors))])
	preserveCase := h.rng.Float64() < 0.8
	h.mu.Unlock()
	if unicode.IsUpper(ch) && preserveCase {
		typo = unicode.ToUpper(typo)
	}
	return typo
}

// TypeHumanLike emits text through the caller-supplied primitives with
// generated inter-key delays. When includeTypos is set, injected mistakes are
// typed and then corrected with backspaces, like a person noticing the error.
func (h *Humanizer) TypeHumanLike(ctx context.Context, typeChar schemas.TypeCharFunc, backspace schemas.BackspaceFunc, text string, includeTypos bool) error {
	runes := []rune(text)

	for i := 0; i < len(runes); i++ {
		if err := h.pauseBetweenKeys(ctx, runes, i); err != nil {
			return err
		}

		ch := runes[i]
		if !includeTypos || !h.chance(h.cfg.TypoRate) {
			if err := typeChar(ctx, ch); err != nil {
				return fmt.Errorf("humanize: type %q: %w", ch, err)
			}
			continue
		}

		advanced, err := h.playTypo(ctx, typeChar, backspace, runes, i)
		if err != nil {
			return err
		}
		if advanced {
			i++
		}
	}
	return nil
}

// playTypo types one mistaken sequence and its correction. Returns whether the
// following character was consumed (transposition).
func (h *Humanizer) playTypo(ctx context.Context, typeChar schemas.TypeCharFunc, backspace schemas.BackspaceFunc, runes []rune, i int) (bool, error) {
	ch := runes[i]
	kind := h.pickTypoKind(ch, i, runes)

	emit := func(r rune) error {
		if err := typeChar(ctx, r); err != nil {
			return fmt.Errorf("humanize: type %q: %w", r, err)
		}
		return nil
	}
	correct := func(n int) error {
		// Recognition pause before the correction, then backspaces.
		if err := h.recognitionPause(ctx); err != nil {
			return err
		}
		for k := 0; k < n; k++ {
			if err := backspace(ctx); err != nil {
				return fmt.Errorf("humanize: backspace: %w", err)
			}
			if err := h.pauseBetweenKeys(ctx, nil, 0); err != nil {
				return err
			}
		}
		return nil
	}

	switch kind {
	case typoTranspose:
		next := runes[i+1]
		if err := emit(next); err != nil {
			return false, err
		}
		if err := h.pauseBetweenKeys(ctx, nil, 0); err != nil {
			return true, err
		}
		if err := emit(ch); err != nil {
			return true, err
		}
		if err := correct(2); err != nil {
			return true, err
		}
		if err := emit(ch); err != nil {
			return true, err
		}
		if err := h.pauseBetweenKeys(ctx, nil, 0); err != nil {
			return true, err
		}
		return true, emit(next)

	case typoSubstitute:
		if err := emit(h.neighborOf(ch)); err != nil {
			return false, err
		}
		if err := correct(1); err != nil {
			return false, err
		}
		return false, emit(ch)

	default: // doubling
		if err := emit(ch); err != nil {
			return false, err
		}
		if err := h.pauseBetweenKeys(ctx, nil, 0); err != nil {
			return false, err
		}
		if err := emit(ch); err != nil {
			return false, err
		}
		if err := correct(1); err != nil {
			return false, err
		}
		return false, nil
	}
}

// pauseBetweenKeys sleeps one sampled inter-key delay, context-aware.
func (h *Humanizer) pauseBetweenKeys(ctx context.Context, runes []rune, i int) error {
	ms := h.sampleClamped(
		h.cfg.TypingDelayMean, h.cfg.TypingDelayStdDev,
		h.cfg.TypingDelayMin, h.cfg.TypingDelayMax)

	pauseChance := h.cfg.ThinkingPauseChance / 3.0
	if runes != nil && i > 0 && isPauseTrigger(runes[i-1]) {
		pauseChance = h.cfg.ThinkingPauseChance
	}
	if h.chance(pauseChance) {
		if pause := h.sample(h.cfg.ThinkingPauseMean, h.cfg.ThinkingPauseStdDev); pause > 0 {
			ms += pause
		}
	}

	return sleepContext(ctx, time.Duration(math.Round(ms))*time.Millisecond)
}

// recognitionPause is the longer hesitation before a user notices a typo.
func (h *Humanizer) recognitionPause(ctx context.Context) error {
	ms := h.sampleClamped(
		h.cfg.TypingDelayMean*2.2, h.cfg.TypingDelayStdDev,
		h.cfg.TypingDelayMin, h.cfg.TypingDelayMax*2)
	return sleepContext(ctx, time.Duration(math.Round(ms))*time.Millisecond)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
