// File: internal/solver/page.go
package solver

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/veilcore/api/schemas"
	"github.com/xkilldash9x/veilcore/internal/humanize"
)

// Page is the slice of browser capability the selector-based collaborators
// need. The driver's automator satisfies it.
type Page interface {
	Screenshot(ctx context.Context) ([]byte, error)
	ElementBox(ctx context.Context, selector string) (*schemas.ElementBox, error)
	Click(ctx context.Context, selector string) error
	TypeChar(ctx context.Context, ch rune) error
	Backspace(ctx context.Context) error
	Text(ctx context.Context, selector string) (string, error)
}

// ChallengeRule maps a page selector to the challenge type its presence
// indicates.
type ChallengeRule struct {
	Type     string
	Selector string
}

// DefaultChallengeRules covers the common hosted-challenge widgets.
var DefaultChallengeRules = []ChallengeRule{
	{Type: "recaptcha", Selector: `iframe[src*="recaptcha"]`},
	{Type: "hcaptcha", Selector: `iframe[src*="hcaptcha"]`},
	{Type: "turnstile", Selector: `iframe[src*="turnstile"]`},
	{Type: "image_text", Selector: `img.captcha, img[alt*="captcha" i]`},
}

// PageDetector finds challenge widgets by probing known selectors and captures
// a screenshot for the solver when one is present.
type PageDetector struct {
	page  Page
	rules []ChallengeRule
	log   *zap.Logger
}

var _ Detector = (*PageDetector)(nil)

func NewPageDetector(page Page, rules []ChallengeRule, logger *zap.Logger) *PageDetector {
	if len(rules) == 0 {
		rules = DefaultChallengeRules
	}
	return &PageDetector{page: page, rules: rules, log: logger.Named("detector")}
}

func (d *PageDetector) Detect(ctx context.Context) (schemas.ChallengeDetection, error) {
	for _, rule := range d.rules {
		if ctx.Err() != nil {
			return schemas.ChallengeDetection{}, ctx.Err()
		}
		// A missing element is the normal case, not a failure.
		if _, err := d.page.ElementBox(ctx, rule.Selector); err != nil {
			continue
		}

		shot, err := d.page.Screenshot(ctx)
		if err != nil {
			return schemas.ChallengeDetection{}, fmt.Errorf("capture challenge screenshot: %w", err)
		}
		d.log.Info("challenge detected", zap.String("type", rule.Type))
		return schemas.ChallengeDetection{Detected: true, Type: rule.Type, Screenshot: shot}, nil
	}
	return schemas.ChallengeDetection{}, nil
}

// SubmitSelectors names the widget controls the submitter drives.
type SubmitSelectors struct {
	Input       string
	Submit      string
	Failure     string
	CannotSolve string
}

// DefaultSubmitSelectors matches the plain image-captcha form shape.
var DefaultSubmitSelectors = SubmitSelectors{
	Input:       `input[name="captcha"], input.captcha-input`,
	Submit:      `button[type="submit"], input[type="submit"]`,
	Failure:     `.captcha-error, .error`,
	CannotSolve: `a.captcha-refresh, button.cannot-solve`,
}

// PageSubmitter types the answer like a person and reads the widget's verdict.
type PageSubmitter struct {
	page      Page
	selectors SubmitSelectors
	human     *humanize.Humanizer
	log       *zap.Logger
}

var _ Submitter = (*PageSubmitter)(nil)

func NewPageSubmitter(page Page, selectors SubmitSelectors, human *humanize.Humanizer, logger *zap.Logger) *PageSubmitter {
	if selectors == (SubmitSelectors{}) {
		selectors = DefaultSubmitSelectors
	}
	return &PageSubmitter{page: page, selectors: selectors, human: human, log: logger.Named("submitter")}
}

func (s *PageSubmitter) Submit(ctx context.Context, answer string) (schemas.SubmitOutcome, error) {
	if err := s.page.Click(ctx, s.selectors.Input); err != nil {
		return schemas.SubmitOutcome{}, fmt.Errorf("focus answer input: %w", err)
	}

	if err := s.human.TypeHumanLike(ctx, s.page.TypeChar, s.page.Backspace, answer, true); err != nil {
		return schemas.SubmitOutcome{}, fmt.Errorf("type answer: %w", err)
	}

	if err := s.page.Click(ctx, s.selectors.Submit); err != nil {
		return schemas.SubmitOutcome{}, fmt.Errorf("click submit: %w", err)
	}

	// The failure banner only exists when the answer was rejected.
	if msg, err := s.page.Text(ctx, s.selectors.Failure); err == nil && msg != "" {
		s.log.Info("challenge answer rejected", zap.String("message", msg))
		return schemas.SubmitOutcome{Success: false, Error: msg}, nil
	}
	return schemas.SubmitOutcome{Success: true}, nil
}

func (s *PageSubmitter) ClickCannotSolve(ctx context.Context) error {
	if err := s.page.Click(ctx, s.selectors.CannotSolve); err != nil {
		return fmt.Errorf("click cannot-solve control: %w", err)
	}
	return nil
}
