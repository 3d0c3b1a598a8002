// File: internal/driver/driver.go
package driver

import (
	"context"
	"time"

	"github.com/xkilldash9x/veilcore/api/schemas"
)

// Automator is the full set of page primitives the engine needs. The chromedp
// implementation lives in this package; everything above it sees only the
// schemas function types.
type Automator interface {
	Navigate(ctx context.Context, url string) error
	Click(ctx context.Context, selector string) error
	Wait(ctx context.Context, d time.Duration) error
	TypeChar(ctx context.Context, ch rune) error
	Backspace(ctx context.Context) error
	MoveMouse(ctx context.Context, pos schemas.MousePosition) error
	Screenshot(ctx context.Context) ([]byte, error)
	ElementBox(ctx context.Context, selector string) (*schemas.ElementBox, error)
	Text(ctx context.Context, selector string) (string, error)
	Close() error
}

// Primitives bundles the narrow function types the cores consume.
type Primitives struct {
	Navigate  schemas.NavigateFunc
	Click     schemas.ClickFunc
	Wait      schemas.WaitFunc
	TypeChar  schemas.TypeCharFunc
	Backspace schemas.BackspaceFunc
	MoveMouse schemas.MoveMouseFunc
}

// Bind adapts an Automator into the loose function bundle.
func Bind(a Automator) Primitives {
	return Primitives{
		Navigate:  a.Navigate,
		Click:     a.Click,
		Wait:      a.Wait,
		TypeChar:  a.TypeChar,
		Backspace: a.Backspace,
		MoveMouse: a.MoveMouse,
	}
}
