// File: api/schemas/driver.go
package schemas

import (
	"context"
	"time"
)

// The core never imports a browser-automation product. Components that need to
// act on a page receive these narrow primitives instead; an adapter in the
// surrounding driver binds them to a real implementation.

type NavigateFunc func(ctx context.Context, url string) error

type ClickFunc func(ctx context.Context, selector string) error

type WaitFunc func(ctx context.Context, d time.Duration) error

type TypeCharFunc func(ctx context.Context, ch rune) error

type BackspaceFunc func(ctx context.Context) error

type MoveMouseFunc func(ctx context.Context, pos MousePosition) error
