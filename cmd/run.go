// File: cmd/run.go
package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/veilcore/internal/driver"
	"github.com/xkilldash9x/veilcore/internal/observability"
)

var runTargetURL string

// runCmd starts the full engine loop against the configured accounts.
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the automation engine loop.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		logger := observability.GetLogger()

		if len(appConfig.Engine.Accounts) == 0 {
			return fmt.Errorf("engine.accounts is empty; nothing to do")
		}

		components, err := createComponents(ctx, appConfig, true)
		if err != nil {
			return err
		}
		defer components.Shutdown()

		logger.Info("Engine loop starting",
			zap.Int("accounts", len(appConfig.Engine.Accounts)),
			zap.String("service", appConfig.Engine.Service))

		task := func(ctx context.Context, accountID string, prim driver.Primitives) error {
			if runTargetURL == "" {
				return nil
			}
			return prim.Navigate(ctx, runTargetURL)
		}

		err = components.Engine.Run(ctx, task)
		if err != nil && ctx.Err() != nil {
			logger.Info("Engine loop stopped")
			return nil
		}
		return err
	},
}

func init() {
	runCmd.Flags().StringVar(&runTargetURL, "target", "", "URL each account cycle navigates to")
}
