// File: cmd/sessions.go
package cmd

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/veilcore/internal/observability"
)

var sessionsCleanup bool

// sessionsCmd lists persisted sessions and their trust standing.
var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List tracked account sessions.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		logger := observability.GetLogger()

		components, err := createComponents(ctx, appConfig, false)
		if err != nil {
			return err
		}
		defer components.Shutdown()

		if sessionsCleanup {
			removed := components.Sessions.CleanupExpiredSessions(ctx)
			logger.Info("Expired sessions removed", zap.Int("count", removed))
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(components.Sessions.Sessions())
	},
}

func init() {
	sessionsCmd.Flags().BoolVar(&sessionsCleanup, "cleanup", false, "remove expired sessions first")
}
