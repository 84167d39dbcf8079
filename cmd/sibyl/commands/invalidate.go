package commands

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/sibylquant/sibyl/pkg/httputil"
	"github.com/sibylquant/sibyl/pkg/logger"
)

// invalidateCmd drops readiness on a running engine.
var invalidateCmd = &cobra.Command{
	Use:   "invalidate",
	Short: "Drop readiness on a running engine",
	Long: `Posts to /models/invalidate on a running engine and prints the outcome.

The engine stops reporting ready and clears cached feature vectors until
the next successful reload. The loaded models keep serving in-flight
requests. Use this when upstream data or the feature schema is known to
be bad.

Example:
  go run ./cmd/sibyl invalidate --reason "candle backfill in progress"
  go run ./cmd/sibyl invalidate --addr http://localhost:8090`,
	RunE: runInvalidate,
}

var (
	invalidateAddr   string
	invalidateReason string
)

func init() {
	rootCmd.AddCommand(invalidateCmd)

	invalidateCmd.Flags().StringVar(&invalidateAddr, "addr", "http://localhost:8090", "address of the running engine")
	invalidateCmd.Flags().StringVar(&invalidateReason, "reason", "", "reason recorded in the health status")
}

func runInvalidate(cmd *cobra.Command, args []string) error {
	log := logger.NewDefault()
	client := httputil.NewWithTimeout(log, 30*time.Second).DisableRetry()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	resp, err := client.PostJSON(ctx, invalidateAddr+"/models/invalidate", map[string]string{
		"reason": invalidateReason,
	})
	if err != nil {
		return fmt.Errorf("invalidate request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != 200 {
		return fmt.Errorf("invalidate failed (status %d): %s", resp.StatusCode, string(body))
	}

	fmt.Println(string(body))
	return nil
}
