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

// reloadCmd triggers a synchronous model reload on a running engine.
var reloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Trigger a model reload on a running engine",
	Long: `Posts to /models/reload on a running engine and prints the outcome.

The reload is synchronous. A rejected reload (empty registry, duplicate
model keys) leaves the previous snapshot serving.

Example:
  go run ./cmd/sibyl reload
  go run ./cmd/sibyl reload --addr http://localhost:8090`,
	RunE: runReload,
}

var reloadAddr string

func init() {
	rootCmd.AddCommand(reloadCmd)

	reloadCmd.Flags().StringVar(&reloadAddr, "addr", "http://localhost:8090", "address of the running engine")
}

func runReload(cmd *cobra.Command, args []string) error {
	log := logger.NewDefault()
	client := httputil.NewWithTimeout(log, 60*time.Second).DisableRetry()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	resp, err := client.Post(ctx, reloadAddr+"/models/reload", "application/json", nil)
	if err != nil {
		return fmt.Errorf("reload request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != 200 {
		return fmt.Errorf("reload failed (status %d): %s", resp.StatusCode, string(body))
	}

	fmt.Println(string(body))
	return nil
}
