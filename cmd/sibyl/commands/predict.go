package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/sibylquant/sibyl/pkg/httputil"
	"github.com/sibylquant/sibyl/pkg/logger"
)

// predictCmd runs a one-shot prediction against a running engine.
var predictCmd = &cobra.Command{
	Use:   "predict <entity>",
	Short: "Request predictions for one entity",
	Long: `Posts to /predict/{entity} on a running engine and pretty-prints
the response. Without --tasks every configured task is predicted.

Example:
  go run ./cmd/sibyl predict BTCUSDT
  go run ./cmd/sibyl predict BTCUSDT --tasks return_1step,direction_4step`,
	Args: cobra.ExactArgs(1),
	RunE: runPredict,
}

var (
	predictAddr  string
	predictTasks string
)

func init() {
	rootCmd.AddCommand(predictCmd)

	predictCmd.Flags().StringVar(&predictAddr, "addr", "http://localhost:8090", "address of the running engine")
	predictCmd.Flags().StringVar(&predictTasks, "tasks", "", "comma-separated task names (default: all)")
}

func runPredict(cmd *cobra.Command, args []string) error {
	entity := args[0]

	reqBody := map[string]interface{}{}
	if predictTasks != "" {
		reqBody["tasks"] = strings.Split(predictTasks, ",")
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	log := logger.NewDefault()
	client := httputil.NewWithTimeout(log, 30*time.Second).DisableRetry()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	resp, err := client.Post(ctx, predictAddr+"/predict/"+entity, "application/json", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("predict request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != 200 {
		return fmt.Errorf("predict failed (status %d): %s", resp.StatusCode, string(body))
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, body, "", "  "); err != nil {
		fmt.Println(string(body))
		return nil
	}

	fmt.Println(pretty.String())
	return nil
}
