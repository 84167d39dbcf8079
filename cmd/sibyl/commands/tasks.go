package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sibylquant/sibyl/internal/catalog"
	"github.com/sibylquant/sibyl/pkg/config"
)

// tasksCmd prints the configured prediction tasks and entities.
var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "List configured prediction tasks and entities",
	Long: `Loads the catalog and prints every configured task with its kind,
class count and horizon, followed by the tracked entities.

Example:
  go run ./cmd/sibyl tasks`,
	RunE: runTasks,
}

func init() {
	rootCmd.AddCommand(tasksCmd)
}

func runTasks(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	cat, err := catalog.Load(cfg.Serving.CatalogPath)
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}

	fmt.Printf("Tasks (%d):\n", len(cat.Tasks))
	for _, t := range cat.Tasks {
		switch t.Kind {
		case catalog.KindMultiClass:
			fmt.Printf("  %-20s %-12s classes=%d horizon=%s\n", t.Name, t.Kind, t.Classes, t.Horizon)
		default:
			fmt.Printf("  %-20s %-12s horizon=%s\n", t.Name, t.Kind, t.Horizon)
		}
	}

	fmt.Printf("\nEntities (%d):\n", len(cat.Entities))
	for _, e := range cat.Entities {
		fmt.Printf("  %s\n", e)
	}

	return nil
}
