package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/vietddude/queuerunner/internal/control"
	"github.com/vietddude/queuerunner/internal/core/domain"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the number of queue items in each state",
	Run:   runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	setupLogging(cfg)

	ctx := context.Background()
	app, err := control.New(ctx, cfg, control.Options{})
	if err != nil {
		slog.Error("Failed to initialize", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = app.Close()
	}()

	counts, err := app.Status(ctx)
	if err != nil {
		slog.Error("Failed to count queue items", "error", err)
		os.Exit(1)
	}
	printStatus(os.Stdout, app.Queue().Name(), counts)
}

func printStatus(out io.Writer, queue string, counts map[domain.ItemState]int) {
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintf(w, "QUEUE\tSTATE\tITEMS\n")

	total := 0
	for _, state := range domain.ItemStates {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\n", queue, state, counts[state])
		total += counts[state]
	}
	_, _ = fmt.Fprintf(w, "%s\t%s\t%d\n", queue, "total", total)
	_ = w.Flush()
}
