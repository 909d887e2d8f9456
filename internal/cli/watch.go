package cli

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mpender/metawatch/internal/config"
	"github.com/mpender/metawatch/internal/watcher"
)

var watchGrace time.Duration

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch the monitored root and keep the index up to date",
	Long: `Watch starts the change-processing pipeline: a filesystem watcher feeds a
debounced event queue, a fixed worker pool extracts metadata from changed
files, and results are committed durably before the in-memory index is
updated. Runs until interrupted.`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().DurationVar(&watchGrace, "grace", 10*time.Second, "shutdown grace period for in-flight work")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	root, err := resolveRoot()
	if err != nil {
		return err
	}

	cfg, err := config.LoadConfigFromDir(root)
	if err != nil {
		return err
	}

	filterForDirs, err := buildDirFilter(root, cfg)
	if err != nil {
		return err
	}

	fsWatcher, err := watcher.NewFSWatcher(root, filterForDirs)
	if err != nil {
		return fmt.Errorf("failed to create filesystem watcher: %w", err)
	}

	controller, db, err := buildController(root, cfg.ToPipelineOptions(), cfg, fsWatcher)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := controller.Start(ctx); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Watching %s (%d records indexed)\n", root, controller.Store().Len())

	<-ctx.Done()
	log.Printf("Shutdown signal received")

	return controller.Stop(watchGrace)
}

// buildDirFilter compiles the ignore patterns into a directory admission
// function for the watch adapter.
func buildDirFilter(root string, cfg *config.Config) (func(string) bool, error) {
	filter, err := newPathFilter(root, cfg)
	if err != nil {
		return nil, err
	}
	return filter.AdmitDir, nil
}
