package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mpender/metawatch/internal/config"
)

var scanGrace time.Duration

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Reconcile the index against the tree once, then exit",
	Long: `Scan walks the monitored root, compares every admitted file against the
stored index, extracts metadata for the new and changed ones, removes records
for deleted files, and exits. No filesystem watching.`,
	RunE: runScan,
}

func init() {
	scanCmd.Flags().DurationVar(&scanGrace, "grace", 30*time.Second, "shutdown grace period for in-flight work")
	rootCmd.AddCommand(scanCmd)
}

func runScan(cmd *cobra.Command, args []string) error {
	root, err := resolveRoot()
	if err != nil {
		return err
	}

	cfg, err := config.LoadConfigFromDir(root)
	if err != nil {
		return err
	}

	// One-shot mode: no quiet period to wait out, poll fast.
	opts := cfg.ToPipelineOptions()
	opts.DebounceWindow = 0
	opts.PollInterval = 50 * time.Millisecond

	controller, db, err := buildController(root, opts, cfg, nil)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx := cmd.Context()
	if err := controller.Start(ctx); err != nil {
		return err
	}

	// Drain: the reconcile scan enqueued everything up front, so we are done
	// once the queue (including dequeued paths mid-handoff) is empty and no
	// worker holds a task. A path moving from a finishing worker back into the
	// queue via requeue crosses the two counters, so idle must hold for two
	// consecutive polls.
	idlePolls := 0
	for idlePolls < 2 {
		select {
		case <-ctx.Done():
			controller.Stop(scanGrace)
			return ctx.Err()
		case <-time.After(opts.PollInterval):
		}
		if controller.Active() == 0 && controller.QueueLen() == 0 {
			idlePolls++
		} else {
			idlePolls = 0
		}
	}

	if err := controller.Stop(scanGrace); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Scan complete: %d record(s) indexed\n", controller.Store().Len())
	return nil
}
