package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mpender/metawatch/internal/config"
	"github.com/mpender/metawatch/internal/storage"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Summarize the persistent index for the monitored root",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	root, err := resolveRoot()
	if err != nil {
		return err
	}

	cfg, err := config.LoadConfigFromDir(root)
	if err != nil {
		return err
	}

	db, err := storage.Open(cfg.DatabasePath(root))
	if err != nil {
		return err
	}
	defer db.Close()

	reader := storage.NewRecordReader(db)
	records, err := reader.All()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Index: %s\n", cfg.DatabasePath(root))
	fmt.Fprintf(out, "Records: %d\n", len(records))

	if len(records) == 0 {
		return nil
	}

	var newest time.Time
	languages := map[string]int{}
	for _, rec := range records {
		if rec.ExtractedAt.After(newest) {
			newest = rec.ExtractedAt
		}
		// Metadata is opaque to the pipeline; the status view only peeks at
		// the language field the built-in extractor happens to emit.
		var meta struct {
			Language string `json:"language"`
		}
		if err := json.Unmarshal(rec.Metadata, &meta); err == nil && meta.Language != "" {
			languages[meta.Language]++
		}
	}

	fmt.Fprintf(out, "Last extraction: %s\n", newest.Local().Format(time.RFC3339))
	if verbose {
		for lang, n := range languages {
			fmt.Fprintf(out, "  %-12s %d\n", lang, n)
		}
	}

	return nil
}
