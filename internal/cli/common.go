package cli

import (
	"database/sql"
	"fmt"
	"path/filepath"

	"github.com/mpender/metawatch/internal/config"
	"github.com/mpender/metawatch/internal/extract"
	"github.com/mpender/metawatch/internal/index"
	"github.com/mpender/metawatch/internal/pipeline"
	"github.com/mpender/metawatch/internal/storage"
)

// absPath cleans and absolutizes a path.
func absPath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve path %s: %w", path, err)
	}
	return abs, nil
}

// newPathFilter compiles the configured ignore patterns for a root.
func newPathFilter(root string, cfg *config.Config) (*pipeline.PathFilter, error) {
	filter, err := pipeline.NewPathFilter(root, cfg.Paths.Ignore)
	if err != nil {
		return nil, fmt.Errorf("failed to compile ignore patterns: %w", err)
	}
	return filter, nil
}

// buildController wires the full pipeline for a monitored root. The caller
// owns the returned DB handle and must close it after stopping the pipeline.
// watch may be nil for one-shot scans.
func buildController(root string, opts pipeline.Options, cfg *config.Config, watch pipeline.FilesystemWatcher) (*pipeline.Controller, *sql.DB, error) {
	filter, err := newPathFilter(root, cfg)
	if err != nil {
		return nil, nil, err
	}

	db, err := storage.Open(cfg.DatabasePath(root))
	if err != nil {
		return nil, nil, err
	}

	store := index.NewStore(db)
	extractor := extract.NewBasicExtractor()

	controller, err := pipeline.NewController(opts, root, filter, store, extractor, watch)
	if err != nil {
		db.Close()
		return nil, nil, err
	}

	return controller, db, nil
}
