package commands

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/usdbridge/usdbridge/internal/cli/config"
	"github.com/usdbridge/usdbridge/internal/cli/ui"
	"github.com/usdbridge/usdbridge/internal/logging"
)

// globalOptions are the persistent flags shared by every command
type globalOptions struct {
	configPath string
	logLevel   string
	noColor    bool
}

// load reads the configuration and builds the logger. --log-level
// overrides log.level from the file. Configuration errors are explained on w.
func (o *globalOptions) load(w io.Writer) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		fmt.Fprint(w, ui.ConfigError(err.Error(), nil, o.noColor))
		return nil, nil, err
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}

	logger, err := logging.New(logging.Config{Level: cfg.Log.Level, Development: cfg.Log.Development})
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

// checkScene fails with a formatted error naming similar scene files when
// path does not exist
func checkScene(w io.Writer, path string, noColor bool) error {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprint(w, ui.SceneNotFoundError(path, sceneSuggestions(path), noColor))
			return fmt.Errorf("scene %s not found", path)
		}
		return err
	}
	return nil
}

// sceneSuggestions lists USD files next to path whose names are close to it
func sceneSuggestions(path string) []string {
	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		return nil
	}

	var candidates []string
	for _, entry := range entries {
		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".usda", ".usd":
			if !entry.IsDir() {
				candidates = append(candidates, entry.Name())
			}
		}
	}
	return ui.FindSimilar(filepath.Base(path), candidates, nil)
}
