package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/usdbridge/usdbridge/internal/cli/config"
	"github.com/usdbridge/usdbridge/internal/converter"
	"github.com/usdbridge/usdbridge/internal/history"
	"github.com/usdbridge/usdbridge/internal/pipeline"
	"github.com/usdbridge/usdbridge/internal/watch"
)

// NewWatchCommand creates the watch command
func NewWatchCommand(opts *globalOptions) *cobra.Command {
	var (
		output    string
		format    string
		recursive bool
		debounce  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "watch [dir]",
		Short: "Reconvert scenes when they change",
		Long: `Watch a directory of USD scenes and convert each scene when it is saved.

Every save runs the converter and injects the scene's metadata into the
result, the same as the convert command. Runs are recorded in the history
database when history.driver is set.

Examples:
  # Watch storage.scenes_dir
  usdbridge watch

  # Watch a tree and write glTF JSON
  usdbridge watch assets/ --recursive --format gltf -o build/models
`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer logger.Sync()

			dir := cfg.Storage.ScenesDir
			if len(args) == 1 {
				dir = args[0]
			}
			if output != "" {
				cfg.Storage.OutputDir = output
			}
			if format != "" {
				cfg.Converter.Format = format
			}
			if cfg.Converter.Format != "glb" && cfg.Converter.Format != "gltf" {
				return fmt.Errorf("format must be glb or gltf, got: %s", cfg.Converter.Format)
			}

			var store *history.Store
			if cfg.History.Enabled() {
				store, err = history.Open(cfg.History.Driver, cfg.History.DSN)
				if err != nil {
					return err
				}
				defer store.Close()
				if err := store.Migrate(cmd.Context()); err != nil {
					return err
				}
			}

			r := &rebuilder{
				cfg:      cfg,
				pipeline: pipeline.New(converter.New(cfg.Converter.Binary, cfg.Converter.Timeout, logger), logger),
				logger:   logger,
				noColor:  opts.noColor,
				cmd:      cmd,
			}
			if store != nil {
				r.history = store
			}

			fw, err := watch.NewFileWatcher(watch.Config{
				Dir:       dir,
				Recursive: recursive,
				SkipDirs:  []string{cfg.Storage.OutputDir},
				Debounce:  debounce,
				Logger:    logger,
			}, r.rebuild)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			banner := color.New(color.FgCyan, color.Bold)
			w := cmd.ErrOrStderr()
			fmt.Fprintln(w)
			banner.Fprintln(w, "usdbridge watch")
			fmt.Fprintf(w, "   Scenes:  %s\n", dir)
			fmt.Fprintf(w, "   Output:  %s (%s)\n", cfg.Storage.OutputDir, cfg.Converter.Format)
			fmt.Fprintln(w)
			color.New(color.FgYellow).Fprintln(w, "Press Ctrl+C to stop")
			fmt.Fprintln(w)

			if err := fw.Run(ctx); err != nil {
				return err
			}
			color.New(color.FgGreen).Fprintln(w, "Goodbye!")
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Output directory (default: storage.output_dir)")
	cmd.Flags().StringVarP(&format, "format", "f", "", "Output format: glb or gltf (default: converter.format)")
	cmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "Watch subdirectories too")
	cmd.Flags().DurationVar(&debounce, "debounce", watch.DefaultDebounce, "Quiet period before a change is handled")

	return cmd
}

// conversionLog is the subset of the history store the watcher writes to
type conversionLog interface {
	Record(ctx context.Context, rec *history.Record) error
}

// rebuilder converts each changed scene and reports the outcome
type rebuilder struct {
	cfg      *config.Config
	pipeline *pipeline.Pipeline
	history  conversionLog
	logger   *zap.Logger
	noColor  bool
	cmd      *cobra.Command
}

func (r *rebuilder) rebuild(ctx context.Context, files []string) error {
	out := r.cmd.OutOrStdout()
	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)
	if r.noColor {
		green.DisableColor()
		red.DisableColor()
	}

	var errs []error
	for _, file := range files {
		output := pipeline.OutputPath(file, r.cfg.Storage.OutputDir, r.cfg.Converter.Format)
		result, err := r.pipeline.Convert(ctx, pipeline.Request{Source: file, Output: output})
		r.record(ctx, file, output, result, err)

		stamp := time.Now().Format("15:04:05")
		if err != nil {
			red.Fprintf(out, "%s ✗ %s: %v\n", stamp, filepath.Base(file), err)
			errs = append(errs, fmt.Errorf("%s: %w", file, err))
			continue
		}
		green.Fprintf(out, "%s ✓ %s → %s (%d nodes, %s)\n", stamp, filepath.Base(file), result.Output,
			result.Injected, result.Duration.Round(time.Millisecond))
	}
	return errors.Join(errs...)
}

func (r *rebuilder) record(ctx context.Context, source, output string, result *pipeline.Result, convErr error) {
	if r.history == nil {
		return
	}

	rec := &history.Record{
		Source: filepath.Base(source),
		Output: output,
		Format: r.cfg.Converter.Format,
		Status: history.StatusOK,
	}
	if result != nil {
		rec.Entities = len(result.Entities)
		rec.Injected = result.Injected
		rec.Duration = result.Duration
	}
	if convErr != nil {
		rec.Status = history.StatusFailed
		rec.Error = convErr.Error()
	}
	if err := r.history.Record(ctx, rec); err != nil {
		r.logger.Warn("recording conversion failed", zap.String("scene", source), zap.Error(err))
	}
}
