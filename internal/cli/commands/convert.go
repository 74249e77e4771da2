package commands

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/usdbridge/usdbridge/internal/cli/ui"
	"github.com/usdbridge/usdbridge/internal/converter"
	"github.com/usdbridge/usdbridge/internal/pipeline"
)

// NewConvertCommand creates the convert command
func NewConvertCommand(opts *globalOptions) *cobra.Command {
	var (
		output  string
		format  string
		binary  string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "convert <file.usd[a]>...",
		Short: "Convert USD scenes to glTF and inject their metadata",
		Long: `Run the external converter (usd2gltf by default) on each scene, then write
the scene's custom metadata into the converted document.

With a single scene --output names the output file. With several scenes it
names the output directory. Without --output models go to storage.output_dir.

Examples:
  usdbridge convert scenes/robot.usda
  usdbridge convert scenes/robot.usda -o robot.gltf
  usdbridge convert scenes/*.usda --format gltf -o build/models
  usdbridge convert scenes/robot.usda --converter /opt/usd/bin/usd2gltf
`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer logger.Sync()

			if format == "" {
				format = cfg.Converter.Format
			}
			format = strings.ToLower(format)
			if format != "glb" && format != "gltf" {
				return fmt.Errorf("format must be glb or gltf, got: %s", format)
			}
			if binary == "" {
				binary = cfg.Converter.Binary
			}
			if timeout == 0 {
				timeout = cfg.Converter.Timeout
			}

			for _, source := range args {
				if err := checkScene(cmd.ErrOrStderr(), source, opts.noColor); err != nil {
					return err
				}
			}

			p := pipeline.New(converter.New(binary, timeout, logger), logger)

			outputFor := func(source string) string {
				if len(args) == 1 && output != "" {
					return output
				}
				dir := cfg.Storage.OutputDir
				if output != "" {
					dir = output
				}
				return pipeline.OutputPath(source, dir, format)
			}

			if len(args) == 1 {
				var result *pipeline.Result
				err := ui.WithSpinner(cmd.ErrOrStderr(), "Converting "+args[0], opts.noColor, func() error {
					var err error
					result, err = p.Convert(cmd.Context(), pipeline.Request{Source: args[0], Output: outputFor(args[0])})
					return err
				})
				if err != nil {
					return explainConversion(cmd, err, opts.noColor)
				}
				printResult(cmd, result, opts.noColor)
				return nil
			}

			var results []*pipeline.Result
			err = ui.WithProgress(cmd.ErrOrStderr(), fmt.Sprintf("Converted %d scenes", len(args)), len(args), opts.noColor, func(bar *ui.ProgressBar) error {
				for _, source := range args {
					result, err := p.Convert(cmd.Context(), pipeline.Request{Source: source, Output: outputFor(source)})
					if err != nil {
						return fmt.Errorf("%s: %w", source, err)
					}
					results = append(results, result)
					bar.Step(filepath.Base(source))
				}
				return nil
			})
			if err != nil {
				return explainConversion(cmd, err, opts.noColor)
			}

			table := ui.NewTable(cmd.OutOrStdout(), []string{"Scene", "Output", "Entities", "Nodes"}, &ui.TableOptions{NoColor: opts.noColor, RightAlign: []int{2, 3}})
			for _, r := range results {
				table.AddRow(r.Source, r.Output, fmt.Sprint(len(r.Entities)), fmt.Sprint(r.Injected))
			}
			table.Render()
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file, or directory when converting several scenes")
	cmd.Flags().StringVarP(&format, "format", "f", "", "Output format: glb or gltf (default: converter.format)")
	cmd.Flags().StringVar(&binary, "converter", "", "Converter binary (default: converter.binary)")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Converter timeout (default: converter.timeout)")

	return cmd
}

// explainConversion prints guidance for converter failures and returns err
func explainConversion(cmd *cobra.Command, err error, noColor bool) error {
	var convErr *converter.ConversionError
	switch {
	case errors.Is(err, converter.ErrToolNotFound):
		fmt.Fprint(cmd.ErrOrStderr(), ui.ConverterError(err.Error(), "Install usd2gltf or point --converter at it.", noColor))
	case errors.As(err, &convErr):
		fmt.Fprint(cmd.ErrOrStderr(), ui.ConverterError(err.Error(), fmt.Sprintf("The converter exited with code %d.", convErr.ExitCode), noColor))
	}
	return err
}
