package commands

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/usdbridge/usdbridge/internal/cli/ui"
	"github.com/usdbridge/usdbridge/internal/pipeline"
)

// NewInjectCommand creates the inject command
func NewInjectCommand(opts *globalOptions) *cobra.Command {
	var (
		output  string
		noLayer bool
	)

	cmd := &cobra.Command{
		Use:   "inject <file.usda> <target.gltf|target.glb>",
		Short: "Write USD metadata into an existing glTF document",
		Long: `Extract metadata from a .usda file and merge it into the extras of the
glTF nodes with matching names. Existing extras keys are kept.

The target is rewritten in place unless --output is given. The output
container (JSON or GLB) follows the output file extension.

Examples:
  usdbridge inject scenes/robot.usda build/robot.glb
  usdbridge inject scenes/robot.usda robot.gltf -o robot-annotated.glb
`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			source, target := args[0], args[1]

			_, logger, err := opts.load(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer logger.Sync()

			if err := checkScene(cmd.ErrOrStderr(), source, opts.noColor); err != nil {
				return err
			}

			p := pipeline.New(nil, logger)
			p.AttachLayer = !noLayer

			result, err := p.Inject(cmd.Context(), pipeline.Request{Source: source, Target: target, Output: output})
			if err != nil {
				return err
			}

			printResult(cmd, result, opts.noColor)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (default: overwrite the target)")
	cmd.Flags().BoolVar(&noLayer, "no-layer", false, "Do not attach customLayerData to the document extras")

	return cmd
}

// printResult summarizes a pipeline run and warns about entities that
// matched no node
func printResult(cmd *cobra.Command, result *pipeline.Result, noColor bool) {
	out := cmd.OutOrStdout()

	table := ui.NewKeyValueTable(out, noColor)
	table.AddRow("Output", result.Output)
	if info, err := os.Stat(result.Output); err == nil {
		table.AddRow("Size", humanize.Bytes(uint64(info.Size())))
	}
	table.AddRow("Entities", strconv.Itoa(len(result.Entities)))
	table.AddRow("Nodes", strconv.Itoa(result.Injected))
	table.AddRow("Layer", strconv.FormatBool(result.LayerAttached))
	table.AddRow("Duration", result.Duration.Round(time.Microsecond).String())
	table.Render()

	if len(result.Unmatched) > 0 {
		fmt.Fprint(cmd.ErrOrStderr(), ui.Warning(
			fmt.Sprintf("%d of %d entities have no node with the same name: %s",
				len(result.Unmatched), len(result.Entities), strings.Join(result.Unmatched, ", ")),
			nil, noColor))
	}

	ui.WriteSuccess(out, fmt.Sprintf("Injected metadata into %s", result.Output), noColor)
}
