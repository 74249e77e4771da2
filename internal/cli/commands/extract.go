package commands

import (
	"fmt"
	"os"
	"strconv"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/usdbridge/usdbridge/internal/cli/ui"
	"github.com/usdbridge/usdbridge/internal/usda/metadata"
)

// NewExtractCommand creates the extract command
func NewExtractCommand(opts *globalOptions) *cobra.Command {
	var (
		format  string
		output  string
		verbose bool
	)

	cmd := &cobra.Command{
		Use:   "extract <file.usda>",
		Short: "Print the custom metadata of a USD text layer",
		Long: `Extract customLayerData and every prim's customData from a .usda file.

The result maps prim names to their metadata. Document metadata appears under
the __customLayerData__ key.

Examples:
  # Print JSON
  usdbridge extract scenes/robot.usda

  # Write YAML to a file
  usdbridge extract scenes/robot.usda --format yaml -o robot.yaml

  # Show where each block was found and what was skipped
  usdbridge extract scenes/robot.usda --verbose
`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]

			outputFormat, err := metadata.ParseFormat(format)
			if err != nil {
				return err
			}

			_, logger, err := opts.load(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer logger.Sync()

			if err := checkScene(cmd.ErrOrStderr(), path, opts.noColor); err != nil {
				return err
			}
			source, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", path, err)
			}

			report := metadata.NewExtractor(logger).ExtractReport(string(source))

			if verbose {
				renderBlocks(cmd, report, opts.noColor)
			}

			if output != "" {
				if err := metadata.WriteToFile(report.Mapping, output, outputFormat); err != nil {
					return err
				}
				ui.WriteSuccess(cmd.ErrOrStderr(), fmt.Sprintf("Wrote %d entities to %s", report.Mapping.EntityCount(), output), opts.noColor)
				return nil
			}

			data, err := metadata.Marshal(report.Mapping, outputFormat)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			out.Write(data)
			if len(data) > 0 && data[len(data)-1] != '\n' {
				fmt.Fprintln(out)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "json", "Output format: json or yaml")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write to a file instead of stdout")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "List blocks and diagnostics on stderr")

	return cmd
}

// renderBlocks prints each metadata block with its line and diagnostics
func renderBlocks(cmd *cobra.Command, report *metadata.Report, noColor bool) {
	w := cmd.ErrOrStderr()

	table := ui.NewTable(w, []string{"Block", "Line", "Keys", "Diagnostics"}, &ui.TableOptions{NoColor: noColor, RightAlign: []int{1, 2, 3}})
	for _, block := range report.Blocks {
		table.AddRow(block.Name, strconv.Itoa(block.Line), strconv.Itoa(block.Keys), strconv.Itoa(len(block.Diagnostics)))
	}
	table.Render()

	yellow := color.New(color.FgYellow)
	if noColor {
		yellow.DisableColor()
	}
	for _, block := range report.Blocks {
		if block.Err != nil {
			yellow.Fprintf(w, "%s: %v\n", block.Name, block.Err)
		}
		for _, d := range block.Diagnostics {
			yellow.Fprintf(w, "%s: line %d: %s %s: %s\n", block.Name, d.Line, d.Severity, d.Code, d.Message)
		}
	}
	fmt.Fprintln(w)
}
