package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/usdbridge/usdbridge/internal/cli/ui"
	"github.com/usdbridge/usdbridge/internal/history"
)

// NewHistoryCommand creates the history command
func NewHistoryCommand(opts *globalOptions) *cobra.Command {
	var (
		limit  int
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent conversions",
		Long: `List conversions recorded by the serve and watch commands, newest first.

History is kept only when history.driver is set in the configuration.

Examples:
  usdbridge history
  usdbridge history --limit 50 --json
`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer logger.Sync()

			if !cfg.History.Enabled() {
				return errors.New("history is disabled: set history.driver and history.dsn in usdbridge.yaml")
			}

			store, err := history.Open(cfg.History.Driver, cfg.History.DSN)
			if err != nil {
				return err
			}
			defer store.Close()
			if err := store.Migrate(cmd.Context()); err != nil {
				return err
			}

			records, err := store.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(records)
			}

			if len(records) == 0 {
				fmt.Fprintln(out, "No conversions recorded yet.")
				return nil
			}

			table := ui.NewTable(out, []string{"ID", "Scene", "Format", "Nodes", "Cache", "Status", "Duration", "When"},
				&ui.TableOptions{NoColor: opts.noColor, RightAlign: []int{3, 6}})
			for _, rec := range records {
				cache := ""
				if rec.CacheHit {
					cache = "hit"
				}
				table.AddRow(shortID(rec.ID), rec.Source, rec.Format, strconv.Itoa(rec.Injected), cache, string(rec.Status),
					rec.Duration.Round(time.Millisecond).String(), humanize.Time(rec.CreatedAt))
			}
			table.Render()

			for _, rec := range records {
				if rec.Error != "" {
					color.New(color.FgRed).Fprintf(cmd.ErrOrStderr(), "%s: %s\n", shortID(rec.ID), rec.Error)
				}
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", history.DefaultLimit, "Number of conversions to list")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")

	return cmd
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
