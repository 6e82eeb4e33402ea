package cmd

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/neuronav/internal/neuron"
	"github.com/JakeFAU/neuronav/internal/registry"
)

func newScrapeCmd(e *env) *cobra.Command {
	var collect bool
	cmd := &cobra.Command{
		Use:   "scrape <model> <layer> <count>",
		Short: "Fetch neurons 0..count-1 of one layer",
		Long: `Fetches every neuron page of a layer. By default pages are written to
the configured storage and pages already stored are skipped, with at most
scrape.concurrency fetches in flight. With --collect every page is fetched at
once and printed to stdout as a JSON array instead.`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			model := args[0]
			if err := registry.ValidateModel(model); err != nil {
				return err
			}
			layer, err := strconv.ParseUint(args[1], 10, 32)
			if err != nil {
				return fmt.Errorf("layer must be an unsigned integer: %w", err)
			}
			count, err := strconv.ParseUint(args[2], 10, 32)
			if err != nil {
				return fmt.Errorf("count must be an unsigned integer: %w", err)
			}

			return e.withApp(cmd.Context(), func(a App) error {
				s := a.Scraper()
				if collect {
					pages, err := s.ScrapeLayer(cmd.Context(), model, uint32(layer), int(count))
					if err != nil {
						return err
					}
					return writePages(cmd, pages)
				}
				sum, err := s.ScrapeLayerToStore(cmd.Context(), model, uint32(layer), int(count))
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "batch %s: %d fetched, %d skipped, %d/%d stored in %s\n",
					sum.BatchID, sum.Fetched, sum.Skipped, sum.Completed(), sum.Total, sum.Elapsed.Round(time.Millisecond))
				return err
			})
		},
	}
	cmd.Flags().BoolVar(&collect, "collect", false, "collect pages in memory and print them instead of storing")
	return cmd
}

func writePages(cmd *cobra.Command, pages []neuron.Page) error {
	if pages == nil {
		pages = []neuron.Page{}
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(pages)
}
