package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var cacheInfoJSON bool

var cacheInfoCmd = &cobra.Command{
	Use:   "cache-info",
	Short: "Describe the on-disk inbox cache",
	Long: `Show the cache chunks on disk, their date ranges, and message counts.

Examples:
  mailcorr cache-info
  mailcorr cache-info --json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		service, err := newMailService()
		if err != nil {
			return err
		}

		info, err := service.Info()
		if err != nil {
			return fmt.Errorf("inspect cache: %w", err)
		}

		if cacheInfoJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(info)
		}

		if len(info.Chunks) == 0 {
			fmt.Println("Cache is empty. Run 'mailcorr create-cache' to bootstrap it.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "START\tEND\tMESSAGES\tFILE")
		fmt.Fprintln(w, "─────\t───\t────────\t────")
		for _, chunk := range info.Chunks {
			messages := fmt.Sprintf("%d", chunk.Messages)
			if chunk.Messages < 0 {
				messages = "unreadable"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", chunk.StartDate, chunk.EndDate, messages, chunk.File)
		}
		w.Flush()
		fmt.Printf("\n%d chunk(s), cached through %s\n", len(info.Chunks), info.LastCacheDate)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(cacheInfoCmd)
	cacheInfoCmd.Flags().BoolVar(&cacheInfoJSON, "json", false, "Output as JSON")
}
