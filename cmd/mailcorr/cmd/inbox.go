package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/seanmck/mailcorr/internal/textutil"
)

var (
	inboxDays int
	inboxJSON bool
)

var inboxCmd = &cobra.Command{
	Use:   "inbox",
	Short: "List cached inbox messages",
	Long: `Show the cached inbox for the last N days, refreshing the cache
first if it is stale.

Examples:
  mailcorr inbox
  mailcorr inbox --days 7
  mailcorr inbox --json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		service, err := newMailService()
		if err != nil {
			return err
		}

		msgs, err := service.Messages(cmd.Context(), inboxDays)
		if err != nil {
			return fmt.Errorf("load messages: %w", err)
		}

		if inboxJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(msgs)
		}

		if len(msgs) == 0 {
			fmt.Printf("No messages in the last %d day(s).\n", inboxDays)
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "DATE\tFROM\tSUBJECT")
		fmt.Fprintln(w, "────\t────\t───────")
		for _, m := range msgs {
			from := m.SenderAddress
			if from == "" {
				from = m.SenderName
			}
			fmt.Fprintf(w, "%s\t%s\t%s\n",
				m.ReceivedAt.Format("2006-01-02 15:04"), from, textutil.TruncateRunes(m.Subject, 60))
		}
		w.Flush()
		fmt.Printf("\n%d message(s) from the last %d day(s)\n", len(msgs), inboxDays)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(inboxCmd)
	inboxCmd.Flags().IntVar(&inboxDays, "days", 30, "How many days back to show")
	inboxCmd.Flags().BoolVar(&inboxJSON, "json", false, "Output as JSON")
}
