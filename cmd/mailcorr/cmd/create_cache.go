package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var createCacheCmd = &cobra.Command{
	Use:   "create-cache",
	Short: "Bootstrap or top up the inbox cache",
	Long: `Fetch recent inbox messages from the configured provider and write
them to the on-disk cache. On first run this bootstraps a full year;
afterwards it fetches only the days since the last cached date.

Examples:
  mailcorr create-cache
  mailcorr create-cache --verbose`,
	RunE: func(cmd *cobra.Command, args []string) error {
		service, err := newMailService()
		if err != nil {
			return err
		}

		result, err := service.Refresh(cmd.Context())
		if err != nil {
			return fmt.Errorf("refresh cache: %w", err)
		}

		if result.DaysAdded == 0 {
			fmt.Println("Cache is already up to date.")
		} else {
			fmt.Printf("Cached %d message(s) covering %s to %s (%d day(s) added).\n",
				result.EmailCount, result.StartDate, result.EndDate, result.DaysAdded)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(createCacheCmd)
}
