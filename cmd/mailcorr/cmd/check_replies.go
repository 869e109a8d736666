package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/seanmck/mailcorr/internal/correlate"
	"github.com/seanmck/mailcorr/internal/crm"
)

var checkRepliesDays int

var checkRepliesCmd = &cobra.Command{
	Use:   "check-replies",
	Short: "Check which roster contacts have replied",
	Long: `Load the contact roster, scan the cached inbox, and report which
contacts (or their CSM/EP) show up in the mail from the last N days.

Examples:
  mailcorr check-replies
  mailcorr check-replies --days 60`,
	RunE: func(cmd *cobra.Command, args []string) error {
		roster, err := crm.Open(cfg.ContactsPath())
		if err != nil {
			return fmt.Errorf("open contact roster: %w", err)
		}
		defer roster.Close()
		if err := roster.InitSchema(); err != nil {
			return err
		}

		contacts, err := roster.ListContacts()
		if err != nil {
			return err
		}
		if len(contacts) == 0 {
			fmt.Println("No contacts in the roster. Add some with 'mailcorr add-contact'.")
			return nil
		}

		service, err := newMailService()
		if err != nil {
			return err
		}

		msgs, err := service.Messages(cmd.Context(), checkRepliesDays)
		if err != nil {
			return fmt.Errorf("load messages: %w", err)
		}

		now := time.Now()
		replied := 0
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "CONTACT\tREPLIED\tREPLIES\tLAST REPLY\tCSM MAIL\tEP MAIL")
		fmt.Fprintln(w, "───────\t───────\t───────\t──────────\t────────\t───────")
		for _, c := range contacts {
			result := correlate.CheckContactReplies(msgs, c.Target())
			if result.HasReplied {
				replied++
			}

			lastReply := "-"
			if result.LastReplyDate != nil {
				lastReply = result.LastReplyDate.Format("2006-01-02")
			}
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%d\t%d\n",
				c.Email, yesNo(result.HasReplied), result.ReplyCount, lastReply,
				len(result.FromCSMToContact), len(result.FromEPToContact))

			if err := roster.TouchEmailCheck(c.ID, now); err != nil {
				logger.Warn("failed to record check time", "contact", c.Email, "error", err)
			}
		}
		w.Flush()

		fmt.Printf("\nChecked %d contact(s) against %d message(s) from the last %d day(s); %d replied\n",
			len(contacts), len(msgs), checkRepliesDays, replied)
		return nil
	},
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func init() {
	rootCmd.AddCommand(checkRepliesCmd)
	checkRepliesCmd.Flags().IntVar(&checkRepliesDays, "days", 30, "How many days back to scan")
}
