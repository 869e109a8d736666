package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/seanmck/mailcorr/internal/crm"
)

var addContactFields struct {
	firstName string
	lastName  string
	csmName   string
	csmEmail  string
	epName    string
	epEmail   string
}

var addContactCmd = &cobra.Command{
	Use:   "add-contact <email>",
	Short: "Add or update a roster contact",
	Long: `Add a contact to the roster, or update it if the email already exists.

Examples:
  mailcorr add-contact jane@acme.com --first-name Jane --last-name Doe
  mailcorr add-contact jane@acme.com --csm-email sam@ourco.com --csm-name "Sam Smith"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		roster, err := crm.Open(cfg.ContactsPath())
		if err != nil {
			return fmt.Errorf("open contact roster: %w", err)
		}
		defer roster.Close()
		if err := roster.InitSchema(); err != nil {
			return err
		}

		id, err := roster.UpsertContact(crm.Contact{
			Email:     args[0],
			FirstName: addContactFields.firstName,
			LastName:  addContactFields.lastName,
			CSMName:   addContactFields.csmName,
			CSMEmail:  addContactFields.csmEmail,
			EPName:    addContactFields.epName,
			EPEmail:   addContactFields.epEmail,
		})
		if err != nil {
			return err
		}

		fmt.Printf("Saved contact %s (id %d)\n", args[0], id)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(addContactCmd)
	f := addContactCmd.Flags()
	f.StringVar(&addContactFields.firstName, "first-name", "", "Contact first name")
	f.StringVar(&addContactFields.lastName, "last-name", "", "Contact last name")
	f.StringVar(&addContactFields.csmName, "csm-name", "", "Customer success manager name")
	f.StringVar(&addContactFields.csmEmail, "csm-email", "", "Customer success manager email")
	f.StringVar(&addContactFields.epName, "ep-name", "", "Executive partner name")
	f.StringVar(&addContactFields.epEmail, "ep-email", "", "Executive partner email")
}
