package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// orgCmd shows the caller's current organization, served through the
// short-TTL cache.
var orgCmd = &cobra.Command{
	Use:   "org",
	Short: "Show the current organization",
	Long: `Show the organization the authenticated user belongs to.

The record is served from a short-lived cache; repeated calls inside the
cache window do not hit the backend.

Examples:
  opsdeck org`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := getApp()
		if err != nil {
			return err
		}
		defer a.Close()

		a.Session.Bootstrap(cmd.Context())

		org, err := a.Orgs.Get(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to fetch organization: %w", err)
		}

		fmt.Printf("Org ID: %s\n", org.ID)
		fmt.Printf("Name:   %s\n", org.Name)
		fmt.Printf("Plan:   %s\n", org.Plan)
		fmt.Printf("Seats:  %d\n", org.Seats)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(orgCmd)
}
