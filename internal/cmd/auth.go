package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// loginCmd authenticates with email and password
var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Login to OpsDeck",
	Long: `Login to OpsDeck with your email and password.

After logging in, your access token is saved locally and refreshed
transparently until the backend revokes your session.

Examples:
  opsdeck login --email user@example.com --password mypass`,
	RunE: func(cmd *cobra.Command, args []string) error {
		email, _ := cmd.Flags().GetString("email")
		password, _ := cmd.Flags().GetString("password")

		if email == "" {
			return fmt.Errorf("--email is required")
		}
		if password == "" {
			return fmt.Errorf("--password is required")
		}

		a, err := getApp()
		if err != nil {
			return err
		}
		defer a.Close()

		fmt.Printf("Logging in as: %s\n", email)

		if err := a.Session.Login(cmd.Context(), email, password); err != nil {
			return fmt.Errorf("login failed: %w", err)
		}

		fmt.Println("Login successful!")
		return nil
	},
}

// logoutCmd tears the session down
var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Logout and remove credentials",
	Long: `Logout from OpsDeck and remove the locally stored credentials.

The backend is asked to revoke the refresh credential, but the local state
is cleared regardless of whether that call succeeds.

Examples:
  opsdeck logout`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := getApp()
		if err != nil {
			return err
		}
		defer a.Close()

		a.Session.Logout(cmd.Context())
		fmt.Println("Logged out.")
		return nil
	},
}

// registerCmd creates a new account
var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Register a new user account",
	Long: `Register a new OpsDeck account.

After registration, you will be automatically logged in.

Examples:
  opsdeck register --email user@example.com --password mypass
  opsdeck register --email user@example.com --password mypass --first-name John --last-name Doe`,
	RunE: func(cmd *cobra.Command, args []string) error {
		username, _ := cmd.Flags().GetString("username")
		email, _ := cmd.Flags().GetString("email")
		password, _ := cmd.Flags().GetString("password")
		firstName, _ := cmd.Flags().GetString("first-name")
		lastName, _ := cmd.Flags().GetString("last-name")

		if email == "" {
			return fmt.Errorf("--email is required")
		}
		if password == "" {
			return fmt.Errorf("--password is required")
		}
		if username == "" {
			username = email
		}

		a, err := getApp()
		if err != nil {
			return err
		}
		defer a.Close()

		fmt.Printf("Registering user: %s\n", email)

		if _, err := a.API.Register(cmd.Context(), username, email, password, firstName, lastName); err != nil {
			return fmt.Errorf("registration failed: %w", err)
		}

		if err := a.Session.Login(cmd.Context(), email, password); err != nil {
			return fmt.Errorf("registration succeeded but login failed: %w", err)
		}

		fmt.Println("Registration successful!")
		fmt.Println("You are now logged in.")
		return nil
	},
}

// statusCmd shows the current session state
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show authentication status",
	Long: `Show the current session state and identity.

Examples:
  opsdeck status`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := getApp()
		if err != nil {
			return err
		}
		defer a.Close()

		a.Session.Bootstrap(cmd.Context())

		fmt.Printf("Session:  %s\n", a.Session.State())

		id := a.Session.Identity()
		if id == nil {
			fmt.Println("Use 'opsdeck login' to authenticate.")
			return nil
		}

		fmt.Printf("User ID:  %s\n", id.UserID)
		fmt.Printf("Email:    %s\n", id.Email)
		fmt.Printf("Name:     %s %s\n", id.FirstName, id.LastName)
		fmt.Printf("Role:     %s\n", id.Role)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(registerCmd)
	rootCmd.AddCommand(statusCmd)

	loginCmd.Flags().String("email", "", "Email address (required)")
	loginCmd.Flags().String("password", "", "Password (required)")

	registerCmd.Flags().String("username", "", "Username (optional)")
	registerCmd.Flags().String("email", "", "Email address (required)")
	registerCmd.Flags().String("password", "", "Password (required)")
	registerCmd.Flags().String("first-name", "", "First name")
	registerCmd.Flags().String("last-name", "", "Last name")
}
