package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Login flags.
var (
	flagAppKey    string
	flagAppSecret string
	flagForce     bool
)

func newLoginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Authorize with Dropbox in the browser",
		Long: `Authorize this machine with Dropbox using the OAuth2 authorization
code flow. Opens a browser and waits for the local callback. The token
is cached on disk and refreshed silently on later commands.

App credentials come from --app-key/--app-secret or the DROPBOX_KEY and
DROPBOX_SECRET environment variables.`,
		RunE: runLogin,
	}

	cmd.Flags().StringVar(&flagAppKey, "app-key", "", "Dropbox app key")
	cmd.Flags().StringVar(&flagAppSecret, "app-secret", "", "Dropbox app secret")
	cmd.Flags().BoolVar(&flagForce, "force", false, "re-authorize even if a valid token is cached")

	return cmd
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the cached token",
		RunE:  runLogout,
	}
}

func newWhoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Display the authorized Dropbox account",
		RunE:  runWhoami,
	}
}

func runLogin(cmd *cobra.Command, _ []string) error {
	logger := buildLogger()
	m := newManager(flagAppKey, flagAppSecret, logger)

	rec, err := m.Authorize(cmd.Context(), flagForce)
	if err != nil {
		return err
	}

	if rec.Token.Expiry.IsZero() {
		statusf(flagQuiet, "Login successful (token does not expire).\n")
	} else {
		statusf(flagQuiet, "Login successful (token valid until %s).\n",
			rec.Token.Expiry.Local().Format("2006-01-02 15:04"))
	}

	return nil
}

func runLogout(_ *cobra.Command, _ []string) error {
	logger := buildLogger()
	m := newManager("", "", logger)

	removed, err := m.Logout()
	if err != nil {
		return err
	}

	if removed {
		statusf(flagQuiet, "Logged out.\n")
	} else {
		statusf(flagQuiet, "No cached token, already logged out.\n")
	}

	return nil
}

// whoamiOutput is the JSON schema for `whoami --json`.
type whoamiOutput struct {
	AccountID   string `json:"account_id"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
	AccountType string `json:"account_type"`
}

func runWhoami(cmd *cobra.Command, _ []string) error {
	logger := buildLogger()
	ctx := cmd.Context()

	client := newClient(ctx, logger)

	acct, err := client.CurrentAccount(ctx)
	if err != nil {
		return fmt.Errorf("fetching account: %w", err)
	}

	if flagJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		return enc.Encode(whoamiOutput{
			AccountID:   acct.AccountID,
			DisplayName: acct.Name.DisplayName,
			Email:       acct.Email,
			AccountType: acct.AccountType.Tag,
		})
	}

	fmt.Printf("Account: %s (%s)\n", acct.Name.DisplayName, acct.Email)
	fmt.Printf("ID:      %s\n", acct.AccountID)
	fmt.Printf("Type:    %s\n", acct.AccountType.Tag)

	return nil
}
