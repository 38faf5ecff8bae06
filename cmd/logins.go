package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-auth/internal/config"
	"github.com/kozaktomas/face-auth/internal/names"
)

var loginsCmd = &cobra.Command{
	Use:   "logins",
	Short: "List recent successful logins",
	Long: `List the most recent successful face logins, newest first.

Examples:
  face-auth logins --limit 20
  face-auth logins --name "joao" --json`,
	RunE: runLogins,
}

func init() {
	rootCmd.AddCommand(loginsCmd)

	loginsCmd.Flags().Int("limit", 50, "Maximum number of logins to show")
	loginsCmd.Flags().String("name", "", "Only show users whose name contains this text (accent-insensitive)")
	loginsCmd.Flags().Bool("json", false, "Output as JSON")
}

// LoginOutput is one row of the --json output of logins
type LoginOutput struct {
	IdentityID  string    `json:"identity_id"`
	DisplayName string    `json:"display_name"`
	LoggedAt    time.Time `json:"logged_at"`
}

func runLogins(cmd *cobra.Command, args []string) error {
	limit := mustGetInt(cmd, "limit")
	nameQuery := mustGetString(cmd, "name")
	jsonOutput := mustGetBool(cmd, "json")

	ctx := context.Background()
	cfg := config.Load()

	st, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	events, err := st.backend.RecentLogins(ctx, limit)
	if err != nil {
		return fmt.Errorf("listing logins: %w", err)
	}

	rows := make([]LoginOutput, 0, len(events))
	for _, ev := range events {
		rows = append(rows, LoginOutput{IdentityID: ev.IdentityID, DisplayName: ev.DisplayName, LoggedAt: ev.LoggedAt})
	}
	rows = names.Filter(rows, nameQuery, func(r LoginOutput) string { return r.DisplayName })

	if jsonOutput {
		return outputJSON(rows)
	}
	if len(rows) == 0 {
		fmt.Println("No logins found.")
		return nil
	}
	for _, r := range rows {
		fmt.Printf("%s  %-8s %s\n", r.LoggedAt.Local().Format("2006-01-02 15:04:05"), r.IdentityID, r.DisplayName)
	}
	return nil
}
