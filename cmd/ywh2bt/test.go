package main

import (
	"github.com/spf13/cobra"

	"github.com/yeswehack/ywh2bugtracker/internal/sync"
	"github.com/yeswehack/ywh2bugtracker/internal/syncerr"
)

var testCmd = &cobra.Command{
	Use:   "test",
	Short: "Probe every configured platform and tracker",
	Long: `Authenticate against each configured YesWeHack account and run the
connectivity check of each configured tracker. Nothing is created or
modified anywhere.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := loadConfig()
		if err != nil {
			return err
		}
		tester := &sync.Tester{
			Config:   root,
			Listener: progressListener{},
			TOTP:     totpPrompt,
		}
		results := tester.Run(cmd.Context())
		if !sync.Passed(results) {
			return syncerr.New(syncerr.KindAuthentication, "one or more endpoints failed")
		}
		return nil
	},
}
