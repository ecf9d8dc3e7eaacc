package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/yeswehack/ywh2bugtracker/internal/sync"
	"github.com/yeswehack/ywh2bugtracker/internal/syncerr"
)

var synchronizeCmd = &cobra.Command{
	Use:     "synchronize",
	Aliases: []string{"sync"},
	Short:   "Run one synchronization round across all configured programs",
	Long: `Fetch candidate reports for every configured program and reconcile each
one against its target trackers: create missing issues, push new report
activity as tracker comments, and mirror tracker-side comments back to the
platform.

A failing (report, tracker) pair does not stop the run; its error is
reported and the pair is retried on the next round.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := loadConfig()
		if err != nil {
			return err
		}
		o := &sync.Orchestrator{
			Config:   root,
			Listener: progressListener{},
			TOTP:     totpPrompt,
		}
		result, err := o.Synchronize(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("%d report(s), %d pair(s): %d created, %d synchronized, %d failed\n",
			result.Reports, result.Pairs, result.Created, result.Synchronized, result.Failed)
		if result.Failed > 0 {
			return syncerr.New(syncerr.KindAdapter, "%d pair(s) failed", result.Failed)
		}
		return nil
	},
}
