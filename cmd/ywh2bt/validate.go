package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration file",
	Long: `Check the configuration file against the typed model: required fields,
tracker type discriminators, and referential integrity between programs and
the trackers they target. No network call is made.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := loadConfig(); err != nil {
			return err
		}
		fmt.Println(okStyle.Render("Configuration is valid."))
		return nil
	},
}
