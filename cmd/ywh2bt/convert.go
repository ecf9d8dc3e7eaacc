package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/yeswehack/ywh2bugtracker/internal/config"
	"github.com/yeswehack/ywh2bugtracker/internal/syncerr"
)

var (
	convertDestFile   string
	convertDestFormat string
	convertOverride   bool
)

var convertCmd = &cobra.Command{
	Use:   "convert",
	Short: "Round-trip the configuration through the typed model",
	Long: `Load the configuration, validate it, and write it back in the requested
format. Use "-" as the destination file to write to standard output.
Secrets referenced as $ENV:NAME are written resolved; keep the output
out of version control.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if convertDestFile == "" {
			return usagef("--destination-file is required")
		}
		switch convertDestFormat {
		case "yaml", "json":
		default:
			return usagef("--destination-format must be yaml or json, got %q", convertDestFormat)
		}
		root, err := loadConfig()
		if err != nil {
			return err
		}

		data, err := config.Encode(root, convertDestFormat)
		if err != nil {
			return err
		}
		if convertDestFile == "-" {
			_, err := os.Stdout.Write(data)
			return err
		}
		if !convertOverride {
			if _, err := os.Stat(convertDestFile); err == nil {
				return syncerr.New(syncerr.KindConfiguration,
					"%s exists; pass --override to replace it", convertDestFile)
			}
		}
		if err := os.WriteFile(convertDestFile, data, 0o600); err != nil {
			return syncerr.Wrap(syncerr.KindConfiguration, err, "writing %s", convertDestFile)
		}
		fmt.Printf("Wrote %s\n", convertDestFile)
		return nil
	},
}

func init() {
	convertCmd.Flags().StringVar(&convertDestFile, "destination-file", "", "output path, or - for stdout")
	convertCmd.Flags().StringVar(&convertDestFormat, "destination-format", "yaml", "output format: yaml or json")
	convertCmd.Flags().BoolVar(&convertOverride, "override", false, "replace the destination file if it exists")
}
