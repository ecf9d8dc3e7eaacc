package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/yeswehack/ywh2bugtracker/internal/config"
)

var schemaFormat string

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Dump the configuration schema",
	Long: `Print the configuration schema derived from the typed model. The json
format is a JSON Schema document; text and markdown are human-readable
field tables.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		switch schemaFormat {
		case "text":
			fmt.Print(config.SchemaText())
		case "markdown":
			fmt.Print(config.SchemaMarkdown())
		case "json":
			data, err := config.SchemaJSON()
			if err != nil {
				return err
			}
			_, err = os.Stdout.Write(data)
			return err
		default:
			return usagef("--format must be text, markdown or json, got %q", schemaFormat)
		}
		return nil
	},
}

func init() {
	schemaCmd.Flags().StringVar(&schemaFormat, "format", "text", "output format: text, markdown or json")
}
