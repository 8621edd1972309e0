package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the resolved configuration",
	Long: `Config prints the configuration after applying the config file, CITEGRAPH_*
environment variables and flags to the defaults. Secrets are not printed.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		config, err := loadConfig()
		if err != nil {
			return err
		}
		if used := viper.ConfigFileUsed(); used != "" {
			fmt.Fprintf(os.Stderr, "Configuration file: %s\n", used)
		} else {
			fmt.Fprintln(os.Stderr, "No configuration file found (using defaults)")
		}

		// The JSON names are the config file keys; secrets have none.
		raw, err := json.Marshal(config)
		if err != nil {
			return err
		}
		values := map[string]any{}
		if err := json.Unmarshal(raw, &values); err != nil {
			return err
		}
		data, err := yaml.Marshal(values)
		if err != nil {
			return fmt.Errorf("error marshaling config: %w", err)
		}
		_, err = os.Stdout.Write(data)
		return err
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
}
