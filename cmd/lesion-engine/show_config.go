// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"
	"os"

	"github.com/k0kubun/pp"
	"github.com/spf13/cobra"
	"go.yaml.in/yaml/v3"
)

var showConfigCmd = &cobra.Command{
	Use:   "show-config",
	Short: "Print the resolved configuration",
	Long: `Show-config prints the configuration after defaults, the config file,
environment variables and flags have been merged. Use --yaml to get a
document that can be saved as lesion-engine.yaml.`,
	RunE: runShowConfig,
}

func init() {
	showConfigCmd.Flags().Bool("yaml", false, "print as YAML")
	rootCmd.AddCommand(showConfigCmd)
}

func runShowConfig(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig(v)
	if err != nil {
		return err
	}
	if asYAML, _ := cmd.Flags().GetBool("yaml"); asYAML {
		data, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("encoding config: %w", err)
		}
		_, err = os.Stdout.Write(data)
		return err
	}
	pp.Println(cfg)
	return nil
}
