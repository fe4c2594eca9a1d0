package main

import (
	"encoding/json"
	"fmt"
	"os"

	"telesend/internal/config"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func (a *app) configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Create and inspect the configuration",
		Args:  cobra.NoArgs,
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config template that reads credentials from TELESEND_* variables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := a.resolveConfigPath()
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("config already exists at %s (use --force to overwrite)", path)
			}
			if err := config.Save(path, config.Template()); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			fmt.Fprintln(a.stdout, path)
			return nil
		},
	}
	initCmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing config")
	cmd.AddCommand(initCmd)

	var asYAML bool
	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective config with secrets masked",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig(cmd)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			sanitized := config.Sanitize(cfg)
			var data []byte
			if asYAML {
				data, err = yaml.Marshal(sanitized)
			} else {
				data, err = json.MarshalIndent(sanitized, "", "  ")
				data = append(data, '\n')
			}
			if err != nil {
				return err
			}
			_, err = a.stdout.Write(data)
			return err
		},
	}
	showCmd.Flags().BoolVar(&asYAML, "yaml", false, "print YAML instead of JSON")
	cmd.AddCommand(showCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(a.stdout, a.resolveConfigPath())
		},
	})

	return cmd
}
