package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/vidoc/internal/cli"
	"github.com/jackzampolin/vidoc/internal/config"
)

var configForce bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and initialize configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a commented default config file",
	Long: `Write the default configuration to --config, or ~/.vidoc/config.yaml.
An existing file is kept unless --force is given.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := cfgFile
		if path == "" {
			if err := vhome.EnsureExists(); err != nil {
				return err
			}
			path = vhome.ConfigPath()
		}
		if _, err := os.Stat(path); err == nil && !configForce {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
		if err := config.WriteDefault(path); err != nil {
			return err
		}
		fmt.Printf("wrote %s\n", path)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !output.Structured() {
			if f := cfgMgr.ConfigFile(); f != "" {
				fmt.Printf("# %s\n", f)
			} else {
				fmt.Println("# defaults (no config file)")
			}
		}
		return cli.Output(output, cfgMgr.Get())
	},
}

var configKeysCmd = &cobra.Command{
	Use:   "keys",
	Short: "List every config key with its default",
	RunE: func(cmd *cobra.Command, args []string) error {
		entries := config.DefaultEntries()
		if output.Structured() {
			return cli.Output(output, entries)
		}
		for _, e := range entries {
			fmt.Printf("%-28s %-12v %s\n", e.Key, e.Value, e.Description)
		}
		return nil
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "overwrite an existing file")

	configCmd.AddCommand(configInitCmd, configShowCmd, configKeysCmd)
	rootCmd.AddCommand(configCmd)
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
