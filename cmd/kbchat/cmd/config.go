package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/entrepeneur4lyf/kbchat/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration as TOML",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath, debug)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if file := cfg.ConfigFileUsed(); file != "" {
			fmt.Fprintf(out, "# loaded from %s\n", file)
		} else {
			fmt.Fprintln(out, "# no config file found, showing defaults")
		}
		fmt.Fprintf(out, "# state: %s\n", cfg.StatePath())
		return cfg.WriteTOML(out)
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
}
