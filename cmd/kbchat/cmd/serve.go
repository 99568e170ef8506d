package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and WebSocket change feed",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer func() {
			if err := a.Close(); err != nil {
				log.Warn("Failed to close cleanly", "err", err)
			}
		}()

		if servePort > 0 {
			a.Config.Server.Port = servePort
		}
		if a.WatchConfig() {
			log.Info("Watching configuration", "file", a.Config.ConfigFileUsed())
		}
		if !a.Backend.Configured() {
			log.Warn("No API key configured; sends fail until one is set")
		}

		fmt.Fprintf(cmd.OutOrStdout(), "kbchat listening on http://%s\n", a.Addr())
		fmt.Fprintf(cmd.OutOrStdout(), "WebSocket: ws://%s/api/v1/ws\n", a.Addr())
		return a.Serve(ctx)
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Port to listen on (overrides config)")
	rootCmd.AddCommand(serveCmd)
}
