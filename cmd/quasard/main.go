package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/quasar-relay/quasar/internal/config"
	"github.com/quasar-relay/quasar/internal/daemon"
	"github.com/quasar-relay/quasar/internal/logger"
)

var version = "dev"

func main() {
	root := &cobra.Command{
		Use:   "quasard",
		Short: "Quasar real-time audio/game relay server",
	}

	root.AddCommand(serveCmd(), statusCmd(), versionCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "start the relay server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := logger.Init(cfg.LogLevel, cfg.LogFile); err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			logger.Info("quasard starting", "http_addr", cfg.HTTPAddr(), "osc_addr", cfg.OSCAddr(), "pulsar_mode", cfg.PulsarMode)
			return daemon.Run(cfg)
		},
	}
}

func statusCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "query a running quasard instance's status",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := &http.Client{Timeout: 3 * time.Second}
			resp, err := client.Get(fmt.Sprintf("http://%s/api/status", addr))
			if err != nil {
				return fmt.Errorf("status request: %w", err)
			}
			defer resp.Body.Close()

			var status struct {
				Status          string `json:"status"`
				UptimeMS        int64  `json:"uptime_ms"`
				ClientsCount    int    `json:"clients_count"`
				GameSourceCount int    `json:"gameSources_count"`
			}
			if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
				return fmt.Errorf("decode status: %w", err)
			}
			fmt.Printf("status: %s\nuptime: %s\nbrowsers: %d\ngame sources: %d\n",
				status.Status, time.Duration(status.UptimeMS)*time.Millisecond, status.ClientsCount, status.GameSourceCount)
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:1985", "address of a running quasard instance")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "print the quasard version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println(version)
			return nil
		},
	}
}
