// Command offsyncd hosts the offsync background context: the SyncBridge
// websocket endpoint, the cache sync handler, the replay queue and an optional
// capture proxy for mutating requests.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/unkn0wn-root/offsync/config"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "offsyncd",
	Short:         "offline-first sync daemon",
	Long:          "offsyncd persists cache writes posted over the SyncBridge and replays\nmutating requests that failed while the network was away.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "TOML config file (env OFFSYNC_* overrides it)")
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return cfg, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "offsyncd:", err)
		os.Exit(1)
	}
}
