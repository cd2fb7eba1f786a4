// Package cmd provides the CLI commands for Sentinel Gate.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tapwire/gateway/internal/config"
)

var cfgFile string
var stateFilePath string

var rootCmd = &cobra.Command{
	Use:   "sentinel-gate",
	Short: "Sentinel Gate - MCP intercepting proxy",
	Long: `Sentinel Gate is an intercepting developer proxy for the Model Context
Protocol (MCP): it fronts or wraps an MCP server, applies a hot-reloadable
rule engine (continue/modify/block/mock/delay/pause) to every frame, audits
every tool call decision, and can record/replay entire sessions as tapes.

Quick start:
  1. Create a config file: sentinel-gate.yaml
  2. Run: sentinel-gate start

Configuration:
  Config is loaded from sentinel-gate.yaml in the current directory,
  $HOME/.sentinel-gate/, or /etc/sentinel-gate/.

  Environment variables can override config values with the SENTINEL_GATE_ prefix.
  Example: SENTINEL_GATE_SERVER_HTTP_ADDR=:9090

Commands:
  start       Start the reverse proxy (HTTP or stdio upstream)
  run         Spawn a forward-proxy session around a child MCP server
  record      Like run, but captures every frame to a tape
  replay      Re-emit a recorded tape's frames
  rules       Validate/reload a rule file without starting the proxy
  tapes       List and inspect recorded tapes
  stop        Stop the running server
  version     Print version information`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./sentinel-gate.yaml)")
	rootCmd.PersistentFlags().StringVar(&stateFilePath, "state", "", "path to state.json file (default: ./state.json)")
}

func initConfig() {
	config.InitViper(cfgFile)
}
