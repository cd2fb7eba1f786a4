package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	tapesqlite "github.com/tapwire/gateway/internal/adapter/outbound/tape/sqlite"
	"github.com/tapwire/gateway/internal/config"
)

var tapesCmd = &cobra.Command{
	Use:   "tapes",
	Short: "List and inspect recorded tapes",
}

var tapesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every tape registered in the sqlite tape index",
	Args:  cobra.NoArgs,
	RunE:  runTapesList,
}

var tapesInspectCmd = &cobra.Command{
	Use:   "inspect <tape-id>",
	Short: "Show metadata for a single recorded tape",
	Args:  cobra.ExactArgs(1),
	RunE:  runTapesInspect,
}

func init() {
	tapesCmd.AddCommand(tapesListCmd)
	tapesCmd.AddCommand(tapesInspectCmd)
	rootCmd.AddCommand(tapesCmd)
}

func openTapeIndex() (*tapesqlite.Index, error) {
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	cfg.SetDefaults()
	return tapesqlite.Open(cfg.Tape.IndexPath)
}

func runTapesList(cmd *cobra.Command, args []string) error {
	idx, err := openTapeIndex()
	if err != nil {
		return err
	}
	defer idx.Close()

	entries, err := idx.List(context.Background())
	if err != nil {
		return fmt.Errorf("list tapes: %w", err)
	}
	if len(entries) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no tapes recorded")
		return nil
	}
	for _, e := range entries {
		fmt.Fprintf(cmd.OutOrStdout(), "%s  session=%-12s transport=%-6s duration=%6dms  %s\n",
			e.TapeID, e.SessionID, e.TransportType, e.DurationMs, e.Path)
	}
	return nil
}

func runTapesInspect(cmd *cobra.Command, args []string) error {
	idx, err := openTapeIndex()
	if err != nil {
		return err
	}
	defer idx.Close()

	entry, err := idx.Get(context.Background(), args[0])
	if err != nil {
		return fmt.Errorf("tape not found: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "tape_id:          %s\n", entry.TapeID)
	fmt.Fprintf(cmd.OutOrStdout(), "session_id:       %s\n", entry.SessionID)
	fmt.Fprintf(cmd.OutOrStdout(), "path:             %s\n", entry.Path)
	fmt.Fprintf(cmd.OutOrStdout(), "protocol_version: %s\n", entry.ProtocolVersion)
	fmt.Fprintf(cmd.OutOrStdout(), "transport_type:   %s\n", entry.TransportType)
	fmt.Fprintf(cmd.OutOrStdout(), "created_at:       %s\n", entry.CreatedAt)
	fmt.Fprintf(cmd.OutOrStdout(), "duration_ms:      %d\n", entry.DurationMs)
	return nil
}
