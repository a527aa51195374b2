package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/herrald/beacon/internal/config"
)

// Version information (set via ldflags)
var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

var cfg *config.Config

func main() {
	rootCmd := &cobra.Command{
		Use:   "beacon",
		Short: "Beacon - tool-server runtime and agent loop",
		Long: `Beacon manages a fleet of MCP tool servers and runs an agent loop
that lets a language model call their tools while streaming its answer.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			return nil
		},
	}

	rootCmd.AddCommand(
		serveCmd(),
		chatCmd(),
		serversCmd(),
		configCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("beacon %s (commit %s, built %s)\n", version, commit, buildDate)
		},
	}
}

func configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("Server:")
			fmt.Printf("  Address: %s\n", cfg.Server.Addr())
			fmt.Println()

			fmt.Println("LLM:")
			fmt.Printf("  URL:         %s\n", cfg.LLM.URL)
			fmt.Printf("  Model:       %s\n", cfg.LLM.Model)
			fmt.Printf("  Max Tokens:  %d\n", cfg.LLM.MaxTokens)
			fmt.Printf("  Temperature: %.2f\n", cfg.LLM.Temperature)
			fmt.Printf("  API Key:     %s\n", maskSecret(cfg.LLM.APIKey))
			fmt.Println()

			servers := cfg.ToolServers()
			fmt.Printf("Tool servers (%d):\n", len(servers))
			for _, ts := range servers {
				target := ts.Command
				if ts.Transport == "http" {
					target = ts.URL
				}
				fmt.Printf("  %-16s %-6s %-40s enabled=%v\n", ts.ID, ts.Transport, target, ts.Enabled)
			}
			fmt.Println()

			fmt.Println("Environment variables:")
			fmt.Println("  BEACON_CONFIG, BEACON_SERVER_HOST, BEACON_SERVER_PORT")
			fmt.Println("  BEACON_LLM_URL, BEACON_LLM_API_KEY, BEACON_LLM_MODEL")
			fmt.Println("  BEACON_LLM_MAX_TOKENS, BEACON_LLM_TEMPERATURE")
			fmt.Println("  BEACON_SYSTEM_PROMPT, BEACON_TOOL_SERVERS")
			return nil
		},
	}
}

func maskSecret(s string) string {
	if s == "" {
		return "(not set)"
	}
	if len(s) <= 8 {
		return "(set)"
	}
	return s[:4] + "..." + s[len(s)-4:]
}
