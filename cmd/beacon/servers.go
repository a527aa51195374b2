package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/herrald/beacon/internal/adapters/oauth"
	"github.com/herrald/beacon/internal/domain/models"
)

func serversCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "servers",
		Short: "Manage tool servers on a running beacon instance",
	}
	cmd.AddCommand(
		serversListCmd(),
		serversStartCmd(),
		serversStopCmd(),
		serversDeleteCmd(),
		serversOAuthCmd(),
	)
	return cmd
}

func apiURL(path string) string {
	return fmt.Sprintf("http://%s/api/v1%s", cfg.Server.Addr(), path)
}

func apiRequest(method, path string, out any) error {
	req, err := http.NewRequest(method, apiURL(path), nil)
	if err != nil {
		return err
	}
	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("is beacon running at %s? %w", cfg.Server.Addr(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s", apiErr.Error)
		}
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func serversListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List tool servers and their states",
		RunE: func(cmd *cobra.Command, args []string) error {
			var body struct {
				Servers []models.ServerStatus `json:"servers"`
			}
			if err := apiRequest(http.MethodGet, "/servers", &body); err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tSTATE\tTOOLS\tLAST ERROR")
			for _, s := range body.Servers {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", s.ID, s.Name, s.State, s.ToolCount, s.LastError)
			}
			return w.Flush()
		},
	}
}

func serversStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start <id>",
		Short: "Start a tool server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var status models.ServerStatus
			if err := apiRequest(http.MethodPost, "/servers/"+args[0]+"/start", &status); err != nil {
				return err
			}
			fmt.Printf("%s: %s (%d tools)\n", status.ID, status.State, status.ToolCount)
			return nil
		},
	}
}

func serversStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop <id>",
		Short: "Stop a tool server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var status models.ServerStatus
			if err := apiRequest(http.MethodPost, "/servers/"+args[0]+"/stop", &status); err != nil {
				return err
			}
			fmt.Printf("%s: %s\n", status.ID, status.State)
			return nil
		},
	}
}

func serversDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Stop and remove a tool server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := apiRequest(http.MethodDelete, "/servers/"+args[0], nil); err != nil {
				return err
			}
			fmt.Printf("%s deleted\n", args[0])
			return nil
		},
	}
}

func serversOAuthCmd() *cobra.Command {
	var authorizeURL string

	cmd := &cobra.Command{
		Use:   "oauth <id>",
		Short: "Authorize a tool server interactively",
		Long: `Opens the provider's authorization page in the browser and waits for
the loopback callback. The acquired token is written to the configuration;
restart or start the server afterwards to use it.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			serverID := args[0]
			found := false
			for _, ts := range cfg.ToolServers() {
				if ts.ID == serverID {
					found = true
					break
				}
			}
			if !found {
				return fmt.Errorf("tool server %q is not configured", serverID)
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
			defer cancel()

			flow := oauth.NewFlow(authorizeURL, oauth.NewBrowserOpener(), cfg)
			fmt.Println("Opening browser for authorization; waiting for callback...")
			token, err := flow.Run(ctx, serverID)
			if err != nil {
				return err
			}
			fmt.Printf("Token acquired (%s) and saved for %s.\n", maskSecret(token), serverID)
			return nil
		},
	}

	cmd.Flags().StringVar(&authorizeURL, "authorize-url", "", "the provider's authorization endpoint")
	cmd.MarkFlagRequired("authorize-url")
	return cmd
}
