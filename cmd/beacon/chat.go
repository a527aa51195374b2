package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/herrald/beacon/internal/adapters/id"
	"github.com/herrald/beacon/internal/application/agent"
	"github.com/herrald/beacon/internal/application/tools/builtin"
	"github.com/herrald/beacon/internal/events"
	"github.com/herrald/beacon/internal/llm"
	"github.com/herrald/beacon/internal/ports"
	"github.com/herrald/beacon/internal/runtime"
)

func chatCmd() *cobra.Command {
	var noServers bool

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Interactive chat with tool access",
		Long: `Start an interactive chat session. Enabled tool servers are started
first and their tools are offered to the model alongside the built-in ones.
Ctrl-C cancels the current turn without ending the session.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			ids := id.New()

			bus := events.NewBus()
			defer bus.Close()

			manager := runtime.NewManager(cfg, bus, ids, runtime.Options{})
			if err := manager.LoadFromStore(); err != nil {
				return fmt.Errorf("load tool servers: %w", err)
			}
			if !noServers {
				startEnabledServers(ctx, manager)
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				manager.Shutdown(shutdownCtx)
			}()

			client := llm.NewClient(cfg.LLM.URL, cfg.LLM.APIKey, cfg.LLM.Model, cfg.LLM.MaxTokens, cfg.LLM.Temperature)
			service := llm.NewService(client)

			builtins := builtin.NewToolset(ids)

			stopPrinter := startEventPrinter(bus)
			defer stopPrinter()

			fmt.Printf("Chatting with %s. Type 'exit' or 'quit' to leave.\n", client.Model())
			fmt.Println(strings.Repeat("-", 72))

			var history []ports.LLMMessage
			scanner := bufio.NewScanner(os.Stdin)

			for {
				fmt.Print("\nYou: ")
				if !scanner.Scan() {
					break
				}
				input := strings.TrimSpace(scanner.Text())
				if input == "" {
					continue
				}
				if input == "exit" || input == "quit" {
					fmt.Println("Goodbye!")
					break
				}

				history = append(history, ports.LLMMessage{Role: "user", Content: input})

				fmt.Print("Assistant: ")
				// Each turn sees the toolsets available right now, so servers
				// started or recovered mid-session join the next turn.
				toolsets := append(manager.Toolsets(), ports.Toolset(builtins))
				loop := agent.NewLoop(service, bus, ids, cfg.Agent.SystemPrompt, toolsets)
				turnCtx, cancelTurn := signal.NotifyContext(ctx, os.Interrupt)
				result, err := loop.Run(turnCtx, history)
				cancelTurn()
				fmt.Println()

				if err != nil {
					fmt.Fprintf(os.Stderr, "error: %v\n", err)
					history = history[:len(history)-1]
					continue
				}
				if result.Cancelled {
					fmt.Println("(turn cancelled)")
				}
				if result.Text != "" {
					history = append(history, ports.LLMMessage{Role: "assistant", Content: result.Text})
				}
			}

			return scanner.Err()
		},
	}

	cmd.Flags().BoolVar(&noServers, "no-servers", false, "chat with built-in tools only, without starting tool servers")
	return cmd
}

// startEventPrinter renders the turn's stream events to the terminal.
func startEventPrinter(bus *events.Bus) func() {
	sub, cancel := bus.Subscribe()
	done := make(chan struct{})

	go func() {
		defer close(done)
		for ev := range sub {
			switch e := ev.(type) {
			case events.TextDelta:
				fmt.Print(e.Delta)
			case events.ToolCallStart:
				fmt.Printf("\n[tool %s]\n", e.Tool)
			case events.ToolCallComplete:
				if !e.Success {
					fmt.Printf("[tool %s failed: %s]\n", e.Tool, e.Result)
				}
			case events.ServerUnhealthy:
				fmt.Printf("\n[server %s unhealthy]\n", e.ServerID)
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}
