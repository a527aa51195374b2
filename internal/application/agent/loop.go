// Package agent runs conversational turns: streaming model output, executing
// requested tool calls, and feeding their results back to the model until the
// turn completes naturally, errors, or is cancelled.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/herrald/beacon/internal/adapters/metrics"
	"github.com/herrald/beacon/internal/domain"
	"github.com/herrald/beacon/internal/domain/models"
	"github.com/herrald/beacon/internal/events"
	"github.com/herrald/beacon/internal/ports"
)

// maxToolRounds caps how many times a single turn may return to the model
// with tool results. A model stuck in a tool loop gets cut off, not killed.
const maxToolRounds = 5

// Loop executes turns against a fixed set of toolsets captured at
// construction. One Loop instance serves one turn; toolsets attached later
// do not join turns already in flight.
type Loop struct {
	llm      ports.LLMService
	bus      *events.Bus
	ids      ports.IDGenerator
	toolsets []ports.Toolset

	systemPrompt string

	// byName resolves a registered tool name to its owning toolset.
	byName map[string]ports.Toolset
	specs  []ports.LLMToolSpec
}

// TurnResult summarizes a finished turn. ToolCalls records each executed
// call in order; requests for unknown tool names are not in it.
type TurnResult struct {
	TurnID    string
	Text      string
	Usage     ports.TokenUsage
	ToolCalls []models.ToolCall
	Cancelled bool
}

// NewLoop captures the currently available toolsets. Registered tool names
// are server-qualified, so collisions across toolsets cannot happen; if two
// toolsets somehow advertise the same name, the first one attached wins.
func NewLoop(llm ports.LLMService, bus *events.Bus, ids ports.IDGenerator, systemPrompt string, toolsets []ports.Toolset) *Loop {
	l := &Loop{
		llm:          llm,
		bus:          bus,
		ids:          ids,
		toolsets:     toolsets,
		systemPrompt: systemPrompt,
		byName:       make(map[string]ports.Toolset),
	}

	for _, ts := range toolsets {
		for _, def := range ts.List() {
			if _, taken := l.byName[def.Name]; taken {
				continue
			}
			l.byName[def.Name] = ts
			l.specs = append(l.specs, ports.LLMToolSpec{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  def.InputSchema,
			})
		}
	}

	return l
}

// Run executes one turn over the given history. Cancellation via ctx is
// cooperative: it is observed at the next streamed token or tool-call
// boundary, and the partial text streamed so far is reported.
func (l *Loop) Run(ctx context.Context, history []ports.LLMMessage) (*TurnResult, error) {
	turnID := l.ids.GenerateTurnID()

	messages := make([]ports.LLMMessage, 0, len(history)+1)
	if l.systemPrompt != "" {
		messages = append(messages, ports.LLMMessage{Role: "system", Content: l.systemPrompt})
	}
	messages = append(messages, history...)

	result := &TurnResult{TurnID: turnID}

	for round := 0; ; round++ {
		// Past the round budget the model gets no tools, forcing a textual
		// wrap-up of whatever it has gathered.
		var stream <-chan ports.LLMStreamChunk
		var err error
		if len(l.specs) > 0 && round < maxToolRounds {
			stream, err = l.llm.ChatStreamWithTools(ctx, messages, l.specs)
		} else {
			stream, err = l.llm.ChatStream(ctx, messages)
		}
		if err != nil {
			metrics.TurnsTotal.WithLabelValues("error").Inc()
			l.publish(events.TurnError{TurnID: turnID, Message: err.Error(), Recoverable: false})
			return nil, err
		}

		roundText, toolCalls, err := l.consume(ctx, turnID, stream, result)
		result.Text += roundText
		if err != nil {
			if ctx.Err() != nil {
				return l.cancelled(turnID, result), nil
			}
			metrics.TurnsTotal.WithLabelValues("error").Inc()
			l.publish(events.TurnError{TurnID: turnID, Message: err.Error(), Recoverable: false})
			return nil, err
		}
		if ctx.Err() != nil {
			return l.cancelled(turnID, result), nil
		}

		if len(toolCalls) == 0 {
			metrics.TurnsTotal.WithLabelValues("complete").Inc()
			l.publish(events.RunComplete{TurnID: turnID, Usage: result.Usage})
			return result, nil
		}

		// The model's request and each tool's outcome go back into the
		// context; the next round streams with that knowledge.
		messages = append(messages, ports.LLMMessage{Role: "assistant", Content: roundText})
		for _, call := range toolCalls {
			outcome, done := l.executeCall(ctx, turnID, call, result)
			if done {
				return l.cancelled(turnID, result), nil
			}
			messages = append(messages, ports.LLMMessage{
				Role:       "tool",
				ToolCallID: call.ID,
				Name:       call.Name,
				Content:    outcome,
			})
		}
	}
}

// consume drains one model stream, forwarding deltas as events and gathering
// any requested tool calls.
func (l *Loop) consume(ctx context.Context, turnID string, stream <-chan ports.LLMStreamChunk, result *TurnResult) (string, []*ports.LLMToolCall, error) {
	var text string
	var toolCalls []*ports.LLMToolCall

	for {
		select {
		case <-ctx.Done():
			return text, nil, ctx.Err()
		case chunk, ok := <-stream:
			if !ok {
				return text, toolCalls, nil
			}
			if chunk.Error != nil {
				if ctx.Err() != nil {
					return text, nil, ctx.Err()
				}
				return text, nil, fmt.Errorf("%w: %v", domain.ErrLLMRequestFailed, chunk.Error)
			}
			if chunk.Content != "" {
				text += chunk.Content
				l.publish(events.TextDelta{TurnID: turnID, Delta: chunk.Content})
			}
			if chunk.Reasoning != "" {
				l.publish(events.ThinkingDelta{TurnID: turnID, Delta: chunk.Reasoning})
			}
			if chunk.ToolCall != nil {
				toolCalls = append(toolCalls, chunk.ToolCall)
			}
			if chunk.Usage != nil {
				result.Usage.PromptTokens += chunk.Usage.PromptTokens
				result.Usage.CompletionTokens += chunk.Usage.CompletionTokens
				result.Usage.TotalTokens += chunk.Usage.TotalTokens
			}
			if chunk.Done {
				return text, toolCalls, nil
			}
		}
	}
}

// executeCall runs one requested tool call and returns the text the model
// should see. done reports that the turn was cancelled at this boundary; a
// result arriving for an already-cancelled turn is discarded.
func (l *Loop) executeCall(ctx context.Context, turnID string, call *ports.LLMToolCall, result *TurnResult) (outcome string, done bool) {
	if ctx.Err() != nil {
		return "", true
	}

	ts, ok := l.byName[call.Name]
	if !ok {
		// No ToolCallStart for a name nothing advertises; the model just
		// hears that it asked for something that does not exist.
		slog.Warn("model requested unknown tool", "turn_id", turnID, "tool", call.Name)
		return fmt.Sprintf("error: %v", fmt.Errorf("%w: %s", domain.ErrToolNotFound, call.Name)), false
	}

	l.publish(events.ToolCallStart{TurnID: turnID, CallID: call.ID, Tool: call.Name})
	result.ToolCalls = append(result.ToolCalls, models.ToolCall{
		CallID:    call.ID,
		ToolName:  call.Name,
		Arguments: call.Arguments,
		ServerID:  ts.ServerID(),
	})

	start := time.Now()
	toolResult, err := ts.Execute(ctx, call.Name, call.Arguments)
	duration := time.Since(start)

	if ctx.Err() != nil {
		// The call may have finished on the server; its result is dropped.
		l.publish(events.ToolCallComplete{
			TurnID: turnID, CallID: call.ID, Tool: call.Name,
			Success: false, Result: "cancelled", Duration: duration,
		})
		return "", true
	}

	if err != nil {
		l.publish(events.ToolCallComplete{
			TurnID: turnID, CallID: call.ID, Tool: call.Name,
			Success: false, Result: err.Error(), Duration: duration,
		})
		return fmt.Sprintf("error: %s", err.Error()), false
	}

	text := toolResult.Text()
	l.publish(events.ToolCallComplete{
		TurnID: turnID, CallID: call.ID, Tool: call.Name,
		Success: toolResult.Success, Result: text, Duration: duration,
	})

	if !toolResult.Success {
		return fmt.Sprintf("error: %s", text), false
	}
	return text, false
}

func (l *Loop) cancelled(turnID string, result *TurnResult) *TurnResult {
	result.Cancelled = true
	metrics.TurnsTotal.WithLabelValues("cancelled").Inc()
	l.publish(events.TurnCancelled{TurnID: turnID, PartialText: result.Text})
	return result
}

func (l *Loop) publish(ev events.Event) {
	if l.bus != nil {
		l.bus.Publish(ev)
	}
}
