package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/herrald/beacon/internal/adapters/circuitbreaker"
	"github.com/herrald/beacon/internal/domain"
	"github.com/herrald/beacon/internal/ports"
)

// RequestTimeout is the maximum time one model request may run, streaming
// included.
const RequestTimeout = 2 * time.Minute

// Service implements ports.LLMService on top of the chat completions client,
// adding a circuit breaker and a per-request deadline.
type Service struct {
	client  *Client
	breaker *circuitbreaker.CircuitBreaker
}

func NewService(client *Client) *Service {
	return &Service{
		client:  client,
		breaker: circuitbreaker.New(5, 30*time.Second),
	}
}

// ChatStream opens a streaming chat request.
func (s *Service) ChatStream(parentCtx context.Context, messages []ports.LLMMessage) (<-chan ports.LLMStreamChunk, error) {
	return s.stream(parentCtx, messages, nil)
}

// ChatStreamWithTools opens a streaming chat request offering tools.
func (s *Service) ChatStreamWithTools(parentCtx context.Context, messages []ports.LLMMessage, tools []ports.LLMToolSpec) (<-chan ports.LLMStreamChunk, error) {
	return s.stream(parentCtx, messages, convertTools(tools))
}

func (s *Service) stream(parentCtx context.Context, messages []ports.LLMMessage, tools []Tool) (<-chan ports.LLMStreamChunk, error) {
	ctx, cancel := context.WithTimeout(parentCtx, RequestTimeout)

	var clientChan <-chan StreamChunk
	err := s.breaker.Execute(func() error {
		var err error
		clientChan, err = s.client.chatStream(ctx, convertMessages(messages), tools)
		return err
	})
	if err != nil {
		cancel()
		if err == circuitbreaker.ErrCircuitOpen {
			return nil, fmt.Errorf("%w: %v", domain.ErrLLMUnavailable, err)
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrLLMRequestFailed, err)
	}

	outputChan := make(chan ports.LLMStreamChunk, 10)
	go func() {
		defer cancel()
		convertStreamChunks(ctx, clientChan, outputChan)
	}()

	return outputChan, nil
}

func convertMessages(messages []ports.LLMMessage) []ChatMessage {
	chatMessages := make([]ChatMessage, len(messages))
	for i, msg := range messages {
		chatMessages[i] = ChatMessage{
			Role:       msg.Role,
			Content:    msg.Content,
			ToolCallID: msg.ToolCallID,
			Name:       msg.Name,
		}
	}
	return chatMessages
}

func convertTools(tools []ports.LLMToolSpec) []Tool {
	out := make([]Tool, len(tools))
	for i, tool := range tools {
		out[i] = Tool{
			Type: "function",
			Function: ToolFunction{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.Parameters,
			},
		}
	}
	return out
}

// convertStreamChunks forwards client chunks into the port shape until the
// stream closes or the context ends.
func convertStreamChunks(ctx context.Context, clientChan <-chan StreamChunk, outputChan chan<- ports.LLMStreamChunk) {
	defer close(outputChan)

	for {
		select {
		case <-ctx.Done():
			outputChan <- ports.LLMStreamChunk{Error: ctx.Err()}
			return
		case chunk, ok := <-clientChan:
			if !ok {
				return
			}

			portChunk := ports.LLMStreamChunk{
				Content:   chunk.Content,
				Reasoning: chunk.Reasoning,
				Done:      chunk.Done,
				Error:     chunk.Error,
			}

			if chunk.Usage != nil {
				portChunk.Usage = &ports.TokenUsage{
					PromptTokens:     chunk.Usage.PromptTokens,
					CompletionTokens: chunk.Usage.CompletionTokens,
					TotalTokens:      chunk.Usage.TotalTokens,
				}
			}

			if chunk.ToolCall != nil {
				var args map[string]any
				if err := json.Unmarshal([]byte(chunk.ToolCall.Function.Arguments), &args); err != nil {
					outputChan <- ports.LLMStreamChunk{
						Error: fmt.Errorf("failed to parse tool call arguments: %w", err),
					}
					continue
				}

				portChunk.ToolCall = &ports.LLMToolCall{
					ID:        chunk.ToolCall.ID,
					Name:      chunk.ToolCall.Function.Name,
					Arguments: args,
				}
			}

			outputChan <- portChunk
		}
	}
}
