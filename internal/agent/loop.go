package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hatchdata/askdb/internal/providers"
	"github.com/hatchdata/askdb/internal/tools"
)

// DefaultStepLimit caps tool-loop iterations per run when the caller
// passes no limit.
const DefaultStepLimit = 10

// Loop drives the think, act, observe cycle for one agent role: call
// the model, execute any proposed tool calls, feed the observations
// back, repeat until the model answers in text or the step limit hits.
type Loop struct {
	agent    string
	provider providers.Provider
	model    string
	registry *tools.Registry
	maxSteps int
}

func newLoop(agent string, provider providers.Provider, model string, registry *tools.Registry, maxSteps int) *Loop {
	if maxSteps <= 0 {
		maxSteps = DefaultStepLimit
	}
	return &Loop{
		agent:    agent,
		provider: provider,
		model:    model,
		registry: registry,
		maxSteps: maxSteps,
	}
}

type loopOutput struct {
	text      string
	steps     int
	toolCalls []string
	usage     providers.Usage
}

func (l *Loop) run(ctx context.Context, req Request, system, user string) (*loopOutput, error) {
	messages := []providers.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: user},
	}

	out := &loopOutput{}
	for out.steps < l.maxSteps {
		out.steps++
		slog.Debug("agent step",
			"agent", l.agent, "run", req.RunID,
			"step", out.steps, "messages", len(messages))

		resp, err := l.provider.Chat(ctx, providers.ChatRequest{
			Messages: messages,
			Tools:    l.registry.ProviderDefs(),
			Model:    l.model,
			Options: map[string]interface{}{
				providers.OptMaxTokens:   4096,
				providers.OptTemperature: 0.1,
			},
		})
		if err != nil {
			return nil, fmt.Errorf("LLM call failed (step %d): %w", out.steps, err)
		}
		if resp.Usage != nil {
			out.usage.PromptTokens += resp.Usage.PromptTokens
			out.usage.CompletionTokens += resp.Usage.CompletionTokens
			out.usage.TotalTokens += resp.Usage.TotalTokens
		}

		if len(resp.ToolCalls) == 0 {
			out.text = strings.TrimSpace(resp.Content)
			return out, nil
		}

		messages = append(messages, providers.Message{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		// Tools share per-run state, so proposals execute sequentially
		// in proposal order.
		for _, tc := range resp.ToolCalls {
			argsJSON, _ := json.Marshal(tc.Arguments)
			slog.Info("tool call",
				"agent", l.agent, "run", req.RunID,
				"tool", tc.Name, "args_len", len(argsJSON))

			res := l.registry.ExecuteWithContext(ctx, tc.Name, string(argsJSON), req.Channel, req.ChatID, req.ThreadKey)
			out.toolCalls = append(out.toolCalls, tc.Name)

			if res.IsError {
				msg := res.ForLLM
				if len(msg) > 200 {
					msg = msg[:200] + "..."
				}
				slog.Warn("tool error", "agent", l.agent, "tool", tc.Name, "error", msg)
			}

			messages = append(messages, providers.Message{
				Role:       "tool",
				Content:    res.ForLLM,
				ToolCallID: tc.ID,
			})
		}

		// Cancellation is observed at the tool boundary.
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}

	slog.Warn("agent step limit reached", "agent", l.agent, "run", req.RunID, "steps", out.steps)
	return out, nil
}
