package agent

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/hatchdata/askdb/internal/providers"
	"github.com/hatchdata/askdb/internal/tools"
)

// stubTool records its invocations and returns a canned result.
type stubTool struct {
	name   string
	result *tools.Result
	onExec func(ctx context.Context)
	calls  int
}

func (t *stubTool) Name() string        { return t.name }
func (t *stubTool) Description() string { return "test stub" }

func (t *stubTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}

func (t *stubTool) Execute(ctx context.Context, args map[string]interface{}) *tools.Result {
	t.calls++
	if t.onExec != nil {
		t.onExec(ctx)
	}
	if t.result != nil {
		return t.result
	}
	return tools.NewResult("ok from " + t.name)
}

func stubRegistry(t *testing.T, stubs ...tools.Tool) *tools.Registry {
	t.Helper()
	r := tools.NewRegistry()
	for _, s := range stubs {
		if err := r.Register(s); err != nil {
			t.Fatalf("register %s: %v", s.Name(), err)
		}
	}
	return r
}

func TestLoopReturnsTextWithoutTools(t *testing.T) {
	provider := &queuedProvider{script: []*providers.ChatResponse{
		textResponse("  hello there  "),
	}}
	loop := newLoop("test", provider, "", stubRegistry(t), 0)

	out, err := loop.run(context.Background(), Request{RunID: "r1"}, "system", "user")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out.text != "hello there" {
		t.Errorf("text = %q, want trimmed content", out.text)
	}
	if out.steps != 1 || len(out.toolCalls) != 0 {
		t.Errorf("steps = %d, toolCalls = %v", out.steps, out.toolCalls)
	}
}

func TestLoopFeedsObservationsBack(t *testing.T) {
	stub := &stubTool{name: "alpha", result: tools.NewResult("alpha says hi")}
	provider := &queuedProvider{script: []*providers.ChatResponse{
		toolCallResponse(providers.ToolCall{ID: "c1", Name: "alpha", Arguments: map[string]interface{}{}}),
		textResponse("done"),
	}}
	loop := newLoop("test", provider, "", stubRegistry(t, stub), 0)

	out, err := loop.run(context.Background(), Request{RunID: "r1"}, "system", "user")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out.text != "done" || out.steps != 2 {
		t.Errorf("text = %q, steps = %d", out.text, out.steps)
	}
	if joinCalls(out.toolCalls) != "alpha" {
		t.Errorf("toolCalls = %v", out.toolCalls)
	}
	if stub.calls != 1 {
		t.Errorf("stub executed %d times", stub.calls)
	}

	// Second request must carry the assistant proposal and the tool
	// observation.
	if len(provider.reqs) != 2 {
		t.Fatalf("provider requests = %d", len(provider.reqs))
	}
	msgs := provider.reqs[1].Messages
	if len(msgs) != 4 {
		t.Fatalf("second request has %d messages, want system/user/assistant/tool", len(msgs))
	}
	assistant := msgs[2]
	if assistant.Role != "assistant" || len(assistant.ToolCalls) != 1 || assistant.ToolCalls[0].Name != "alpha" {
		t.Errorf("assistant turn = %+v", assistant)
	}
	obs := msgs[3]
	if obs.Role != "tool" || obs.ToolCallID != "c1" || obs.Content != "alpha says hi" {
		t.Errorf("tool observation = %+v", obs)
	}
}

func TestLoopUnknownToolFlowsAsValue(t *testing.T) {
	provider := &queuedProvider{script: []*providers.ChatResponse{
		toolCallResponse(providers.ToolCall{ID: "c9", Name: "nope", Arguments: map[string]interface{}{}}),
		textResponse("recovered"),
	}}
	loop := newLoop("test", provider, "", stubRegistry(t), 0)

	out, err := loop.run(context.Background(), Request{RunID: "r1"}, "system", "user")
	if err != nil {
		t.Fatalf("unknown tool must not abort the run: %v", err)
	}
	if out.text != "recovered" {
		t.Errorf("text = %q", out.text)
	}
	obs := provider.reqs[1].Messages[3]
	if !strings.Contains(obs.Content, "unknown tool: nope") {
		t.Errorf("observation = %q", obs.Content)
	}
}

func TestLoopStepLimit(t *testing.T) {
	stub := &stubTool{name: "alpha"}
	call := toolCallResponse(providers.ToolCall{ID: "c1", Name: "alpha", Arguments: map[string]interface{}{}})
	provider := &queuedProvider{script: []*providers.ChatResponse{call, call, call}}
	loop := newLoop("test", provider, "", stubRegistry(t, stub), 3)

	out, err := loop.run(context.Background(), Request{RunID: "r1"}, "system", "user")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out.steps != 3 || out.text != "" {
		t.Errorf("steps = %d, text = %q; want the loop to stop at the limit", out.steps, out.text)
	}
	if stub.calls != 3 {
		t.Errorf("stub executed %d times", stub.calls)
	}
}

func TestLoopDefaultStepLimit(t *testing.T) {
	loop := newLoop("test", &queuedProvider{}, "", stubRegistry(t), 0)
	if loop.maxSteps != DefaultStepLimit {
		t.Errorf("maxSteps = %d, want %d", loop.maxSteps, DefaultStepLimit)
	}
}

func TestLoopStopsAtToolBoundaryOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	stub := &stubTool{name: "alpha", onExec: func(context.Context) { cancel() }}
	provider := &queuedProvider{script: []*providers.ChatResponse{
		toolCallResponse(providers.ToolCall{ID: "c1", Name: "alpha", Arguments: map[string]interface{}{}}),
		textResponse("never requested"),
	}}
	loop := newLoop("test", provider, "", stubRegistry(t, stub), 0)

	_, err := loop.run(ctx, Request{RunID: "r1"}, "system", "user")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if provider.calls != 1 {
		t.Errorf("provider called %d times after cancellation", provider.calls)
	}
}

func TestLoopWrapsProviderError(t *testing.T) {
	provider := &queuedProvider{} // empty script errors on first call
	loop := newLoop("test", provider, "", stubRegistry(t), 0)

	_, err := loop.run(context.Background(), Request{RunID: "r1"}, "system", "user")
	if err == nil || !strings.Contains(err.Error(), "LLM call failed (step 1)") {
		t.Errorf("err = %v", err)
	}
}
