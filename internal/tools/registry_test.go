package tools

import (
	"context"
	"strings"
	"testing"
)

type echoTool struct{}

func (echoTool) Name() string        { return "echo" }
func (echoTool) Description() string { return "Echo the given text." }

func (echoTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"text": map[string]interface{}{"type": "string"},
		},
		"required": []string{"text"},
	}
}

func (echoTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	text, _ := args["text"].(string)
	return NewResult("echo: " + text)
}

type panicTool struct{}

func (panicTool) Name() string                          { return "boom" }
func (panicTool) Description() string                   { return "Always panics." }
func (panicTool) Parameters() map[string]interface{}    { return map[string]interface{}{"type": "object"} }
func (panicTool) Execute(context.Context, map[string]interface{}) *Result {
	panic("kaboom")
}

type ctxTool struct{}

func (ctxTool) Name() string                       { return "whereami" }
func (ctxTool) Description() string                { return "Reports the thread key." }
func (ctxTool) Parameters() map[string]interface{} { return map[string]interface{}{"type": "object"} }
func (ctxTool) Execute(ctx context.Context, _ map[string]interface{}) *Result {
	return NewResult(ThreadKeyFromCtx(ctx) + "/" + ToolChannelFromCtx(ctx))
}

func TestRegistryExecute(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(echoTool{}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	res := r.Execute(context.Background(), "echo", `{"text":"hi"}`)
	if res.IsError {
		t.Fatalf("Execute errored: %s", res.ForLLM)
	}
	if res.ForLLM != "echo: hi" {
		t.Errorf("ForLLM = %q", res.ForLLM)
	}
}

func TestRegistryUnknownTool(t *testing.T) {
	r := NewRegistry()
	res := r.Execute(context.Background(), "nope", "{}")
	if !res.IsError || !strings.Contains(res.ForLLM, "unknown tool") {
		t.Errorf("unknown tool result = %+v", res)
	}
}

func TestRegistryValidatesArguments(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(echoTool{}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	tests := []struct {
		name string
		args string
	}{
		{"missing required", `{}`},
		{"wrong type", `{"text": 42}`},
		{"malformed json", `{"text":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := r.Execute(context.Background(), "echo", tt.args)
			if !res.IsError {
				t.Errorf("Execute(%q) accepted bad args: %+v", tt.args, res)
			}
		})
	}
}

func TestRegistryEmptyArgsBecomeEmptyObject(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(ctxTool{}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	res := r.Execute(context.Background(), "whereami", "")
	if res.IsError {
		t.Errorf("empty args rejected: %s", res.ForLLM)
	}
}

func TestRegistryRecoversFromPanic(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(panicTool{}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	res := r.Execute(context.Background(), "boom", "{}")
	if !res.IsError || !strings.Contains(res.ForLLM, "boom") {
		t.Errorf("panic result = %+v", res)
	}
}

func TestRegistryNilToolSkipped(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(nil); err != nil {
		t.Fatalf("Register(nil) = %v", err)
	}
	if len(r.Names()) != 0 {
		t.Errorf("Names = %v, want empty", r.Names())
	}
}

func TestProviderDefsKeepRegistrationOrder(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(echoTool{}); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(ctxTool{}); err != nil {
		t.Fatal(err)
	}

	defs := r.ProviderDefs()
	if len(defs) != 2 {
		t.Fatalf("defs length = %d, want 2", len(defs))
	}
	if defs[0].Function.Name != "echo" || defs[1].Function.Name != "whereami" {
		t.Errorf("defs order = %s, %s", defs[0].Function.Name, defs[1].Function.Name)
	}
	if defs[0].Type != "function" {
		t.Errorf("defs[0].Type = %q", defs[0].Type)
	}
}

func TestExecuteWithContextInjectsIdentity(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(ctxTool{}); err != nil {
		t.Fatal(err)
	}

	res := r.ExecuteWithContext(context.Background(), "whereami", "{}", "telegram", "42", "telegram:42")
	if res.ForLLM != "telegram:42/telegram" {
		t.Errorf("ForLLM = %q", res.ForLLM)
	}
}
