package providers

import (
	"context"
	"testing"
)

type stubProvider struct {
	name string
}

func (s *stubProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	return &ChatResponse{Content: "stub", FinishReason: "stop"}, nil
}

func (s *stubProvider) ChatStream(ctx context.Context, req ChatRequest, onChunk func(StreamChunk)) (*ChatResponse, error) {
	return s.Chat(ctx, req)
}

func (s *stubProvider) DefaultModel() string { return "stub-model" }
func (s *stubProvider) Name() string         { return s.name }

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	if r.Len() != 0 {
		t.Fatalf("Len = %d, want 0", r.Len())
	}

	r.Register(&stubProvider{name: "anthropic"})
	r.Register(&stubProvider{name: "openai"})

	p, err := r.Get("anthropic")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if p.Name() != "anthropic" {
		t.Errorf("Name = %q", p.Name())
	}

	if _, err := r.Get("groq"); err == nil {
		t.Error("Get on missing provider should error")
	}

	names := r.Names()
	if len(names) != 2 || names[0] != "anthropic" || names[1] != "openai" {
		t.Errorf("Names = %v", names)
	}
}

func TestRegistryReplace(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubProvider{name: "openai"})
	r.Register(&stubProvider{name: "openai"})
	if r.Len() != 1 {
		t.Errorf("Len = %d, want 1 after re-register", r.Len())
	}
}
