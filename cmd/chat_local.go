package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/google/uuid"

	"github.com/hatchdata/askdb/internal/config"
	"github.com/hatchdata/askdb/internal/database"
	"github.com/hatchdata/askdb/internal/export"
	"github.com/hatchdata/askdb/internal/memory"
	"github.com/hatchdata/askdb/internal/orchestrator"
	"github.com/hatchdata/askdb/internal/providers"
)

// localAssistant is the in-process fallback when no gateway is running.
type localAssistant struct {
	orch    *orchestrator.Orchestrator
	mem     *memory.Store
	model   string
	dialect string
	close   func()
}

func runChatLocal(cfg *config.Config, message, threadID string) {
	assistant, err := bootstrapLocalAssistant(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer assistant.close()

	threadKey := memory.ThreadKey("cli", threadID)

	ask := func(question string) {
		streamed := false
		reply, err := assistant.orch.Stream(context.Background(), orchestrator.Request{
			ThreadKey: threadKey,
			Channel:   "cli",
			ChatID:    threadID,
			Message:   question,
		}, func(chunk string) {
			streamed = true
			fmt.Print(chunk)
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "\nError: %v\n", err)
			return
		}
		if streamed {
			fmt.Println()
		} else {
			fmt.Println(reply.Text)
		}
		if reply.FilePath != "" {
			fmt.Fprintf(os.Stderr, "CSV export: %s\n", reply.FilePath)
		}
	}

	if message != "" {
		ask(message)
		return
	}

	fmt.Fprintf(os.Stderr, "\nAskDB Interactive Chat — Local Mode\n")
	fmt.Fprintf(os.Stderr, "Model: %s | Database: %s\n", assistant.model, assistant.dialect)
	fmt.Fprintf(os.Stderr, "Thread: %s\n", threadID)
	fmt.Fprintf(os.Stderr, "Type \"exit\" to quit, \"/new\" for a fresh thread, \"/reset\" to clear history\n\n")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	scanner := bufio.NewScanner(os.Stdin)
	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(os.Stderr, "\nGoodbye!")
			return
		default:
		}

		fmt.Fprint(os.Stderr, "You: ")
		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			fmt.Fprintln(os.Stderr, "Goodbye!")
			return
		}
		if input == "/new" {
			threadID = uuid.NewString()[:8]
			threadKey = memory.ThreadKey("cli", threadID)
			fmt.Fprintf(os.Stderr, "New thread: %s\n\n", threadID)
			continue
		}
		if input == "/reset" {
			assistant.mem.Clear(threadKey)
			fmt.Fprintln(os.Stderr, "Conversation history cleared.")
			continue
		}

		fmt.Println()
		ask(input)
		fmt.Println()
	}
}

// bootstrapLocalAssistant builds a minimal orchestrator for CLI usage.
func bootstrapLocalAssistant(cfg *config.Config) (*localAssistant, error) {
	registry := providers.NewRegistry()
	registerProviders(registry, cfg)

	provider, err := registry.Get(cfg.Agents.Defaults.Provider)
	if err != nil {
		names := registry.Names()
		if len(names) == 0 {
			return nil, fmt.Errorf("no providers configured, run 'askdb onboard' first")
		}
		provider, _ = registry.Get(names[0])
	}
	model := cfg.Agents.Defaults.Model
	if model == "" {
		model = provider.DefaultModel()
	}

	db, err := database.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open analytics database: %w", err)
	}

	mem := memory.NewStore(cfg.Conversation)

	exporter, err := export.New(cfg)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("prepare export directory: %w", err)
	}

	orch, err := orchestrator.New(orchestrator.Deps{
		Provider:  provider,
		Model:     model,
		Dialect:   db.Driver(),
		StepLimit: cfg.Agents.Defaults.MaxToolIterations,
		DB:        db,
		Memory:    mem,
		Exporter:  exporter,
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("build orchestrator: %w", err)
	}

	return &localAssistant{
		orch:    orch,
		mem:     mem,
		model:   model,
		dialect: db.Driver(),
		close:   func() { _ = db.Close() },
	}, nil
}
