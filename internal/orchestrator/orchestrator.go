// Package orchestrator is the single entry point for inbound chat
// messages: it appends the message to the thread, classifies intent,
// dispatches to the matching agent, and persists the assistant reply.
// Messages within one thread are processed strictly in order; distinct
// threads run concurrently.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hatchdata/askdb/internal/agent"
	"github.com/hatchdata/askdb/internal/database"
	"github.com/hatchdata/askdb/internal/export"
	"github.com/hatchdata/askdb/internal/memory"
	"github.com/hatchdata/askdb/internal/providers"
	"github.com/hatchdata/askdb/internal/router"
)

var tracer = otel.Tracer("askdb/orchestrator")

const (
	// DefaultTimeout bounds the wall-clock time for one message.
	DefaultTimeout = 60 * time.Second

	// streamChunkSize is the rune length of outbound stream chunks.
	streamChunkSize = 50

	// internalErrorText is shown when processing fails in a way no
	// agent could explain. Details go to the log under the message id.
	internalErrorText = "Something went wrong while processing your message. Please try again."
)

// Request is one inbound chat message.
type Request struct {
	ThreadKey string // stable thread identity, e.g. "telegram:12345"
	Channel   string
	ChatID    string
	Message   string
}

// Reply is the terminal outcome of one processed message. Failures are
// folded into Text; callers never see an error unless the request
// context itself was cancelled.
type Reply struct {
	Text       string
	Intent     router.Intent
	Confidence float64
	FilePath   string // CSV attachment for the transport to upload, if any
	MessageID  string // correlation id, also in every log line for this message
}

// Deps wires an Orchestrator.
type Deps struct {
	Provider  providers.Provider
	Model     string
	Dialect   string
	StepLimit int
	DB        *database.DB
	Memory    *memory.Store
	Exporter  *export.Exporter
	Timeout   time.Duration // zero means DefaultTimeout
	IdleTTL   time.Duration // thread-state eviction; zero disables the sweeper
}

// Orchestrator routes messages to the four intent agents.
type Orchestrator struct {
	agents  map[router.Intent]agent.Agent
	mem     *memory.Store
	threads *threadStates
	timeout time.Duration
	idleTTL time.Duration
}

func New(deps Deps) (*Orchestrator, error) {
	sqlQuery, err := agent.NewSQLQuery(deps.Provider, deps.Model, deps.Dialect, deps.DB, deps.Memory, deps.StepLimit)
	if err != nil {
		return nil, fmt.Errorf("build sql query agent: %w", err)
	}
	csvExport, err := agent.NewCSVExport(deps.Memory, deps.Exporter)
	if err != nil {
		return nil, fmt.Errorf("build csv export agent: %w", err)
	}
	retrieval, err := agent.NewSQLRetrieval(deps.Memory)
	if err != nil {
		return nil, fmt.Errorf("build sql retrieval agent: %w", err)
	}

	timeout := deps.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	return &Orchestrator{
		agents: map[router.Intent]agent.Agent{
			router.IntentSQLQuery:     sqlQuery,
			router.IntentCSVExport:    csvExport,
			router.IntentSQLRetrieval: retrieval,
			router.IntentOffTopic:     agent.NewOffTopic(),
		},
		mem:     deps.Memory,
		threads: newThreadStates(),
		timeout: timeout,
		idleTTL: deps.IdleTTL,
	}, nil
}

// Start launches the idle thread-state sweeper. Safe to skip for
// short-lived processes.
func (o *Orchestrator) Start(ctx context.Context) {
	o.threads.startSweeper(ctx, 10*time.Minute, o.idleTTL)
}

// Process handles one message and returns the terminal reply.
func (o *Orchestrator) Process(ctx context.Context, req Request) (*Reply, error) {
	return o.run(ctx, req, nil)
}

// Stream handles one message, delivering the reply text through
// onChunk in order before returning the terminal reply. Chunks stop at
// termination; the callback is never invoked concurrently.
func (o *Orchestrator) Stream(ctx context.Context, req Request, onChunk func(string)) (*Reply, error) {
	return o.run(ctx, req, onChunk)
}

func (o *Orchestrator) run(ctx context.Context, req Request, onChunk func(string)) (reply *Reply, err error) {
	start := time.Now()
	messageID := uuid.NewString()

	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("message processing panicked",
				"thread", req.ThreadKey, "message_id", messageID, "panic", rec)
			o.mem.AddAssistantMessage(req.ThreadKey, internalErrorText)
			emitChunks(onChunk, internalErrorText)
			reply = &Reply{Text: internalErrorText, MessageID: messageID}
			err = nil
		}
	}()

	st := o.threads.lock(req.ThreadKey)
	defer o.threads.unlock(st)

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	runCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	runCtx, span := tracer.Start(runCtx, "chat.process", trace.WithAttributes(
		attribute.String("chat.thread", req.ThreadKey),
		attribute.String("chat.channel", req.Channel),
		attribute.String("chat.message_id", messageID),
	))
	defer span.End()

	o.mem.AddUserMessage(req.ThreadKey, req.Message)
	history := o.mem.History(req.ThreadKey)

	decision := router.Classify(req.Message, history, st.lastIntent)
	st.lastIntent = decision.Intent
	span.SetAttributes(
		attribute.String("chat.intent", string(decision.Intent)),
		attribute.Float64("chat.confidence", decision.Confidence),
	)
	slog.Info("intent classified",
		"thread", req.ThreadKey, "message_id", messageID,
		"intent", decision.Intent, "confidence", decision.Confidence,
		"reasoning", decision.Reasoning)

	a, ok := o.agents[decision.Intent]
	if !ok {
		slog.Warn("no agent for intent, falling back to sql_query", "intent", decision.Intent)
		a = o.agents[router.IntentSQLQuery]
	}

	res, runErr := a.Run(runCtx, agent.Request{
		ThreadKey: req.ThreadKey,
		Message:   req.Message,
		History:   history,
		RunID:     messageID,
		Channel:   req.Channel,
		ChatID:    req.ChatID,
	})
	if runErr != nil {
		// Transport cancellation persists nothing: there is no one
		// left to read an assistant message.
		if ctx.Err() != nil {
			slog.Warn("message cancelled",
				"thread", req.ThreadKey, "message_id", messageID, "error", ctx.Err())
			return nil, ctx.Err()
		}

		text := errorText(decision.Intent, runErr)
		span.RecordError(runErr)
		span.SetStatus(codes.Error, "agent run failed")
		slog.Error("agent run failed",
			"thread", req.ThreadKey, "message_id", messageID,
			"agent", a.Name(), "error", runErr)
		o.mem.AddAssistantMessage(req.ThreadKey, text)
		emitChunks(onChunk, text)
		return &Reply{
			Text:       text,
			Intent:     decision.Intent,
			Confidence: decision.Confidence,
			MessageID:  messageID,
		}, nil
	}

	emitChunks(onChunk, res.Text)
	o.mem.AddAssistantMessage(req.ThreadKey, res.Text)

	slog.Info("message processed",
		"thread", req.ThreadKey, "message_id", messageID,
		"intent", decision.Intent, "agent", a.Name(),
		"steps", res.Steps, "tools", len(res.ToolCalls),
		"stored", res.Stored, "duration_ms", time.Since(start).Milliseconds())

	return &Reply{
		Text:       res.Text,
		Intent:     decision.Intent,
		Confidence: decision.Confidence,
		FilePath:   res.FilePath,
		MessageID:  messageID,
	}, nil
}

// errorText folds an agent failure into the user-facing reply for its
// intent.
func errorText(intent router.Intent, err error) string {
	switch intent {
	case router.IntentSQLQuery:
		return fmt.Sprintf("I encountered an error processing your query: %v", err)
	case router.IntentCSVExport:
		return fmt.Sprintf("I encountered an error processing your CSV export request: %v", err)
	case router.IntentSQLRetrieval:
		return fmt.Sprintf("I encountered an error processing your SQL retrieval request: %v", err)
	default:
		return fmt.Sprintf("I encountered an error processing your request: %v", err)
	}
}

// emitChunks re-chunks terminal text for transports that render
// incrementally. Boundaries are rune-aligned.
func emitChunks(onChunk func(string), text string) {
	if onChunk == nil || text == "" {
		return
	}
	runes := []rune(text)
	for i := 0; i < len(runes); i += streamChunkSize {
		end := i + streamChunkSize
		if end > len(runes) {
			end = len(runes)
		}
		onChunk(string(runes[i:end]))
	}
}
