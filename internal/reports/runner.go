// Package reports runs configured questions through the assistant on a
// cron schedule and delivers the answers to chat channels. A daily
// revenue digest is one config entry, no code.
package reports

import (
	"context"
	"log/slog"
	"time"

	"github.com/adhocore/gronx"

	"github.com/hatchdata/askdb/internal/bus"
	"github.com/hatchdata/askdb/internal/config"
	"github.com/hatchdata/askdb/internal/orchestrator"
)

// Processor runs one question through the assistant. Satisfied by
// *orchestrator.Orchestrator.
type Processor interface {
	Process(ctx context.Context, req orchestrator.Request) (*orchestrator.Reply, error)
}

// Runner evaluates five-field cron expressions once a minute and fires
// the matching reports.
type Runner struct {
	reports []config.ReportConfig
	proc    Processor
	bus     *bus.MessageBus
	gron    *gronx.Gronx
	now     func() time.Time // swapped in tests
}

// New validates the configured reports and keeps the schedulable ones.
// Entries with a bad cron expression or missing delivery target are
// dropped with a warning rather than failing startup.
func New(reports []config.ReportConfig, proc Processor, msgBus *bus.MessageBus) *Runner {
	r := &Runner{
		reports: make([]config.ReportConfig, 0, len(reports)),
		proc:    proc,
		bus:     msgBus,
		gron:    gronx.New(),
		now:     time.Now,
	}
	for _, rep := range reports {
		if rep.Disabled {
			continue
		}
		if rep.Question == "" || rep.Channel == "" || rep.ChatID == "" {
			slog.Warn("report missing question, channel, or chat_id, skipping", "report", rep.Name)
			continue
		}
		if !r.gron.IsValid(rep.Cron) {
			slog.Warn("report has invalid cron expression, skipping", "report", rep.Name, "cron", rep.Cron)
			continue
		}
		r.reports = append(r.reports, rep)
	}
	return r
}

// Len returns the number of schedulable reports.
func (r *Runner) Len() int { return len(r.reports) }

// Start launches the scheduler loop. It stops when ctx is done.
func (r *Runner) Start(ctx context.Context) {
	if len(r.reports) == 0 {
		return
	}
	slog.Info("report scheduler started", "reports", len(r.reports))
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.tick(ctx)
			}
		}
	}()
}

// tick fires every report due at the current minute. Each report runs
// in its own goroutine under its own thread key, so a slow report
// never delays the next minute's check.
func (r *Runner) tick(ctx context.Context) {
	now := r.now()
	for _, rep := range r.reports {
		due, err := r.gron.IsDue(rep.Cron, now)
		if err != nil || !due {
			continue
		}
		go r.run(ctx, rep)
	}
}

func (r *Runner) run(ctx context.Context, rep config.ReportConfig) {
	slog.Info("scheduled report running", "report", rep.Name, "channel", rep.Channel)

	reply, err := r.proc.Process(ctx, orchestrator.Request{
		ThreadKey: "report:" + rep.Name,
		Channel:   rep.Channel,
		ChatID:    rep.ChatID,
		Message:   rep.Question,
	})
	if err != nil {
		slog.Error("scheduled report failed", "report", rep.Name, "error", err)
		return
	}

	out := bus.OutboundMessage{
		Channel: rep.Channel,
		ChatID:  rep.ChatID,
		Content: reply.Text,
	}
	if reply.FilePath != "" && !rep.NoCSV {
		out.Files = []string{reply.FilePath}
	}
	r.bus.PublishOutbound(out)

	slog.Info("scheduled report delivered",
		"report", rep.Name, "channel", rep.Channel,
		"message_id", reply.MessageID, "has_csv", reply.FilePath != "")
}
